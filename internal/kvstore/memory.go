package kvstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Memory is a process-local Store. Values are kept JSON-encoded so callers
// see the same copy semantics as with Redis.
type Memory struct {
	mu     sync.Mutex
	items  map[string]memoryEntry
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) lookup(key string) (memoryEntry, bool) {
	e, ok := m.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.live(m.now()) {
		delete(m.items, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	e, ok := m.lookup(key)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(e.value, dest)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.items[key] = memoryEntry{value: raw, expiresAt: m.expiry(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	delete(m.items, key)
	return ok, nil
}

func (m *Memory) Update(_ context.Context, key string, dest any, fn func() error, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(e.value, dest); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}

	raw, err := json.Marshal(dest)
	if err != nil {
		return err
	}
	expiresAt := e.expiresAt
	if ttl != KeepTTL {
		expiresAt = m.expiry(ttl)
	}
	m.items[key] = memoryEntry{value: raw, expiresAt: expiresAt}
	return nil
}

func (m *Memory) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.items[key] = memoryEntry{value: []byte("1"), expiresAt: m.expiry(ttl)}
	return true, nil
}

// Len counts entries including ones that expired but were not yet reaped.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Reap drops expired entries and returns how many were removed.
func (m *Memory) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.items {
		if !e.live(now) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

func (m *Memory) Start(interval time.Duration) {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if n := m.Reap(); n > 0 {
					log.Debug().Int("removed", n).Msg("kvstore reaped expired entries")
				}
			}
		}
	}()
}

func (m *Memory) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.stopCh = nil
}

var _ Store = (*Memory)(nil)
