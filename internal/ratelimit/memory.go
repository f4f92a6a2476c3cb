package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const shardCount = 32

// window is live through resetAt inclusive and starts over only after it.
type window struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*window
}

// MemoryLimiter keeps counters in process. Each key lives in one of a fixed
// set of shards so unrelated keys do not contend on one lock.
type MemoryLimiter struct {
	shards [shardCount]*shard
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*window)}
	}
	return l
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLimiter) Hit(_ context.Context, key string, max int, win time.Duration) (Decision, error) {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	w, ok := s.entries[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		s.entries[key] = w
	}
	w.count++
	count, resetAt := w.count, w.resetAt
	s.mu.Unlock()

	return decide(count, max, resetAt), nil
}

func (l *MemoryLimiter) Undo(_ context.Context, key string) error {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.entries[key]; ok && !now.After(w.resetAt) && w.count > 0 {
		w.count--
	}
	return nil
}

// IsAllowed counts a hit and returns only the verdict.
func (l *MemoryLimiter) IsAllowed(key string, max int, win time.Duration) bool {
	d, _ := l.Hit(context.Background(), key, max, win)
	return d.Allowed
}

// Remaining reports how many hits key has left without counting one.
func (l *MemoryLimiter) Remaining(key string, max int) int {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.entries[key]
	if !ok || now.After(w.resetAt) {
		return max
	}
	if r := max - w.count; r > 0 {
		return r
	}
	return 0
}

// ResetTime returns when key's window ends, or the zero time if it has none.
func (l *MemoryLimiter) ResetTime(key string) time.Time {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.entries[key]; ok && !now.After(w.resetAt) {
		return w.resetAt
	}
	return time.Time{}
}

// Sweep removes elapsed windows and returns how many were dropped.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, w := range s.entries {
			if now.After(w.resetAt) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (l *MemoryLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (l *MemoryLimiter) Start(interval time.Duration) {
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					log.Debug().Int("removed", n).Msg("rate limit windows swept")
				}
			}
		}
	}()
}

func (l *MemoryLimiter) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	<-l.doneCh
	l.stopCh = nil
}

var _ Limiter = (*MemoryLimiter)(nil)
