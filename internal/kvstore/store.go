// Package kvstore holds short-lived state such as registration sessions,
// login challenges and one-shot reservations.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kvstore: key not found")

// ErrConflict is returned when an optimistic update kept losing races.
var ErrConflict = errors.New("kvstore: concurrent update conflict")

// KeepTTL passed to Update leaves the key's remaining lifetime untouched.
const KeepTTL time.Duration = 0

type Store interface {
	// Get decodes the value at key into dest. Missing or expired keys return ErrNotFound.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes key and reports whether a live value was present.
	Delete(ctx context.Context, key string) (bool, error)
	// Update loads key into dest, calls fn, and writes dest back atomically.
	// An error from fn aborts the write and is returned unchanged. fn may run
	// more than once and must not block.
	Update(ctx context.Context, key string, dest any, fn func() error, ttl time.Duration) error
	// Reserve sets key only if absent. False means someone else holds it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
