// Package replay rejects provider notifications that were already processed
// recently. It is a best-effort optimization: state transitions stay idempotent
// without it.
package replay

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1000
)

// Store is a key-value store with per-key expiry.
type Store interface {
	// SetIfAbsent records key until ttl elapses and reports whether it was newly set.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Guard tracks notification identifiers seen within the TTL window.
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard creates a guard over store. A non-positive ttl selects DefaultTTL.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// CheckAndRecord returns true when id was already seen within the TTL window.
// Otherwise it records id and returns false.
func (g *Guard) CheckAndRecord(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if g == nil || g.store == nil || id == "" {
		return false, nil
	}
	created, err := g.store.SetIfAbsent(ctx, id, g.ttl)
	if err != nil {
		return false, err
	}
	return !created, nil
}

// Forget releases id so a provider redelivery is processed again.
func (g *Guard) Forget(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if g == nil || g.store == nil || id == "" {
		return nil
	}
	return g.store.Delete(ctx, id)
}

// TTL returns the configured replay window.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}
