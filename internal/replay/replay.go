// Package replay implements the Anti-Replay Set (C2): a bounded
// time-indexed set of consumed jti values with automatic eviction on
// expiry. Store is the pluggable contract spec §4.2 calls for; InMemory is
// the default profile, RedisStore is the distributed alternative for
// multi-instance deployments.
package replay

import (
	"context"
	"sync"
	"time"
)

// Store is the Anti-Replay Set contract. expiresAtUnixMs is the jti's exp
// claim in epoch milliseconds. Each jti carries two states: registered (set
// by Sign, not yet seen by Verify) and consumed (seen once). This lets Sign
// register a jti without that registration itself counting as the first
// use — only IsConsumed's first call against a registered jti consumes it.
type Store interface {
	// Register returns registered=false if jti is already present and
	// unexpired — treat as a jti collision.
	Register(ctx context.Context, jti string, expiresAtUnixMs int64) (registered bool, err error)
	// IsConsumed reports whether jti has already been used. The first call
	// against a registered, unexpired, not-yet-consumed jti marks it
	// consumed and returns false. Every call after that — and any call
	// against a jti that was never registered or has expired — returns
	// true.
	IsConsumed(ctx context.Context, jti string) (bool, error)
	// CleanupExpired reclaims entries past their expiry and returns the count removed.
	CleanupExpired(ctx context.Context) (int, error)
}

type entry struct {
	expiresAt time.Time
	consumed  bool
}

// InMemory is the default, process-local Store: a concurrent map keyed by
// jti with per-entry expiry, matching spec §5's "concurrent map keyed by
// jti with per-entry expiry" shared-resource description.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewInMemory returns an empty InMemory anti-replay set.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]entry)}
}

func (s *InMemory) Register(_ context.Context, jti string, expiresAtUnixMs int64) (bool, error) {
	expiresAt := time.UnixMilli(expiresAtUnixMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[jti]; ok && time.Now().Before(existing.expiresAt) {
		return false, nil
	}

	s.entries[jti] = entry{expiresAt: expiresAt}
	return true, nil
}

func (s *InMemory) IsConsumed(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[jti]
	if !ok {
		return true, nil
	}
	if time.Now().After(existing.expiresAt) {
		delete(s.entries, jti)
		return true, nil
	}
	if existing.consumed {
		return true, nil
	}
	existing.consumed = true
	s.entries[jti] = existing
	return false, nil
}

func (s *InMemory) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for jti, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed, nil
}

// StartSweeper runs CleanupExpired on interval until ctx is canceled,
// matching spec §5's "coarse schedule ... cancellation cleanly stops it".
func StartSweeper(ctx context.Context, store Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = store.CleanupExpired(ctx)
			}
		}
	}()
}
