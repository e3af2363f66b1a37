// Package ratelimit implements per-tenant token bucket admission control.
//
// Bucket state is persisted through a BucketStore so grants survive restarts.
// Concurrent takes for the same key are serialized in-process so refill-then-
// debit is atomic per key; takes for different keys proceed independently.
//
// The serialization guarantee holds within a single running process only. Two
// instances sharing one backing store can still race on the same key; deploy a
// single limiter process (see the lockfile package) or move the read-modify-
// write into a conditional store update before scaling horizontally.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay-io/patchbay/internal/models"
)

// Key identifies one token bucket.
type Key struct {
	TenantID string
	Bucket   string
}

func (k Key) String() string {
	return k.TenantID + ":" + k.Bucket
}

// BucketStore persists token bucket state. A nil state from GetBucket means the
// bucket has never been used and defaults to full capacity.
type BucketStore interface {
	GetBucket(tenantID, bucket string) (*models.BucketState, error)
	PutBucket(tenantID, bucket string, state models.BucketState) error
}

// Limiter grants or denies requests against persisted token buckets.
type Limiter struct {
	store BucketStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is one per-key critical section. refs counts waiters so the entry
// can be garbage-collected once the chain drains.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLimiter creates a Limiter backed by the given store.
func NewLimiter(store BucketStore) *Limiter {
	return &Limiter{
		store: store,
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
}

// TakeToken refills the bucket for key from elapsed time at refillRatePerSec,
// capped at capacity, and grants the request iff at least one whole token is
// available, debiting exactly one. The refilled state is persisted whether or
// not the request is granted. Denial is a normal outcome, not an error; errors
// are reserved for store failures.
func (l *Limiter) TakeToken(key Key, refillRatePerSec, capacity float64) (bool, error) {
	unlock := l.lockKey(key.String())
	defer unlock()

	now := l.now()
	state, err := l.store.GetBucket(key.TenantID, key.Bucket)
	if err != nil {
		return false, err
	}
	if state == nil {
		// Lazily created buckets start full.
		state = &models.BucketState{Tokens: capacity, UpdatedAt: now}
	}

	elapsed := now.Sub(state.UpdatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	refilled := state.Tokens + elapsed*refillRatePerSec
	if refilled > capacity {
		refilled = capacity
	}

	if refilled < 1 {
		if err := l.store.PutBucket(key.TenantID, key.Bucket, models.BucketState{Tokens: refilled, UpdatedAt: now}); err != nil {
			return false, err
		}
		slog.Debug("Limiter.TakeToken: denied", "key", key.String(), "tokens", refilled)
		return false, nil
	}

	if err := l.store.PutBucket(key.TenantID, key.Bucket, models.BucketState{Tokens: refilled - 1, UpdatedAt: now}); err != nil {
		return false, err
	}
	return true, nil
}

// lockKey enters the critical section for key and returns the function that
// leaves it. Entries are removed from the map once no caller holds or waits on
// them, so the map stays proportional to concurrently active keys.
func (l *Limiter) lockKey(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
