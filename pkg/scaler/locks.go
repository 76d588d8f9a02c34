package scaler

import (
	"context"
	"sync"
)

// KeyedLocks hands out one exclusive lock per string key. Acquisition
// is bounded by the caller's context so a stuck holder cannot pile up
// waiters indefinitely.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyedLocks creates an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{
		locks: make(map[string]chan struct{}),
	}
}

// Acquire takes the lock for key, waiting until the context expires.
// On success it returns a release func the caller must invoke exactly
// once; on timeout or cancellation it returns ErrLockContended.
func (k *KeyedLocks) Acquire(ctx context.Context, key string) (func(), error) {
	ch := k.lockChan(key)

	select {
	case ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() { <-ch })
		}
		return release, nil
	case <-ctx.Done():
		return nil, ErrLockContended
	}
}

// lockChan returns the buffered channel backing the key's lock,
// creating it on first use. Channels are never removed; the key space
// (cluster/policy pairs) is small and bounded.
func (k *KeyedLocks) lockChan(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()

	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	return ch
}
