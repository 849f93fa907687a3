// Package oplock provides a keyed mutex so container-affecting operations
// against the same drone serialize while operations against different
// drones run concurrently.
package oplock

import (
	"context"
	"sync"
	"time"
)

// entry is a reference-counted mutex for one key. The count lets Keyed
// garbage-collect mutexes for keys nobody is waiting on, instead of
// growing forever as drones are created and removed.
type entry struct {
	mu       sync.Mutex
	refCount int
}

// Keyed is a map of key -> mutex, created lazily and deleted once the
// last waiter releases it. Waiters on one key are served in whatever order
// sync.Mutex grants the lock, which is not strict arrival order: a caller
// arriving just as the mutex is released can acquire it ahead of one that
// has been waiting.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry

	// onWait, if set, is called with the key and the time spent waiting
	// for the lock to become available (not including fn's own runtime).
	// It lets a caller observe wait times without this package importing
	// the metrics package.
	onWait func(key string, wait time.Duration)
}

// New creates a ready-to-use Keyed lock.
func New() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// OnWait registers a callback invoked after every successful acquisition
// with the key and the time spent queued behind other holders.
func (k *Keyed) OnWait(fn func(key string, wait time.Duration)) {
	k.mu.Lock()
	k.onWait = fn
	k.mu.Unlock()
}

// DroneKey builds the canonical lock key for a drone id.
func DroneKey(id string) string { return "drone:" + id }

// DroneNameKey builds the canonical lock key for a not-yet-assigned-an-id
// drone, keyed by its reserved display name.
func DroneNameKey(name string) string { return "drone-name:" + name }

// acquire returns the entry for key, incrementing its reference count.
// Callers must call release exactly once for every acquire.
func (k *Keyed) acquire(key string) *entry {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refCount++
	k.mu.Unlock()
	return e
}

// release decrements key's reference count, deleting the entry once no
// goroutine still references it.
func (k *Keyed) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(k.entries, key)
	}
}

// WithLock runs fn with exclusive access to key, waiting until no other
// caller holds the same key and releasing on return; concurrent waiters
// are not guaranteed to acquire in arrival order. The context is
// honored only up to the point of acquiring the lock: once fn is running,
// ctx cancellation does not forcibly abort it (fn must check ctx itself
// if it wants to be cancellable mid-flight), matching the teacher's
// run-to-completion worker idiom.
func (k *Keyed) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := k.acquire(key)
	defer k.release(key)

	start := time.Now()
	locked := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		// The goroutine above is still blocked trying to acquire e.mu. To
		// avoid leaking it or leaving the mutex held, we let it finish
		// acquiring and then immediately release on our behalf.
		go func() {
			<-locked
			e.mu.Unlock()
		}()
		return ctx.Err()
	}

	k.mu.Lock()
	cb := k.onWait
	k.mu.Unlock()
	if cb != nil {
		cb(key, time.Since(start))
	}

	defer e.mu.Unlock()
	return fn(ctx)
}
