// Package slotlock provides the per-slot single-writer lock.
package slotlock

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
)

type entry struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

// Locker hands out one exclusive lock per slot id. Entries are dropped once
// nobody holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*entry
}

// New constructs an empty Locker.
func New() *Locker {
	return &Locker{slots: make(map[uuid.UUID]*entry)}
}

// Lock blocks until the slot's lock is acquired or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	e, ok := l.slots[id]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.slots[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(id, e, true) }) }, nil
}

func (l *Locker) release(id uuid.UUID, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.slots, id)
	}
	l.mu.Unlock()
}

// Len reports how many slot entries are live.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
