// Package presence tracks the advisory "is generating" flag per user.
// Nothing in the slot lifecycle reads it.
package presence

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tracker keeps the flag in memory. Entries older than maxAge are reported
// as idle, so a crash mid-generation heals without intervention.
type Tracker struct {
	mu     sync.RWMutex
	since  map[uuid.UUID]time.Time
	maxAge time.Duration
	now    func() time.Time
}

// New constructs a Tracker; maxAge <= 0 disables expiry.
func New(maxAge time.Duration) *Tracker {
	return &Tracker{since: make(map[uuid.UUID]time.Time), maxAge: maxAge, now: time.Now}
}

// Begin marks the user as generating and returns the func that clears it.
// Callers defer the returned func.
func (t *Tracker) Begin(userID uuid.UUID) func() {
	t.mu.Lock()
	t.since[userID] = t.now()
	t.mu.Unlock()
	return func() { t.End(userID) }
}

// End clears the flag.
func (t *Tracker) End(userID uuid.UUID) {
	t.mu.Lock()
	delete(t.since, userID)
	t.mu.Unlock()
}

// Active reports whether the user is currently generating.
func (t *Tracker) Active(userID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.since[userID]
	return ok && t.fresh(ts)
}

// Snapshot lists every user currently flagged, with the time the flag was set.
func (t *Tracker) Snapshot() map[uuid.UUID]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uuid.UUID]time.Time, len(t.since))
	for id, ts := range t.since {
		if t.fresh(ts) {
			out[id] = ts
		}
	}
	return out
}

func (t *Tracker) fresh(ts time.Time) bool {
	return t.maxAge <= 0 || t.now().Sub(ts) <= t.maxAge
}
