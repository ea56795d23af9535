package membership

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Table is the shared view of known endpoints and the instant each one was
// first observed. It is safe for concurrent use; callers never lock it.
//
// Adding an endpoint that is already present leaves its timestamp untouched,
// so a peer that stays known is never refreshed. Sweep is the only operation
// that interprets the timestamps.
type Table struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	entries  map[Endpoint]time.Time
	onChange func(Event)
}

// NewTable returns an empty table. A nil clock means the real clock; onChange
// may be nil and is invoked outside the table lock.
func NewTable(clock clockwork.Clock, onChange func(Event)) *Table {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Table{clock: clock, entries: make(map[Endpoint]time.Time), onChange: onChange}
}

// Add inserts e stamped with the current time if it is absent and reports
// whether it was inserted.
func (t *Table) Add(e Endpoint) bool {
	now := t.clock.Now()
	t.mu.Lock()
	if _, ok := t.entries[e]; ok {
		t.mu.Unlock()
		return false
	}
	t.entries[e] = now
	t.mu.Unlock()
	t.notify(EventJoin, e, now)
	return true
}

// AddAll applies Add to every endpoint and returns how many were new.
func (t *Table) AddAll(eps []Endpoint) int {
	n := 0
	for _, e := range eps {
		if t.Add(e) {
			n++
		}
	}
	return n
}

// Put records e with an explicit last-seen instant, keeping any existing entry.
// It is used to restore persisted views.
func (t *Table) Put(e Endpoint, seen time.Time) bool {
	t.mu.Lock()
	if _, ok := t.entries[e]; ok {
		t.mu.Unlock()
		return false
	}
	t.entries[e] = seen
	t.mu.Unlock()
	t.notify(EventJoin, e, t.clock.Now())
	return true
}

// Touch stamps e with the current time whether or not it is known. It reports
// whether e was new. Only the engine's own endpoint is recorded this way.
func (t *Table) Touch(e Endpoint) bool {
	now := t.clock.Now()
	t.mu.Lock()
	_, known := t.entries[e]
	t.entries[e] = now
	t.mu.Unlock()
	if !known {
		t.notify(EventJoin, e, now)
	}
	return !known
}

// Remove deletes e and reports whether it was present. The event type lets
// callers say why the endpoint went away.
func (t *Table) Remove(e Endpoint, why EventType) bool {
	t.mu.Lock()
	_, ok := t.entries[e]
	delete(t.entries, e)
	t.mu.Unlock()
	if ok {
		t.notify(why, e, t.clock.Now())
	}
	return ok
}

// RemoveAll deletes every listed endpoint and returns how many were present.
func (t *Table) RemoveAll(eps []Endpoint, why EventType) int {
	n := 0
	for _, e := range eps {
		if t.Remove(e, why) {
			n++
		}
	}
	return n
}

// Contains reports whether e is known.
func (t *Table) Contains(e Endpoint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[e]
	return ok
}

// LastSeen returns the recorded instant for e.
func (t *Table) LastSeen(e Endpoint) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.entries[e]
	return ts, ok
}

// Len returns the number of known endpoints.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Endpoints returns a copy of the key set in unspecified order.
func (t *Table) Endpoints() []Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Endpoint, 0, len(t.entries))
	for e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Snapshot returns a copy of the entries with their timestamps.
func (t *Table) Snapshot() map[Endpoint]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Endpoint]time.Time, len(t.entries))
	for e, ts := range t.entries {
		out[e] = ts
	}
	return out
}

// Sweep removes every entry whose age exceeds staleAfter, except the keep
// endpoints, and returns the removed endpoints.
func (t *Table) Sweep(staleAfter time.Duration, keep ...Endpoint) []Endpoint {
	now := t.clock.Now()
	var evicted []Endpoint
	t.mu.Lock()
	for e, ts := range t.entries {
		if now.Sub(ts) > staleAfter && !contains(keep, e) {
			delete(t.entries, e)
			evicted = append(evicted, e)
		}
	}
	t.mu.Unlock()
	for _, e := range evicted {
		t.notify(EventEvicted, e, now)
	}
	return evicted
}

// Clear drops every entry without emitting events.
func (t *Table) Clear() {
	t.mu.Lock()
	t.entries = make(map[Endpoint]time.Time)
	t.mu.Unlock()
}

func contains(eps []Endpoint, e Endpoint) bool {
	for _, x := range eps {
		if x == e {
			return true
		}
	}
	return false
}

func (t *Table) notify(typ EventType, e Endpoint, at time.Time) {
	if t.onChange != nil {
		t.onChange(Event{Type: typ, Endpoint: e, At: at})
	}
}
