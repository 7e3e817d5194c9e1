package service

import (
	"sync"
	"time"
)

// inflightTTL bounds how long a message whose publish failed waits for a
// late copy from the bus.
const inflightTTL = time.Minute

// inflight tracks messages this worker is publishing so that a local fallback
// and a late bus echo of the same message reach local sessions only once.
type inflight struct {
	mu      sync.Mutex
	entries map[string]inflightEntry
	now     func() time.Time
}

type inflightEntry struct {
	delivered bool
	since     time.Time
}

func newInflight(now func() time.Time) *inflight {
	return &inflight{entries: make(map[string]inflightEntry), now: now}
}

// begin records id before it is published.
func (f *inflight) begin(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, e := range f.entries {
		if now.Sub(e.since) > inflightTTL {
			delete(f.entries, k)
		}
	}
	f.entries[id] = inflightEntry{since: now}
}

// published forgets id once the bus accepted it.
func (f *inflight) published(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

// claim reports whether the caller should deliver id locally. Unknown ids
// are always delivered; a tracked id is delivered by whichever path claims it
// first.
func (f *inflight) claim(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return true
	}
	if e.delivered {
		delete(f.entries, id)
		return false
	}
	e.delivered = true
	f.entries[id] = e
	return true
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
