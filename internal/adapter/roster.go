package adapter

import (
	"sync"

	"github.com/permitstream/harvester/internal/permit"
)

// Roster holds one target's ordered adapter list for the process lifetime.
// Discovery appends to it and the scheduler demotes adapters that failed in
// the current cycle, so access is synchronized.
type Roster struct {
	mu       sync.Mutex
	adapters []permit.Adapter
}

// NewRoster creates a roster with the configured adapter order.
func NewRoster(adapters ...permit.Adapter) *Roster {
	return &Roster{adapters: append([]permit.Adapter(nil), adapters...)}
}

// Ordered returns a snapshot of the current adapter order.
func (r *Roster) Ordered() []permit.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]permit.Adapter(nil), r.adapters...)
}

// Append adds discovered adapters to the back of the order, skipping names
// already present.
func (r *Roster) Append(adapters ...permit.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := make(map[string]struct{}, len(r.adapters))
	for _, a := range r.adapters {
		known[a.Name()] = struct{}{}
	}
	for _, a := range adapters {
		if _, dup := known[a.Name()]; dup {
			continue
		}
		known[a.Name()] = struct{}{}
		r.adapters = append(r.adapters, a)
	}
}

// Demote moves the named adapters to the back of the order, preserving the
// relative order of everything else.
func (r *Roster) Demote(names ...string) {
	if len(names) == 0 {
		return
	}
	demoted := make(map[string]struct{}, len(names))
	for _, n := range names {
		demoted[n] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := make([]permit.Adapter, 0, len(r.adapters))
	back := make([]permit.Adapter, 0, len(names))
	for _, a := range r.adapters {
		if _, ok := demoted[a.Name()]; ok {
			back = append(back, a)
			continue
		}
		keep = append(keep, a)
	}
	r.adapters = append(keep, back...)
}

// Len reports the current roster size.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}
