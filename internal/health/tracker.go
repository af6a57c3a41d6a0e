// Package health tracks per-target harvest outcomes so the scheduler can
// adapt selection weights and decide when to raise alerts.
package health

import (
	"sync"

	"github.com/permitstream/harvester/internal/permit"
)

// Tracker records success and failure streaks for every target it has seen.
// Entries are never removed; a target that disappears from configuration
// keeps its history for the lifetime of the process.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*permit.HealthState
	clock  permit.Clock
}

// New creates an empty Tracker using clock for success timestamps.
func New(clock permit.Clock) *Tracker {
	return &Tracker{
		states: make(map[string]*permit.HealthState),
		clock:  clock,
	}
}

// RecordSuccess resets the failure streak for target and stamps the
// success time.
func (t *Tracker) RecordSuccess(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.ensure(target)
	st.ConsecutiveFailures = 0
	now := t.clock.Now()
	st.LastSuccess = &now
}

// RecordFailure increments the failure streak for target and returns the
// new streak length.
func (t *Tracker) RecordFailure(target string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.ensure(target)
	st.ConsecutiveFailures++
	return st.ConsecutiveFailures
}

// RecordAlert bumps the alert counter for target.
func (t *Tracker) RecordAlert(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(target).Alerts++
}

// Failures returns the current failure streak for target, zero if the
// target has never been recorded.
func (t *Tracker) Failures(target string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.states[target]; ok {
		return st.ConsecutiveFailures
	}
	return 0
}

// Snapshot returns a copy of every tracked state keyed by target name.
func (t *Tracker) Snapshot() map[string]permit.HealthState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]permit.HealthState, len(t.states))
	for name, st := range t.states {
		copied := *st
		if st.LastSuccess != nil {
			ts := *st.LastSuccess
			copied.LastSuccess = &ts
		}
		out[name] = copied
	}
	return out
}

func (t *Tracker) ensure(target string) *permit.HealthState {
	st, ok := t.states[target]
	if !ok {
		st = &permit.HealthState{}
		t.states[target] = st
	}
	return st
}
