package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
)

// State is a per-session sync run state.
type State string

const (
	Idle      State = "IDLE"
	Syncing   State = "SYNCING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
)

// validTransitions defines allowed state transitions. Retrying from a
// terminal state is permitted and safe: writes are idempotent.
var validTransitions = map[State][]State{
	Idle:      {Syncing},
	Syncing:   {Completed, Failed},
	Completed: {Syncing},
	Failed:    {Syncing},
}

// Registry tracks and enforces sync state transitions per session.
type Registry struct {
	mu     sync.RWMutex
	states map[int64]State
	bus    *bus.Bus
}

// NewRegistry creates a registry; unknown sessions start in Idle.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		states: make(map[int64]State),
		bus:    b,
	}
}

// Current returns the session's current state.
func (r *Registry) Current(sessionID int64) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[sessionID]; ok {
		return s
	}
	return Idle
}

// Transition attempts to move a session to a new state. Returns an error
// if the transition is invalid.
func (r *Registry) Transition(sessionID int64, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, ok := r.states[sessionID]
	if !ok {
		from = Idle
	}
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid sync transition from %s to %s", from, to)
	}
	r.states[sessionID] = to

	if r.bus != nil {
		r.bus.Publish(bus.TopicSessionStatus, Change{
			SessionID: sessionID,
			From:      from,
			To:        to,
		})
	}
	return nil
}

// Change is the payload for sync state change events.
type Change struct {
	SessionID int64
	From      State
	To        State
}
