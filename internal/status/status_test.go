package status

import (
	"testing"
	"time"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
)

func TestDefaultStateIsIdle(t *testing.T) {
	r := NewRegistry(nil)
	if got := r.Current(1); got != Idle {
		t.Errorf("default state = %q, want IDLE", got)
	}
}

func TestValidRunLifecycle(t *testing.T) {
	r := NewRegistry(nil)

	steps := []State{Syncing, Completed, Syncing, Failed, Syncing}
	for _, to := range steps {
		if err := r.Transition(1, to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if got := r.Current(1); got != Syncing {
		t.Errorf("state = %q, want SYNCING", got)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Transition(1, Completed); err == nil {
		t.Error("IDLE→COMPLETED allowed")
	}
	if err := r.Transition(1, Syncing); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition(1, Syncing); err == nil {
		t.Error("SYNCING→SYNCING allowed")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Transition(1, Syncing); err != nil {
		t.Fatal(err)
	}
	if got := r.Current(2); got != Idle {
		t.Errorf("session 2 state = %q, want IDLE", got)
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	r := NewRegistry(b)
	ch, unsub := b.Subscribe("session.", 4)
	defer unsub()

	if err := r.Transition(7, Syncing); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok || change.SessionID != 7 || change.From != Idle || change.To != Syncing {
			t.Errorf("change = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no status change event")
	}
}
