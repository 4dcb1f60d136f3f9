package orchestrator

import (
	"testing"
	"time"
)

func TestRegistry_CreateAssignsUniqueIDs(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)
	a := r.Create(now)
	b := r.Create(now)
	if a.ID == b.ID {
		t.Errorf("expected distinct session IDs, both got %q", a.ID)
	}
	if a.State() != StatePending {
		t.Errorf("expected a new session to start pending, got %v", a.State())
	}
}

func TestRegistry_GetAndList(t *testing.T) {
	r := NewRegistry()
	s := r.Create(time.Unix(1000, 0))
	got, ok := r.Get(s.ID)
	if !ok || got != s {
		t.Error("expected Get to find the session just created")
	}
	if _, ok := r.Get("no-such-id"); ok {
		t.Error("expected Get to report false for an unknown ID")
	}
	ids := r.List()
	if len(ids) != 1 || ids[0] != s.ID {
		t.Errorf("expected List to contain exactly %q, got %v", s.ID, ids)
	}
}

func TestRegistry_CancelUnknownSessionReturnsFalse(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("no-such-id") {
		t.Error("expected Cancel to return false for an unknown session")
	}
}

func TestSession_CancelIsObservedCooperatively(t *testing.T) {
	r := NewRegistry()
	s := r.Create(time.Unix(1000, 0))
	if s.cancelled() {
		t.Error("expected a fresh session to not be cancelled")
	}
	if !r.Cancel(s.ID) {
		t.Fatal("expected Cancel to find the registered session")
	}
	if !s.cancelled() {
		t.Error("expected the session to observe cancellation after Registry.Cancel")
	}
}

func TestSession_TransitionIsOneWayOnceTerminal(t *testing.T) {
	s := newSession("run_test", time.Unix(1000, 0))
	s.transition(StateRunning)
	s.transition(StateConverged)
	if s.State() != StateConverged {
		t.Fatalf("expected state converged, got %v", s.State())
	}
	s.transition(StateFailed) // must be a no-op: converged is terminal
	if s.State() != StateConverged {
		t.Errorf("expected state to remain converged after a terminal session, got %v", s.State())
	}
}

func TestSession_HistoryIsACopy(t *testing.T) {
	s := newSession("run_test", time.Unix(1000, 0))
	s.appendIteration(IterationMetrics{Iteration: 0})
	hist := s.History()
	hist[0].Iteration = 99
	if s.History()[0].Iteration != 0 {
		t.Error("expected History() to return an independent copy")
	}
}

func TestSession_FailureRecordsSetError(t *testing.T) {
	s := newSession("run_test", time.Unix(1000, 0))
	if s.Failure() != nil {
		t.Error("expected a fresh session to have no failure")
	}
	err := errTest
	s.setFailure(err)
	if s.Failure() != err {
		t.Errorf("expected recorded failure %v, got %v", err, s.Failure())
	}
}

var errTest = &sentinel{"boom"}

type sentinel struct{ msg string }

func (s *sentinel) Error() string { return s.msg }
