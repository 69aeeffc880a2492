package phase

import (
	"testing"

	"portfolio-sentinel/internal/types"
)

func TestInitialState(t *testing.T) {
	tr := NewTracker()
	if tr.Phase() != types.PhaseIdle {
		t.Errorf("expected IDLE, got %s", tr.Phase())
	}
	if tr.Busy() {
		t.Error("expected not busy while IDLE")
	}
	if tr.Generation() != 0 {
		t.Errorf("expected generation 0, got %d", tr.Generation())
	}
}

func TestFullCycle(t *testing.T) {
	tr := NewTracker()

	gen := tr.Begin()
	if gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}
	if tr.Phase() != types.PhaseFetching || !tr.Busy() {
		t.Fatalf("expected busy FETCHING, got %s", tr.Phase())
	}

	if err := tr.Advance(gen, types.PhaseAnalyzing); err != nil {
		t.Fatalf("FETCHING -> ANALYZING: %v", err)
	}
	if err := tr.Advance(gen, types.PhaseRetrying); err != nil {
		t.Fatalf("ANALYZING -> RETRYING: %v", err)
	}
	if err := tr.Advance(gen, types.PhaseAnalyzing); err != nil {
		t.Fatalf("RETRYING -> ANALYZING: %v", err)
	}
	if err := tr.Advance(gen, types.PhaseIdle); err != nil {
		t.Fatalf("ANALYZING -> IDLE: %v", err)
	}
	if tr.Busy() {
		t.Error("expected idle after cycle")
	}
}

func TestIllegalTransitions(t *testing.T) {
	tr := NewTracker()
	gen := tr.Begin()

	if err := tr.Advance(gen, types.PhaseRetrying); err == nil {
		t.Error("FETCHING -> RETRYING should be rejected")
	}
	if err := tr.Advance(gen, types.PhaseFetching); err == nil {
		t.Error("FETCHING -> FETCHING via Advance should be rejected")
	}
}

func TestStaleGenerationRejected(t *testing.T) {
	tr := NewTracker()

	gen1 := tr.Begin()
	if err := tr.Advance(gen1, types.PhaseAnalyzing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A new fetch supersedes generation 1 while its analysis is in flight.
	gen2 := tr.Begin()
	if gen2 != gen1+1 {
		t.Fatalf("expected generation bump, got %d after %d", gen2, gen1)
	}

	if tr.StillCurrent(gen1) {
		t.Error("generation 1 must be stale after generation 2 begins")
	}
	if err := tr.Advance(gen1, types.PhaseIdle); err == nil {
		t.Error("stale generation transition must be rejected")
	}
	if tr.Phase() != types.PhaseFetching {
		t.Errorf("stale transition must not move the machine, got %s", tr.Phase())
	}
}

func TestTransitionObserver(t *testing.T) {
	tr := NewTracker()

	var seen []types.LoadingPhase
	tr.OnTransition(func(p types.LoadingPhase, gen uint64) {
		seen = append(seen, p)
	})

	gen := tr.Begin()
	tr.Advance(gen, types.PhaseAnalyzing)
	tr.Advance(gen, types.PhaseIdle)

	want := []types.LoadingPhase{types.PhaseFetching, types.PhaseAnalyzing, types.PhaseIdle}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}
