// Package phase tracks the two-phase pipeline state the UI observes.
// A single enum-valued phase plus a monotonically increasing generation
// counter replaces scattered boolean loading flags; busy is always derived,
// never stored.
package phase

import (
	"fmt"
	"sync"

	"portfolio-sentinel/internal/types"
)

// TransitionFunc observes every applied phase change.
type TransitionFunc func(phase types.LoadingPhase, generation uint64)

// Tracker is the loading-phase state machine. Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	phase      types.LoadingPhase
	generation uint64
	onChange   TransitionFunc
}

// NewTracker starts in IDLE at generation zero.
func NewTracker() *Tracker {
	return &Tracker{phase: types.PhaseIdle}
}

// OnTransition registers the observer invoked after each transition. The
// callback runs outside the tracker lock.
func (t *Tracker) OnTransition(fn TransitionFunc) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Phase returns the current phase.
func (t *Tracker) Phase() types.LoadingPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Generation returns the current generation token.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Busy reports whether any pipeline stage is active.
func (t *Tracker) Busy() bool {
	return t.Phase() != types.PhaseIdle
}

// Begin starts a new top-level fetch: the phase moves to FETCHING from any
// state and the generation is bumped, superseding all outstanding work from
// prior generations.
func (t *Tracker) Begin() uint64 {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.phase = types.PhaseFetching
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(types.PhaseFetching, gen)
	}
	return gen
}

// Advance applies a non-Begin transition on behalf of generation gen. Stale
// generations are rejected, as are transitions the machine does not allow:
//
//	FETCHING  -> ANALYZING | IDLE
//	ANALYZING -> RETRYING  | IDLE
//	RETRYING  -> ANALYZING | IDLE
func (t *Tracker) Advance(gen uint64, next types.LoadingPhase) error {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return fmt.Errorf("stale generation %d (current %d)", gen, t.generation)
	}
	if !allowed(t.phase, next) {
		cur := t.phase
		t.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", cur, next)
	}
	t.phase = next
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(next, gen)
	}
	return nil
}

// StillCurrent reports whether gen is the live generation. In-flight work
// tagged with an older generation checks this before applying results.
func (t *Tracker) StillCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.generation
}

func allowed(from, to types.LoadingPhase) bool {
	switch from {
	case types.PhaseFetching:
		return to == types.PhaseAnalyzing || to == types.PhaseIdle
	case types.PhaseAnalyzing:
		return to == types.PhaseRetrying || to == types.PhaseIdle
	case types.PhaseRetrying:
		return to == types.PhaseAnalyzing || to == types.PhaseIdle
	default:
		return false
	}
}
