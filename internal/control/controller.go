// Package control holds the per-intersection phase state machine. It is the
// feedback core of the controller: congestion labels in, signal-program
// updates out, subject to minimum/maximum green times and anti-oscillation
// constraints.
package control

import (
	"fmt"

	"github.com/banshee-data/greenwave/internal/classify"
	"github.com/banshee-data/greenwave/internal/sim"
)

// Decision is how the controller resolved one intersection's step.
type Decision string

const (
	// DecisionHold keeps the current phase untouched: the minimum green
	// time has not yet elapsed, or an extension was denied.
	DecisionHold Decision = "hold"

	// DecisionExtend grants the current phase more green time.
	DecisionExtend Decision = "extend"

	// DecisionAdvance moves to the next phase in the cyclic sequence.
	DecisionAdvance Decision = "advance"
)

// Config are the timing constraints for every controlled intersection.
// Exact values are deployment configuration, not code.
type Config struct {
	MinGreenSec   float64 // hard floor before any phase change
	MaxGreenSec   float64 // hard cap regardless of congestion
	ExtensionSec  float64 // green time added per granted extension
	HistoryWindow int     // congestion labels considered for anti-oscillation
}

// Validate checks the timing relationships.
func (c Config) Validate() error {
	if c.MinGreenSec <= 0 {
		return fmt.Errorf("min green must be positive, got %.2f", c.MinGreenSec)
	}
	if c.MaxGreenSec <= c.MinGreenSec {
		return fmt.Errorf("max green %.2f must exceed min green %.2f", c.MaxGreenSec, c.MinGreenSec)
	}
	if c.ExtensionSec <= 0 {
		return fmt.Errorf("extension increment must be positive, got %.2f", c.ExtensionSec)
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("history window must be at least 1, got %d", c.HistoryWindow)
	}
	return nil
}

// PhaseState is one intersection's controller state: current phase, time
// spent in it, and the recent label history. Owned exclusively by the
// Controller; mutated once per step via Commit.
type PhaseState struct {
	PhaseIndex int
	ElapsedSec float64
	history    []classify.Label
}

// History returns a copy of the recent congestion labels, oldest first.
func (s PhaseState) History() []classify.Label {
	return append([]classify.Label(nil), s.history...)
}

// Plan is a proposed transition for one intersection for one step. Nothing
// is applied until Commit: if the bridge rejects the update, the prior
// PhaseState survives untouched.
type Plan struct {
	IntersectionID string
	Decision       Decision

	// Update is the program write to send, nil when the step needs none.
	Update *sim.SignalProgramUpdate

	next PhaseState
}

// Controller drives the phase state machine for all configured
// intersections.
type Controller struct {
	cfg         Config
	phaseCounts map[string]int
	highest     classify.Label
	states      map[string]*PhaseState
}

// New builds a controller. phaseCounts maps each controlled intersection to
// the length of its fixed cyclic phase program; labelCount is the size of
// the classifier's label set (the highest label is treated as congested).
// Initial state everywhere: phase 0, elapsed 0.
func New(cfg Config, phaseCounts map[string]int, labelCount int) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller config: %w", err)
	}
	if labelCount < 2 {
		return nil, fmt.Errorf("controller needs at least 2 congestion labels, got %d", labelCount)
	}

	states := make(map[string]*PhaseState, len(phaseCounts))
	counts := make(map[string]int, len(phaseCounts))
	for id, n := range phaseCounts {
		if n < 2 {
			return nil, fmt.Errorf("intersection %q: phase program needs at least 2 phases, got %d", id, n)
		}
		counts[id] = n
		states[id] = &PhaseState{}
	}

	return &Controller{
		cfg:         cfg,
		phaseCounts: counts,
		highest:     classify.Label(labelCount - 1),
		states:      states,
	}, nil
}

// State returns a copy of an intersection's current phase state.
func (c *Controller) State(id string) (PhaseState, bool) {
	s, ok := c.states[id]
	if !ok {
		return PhaseState{}, false
	}
	out := *s
	out.history = s.History()
	return out, true
}

// Plan evaluates the transition rule for one intersection and step without
// mutating any state. dtSec is the simulated time since the previous step.
func (c *Controller) Plan(id string, dtSec float64, label classify.Label) (Plan, error) {
	state, ok := c.states[id]
	if !ok {
		return Plan{}, fmt.Errorf("unknown intersection %q", id)
	}
	if dtSec < 0 {
		return Plan{}, fmt.Errorf("intersection %q: negative step time %.3f", id, dtSec)
	}

	elapsed := state.ElapsedSec + dtSec
	plan := Plan{IntersectionID: id}

	switch {
	case elapsed < c.cfg.MinGreenSec:
		// Hard floor: no change before minimum green, whatever the
		// congestion looks like. Prevents signal flicker.
		plan.Decision = DecisionHold
		plan.next = PhaseState{PhaseIndex: state.PhaseIndex, ElapsedSec: elapsed}

	case label == c.highest && elapsed < c.cfg.MaxGreenSec && c.extensionAllowed(state.history, label):
		target := elapsed + c.cfg.ExtensionSec
		if target > c.cfg.MaxGreenSec {
			target = c.cfg.MaxGreenSec
		}
		plan.Decision = DecisionExtend
		plan.Update = &sim.SignalProgramUpdate{
			IntersectionID: id,
			PhaseIndex:     state.PhaseIndex,
			DurationSec:    target,
		}
		plan.next = PhaseState{PhaseIndex: state.PhaseIndex, ElapsedSec: elapsed}

	case elapsed >= c.cfg.MaxGreenSec || label != c.highest:
		next := (state.PhaseIndex + 1) % c.phaseCounts[id]
		plan.Decision = DecisionAdvance
		plan.Update = &sim.SignalProgramUpdate{
			IntersectionID: id,
			PhaseIndex:     next,
			DurationSec:    c.cfg.MinGreenSec,
		}
		plan.next = PhaseState{PhaseIndex: next, ElapsedSec: 0}

	default:
		// High congestion, extension denied by the oscillation guard:
		// hold this step without granting more green time.
		plan.Decision = DecisionHold
		plan.next = PhaseState{PhaseIndex: state.PhaseIndex, ElapsedSec: elapsed}
	}

	// Label history travels with the plan so a rejected apply leaves no
	// trace of the step.
	plan.next.history = appendWindow(state.history, label, c.cfg.HistoryWindow)
	return plan, nil
}

// Commit installs a planned transition. Call only after the bridge accepted
// the plan's update (or the plan had none).
func (c *Controller) Commit(p Plan) {
	if state, ok := c.states[p.IntersectionID]; ok {
		*state = p.next
	}
}

// extensionAllowed applies the anti-oscillation rule: a phase extension is
// only granted when the recent label window is not trending downward, so a
// single noisy high reading cannot keep re-extending a draining phase.
func (c *Controller) extensionAllowed(history []classify.Label, current classify.Label) bool {
	window := appendWindow(history, current, c.cfg.HistoryWindow)
	if len(window) < 2 {
		return true
	}

	decreases, increases := 0, 0
	for i := 1; i < len(window); i++ {
		switch {
		case window[i] < window[i-1]:
			decreases++
		case window[i] > window[i-1]:
			increases++
		}
	}
	return decreases <= increases
}

func appendWindow(history []classify.Label, label classify.Label, n int) []classify.Label {
	window := append(append([]classify.Label(nil), history...), label)
	if len(window) > n {
		window = window[len(window)-n:]
	}
	return window
}
