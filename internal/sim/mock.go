package sim

import (
	"context"
	"fmt"
)

// ScriptedStep is one step of canned telemetry for the MockBridge.
type ScriptedStep struct {
	// Lanes holds the per-lane samples the simulator would report for
	// this step. Lanes absent from the map are unknown to the simulator.
	Lanes map[string]LaneSample

	// ActiveVehicles reported by Advance for this step.
	ActiveVehicles int
}

// MockBridge is an in-memory Bridge driven by a fixed script. It stands in
// for the live simulator in dev mode and tests: same script, same run,
// every time. It validates phase-program writes against a real phase table
// so bridge-level faults can be exercised without a simulator.
type MockBridge struct {
	// phaseCounts maps intersection id to the number of phases in its
	// fixed program.
	phaseCounts map[string]int

	script   []ScriptedStep
	stepIdx  int     // number of Advance calls so far
	stepSize float64 // seconds of simulated time per step

	// Applied records every successfully applied program update, in order.
	Applied []SignalProgramUpdate

	// FailAfterStep, when > 0, makes the link drop once that many steps
	// have completed. Simulates a simulator crash mid-run.
	FailAfterStep int

	closed bool
}

// NewMockBridge builds a scripted bridge. phaseCounts defines the signal
// programs the mock will validate writes against; stepSize is the simulated
// seconds each Advance represents.
func NewMockBridge(phaseCounts map[string]int, script []ScriptedStep, stepSize float64) *MockBridge {
	if stepSize <= 0 {
		stepSize = 1.0
	}
	counts := make(map[string]int, len(phaseCounts))
	for id, n := range phaseCounts {
		counts[id] = n
	}
	return &MockBridge{
		phaseCounts: counts,
		script:      script,
		stepSize:    stepSize,
	}
}

// Advance consumes the next scripted step.
func (m *MockBridge) Advance(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if m.closed {
		return StepResult{}, ErrConnectionLost
	}
	if m.FailAfterStep > 0 && m.stepIdx >= m.FailAfterStep {
		return StepResult{}, fmt.Errorf("scripted link failure after step %d: %w", m.FailAfterStep, ErrConnectionLost)
	}
	if m.stepIdx >= len(m.script) {
		return StepResult{
			Time:             float64(m.stepIdx) * m.stepSize,
			ExpectedVehicles: 0,
		}, ErrEndOfSimulation
	}

	step := m.script[m.stepIdx]
	m.stepIdx++
	return StepResult{
		Time:             float64(m.stepIdx) * m.stepSize,
		ActiveVehicles:   step.ActiveVehicles,
		ExpectedVehicles: len(m.script) - m.stepIdx + 1,
	}, nil
}

// ReadLaneState returns the current step's scripted samples for the
// requested lanes. Lanes outside the script are silently absent, matching
// the live simulator's behaviour for unknown lane ids.
func (m *MockBridge) ReadLaneState(ctx context.Context, laneIDs []string) (map[string]LaneSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.closed {
		return nil, ErrConnectionLost
	}
	if m.stepIdx == 0 || m.stepIdx > len(m.script) {
		return map[string]LaneSample{}, nil
	}

	current := m.script[m.stepIdx-1].Lanes
	out := make(map[string]LaneSample, len(laneIDs))
	for _, id := range laneIDs {
		if s, ok := current[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

// ApplyProgram validates and records a phase update.
func (m *MockBridge) ApplyProgram(ctx context.Context, update SignalProgramUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrConnectionLost
	}

	phases, ok := m.phaseCounts[update.IntersectionID]
	if !ok {
		return fmt.Errorf("apply %s: %w", update.IntersectionID, ErrIntersectionNotFound)
	}
	if update.PhaseIndex < 0 || update.PhaseIndex >= phases {
		return fmt.Errorf("apply %s phase %d of %d: %w", update.IntersectionID, update.PhaseIndex, phases, ErrInvalidPhase)
	}

	m.Applied = append(m.Applied, update)
	return nil
}

// Close marks the bridge closed; further calls fail with ErrConnectionLost.
func (m *MockBridge) Close() error {
	m.closed = true
	return nil
}
