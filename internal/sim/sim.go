// Package sim adapts the external traffic simulator's remote-control link.
// It exposes step advancement, per-lane telemetry reads, and signal-program
// writes; everything else about the simulator (network building, routing,
// GUI) is outside this process.
package sim

import (
	"context"
	"errors"
)

// Sentinel errors returned by Bridge implementations.
var (
	// ErrEndOfSimulation is returned by Advance when the simulator reports
	// that no further vehicles are expected. It is a clean termination,
	// not a fault.
	ErrEndOfSimulation = errors.New("sim: end of simulation")

	// ErrConnectionLost is returned when the simulator process or link
	// terminates unexpectedly. Fatal to the run: simulation state cannot
	// be replayed, so there is no retry.
	ErrConnectionLost = errors.New("sim: connection lost")

	// ErrIntersectionNotFound is returned by ApplyProgram for an unknown
	// intersection id.
	ErrIntersectionNotFound = errors.New("sim: intersection not found")

	// ErrInvalidPhase is returned by ApplyProgram when the requested phase
	// index is outside the intersection's defined program. The bridge
	// never silently clamps; callers detect and log the fault.
	ErrInvalidPhase = errors.New("sim: invalid phase index")
)

// StepResult describes the simulator state after one step.
type StepResult struct {
	// Time is the simulation clock in seconds. Monotonically increasing.
	Time float64

	// ActiveVehicles is the number of vehicles currently in the network.
	ActiveVehicles int

	// ExpectedVehicles is the number of vehicles still expected to enter
	// or finish. Zero means the simulation is complete.
	ExpectedVehicles int
}

// LaneSample is one lane's telemetry for one step. Ephemeral: produced by
// ReadLaneState, consumed by aggregation, then discarded.
type LaneSample struct {
	VehicleCount int     `json:"vehicle_count"`
	MeanSpeedMps float64 `json:"mean_speed_mps"`
	MeanWaitSec  float64 `json:"mean_wait_sec"`
	HaltingCount int     `json:"halting_count"`
	Occupancy    float64 `json:"occupancy"`
}

// SignalProgramUpdate is the outgoing command applied to a simulated signal:
// hold or switch to the target phase for the given duration. Consumed
// immediately by the simulator; not retained.
type SignalProgramUpdate struct {
	IntersectionID string
	PhaseIndex     int
	DurationSec    float64
}

// Bridge is the adapter over the simulator's control link. Implementations:
// Client (TCP line protocol) for a live simulator, Mock for tests and dev
// runs. All methods are synchronous; Advance blocks on the simulator's step
// computation.
type Bridge interface {
	// Advance runs one simulation step and reports the resulting state.
	// Returns ErrEndOfSimulation when the simulator has drained.
	Advance(ctx context.Context) (StepResult, error)

	// ReadLaneState fetches telemetry for the given lanes. Lanes unknown
	// to the simulator are absent from the result rather than an error.
	ReadLaneState(ctx context.Context, laneIDs []string) (map[string]LaneSample, error)

	// ApplyProgram writes a phase update to the simulator.
	ApplyProgram(ctx context.Context, update SignalProgramUpdate) error

	// Close releases the simulator link.
	Close() error
}
