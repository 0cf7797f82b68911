// Package pipeline runs the adaptive control loop: advance the simulator,
// sample lane telemetry, aggregate per intersection, classify congestion,
// and plan and apply phase updates. One Runtime drives one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/greenwave/internal/archive"
	"github.com/banshee-data/greenwave/internal/classify"
	"github.com/banshee-data/greenwave/internal/control"
	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/runlog"
	"github.com/banshee-data/greenwave/internal/sim"
	"github.com/banshee-data/greenwave/internal/telemetry"
	"github.com/banshee-data/greenwave/internal/timeutil"
	"github.com/banshee-data/greenwave/internal/units"
)

// progressInterval is how many steps pass between progress log lines.
const progressInterval = 60

// decisionRejected marks a run-log row whose planned update the simulator
// refused; the prior phase carries on unchanged.
const decisionRejected = "rejected"

// Stop reasons reported in Result and stamped on the archived run.
const (
	StopEndOfSimulation = "end_of_simulation"
	StopStepBudget      = "step_budget"
	StopCancelled       = "cancelled"
	StopConnectionLost  = "connection_lost"
)

// Runtime wires one run's collaborators. All fields except Log and Archive
// are required.
type Runtime struct {
	Bridge     sim.Bridge
	Topology   *telemetry.Topology
	Classifier classify.Classifier
	Controller *control.Controller
	Clock      timeutil.Clock

	// Log and Archive are optional sinks; either may be nil.
	Log     *runlog.Logger
	Archive *archive.Writer

	// StepBudget caps the number of steps; zero means run to simulator end.
	StepBudget int

	// StepDelay paces the loop for interactive watching. Zero runs flat out.
	StepDelay time.Duration
}

// Result summarises a finished run.
type Result struct {
	Steps      int
	FinalTime  float64
	StopReason string
}

func (r *Runtime) validate() error {
	switch {
	case r.Bridge == nil:
		return errors.New("pipeline: Bridge is required")
	case r.Topology == nil:
		return errors.New("pipeline: Topology is required")
	case r.Classifier == nil:
		return errors.New("pipeline: Classifier is required")
	case r.Controller == nil:
		return errors.New("pipeline: Controller is required")
	case r.Clock == nil:
		return errors.New("pipeline: Clock is required")
	}
	return nil
}

// Run executes the control loop until the simulator drains, the step budget
// is spent, or ctx is cancelled. The returned Result is valid even when err
// is non-nil: it reports how far the run got.
func (r *Runtime) Run(ctx context.Context) (Result, error) {
	if err := r.validate(); err != nil {
		return Result{}, err
	}

	lanes := r.Topology.LaneIDs()
	var res Result
	lastTime := 0.0

	for {
		if err := ctx.Err(); err != nil {
			res.StopReason = StopCancelled
			return res, err
		}
		if r.StepBudget > 0 && res.Steps >= r.StepBudget {
			res.StopReason = StopStepBudget
			return res, nil
		}

		step, err := r.Bridge.Advance(ctx)
		if errors.Is(err, sim.ErrEndOfSimulation) {
			res.StopReason = StopEndOfSimulation
			return res, nil
		}
		if err != nil {
			res.StopReason = StopConnectionLost
			return res, fmt.Errorf("advance step %d: %w", res.Steps+1, err)
		}

		dt := step.Time - lastTime
		lastTime = step.Time
		res.Steps++
		res.FinalTime = step.Time

		samples, err := r.Bridge.ReadLaneState(ctx, lanes)
		if err != nil {
			res.StopReason = StopConnectionLost
			return res, fmt.Errorf("read lane state at t=%.1f: %w", step.Time, err)
		}

		if res.Steps%progressInterval == 0 {
			monitoring.Logf("t=%.0fs active=%d mean speed %.1f km/h",
				step.Time, step.ActiveVehicles,
				units.ConvertSpeed(networkMeanSpeed(samples), units.KMPH))
		}

		features := telemetry.Aggregate(samples, r.Topology)
		for _, f := range features {
			if err := r.controlStep(ctx, step.Time, dt, f); err != nil {
				res.StopReason = StopConnectionLost
				return res, err
			}
		}

		if r.StepDelay > 0 {
			r.Clock.Sleep(r.StepDelay)
		}
	}
}

// controlStep classifies one intersection and plans, applies, and records
// its decision. Returns an error only for a lost simulator link; rejected
// updates are logged and skipped so one bad intersection cannot stop the
// run.
func (r *Runtime) controlStep(ctx context.Context, stepTime, dt float64, f telemetry.IntersectionFeature) error {
	label := r.Classifier.Classify(f)

	rec := runlog.Record{
		StepTime:       stepTime,
		IntersectionID: f.IntersectionID,
		QueueLength:    f.QueueLength,
		MeanWaitSec:    f.MeanWaitSec,
		Occupancy:      f.Occupancy,
		Label:          label,
	}

	plan, err := r.Controller.Plan(f.IntersectionID, dt, label)
	if err != nil {
		monitoring.WarnOnce("pipeline:plan:"+f.IntersectionID,
			"pipeline: planning failed for %s at t=%.1f, skipping: %v", f.IntersectionID, stepTime, err)
		rec.Decision = string(control.DecisionHold)
		r.record(rec)
		return nil
	}
	rec.Decision = string(plan.Decision)

	if plan.Update != nil {
		if err := r.Bridge.ApplyProgram(ctx, *plan.Update); err != nil {
			if errors.Is(err, sim.ErrIntersectionNotFound) || errors.Is(err, sim.ErrInvalidPhase) {
				// Rejected write: keep the prior phase state so the next
				// plan starts from what the simulator actually runs, but
				// still record the step so the fault window is visible in
				// the run log.
				monitoring.WarnOnce("pipeline:apply:"+f.IntersectionID+":"+rejectKind(err),
					"pipeline: simulator rejected update for %s at t=%.1f: %v", f.IntersectionID, stepTime, err)
				rec.Decision = decisionRejected
				r.record(rec)
				return nil
			}
			return fmt.Errorf("apply program for %s at t=%.1f: %w", f.IntersectionID, stepTime, err)
		}
	}
	r.Controller.Commit(plan)
	r.record(rec)
	return nil
}

// record stamps the committed phase index and fans the record out to the
// optional sinks.
func (r *Runtime) record(rec runlog.Record) {
	if state, ok := r.Controller.State(rec.IntersectionID); ok {
		rec.PhaseIndex = state.PhaseIndex
	}
	if r.Log != nil {
		r.Log.Append(rec)
	}
	r.Archive.Append(rec)
}

// rejectKind distinguishes the simulator's rejection reasons so each kind
// warns once per intersection.
func rejectKind(err error) string {
	if errors.Is(err, sim.ErrIntersectionNotFound) {
		return "not-found"
	}
	return "invalid-phase"
}

// networkMeanSpeed is the vehicle-weighted mean speed across all reporting
// lanes, in m/s. Zero when the network is empty.
func networkMeanSpeed(samples map[string]sim.LaneSample) float64 {
	var weighted float64
	var vehicles int
	for _, s := range samples {
		weighted += s.MeanSpeedMps * float64(s.VehicleCount)
		vehicles += s.VehicleCount
	}
	if vehicles == 0 {
		return 0
	}
	return weighted / float64(vehicles)
}
