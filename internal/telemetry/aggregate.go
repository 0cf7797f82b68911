package telemetry

import (
	"fmt"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/sim"
)

// IntersectionFeature is one intersection's aggregated congestion state for
// one simulation step. Ephemeral: built from the step's lane samples,
// consumed by classification, then discarded.
type IntersectionFeature struct {
	IntersectionID string

	// QueueLength is the summed halting-vehicle count on incoming lanes.
	QueueLength int

	// MeanWaitSec is the vehicle-count-weighted mean waiting time across
	// incoming lanes; 0.0 when no vehicles are present.
	MeanWaitSec float64

	// Occupancy is the mean per-lane occupancy ratio, in [0, 1].
	Occupancy float64
}

// NewIntersectionFeature validates feature invariants at construction:
// queue length non-negative, wait non-negative, occupancy within [0, 1].
func NewIntersectionFeature(id string, queueLength int, meanWaitSec, occupancy float64) (IntersectionFeature, error) {
	if queueLength < 0 {
		return IntersectionFeature{}, fmt.Errorf("intersection %q: queue length %d is negative", id, queueLength)
	}
	if meanWaitSec < 0 {
		return IntersectionFeature{}, fmt.Errorf("intersection %q: mean wait %.3f is negative", id, meanWaitSec)
	}
	if occupancy < 0 || occupancy > 1 {
		return IntersectionFeature{}, fmt.Errorf("intersection %q: occupancy %.3f outside [0,1]", id, occupancy)
	}
	return IntersectionFeature{
		IntersectionID: id,
		QueueLength:    queueLength,
		MeanWaitSec:    meanWaitSec,
		Occupancy:      occupancy,
	}, nil
}

// IsZero reports whether the feature carries no traffic at all.
func (f IntersectionFeature) IsZero() bool {
	return f.QueueLength == 0 && f.MeanWaitSec == 0 && f.Occupancy == 0
}

// Vector returns the feature as [queue, wait, occupancy] for model fitting.
func (f IntersectionFeature) Vector() []float64 {
	return []float64{float64(f.QueueLength), f.MeanWaitSec, f.Occupancy}
}

// Aggregate folds one step's lane samples into per-intersection features.
// Pure: same samples and topology always yield the same features, ordered
// by intersection id. Lanes without a topology mapping are warned about
// once and skipped; intersections whose lanes reported nothing come out as
// zero features rather than being dropped.
func Aggregate(samples map[string]sim.LaneSample, topo *Topology) []IntersectionFeature {
	type accum struct {
		queue        int
		waitWeighted float64
		vehicles     int
		occupancySum float64
		laneCount    int
	}
	byIntersection := make(map[string]*accum, len(topo.Intersections))
	for _, id := range topo.IntersectionIDs() {
		byIntersection[id] = &accum{}
	}

	for lane, sample := range samples {
		id, ok := topo.IntersectionFor(lane)
		if !ok {
			monitoring.WarnOnce("telemetry:unmapped-lane:"+lane,
				"telemetry: lane %q has no topology mapping; ignoring its samples", lane)
			continue
		}
		acc := byIntersection[id]
		acc.queue += sample.HaltingCount
		acc.waitWeighted += sample.MeanWaitSec * float64(sample.VehicleCount)
		acc.vehicles += sample.VehicleCount
		acc.occupancySum += clamp01(sample.Occupancy)
		acc.laneCount++
	}

	features := make([]IntersectionFeature, 0, len(byIntersection))
	for _, id := range topo.IntersectionIDs() {
		acc := byIntersection[id]

		meanWait := 0.0
		if acc.vehicles > 0 {
			meanWait = acc.waitWeighted / float64(acc.vehicles)
		}
		occupancy := 0.0
		if acc.laneCount > 0 {
			occupancy = acc.occupancySum / float64(acc.laneCount)
		}

		f, err := NewIntersectionFeature(id, acc.queue, meanWait, occupancy)
		if err != nil {
			// Inputs are clamped and counted, so construction can only
			// fail on a simulator reporting negative waits; degrade that
			// intersection to a zero feature rather than dropping it.
			monitoring.Logf("telemetry: %v; substituting zero feature", err)
			f = IntersectionFeature{IntersectionID: id}
		}
		features = append(features, f)
	}
	return features
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
