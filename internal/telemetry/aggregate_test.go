package telemetry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/sim"
)

func testTopology(t *testing.T) *Topology {
	t.Helper()
	topo := &Topology{
		Intersections: map[string]IntersectionTopology{
			"j1": {IncomingLanes: []string{"north_in", "south_in"}, PhaseCount: 2},
			"j2": {IncomingLanes: []string{"west_in"}, PhaseCount: 4},
		},
	}
	require.NoError(t, topo.Validate())
	return topo
}

func TestAggregateWeightedMeanWait(t *testing.T) {
	t.Parallel()

	samples := map[string]sim.LaneSample{
		"north_in": {VehicleCount: 3, MeanWaitSec: 10, HaltingCount: 2, Occupancy: 0.5},
		"south_in": {VehicleCount: 1, MeanWaitSec: 50, HaltingCount: 1, Occupancy: 0.7},
		"west_in":  {VehicleCount: 2, MeanWaitSec: 5, HaltingCount: 0, Occupancy: 0.2},
	}

	features := Aggregate(samples, testTopology(t))
	require.Len(t, features, 2)

	want := []IntersectionFeature{
		// (3*10 + 1*50) / 4 = 20; occupancy (0.5+0.7)/2 = 0.6
		{IntersectionID: "j1", QueueLength: 3, MeanWaitSec: 20, Occupancy: 0.6},
		{IntersectionID: "j2", QueueLength: 0, MeanWaitSec: 5, Occupancy: 0.2},
	}
	if diff := cmp.Diff(want, features); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateZeroVehicles(t *testing.T) {
	t.Parallel()

	// Lanes report but carry no traffic: no division by zero, all-zero
	// features for every intersection.
	samples := map[string]sim.LaneSample{
		"north_in": {},
		"south_in": {},
		"west_in":  {},
	}

	features := Aggregate(samples, testTopology(t))
	require.Len(t, features, 2)
	for _, f := range features {
		assert.True(t, f.IsZero(), "expected zero feature for %s, got %+v", f.IntersectionID, f)
	}
}

func TestAggregateNoSamplesAtAll(t *testing.T) {
	t.Parallel()

	features := Aggregate(map[string]sim.LaneSample{}, testTopology(t))
	require.Len(t, features, 2)
	assert.Equal(t, "j1", features[0].IntersectionID)
	assert.Equal(t, "j2", features[1].IntersectionID)
	for _, f := range features {
		assert.True(t, f.IsZero())
	}
}

func TestAggregateUnmappedLaneWarnsOnce(t *testing.T) {
	monitoring.ResetWarnOnce()
	t.Cleanup(monitoring.ResetWarnOnce)

	original := monitoring.Logf
	t.Cleanup(func() { monitoring.SetLogger(original) })

	warnings := 0
	monitoring.SetLogger(func(format string, v ...interface{}) { warnings++ })

	samples := map[string]sim.LaneSample{
		"ghost_lane": {VehicleCount: 9, MeanWaitSec: 99, HaltingCount: 9, Occupancy: 0.9},
		"north_in":   {VehicleCount: 1, MeanWaitSec: 4, HaltingCount: 1, Occupancy: 0.1},
	}
	topo := testTopology(t)

	f1 := Aggregate(samples, topo)
	f2 := Aggregate(samples, topo)

	// The unmapped lane contributes nothing, and warns a single time
	// across repeated steps.
	assert.Equal(t, 1, warnings)
	assert.Equal(t, f1, f2)
	assert.Equal(t, 1, f1[0].QueueLength)
}

func TestAggregateClampsOccupancy(t *testing.T) {
	t.Parallel()

	samples := map[string]sim.LaneSample{
		"west_in": {VehicleCount: 1, MeanWaitSec: 1, Occupancy: 1.7},
	}
	features := Aggregate(samples, testTopology(t))
	for _, f := range features {
		assert.LessOrEqual(t, f.Occupancy, 1.0)
		assert.GreaterOrEqual(t, f.Occupancy, 0.0)
	}
}

func TestNewIntersectionFeatureInvariants(t *testing.T) {
	t.Parallel()

	_, err := NewIntersectionFeature("j1", -1, 0, 0)
	assert.Error(t, err)
	_, err = NewIntersectionFeature("j1", 0, -0.5, 0)
	assert.Error(t, err)
	_, err = NewIntersectionFeature("j1", 0, 0, 1.2)
	assert.Error(t, err)

	f, err := NewIntersectionFeature("j1", 4, 12.5, 0.8)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 12.5, 0.8}, f.Vector())
}
