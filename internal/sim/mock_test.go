package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStepScript() []ScriptedStep {
	return []ScriptedStep{
		{
			Lanes: map[string]LaneSample{
				"north_in": {VehicleCount: 3, MeanSpeedMps: 2.5, MeanWaitSec: 12, HaltingCount: 2, Occupancy: 0.4},
				"east_in":  {VehicleCount: 1, MeanSpeedMps: 11, MeanWaitSec: 0, HaltingCount: 0, Occupancy: 0.1},
			},
			ActiveVehicles: 4,
		},
		{
			Lanes: map[string]LaneSample{
				"north_in": {VehicleCount: 5, MeanSpeedMps: 0.5, MeanWaitSec: 30, HaltingCount: 5, Occupancy: 0.8},
			},
			ActiveVehicles: 5,
		},
	}
}

func TestMockBridgeAdvanceAndEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMockBridge(map[string]int{"j1": 2}, twoStepScript(), 1.0)

	r1, err := m.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r1.Time)
	assert.Equal(t, 4, r1.ActiveVehicles)

	r2, err := m.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, r2.Time)
	assert.Greater(t, r2.ExpectedVehicles, 0)

	_, err = m.Advance(ctx)
	assert.ErrorIs(t, err, ErrEndOfSimulation)
}

func TestMockBridgeReadLaneState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMockBridge(map[string]int{"j1": 2}, twoStepScript(), 1.0)

	// Before the first step there is nothing to read.
	samples, err := m.ReadLaneState(ctx, []string{"north_in"})
	require.NoError(t, err)
	assert.Empty(t, samples)

	_, err = m.Advance(ctx)
	require.NoError(t, err)

	samples, err = m.ReadLaneState(ctx, []string{"north_in", "east_in", "ghost_lane"})
	require.NoError(t, err)
	assert.Len(t, samples, 2)
	assert.Equal(t, 3, samples["north_in"].VehicleCount)
	// Unknown lanes are absent, not an error.
	_, ok := samples["ghost_lane"]
	assert.False(t, ok)
}

func TestMockBridgeApplyProgram(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMockBridge(map[string]int{"j1": 2}, twoStepScript(), 1.0)

	err := m.ApplyProgram(ctx, SignalProgramUpdate{IntersectionID: "j1", PhaseIndex: 1, DurationSec: 30})
	require.NoError(t, err)
	require.Len(t, m.Applied, 1)

	err = m.ApplyProgram(ctx, SignalProgramUpdate{IntersectionID: "j1", PhaseIndex: 2, DurationSec: 30})
	assert.ErrorIs(t, err, ErrInvalidPhase)

	err = m.ApplyProgram(ctx, SignalProgramUpdate{IntersectionID: "j1", PhaseIndex: -1, DurationSec: 30})
	assert.ErrorIs(t, err, ErrInvalidPhase)

	err = m.ApplyProgram(ctx, SignalProgramUpdate{IntersectionID: "nope", PhaseIndex: 0, DurationSec: 30})
	assert.ErrorIs(t, err, ErrIntersectionNotFound)

	// Rejected updates are not recorded.
	assert.Len(t, m.Applied, 1)
}

func TestMockBridgeScriptedLinkFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMockBridge(map[string]int{"j1": 2}, twoStepScript(), 1.0)
	m.FailAfterStep = 1

	_, err := m.Advance(ctx)
	require.NoError(t, err)

	_, err = m.Advance(ctx)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestMockBridgeClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMockBridge(map[string]int{"j1": 2}, twoStepScript(), 1.0)
	require.NoError(t, m.Close())

	_, err := m.Advance(ctx)
	assert.ErrorIs(t, err, ErrConnectionLost)
	_, err = m.ReadLaneState(ctx, nil)
	assert.ErrorIs(t, err, ErrConnectionLost)
	err = m.ApplyProgram(ctx, SignalProgramUpdate{IntersectionID: "j1"})
	assert.ErrorIs(t, err, ErrConnectionLost)
}
