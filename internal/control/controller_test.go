package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/classify"
)

func testConfig() Config {
	return Config{
		MinGreenSec:   10,
		MaxGreenSec:   60,
		ExtensionSec:  10,
		HistoryWindow: 4,
	}
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := New(testConfig(), map[string]int{"j1": 2}, 3)
	require.NoError(t, err)
	return c
}

// step plans and immediately commits, returning the decision.
func step(t *testing.T, c *Controller, id string, dt float64, label classify.Label) Plan {
	t.Helper()
	plan, err := c.Plan(id, dt, label)
	require.NoError(t, err)
	c.Commit(plan)
	return plan
}

func TestNeverChangesBeforeMinGreen(t *testing.T) {
	t.Parallel()

	c := newTestController(t)

	// Saturated congestion from the first second: still no update of any
	// kind until minGreen has elapsed.
	for i := 0; i < 9; i++ {
		plan := step(t, c, "j1", 1, classify.LabelHigh)
		assert.Equal(t, DecisionHold, plan.Decision, "step %d", i)
		assert.Nil(t, plan.Update, "step %d", i)
	}

	state, ok := c.State("j1")
	require.True(t, ok)
	assert.Equal(t, 0, state.PhaseIndex)
	assert.Equal(t, 9.0, state.ElapsedSec)
}

func TestMaxGreenCapForcesSwitch(t *testing.T) {
	t.Parallel()

	// 2-phase program, minGreen=10, maxGreen=60, increment=10, under
	// high congestion for 70 simulated seconds. Phase 0 must hold (with
	// extensions) until elapsed=60, then switch to phase 1 exactly there.
	c := newTestController(t)

	var switchedAt float64
	elapsed := 0.0
	for i := 0; i < 70; i++ {
		plan := step(t, c, "j1", 1, classify.LabelHigh)
		elapsed++
		if plan.Decision == DecisionAdvance {
			switchedAt = elapsed
			require.NotNil(t, plan.Update)
			assert.Equal(t, 1, plan.Update.PhaseIndex)
			break
		}
		state, _ := c.State("j1")
		assert.Equal(t, 0, state.PhaseIndex, "premature switch at %.0fs", elapsed)
	}

	assert.Equal(t, 60.0, switchedAt, "switch must land exactly at maxGreen")
	state, _ := c.State("j1")
	assert.Equal(t, 1, state.PhaseIndex)
	assert.Equal(t, 0.0, state.ElapsedSec)
}

func TestExtensionCappedAtMaxGreen(t *testing.T) {
	t.Parallel()

	c := newTestController(t)

	// Walk to 55s of high congestion; the next extension target must be
	// clamped to maxGreen rather than overshooting to 65.
	for i := 0; i < 55; i++ {
		step(t, c, "j1", 1, classify.LabelHigh)
	}
	plan, err := c.Plan("j1", 1, classify.LabelHigh)
	require.NoError(t, err)
	require.Equal(t, DecisionExtend, plan.Decision)
	require.NotNil(t, plan.Update)
	assert.Equal(t, 60.0, plan.Update.DurationSec)
}

func TestLowCongestionCyclesAtMinGreen(t *testing.T) {
	t.Parallel()

	c := newTestController(t)

	// Empty network: the controller cycles phases strictly at minGreen
	// boundaries.
	expectPhase := 0
	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < 9; i++ {
			plan := step(t, c, "j1", 1, classify.LabelLow)
			assert.Equal(t, DecisionHold, plan.Decision)
		}
		plan := step(t, c, "j1", 1, classify.LabelLow)
		require.Equal(t, DecisionAdvance, plan.Decision)
		expectPhase = (expectPhase + 1) % 2
		state, _ := c.State("j1")
		assert.Equal(t, expectPhase, state.PhaseIndex)
		assert.Equal(t, 0.0, state.ElapsedSec)
	}
}

func TestAntiOscillationDeniesExtensionOnDownwardTrend(t *testing.T) {
	t.Parallel()

	c := newTestController(t)

	// Build a draining label history inside the minGreen hold window so
	// the phase cannot advance while it forms: high…high, medium, low.
	for i := 0; i < 7; i++ {
		step(t, c, "j1", 1, classify.LabelHigh)
	}
	step(t, c, "j1", 1, classify.LabelMedium)
	step(t, c, "j1", 1, classify.LabelLow)

	// minGreen elapses exactly now. The probe window is
	// [high, medium, low, high]: two decreases against one increase, so
	// the lone high reading must not re-extend the draining phase.
	plan, err := c.Plan("j1", 1, classify.LabelHigh)
	require.NoError(t, err)
	assert.Equal(t, DecisionHold, plan.Decision)
	assert.Nil(t, plan.Update)
}

func TestExtensionAllowedOnSteadyHigh(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	for i := 0; i < 12; i++ {
		step(t, c, "j1", 1, classify.LabelHigh)
	}

	plan, err := c.Plan("j1", 1, classify.LabelHigh)
	require.NoError(t, err)
	assert.Equal(t, DecisionExtend, plan.Decision)
}

func TestUncommittedPlanLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	for i := 0; i < 10; i++ {
		step(t, c, "j1", 1, classify.LabelLow)
	}
	before, _ := c.State("j1")

	// Plan an advance but never commit it, as the loop does when the
	// bridge rejects the write with an invalid-phase fault.
	plan, err := c.Plan("j1", 1, classify.LabelLow)
	require.NoError(t, err)
	require.Equal(t, DecisionAdvance, plan.Decision)

	after, _ := c.State("j1")
	assert.Equal(t, before.PhaseIndex, after.PhaseIndex)
	assert.Equal(t, before.ElapsedSec, after.ElapsedSec)
	assert.Equal(t, before.History(), after.History())
}

func TestPlanUnknownIntersection(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	_, err := c.Plan("ghost", 1, classify.LabelLow)
	assert.Error(t, err)
}

func TestPlanNegativeStep(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	_, err := c.Plan("j1", -1, classify.LabelLow)
	assert.Error(t, err)
}

func TestHistoryWindowBounded(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	for i := 0; i < 25; i++ {
		step(t, c, "j1", 1, classify.LabelMedium)
	}
	state, _ := c.State("j1")
	assert.Len(t, state.History(), testConfig().HistoryWindow)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	bad := []Config{
		{MinGreenSec: 0, MaxGreenSec: 60, ExtensionSec: 10, HistoryWindow: 3},
		{MinGreenSec: 60, MaxGreenSec: 30, ExtensionSec: 10, HistoryWindow: 3},
		{MinGreenSec: 10, MaxGreenSec: 60, ExtensionSec: 0, HistoryWindow: 3},
		{MinGreenSec: 10, MaxGreenSec: 60, ExtensionSec: 10, HistoryWindow: 0},
	}
	for _, cfg := range bad {
		assert.Error(t, cfg.Validate(), "%+v", cfg)
	}
	assert.NoError(t, testConfig().Validate())
}

func TestNewControllerValidation(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), map[string]int{"j1": 1}, 3)
	assert.Error(t, err, "single-phase program rejected")

	_, err = New(testConfig(), map[string]int{"j1": 2}, 1)
	assert.Error(t, err, "degenerate label set rejected")
}
