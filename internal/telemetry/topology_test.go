package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/fsutil"
)

const topologyJSON = `{
  "intersections": {
    "5926433422": {
      "incoming_lanes": ["north_in", "south_in", "east_in", "west_in"],
      "phase_count": 4
    },
    "sidestreet": {
      "incoming_lanes": ["alley_in"],
      "phase_count": 2
    }
  }
}`

func TestLoadTopology(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("net/topology.json", []byte(topologyJSON), 0644))

	topo, err := LoadTopology(fs, "net/topology.json")
	require.NoError(t, err)

	assert.Equal(t, []string{"5926433422", "sidestreet"}, topo.IntersectionIDs())
	assert.Equal(t, []string{"alley_in", "east_in", "north_in", "south_in", "west_in"}, topo.LaneIDs())
	assert.Equal(t, 4, topo.PhaseCount("5926433422"))
	assert.Equal(t, 0, topo.PhaseCount("missing"))

	id, ok := topo.IntersectionFor("alley_in")
	require.True(t, ok)
	assert.Equal(t, "sidestreet", id)

	_, ok = topo.IntersectionFor("ghost")
	assert.False(t, ok)
}

func TestLoadTopologyErrors(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadTopology(fs, "nope.json")
		assert.Error(t, err)
	})

	t.Run("wrong extension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadTopology(fs, "topology.yaml")
		assert.ErrorContains(t, err, ".json extension")
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, fs.WriteFile("bad.json", []byte("{"), 0644))
		_, err := LoadTopology(fs, "bad.json")
		assert.ErrorContains(t, err, "parse")
	})
}

func TestTopologyValidate(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		topo := &Topology{}
		assert.ErrorContains(t, topo.Validate(), "no intersections")
	})

	t.Run("phase count too small", func(t *testing.T) {
		t.Parallel()
		topo := &Topology{Intersections: map[string]IntersectionTopology{
			"j1": {IncomingLanes: []string{"a"}, PhaseCount: 1},
		}}
		assert.ErrorContains(t, topo.Validate(), "phase_count")
	})

	t.Run("no lanes", func(t *testing.T) {
		t.Parallel()
		topo := &Topology{Intersections: map[string]IntersectionTopology{
			"j1": {PhaseCount: 2},
		}}
		assert.ErrorContains(t, topo.Validate(), "no incoming lanes")
	})

	t.Run("duplicate lane across intersections", func(t *testing.T) {
		t.Parallel()
		topo := &Topology{Intersections: map[string]IntersectionTopology{
			"j1": {IncomingLanes: []string{"shared"}, PhaseCount: 2},
			"j2": {IncomingLanes: []string{"shared"}, PhaseCount: 2},
		}}
		assert.ErrorContains(t, topo.Validate(), "feeds both")
	})
}
