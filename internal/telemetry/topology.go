// Package telemetry turns raw per-lane simulator samples into
// per-intersection congestion features.
package telemetry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/banshee-data/greenwave/internal/fsutil"
)

// IntersectionTopology describes one controlled intersection: which lanes
// feed it and how many phases its fixed signal program has.
type IntersectionTopology struct {
	IncomingLanes []string `json:"incoming_lanes"`
	PhaseCount    int      `json:"phase_count"`
}

// Topology is the static lane→intersection mapping the aggregator and
// controller share. Loaded once at startup; read-only afterwards.
type Topology struct {
	Intersections map[string]IntersectionTopology `json:"intersections"`

	// laneOwner maps lane id to its intersection, built at load time.
	laneOwner map[string]string
}

// LoadTopology reads and validates a topology JSON file.
func LoadTopology(fs fsutil.FileSystem, path string) (*Topology, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("topology file must have .json extension, got %q", ext)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	var topo Topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology JSON: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	topo.buildIndex()
	return &topo, nil
}

// Validate checks structural invariants of the topology.
func (t *Topology) Validate() error {
	if len(t.Intersections) == 0 {
		return fmt.Errorf("no intersections defined")
	}

	seen := make(map[string]string)
	for id, it := range t.Intersections {
		if it.PhaseCount < 2 {
			return fmt.Errorf("intersection %q: phase_count must be at least 2, got %d", id, it.PhaseCount)
		}
		if len(it.IncomingLanes) == 0 {
			return fmt.Errorf("intersection %q: no incoming lanes", id)
		}
		for _, lane := range it.IncomingLanes {
			if other, dup := seen[lane]; dup {
				return fmt.Errorf("lane %q feeds both %q and %q", lane, other, id)
			}
			seen[lane] = id
		}
	}
	return nil
}

func (t *Topology) buildIndex() {
	t.laneOwner = make(map[string]string)
	for id, it := range t.Intersections {
		for _, lane := range it.IncomingLanes {
			t.laneOwner[lane] = id
		}
	}
}

// IntersectionFor returns the intersection a lane feeds, if mapped.
func (t *Topology) IntersectionFor(lane string) (string, bool) {
	if t.laneOwner == nil {
		t.buildIndex()
	}
	id, ok := t.laneOwner[lane]
	return id, ok
}

// LaneIDs returns all mapped lane ids, sorted for deterministic reads.
func (t *Topology) LaneIDs() []string {
	if t.laneOwner == nil {
		t.buildIndex()
	}
	lanes := make([]string, 0, len(t.laneOwner))
	for lane := range t.laneOwner {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)
	return lanes
}

// IntersectionIDs returns all intersection ids, sorted.
func (t *Topology) IntersectionIDs() []string {
	ids := make([]string, 0, len(t.Intersections))
	for id := range t.Intersections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PhaseCount returns the number of phases in an intersection's program,
// or 0 for an unknown intersection.
func (t *Topology) PhaseCount(id string) int {
	return t.Intersections[id].PhaseCount
}
