package archive

import (
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/classify"
	"github.com/banshee-data/greenwave/internal/runlog"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewRunIDFormat(t *testing.T) {
	started := time.Date(2026, 8, 29, 14, 32, 7, 0, time.UTC)
	id := NewRunID(started)
	assert.Regexp(t, regexp.MustCompile(`^run_20260829_143207_[0-9a-f]{4}$`), id)
	assert.NotEqual(t, id, NewRunID(started)) // uuid suffix differs
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	meta := RunMeta{
		RunID:        "run_20260829_120000_abcd",
		SimAddress:   "127.0.0.1:8813",
		TopologyFile: "topology.json",
		MinGreenSec:  15,
		MaxGreenSec:  60,
	}
	require.NoError(t, db.BeginRun(meta))

	rec := runlog.Record{
		StepTime:       1.0,
		IntersectionID: "tl_a",
		QueueLength:    3,
		MeanWaitSec:    8.2,
		Occupancy:      0.3,
		Label:          classify.LabelMedium,
		PhaseIndex:     0,
		Decision:       "hold",
	}
	require.NoError(t, db.RecordStep(meta.RunID, rec))
	rec.StepTime = 2.0
	rec.MeanWaitSec = 11.8
	require.NoError(t, db.RecordStep(meta.RunID, rec))

	require.NoError(t, db.FinishRun(meta.RunID, 2, "end_of_simulation"))

	runs, err := db.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, meta.RunID, runs[0].RunID)
	assert.Equal(t, 2, runs[0].StepsCompleted)
	assert.Equal(t, "end_of_simulation", runs[0].StopReason)

	waits, err := db.MeanWaits(meta.RunID)
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, "tl_a", waits[0].IntersectionID)
	assert.InDelta(t, 10.0, waits[0].MeanWaitSec, 1e-9)
	assert.Equal(t, 2, waits[0].Records)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an already-migrated archive must not fail.
	db2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

func TestWriterDegradesOnFault(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.BeginRun(RunMeta{RunID: "run_x"}))

	w := NewWriter(db, "run_x")
	w.Append(runlog.Record{StepTime: 1, IntersectionID: "tl_a"})
	assert.False(t, w.Disabled())

	// Closing the DB underneath the writer forces the next append to fail.
	require.NoError(t, db.Close())
	w.Append(runlog.Record{StepTime: 2, IntersectionID: "tl_a"})
	assert.True(t, w.Disabled())

	// Further appends are silent no-ops.
	w.Append(runlog.Record{StepTime: 3, IntersectionID: "tl_a"})
}

func TestNilWriterIsNoOp(t *testing.T) {
	var w *Writer
	w.Append(runlog.Record{StepTime: 1})
	assert.False(t, w.Disabled())
}
