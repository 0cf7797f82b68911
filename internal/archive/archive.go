// Package archive persists run metadata and step records in sqlite so past
// runs can be compared offline. Schema changes go through golang-migrate
// with the migration files embedded in the binary.
package archive

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/runlog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewRunID returns a fresh run identifier, e.g. "run_20260829_143207_a3f1".
func NewRunID(started time.Time) string {
	return fmt.Sprintf("run_%s_%s", started.Format("20060102_150405"), uuid.NewString()[:4])
}

// RunMeta describes one control run.
type RunMeta struct {
	RunID        string
	SimAddress   string
	TopologyFile string
	MinGreenSec  float64
	MaxGreenSec  float64
}

// DB wraps the sqlite handle for the run archive.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the archive at path and brings the schema
// up to date.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	a := &DB{db}
	if err := a.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// migrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed.
func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m here: it would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// BeginRun records run metadata before the first step.
func (db *DB) BeginRun(meta RunMeta) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, sim_address, topology_file, min_green_sec, max_green_sec)
		VALUES (?, ?, ?, ?, ?)`,
		meta.RunID, meta.SimAddress, meta.TopologyFile, meta.MinGreenSec, meta.MaxGreenSec)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", meta.RunID, err)
	}
	return nil
}

// FinishRun stamps the run with its outcome.
func (db *DB) FinishRun(runID string, stepsCompleted int, stopReason string) error {
	_, err := db.Exec(`
		UPDATE runs
		SET finished_at = CURRENT_TIMESTAMP, steps_completed = ?, stop_reason = ?
		WHERE run_id = ?`,
		stepsCompleted, stopReason, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// RecordStep stores one per-intersection step record.
func (db *DB) RecordStep(runID string, r runlog.Record) error {
	_, err := db.Exec(`
		INSERT INTO step_records (run_id, step_time, intersection_id, queue_length,
			mean_wait, occupancy, congestion_label, phase_index, decision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.StepTime, r.IntersectionID, r.QueueLength,
		r.MeanWaitSec, r.Occupancy, r.Label.String(), r.PhaseIndex, r.Decision)
	if err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

// RunSummary is one row of ListRuns output.
type RunSummary struct {
	RunID          string
	StepsCompleted int
	StopReason     string
}

// ListRuns returns archived runs, most recent first.
func (db *DB) ListRuns() ([]RunSummary, error) {
	rows, err := db.Query(`
		SELECT run_id, steps_completed, COALESCE(stop_reason, '')
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.StepsCompleted, &s.StopReason); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// IntersectionWait is the archived mean wait for one intersection in a run.
type IntersectionWait struct {
	IntersectionID string
	MeanWaitSec    float64
	Records        int
}

// MeanWaits aggregates mean wait per intersection across a whole run.
func (db *DB) MeanWaits(runID string) ([]IntersectionWait, error) {
	rows, err := db.Query(`
		SELECT intersection_id, AVG(mean_wait), COUNT(*)
		FROM step_records WHERE run_id = ?
		GROUP BY intersection_id ORDER BY intersection_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query mean waits: %w", err)
	}
	defer rows.Close()

	var out []IntersectionWait
	for rows.Next() {
		var w IntersectionWait
		if err := rows.Scan(&w.IntersectionID, &w.MeanWaitSec, &w.Records); err != nil {
			return nil, fmt.Errorf("scan wait row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Writer adapts DB for the control loop: archive faults degrade to disabled
// with one warning instead of failing the run.
type Writer struct {
	db       *DB
	runID    string
	disabled bool
}

// NewWriter wraps db for per-step appends under runID. db may be nil, in
// which case every call is a no-op.
func NewWriter(db *DB, runID string) *Writer {
	return &Writer{db: db, runID: runID}
}

// Append stores the record, dropping it (and all later ones) after the
// first fault.
func (w *Writer) Append(r runlog.Record) {
	if w == nil || w.db == nil || w.disabled {
		return
	}
	if err := w.db.RecordStep(w.runID, r); err != nil {
		w.disabled = true
		monitoring.WarnOnce("archive:write-failure",
			"archive: write failed, archiving disabled for remainder of run: %v", err)
	}
}

// Disabled reports whether a fault has shut archiving down.
func (w *Writer) Disabled() bool {
	return w != nil && w.disabled
}
