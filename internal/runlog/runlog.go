// Package runlog appends one tabular record per intersection per step for
// post-hoc analysis. Logging is diagnostic, never load-bearing: a write
// fault degrades to "disabled for the rest of the run" with a single
// warning instead of touching the control loop.
package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/greenwave/internal/classify"
	"github.com/banshee-data/greenwave/internal/fsutil"
	"github.com/banshee-data/greenwave/internal/monitoring"
)

// Header is the CSV header row, written before any records.
var Header = []string{
	"stepTime",
	"intersectionId",
	"queueLength",
	"meanWait",
	"occupancy",
	"congestionLabel",
	"phaseIndex",
	"decision",
}

// Record is an immutable per-step, per-intersection snapshot.
type Record struct {
	StepTime       float64
	IntersectionID string
	QueueLength    int
	MeanWaitSec    float64
	Occupancy      float64
	Label          classify.Label
	PhaseIndex     int
	Decision       string
}

func (r Record) row() []string {
	return []string{
		strconv.FormatFloat(r.StepTime, 'f', 1, 64),
		r.IntersectionID,
		strconv.Itoa(r.QueueLength),
		strconv.FormatFloat(r.MeanWaitSec, 'f', 3, 64),
		strconv.FormatFloat(r.Occupancy, 'f', 3, 64),
		r.Label.String(),
		strconv.Itoa(r.PhaseIndex),
		r.Decision,
	}
}

// Logger buffers records on a bounded channel and drains them from a single
// writer goroutine, so the control loop never blocks on disk and records
// keep their step order.
type Logger struct {
	ch       chan Record
	done     chan struct{}
	disabled atomic.Bool
	dropped  atomic.Int64
	written  atomic.Int64

	closeOnce sync.Once
	sink      io.WriteCloser
}

// New creates a CSV logger writing to path on fs. buffer bounds the number
// of in-flight records.
func New(fs fsutil.FileSystem, path string, buffer int) (*Logger, error) {
	w, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create run log %s: %w", path, err)
	}
	return NewWithWriter(w, buffer), nil
}

// NewWithWriter creates a logger over an arbitrary sink. Used directly by
// tests to inject failing writers.
func NewWithWriter(w io.WriteCloser, buffer int) *Logger {
	if buffer < 1 {
		buffer = 256
	}
	l := &Logger{
		ch:   make(chan Record, buffer),
		done: make(chan struct{}),
		sink: w,
	}
	go l.drain()
	return l
}

// Append queues one record. Silently drops when logging is disabled or the
// buffer is full; the loop must never stall behind the log.
func (l *Logger) Append(r Record) {
	if l.disabled.Load() {
		return
	}
	select {
	case l.ch <- r:
	default:
		l.dropped.Add(1)
		monitoring.WarnOnce("runlog:overflow",
			"runlog: buffer full, dropping records (will report totals at close)")
	}
}

// Written reports how many records reached the sink.
func (l *Logger) Written() int64 {
	return l.written.Load()
}

// Dropped reports how many records were discarded on buffer overflow.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Disabled reports whether a write fault has shut the log down.
func (l *Logger) Disabled() bool {
	return l.disabled.Load()
}

// Close flushes queued records and closes the sink. Safe to call more than
// once.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.ch)
		<-l.done
		err = l.sink.Close()
		if n := l.dropped.Load(); n > 0 {
			monitoring.Logf("runlog: dropped %d records on buffer overflow", n)
		}
	})
	return err
}

// drain is the single writer goroutine. It owns the csv.Writer; nothing
// else touches the sink until Close.
func (l *Logger) drain() {
	defer close(l.done)

	w := csv.NewWriter(l.sink)
	fail := func(err error) {
		l.disabled.Store(true)
		monitoring.WarnOnce("runlog:write-failure",
			"runlog: write failed, logging disabled for remainder of run: %v", err)
	}

	if err := w.Write(Header); err != nil {
		fail(err)
	}
	w.Flush()
	if err := w.Error(); err != nil && !l.disabled.Load() {
		fail(err)
	}

	for r := range l.ch {
		if l.disabled.Load() {
			continue // keep draining so Append never blocks
		}
		if err := w.Write(r.row()); err != nil {
			fail(err)
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil {
			fail(err)
			continue
		}
		l.written.Add(1)
	}
}
