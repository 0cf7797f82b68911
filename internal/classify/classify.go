// Package classify maps per-intersection congestion features onto a fixed,
// finite label set. A model is fitted once before the run (thresholds from
// configuration, or k-means over a historical feature batch) and applied
// unchanged for the run's duration, so classification is deterministic.
package classify

import (
	"errors"
	"fmt"

	"github.com/banshee-data/greenwave/internal/telemetry"
)

// ErrFitFailure is returned when a classifier cannot be established from
// its inputs. Fatal at startup: the run cannot begin without a usable
// classifier.
var ErrFitFailure = errors.New("classify: model fit failure")

// Label is a discrete congestion level. Labels are ordered: 0 is always the
// lowest congestion in the model's fixed set.
type Label int

// Labels for the three-tier threshold model. K-means models may use a
// larger set; 0 stays the lowest and Labels()-1 the highest.
const (
	LabelLow    Label = 0
	LabelMedium Label = 1
	LabelHigh   Label = 2
)

// String renders a label for logs and CSV output.
func (l Label) String() string {
	switch l {
	case LabelLow:
		return "low"
	case LabelMedium:
		return "medium"
	case LabelHigh:
		return "high"
	default:
		return fmt.Sprintf("cluster_%d", int(l))
	}
}

// ParseLabel reverses String; used when reading run logs back for analysis.
func ParseLabel(s string) (Label, error) {
	switch s {
	case "low":
		return LabelLow, nil
	case "medium":
		return LabelMedium, nil
	case "high":
		return LabelHigh, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "cluster_%d", &n); err != nil {
		return 0, fmt.Errorf("unknown congestion label %q", s)
	}
	return Label(n), nil
}

// Classifier scores one intersection's feature vector. Implementations are
// stateless after fitting: identical input yields identical output.
type Classifier interface {
	// Classify assigns a label from the model's fixed set.
	Classify(f telemetry.IntersectionFeature) Label

	// Labels returns the size of the label set. The highest label is
	// Labels()-1.
	Labels() int
}

// Thresholds hold the cutoffs for the rule-based classifier. A feature is
// High when any dimension reaches its high cutoff, Medium when any reaches
// its medium cutoff, otherwise Low.
type Thresholds struct {
	MediumQueue     int     `json:"medium_queue"`
	HighQueue       int     `json:"high_queue"`
	MediumWaitSec   float64 `json:"medium_wait_sec"`
	HighWaitSec     float64 `json:"high_wait_sec"`
	MediumOccupancy float64 `json:"medium_occupancy"`
	HighOccupancy   float64 `json:"high_occupancy"`
}

// Validate checks ordering and ranges of the cutoffs.
func (t Thresholds) Validate() error {
	if t.MediumQueue <= 0 || t.HighQueue <= t.MediumQueue {
		return fmt.Errorf("queue thresholds must satisfy 0 < medium < high, got %d/%d", t.MediumQueue, t.HighQueue)
	}
	if t.MediumWaitSec <= 0 || t.HighWaitSec <= t.MediumWaitSec {
		return fmt.Errorf("wait thresholds must satisfy 0 < medium < high, got %.2f/%.2f", t.MediumWaitSec, t.HighWaitSec)
	}
	if t.MediumOccupancy <= 0 || t.MediumOccupancy > 1 || t.HighOccupancy <= t.MediumOccupancy || t.HighOccupancy > 1 {
		return fmt.Errorf("occupancy thresholds must satisfy 0 < medium < high <= 1, got %.2f/%.2f", t.MediumOccupancy, t.HighOccupancy)
	}
	return nil
}

// ThresholdClassifier is the rule-based model.
type ThresholdClassifier struct {
	thresholds Thresholds
}

// NewThresholdClassifier builds a rule-based classifier from validated
// cutoffs.
func NewThresholdClassifier(t Thresholds) (*ThresholdClassifier, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFitFailure, err)
	}
	return &ThresholdClassifier{thresholds: t}, nil
}

// Classify applies the cutoff rules. An all-zero feature is always Low:
// idle intersections must never pick up a spurious class.
func (c *ThresholdClassifier) Classify(f telemetry.IntersectionFeature) Label {
	if f.IsZero() {
		return LabelLow
	}

	t := c.thresholds
	if f.QueueLength >= t.HighQueue || f.MeanWaitSec >= t.HighWaitSec || f.Occupancy >= t.HighOccupancy {
		return LabelHigh
	}
	if f.QueueLength >= t.MediumQueue || f.MeanWaitSec >= t.MediumWaitSec || f.Occupancy >= t.MediumOccupancy {
		return LabelMedium
	}
	return LabelLow
}

// Labels returns the fixed three-tier set size.
func (c *ThresholdClassifier) Labels() int {
	return 3
}
