// Package config loads run configuration from JSON. Fields are pointers so
// a partial file overrides only what it names; the Get* methods supply
// defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/greenwave/internal/fsutil"
)

// DefaultConfigPath is the path to the canonical run defaults file.
// This is the single source of truth for all default control values.
const DefaultConfigPath = "config/greenwave.defaults.json"

// RunConfig is the root configuration for a control run. The schema is
// shared between the startup config file and the -config flag override
// path, so partial configs are safe everywhere.
type RunConfig struct {
	// Topology and simulator connection
	TopologyFile *string `json:"topology_file,omitempty"`
	SimAddress   *string `json:"sim_address,omitempty"`
	DialTimeout  *string `json:"dial_timeout,omitempty"` // duration string like "5s"

	// Signal timing params
	MinGreenSec           *float64 `json:"min_green_sec,omitempty"`
	MaxGreenSec           *float64 `json:"max_green_sec,omitempty"`
	ExtensionIncrementSec *float64 `json:"extension_increment_sec,omitempty"`
	HistoryWindow         *int     `json:"history_window,omitempty"`

	// Classifier params. When ClusterModelPath is set the fitted model is
	// used; otherwise CongestionThresholds drives a threshold classifier.
	ClusterModelPath     *string     `json:"cluster_model_path,omitempty"`
	ClusterCount         *int        `json:"cluster_count,omitempty"`
	CongestionThresholds *Thresholds `json:"congestion_thresholds,omitempty"`

	// Run params
	OutputDir *string `json:"output_dir,omitempty"`
	StepBudget *int    `json:"step_budget,omitempty"`
	StepDelay  *string `json:"step_delay,omitempty"` // duration string like "0s"
	LogBuffer  *int    `json:"log_buffer,omitempty"`

	// Archive params
	ArchivePath    *string `json:"archive_path,omitempty"`
	ArchiveEnabled *bool   `json:"archive_enabled,omitempty"`
}

// Thresholds mirrors classify.Thresholds in the config schema.
type Thresholds struct {
	MediumQueue     int     `json:"medium_queue"`
	HighQueue       int     `json:"high_queue"`
	MediumWaitSec   float64 `json:"medium_wait_sec"`
	HighWaitSec     float64 `json:"high_wait_sec"`
	MediumOccupancy float64 `json:"medium_occupancy"`
	HighOccupancy   float64 `json:"high_occupancy"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRunConfig returns a RunConfig with all fields set to nil.
// Use LoadRunConfig to load actual values from a file.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a JSON file on fs. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadRunConfig(fs fsutil.FileSystem, path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are consistent.
func (c *RunConfig) Validate() error {
	minGreen := c.GetMinGreenSec()
	maxGreen := c.GetMaxGreenSec()
	if minGreen <= 0 {
		return fmt.Errorf("min_green_sec must be positive, got %g", minGreen)
	}
	if maxGreen <= minGreen {
		return fmt.Errorf("max_green_sec (%g) must be greater than min_green_sec (%g)", maxGreen, minGreen)
	}
	if c.ExtensionIncrementSec != nil && *c.ExtensionIncrementSec <= 0 {
		return fmt.Errorf("extension_increment_sec must be positive, got %g", *c.ExtensionIncrementSec)
	}
	if c.HistoryWindow != nil && *c.HistoryWindow < 2 {
		return fmt.Errorf("history_window must be at least 2, got %d", *c.HistoryWindow)
	}
	if c.StepBudget != nil && *c.StepBudget < 0 {
		return fmt.Errorf("step_budget must be non-negative, got %d", *c.StepBudget)
	}
	if c.ClusterCount != nil && *c.ClusterCount < 2 {
		return fmt.Errorf("cluster_count must be at least 2, got %d", *c.ClusterCount)
	}
	if c.LogBuffer != nil && *c.LogBuffer < 1 {
		return fmt.Errorf("log_buffer must be positive, got %d", *c.LogBuffer)
	}
	if c.StepDelay != nil && *c.StepDelay != "" {
		if _, err := time.ParseDuration(*c.StepDelay); err != nil {
			return fmt.Errorf("invalid step_delay '%s': %w", *c.StepDelay, err)
		}
	}
	if c.DialTimeout != nil && *c.DialTimeout != "" {
		if _, err := time.ParseDuration(*c.DialTimeout); err != nil {
			return fmt.Errorf("invalid dial_timeout '%s': %w", *c.DialTimeout, err)
		}
	}
	if c.ClusterModelPath != nil && *c.ClusterModelPath != "" && c.CongestionThresholds != nil {
		return fmt.Errorf("cluster_model_path and congestion_thresholds are mutually exclusive")
	}
	if t := c.CongestionThresholds; t != nil {
		if t.HighQueue < t.MediumQueue || t.HighWaitSec < t.MediumWaitSec || t.HighOccupancy < t.MediumOccupancy {
			return fmt.Errorf("congestion_thresholds: high cutoffs must be >= medium cutoffs")
		}
		if t.MediumOccupancy <= 0 || t.HighOccupancy > 1 {
			return fmt.Errorf("congestion_thresholds: occupancy cutoffs must be in (0, 1], got %g/%g",
				t.MediumOccupancy, t.HighOccupancy)
		}
	}
	return nil
}

// GetTopologyFile returns the topology_file value or the default.
func (c *RunConfig) GetTopologyFile() string {
	if c.TopologyFile == nil || *c.TopologyFile == "" {
		return "config/topology.json"
	}
	return *c.TopologyFile
}

// GetSimAddress returns the sim_address value or the default.
func (c *RunConfig) GetSimAddress() string {
	if c.SimAddress == nil || *c.SimAddress == "" {
		return "127.0.0.1:8813"
	}
	return *c.SimAddress
}

// GetDialTimeout parses and returns the DialTimeout as a time.Duration.
func (c *RunConfig) GetDialTimeout() time.Duration {
	if c.DialTimeout == nil || *c.DialTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.DialTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetMinGreenSec returns the min_green_sec value or the default.
func (c *RunConfig) GetMinGreenSec() float64 {
	if c.MinGreenSec == nil {
		return 15
	}
	return *c.MinGreenSec
}

// GetMaxGreenSec returns the max_green_sec value or the default.
func (c *RunConfig) GetMaxGreenSec() float64 {
	if c.MaxGreenSec == nil {
		return 60
	}
	return *c.MaxGreenSec
}

// GetExtensionIncrementSec returns the extension_increment_sec value or the default.
func (c *RunConfig) GetExtensionIncrementSec() float64 {
	if c.ExtensionIncrementSec == nil {
		return 5
	}
	return *c.ExtensionIncrementSec
}

// GetHistoryWindow returns the history_window value or the default.
func (c *RunConfig) GetHistoryWindow() int {
	if c.HistoryWindow == nil {
		return 6
	}
	return *c.HistoryWindow
}

// GetClusterModelPath returns the cluster_model_path value or "" when unset.
func (c *RunConfig) GetClusterModelPath() string {
	if c.ClusterModelPath == nil {
		return ""
	}
	return *c.ClusterModelPath
}

// GetClusterCount returns the cluster_count value or the default.
func (c *RunConfig) GetClusterCount() int {
	if c.ClusterCount == nil {
		return 3
	}
	return *c.ClusterCount
}

// GetOutputDir returns the output_dir value or the default.
func (c *RunConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "runs"
	}
	return *c.OutputDir
}

// GetStepBudget returns the step_budget value or the default.
// Zero means run until the simulator reports end of simulation.
func (c *RunConfig) GetStepBudget() int {
	if c.StepBudget == nil {
		return 0
	}
	return *c.StepBudget
}

// GetStepDelay parses and returns the StepDelay as a time.Duration.
func (c *RunConfig) GetStepDelay() time.Duration {
	if c.StepDelay == nil || *c.StepDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.StepDelay)
	if err != nil {
		return 0
	}
	return d
}

// GetLogBuffer returns the log_buffer value or the default.
func (c *RunConfig) GetLogBuffer() int {
	if c.LogBuffer == nil {
		return 1024
	}
	return *c.LogBuffer
}

// GetArchivePath returns the archive_path value or the default.
func (c *RunConfig) GetArchivePath() string {
	if c.ArchivePath == nil || *c.ArchivePath == "" {
		return "runs/greenwave.db"
	}
	return *c.ArchivePath
}

// GetArchiveEnabled returns the archive_enabled value or the default.
func (c *RunConfig) GetArchiveEnabled() bool {
	if c.ArchiveEnabled == nil {
		return true
	}
	return *c.ArchiveEnabled
}
