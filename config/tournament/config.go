// Package tournament defines the runtime configuration record for the
// tournament engine. Every option is settable from the environment via
// its CLI flag binding, or from a strict YAML file in which unknown keys
// are rejected.
package tournament

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Schedule modes for the orchestrator.
const (
	ScheduleManual = "manual"
	ScheduleDaily  = "daily"
)

// Config holds the enumerated tournament options.
type Config struct {
	// Phase timing.
	SubmissionDurationSeconds int `yaml:"submission_duration_seconds"`
	EpochCount                int `yaml:"epoch_count"`
	EpochDurationSeconds      int `yaml:"epoch_duration_seconds"`

	// Per-epoch dataset selection. The last entry repeats when
	// EpochCount exceeds the list length.
	Networks []string `yaml:"networks"`

	// ScheduleMode is either "manual" (external trigger) or "daily"
	// (00:00 UTC start with a monotonically incremented epoch number).
	ScheduleMode string `yaml:"schedule_mode"`

	// Scoring.
	FeatureTimeCapSeconds   float64 `yaml:"feature_time_cap_seconds"`
	PatternTimeCapSeconds   float64 `yaml:"pattern_time_cap_seconds"`
	BaselineFeatureSeconds  float64 `yaml:"baseline_feature_seconds"`
	BaselinePatternSeconds  float64 `yaml:"baseline_pattern_seconds"`
	NoveltyCapRatio         float64 `yaml:"novelty_cap_ratio"`
	BaselineScore           float64 `yaml:"baseline_score"`

	// Sandbox limits.
	EvaluationTimeoutSeconds int     `yaml:"evaluation_timeout_seconds"`
	MemoryLimitBytes         int64   `yaml:"memory_limit_bytes"`
	CPUCores                 float64 `yaml:"cpu_cores"`
	ProcessLimit             int64   `yaml:"process_limit"`

	// On-disk layout.
	DatasetDir    string `yaml:"dataset_dir"`
	DatasetWindow string `yaml:"dataset_window"`
	OutputDir     string `yaml:"output_dir"`
	WorkDir       string `yaml:"work_dir"`
}

// DefaultConfig returns the defaults mirrored by the CLI flag values.
func DefaultConfig() *Config {
	return &Config{
		SubmissionDurationSeconds: 120,
		EpochCount:                3,
		EpochDurationSeconds:      180,
		Networks:                  []string{"torus"},
		ScheduleMode:              ScheduleManual,
		FeatureTimeCapSeconds:     300,
		PatternTimeCapSeconds:     600,
		BaselineFeatureSeconds:    30,
		BaselinePatternSeconds:    120,
		NoveltyCapRatio:           0.5,
		BaselineScore:             0.5,
		EvaluationTimeoutSeconds:  300,
		MemoryLimitBytes:          8 << 30,
		CPUCores:                  2,
		ProcessLimit:              256,
		DatasetDir:                "/data/datasets",
		DatasetWindow:             "24h",
		OutputDir:                 "/data/outputs",
		WorkDir:                   "/tmp/subnet2",
	}
}

// LoadFile overlays cfg with values from a strict YAML file. Unknown keys
// are rejected so that a typoed option cannot silently fall back to its
// default.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return errors.Wrapf(err, "could not read config file %s", path)
	}
	if err := yaml.UnmarshalStrict(raw, c); err != nil {
		return errors.Wrapf(err, "could not parse config file %s", path)
	}
	return nil
}

// Validate enforces the option constraints. A violation is fatal at
// startup: the engine refuses to start a tournament with invalid config.
func (c *Config) Validate() error {
	if c.SubmissionDurationSeconds < 1 {
		return errors.New("submission_duration_seconds must be >= 1")
	}
	if c.EpochCount < 1 {
		return errors.New("epoch_count must be >= 1")
	}
	if c.EpochDurationSeconds < 1 {
		return errors.New("epoch_duration_seconds must be >= 1")
	}
	if len(c.Networks) == 0 {
		return errors.New("networks must contain at least one entry")
	}
	for _, n := range c.Networks {
		if strings.TrimSpace(n) == "" {
			return errors.New("networks must not contain empty labels")
		}
	}
	if c.ScheduleMode != ScheduleManual && c.ScheduleMode != ScheduleDaily {
		return errors.Errorf("unknown schedule_mode %q", c.ScheduleMode)
	}
	if c.FeatureTimeCapSeconds <= 0 || c.PatternTimeCapSeconds <= 0 {
		return errors.New("time caps must be positive")
	}
	if c.BaselineFeatureSeconds <= 0 || c.BaselinePatternSeconds <= 0 {
		return errors.New("baseline times must be positive")
	}
	if c.NoveltyCapRatio < 0 || c.NoveltyCapRatio > 1 {
		return errors.New("novelty_cap_ratio must be in [0,1]")
	}
	if c.BaselineScore < 0 || c.BaselineScore > 1 {
		return errors.New("baseline_score must be in [0,1]")
	}
	if c.EvaluationTimeoutSeconds < 1 {
		return errors.New("evaluation_timeout_seconds must be >= 1")
	}
	if c.MemoryLimitBytes <= 0 {
		return errors.New("memory_limit_bytes must be positive")
	}
	if c.CPUCores <= 0 {
		return errors.New("cpu_cores must be positive")
	}
	if c.ProcessLimit <= 0 {
		return errors.New("process_limit must be positive")
	}
	if c.DatasetDir == "" || c.OutputDir == "" || c.WorkDir == "" {
		return errors.New("dataset_dir, output_dir and work_dir are required")
	}
	return nil
}

// SubmissionDuration returns the collecting phase length.
func (c *Config) SubmissionDuration() time.Duration {
	return time.Duration(c.SubmissionDurationSeconds) * time.Second
}

// EpochDuration returns the wall-clock budget of a single epoch.
func (c *Config) EpochDuration() time.Duration {
	return time.Duration(c.EpochDurationSeconds) * time.Second
}

// EvaluationTimeout returns the sandbox wall-clock timeout for one run.
func (c *Config) EvaluationTimeout() time.Duration {
	return time.Duration(c.EvaluationTimeoutSeconds) * time.Second
}

// NetworkForEpoch selects the dataset network label for an epoch. When
// the epoch index runs past the configured list, the last entry repeats.
func (c *Config) NetworkForEpoch(epoch int) string {
	if epoch < len(c.Networks) {
		return c.Networks[epoch]
	}
	return c.Networks[len(c.Networks)-1]
}
