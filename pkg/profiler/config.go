package profiler

import (
	"time"

	apperrors "github.com/causalprof/profilomatic/pkg/errors"
)

// Config carries the profiler's seven tunable keys, plus the
// elided-frame prefixes the frame filter needs.
// Mirrors the nesting style of pkg/config.Config: a small, validated,
// mapstructure-tagged struct with explicit defaults.
type Config struct {
	SourceName                string        `mapstructure:"source_name"`
	SimultaneousTasksProfiled int           `mapstructure:"simultaneous_tasks_profiled"`
	MaxOverhead               float64       `mapstructure:"max_overhead"`
	TimeGranularity           time.Duration `mapstructure:"time_granularity"`
	CodeGranularity           string        `mapstructure:"code_granularity"`
	StoreAllLogs              bool          `mapstructure:"store_all_logs"`
	MaxActionsPerRun          int           `mapstructure:"max_actions_per_run"` // 0 means unlimited
	ElidedPrefixes            []string      `mapstructure:"elided_prefixes"`
	SelfProfile               bool          `mapstructure:"self_profile"`
}

// DefaultConfig returns the profiler's documented default settings.
func DefaultConfig() Config {
	return Config{
		SourceName:                "",
		SimultaneousTasksProfiled: 10,
		MaxOverhead:               0.02,
		TimeGranularity:           100 * time.Millisecond,
		CodeGranularity:           string(GranularityLine),
		StoreAllLogs:              false,
		MaxActionsPerRun:          0,
		ElidedPrefixes:            DefaultElidedPrefixes,
	}
}

// Validate checks the configuration against the constraints each key
// is documented to require.
func (c Config) Validate() error {
	if c.SimultaneousTasksProfiled < 1 {
		return apperrors.New(apperrors.CodeConfigError, "simultaneous_tasks_profiled must be >= 1")
	}
	if c.MaxOverhead <= 0 || c.MaxOverhead > 1 {
		return apperrors.New(apperrors.CodeConfigError, "max_overhead must be in (0,1]")
	}
	if c.TimeGranularity < 0 {
		return apperrors.New(apperrors.CodeConfigError, "time_granularity must be >= 0")
	}
	switch Granularity(c.CodeGranularity) {
	case GranularityFile, GranularityMethod, GranularityLine:
	default:
		return apperrors.New(apperrors.CodeConfigError, "code_granularity must be file, method, or line")
	}
	if c.MaxActionsPerRun < 0 {
		return apperrors.New(apperrors.CodeConfigError, "max_actions_per_run must be >= 0")
	}
	return nil
}
