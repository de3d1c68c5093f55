package causal

import (
	"time"

	"didlab/internal/config"
)

// Options controls indicator derivation, inference and the diagnostics.
// The zero value is not usable; start from DefaultOptions.
type Options struct {
	// ArmRule picks the treated label: first-seen (row order), lexicographic,
	// or explicit (TreatedArm).
	ArmRule    string
	TreatedArm string
	// Cutover replaces the median split when set. Parsed with the time
	// column's kind.
	Cutover string

	ConfidenceLevel float64
	UseT            bool

	BalanceThreshold float64
	BalanceScale     string
	TimeEncoding     string

	FitTimeout     time.Duration
	MaxDesignCells int

	EventStudy       bool
	ParallelBranches bool
}

// DefaultOptions mirrors config.Default
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Analysis)
}

// OptionsFromConfig maps the analysis section of the application config
func OptionsFromConfig(c config.AnalysisConfig) Options {
	rule := c.ArmRule
	if c.TreatedArm != "" {
		rule = config.ArmRuleExplicit
	}
	return Options{
		ArmRule:          rule,
		TreatedArm:       c.TreatedArm,
		Cutover:          c.Cutover,
		ConfidenceLevel:  c.ConfidenceLevel,
		UseT:             c.UseT,
		BalanceThreshold: c.BalanceThreshold,
		BalanceScale:     c.BalanceScale,
		TimeEncoding:     c.TimeEncoding,
		FitTimeout:       c.FitTimeout,
		MaxDesignCells:   c.MaxDesignCells,
		EventStudy:       c.EventStudy,
		ParallelBranches: c.ParallelBranches,
	}
}
