// Package did holds the result records produced by the estimation engine and
// consumed by report, chart and archive collaborators. Records are plain values:
// produced once per run and never mutated afterwards.
package did

import (
	"didlab/domain/core"
	"didlab/domain/panel"
)

// Term names shared between the engine and its consumers.
const (
	TermIntercept   = "Intercept"
	TermTreated     = "treated"
	TermPost        = "post"
	TermTreatedPost = "treated:post"
)

// Branch identifies one of the independent analysis branches.
type Branch string

const (
	BranchStatic         Branch = "did"
	BranchEventStudy     Branch = "event_study"
	BranchParallelTrends Branch = "parallel_trends"
)

// Coefficient is the inference for one regression term
type Coefficient struct {
	Term     string  `json:"term"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	PValue   float64 `json:"p_value"`
	CILower  float64 `json:"ci_lower"`
	CIUpper  float64 `json:"ci_upper"`
	NObs     int     `json:"n_obs"`
}

// RegressionResult is the output of one cluster-robust fit
type RegressionResult struct {
	Formula         string        `json:"formula"`
	Coefficients    []Coefficient `json:"coefficients"`
	NObs            int           `json:"n_obs"`
	NClusters       int           `json:"n_clusters"`
	ClusterVar      string        `json:"cluster_var"`
	ConfidenceLevel float64       `json:"confidence_level"`
	Distribution    string        `json:"distribution"` // "normal" or "t"
}

// Coefficient looks up a term by name
func (r RegressionResult) Coefficient(term string) (Coefficient, bool) {
	for _, c := range r.Coefficients {
		if c.Term == term {
			return c, true
		}
	}
	return Coefficient{}, false
}

// GroupMeans are the four treated x post cell means of the outcome
type GroupMeans struct {
	TreatedPre  float64 `json:"treated_pre"`
	TreatedPost float64 `json:"treated_post"`
	ControlPre  float64 `json:"control_pre"`
	ControlPost float64 `json:"control_post"`

	NTreatedPre  int `json:"n_treated_pre"`
	NTreatedPost int `json:"n_treated_post"`
	NControlPre  int `json:"n_control_pre"`
	NControlPost int `json:"n_control_post"`
}

// Difference returns (treated_post - treated_pre) - (control_post - control_pre)
func (m GroupMeans) Difference() float64 {
	return (m.TreatedPost - m.TreatedPre) - (m.ControlPost - m.ControlPre)
}

// DIDResult is the static two-period estimate with its descriptive context
type DIDResult struct {
	Estimate          Coefficient      `json:"estimate"`
	Regression        RegressionResult `json:"regression"`
	Means             GroupMeans       `json:"means"`
	PostThreshold     panel.Value      `json:"post_threshold"`
	TreatedArm        string           `json:"treated_arm"`
	ControlArm        string           `json:"control_arm"`
	Covariates        []string         `json:"covariates,omitempty"`
	DroppedCovariates []string         `json:"dropped_covariates,omitempty"`
}

// EventStudyPoint is the interaction coefficient for one relative period
type EventStudyPoint struct {
	RelativeTime int         `json:"relative_time"`
	Time         panel.Value `json:"time"`
	Coefficient  float64     `json:"coefficient"`
	StdErr       float64     `json:"std_err"`
	CILower      float64     `json:"ci_lower"`
	CIUpper      float64     `json:"ci_upper"`
	PValue       float64     `json:"p_value"`
}

// EventStudyResult holds one point per non-reference period, ascending by
// RelativeTime. The reference period never appears.
type EventStudyResult struct {
	Points        []EventStudyPoint `json:"points"`
	ReferenceTime panel.Value       `json:"reference_time"`
	Regression    RegressionResult  `json:"regression"`
}

// ParallelTrendsResult compares pre-period linear trends of the two arms
type ParallelTrendsResult struct {
	TreatedSlope      float64       `json:"treated_slope"`
	ControlSlope      float64       `json:"control_slope"`
	TreatedPreMean    float64       `json:"treated_pre_mean"`
	ControlPreMean    float64       `json:"control_pre_mean"`
	TrendDifference   float64       `json:"trend_difference"`
	PreMeanDifference float64       `json:"pre_mean_difference"`
	Threshold         float64       `json:"threshold"`
	ThresholdScale    string        `json:"threshold_scale"`
	TimeEncoding      string        `json:"time_encoding"`
	IsBalanced        bool          `json:"is_balanced"`
	PreTimes          []panel.Value `json:"pre_times"`
	PostTimes         []panel.Value `json:"post_times"`
}

// OutcomeSummary describes the outcome over the prepared observations
type OutcomeSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// BranchFailure records why a branch produced no result
type BranchFailure struct {
	Branch  Branch `json:"branch"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Columns names the input columns of a run
type Columns struct {
	Treatment  string   `json:"treatment"`
	Outcome    string   `json:"outcome"`
	Time       string   `json:"time"`
	Group      string   `json:"group"`
	Covariates []string `json:"covariates,omitempty"`
}

// Report is the complete output of one analysis run. A nil branch slot means
// the branch did not produce a result; Failures or Notes say why.
type Report struct {
	RunID          core.RunID            `json:"run_id"`
	Fingerprint    core.Hash             `json:"fingerprint"`
	GeneratedAt    core.Timestamp        `json:"generated_at"`
	Columns        Columns               `json:"columns"`
	NObservations  int                   `json:"n_observations"`
	NDropped       int                   `json:"n_dropped"`
	UniqueTimes    int                   `json:"unique_times"`
	TimeRange      [2]panel.Value        `json:"time_range"`
	TreatedArm     string                `json:"treated_arm"`
	ControlArm     string                `json:"control_arm"`
	Outcome        OutcomeSummary        `json:"outcome"`
	DID            *DIDResult            `json:"did,omitempty"`
	EventStudy     *EventStudyResult     `json:"event_study,omitempty"`
	ParallelTrends *ParallelTrendsResult `json:"parallel_trends,omitempty"`
	Failures       []BranchFailure       `json:"failures,omitempty"`
	Notes          []string              `json:"notes,omitempty"`
}

// Failure returns the failure recorded for a branch, if any
func (r *Report) Failure(b Branch) (BranchFailure, bool) {
	for _, f := range r.Failures {
		if f.Branch == b {
			return f, true
		}
	}
	return BranchFailure{}, false
}

// Succeeded reports whether every branch that ran produced a result
func (r *Report) Succeeded() bool { return len(r.Failures) == 0 }

// Artifacts lists the files written for a run. Empty paths were not written.
type Artifacts struct {
	Dir       string `json:"dir"`
	Markdown  string `json:"markdown,omitempty"`
	HTML      string `json:"html,omitempty"`
	ChartData string `json:"chart_data,omitempty"`
}

// RunSummary is the archived headline of one run
type RunSummary struct {
	RunID         core.RunID     `json:"run_id"`
	Fingerprint   core.Hash      `json:"fingerprint"`
	InputName     string         `json:"input_name"`
	Outcome       string         `json:"outcome"`
	NObservations int            `json:"n_observations"`
	Estimate      *float64       `json:"estimate,omitempty"`
	PValue        *float64       `json:"p_value,omitempty"`
	Balanced      *bool          `json:"balanced,omitempty"`
	NFailures     int            `json:"n_failures"`
	CreatedAt     core.Timestamp `json:"created_at"`
}

// RunRecord is an archived run with its full report
type RunRecord struct {
	RunSummary
	Report    *Report   `json:"report"`
	Artifacts Artifacts `json:"artifacts"`
}
