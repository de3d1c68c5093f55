package causal

import (
	"fmt"
	"sort"
	"strings"

	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal/errors"
)

// AnalysisMode selects the regression design
type AnalysisMode int

const (
	ModeStatic AnalysisMode = iota
	ModeEventStudy
)

func (m AnalysisMode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeEventStudy:
		return "event-study"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Term is one named column of the design matrix
type Term struct {
	Name   string
	Values []float64
}

// Design is a compiled linear model: Terms (intercept first) against Y, with
// one cluster label per row. Rows maps design rows back to panel observations.
type Design struct {
	Mode       AnalysisMode
	Outcome    string
	ClusterVar string
	Terms      []Term
	Y          []float64
	Clusters   []string
	Rows       []int

	// Interactions are the terms whose coefficients the caller reports
	Interactions []string
	// EventPeriods lists the non-reference relative periods, ascending
	EventPeriods []int

	Covariates        []string
	DroppedCovariates []string
}

// DesignInput carries the indicators a design is compiled from. Post is used
// by the static mode and RelativeTimes by the event-study mode.
type DesignInput struct {
	Panel         *Panel
	Post          []bool
	RelativeTimes []int
	Covariates    []string
}

// NObs returns the number of rows in the design
func (d Design) NObs() int { return len(d.Y) }

// TermNames returns the column names in order
func (d Design) TermNames() []string {
	names := make([]string, len(d.Terms))
	for i, t := range d.Terms {
		names[i] = t.Name
	}
	return names
}

// Formula renders the symbolic specification, e.g. "y ~ treated + post + treated:post"
func (d Design) Formula() string {
	var rhs []string
	for _, t := range d.Terms {
		if t.Name == did.TermIntercept {
			continue
		}
		rhs = append(rhs, t.Name)
	}
	return d.Outcome + " ~ " + strings.Join(rhs, " + ")
}

// EventTerm names the period dummy for relative period k
func EventTerm(k int) string { return fmt.Sprintf("event_%d", k) }

// EventTreatedTerm names the treatment interaction for relative period k
func EventTreatedTerm(k int) string { return fmt.Sprintf("event_%d_treated", k) }

// CompileDesign builds the design for a mode:
//
//	static:      outcome ~ 1 + treated + post + treated:post [+ covariates]
//	event-study: outcome ~ 1 + treated + sum_k event_k + sum_k event_k_treated  (k != 0)
//
// Requested covariates that are not in the panel are dropped and reported,
// never fatal. Rows with a missing value in an included covariate are left out.
func CompileDesign(mode AnalysisMode, in DesignInput) (Design, error) {
	p := in.Panel
	d := Design{
		Mode:       mode,
		Outcome:    p.Columns.Outcome,
		ClusterVar: p.Columns.Group,
	}

	present := make(map[string]CovariateColumn, len(p.Covariates))
	for _, c := range p.Covariates {
		present[c.Name] = c
	}
	var covs []CovariateColumn
	for _, name := range in.Covariates {
		if c, ok := present[name]; ok {
			covs = append(covs, c)
			d.Covariates = append(d.Covariates, name)
		} else {
			d.DroppedCovariates = append(d.DroppedCovariates, name)
		}
	}

	for i, o := range p.Observations {
		if completeCovariates(o, covs) {
			d.Rows = append(d.Rows, i)
		}
	}
	if len(d.Rows) == 0 {
		return Design{}, errors.SingularDesign("no observations with complete covariates")
	}

	d.Y = make([]float64, len(d.Rows))
	d.Clusters = make([]string, len(d.Rows))
	for r, i := range d.Rows {
		d.Y[r] = p.Observations[i].Outcome
		d.Clusters[r] = p.Observations[i].Group
	}

	d.Terms = append(d.Terms, d.column(did.TermIntercept, func(int) float64 { return 1 }))
	d.Terms = append(d.Terms, d.column(did.TermTreated, func(i int) float64 { return indicator(p.Observations[i].Treated) }))

	switch mode {
	case ModeStatic:
		if len(in.Post) != len(p.Observations) {
			return Design{}, errors.InternalError("static design needs one post flag per observation")
		}
		d.Terms = append(d.Terms,
			d.column(did.TermPost, func(i int) float64 { return indicator(in.Post[i]) }),
			d.column(did.TermTreatedPost, func(i int) float64 {
				return indicator(p.Observations[i].Treated && in.Post[i])
			}),
		)
		d.Interactions = []string{did.TermTreatedPost}

	case ModeEventStudy:
		if len(in.RelativeTimes) != len(p.Observations) {
			return Design{}, errors.InternalError("event-study design needs one relative time per observation")
		}
		d.EventPeriods = eventPeriods(in.RelativeTimes, d.Rows)
		for _, k := range d.EventPeriods {
			k := k
			d.Terms = append(d.Terms, d.column(EventTerm(k), func(i int) float64 {
				return indicator(in.RelativeTimes[i] == k)
			}))
		}
		for _, k := range d.EventPeriods {
			k := k
			d.Terms = append(d.Terms, d.column(EventTreatedTerm(k), func(i int) float64 {
				return indicator(in.RelativeTimes[i] == k && p.Observations[i].Treated)
			}))
			d.Interactions = append(d.Interactions, EventTreatedTerm(k))
		}

	default:
		return Design{}, errors.Newf(errors.CodeInternalError, "unknown analysis mode %s", mode)
	}

	for _, c := range covs {
		d.Terms = append(d.Terms, covariateTerms(p, c, d.Rows)...)
	}

	return d, nil
}

func (d Design) column(name string, f func(obsIndex int) float64) Term {
	values := make([]float64, len(d.Rows))
	for r, i := range d.Rows {
		values[r] = f(i)
	}
	return Term{Name: name, Values: values}
}

// eventPeriods returns the distinct non-zero relative periods, ascending
func eventPeriods(rel []int, rows []int) []int {
	seen := make(map[int]bool)
	var periods []int
	for _, i := range rows {
		k := rel[i]
		if k == 0 || seen[k] {
			continue
		}
		seen[k] = true
		periods = append(periods, k)
	}
	sort.Ints(periods)
	return periods
}

func completeCovariates(o Observation, covs []CovariateColumn) bool {
	for _, c := range covs {
		if o.Covariates[c.Name].IsMissing() {
			return false
		}
	}
	return true
}

// covariateTerms encodes numbers and timestamps as one column and text as
// treatment-coded dummies name[T.level], the lowest level being the baseline.
func covariateTerms(p *Panel, c CovariateColumn, rows []int) []Term {
	if c.Kind != panel.KindText {
		values := make([]float64, len(rows))
		for r, i := range rows {
			v, ok := p.Observations[i].Covariates[c.Name].Numeric()
			if !ok {
				// A stray label in a numeric column; treated as zero so the
				// row keeps its place in the design.
				v = 0
			}
			values[r] = v
		}
		return []Term{{Name: c.Name, Values: values}}
	}

	levelSet := make(map[string]bool)
	for _, i := range rows {
		levelSet[p.Observations[i].Covariates[c.Name].String()] = true
	}
	levels := make([]string, 0, len(levelSet))
	for l := range levelSet {
		levels = append(levels, l)
	}
	sort.Strings(levels)

	var terms []Term
	for _, level := range levels[1:] {
		values := make([]float64, len(rows))
		for r, i := range rows {
			values[r] = indicator(p.Observations[i].Covariates[c.Name].String() == level)
		}
		terms = append(terms, Term{Name: fmt.Sprintf("%s[T.%s]", c.Name, level), Values: values})
	}
	return terms
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
