package causal

import (
	"sort"
	"strings"

	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal"
	"didlab/internal/config"
	"didlab/internal/errors"
)

// Observation is one complete row of the prepared dataset
type Observation struct {
	Row        int
	Group      string
	Time       panel.Value
	Arm        string
	Outcome    float64
	Covariates map[string]panel.Value

	Treated  bool
	TimeRank int // 0-based rank of Time among the unique times
}

// CovariateColumn is a requested covariate that exists in the frame
type CovariateColumn struct {
	Name string
	Kind panel.Kind
}

// Panel is the observation set shared read-only by every analysis branch.
type Panel struct {
	Columns           did.Columns
	Observations      []Observation
	TreatedArm        string
	ControlArm        string
	UniqueTimes       []panel.Value
	TimeKind          panel.Kind
	Covariates        []CovariateColumn
	DroppedCovariates []string
	NDropped          int
}

// Split is the static pre/post assignment
type Split struct {
	Threshold panel.Value
	Post      []bool
}

// BuildIndicators validates the required columns and derives the treated flag
// and time ranks. It fails with a schema error before any estimation when a
// required column is absent, the outcome is not numeric, or the treatment
// column carries more than two labels.
func BuildIndicators(frame *panel.Frame, cols did.Columns, opts Options, logger *internal.Logger) (*Panel, error) {
	if logger == nil {
		logger = internal.NewNopLogger()
	}

	required := []string{cols.Treatment, cols.Outcome, cols.Time, cols.Group}
	if missing := frame.Missing(required...); len(missing) > 0 {
		return nil, errors.SchemaError("missing required columns [%s]; available columns [%s]",
			strings.Join(missing, ", "), strings.Join(frame.Names(), ", "))
	}

	treatment, _ := frame.Column(cols.Treatment)
	outcome, _ := frame.Column(cols.Outcome)
	timeCol, _ := frame.Column(cols.Time)
	group, _ := frame.Column(cols.Group)

	if outcome.Kind != panel.KindNumber {
		return nil, errors.SchemaError("outcome column %q must be numeric, found %s", cols.Outcome, outcome.Kind)
	}

	labels := distinctLabels(treatment.Values)
	if len(labels) > 2 {
		return nil, errors.SchemaError("treatment column %q has %d distinct values: [%s]",
			cols.Treatment, len(labels), strings.Join(labels, ", "))
	}

	treatedArm, controlArm, err := chooseArms(labels, opts)
	if err != nil {
		return nil, err
	}

	p := &Panel{
		Columns:    cols,
		TreatedArm: treatedArm,
		ControlArm: controlArm,
		TimeKind:   timeCol.Kind,
	}

	for _, name := range cols.Covariates {
		c, ok := frame.Column(name)
		if !ok {
			p.DroppedCovariates = append(p.DroppedCovariates, name)
			logger.Warn("covariate %q not found in dataset, dropping it", name)
			continue
		}
		p.Covariates = append(p.Covariates, CovariateColumn{Name: name, Kind: c.Kind})
	}

	for i := 0; i < frame.Len(); i++ {
		arm, t, y, g := treatment.Values[i], timeCol.Values[i], outcome.Values[i], group.Values[i]
		if arm.IsMissing() || t.IsMissing() || y.IsMissing() || g.IsMissing() {
			p.NDropped++
			continue
		}
		obs := Observation{
			Row:     i,
			Group:   g.String(),
			Time:    t,
			Arm:     arm.String(),
			Outcome: y.Num,
			Treated: arm.String() == treatedArm,
		}
		if len(p.Covariates) > 0 {
			obs.Covariates = make(map[string]panel.Value, len(p.Covariates))
			for _, cov := range p.Covariates {
				c, _ := frame.Column(cov.Name)
				obs.Covariates[cov.Name] = c.Values[i]
			}
		}
		p.Observations = append(p.Observations, obs)
	}

	if p.NDropped > 0 {
		logger.Warn("dropped %d rows with missing treatment, outcome, time or group", p.NDropped)
	}
	if len(p.Observations) == 0 {
		return nil, errors.SchemaError("no complete observations in %d rows", frame.Len())
	}

	p.rankTimes()
	return p, nil
}

// distinctLabels returns non-missing labels in order of first appearance
func distinctLabels(values []panel.Value) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, v := range values {
		if v.IsMissing() {
			continue
		}
		s := v.String()
		if !seen[s] {
			seen[s] = true
			labels = append(labels, s)
		}
	}
	return labels
}

// chooseArms applies the reference-arm rule. The default rule takes the first
// label in row order as treated, so reordering the input rows can flip the
// sign of the estimate; the chosen labels are always reported.
func chooseArms(labels []string, opts Options) (treated, control string, err error) {
	if len(labels) == 0 {
		return "", "", errors.SchemaError("treatment column has no values")
	}

	switch opts.ArmRule {
	case config.ArmRuleExplicit:
		idx := -1
		for i, l := range labels {
			if l == opts.TreatedArm {
				idx = i
			}
		}
		if idx < 0 {
			return "", "", errors.SchemaError("treated arm %q not found among treatment values [%s]",
				opts.TreatedArm, strings.Join(labels, ", "))
		}
		treated = labels[idx]
	case config.ArmRuleLexicographic:
		sorted := append([]string(nil), labels...)
		sort.Strings(sorted)
		treated = sorted[0]
	default:
		treated = labels[0]
	}

	for _, l := range labels {
		if l != treated {
			control = l
		}
	}
	return treated, control, nil
}

func (p *Panel) rankTimes() {
	times := make([]panel.Value, len(p.Observations))
	for i, o := range p.Observations {
		times[i] = o.Time
	}
	sort.SliceStable(times, func(i, j int) bool { return panel.Compare(times[i], times[j]) < 0 })

	unique := times[:0:0]
	for i, t := range times {
		if i == 0 || panel.Compare(t, times[i-1]) != 0 {
			unique = append(unique, t)
		}
	}
	p.UniqueTimes = unique

	for i := range p.Observations {
		t := p.Observations[i].Time
		p.Observations[i].TimeRank = sort.Search(len(unique), func(k int) bool {
			return panel.Compare(unique[k], t) >= 0
		})
	}
}

// ReferenceRank is floor(U/2), the rank of the middle unique time
func (p *Panel) ReferenceRank() int { return len(p.UniqueTimes) / 2 }

// PostSplit assigns post = time >= threshold. The threshold is the
// floor(n/2)-th order statistic of all observation times unless a cutover is
// configured. When every time is identical every row is post; that is not
// flagged here.
func (p *Panel) PostSplit(opts Options) (Split, error) {
	var threshold panel.Value
	if opts.Cutover != "" {
		v, err := panel.ParseAs(opts.Cutover, p.TimeKind)
		if err != nil {
			return Split{}, errors.SchemaError("invalid cutover for time column %q: %v", p.Columns.Time, err)
		}
		threshold = v
	} else {
		times := make([]panel.Value, len(p.Observations))
		for i, o := range p.Observations {
			times[i] = o.Time
		}
		sort.SliceStable(times, func(i, j int) bool { return panel.Compare(times[i], times[j]) < 0 })
		threshold = times[len(times)/2]
	}

	post := make([]bool, len(p.Observations))
	for i, o := range p.Observations {
		post[i] = panel.Compare(o.Time, threshold) >= 0
	}
	return Split{Threshold: threshold, Post: post}, nil
}

// RelativeTimes returns rank(time) - floor(U/2) per observation. At least
// three unique times are needed so that a period besides the reference exists
// on each side.
func (p *Panel) RelativeTimes() ([]int, error) {
	if u := len(p.UniqueTimes); u < 3 {
		return nil, errors.InsufficientPeriods("event study needs at least 3 unique time values, found %d", u)
	}
	ref := p.ReferenceRank()
	rel := make([]int, len(p.Observations))
	for i, o := range p.Observations {
		rel[i] = o.TimeRank - ref
	}
	return rel, nil
}

// TreatedFlags returns the treated indicator per observation
func (p *Panel) TreatedFlags() []bool {
	flags := make([]bool, len(p.Observations))
	for i, o := range p.Observations {
		flags[i] = o.Treated
	}
	return flags
}
