package causal

import (
	"strings"

	"didlab/domain/did"
	"didlab/internal/errors"

	"github.com/montanaflynn/stats"
)

// CellMeans computes the outcome mean of the four treated x post cells.
// Every cell must be populated.
func CellMeans(p *Panel, post []bool) (did.GroupMeans, error) {
	if len(post) != len(p.Observations) {
		return did.GroupMeans{}, errors.InternalError("cell means need one post flag per observation")
	}

	var treatedPre, treatedPost, controlPre, controlPost stats.Float64Data
	for i, o := range p.Observations {
		switch {
		case o.Treated && post[i]:
			treatedPost = append(treatedPost, o.Outcome)
		case o.Treated:
			treatedPre = append(treatedPre, o.Outcome)
		case post[i]:
			controlPost = append(controlPost, o.Outcome)
		default:
			controlPre = append(controlPre, o.Outcome)
		}
	}

	var empty []string
	for _, c := range []struct {
		name string
		data stats.Float64Data
	}{
		{"treated-pre", treatedPre},
		{"treated-post", treatedPost},
		{"control-pre", controlPre},
		{"control-post", controlPost},
	} {
		if len(c.data) == 0 {
			empty = append(empty, c.name)
		}
	}
	if len(empty) > 0 {
		return did.GroupMeans{}, errors.EmptyGroup("no observations in cell(s) [%s] (treated arm %q, control arm %q)",
			strings.Join(empty, ", "), p.TreatedArm, p.ControlArm)
	}

	m := did.GroupMeans{
		NTreatedPre:  len(treatedPre),
		NTreatedPost: len(treatedPost),
		NControlPre:  len(controlPre),
		NControlPost: len(controlPost),
	}
	m.TreatedPre, _ = stats.Mean(treatedPre)
	m.TreatedPost, _ = stats.Mean(treatedPost)
	m.ControlPre, _ = stats.Mean(controlPre)
	m.ControlPost, _ = stats.Mean(controlPost)
	return m, nil
}

// SummarizeOutcome describes the outcome over all prepared observations.
// The standard deviation is the sample one and is 0 for a single observation.
func SummarizeOutcome(p *Panel) did.OutcomeSummary {
	data := make(stats.Float64Data, len(p.Observations))
	for i, o := range p.Observations {
		data[i] = o.Outcome
	}
	if len(data) == 0 {
		return did.OutcomeSummary{}
	}

	var s did.OutcomeSummary
	s.Mean, _ = stats.Mean(data)
	s.Median, _ = stats.Median(data)
	s.Min, _ = stats.Min(data)
	s.Max, _ = stats.Max(data)
	if len(data) > 1 {
		s.StdDev, _ = stats.StandardDeviationSample(data)
	}
	return s
}
