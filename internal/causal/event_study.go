package causal

import (
	"context"

	"didlab/domain/did"
	"didlab/internal/errors"
)

// EventStudy fits one joint regression with a period dummy and a treatment
// interaction for every non-reference relative period and returns the
// interaction coefficients ascending by relative time. The reference period
// floor(U/2) is the baseline and has no point.
func (e *Engine) EventStudy(ctx context.Context, p *Panel) (*did.EventStudyResult, error) {
	rel, err := p.RelativeTimes()
	if err != nil {
		return nil, err
	}

	design, err := CompileDesign(ModeEventStudy, DesignInput{Panel: p, RelativeTimes: rel})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("event study design: %s (%d rows)", design.Formula(), design.NObs())

	reg, err := e.estimator.Fit(ctx, design)
	if err != nil {
		return nil, errors.Wrapf(err, "event study fit")
	}

	ref := p.ReferenceRank()
	res := &did.EventStudyResult{
		ReferenceTime: p.UniqueTimes[ref],
		Regression:    reg,
		Points:        make([]did.EventStudyPoint, 0, len(design.EventPeriods)),
	}
	for _, k := range design.EventPeriods {
		c, ok := reg.Coefficient(EventTreatedTerm(k))
		if !ok {
			return nil, errors.InternalError("event study fit has no coefficient for " + EventTreatedTerm(k))
		}
		res.Points = append(res.Points, did.EventStudyPoint{
			RelativeTime: k,
			Time:         p.UniqueTimes[ref+k],
			Coefficient:  c.Estimate,
			StdErr:       c.StdErr,
			CILower:      c.CILower,
			CIUpper:      c.CIUpper,
			PValue:       c.PValue,
		})
	}
	return res, nil
}
