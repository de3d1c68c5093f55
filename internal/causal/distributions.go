package causal

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// referenceDistribution is the sampling distribution used for Wald tests on
// coefficients: the unit normal, or Student's t with the given df.
type referenceDistribution struct {
	useT bool
	df   float64
}

func newReferenceDistribution(useT bool, clusters int) referenceDistribution {
	df := float64(clusters - 1)
	if df < 1 {
		useT = false
	}
	return referenceDistribution{useT: useT, df: df}
}

func (r referenceDistribution) name() string {
	if r.useT {
		return "t"
	}
	return "normal"
}

// TwoSidedPValue computes P(|T| >= |stat|) under the null of zero effect
func (r referenceDistribution) TwoSidedPValue(stat float64) float64 {
	a := math.Abs(stat)
	var p float64
	if r.useT {
		p = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: r.df}.Survival(a)
	} else {
		p = 2 * distuv.UnitNormal.Survival(a)
	}
	if p > 1 {
		return 1
	}
	return p
}

// Critical returns the two-sided critical value for a confidence level
func (r referenceDistribution) Critical(confidenceLevel float64) float64 {
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		confidenceLevel = 0.95
	}
	q := 1.0 - (1.0-confidenceLevel)/2.0
	if r.useT {
		return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: r.df}.Quantile(q)
	}
	return distuv.UnitNormal.Quantile(q)
}

// wald turns an estimate and standard error into p-value and CI. A zero
// standard error gives a degenerate interval instead of NaN.
func (r referenceDistribution) wald(estimate, stdErr, confidenceLevel float64) (pValue, lower, upper float64) {
	if stdErr == 0 {
		if estimate == 0 {
			return 1, estimate, estimate
		}
		return 0, estimate, estimate
	}
	pValue = r.TwoSidedPValue(estimate / stdErr)
	margin := r.Critical(confidenceLevel) * stdErr
	return pValue, estimate - margin, estimate + margin
}
