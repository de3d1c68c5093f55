package causal

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"didlab/domain/did"
	"didlab/internal/errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the size below which an R diagonal entry of the
// unit-norm design is taken as zero, i.e. the column is a linear combination
// of earlier ones.
const rankTolerance = 1e-10

// Estimator fits OLS with a cluster-robust (sandwich) covariance.
type Estimator struct {
	confidenceLevel float64
	useT            bool
	timeout         time.Duration
	maxCells        int
}

// NewEstimator creates an estimator from the inference and budget options
func NewEstimator(opts Options) *Estimator {
	return &Estimator{
		confidenceLevel: opts.ConfidenceLevel,
		useT:            opts.UseT,
		timeout:         opts.FitTimeout,
		maxCells:        opts.MaxDesignCells,
	}
}

type fitOutput struct {
	beta   []float64
	stdErr []float64
	err    error
}

// Fit estimates every term of the design. Clusters are the distinct values
// of Design.Clusters. The fit runs under the estimator's time budget; a fit
// that does not finish in time is abandoned with a fit-budget error.
func (e *Estimator) Fit(ctx context.Context, d Design) (did.RegressionResult, error) {
	n, p := d.NObs(), len(d.Terms)
	if e.maxCells > 0 && n*p > e.maxCells {
		return did.RegressionResult{}, errors.FitBudget("design of %d rows x %d terms exceeds the %d cell budget", n, p, e.maxCells)
	}
	if n <= p {
		return did.RegressionResult{}, errors.SingularDesign("%d observations cannot identify %d terms", n, p)
	}

	clusterIndex, nClusters := indexClusters(d.Clusters)
	if nClusters < 2 {
		return did.RegressionResult{}, errors.SingularDesign("cluster variable %q has %d distinct value(s); cluster-robust variance needs at least 2", d.ClusterVar, nClusters)
	}

	if err := ctx.Err(); err != nil {
		return did.RegressionResult{}, errors.FitBudget("fit not started: %v", err)
	}
	fitCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	done := make(chan fitOutput, 1)
	go func() {
		done <- solveClustered(d, clusterIndex, nClusters)
	}()

	var out fitOutput
	select {
	case out = <-done:
	case <-fitCtx.Done():
		return did.RegressionResult{}, errors.FitBudget("fit of %d rows x %d terms abandoned: %v", n, p, fitCtx.Err())
	}
	if out.err != nil {
		return did.RegressionResult{}, out.err
	}

	dist := newReferenceDistribution(e.useT, nClusters)
	result := did.RegressionResult{
		Formula:         d.Formula(),
		NObs:            n,
		NClusters:       nClusters,
		ClusterVar:      d.ClusterVar,
		ConfidenceLevel: e.confidenceLevel,
		Distribution:    dist.name(),
		Coefficients:    make([]did.Coefficient, p),
	}
	for j, t := range d.Terms {
		pv, lo, hi := dist.wald(out.beta[j], out.stdErr[j], e.confidenceLevel)
		result.Coefficients[j] = did.Coefficient{
			Term:     t.Name,
			Estimate: out.beta[j],
			StdErr:   out.stdErr[j],
			PValue:   pv,
			CILower:  lo,
			CIUpper:  hi,
			NObs:     n,
		}
	}
	return result, nil
}

// indexClusters maps labels to dense indices in first-seen order
func indexClusters(labels []string) ([]int, int) {
	ids := make(map[string]int)
	index := make([]int, len(labels))
	for i, l := range labels {
		id, ok := ids[l]
		if !ok {
			id = len(ids)
			ids[l] = id
		}
		index[i] = id
	}
	return index, len(ids)
}

// solveClustered computes beta = (X'X)^-1 X'y through QR and
//
//	V = c * B * (sum_g s_g s_g') * B,  B = (X'X)^-1 = R^-1 R^-T,  s_g = X_g' e_g
//	c = G/(G-1) * (n-1)/(n-p)
//
// Columns are scaled to unit norm before the factorisation, so the rank test
// on the R diagonal does not depend on the units of a covariate. Beta and V
// are returned in the original units.
func solveClustered(d Design, cluster []int, nClusters int) fitOutput {
	n, p := d.NObs(), len(d.Terms)

	x := mat.NewDense(n, p, nil)
	scale := make([]float64, p)
	for j, t := range d.Terms {
		norm := floats.Norm(t.Values, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return fitOutput{err: errors.SingularDesign("term %q has no usable variation (column norm %v)", t.Name, norm)}
		}
		scale[j] = norm
		for i, v := range t.Values {
			x.Set(i, j, v/norm)
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), d.Y...))

	var qr mat.QR
	qr.Factorize(x)

	var r mat.Dense
	qr.RTo(&r)
	for j := 0; j < p; j++ {
		if math.Abs(r.At(j, j)) <= rankTolerance {
			return fitOutput{err: errors.SingularDesign("design is rank deficient: term %q is collinear with earlier terms", d.Terms[j].Name)}
		}
	}

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		return fitOutput{err: errors.SingularDesign("least squares solve failed: %v", err)}
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		resid[i] = y.AtVec(i) - fitted.AtVec(i)
	}

	rTop := mat.NewTriDense(p, mat.Upper, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			rTop.SetTri(i, j, r.At(i, j))
		}
	}
	var rInv mat.TriDense
	if err := rInv.InverseTri(rTop); err != nil {
		var cond mat.Condition
		if !stderrors.As(err, &cond) {
			return fitOutput{err: errors.SingularDesign("cannot invert R factor: %v", err)}
		}
	}
	var bread mat.Dense
	bread.Mul(&rInv, rInv.T())

	scores := mat.NewDense(nClusters, p, nil)
	for i := 0; i < n; i++ {
		g := cluster[i]
		for j := 0; j < p; j++ {
			scores.Set(g, j, scores.At(g, j)+x.At(i, j)*resid[i])
		}
	}
	var meat mat.Dense
	meat.Mul(scores.T(), scores)

	var tmp, cov mat.Dense
	tmp.Mul(&bread, &meat)
	cov.Mul(&tmp, &bread)

	g := float64(nClusters)
	correction := g / (g - 1) * float64(n-1) / float64(n-p)

	out := fitOutput{beta: make([]float64, p), stdErr: make([]float64, p)}
	for j := 0; j < p; j++ {
		out.beta[j] = beta.AtVec(j) / scale[j]
		v := correction * cov.At(j, j)
		if v < 0 {
			// rounding below zero on an exact fit
			v = 0
		}
		se := math.Sqrt(v) / scale[j]
		if math.IsNaN(se) || math.IsInf(se, 0) || math.IsNaN(out.beta[j]) || math.IsInf(out.beta[j], 0) {
			return fitOutput{err: errors.SingularDesign("variance of term %q is not finite", d.Terms[j].Name)}
		}
		out.stdErr[j] = se
	}
	return out
}
