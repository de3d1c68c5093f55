package causal

import (
	"context"
	"math"
	"testing"

	"didlab/domain/did"
	"didlab/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interceptOnly(y []float64, clusters []string) Design {
	ones := make([]float64, len(y))
	for i := range ones {
		ones[i] = 1
	}
	return Design{
		Outcome:    "y",
		ClusterVar: "g",
		Terms:      []Term{{Name: did.TermIntercept, Values: ones}},
		Y:          y,
		Clusters:   clusters,
	}
}

func TestFitClusteredInterceptMatchesClosedForm(t *testing.T) {
	// beta = mean(y); V = G/(G-1) * sum_g (sum e_g)^2 / n^2
	d := interceptOnly([]float64{1, 2, 3, 4, 5, 6}, []string{"a", "a", "b", "b", "c", "c"})

	res, err := NewEstimator(DefaultOptions()).Fit(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, res.Coefficients, 1)

	c := res.Coefficients[0]
	assert.InDelta(t, 3.5, c.Estimate, 1e-12)
	assert.InDelta(t, math.Sqrt(4.0/3.0), c.StdErr, 1e-12)
	assert.Equal(t, 3, res.NClusters)
	assert.Equal(t, 6, res.NObs)
	assert.Equal(t, "normal", res.Distribution)
	assert.Less(t, c.CILower, c.Estimate)
	assert.Greater(t, c.CIUpper, c.Estimate)
}

func TestFitExactLineHasZeroStdErr(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 1 + 2*v
	}
	d := interceptOnly(y, []string{"a", "b", "c", "a", "b", "c"})
	d.Terms = append(d.Terms, Term{Name: "x", Values: x})

	res, err := NewEstimator(DefaultOptions()).Fit(context.Background(), d)
	require.NoError(t, err)

	slope, ok := res.Coefficient("x")
	require.True(t, ok)
	assert.InDelta(t, 2, slope.Estimate, 1e-10)
	assert.InDelta(t, 0, slope.StdErr, 1e-9)
	assert.False(t, math.IsNaN(slope.PValue))
	assert.Equal(t, "y ~ x", res.Formula)
}

func TestFitStudentTWidensInterval(t *testing.T) {
	d := interceptOnly([]float64{1, 2, 3, 4, 5, 6}, []string{"a", "a", "b", "b", "c", "c"})

	normal, err := NewEstimator(DefaultOptions()).Fit(context.Background(), d)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.UseT = true
	student, err := NewEstimator(opts).Fit(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, "t", student.Distribution)
	n, s := normal.Coefficients[0], student.Coefficients[0]
	assert.Equal(t, n.StdErr, s.StdErr)
	assert.Greater(t, s.CIUpper-s.CILower, n.CIUpper-n.CILower)
	assert.Greater(t, s.PValue, n.PValue)
}

func TestFitRejectsDegenerateDesigns(t *testing.T) {
	est := NewEstimator(DefaultOptions())

	t.Run("single cluster", func(t *testing.T) {
		d := interceptOnly([]float64{1, 2, 3}, []string{"a", "a", "a"})
		_, err := est.Fit(context.Background(), d)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrSingularDesign)
	})

	t.Run("more terms than rows", func(t *testing.T) {
		d := interceptOnly([]float64{1}, []string{"a"})
		_, err := est.Fit(context.Background(), d)
		assert.ErrorIs(t, err, errors.ErrSingularDesign)
	})

	t.Run("collinear term", func(t *testing.T) {
		d := interceptOnly([]float64{1, 2, 3, 4}, []string{"a", "b", "a", "b"})
		d.Terms = append(d.Terms, Term{Name: "x", Values: []float64{1, 2, 3, 4}})
		d.Terms = append(d.Terms, Term{Name: "x2", Values: []float64{2, 4, 6, 8}})
		_, err := est.Fit(context.Background(), d)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrSingularDesign)
		assert.Contains(t, err.Error(), `"x2"`)
	})
}

func TestFitBudget(t *testing.T) {
	d := interceptOnly([]float64{1, 2, 3, 4}, []string{"a", "b", "a", "b"})

	opts := DefaultOptions()
	opts.MaxDesignCells = 3
	_, err := NewEstimator(opts).Fit(context.Background(), d)
	assert.ErrorIs(t, err, errors.ErrFitBudget)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewEstimator(DefaultOptions()).Fit(ctx, d)
	assert.ErrorIs(t, err, errors.ErrFitBudget)
}

func TestWaldZeroStdErr(t *testing.T) {
	dist := newReferenceDistribution(false, 10)

	p, lo, hi := dist.wald(0.15, 0, 0.95)
	assert.Equal(t, 0.0, p)
	assert.Equal(t, 0.15, lo)
	assert.Equal(t, 0.15, hi)

	p, _, _ = dist.wald(0, 0, 0.95)
	assert.Equal(t, 1.0, p)

	assert.InDelta(t, 1.959964, dist.Critical(0.95), 1e-6)
	assert.Equal(t, "normal", newReferenceDistribution(true, 1).name())
}

func TestFitDoesNotDependOnColumnScale(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	y := []float64{2.1, 0.9, 3.2, 1.1, 3.9, 7.2, 1.8, 4.7}
	clusters := []string{"a", "b", "c", "d", "a", "b", "c", "d"}

	base := interceptOnly(y, clusters)
	base.Terms = append(base.Terms, Term{Name: "x", Values: x})
	want, err := NewEstimator(DefaultOptions()).Fit(context.Background(), base)
	require.NoError(t, err)
	wantSlope, _ := want.Coefficient("x")

	for _, scale := range []float64{1e-6, 1e9, 1e12, 1.7e18} {
		scaled := make([]float64, len(x))
		for i, v := range x {
			scaled[i] = v * scale
		}
		d := interceptOnly(y, clusters)
		d.Terms = append(d.Terms, Term{Name: "x", Values: scaled})

		got, err := NewEstimator(DefaultOptions()).Fit(context.Background(), d)
		require.NoError(t, err, "scale %g", scale)
		slope, _ := got.Coefficient("x")
		assert.InEpsilon(t, wantSlope.Estimate, slope.Estimate*scale, 1e-8, "scale %g", scale)
		assert.InEpsilon(t, wantSlope.StdErr, slope.StdErr*scale, 1e-8, "scale %g", scale)
		assert.InDelta(t, wantSlope.PValue, slope.PValue, 1e-8, "scale %g", scale)
		assert.InDelta(t, want.Coefficients[0].Estimate, got.Coefficients[0].Estimate, 1e-8, "scale %g", scale)
	}
}

func TestFitRejectsZeroColumn(t *testing.T) {
	d := interceptOnly([]float64{1, 2, 3, 4}, []string{"a", "b", "a", "b"})
	d.Terms = append(d.Terms, Term{Name: "unused", Values: []float64{0, 0, 0, 0}})

	_, err := NewEstimator(DefaultOptions()).Fit(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSingularDesign)
	assert.Contains(t, err.Error(), `"unused"`)
}
