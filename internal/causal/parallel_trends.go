package causal

import (
	"math"

	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal/config"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// ParallelTrends compares the pre-period linear trends of the two arms. The
// pre-period is every observation whose time ranks before the reference rank
// floor(U/2). The second return value is false when the comparison is
// undefined: fewer than two unique times, or a pre-period holding one arm.
func ParallelTrends(p *Panel, opts Options) (*did.ParallelTrendsResult, bool) {
	u := len(p.UniqueTimes)
	if u < 2 {
		return nil, false
	}
	ref := p.ReferenceRank()

	var treatedX, treatedY, controlX, controlY []float64
	for _, o := range p.Observations {
		if o.TimeRank >= ref {
			continue
		}
		x := encodeTime(o, opts.TimeEncoding)
		if o.Treated {
			treatedX = append(treatedX, x)
			treatedY = append(treatedY, o.Outcome)
		} else {
			controlX = append(controlX, x)
			controlY = append(controlY, o.Outcome)
		}
	}
	if len(treatedY) == 0 || len(controlY) == 0 {
		return nil, false
	}

	res := &did.ParallelTrendsResult{
		TreatedSlope:   trendSlope(treatedX, treatedY),
		ControlSlope:   trendSlope(controlX, controlY),
		ThresholdScale: opts.BalanceScale,
		TimeEncoding:   opts.TimeEncoding,
		PreTimes:       append([]panel.Value(nil), p.UniqueTimes[:ref]...),
		PostTimes:      append([]panel.Value(nil), p.UniqueTimes[ref:]...),
	}
	if res.ThresholdScale == "" {
		res.ThresholdScale = config.BalanceScaleAbsolute
	}
	if res.TimeEncoding == "" {
		res.TimeEncoding = config.TimeEncodingNative
	}
	res.TreatedPreMean, _ = stats.Mean(treatedY)
	res.ControlPreMean, _ = stats.Mean(controlY)
	res.TrendDifference = math.Abs(res.TreatedSlope - res.ControlSlope)
	res.PreMeanDifference = math.Abs(res.TreatedPreMean - res.ControlPreMean)

	res.Threshold = opts.BalanceThreshold
	if res.ThresholdScale == config.BalanceScaleSD {
		pre := append(append(stats.Float64Data(nil), treatedY...), controlY...)
		sd, err := stats.StandardDeviationSample(pre)
		if err == nil && sd > 0 && !math.IsNaN(sd) {
			res.Threshold = opts.BalanceThreshold * sd
		} else {
			// a constant pre-period has no scale; keep the raw threshold
			res.ThresholdScale = config.BalanceScaleAbsolute
		}
	}
	res.IsBalanced = res.TrendDifference < res.Threshold
	return res, true
}

// encodeTime maps an observation's time to the x axis of the trend line.
// Native keeps numbers, uses Unix nanoseconds for timestamps and falls back
// to the period rank for text; index always uses the rank.
func encodeTime(o Observation, encoding string) float64 {
	if encoding == config.TimeEncodingIndex {
		return float64(o.TimeRank)
	}
	if v, ok := o.Time.Numeric(); ok {
		return v
	}
	return float64(o.TimeRank)
}

// trendSlope is the least-squares slope of y on x. It is exactly 0 when the
// arm has at most one observation or no spread in x.
func trendSlope(x, y []float64) float64 {
	if len(x) <= 1 {
		return 0
	}
	if _, variance := stat.MeanVariance(x, nil); variance == 0 || math.IsNaN(variance) {
		return 0
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}
