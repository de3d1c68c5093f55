package causal

import (
	"testing"

	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal/config"
	"didlab/internal/errors"
	"didlab/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsFrame(t *testing.T, rows []testkit.Row) *panel.Frame {
	t.Helper()
	frame, err := testkit.FrameFromRows(rows)
	require.NoError(t, err)
	return frame
}

func TestArmRules(t *testing.T) {
	frame := rowsFrame(t, []testkit.Row{
		{Unit: "u1", Arm: "variant_b", Time: panel.Number(1), Outcome: 1},
		{Unit: "u2", Arm: "variant_a", Time: panel.Number(1), Outcome: 1},
	})

	p, err := BuildIndicators(frame, testColumns, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, "variant_b", p.TreatedArm)
	assert.Equal(t, "variant_a", p.ControlArm)
	assert.Equal(t, []bool{true, false}, p.TreatedFlags())

	opts := DefaultOptions()
	opts.ArmRule = config.ArmRuleLexicographic
	p, err = BuildIndicators(frame, testColumns, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, "variant_a", p.TreatedArm)

	opts.ArmRule = config.ArmRuleExplicit
	opts.TreatedArm = "variant_c"
	_, err = BuildIndicators(frame, testColumns, opts, nil)
	assert.ErrorIs(t, err, errors.ErrSchema)
}

func TestBuildIndicatorsDropsIncompleteRows(t *testing.T) {
	frame := rowsFrame(t, []testkit.Row{
		{Unit: "u1", Arm: "a", Time: panel.Number(1), Outcome: 1},
		{Unit: "u2", Arm: "b", Time: panel.Missing(), Outcome: 2},
		{Unit: "u3", Arm: "b", Time: panel.Number(2), Outcome: 3},
	})

	p, err := BuildIndicators(frame, testColumns, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.NDropped)
	require.Len(t, p.Observations, 2)
	assert.Equal(t, 2, p.Observations[1].Row)
	assert.Equal(t, []panel.Value{panel.Number(1), panel.Number(2)}, p.UniqueTimes)
}

func TestBuildIndicatorsRejectsTextOutcome(t *testing.T) {
	frame, err := panel.NewFrame(
		panel.Column{Name: testkit.ColUnit, Kind: panel.KindText, Values: []panel.Value{panel.Text("u1")}},
		panel.Column{Name: testkit.ColArm, Kind: panel.KindText, Values: []panel.Value{panel.Text("a")}},
		panel.Column{Name: testkit.ColPeriod, Kind: panel.KindNumber, Values: []panel.Value{panel.Number(1)}},
		panel.Column{Name: testkit.ColOutcome, Kind: panel.KindText, Values: []panel.Value{panel.Text("high")}},
	)
	require.NoError(t, err)

	_, err = BuildIndicators(frame, testColumns, DefaultOptions(), nil)
	assert.ErrorIs(t, err, errors.ErrSchema)
}

func TestPostSplitMedianAndCutover(t *testing.T) {
	day := func(s string) panel.Value {
		v, err := panel.ParseAs(s, panel.KindTimestamp)
		require.NoError(t, err)
		return v
	}
	frame := rowsFrame(t, []testkit.Row{
		{Unit: "u1", Arm: "a", Time: day("2024-01-01"), Outcome: 1},
		{Unit: "u1", Arm: "a", Time: day("2024-01-08"), Outcome: 1},
		{Unit: "u1", Arm: "a", Time: day("2024-01-15"), Outcome: 1},
		{Unit: "u2", Arm: "b", Time: day("2024-01-01"), Outcome: 1},
		{Unit: "u2", Arm: "b", Time: day("2024-01-08"), Outcome: 1},
		{Unit: "u2", Arm: "b", Time: day("2024-01-15"), Outcome: 1},
	})
	p, err := BuildIndicators(frame, testColumns, DefaultOptions(), nil)
	require.NoError(t, err)

	split, err := p.PostSplit(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-08"), split.Threshold)
	assert.Equal(t, []bool{false, true, true, false, true, true}, split.Post)

	opts := DefaultOptions()
	opts.Cutover = "2024-01-15"
	split, err = p.PostSplit(opts)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true, false, false, true}, split.Post)

	opts.Cutover = "next tuesday"
	_, err = p.PostSplit(opts)
	assert.ErrorIs(t, err, errors.ErrSchema)
}

func TestRelativeTimesNeedThreePeriods(t *testing.T) {
	p, err := BuildIndicators(twoByTwo(t, []float64{0.2, 0.3}), testColumns, DefaultOptions(), nil)
	require.NoError(t, err)

	_, err = p.RelativeTimes()
	assert.ErrorIs(t, err, errors.ErrInsufficientPeriods)
}

func TestCompileDesignEventStudyTerms(t *testing.T) {
	frame := generated(t, func(c *testkit.PanelGeneratorConfig) { c.Periods = 4 })
	p, err := BuildIndicators(frame, testColumns, DefaultOptions(), nil)
	require.NoError(t, err)
	rel, err := p.RelativeTimes()
	require.NoError(t, err)

	d, err := CompileDesign(ModeEventStudy, DesignInput{Panel: p, RelativeTimes: rel})
	require.NoError(t, err)

	assert.Equal(t, []string{
		did.TermIntercept, did.TermTreated,
		"event_-2", "event_-1", "event_1",
		"event_-2_treated", "event_-1_treated", "event_1_treated",
	}, d.TermNames())
	assert.Equal(t, []int{-2, -1, 1}, d.EventPeriods)
	assert.Equal(t, "conversion_rate ~ treated + event_-2 + event_-1 + event_1 + event_-2_treated + event_-1_treated + event_1_treated", d.Formula())
	assert.Equal(t, "event-study", d.Mode.String())
}

func TestCompileDesignSkipsRowsWithMissingCovariate(t *testing.T) {
	frame := generated(t, func(c *testkit.PanelGeneratorConfig) { c.Covariates = true })
	size, _ := frame.Column(testkit.ColSize)
	size.Values[0] = panel.Missing()

	cols := testColumns
	cols.Covariates = []string{testkit.ColSize}
	p, err := BuildIndicators(frame, cols, DefaultOptions(), nil)
	require.NoError(t, err)
	split, err := p.PostSplit(DefaultOptions())
	require.NoError(t, err)

	d, err := CompileDesign(ModeStatic, DesignInput{Panel: p, Post: split.Post, Covariates: cols.Covariates})
	require.NoError(t, err)
	assert.Equal(t, len(p.Observations)-1, d.NObs())
	assert.Equal(t, 1, d.Rows[0])
	assert.Equal(t, "conversion_rate ~ treated + post + treated:post + store_size", d.Formula())
}
