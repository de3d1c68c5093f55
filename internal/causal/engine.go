package causal

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"didlab/domain/core"
	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal"
	"didlab/internal/config"
	"didlab/internal/errors"
)

// Engine runs the static DID, event-study and parallel-trends branches over
// one prepared panel. An Engine holds no per-run state and may be shared.
type Engine struct {
	opts      Options
	logger    *internal.Logger
	estimator *Estimator
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(opts Options, logger *internal.Logger) *Engine {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Engine{
		opts:      opts,
		logger:    logger.Named("causal"),
		estimator: NewEstimator(opts),
	}
}

// Options returns the options the engine was built with
func (e *Engine) Options() Options { return e.opts }

// Run validates the frame, derives the indicators and runs every branch. Only
// a schema error fails the run; branch failures are recorded in the report
// and the branch's slot is left nil.
func (e *Engine) Run(ctx context.Context, frame *panel.Frame, cols did.Columns) (*did.Report, error) {
	p, err := BuildIndicators(frame, cols, e.opts, e.logger)
	if err != nil {
		e.logger.Error("analysis aborted: %v", err)
		return nil, err
	}
	return e.RunPanel(ctx, p), nil
}

// RunPanel runs the branches over an already prepared panel. The panel is
// only read.
func (e *Engine) RunPanel(ctx context.Context, p *Panel) *did.Report {
	report := &did.Report{
		RunID:         core.NewRunID(),
		Fingerprint:   fingerprint(p),
		GeneratedAt:   core.Now(),
		Columns:       p.Columns,
		NObservations: len(p.Observations),
		NDropped:      p.NDropped,
		UniqueTimes:   len(p.UniqueTimes),
		TreatedArm:    p.TreatedArm,
		ControlArm:    p.ControlArm,
		Outcome:       SummarizeOutcome(p),
	}
	if n := len(p.UniqueTimes); n > 0 {
		report.TimeRange = [2]panel.Value{p.UniqueTimes[0], p.UniqueTimes[n-1]}
	}
	report.Notes = e.notes(p)

	e.logger.Info("running analysis on %d observations, %d clusters, %d unique times (treated=%q control=%q)",
		len(p.Observations), countGroups(p), len(p.UniqueTimes), p.TreatedArm, p.ControlArm)

	var (
		staticRes *did.DIDResult
		eventRes  *did.EventStudyResult
		trendRes  *did.ParallelTrendsResult
		failures  = make([]*did.BranchFailure, 3)
	)

	branches := []func(){
		func() {
			res, err := e.StaticDID(ctx, p)
			if err != nil {
				failures[0] = e.failure(did.BranchStatic, err)
				return
			}
			staticRes = res
		},
		func() {
			if !e.opts.EventStudy {
				return
			}
			res, err := e.EventStudy(ctx, p)
			if err != nil {
				failures[1] = e.failure(did.BranchEventStudy, err)
				return
			}
			eventRes = res
		},
		func() {
			res, ok := ParallelTrends(p, e.opts)
			if !ok {
				e.logger.Info("parallel trends not applicable: %d unique times, pre-period must hold both arms", len(p.UniqueTimes))
				return
			}
			trendRes = res
		},
	}

	if e.opts.ParallelBranches {
		var wg sync.WaitGroup
		for _, branch := range branches {
			wg.Add(1)
			go func(run func()) {
				defer wg.Done()
				run()
			}(branch)
		}
		wg.Wait()
	} else {
		for _, branch := range branches {
			branch()
		}
	}

	report.DID = staticRes
	report.EventStudy = eventRes
	report.ParallelTrends = trendRes
	for _, f := range failures {
		if f != nil {
			report.Failures = append(report.Failures, *f)
		}
	}
	if trendRes == nil {
		report.Notes = append(report.Notes, "parallel trends diagnostic not applicable: fewer than 2 unique times or a pre-period with a single arm")
	}
	return report
}

// StaticDID fits outcome ~ treated + post + treated:post [+ covariates] and
// attaches the four cell means. Requires at least two unique times and every
// treated x post cell populated.
func (e *Engine) StaticDID(ctx context.Context, p *Panel) (*did.DIDResult, error) {
	if u := len(p.UniqueTimes); u < 2 {
		return nil, errors.InsufficientPeriods("static DID needs at least 2 unique time values, found %d", u)
	}

	split, err := p.PostSplit(e.opts)
	if err != nil {
		return nil, err
	}
	means, err := CellMeans(p, split.Post)
	if err != nil {
		return nil, err
	}

	design, err := CompileDesign(ModeStatic, DesignInput{
		Panel:      p,
		Post:       split.Post,
		Covariates: p.Columns.Covariates,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("static design: %s (%d rows)", design.Formula(), design.NObs())

	reg, err := e.estimator.Fit(ctx, design)
	if err != nil {
		return nil, errors.Wrapf(err, "static DID fit")
	}
	est, ok := reg.Coefficient(did.TermTreatedPost)
	if !ok {
		return nil, errors.InternalError("static DID fit has no " + did.TermTreatedPost + " coefficient")
	}

	return &did.DIDResult{
		Estimate:          est,
		Regression:        reg,
		Means:             means,
		PostThreshold:     split.Threshold,
		TreatedArm:        p.TreatedArm,
		ControlArm:        p.ControlArm,
		Covariates:        design.Covariates,
		DroppedCovariates: design.DroppedCovariates,
	}, nil
}

func (e *Engine) failure(branch did.Branch, err error) *did.BranchFailure {
	e.logger.Warn("%s branch failed: %v", branch, err)
	return &did.BranchFailure{
		Branch:  branch,
		Code:    errors.GetCode(err),
		Message: err.Error(),
	}
}

func (e *Engine) notes(p *Panel) []string {
	var notes []string
	notes = append(notes, fmt.Sprintf("treated arm is %q and control arm is %q (rule: %s)",
		p.TreatedArm, p.ControlArm, e.opts.ArmRule))
	if p.ControlArm == "" {
		notes = append(notes, "treatment column has a single value; there is no control arm")
	}
	if p.NDropped > 0 {
		notes = append(notes, fmt.Sprintf("%d rows with missing treatment, outcome, time or group were dropped", p.NDropped))
	}
	if len(p.DroppedCovariates) > 0 {
		notes = append(notes, fmt.Sprintf("covariates not found and dropped: %s", strings.Join(p.DroppedCovariates, ", ")))
	}
	if len(p.UniqueTimes) == 1 {
		notes = append(notes, "every observation has the same time value; the median split puts all rows in the post period")
	}
	if p.TimeKind == panel.KindTimestamp && e.opts.TimeEncoding != config.TimeEncodingIndex {
		notes = append(notes, fmt.Sprintf("trend slopes are per nanosecond of %q, so the balance threshold %g is rarely reached; set DID_TIME_ENCODING=index to compare slopes per period",
			p.Columns.Time, e.opts.BalanceThreshold))
	}
	if e.opts.Cutover != "" {
		notes = append(notes, fmt.Sprintf("post period starts at configured cutover %s", e.opts.Cutover))
	}
	return notes
}

func (p *Panel) covariateNames() []string {
	names := make([]string, len(p.Covariates))
	for i, c := range p.Covariates {
		names[i] = c.Name
	}
	return names
}

func countGroups(p *Panel) int {
	seen := make(map[string]struct{})
	for _, o := range p.Observations {
		seen[o.Group] = struct{}{}
	}
	return len(seen)
}

// fingerprint identifies the prepared input: column roles, arms and every
// observation in row order.
func fingerprint(p *Panel) core.Hash {
	f := core.NewFingerprinter().
		Add(p.Columns.Treatment).
		Add(p.Columns.Outcome).
		Add(p.Columns.Time).
		Add(p.Columns.Group).
		AddSorted(p.covariateNames()).
		Add(p.TreatedArm).
		Add(p.ControlArm)

	names := p.covariateNames()
	sort.Strings(names)
	for _, o := range p.Observations {
		f.Add(o.Group).
			Add(o.Time.String()).
			Add(o.Arm).
			Add(strconv.FormatFloat(o.Outcome, 'g', -1, 64))
		for _, n := range names {
			f.Add(o.Covariates[n].String())
		}
	}
	return f.Sum()
}
