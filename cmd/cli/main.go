package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"didlab/adapters/report"
	"didlab/app"
	"didlab/domain/did"
	"didlab/internal"
	"didlab/internal/config"
	"didlab/internal/container"
	"didlab/internal/testkit"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "didlab",
		Short:        "Difference-in-differences analysis for experiment and rollout data",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newRunsCmd(),
		newGenerateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c, err := container.New(cfg, internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel)))
	if err != nil {
		return nil, err
	}
	if err := c.InitWithDatabase(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newAnalyzeCmd() *cobra.Command {
	var (
		treatment    string
		outcome      string
		timeCol      string
		group        string
		covariates   []string
		output       string
		treatedArm   string
		cutover      string
		noEventStudy bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Estimate the treatment effect in a CSV, XLSX or JSON panel",
		Long: `Estimate the static DID effect, the event-study profile and the
parallel-trends diagnostic, then write a Markdown report.

Example: didlab analyze stores.csv -t layout -y conversion_rate --time week -g store_id -c region,store_size`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := setup(ctx)
			if err != nil {
				return err
			}
			defer c.Shutdown(ctx)

			result, err := c.Analysis.Analyze(ctx, app.AnalysisRequest{
				Path: args[0],
				Columns: did.Columns{
					Treatment:  treatment,
					Outcome:    outcome,
					Time:       timeCol,
					Group:      group,
					Covariates: covariates,
				},
				TreatedArm:   treatedArm,
				Cutover:      cutover,
				NoEventStudy: noEventStudy,
				OutputDir:    output,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSummary(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&treatment, "treatment", "t", "", "Treatment column (two arms)")
	cmd.Flags().StringVarP(&outcome, "outcome", "y", "", "Outcome column")
	cmd.Flags().StringVar(&timeCol, "time", "", "Time column")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group (unit) column, also the cluster variable")
	cmd.Flags().StringSliceVarP(&covariates, "covariates", "c", nil, "Covariate columns, comma separated")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default <REPORT_DIR>/<input>_did_analysis)")
	cmd.Flags().StringVar(&treatedArm, "treated-arm", "", "Label of the treated arm")
	cmd.Flags().StringVar(&cutover, "cutover", "", "First post-period time value instead of the median split")
	cmd.Flags().BoolVar(&noEventStudy, "no-event-study", false, "Skip the event study")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	for _, name := range []string{"treatment", "outcome", "time", "group"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

func printSummary(cmd *cobra.Command, result *app.AnalysisResult) {
	out := cmd.OutOrStdout()
	r := result.Report
	fmt.Fprintf(out, "Run %s: %d observations, %d time values, treated %q vs control %q\n",
		r.RunID, r.NObservations, r.UniqueTimes, r.TreatedArm, r.ControlArm)

	if r.DID != nil {
		e := r.DID.Estimate
		fmt.Fprintf(out, "DID estimate: %+.4f%s (SE %.4f, p=%.4f, CI [%.4f, %.4f])\n",
			e.Estimate, report.Stars(e.PValue), e.StdErr, e.PValue, e.CILower, e.CIUpper)
	}
	if r.ParallelTrends != nil {
		status := "PASSED"
		if !r.ParallelTrends.IsBalanced {
			status = "CAUTION"
		}
		fmt.Fprintf(out, "Parallel trends: %s (trend difference %.6g)\n", status, r.ParallelTrends.TrendDifference)
	}
	if r.EventStudy != nil {
		fmt.Fprintf(out, "Event study: %d periods around %s\n", len(r.EventStudy.Points), r.EventStudy.ReferenceTime)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(out, "Branch %s failed: [%s] %s\n", f.Branch, f.Code, f.Message)
	}
	for _, n := range r.Notes {
		fmt.Fprintf(out, "Note: %s\n", n)
	}
	if result.Artifacts.Markdown != "" {
		fmt.Fprintf(out, "Report: %s\n", result.Artifacts.Markdown)
	}
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived runs (requires DATABASE_URL)",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := setup(ctx)
			if err != nil {
				return err
			}
			defer c.Shutdown(ctx)

			runs, err := c.Analysis.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				estimate := "n/a"
				if r.Estimate != nil {
					estimate = fmt.Sprintf("%+.4f", *r.Estimate)
				}
				fmt.Fprintf(out, "%s  %s  %-24s %-20s %s  failures=%d\n",
					r.RunID, r.CreatedAt.Time().Format(time.RFC3339), r.InputName, r.Outcome, estimate, r.NFailures)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print an archived run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := setup(ctx)
			if err != nil {
				return err
			}
			defer c.Shutdown(ctx)

			record, err := c.Analysis.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newGenerateCmd() *cobra.Command {
	cfg := testkit.DefaultPanelConfig()
	var out string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic unit x period panel as CSV",
		Long: `Write a synthetic panel with a known effect, useful for trying the
analysis end to end.

Example: didlab generate --units 40 --periods 8 --effect 0.05 -o panel.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := testkit.NewPanelGenerator(cfg).Generate()
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := testkit.WriteCSV(f, frame); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\nanalyze with: didlab analyze %s -t %s -y %s --time %s -g %s\n",
				frame.Len(), out, out, testkit.ColArm, testkit.ColOutcome, testkit.ColPeriod, testkit.ColUnit)
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.Units, "units", cfg.Units, "Number of units")
	cmd.Flags().IntVar(&cfg.Periods, "periods", cfg.Periods, "Number of periods")
	cmd.Flags().Float64Var(&cfg.TreatedShare, "treated-share", cfg.TreatedShare, "Share of treated units")
	cmd.Flags().Float64Var(&cfg.Effect, "effect", cfg.Effect, "True treatment effect")
	cmd.Flags().Float64Var(&cfg.TreatedDrift, "treated-drift", cfg.TreatedDrift, "Extra per-period slope of the treated arm")
	cmd.Flags().Float64Var(&cfg.Noise, "noise", cfg.Noise, "Row-level noise SD")
	cmd.Flags().BoolVar(&cfg.Covariates, "covariates", cfg.Covariates, "Add region and store_size columns")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	cmd.Flags().StringVarP(&out, "output", "o", "panel.csv", "Output CSV path")

	return cmd
}
