package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"didlab/domain/did"
	"didlab/internal"
	"didlab/internal/config"
	"didlab/internal/errors"
)

// File names written into the output directory
const (
	MarkdownFile  = "DID_Analysis_Report.md"
	HTMLFile      = "DID_Analysis_Report.html"
	ChartDataFile = "chart_data.json"
	ReportFile    = "report.json"
)

// Writer writes the Markdown report and, when enabled, its HTML rendering and
// chart data. It implements ports.ReportWriter.
type Writer struct {
	html      bool
	chartData bool
	logger    *internal.Logger
}

// NewWriter creates a writer from the output config
func NewWriter(cfg config.OutputConfig, logger *internal.Logger) *Writer {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Writer{
		html:      cfg.HTML,
		chartData: cfg.ChartData,
		logger:    logger.Named("report"),
	}
}

// DefaultOutputDir is <base>/<input name without extension>_did_analysis
func DefaultOutputDir(base, inputPath string) string {
	name := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if name == "" || name == "." {
		name = "input"
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, name+"_did_analysis")
}

// Write renders every artifact into dir, creating it if needed
func (w *Writer) Write(ctx context.Context, r *did.Report, dir string) (did.Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return did.Artifacts{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return did.Artifacts{}, errors.Wrapf(err, "failed to create output directory %s", dir)
	}
	out := did.Artifacts{Dir: dir}

	md, err := RenderMarkdown(r)
	if err != nil {
		return out, errors.Wrap(err, "failed to render Markdown report")
	}
	out.Markdown = filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(out.Markdown, md, 0o644); err != nil {
		return out, errors.Wrapf(err, "failed to write %s", out.Markdown)
	}

	if w.html {
		out.HTML = filepath.Join(dir, HTMLFile)
		page := RenderHTML(md, fmt.Sprintf("DID analysis: %s", r.Columns.Outcome))
		if err := os.WriteFile(out.HTML, page, 0o644); err != nil {
			return out, errors.Wrapf(err, "failed to write %s", out.HTML)
		}
	}

	if w.chartData {
		out.ChartData = filepath.Join(dir, ChartDataFile)
		if err := writeJSON(out.ChartData, BuildChartData(r)); err != nil {
			return out, err
		}
	}

	if err := writeJSON(filepath.Join(dir, ReportFile), r); err != nil {
		return out, err
	}

	w.logger.Info("report written to %s", dir)
	return out, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
