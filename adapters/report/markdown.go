package report

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"

	"didlab/domain/did"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

var funcMap = template.FuncMap{
	"f4":     func(v float64) string { return fmtFloat(v, "%.4f") },
	"signed": func(v float64) string { return fmtFloat(v, "%+.4f") },
	"g":      func(v float64) string { return fmtFloat(v, "%.6g") },
	"sub":    func(a, b float64) float64 { return a - b },
	"join":   strings.Join,
	"stars":  Stars,
	"pct":    func(v float64) string { return fmtFloat(v*100, "%.2f") + "%" },
	"pctAbs": func(v float64) string { return fmtFloat(math.Abs(v)*100, "%.2f") + "%" },
	"level": func(v float64) string {
		return strconv.FormatFloat(math.Round(v*1e4)/100, 'f', -1, 64) + "%"
	},
}

var markdownTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplate))

type reportView struct {
	*did.Report
	GeneratedAt   string
	Fingerprint   string
	StaticFailure *did.BranchFailure
	EventFailure  *did.BranchFailure
}

// Stars marks significance at the 0.1%, 1% and 5% levels
func Stars(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	default:
		return ""
	}
}

func fmtFloat(v float64, format string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "N/A"
	}
	return fmt.Sprintf(format, v)
}

// RenderMarkdown renders the analysis report as Markdown
func RenderMarkdown(r *did.Report) ([]byte, error) {
	view := reportView{
		Report:      r,
		GeneratedAt: r.GeneratedAt.Time().Format("2006-01-02 15:04:05 MST"),
		Fingerprint: r.Fingerprint.Short(),
	}
	if f, ok := r.Failure(did.BranchStatic); ok {
		view.StaticFailure = &f
	}
	if f, ok := r.Failure(did.BranchEventStudy); ok {
		view.EventFailure = &f
	}

	var buf bytes.Buffer
	if err := markdownTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderHTML converts Markdown into a standalone HTML page
func RenderHTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(md)

	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
	})
	return markdown.Render(doc, renderer)
}
