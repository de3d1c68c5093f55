package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"didlab/domain/did"
	"didlab/internal/causal"
	"didlab/internal/config"
	"didlab/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(t *testing.T) *did.Report {
	t.Helper()
	frame, err := testkit.NewPanelGenerator(testkit.DefaultPanelConfig()).Generate()
	require.NoError(t, err)

	report, err := causal.NewEngine(causal.DefaultOptions(), nil).Run(context.Background(), frame, did.Columns{
		Treatment: testkit.ColArm,
		Outcome:   testkit.ColOutcome,
		Time:      testkit.ColPeriod,
		Group:     testkit.ColUnit,
	})
	require.NoError(t, err)
	require.NotNil(t, report.DID)
	require.NotNil(t, report.EventStudy)
	return report
}

func TestRenderMarkdownSections(t *testing.T) {
	md, err := RenderMarkdown(sampleReport(t))
	require.NoError(t, err)
	text := string(md)

	for _, want := range []string{
		"# DID (Difference-in-Differences) Analysis Report",
		"## 1. Data Overview",
		"| Treatment Column | `arm` (treated = \"treatment\", control = \"control\") |",
		"## 2. DID Regression Results",
		"Model: `conversion_rate ~ treated + post + treated:post`",
		"| 95% CI |",
		"**Calculation Check**:",
		"## 4. Parallel Trends Test",
		"## 5. Event Study: Dynamic Effects",
		"| -1 |",
		"## 6. Business Interpretation",
		"increased **conversion_rate**",
		"## 7. Technical Notes",
		"Standard errors are clustered by `unit`",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "<no value>")
}

func TestRenderMarkdownWithFailedBranches(t *testing.T) {
	r := sampleReport(t)
	r.DID = nil
	r.EventStudy = nil
	r.ParallelTrends = nil
	r.Failures = []did.BranchFailure{
		{Branch: did.BranchStatic, Code: "EMPTY_GROUP", Message: "no observations in cell(s) [control-pre]"},
		{Branch: did.BranchEventStudy, Code: "INSUFFICIENT_PERIODS", Message: "event study needs at least 3 unique time values, found 2"},
	}

	md, err := RenderMarkdown(r)
	require.NoError(t, err)
	text := string(md)
	assert.Contains(t, text, "could not be computed: no observations in cell(s) [control-pre] (`EMPTY_GROUP`)")
	assert.Contains(t, text, "The event study could not be estimated")
	assert.Contains(t, text, "Parallel trends test could not be performed")
	assert.Contains(t, text, "No static estimate is available")
}

func TestStars(t *testing.T) {
	assert.Equal(t, "***", Stars(0.0001))
	assert.Equal(t, "**", Stars(0.005))
	assert.Equal(t, "*", Stars(0.04))
	assert.Equal(t, "", Stars(0.2))
}

func TestWriterWritesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewWriter(config.OutputConfig{HTML: true, ChartData: true}, nil)
	r := sampleReport(t)

	artifacts, err := w.Write(context.Background(), r, dir)
	require.NoError(t, err)

	assert.FileExists(t, artifacts.Markdown)
	assert.FileExists(t, filepath.Join(dir, ReportFile))

	page, err := os.ReadFile(artifacts.HTML)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<table>")
	assert.Contains(t, string(page), "<title>DID analysis: conversion_rate</title>")

	raw, err := os.ReadFile(artifacts.ChartData)
	require.NoError(t, err)
	var chart ChartData
	require.NoError(t, json.Unmarshal(raw, &chart))
	require.Len(t, chart.Means, 4)
	assert.Equal(t, r.DID.Means.TreatedPost, chart.Means[1].Mean)
	assert.Len(t, chart.EventStudy, len(r.EventStudy.Points))
}

func TestWriterSkipsOptionalArtifacts(t *testing.T) {
	dir := t.TempDir()
	artifacts, err := NewWriter(config.OutputConfig{}, nil).Write(context.Background(), sampleReport(t), dir)
	require.NoError(t, err)
	assert.Empty(t, artifacts.HTML)
	assert.Empty(t, artifacts.ChartData)
	assert.NoFileExists(t, filepath.Join(dir, HTMLFile))
}

func TestDefaultOutputDir(t *testing.T) {
	assert.Equal(t, filepath.Join("reports", "store_test_did_analysis"), DefaultOutputDir("reports", "/data/store_test.csv"))
	assert.Equal(t, "sales_did_analysis", DefaultOutputDir("", "sales.xlsx"))
}
