package report

// reportTemplate renders a did.Report wrapped in reportView.
const reportTemplate = `# DID (Difference-in-Differences) Analysis Report

**Generated**: {{ .GeneratedAt }}  
**Run**: ` + "`{{ .RunID }}`" + ` (input fingerprint ` + "`{{ .Fingerprint }}`" + `)

## 1. Data Overview

| Item | Value |
|------|-------|
| Observations | {{ .NObservations }} |
| Dropped Rows | {{ .NDropped }} |
| Treatment Column | ` + "`{{ .Columns.Treatment }}`" + ` (treated = {{ printf "%q" .TreatedArm }}, control = {{ printf "%q" .ControlArm }}) |
| Outcome Column | ` + "`{{ .Columns.Outcome }}`" + ` |
| Time Column | ` + "`{{ .Columns.Time }}`" + ` ({{ .UniqueTimes }} unique values, {{ index .TimeRange 0 }} to {{ index .TimeRange 1 }}) |
| Group Column | ` + "`{{ .Columns.Group }}`" + ` |
{{- if .DID }}
| Post Threshold | {{ .DID.PostThreshold }} |
{{- end }}
| Outcome Mean / Median / SD | {{ f4 .Outcome.Mean }} / {{ f4 .Outcome.Median }} / {{ f4 .Outcome.StdDev }} |

## 2. DID Regression Results
{{ with .DID }}
Model: ` + "`{{ .Regression.Formula }}`" + `

**Key Parameter (treated:post) = DID Estimate**

| Metric | Value |
|-------|-------|
| DID Estimate | {{ signed .Estimate.Estimate }}{{ stars .Estimate.PValue }} |
| Standard Error | {{ f4 .Estimate.StdErr }} |
| p-value | {{ f4 .Estimate.PValue }} |
| {{ level .Regression.ConfidenceLevel }} CI | [{{ f4 .Estimate.CILower }}, {{ f4 .Estimate.CIUpper }}] |
| Clusters | {{ .Regression.NClusters }} ({{ .Regression.ClusterVar }}) |
| Reference Distribution | {{ .Regression.Distribution }} |
{{- if .Covariates }}
| Covariates | {{ join .Covariates ", " }} |
{{- end }}
{{- if .DroppedCovariates }}
| Dropped Covariates | {{ join .DroppedCovariates ", " }} |
{{- end }}

**Interpretation**: The treatment effect is {{ if lt .Estimate.PValue 0.05 }}significant{{ else }}not significant{{ end }} at the 5% level.

## 3. Group-Time Means

| Group | {{ $.Columns.Outcome }} Mean | N |
|-------|-----------------|---|
| Treated (Pre) | {{ f4 .Means.TreatedPre }} | {{ .Means.NTreatedPre }} |
| Treated (Post) | {{ f4 .Means.TreatedPost }} | {{ .Means.NTreatedPost }} |
| Control (Pre) | {{ f4 .Means.ControlPre }} | {{ .Means.NControlPre }} |
| Control (Post) | {{ f4 .Means.ControlPost }} | {{ .Means.NControlPost }} |

**Calculation Check**:
- DID = ({{ f4 .Means.TreatedPost }} - {{ f4 .Means.TreatedPre }}) - ({{ f4 .Means.ControlPost }} - {{ f4 .Means.ControlPre }})
- DID = {{ f4 (sub .Means.TreatedPost .Means.TreatedPre) }} - {{ f4 (sub .Means.ControlPost .Means.ControlPre) }} = {{ f4 .Means.Difference }}
{{ else }}
The static DID estimate could not be computed{{ with $.StaticFailure }}: {{ .Message }} (` + "`{{ .Code }}`" + `){{ end }}.
{{ end }}
## 4. Parallel Trends Test
{{ with .ParallelTrends }}
| Metric | Value |
|-------|-------|
| Pre-period Treated Mean | {{ f4 .TreatedPreMean }} |
| Pre-period Control Mean | {{ f4 .ControlPreMean }} |
| Pre-period Treated Slope | {{ g .TreatedSlope }} |
| Pre-period Control Slope | {{ g .ControlSlope }} |
| Pre-period Trend Difference | {{ g .TrendDifference }} |
| Pre-period Mean Difference | {{ f4 .PreMeanDifference }} |
| Threshold | {{ g .Threshold }} ({{ .ThresholdScale }}, time encoding {{ .TimeEncoding }}) |

**Parallel Trends Assumption**: {{ if .IsBalanced }}PASSED{{ else }}CAUTION{{ end }}

{{ if .IsBalanced -}}
Pre-treatment trends are approximately parallel between treatment and control groups.
{{- else -}}
Pre-treatment trends show some difference. Interpretation should be cautious.
{{- end }}
{{ else }}
Parallel trends test could not be performed (insufficient pre-treatment data).
{{ end }}
{{- with .EventStudy }}
## 5. Event Study: Dynamic Effects

Reference period: {{ .ReferenceTime }} (relative time 0, omitted)

| Relative Time | Time | Coefficient | SE | p-value | CI |
|----------------|------|-------------|----|---------|----|
{{- range .Points }}
| {{ .RelativeTime }} | {{ .Time }} | {{ signed .Coefficient }} | {{ f4 .StdErr }} | {{ f4 .PValue }} | [{{ f4 .CILower }}, {{ f4 .CIUpper }}] |
{{- end }}
{{ else }}
{{- with $.EventFailure }}
## 5. Event Study: Dynamic Effects

The event study could not be estimated: {{ .Message }} (` + "`{{ .Code }}`" + `).
{{ end }}
{{- end }}
## 6. Business Interpretation
{{ with .DID }}
### Key Finding
{{ if lt .Estimate.PValue 0.05 }}
The change {{ if gt .Estimate.Estimate 0.0 }}increased{{ else }}decreased{{ end }} **{{ $.Columns.Outcome }}** by **{{ pctAbs .Estimate.Estimate }}** ({{ level .Regression.ConfidenceLevel }} CI: [{{ pct .Estimate.CILower }}, {{ pct .Estimate.CIUpper }}]).

### Recommendations
{{ if gt .Estimate.Estimate 0.0 }}
- Consider rolling the change out to further channels or user segments
- Expect an effect of similar size where conditions match
{{- else }}
- Investigate why the effect is negative
- Consider rolling back or revising the change
{{- end }}
{{ else }}
The effect of the change is **not statistically significant** (p={{ f4 .Estimate.PValue }}).

### Recommendations

- The current data cannot show that the change works
- Collect more data or extend the observation window
{{- end }}
{{ else }}
No static estimate is available, so no business conclusion is drawn.
{{ end }}
---

## 7. Technical Notes

- Standard errors are clustered by ` + "`{{ .Columns.Group }}`" + `
- DID assumes parallel trends in the absence of treatment
- Results should be validated with additional robustness checks
{{- range .Notes }}
- {{ . }}
{{- end }}
{{- range .Failures }}
- Branch ` + "`{{ .Branch }}`" + ` failed: {{ .Message }}
{{- end }}
`
