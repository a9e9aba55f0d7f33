package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"text/template"

	"github.com/raphaelgruber/methodkb/internal/gate"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

const summaryTemplate = `# Release Summary: {{.M.BookID}}

**Run ID**: ` + "`{{.M.RunID}}`" + `
**Created**: {{.M.CreatedAt.Format "2006-01-02T15:04:05Z07:00"}}
**Duration**: {{printf "%.1f" .Duration}}s
**Status**: {{if .Success}}SUCCESS{{else}}FAILED{{end}}
**Exit Code**: {{.ExitCode}}

## Verdict

{{if .Success -}}
**Pipeline completed successfully**
{{- if .GateStatus}}
- Quality Gate: **{{.GateStatus}}**
{{- end}}
{{- if .M.QA.Approved}}
- QA Review: **{{if deref .M.QA.Approved}}APPROVED{{else}}NOT APPROVED{{end}}**
{{- end}}

**Next actions**:
- Review artifacts in ` + "`work/`" + ` and ` + "`data/`" + `
- Methodology ready for publication
{{- else if .GateFailure -}}
**Pipeline stopped: Quality Gate FAIL**

- Gate status: **{{.GateStatus}}**
- Blockers: **{{.GateBlockers}}** issues

**Next actions**:
1. Review the gate issues below
2. Fix the extracted outline (` + "`work/{{.M.BookID}}/`" + `)
3. Re-run: ` + "`methodkb run --book-id {{.M.BookID}} --steps gate,glossary-sync,publish`" + `
{{- else -}}
**Pipeline failed during execution**
{{with .Failed}}
- Failed step: **{{.Name}}**
{{- if .Error}}
- Error: ` + "`{{.Error}}`" + `
{{- end}}
{{- end}}

**Next actions**:
1. Check the error details in the manifest
2. Fix the issue in the input data or configuration
3. Re-run the pipeline
{{- end}}

## Pipeline Steps

**Total**: {{.Total}} | **Completed**: {{.Completed}} | **Failed**: {{.FailedCount}} | **Skipped**: {{.Skipped}}

| Step | Status | Duration | Artifacts |
|------|--------|----------|-----------|
{{- range .M.Steps}}
| {{.Name}} | {{.Status}} | {{printf "%.2f" .DurationSec}}s | {{if .Artifacts}}{{len .Artifacts}} files{{else}}-{{end}} |
{{- end}}
{{with .Gate}}
## Quality Gate

**Status**: {{.Status}}

### Metrics

- **Stages**: {{.Metrics.NStages}}
- **Empty stage descriptions**: {{pct .Metrics.EmptyStageDescRatio}}
- **Stage order correct**: {{yesno .Metrics.OrderOK}}
- **Indicators**: {{.Metrics.NIndicators}}
- **Empty indicator descriptions**: {{pct .Metrics.EmptyIndicatorDescRatio}}
- **Formula coverage**: {{pct .Metrics.FormulaNonEmptyRatio}}
{{- if .Issues}}

### Issues
{{range .Issues}}
- **{{.Severity}}** ` + "`{{.Code}}`" + `: {{.Message}}
{{- end}}
{{- end}}
{{end}}
## Artifacts
{{range .M.Steps}}{{range .Artifacts}}
- ` + "`{{.}}`" + `
{{- end}}{{end}}
`

var summaryTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"deref": func(b *bool) bool { return b != nil && *b },
	"pct": func(f *float64) string {
		if f == nil {
			return "N/A"
		}
		return fmt.Sprintf("%.1f%%", *f*100)
	},
	"yesno": func(b *bool) string {
		switch {
		case b == nil:
			return "N/A"
		case *b:
			return "Yes"
		default:
			return "No"
		}
	},
}).Parse(summaryTemplate))

type summaryData struct {
	M            *models.RunManifest
	Gate         *gate.Result
	Failed       *models.StepResult
	GateStatus   string
	GateBlockers int
	Duration     float64
	ExitCode     int
	Success      bool
	GateFailure  bool
	Total        int
	Completed    int
	FailedCount  int
	Skipped      int
}

// RenderSummary renders the release summary of a run. gateResult may be nil.
func RenderSummary(m *models.RunManifest, gateResult *gate.Result) ([]byte, error) {
	data := summaryData{
		M:           m,
		Gate:        gateResult,
		Failed:      FailedStep(m),
		ExitCode:    m.Outcome.ExitCode(),
		Success:     m.Outcome == models.OutcomeSuccess,
		GateFailure: m.Outcome == models.OutcomeGateFailure,
		Total:       len(m.Steps),
	}
	if m.QA.GateStatus != nil {
		data.GateStatus = *m.QA.GateStatus
	}
	if gateResult != nil {
		data.GateBlockers = gateResult.Blockers()
	}
	for _, s := range m.Steps {
		data.Duration += s.DurationSec
		switch s.Status {
		case models.StepOK:
			data.Completed++
		case models.StepFail:
			data.FailedCount++
		case models.StepSkipped:
			data.Skipped++
		}
	}

	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSummary renders release/summary.md for the run in runDir, including
// the gate report when the run produced one.
func WriteSummary(runDir string, m *models.RunManifest) (string, error) {
	var gateResult *gate.Result
	var res gate.Result
	switch err := parser.ReadJSON(filepath.Join(runDir, GateReportFile), &res); {
	case err == nil:
		gateResult = &res
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read gate report: %w", err)
	}

	out, err := RenderSummary(m, gateResult)
	if err != nil {
		return "", err
	}
	path := filepath.Join(runDir, ReleaseDir, SummaryFile)
	if err := parser.WriteFile(path, out); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}
