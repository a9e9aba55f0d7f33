package review

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

// Output file names under the QA directory.
const (
	ResultFile = "qa_result.json"
	ReportFile = "qa_report.md"
)

const reportTemplate = `# QA Report: {{.Report.MethodologyID}}

## Verdict
- approved: **{{.Report.Approved}}**
- score: **{{.Report.Score}}/100**
- schema_ok: {{.Report.SchemaOK}}
- glossary_coverage: {{printf "%.2f" .Report.Stats.GlossaryCoverage}}
- formula_checks_passed: {{printf "%.2f" .Report.Stats.FormulaRatio}}
{{- range .Sections}}

## {{.Title}}
{{- range .Issues}}
- **[{{.Severity}}][{{.Category}}]** {{.Message}}
{{- with evidence .Evidence}}
  - Evidence: ` + "`{{.}}`" + `
{{- end}}
{{- with .Evidence.Snippet}}
  - Snippet: ` + "`{{.}}`" + `
{{- end}}
{{- with .FixHint}}
  - Fix: {{.}}
{{- end}}
{{- end}}
{{- end}}
{{- if .Report.Strengths}}

## Strengths
{{- range .Report.Strengths}}
- {{.}}
{{- end}}
{{- end}}

## Next actions
1. Fix BLOCKER and MAJOR issues in the outline or the compiler output.
2. Re-run compile to regenerate the record and documents.
3. Re-run review until approved.
`

var reportTmpl = template.Must(template.New("qa_report").
	Funcs(template.FuncMap{"evidence": evidenceRef}).
	Parse(reportTemplate))

type reportSection struct {
	Title  string
	Issues []models.Issue
}

func evidenceRef(ev models.Evidence) string {
	if ev.Pointer != "" {
		return ev.Pointer
	}
	return ev.Path
}

// RenderReport renders the Markdown QA report.
func RenderReport(report models.QAReport) ([]byte, error) {
	var sections []reportSection
	for _, s := range []struct{ severity, title string }{
		{models.IssueBlocker, "Blockers"},
		{models.IssueMajor, "Major issues"},
		{models.IssueMinor, "Minor issues"},
	} {
		var issues []models.Issue
		for _, it := range report.Issues {
			if it.Severity == s.severity {
				issues = append(issues, it)
			}
		}
		if len(issues) > 0 {
			sections = append(sections, reportSection{Title: s.title, Issues: issues})
		}
	}

	var buf bytes.Buffer
	err := reportTmpl.Execute(&buf, struct {
		Report   models.QAReport
		Sections []reportSection
	}{report, sections})
	if err != nil {
		return nil, fmt.Errorf("render qa report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteResult writes qa_result.json and qa_report.md into dir and returns
// their paths.
func WriteResult(dir string, report models.QAReport) ([]string, error) {
	resultPath := filepath.Join(dir, ResultFile)
	if err := parser.WriteJSON(resultPath, report); err != nil {
		return nil, fmt.Errorf("write qa result: %w", err)
	}

	md, err := RenderReport(report)
	if err != nil {
		return nil, err
	}
	reportPath := filepath.Join(dir, ReportFile)
	if err := parser.WriteFile(reportPath, md); err != nil {
		return nil, fmt.Errorf("write qa report: %w", err)
	}
	return []string{resultPath, reportPath}, nil
}

// LoadResult reads a previously written qa_result.json.
func LoadResult(dir string) (*models.QAReport, error) {
	var report models.QAReport
	if err := parser.ReadJSON(filepath.Join(dir, ResultFile), &report); err != nil {
		return nil, err
	}
	return &report, nil
}
