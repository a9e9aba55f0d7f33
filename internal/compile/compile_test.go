package compile

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutline = `
metadata:
  agent: extractor
  model: qwen2.5:7b
title: Financial Statement Analysis
description: "  Step by step review of a company's statements.  "
tags: [finance, " ratios "]
classification:
  methodology_type: Diagnostic
structure:
  stages:
    - id: s-b
      title: Compute ratios
      description: Liquidity and leverage
      order: 2
    - id: s-a
      title: Collect statements
      description: Balance sheet and P&L
      order: 1
    - title: Write conclusion
      description: Summarize
  tools:
    - title: Ratio worksheet
      type: Spreadsheet
      stage: s-b
    - title: Trend chart
      type: graph
      stage: "1"
    - title: Mystery
      type: hologram
      stage: Write Conclusion
  indicators:
    - name: Current ratio
      description: Short-term liquidity
      formula: " CA / CL "
      stage: s-b
      terms: [Current assets, "current assets", Current liabilities]
  rules:
    - title: Low liquidity
      description: Current ratio below 1
      severity: High
      stage: s-b
    - description: Missing statements
      severity: low
glossary_references:
  found_terms:
    - term_id: EBITDA
      name: EBITDA
    - term_id: term_ebitda
`

func compileSample(t *testing.T) *models.CompiledMethodology {
	t.Helper()
	outline, err := parser.DecodeOutline([]byte(sampleOutline))
	require.NoError(t, err)
	compiled, err := New(nil).Compile(outline, "Fin Analysis 2024")
	require.NoError(t, err)
	return compiled
}

func TestCompile_Normalizes(t *testing.T) {
	c := compileSample(t)

	assert.Equal(t, "fin-analysis-2024", c.MethodologyID)
	assert.Equal(t, "Step by step review of a company's statements.", c.Description)
	assert.Equal(t, []string{"finance", "ratios"}, c.Tags)
	assert.Equal(t, models.TypeDiagnostic, c.Classification.MethodologyType)

	require.Len(t, c.Structure.Stages, 3)
	assert.Equal(t, models.Stage{ID: "stage_001", Title: "Collect statements", Description: "Balance sheet and P&L", Order: 1}, c.Structure.Stages[0])
	assert.Equal(t, "stage_002", c.Structure.Stages[1].ID)
	assert.Equal(t, "Compute ratios", c.Structure.Stages[1].Title)
	assert.Equal(t, 3, c.Structure.Stages[2].Order, "unordered stage goes last")

	tools := c.Structure.Tools
	require.Len(t, tools, 3)
	assert.Equal(t, []string{"tool_001", "tool_002", "tool_003"}, []string{tools[0].ID, tools[1].ID, tools[2].ID})
	assert.Equal(t, models.ToolTable, tools[0].Type)
	assert.Equal(t, "stage_002", tools[0].Stage, "old id is remapped")
	assert.Equal(t, models.ToolChart, tools[1].Type)
	assert.Equal(t, "stage_001", tools[1].Stage, "old order number is remapped")
	assert.Equal(t, models.ToolOther, tools[2].Type)
	assert.Equal(t, "stage_003", tools[2].Stage, "title reference is remapped")

	ind := c.Structure.Indicators[0]
	assert.Equal(t, "ind_001", ind.ID)
	assert.Equal(t, "CA / CL", ind.Formula)
	assert.Equal(t, []string{"term_current_assets", "term_current_liabilities"}, ind.Terms)

	rules := c.Structure.Rules
	assert.Equal(t, models.SeverityCritical, rules[0].Severity)
	assert.Equal(t, models.SeverityInfo, rules[1].Severity)
	assert.Empty(t, rules[1].Stage)

	assert.Equal(t, []models.FoundTerm{{TermID: "term_ebitda", Name: "EBITDA"}}, c.GlossaryReferences.FoundTerms)
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"high", models.SeverityCritical, false},
		{"Medium", models.SeverityWarning, false},
		{"low", models.SeverityInfo, false},
		{"critical", models.SeverityCritical, false},
		{" warning ", models.SeverityWarning, false},
		{"info", models.SeverityInfo, false},
		{"", models.SeverityWarning, false},
		{"catastrophic", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeSeverity(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownSeverity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_UnknownSeverityIsInputError(t *testing.T) {
	outline := &models.Outline{Structure: models.Structure{
		Stages: []models.Stage{{Title: "a", Description: "b", Order: 1}},
		Rules:  []models.Rule{{Description: "x", Severity: "apocalyptic"}},
	}}
	_, err := New(nil).Compile(outline, "book")
	assert.ErrorIs(t, err, ErrUnknownSeverity)
}

func TestCompile_RejectsEmptyBookID(t *testing.T) {
	_, err := New(nil).Compile(&models.Outline{}, " !! ")
	assert.Error(t, err)
}

func snapshotDir(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestCompile_Deterministic(t *testing.T) {
	root := t.TempDir()
	outlinePath := filepath.Join(root, "outline.yaml")
	require.NoError(t, os.WriteFile(outlinePath, []byte(sampleOutline), 0o644))

	run := func(dir string) map[string]string {
		c := New(nil)
		compiled, err := c.CompileFile(outlinePath, "fin-analysis")
		require.NoError(t, err)
		require.NoError(t, c.WriteRecord(filepath.Join(dir, "data", "fin-analysis.yaml"), compiled))
		_, err = c.Render(compiled, filepath.Join(dir, "docs"))
		require.NoError(t, err)
		return snapshotDir(t, dir)
	}

	first := run(filepath.Join(root, "one"))
	second := run(filepath.Join(root, "two"))
	assert.Equal(t, first, second)
}

func TestRender_FileSet(t *testing.T) {
	docs := t.TempDir()
	c := New(nil)
	compiled := compileSample(t)

	stale := filepath.Join(MethodologyDir(docs, compiled.MethodologyID), StagesDir, "stage_009_old.md")
	require.NoError(t, parser.WriteFile(stale, []byte("old")))

	written, err := c.Render(compiled, docs)
	require.NoError(t, err)
	assert.Len(t, written, 1+3+3+1+2)
	assert.NoFileExists(t, stale)

	files := snapshotDir(t, MethodologyDir(docs, compiled.MethodologyID))
	var names []string
	for name := range files {
		names = append(names, filepath.ToSlash(name))
	}
	sort.Strings(names)
	assert.Contains(t, names, "README.md")
	assert.Contains(t, names, "stages/stage_001_collect-statements.md")
	assert.Contains(t, names, "indicators/ind_001_current-ratio.md")
	assert.Contains(t, names, "rules/rule_002_missing-statements.md")

	readme := files["README.md"]
	assert.Contains(t, readme, "# Financial Statement Analysis")
	assert.Contains(t, readme, "1. **Collect statements**: Balance sheet and P&L")
	assert.Contains(t, readme, "3. **Write conclusion**")

	stage := files[filepath.Join(StagesDir, "stage_002_compute-ratios.md")]
	assert.Contains(t, stage, "`tool_001` Ratio worksheet")
	assert.Contains(t, stage, "`ind_001` Current ratio")
	assert.Contains(t, stage, "[critical] Low liquidity")

	indicator := files[filepath.Join(IndicatorsDir, "ind_001_current-ratio.md")]
	assert.Contains(t, indicator, "`CA / CL`")
}
