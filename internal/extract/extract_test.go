package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers prompts in order and records them.
type scripted struct {
	answers []string
	err     error
	prompts []string
}

func (s *scripted) GenerateWithSystem(_ context.Context, _, user string) (string, error) {
	s.prompts = append(s.prompts, user)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "{}", nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) Model() string { return "scripted" }

func blocks() []models.Block {
	return []models.Block{
		{Type: models.BlockHeading, Text: "Liquidity", Source: models.BlockSource{Page: 1, File: "book.pdf"}},
		{Type: models.BlockParagraph, Text: strings.Repeat("a", 40), Source: models.BlockSource{Page: 1}},
		{Type: models.BlockHeading, Text: "Solvency", Source: models.BlockSource{Page: 2}},
		{Type: models.BlockParagraph, Text: strings.Repeat("b", 40), Source: models.BlockSource{Page: 2}},
	}
}

const chunkOne = "```json\n" + `{
  "methodology_type": "diagnostic",
  "title": "Financial diagnostics",
  "stages": [
    {"title": "Compute ratios", "description": "Compute liquidity ratios", "order": 2},
    {"title": "Collect data", "description": "Gather statements", "order": 1}
  ],
  "tools": [{"title": "Balance sheet", "type": "spreadsheet", "stage": "collect data"}],
  "indicators": [{"name": "Current ratio", "formula": "CA / CL", "stage": "Compute ratios", "terms": ["Current assets"]}],
  "rules": [{"condition": "current ratio < 1", "action": "flag liquidity risk", "severity": "HIGH"}],
  "terms": ["EBITDA"]
}` + "\n```"

const chunkTwo = `{
  "methodology_type": "analysis",
  "stages": [
    {"title": "Collect  DATA", "description": "duplicate"},
    {"title": "Assess solvency", "description": "Debt to equity", "order": 1}
  ],
  "indicators": [{"name": "current ratio", "description": "dup"}, {"name": "Debt to equity", "formula": "D / E"}],
  "terms": ["current assets"],
}`

func TestExtractMergesFragments(t *testing.T) {
	gen := &scripted{answers: []string{chunkOne, chunkTwo}}
	x := New(gen, nil).WithChunkConfig(parser.ChunkConfig{TargetSize: 30, MaxSize: 1000})

	o, err := x.Extract(context.Background(), "book-1", blocks())
	require.NoError(t, err)
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "Section: Solvency")

	assert.Equal(t, "Financial diagnostics", o.Title)
	assert.Equal(t, models.TypeDiagnostic, o.Classification.MethodologyType, "ties go to the first seen type")
	assert.Equal(t, models.OutlineMetadata{Agent: AgentName, Version: Version, Model: "scripted", Chunks: 2, SourceFile: "book.pdf"}, o.Metadata)

	require.Len(t, o.Structure.Stages, 3)
	assert.Equal(t, []models.Stage{
		{ID: "stage_001", Title: "Collect data", Description: "Gather statements", Order: 1},
		{ID: "stage_002", Title: "Compute ratios", Description: "Compute liquidity ratios", Order: 2},
		{ID: "stage_003", Title: "Assess solvency", Description: "Debt to equity", Order: 3},
	}, o.Structure.Stages)

	require.Len(t, o.Structure.Tools, 1)
	assert.Equal(t, "stage_001", o.Structure.Tools[0].Stage)
	assert.Equal(t, "spreadsheet", o.Structure.Tools[0].Type, "type mapping is left to the compiler")

	require.Len(t, o.Structure.Indicators, 2)
	assert.Equal(t, "stage_002", o.Structure.Indicators[0].Stage)
	assert.Equal(t, []string{"term_current_assets"}, o.Structure.Indicators[0].Terms)
	assert.Equal(t, "ind_002", o.Structure.Indicators[1].ID)

	require.Len(t, o.Structure.Rules, 1)
	assert.Equal(t, "If current ratio < 1, then flag liquidity risk", o.Structure.Rules[0].Description)
	assert.Equal(t, "high", o.Structure.Rules[0].Severity)

	assert.Equal(t, []models.FoundTerm{
		{TermID: "term_current_assets", Name: "Current assets"},
		{TermID: "term_ebitda", Name: "EBITDA"},
	}, o.GlossaryReferences.FoundTerms)
}

func TestExtractSkipsUnparseableChunks(t *testing.T) {
	gen := &scripted{answers: []string{"I cannot help with that", chunkTwo}}
	x := New(gen, nil).WithChunkConfig(parser.ChunkConfig{TargetSize: 30, MaxSize: 1000})

	o, err := x.Extract(context.Background(), "book-1", blocks())
	require.NoError(t, err)
	assert.Equal(t, "book-1", o.Title)
	assert.Equal(t, models.TypeAnalysis, o.Classification.MethodologyType)
	require.Len(t, o.Structure.Stages, 2)
	assert.Equal(t, "Assess solvency", o.Structure.Stages[0].Title, "ordered stages come first")
}

func TestExtractErrors(t *testing.T) {
	_, err := New(&scripted{}, nil).Extract(context.Background(), "b", nil)
	assert.ErrorIs(t, err, ErrNoContent)

	boom := errors.New("llm down")
	_, err = New(&scripted{err: boom}, nil).Extract(context.Background(), "b", blocks())
	assert.ErrorIs(t, err, boom)
}

func TestExtractFileWritesOutline(t *testing.T) {
	dir := t.TempDir()
	blocksPath := filepath.Join(dir, "blocks.jsonl")
	require.NoError(t, os.WriteFile(blocksPath, []byte(
		`{"id":"b1","type":"heading","text":"Intro","source":{"page":1}}`+"\n"+
			`{"id":"b2","type":"paragraph","text":"Body","source":{"page":1}}`+"\n"), 0o644))
	outPath := filepath.Join(dir, "work", "outline_b.yaml")

	_, err := ExtractFile(context.Background(), New(&scripted{answers: []string{chunkOne}}, nil), "b", blocksPath, outPath)
	require.NoError(t, err)

	o, err := parser.LoadOutline(outPath)
	require.NoError(t, err)
	assert.True(t, o.HasStages())
	assert.Len(t, o.Structure.Stages, 2)
}

func TestMethodologyTypeVotes(t *testing.T) {
	f := func(typ string) *fragment { return &fragment{MethodologyType: typ} }
	tests := []struct {
		name  string
		frags []*fragment
		want  string
	}{
		{"none", nil, defaultType},
		{"unknown only", []*fragment{f("unknown")}, defaultType},
		{"majority", []*fragment{f("planning"), f("standard"), f("Standard")}, models.TypeStandard},
		{"tie first wins", []*fragment{f("planning"), nil, f("standard")}, models.TypePlanning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, methodologyType(tt.frags))
		})
	}
}
