package publish

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/raphaelgruber/methodkb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compiled() *models.CompiledMethodology {
	return &models.CompiledMethodology{
		MethodologyID:  "liquidity-check",
		Title:          "Liquidity check",
		Description:    "Assess short-term solvency",
		Tags:           []string{"liquidity"},
		Classification: models.Classification{MethodologyType: models.TypeDiagnostic},
		Structure: models.Structure{
			Stages: []models.Stage{
				{ID: "stage_001", Title: "Collect", Description: "Gather statements", Order: 1},
				{ID: "stage_002", Title: "Analyze", Description: "Compute ratios", Order: 2},
			},
			Tools: []models.Tool{
				{ID: "tool_001", Title: "Balance sheet", Type: models.ToolTable, Stage: "stage_001"},
			},
			Indicators: []models.Indicator{
				{ID: "ind_001", Name: "Current ratio", Formula: "CA / CL", Stage: "stage_002", Terms: []string{"term_current_assets"}},
			},
			Rules: []models.Rule{
				{ID: "rule_001", Description: "Ratio below one", Severity: models.SeverityCritical, Stage: "stage_002"},
			},
		},
		GlossaryReferences: models.GlossaryReferences{FoundTerms: []models.FoundTerm{
			{TermID: "term_ebitda", Name: "EBITDA"},
			{TermID: "term_current_assets", Name: "Current assets"},
		}},
		Source: models.CompiledSource{BookID: "liquidity-check"},
	}
}

func approved() *models.QAReport {
	return &models.QAReport{MethodologyID: "liquidity-check", Approved: true, Score: 95}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}
}

func newPublisher(s store.Store) *Publisher {
	return New(s, Options{Repo: "kb", Ref: "main"}, nil).WithRetry(fastRetry())
}

func seedCanonical(t *testing.T, s store.Store, id, name string) {
	t.Helper()
	_, err := s.UpsertRecord(context.Background(), store.CollTerm, id,
		store.TermFields(models.GlossaryTerm{ID: id, Name: name, Status: models.TermActive}))
	require.NoError(t, err)
}

func TestPublishRequiresApproval(t *testing.T) {
	p := newPublisher(store.NewMemory())

	_, err := p.Publish(context.Background(), compiled(), nil, false)
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = p.Publish(context.Background(), compiled(), &models.QAReport{Approved: false}, false)
	assert.ErrorIs(t, err, ErrNotApproved)

	report, err := p.Publish(context.Background(), compiled(), nil, true)
	require.NoError(t, err)
	assert.True(t, report.SkippedQA)
}

func TestPublishWritesGraph(t *testing.T) {
	s := store.NewMemory()
	seedCanonical(t, s, "term_ebitda", "EBITDA")

	report, err := newPublisher(s).Publish(context.Background(), compiled(), approved(), false)
	require.NoError(t, err)

	assert.Equal(t, models.Counts{Inserted: 1}, report.Collections[store.CollMethodology])
	assert.Equal(t, models.Counts{Inserted: 2}, report.Collections[store.CollStage])
	assert.Equal(t, models.Counts{Inserted: 2}, report.Edges[store.RelHasStage])
	assert.Equal(t, models.Counts{Inserted: 1}, report.Edges[store.RelUsesTool])
	assert.Equal(t, models.Counts{Inserted: 1}, report.Edges[store.RelUsesIndicator])
	assert.Equal(t, models.Counts{Inserted: 1}, report.Edges[store.RelHasRule])
	// methodology->ebitda, methodology->current_assets, indicator->current_assets
	assert.Equal(t, models.Counts{Inserted: 3}, report.Edges[store.RelUsesTerm])

	stage := s.Record(store.CollStage, "liquidity-check__stage_001")
	require.NotNil(t, stage)
	assert.Equal(t, "Collect Gather statements Balance sheet", stage["content_text"])
	assert.Equal(t, models.ContentHash("Collect Gather statements Balance sheet"), stage["content_hash"])
	assert.Equal(t, map[string]any{
		"repo":  "kb",
		"ref":   "main",
		"path":  "data/methodologies/liquidity-check.yaml",
		"agent": Agent,
	}, stage["lineage"])

	edges := s.Edges(store.RelHasStage)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, store.CollMethodology, e.FromColl)
		assert.Equal(t, "liquidity-check", e.FromKey)
	}
}

func TestPublishCreatesStubs(t *testing.T) {
	s := store.NewMemory()
	seedCanonical(t, s, "term_ebitda", "EBITDA")

	report, err := newPublisher(s).Publish(context.Background(), compiled(), approved(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"term_current_assets"}, report.StubsCreated)
	assert.Equal(t, 1, report.Warnings)
	require.Len(t, report.QAWarnings, 1)
	assert.Equal(t, "STUB-001", report.QAWarnings[0].ID)

	stub, err := s.GetTerm(context.Background(), "stub_term_current_assets")
	require.NoError(t, err)
	require.NotNil(t, stub)
	assert.Equal(t, models.TermNeedsDefinition, stub.Status)
	assert.Equal(t, "term_current_assets", stub.ID)
	assert.Equal(t, "Current assets", stub.Name)

	var toStub, toCanonical int
	for _, e := range s.Edges(store.RelUsesTerm) {
		switch e.ToKey {
		case "stub_term_current_assets":
			toStub++
		case "term_ebitda":
			toCanonical++
		}
	}
	assert.Equal(t, 2, toStub, "edges are written to the stub")
	assert.Equal(t, 1, toCanonical)
	assert.Nil(t, s.Record(store.CollTerm, "term_current_assets"), "canonical key is untouched")
}

func TestPublishWarnsOnlyForNewStubs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedCanonical(t, s, "term_ebitda", "EBITDA")
	p := newPublisher(s)

	_, err := p.Publish(ctx, compiled(), approved(), false)
	require.NoError(t, err)

	again, err := p.Publish(ctx, compiled(), approved(), false)
	require.NoError(t, err)
	assert.Empty(t, again.StubsCreated)
	assert.Zero(t, again.Warnings)
	assert.Empty(t, again.QAWarnings)

	var toStub int
	for _, e := range s.Edges(store.RelUsesTerm) {
		if e.ToKey == "stub_term_current_assets" {
			toStub++
		}
	}
	assert.Equal(t, 2, toStub, "edges still point at the existing stub")
}

func TestPublishFollowsMergedStub(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedCanonical(t, s, "term_ebitda", "EBITDA")
	seedCanonical(t, s, "term_current_assets_total", "Current assets")
	_, err := s.UpsertRecord(ctx, store.CollTerm, "stub_term_current_assets", store.TermFields(models.GlossaryTerm{
		ID: "term_current_assets", Name: "Current assets", Status: models.TermNeedsDefinition,
	}))
	require.NoError(t, err)
	require.NoError(t, s.MarkMerged(ctx, "stub_term_current_assets", "term_current_assets_total"))

	report, err := newPublisher(s).Publish(ctx, compiled(), approved(), false)
	require.NoError(t, err)
	assert.Empty(t, report.StubsCreated)
	assert.Zero(t, report.Warnings)

	stub, err := s.GetTerm(ctx, "stub_term_current_assets")
	require.NoError(t, err)
	assert.Equal(t, models.TermMerged, stub.Status, "a merged stub is not reopened")
}

func TestPublishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	p := newPublisher(s)

	first, err := p.Publish(ctx, compiled(), approved(), false)
	require.NoError(t, err)
	snapshot := func() map[string]int {
		out := map[string]int{}
		for _, name := range []string{
			store.CollMethodology, store.CollStage, store.CollTool, store.CollIndicator, store.CollRule, store.CollTerm,
			store.RelHasStage, store.RelUsesTool, store.RelUsesIndicator, store.RelHasRule, store.RelUsesTerm,
		} {
			out[name] = s.Count(name)
		}
		return out
	}
	before := snapshot()
	stageBefore := s.Record(store.CollStage, "liquidity-check__stage_002")

	second, err := p.Publish(ctx, compiled(), approved(), false)
	require.NoError(t, err)

	assert.Equal(t, before, snapshot())
	assert.Positive(t, first.Inserted())
	assert.Zero(t, second.Inserted())
	assert.Empty(t, second.StubsCreated)

	stageAfter := s.Record(store.CollStage, "liquidity-check__stage_002")
	assert.Equal(t, stageBefore[store.FieldCreatedAt], stageAfter[store.FieldCreatedAt])
	assert.Equal(t, stageBefore["content_hash"], stageAfter["content_hash"])
}

func TestPublishStoreFailure(t *testing.T) {
	s := store.NewMemory()
	s.FailOn = map[string]error{"upsert_edge": errors.New("connection refused")}

	_, err := newPublisher(s).Publish(context.Background(), compiled(), approved(), true)
	require.Error(t, err)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, store.RelHasStage, se.Collection)
	assert.Equal(t, "upsert edge", se.Op)
	assert.Contains(t, err.Error(), "publish methodology_has_stage: upsert edge: connection refused")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "m__stage_001", EntityKey("m", "stage_001"))

	k := EdgeKey("methodology:m", "stage:m__stage_001", store.RelHasStage)
	assert.Len(t, k, 32)
	assert.Equal(t, k, EdgeKey("methodology:m", "stage:m__stage_001", store.RelHasStage))
	assert.NotEqual(t, k, EdgeKey("stage:m__stage_001", "methodology:m", store.RelHasStage))
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	report := models.NewPublishReport("m")
	report.StubsCreated = []string{"term_x"}

	path, err := WriteReport(dir, report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ReportFile), path)

	var got models.PublishReport
	require.NoError(t, parser.ReadJSON(path, &got))
	assert.Equal(t, []string{"term_x"}, got.StubsCreated)
}

func TestEntities(t *testing.T) {
	ents := Entities(compiled())
	require.Len(t, ents, 5)
	assert.Equal(t, Entity{
		Collection: store.CollIndicator,
		Key:        "liquidity-check__ind_001",
		ID:         "ind_001",
		Stage:      "stage_002",
		Text:       "Current ratio CA / CL",
	}, ents[3])
	assert.Equal(t, "Analyze Compute ratios Current ratio", ents[1].Text)
}
