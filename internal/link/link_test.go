package link

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/publish"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/raphaelgruber/methodkb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbedder maps text onto three topics by keyword.
type topicEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32
	err   error
}

func (e *topicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int32(len(texts)))
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		v := []float32{0.05, 0.05, 0.05}
		if strings.Contains(t, "liquid") || strings.Contains(t, "current") {
			v[0] = 1
		}
		if strings.Contains(t, "debt") || strings.Contains(t, "solven") {
			v[1] = 1
		}
		if strings.Contains(t, "collect") || strings.Contains(t, "statement") {
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func (e *topicEmbedder) Model() string { return "topics" }

func methodology() *models.CompiledMethodology {
	return &models.CompiledMethodology{
		MethodologyID: "m",
		Title:         "M",
		Structure: models.Structure{
			Stages: []models.Stage{
				{ID: "stage_001", Title: "Collect statements", Order: 1},
				{ID: "stage_002", Title: "Assess liquidity", Order: 2},
				{ID: "stage_003", Title: "Assess solvency", Order: 3},
			},
			Tools: []models.Tool{
				{ID: "tool_001", Title: "Statement checklist", Stage: "stage_001"},
			},
			Indicators: []models.Indicator{
				{ID: "ind_001", Name: "Current ratio"},
				{ID: "ind_002", Name: "Debt to equity", Stage: "stage_003"},
			},
			Rules: []models.Rule{
				{ID: "rule_001", Description: "Liquidity below one is critical"},
			},
		},
	}
}

func published(t *testing.T, c *models.CompiledMethodology) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	_, err := publish.New(s, publish.Options{}, nil).Publish(context.Background(), c, nil, true)
	require.NoError(t, err)
	return s
}

func TestLinkWritesEdgesAboveThreshold(t *testing.T) {
	c := methodology()
	s := published(t, c)
	emb := &topicEmbedder{}

	report, err := New(s, emb, Options{Threshold: 0.9, Repo: "kb"}, nil).Link(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Embedded)
	assert.Zero(t, report.Cached)

	pairs := map[string]bool{}
	for _, l := range report.Links {
		pairs[l.From+"->"+l.To] = true
		assert.GreaterOrEqual(t, l.Confidence, 0.9)
	}
	assert.Equal(t, map[string]bool{
		"stage_002->ind_001":  true,
		"stage_002->rule_001": true,
	}, pairs, "structurally attached pairs are not linked again")

	edges := s.Edges(store.RelSemanticallyRelated)
	require.Len(t, edges, 2)
	assert.Equal(t, "m__stage_002", edges[0].FromKey)
	assert.Equal(t, "topics", edges[0].Fields["model"])

	hash, vec, err := s.Embedding(context.Background(), store.CollStage, "m__stage_002")
	require.NoError(t, err)
	assert.Equal(t, models.ContentHash("Assess liquidity"), hash)
	assert.Len(t, vec, 3)
}

func TestLinkReusesCachedEmbeddings(t *testing.T) {
	c := methodology()
	s := published(t, c)
	emb := &topicEmbedder{}
	linker := New(s, emb, Options{Threshold: 0.9, BatchSize: 2}, nil)

	_, err := linker.Link(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, int32(4), emb.calls.Load(), "7 texts in batches of 2")

	report, err := linker.Link(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Cached)
	assert.Zero(t, report.Embedded)
	assert.Equal(t, int32(7), emb.texts.Load(), "nothing re-embedded")
	assert.Len(t, s.Edges(store.RelSemanticallyRelated), 2, "edges are upserted in place")

	c.Structure.Rules[0].Description = "Debt above equity is critical"
	_, err = publish.New(s, publish.Options{}, nil).Publish(context.Background(), c, nil, true)
	require.NoError(t, err)
	report, err = linker.Link(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded, "only the changed rule is re-embedded")
}

func TestLinkDryRun(t *testing.T) {
	c := methodology()
	s := published(t, c)

	report, err := New(s, &topicEmbedder{}, Options{Threshold: 0.9, DryRun: true}, nil).Link(context.Background(), c)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Links)
	assert.Empty(t, s.Edges(store.RelSemanticallyRelated))
	hash, _, err := s.Embedding(context.Background(), store.CollStage, "m__stage_001")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestLinkEmbedderFailure(t *testing.T) {
	c := methodology()
	boom := errors.New("embedder down")
	_, err := New(published(t, c), &topicEmbedder{err: boom}, Options{}, nil).Link(context.Background(), c)
	assert.ErrorIs(t, err, boom)
}

// flakyStore fails the first write of each kind, then delegates.
type flakyStore struct {
	*store.Memory
	setFailed, edgeFailed bool
	edgeBlock             bool
}

var errReset = errors.New("connection reset by peer")

func (f *flakyStore) SetEmbedding(ctx context.Context, collection, key, hash string, vec []float32) error {
	if !f.setFailed {
		f.setFailed = true
		return errReset
	}
	return f.Memory.SetEmbedding(ctx, collection, key, hash, vec)
}

func (f *flakyStore) UpsertEdge(ctx context.Context, relation, fromColl, fromKey, toColl, toKey, key string, fields map[string]any) (store.UpsertResult, error) {
	if f.edgeBlock {
		<-ctx.Done()
		return store.UpsertResult{}, ctx.Err()
	}
	if !f.edgeFailed {
		f.edgeFailed = true
		return store.UpsertResult{}, errReset
	}
	return f.Memory.UpsertEdge(ctx, relation, fromColl, fromKey, toColl, toKey, key, fields)
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, BackoffBase: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}
}

func TestLinkRetriesTransientStoreErrors(t *testing.T) {
	c := methodology()
	s := &flakyStore{Memory: published(t, c)}

	report, err := New(s, &topicEmbedder{}, Options{Threshold: 0.9}, nil).
		WithRetry(fastRetry(2)).
		Link(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, s.setFailed)
	assert.True(t, s.edgeFailed)
	assert.Len(t, report.Links, 2)
	assert.Len(t, s.Edges(store.RelSemanticallyRelated), 2)
}

func TestLinkStoreCallTimeout(t *testing.T) {
	c := methodology()
	s := &flakyStore{Memory: published(t, c), setFailed: true, edgeBlock: true}

	_, err := New(s, &topicEmbedder{}, Options{Threshold: 0.9, Timeout: 20 * time.Millisecond}, nil).
		WithRetry(fastRetry(1)).
		Link(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "write link")
}

func TestLinkStoreErrorAfterRetries(t *testing.T) {
	c := methodology()
	s := published(t, c)
	s.FailOn = map[string]error{"set_embedding": errReset}

	_, err := New(s, &topicEmbedder{}, Options{}, nil).WithRetry(fastRetry(2)).Link(context.Background(), c)
	assert.ErrorIs(t, err, errReset)
	assert.ErrorContains(t, err, "store embedding")
}

func TestTopK(t *testing.T) {
	c := methodology()
	c.Structure.Indicators = append(c.Structure.Indicators,
		models.Indicator{ID: "ind_003", Name: "Quick liquidity"},
		models.Indicator{ID: "ind_004", Name: "Cash liquidity"},
	)
	s := published(t, c)

	report, err := New(s, &topicEmbedder{}, Options{Threshold: 0.9, TopK: 2}, nil).Link(context.Background(), c)
	require.NoError(t, err)
	var inds int
	for _, l := range report.Links {
		if l.From == "stage_002" && strings.HasPrefix(l.To, "ind_") {
			inds++
		}
	}
	assert.Equal(t, 2, inds)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}
