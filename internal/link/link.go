// Package link adds semantically_related edges between stages and the tools,
// indicators and rules of a methodology, scored by embedding similarity.
package link

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/raphaelgruber/methodkb/internal/publish"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/raphaelgruber/methodkb/internal/store"
	"golang.org/x/sync/errgroup"
)

// Agent is stamped into the lineage of link edges.
const Agent = "semantic-linker"

// ReportFile is the link report name inside the publish directory.
const ReportFile = "semantic_links.json"

// Embedder is the embedding surface the linker needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Options configures a Linker.
type Options struct {
	// Threshold is the minimum cosine similarity for a link.
	Threshold float64
	// TopK caps the links per stage and candidate collection.
	TopK int
	// Concurrency bounds parallel embedding calls.
	Concurrency int
	// BatchSize is the number of texts per embedding call.
	BatchSize int
	// DryRun scores candidates without writing edges.
	DryRun bool
	// Timeout bounds a single store call. Zero means no per-call timeout.
	Timeout time.Duration

	Repo string
	Ref  string
}

// DefaultOptions returns the linker defaults.
func DefaultOptions() Options {
	return Options{Threshold: 0.75, TopK: 5, Concurrency: 4, BatchSize: 32}
}

// Link is one scored stage-to-entity relation.
type Link struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// Report summarizes a linking run.
type Report struct {
	MethodologyID string `json:"methodology_id"`
	Model         string `json:"model"`
	Embedded      int    `json:"embedded"`
	Cached        int    `json:"cached"`
	Links         []Link `json:"links"`
	DryRun        bool   `json:"dry_run"`
}

// Linker scores and writes semantic links.
type Linker struct {
	store  store.Store
	emb    Embedder
	opts   Options
	retry  retry.Config
	logger *slog.Logger
}

// New creates a Linker. Zero option fields take their defaults.
func New(s store.Store, emb Embedder, opts Options, logger *slog.Logger) *Linker {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		store:  s,
		emb:    emb,
		opts:   opts,
		retry:  retry.Default().WithRetryable(retryable),
		logger: logger,
	}
}

// WithRetry returns the linker with a different store retry policy.
// The retry predicate is kept unless cfg sets one.
func (l *Linker) WithRetry(cfg retry.Config) *Linker {
	if cfg.Retryable == nil {
		cfg.Retryable = l.retry.Retryable
	}
	l.retry = cfg
	return l
}

func retryable(err error) bool {
	return !errors.Is(err, store.ErrInvalidName) && !errors.Is(err, store.ErrNotFound)
}

// call runs one store operation under the retry policy and the per-call
// timeout.
func (l *Linker) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return retry.Do(ctx, l.retry, l.logger, op, func(ctx context.Context) error {
		if l.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

type item struct {
	publish.Entity
	hash string
	vec  []float32
}

// Link embeds the methodology's published entities, reusing stored vectors
// whose content hash is unchanged, and writes a semantically_related edge
// from each stage to every candidate above the threshold that is not
// already attached to that stage.
func (l *Linker) Link(ctx context.Context, c *models.CompiledMethodology) (*Report, error) {
	start := time.Now()
	report := &Report{MethodologyID: c.MethodologyID, Model: l.emb.Model(), Links: []Link{}, DryRun: l.opts.DryRun}

	ents := publish.Entities(c)
	items := make([]*item, len(ents))
	var missing []*item
	for i, e := range ents {
		it := &item{Entity: e, hash: models.ContentHash(e.Text)}
		items[i] = it
		var (
			hash string
			vec  []float32
		)
		err := l.call(ctx, "load embedding", func(ctx context.Context) error {
			var err error
			hash, vec, err = l.store.Embedding(ctx, e.Collection, e.Key)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("load embedding %s:%s: %w", e.Collection, e.Key, err)
		}
		if hash == it.hash && len(vec) > 0 {
			it.vec = vec
			report.Cached++
			continue
		}
		missing = append(missing, it)
	}

	if err := l.embed(ctx, missing); err != nil {
		return nil, err
	}
	for _, it := range missing {
		if l.opts.DryRun {
			continue
		}
		err := l.call(ctx, "store embedding", func(ctx context.Context) error {
			return l.store.SetEmbedding(ctx, it.Collection, it.Key, it.hash, it.vec)
		})
		if err != nil {
			return nil, fmt.Errorf("store embedding %s:%s: %w", it.Collection, it.Key, err)
		}
	}
	report.Embedded = len(missing)

	lineage := store.LineageFields(models.Lineage{
		Repo:  l.opts.Repo,
		Ref:   l.opts.Ref,
		Path:  path.Join("data", "methodologies", c.MethodologyID+".yaml"),
		Agent: Agent,
	})
	for _, stage := range items {
		if stage.Collection != store.CollStage {
			continue
		}
		for _, link := range l.score(stage, items) {
			report.Links = append(report.Links, link.Link)
			if l.opts.DryRun {
				continue
			}
			from, to := stage.Collection+":"+stage.Key, link.target.Collection+":"+link.target.Key
			conf := fmt.Sprintf("%.4f", link.Confidence)
			fields := map[string]any{
				"methodology_id": c.MethodologyID,
				"confidence":     link.Confidence,
				"model":          report.Model,
				"target_kind":    link.target.Collection,
				"lineage":        lineage,
				"content_hash":   models.ContentHash(from + "|" + to + "|" + store.RelSemanticallyRelated + "|" + conf),
			}
			err := l.call(ctx, "write link", func(ctx context.Context) error {
				_, err := l.store.UpsertEdge(ctx, store.RelSemanticallyRelated,
					stage.Collection, stage.Key, link.target.Collection, link.target.Key,
					publish.EdgeKey(from, to, store.RelSemanticallyRelated), fields)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("write link %s -> %s: %w", from, to, err)
			}
		}
	}

	l.logger.Info("semantic links computed",
		"methodology_id", c.MethodologyID,
		"embedded", report.Embedded,
		"cached", report.Cached,
		"links", len(report.Links),
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

// embed fills vec for items, one goroutine per batch, at most
// opts.Concurrency at a time. Each goroutine writes only its own items.
func (l *Linker) embed(ctx context.Context, items []*item) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for batch := range slices.Chunk(items, l.opts.BatchSize) {
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.Text
			}
			vecs, err := l.emb.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(batch))
			}
			for i, it := range batch {
				it.vec = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}

type scored struct {
	Link
	target *item
}

// score returns the candidates for a stage above the threshold, best first,
// at most TopK per collection.
func (l *Linker) score(stage *item, items []*item) []scored {
	byColl := map[string][]scored{}
	for _, cand := range items {
		if cand.Collection == store.CollStage || cand.Stage == stage.ID {
			continue
		}
		sim := Cosine(stage.vec, cand.vec)
		if sim < l.opts.Threshold {
			continue
		}
		byColl[cand.Collection] = append(byColl[cand.Collection], scored{
			Link:   Link{From: stage.ID, To: cand.ID, Confidence: math.Round(sim*1e4) / 1e4},
			target: cand,
		})
	}

	var out []scored
	for _, coll := range []string{store.CollTool, store.CollIndicator, store.CollRule} {
		list := byColl[coll]
		slices.SortStableFunc(list, func(a, b scored) int {
			return cmp.Compare(b.Confidence, a.Confidence)
		})
		if len(list) > l.opts.TopK {
			list = list[:l.opts.TopK]
		}
		out = append(out, list...)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// WriteReport writes the report as JSON into dir and returns its path.
func WriteReport(dir string, report *Report) (string, error) {
	p := filepath.Join(dir, ReportFile)
	if err := parser.WriteJSON(p, report); err != nil {
		return "", fmt.Errorf("write link report: %w", err)
	}
	return p, nil
}
