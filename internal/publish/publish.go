// Package publish writes compiled methodologies into the graph store.
//
// Every record and edge is upserted under a stable key, so publishing the
// same methodology twice leaves the graph unchanged apart from updated_at.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/raphaelgruber/methodkb/internal/store"
)

// Agent is stamped into the lineage of every published record.
const Agent = "publisher"

// Options configures a Publisher.
type Options struct {
	// Repo and Ref identify the knowledge repository in lineage.
	Repo string
	Ref  string

	// Timeout bounds a single store call. Zero means no per-call timeout.
	Timeout time.Duration
}

// Publisher upserts compiled methodologies into a store.Store.
type Publisher struct {
	store  store.Store
	opts   Options
	retry  retry.Config
	logger *slog.Logger
}

// New creates a Publisher.
func New(s store.Store, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:  s,
		opts:   opts,
		retry:  retry.Default().WithRetryable(retryable),
		logger: logger,
	}
}

// WithRetry returns the publisher with a different retry policy.
// The retry predicate is kept unless cfg sets one.
func (p *Publisher) WithRetry(cfg retry.Config) *Publisher {
	if cfg.Retryable == nil {
		cfg.Retryable = p.retry.Retryable
	}
	p.retry = cfg
	return p
}

func retryable(err error) bool {
	return !errors.Is(err, store.ErrInvalidName) && !errors.Is(err, store.ErrNotFound)
}

// termTarget is where a uses_term edge points.
type termTarget struct {
	key  string
	stub bool
}

// run holds the state of one Publish call.
type run struct {
	p       *Publisher
	c       *models.CompiledMethodology
	report  *models.PublishReport
	lineage map[string]any
	terms   map[string]termTarget
	names   map[string]string
}

// Publish upserts the methodology, its entities, their edges and any term
// stubs it needs. Without skipQA the QA report must exist and be approved.
func (p *Publisher) Publish(ctx context.Context, c *models.CompiledMethodology, qa *models.QAReport, skipQA bool) (*models.PublishReport, error) {
	if !skipQA {
		if qa == nil {
			return nil, fmt.Errorf("%w: no QA report for %s", ErrNotApproved, c.MethodologyID)
		}
		if !qa.Approved {
			return nil, fmt.Errorf("%w: %s has %d blocker(s), score %d",
				ErrNotApproved, c.MethodologyID, qa.Stats.Blockers, qa.Score)
		}
	}
	if skipQA {
		p.logger.Warn("publishing without QA approval", "methodology_id", c.MethodologyID)
	}

	r := &run{
		p:      p,
		c:      c,
		report: models.NewPublishReport(c.MethodologyID),
		lineage: store.LineageFields(models.Lineage{
			Repo:  p.opts.Repo,
			Ref:   p.opts.Ref,
			Path:  path.Join("data", "methodologies", c.MethodologyID+".yaml"),
			Agent: Agent,
		}),
		terms: map[string]termTarget{},
		names: map[string]string{},
	}
	for _, ft := range c.GlossaryReferences.FoundTerms {
		if id := models.NormalizeTermID(ft.TermID); id != "" && ft.Name != "" && r.names[id] == "" {
			r.names[id] = ft.Name
		}
	}
	r.report.SkippedQA = skipQA

	start := time.Now()
	if err := r.publish(ctx); err != nil {
		return r.report, err
	}

	p.logger.Info("methodology published",
		"methodology_id", c.MethodologyID,
		"inserted", r.report.Inserted(),
		"stubs", len(r.report.StubsCreated),
		"warnings", r.report.Warnings,
		"duration_ms", time.Since(start).Milliseconds())
	return r.report, nil
}

func (r *run) publish(ctx context.Context) error {
	c := r.c
	mid := c.MethodologyID

	text := methodologyText(c)
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	if err := r.record(ctx, store.CollMethodology, mid, map[string]any{
		"methodology_id":   mid,
		"title":            c.Title,
		"description":      c.Description,
		"methodology_type": c.Classification.MethodologyType,
		"domain":           c.Classification.Domain,
		"tags":             tags,
		"source": map[string]any{
			"book_id":      c.Source.BookID,
			"outline_path": c.Source.OutlinePath,
			"outline_hash": c.Source.OutlineHash,
		},
		"content_text": text,
		"content_hash": models.ContentHash(text),
	}); err != nil {
		return err
	}

	for _, s := range c.Structure.Stages {
		text := stageText(c, s)
		if err := r.record(ctx, store.CollStage, EntityKey(mid, s.ID), map[string]any{
			"methodology_id": mid,
			"stage_id":       s.ID,
			"title":          s.Title,
			"description":    s.Description,
			"order":          s.Order,
			"content_text":   text,
			"content_hash":   models.ContentHash(text),
		}); err != nil {
			return err
		}
		if err := r.edge(ctx, store.RelHasStage, store.CollMethodology, mid, store.CollStage, EntityKey(mid, s.ID),
			map[string]any{"order": s.Order}, fmt.Sprintf("order=%d", s.Order)); err != nil {
			return err
		}
	}

	for _, t := range c.Structure.Tools {
		text := toolText(t)
		fields := map[string]any{
			"methodology_id": mid,
			"tool_id":        t.ID,
			"title":          t.Title,
			"description":    t.Description,
			"type":           t.Type,
			"content_text":   text,
			"content_hash":   models.ContentHash(text),
		}
		if err := r.entity(ctx, store.CollTool, t.ID, t.Stage, store.RelUsesTool, t.Terms, fields); err != nil {
			return err
		}
	}

	for _, ind := range c.Structure.Indicators {
		text := indicatorText(ind)
		fields := map[string]any{
			"methodology_id": mid,
			"indicator_id":   ind.ID,
			"name":           ind.Name,
			"description":    ind.Description,
			"formula":        ind.Formula,
			"unit":           ind.Unit,
			"content_text":   text,
			"content_hash":   models.ContentHash(text),
		}
		if err := r.entity(ctx, store.CollIndicator, ind.ID, ind.Stage, store.RelUsesIndicator, ind.Terms, fields); err != nil {
			return err
		}
	}

	for _, rule := range c.Structure.Rules {
		text := ruleText(rule)
		fields := map[string]any{
			"methodology_id": mid,
			"rule_id":        rule.ID,
			"title":          rule.Title,
			"description":    rule.Description,
			"severity":       rule.Severity,
			"content_text":   text,
			"content_hash":   models.ContentHash(text),
		}
		if err := r.entity(ctx, store.CollRule, rule.ID, rule.Stage, store.RelHasRule, rule.Terms, fields); err != nil {
			return err
		}
	}

	for _, ft := range c.GlossaryReferences.FoundTerms {
		if err := r.usesTerm(ctx, store.CollMethodology, mid, ft.TermID, ft.Name); err != nil {
			return err
		}
	}
	return nil
}

// entity upserts a tool, indicator or rule together with its stage edge
// and term edges.
func (r *run) entity(ctx context.Context, coll, id, stageID, rel string, terms []string, fields map[string]any) error {
	mid := r.c.MethodologyID
	key := EntityKey(mid, id)
	if err := r.record(ctx, coll, key, fields); err != nil {
		return err
	}
	if stageID != "" {
		if err := r.edge(ctx, rel, store.CollStage, EntityKey(mid, stageID), coll, key, nil); err != nil {
			return err
		}
	}
	for _, term := range terms {
		if err := r.usesTerm(ctx, coll, key, term, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) usesTerm(ctx context.Context, fromColl, fromKey, rawID, name string) error {
	termID := models.NormalizeTermID(rawID)
	if termID == "" {
		return nil
	}
	target, err := r.resolveTerm(ctx, termID, name)
	if err != nil {
		return err
	}
	return r.edge(ctx, store.RelUsesTerm, fromColl, fromKey, store.CollTerm, target.key,
		map[string]any{"term_id": termID, "stub": target.stub}, termID)
}

// resolveTerm finds the record a term reference should point at. Canonical
// terms win; a stub already merged by reconciliation resolves to its
// canonical term; anything else gets a needs_definition stub. A QA warning
// is raised only when the stub is created, so a re-publish stays quiet.
func (r *run) resolveTerm(ctx context.Context, termID, name string) (termTarget, error) {
	if t, ok := r.terms[termID]; ok {
		return t, nil
	}

	canonical, err := r.getTerm(ctx, termID)
	if err != nil {
		return termTarget{}, err
	}
	if canonical != nil && !canonical.IsStub() {
		t := termTarget{key: termID}
		r.terms[termID] = t
		return t, nil
	}

	stubKey := models.StubKey(termID)
	existing, err := r.getTerm(ctx, stubKey)
	if err != nil {
		return termTarget{}, err
	}
	if existing != nil && existing.Status == models.TermMerged && existing.MergedInto != "" {
		t := termTarget{key: existing.MergedInto}
		r.terms[termID] = t
		return t, nil
	}

	if name == "" {
		name = r.names[termID]
	}
	if name == "" {
		name = termID
	}
	stub := models.GlossaryTerm{
		ID:          termID,
		Name:        name,
		Status:      models.TermNeedsDefinition,
		ContentHash: models.ContentHash(termID, name),
	}
	fields := store.TermFields(stub)
	fields["lineage"] = r.lineage
	res, err := r.upsertRecord(ctx, store.CollTerm, stubKey, fields)
	if err != nil {
		return termTarget{}, err
	}
	if res.Inserted {
		r.report.StubsCreated = append(r.report.StubsCreated, termID)
		r.report.Warnings++
		r.report.QAWarnings = append(r.report.QAWarnings, models.Issue{
			ID:       fmt.Sprintf("STUB-%03d", len(r.report.QAWarnings)+1),
			Severity: models.IssueMinor,
			Category: "glossary",
			Message:  fmt.Sprintf("term %s has no canonical definition; created stub %s", termID, stubKey),
			Evidence: models.Evidence{Pointer: "/glossary_term/" + stubKey},
			FixHint:  "add the term to the glossary and run glossary sync with reconcile",
		})
		r.p.logger.Warn("term stub created", "methodology_id", r.c.MethodologyID, "term_id", termID)
	} else {
		r.p.logger.Debug("term stub referenced", "methodology_id", r.c.MethodologyID, "term_id", termID)
	}

	t := termTarget{key: stubKey, stub: true}
	r.terms[termID] = t
	return t, nil
}

func (r *run) record(ctx context.Context, coll, key string, fields map[string]any) error {
	fields["lineage"] = r.lineage
	_, err := r.upsertRecord(ctx, coll, key, fields)
	return err
}

func (r *run) upsertRecord(ctx context.Context, coll, key string, fields map[string]any) (store.UpsertResult, error) {
	var res store.UpsertResult
	err := r.p.call(ctx, coll, "upsert", func(ctx context.Context) error {
		var err error
		res, err = r.p.store.UpsertRecord(ctx, coll, key, fields)
		return err
	})
	if err != nil {
		return res, err
	}
	bump(r.report.Collections, coll, res)
	return res, nil
}

func (r *run) edge(ctx context.Context, rel, fromColl, fromKey, toColl, toKey string, fields map[string]any, attrs ...string) error {
	from, to := ref(fromColl, fromKey), ref(toColl, toKey)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["methodology_id"] = r.c.MethodologyID
	fields["lineage"] = r.lineage
	fields["content_hash"] = edgeHash(from, to, rel, attrs...)

	var res store.UpsertResult
	err := r.p.call(ctx, rel, "upsert edge", func(ctx context.Context) error {
		var err error
		res, err = r.p.store.UpsertEdge(ctx, rel, fromColl, fromKey, toColl, toKey, EdgeKey(from, to, rel), fields)
		return err
	})
	if err != nil {
		return err
	}
	bump(r.report.Edges, rel, res)
	return nil
}

func (r *run) getTerm(ctx context.Context, key string) (*models.GlossaryTerm, error) {
	var t *models.GlossaryTerm
	err := r.p.call(ctx, store.CollTerm, "get", func(ctx context.Context) error {
		var err error
		t, err = r.p.store.GetTerm(ctx, key)
		return err
	})
	return t, err
}

// call runs one store operation with the per-call timeout and retry policy.
func (p *Publisher) call(ctx context.Context, coll, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, p.retry, p.logger, op+" "+coll, func(ctx context.Context) error {
		if p.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
			defer cancel()
		}
		return fn(ctx)
	})
	if err != nil {
		return &StoreError{Collection: coll, Op: op, Err: err}
	}
	return nil
}

func bump(counts map[string]models.Counts, name string, res store.UpsertResult) {
	c := counts[name]
	if res.Inserted {
		c.Inserted++
	} else {
		c.Updated++
	}
	counts[name] = c
}
