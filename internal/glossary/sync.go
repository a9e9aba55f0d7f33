// Package glossary loads canonical glossary terms into the graph store and
// reconciles the stubs the publisher left behind.
package glossary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/raphaelgruber/methodkb/internal/store"
)

// Agent is stamped into the lineage of synced terms.
const Agent = "glossary-sync"

var validStatus = map[string]bool{
	models.TermActive:          true,
	models.TermDeprecated:      true,
	models.TermNeedsDefinition: true,
	models.TermDraft:           true,
}

// Options configures a Syncer.
type Options struct {
	Repo string
	Ref  string

	// Dir is the glossary directory as recorded in lineage paths.
	Dir string

	// DryRun computes the report without writing to the store.
	DryRun bool

	// Timeout bounds a single store call. Zero means no per-call timeout.
	Timeout time.Duration
}

// Reconciliation records one stub merged into a canonical term.
type Reconciliation struct {
	StubKey    string `json:"stub_key"`
	TermID     string `json:"term_id"`
	MergedInto string `json:"merged_into"`
	MatchedBy  string `json:"matched_by"`
}

// ReconcileResult is the outcome of Reconcile.
type ReconcileResult struct {
	Stubs        int              `json:"stubs"`
	Reconciled   []Reconciliation `json:"reconciled"`
	UnknownTerms []string         `json:"unknown_terms"`
}

// Report summarizes a sync run.
type Report struct {
	Loaded           int              `json:"loaded"`
	MergedDuplicates int              `json:"merged_duplicates"`
	Inserted         int              `json:"inserted"`
	Updated          int              `json:"updated"`
	Reconciled       []Reconciliation `json:"reconciled"`
	UnknownTerms     []string         `json:"unknown_terms"`
	DryRun           bool             `json:"dry_run"`
}

// Syncer writes canonical terms and reconciles stubs.
type Syncer struct {
	store  store.Store
	opts   Options
	retry  retry.Config
	logger *slog.Logger
}

// New creates a Syncer.
func New(s store.Store, opts Options, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:  s,
		opts:   opts,
		retry:  retry.Default().WithRetryable(retryable),
		logger: logger,
	}
}

// WithRetry returns the syncer with a different retry policy.
func (s *Syncer) WithRetry(cfg retry.Config) *Syncer {
	if cfg.Retryable == nil {
		cfg.Retryable = s.retry.Retryable
	}
	s.retry = cfg
	return s
}

func retryable(err error) bool {
	return !errors.Is(err, store.ErrInvalidName) && !errors.Is(err, store.ErrNotFound)
}

// SyncDir loads the glossary directory and syncs it. With reconcile set,
// stubs are reconciled afterwards and the result is folded into the report.
func (s *Syncer) SyncDir(ctx context.Context, dir string, reconcile bool) (*Report, error) {
	terms, err := parser.LoadGlossary(dir)
	if err != nil {
		return nil, err
	}
	report, err := s.Sync(ctx, terms)
	if err != nil {
		return report, err
	}
	if !reconcile {
		return report, nil
	}
	rec, err := s.Reconcile(ctx)
	if err != nil {
		return report, err
	}
	report.Reconciled = rec.Reconciled
	report.UnknownTerms = rec.UnknownTerms
	return report, nil
}

// Sync merges terms and upserts them as canonical records keyed by term id.
// Canonical keys never collide with stub keys, so stubs are left alone.
func (s *Syncer) Sync(ctx context.Context, terms []models.GlossaryTerm) (*Report, error) {
	merged, dupes := Merge(terms)
	report := &Report{
		Loaded:           len(terms),
		MergedDuplicates: dupes,
		Reconciled:       []Reconciliation{},
		UnknownTerms:     []string{},
		DryRun:           s.opts.DryRun,
	}

	for _, t := range merged {
		if t.Status == "" || t.Status == models.TermMerged {
			t.Status = models.TermActive
		} else if !validStatus[t.Status] {
			s.logger.Warn("unknown term status, using active", "term_id", t.ID, "status", t.Status)
			t.Status = models.TermActive
		}
		t.Lineage = models.Lineage{
			Repo:  s.opts.Repo,
			Ref:   s.opts.Ref,
			Path:  path.Join(s.opts.Dir, t.Lineage.Path),
			Agent: Agent,
		}

		if s.opts.DryRun {
			exists, err := s.exists(ctx, t.ID)
			if err != nil {
				return report, err
			}
			if exists {
				report.Updated++
			} else {
				report.Inserted++
			}
			continue
		}

		fields := store.TermFields(t)
		fields["merged_into"] = nil // a file term is canonical, never merged
		var res store.UpsertResult
		err := s.call(ctx, "upsert", func(ctx context.Context) error {
			var err error
			res, err = s.store.UpsertRecord(ctx, store.CollTerm, t.ID, fields)
			return err
		})
		if err != nil {
			return report, err
		}
		if res.Inserted {
			report.Inserted++
		} else {
			report.Updated++
		}
	}

	s.logger.Info("glossary synced",
		"loaded", report.Loaded,
		"merged_duplicates", report.MergedDuplicates,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"dry_run", report.DryRun)
	return report, nil
}

func (s *Syncer) exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.call(ctx, "exists", func(ctx context.Context) error {
		var err error
		ok, err = s.store.Exists(ctx, store.CollTerm, key)
		return err
	})
	return ok, err
}

func (s *Syncer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, s.retry, s.logger, op+" "+store.CollTerm, func(ctx context.Context) error {
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}
		return fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("glossary %s: %w", op, err)
	}
	return nil
}
