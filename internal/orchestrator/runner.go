package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

// ErrNoOutlineFound is returned when the gate or compile step finds no outline.
var ErrNoOutlineFound = parser.ErrNoOutlineFound

// Skip reasons recorded on skipped steps.
const (
	ReasonPriorFailure = "skipped due to prior failure"
	ReasonGateFailure  = "skipped due to quality gate failure"
)

// Observer receives step transitions. Calls happen on the run goroutine.
type Observer interface {
	OnStepStart(name string, index, total int)
	OnStepEnd(result models.StepResult)
}

// Options configure a single run.
type Options struct {
	BookID      string
	RunID       string
	Steps       []string
	Policy      models.Policy
	StepTimeout time.Duration
	LockTTL     time.Duration
}

// RunContext is handed to every step. It exposes the run identity and lets
// steps report artifacts and QA results into the manifest.
type RunContext struct {
	BookID string
	RunID  string
	RunDir string
	Layout config.Layout
	Policy models.Policy
	Logger *slog.Logger

	manifest     *models.RunManifest
	artifacts    []string
	gateReported bool
}

// AddArtifacts records files produced by the current step.
func (rc *RunContext) AddArtifacts(paths ...string) {
	rc.artifacts = append(rc.artifacts, paths...)
}

// SetGateStatus records the quality gate verdict.
func (rc *RunContext) SetGateStatus(status string) {
	rc.manifest.QA.GateStatus = &status
	rc.gateReported = true
}

// SetReview records the review verdict.
func (rc *RunContext) SetReview(approved bool, blockers, warnings int) {
	rc.manifest.QA.Approved = &approved
	rc.manifest.QA.Blockers = &blockers
	rc.manifest.QA.Warnings = &warnings
}

// Manifest returns a copy of the manifest as recorded so far.
func (rc *RunContext) Manifest() models.RunManifest {
	m := *rc.manifest
	m.Steps = slices.Clone(rc.manifest.Steps)
	return m
}

// Runner executes registered steps for one book.
type Runner struct {
	layout    config.Layout
	registry  *Registry
	opts      Options
	collector *metrics.Collector
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	manifest *models.RunManifest
}

// NewRunner creates a runner. collector may be nil.
func NewRunner(layout config.Layout, registry *Registry, opts Options, collector *metrics.Collector, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID(time.Now())
	}
	if len(opts.Steps) == 0 {
		opts.Steps = DefaultSteps
	}
	return &Runner{
		layout:    layout,
		registry:  registry,
		opts:      opts,
		collector: collector,
		logger:    config.RunLogger(logger, opts.RunID, opts.BookID),
		now:       time.Now,
	}
}

// WithObserver sets the step observer.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// NewRunID returns a sortable run id such as kb_1760601600_1a2b3c4d.
func NewRunID(t time.Time) string {
	return fmt.Sprintf("kb_%d_%s", t.Unix(), uuid.New().String()[:8])
}

// RunID returns the id of the run.
func (r *Runner) RunID() string { return r.opts.RunID }

// RunDir returns the directory holding the manifest of the run.
func (r *Runner) RunDir() string { return r.layout.RunDir(r.opts.RunID) }

// Manifest returns the manifest of the last run, or nil before Run.
func (r *Runner) Manifest() *models.RunManifest { return r.manifest }

// Run executes the requested steps. Input errors (unknown steps, a held lock)
// are returned before any step runs. Otherwise the outcome reflects the run
// and the error is non-nil only when the manifest could not be persisted.
func (r *Runner) Run(ctx context.Context) (models.Outcome, error) {
	if r.opts.BookID == "" {
		return models.OutcomeExecutionError, errors.New("book id is required")
	}
	steps, err := r.registry.Resolve(r.opts.Steps)
	if err != nil {
		return models.OutcomeExecutionError, err
	}

	lock, err := AcquireLock(r.layout.LockPath(r.opts.BookID), r.opts.RunID, r.opts.LockTTL, r.logger)
	if err != nil {
		return models.OutcomeExecutionError, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.Warn("failed to release lock", "error", err)
		}
	}()

	runDir := r.RunDir()
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return models.OutcomeExecutionError, fmt.Errorf("create run dir: %w", err)
	}

	r.manifest = &models.RunManifest{
		RunID:      r.opts.RunID,
		BookID:     r.opts.BookID,
		SourcePath: r.layout.BlocksPath(r.opts.BookID),
		CreatedAt:  r.now().UTC(),
		Steps:      []models.StepResult{},
		Policy:     r.opts.Policy,
		Outcome:    models.OutcomeSuccess,
	}
	r.logger.Info("run started", "steps", steps, "require_gate_pass", r.opts.Policy.RequireGatePass)

	var persistErr error
	persist := func() {
		r.manifest.Metrics = r.collector.Snapshot().Map()
		if err := WriteManifest(runDir, r.manifest); err != nil {
			r.logger.Error("manifest write failed", "error", err)
			persistErr = errors.Join(persistErr, err)
		}
	}
	persist()

	reason := "Completed"
	halt := ""
	for i, name := range steps {
		if halt != "" {
			r.record(models.StepResult{
				Name:      name,
				Status:    models.StepSkipped,
				StartedAt: r.now().UTC(),
				EndedAt:   r.now().UTC(),
				Artifacts: []string{},
				Error:     halt,
			})
			persist()
			continue
		}

		rc := &RunContext{
			BookID:   r.opts.BookID,
			RunID:    r.opts.RunID,
			RunDir:   runDir,
			Layout:   r.layout,
			Policy:   r.opts.Policy,
			Logger:   r.logger.With("step", name),
			manifest: r.manifest,
		}
		res := r.runStep(ctx, i, len(steps), name, rc)
		r.record(res)

		switch {
		case res.Status == models.StepFail:
			r.manifest.Outcome = models.OutcomeExecutionError
			reason = fmt.Sprintf("Step %s failed", name)
			halt = ReasonPriorFailure
		case rc.gateReported && *r.manifest.QA.GateStatus != models.GatePass:
			if r.opts.Policy.RequireGatePass {
				r.manifest.Outcome = models.OutcomeGateFailure
				reason = "Gate FAIL"
				halt = ReasonGateFailure
			} else {
				r.logger.Warn("quality gate failed, continuing because gate pass is not required")
			}
		}
		persist()
	}

	if halt != "" && slices.Contains(steps, StepRelease) {
		if _, err := WriteSummary(runDir, r.manifest); err != nil {
			r.logger.Warn("failed to write release summary", "error", err)
		}
	}

	persist()
	if err := WriteFinal(runDir, Final{Status: r.manifest.Outcome, Reason: reason}); err != nil {
		persistErr = errors.Join(persistErr, err)
	}

	r.logger.Info("run finished",
		"outcome", r.manifest.Outcome,
		"exit_code", r.manifest.Outcome.ExitCode(),
		"reason", reason)

	if persistErr != nil {
		return models.OutcomeExecutionError, persistErr
	}
	return r.manifest.Outcome, nil
}

// runStep executes one step under the step timeout and turns panics and
// errors into a failed result.
func (r *Runner) runStep(ctx context.Context, index, total int, name string, rc *RunContext) (res models.StepResult) {
	if r.observer != nil {
		r.observer.OnStepStart(name, index, total)
	}
	rc.Logger.Info("step started", "index", index+1, "total", total)

	start := r.now()
	res = models.StepResult{Name: name, StartedAt: start.UTC()}

	stepCtx := ctx
	if r.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.opts.StepTimeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("step %s panicked: %v", name, p)
			}
		}()
		return r.registry.get(name)(stepCtx, rc)
	}()

	end := r.now()
	elapsed := end.Sub(start)
	res.EndedAt = end.UTC()
	res.DurationSec = elapsed.Seconds()
	res.Artifacts = rc.artifacts
	if res.Artifacts == nil {
		res.Artifacts = []string{}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("step timed out after %s: %w", r.opts.StepTimeout, err)
		}
		res.Status = models.StepFail
		res.Error = err.Error()
		r.collector.RecordFailure(metrics.StepOp(name), elapsed)
		rc.Logger.Error("step failed", "duration_ms", elapsed.Milliseconds(), "error", err)
		return res
	}

	res.Status = models.StepOK
	r.collector.RecordTiming(metrics.StepOp(name), elapsed)
	rc.Logger.Info("step completed", "duration_ms", elapsed.Milliseconds(), "artifacts", len(res.Artifacts))
	return res
}

func (r *Runner) record(res models.StepResult) {
	r.manifest.Steps = append(r.manifest.Steps, res)
	if r.observer != nil {
		r.observer.OnStepEnd(res)
	}
}
