package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/raphaelgruber/methodkb/internal/compile"
	"github.com/raphaelgruber/methodkb/internal/extract"
	"github.com/raphaelgruber/methodkb/internal/gate"
	"github.com/raphaelgruber/methodkb/internal/glossary"
	"github.com/raphaelgruber/methodkb/internal/link"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/raphaelgruber/methodkb/internal/publish"
	"github.com/raphaelgruber/methodkb/internal/review"
)

// Factory builds a step component when its step starts. Components that
// dial a database or an LLM are built this way so that a connection failure
// is recorded against the step that needed it, and steps skipped after a
// halt never connect.
type Factory[T any] func(ctx context.Context) (T, error)

// Provide wraps an already built component as a Factory.
func Provide[T any](v T) Factory[T] {
	return func(context.Context) (T, error) { return v, nil }
}

// Deps are the components behind the built-in steps. A nil factory makes
// its step fail with a "not configured" error when it runs.
type Deps struct {
	Compiler  *compile.Compiler
	Extractor Factory[extract.Extractor]
	Reviewer  Factory[*review.Reviewer]
	Glossary  Factory[*glossary.Syncer]
	Publisher Factory[*publish.Publisher]
	Linker    Factory[*link.Linker]

	// ReviewLLM enables the semantic review pass.
	ReviewLLM bool
	// Reconcile resolves stubs after a glossary sync.
	Reconcile bool
}

// build runs f for step. A factory error fails the step with its cause.
func build[T any](ctx context.Context, step string, f Factory[T]) (T, error) {
	var zero T
	if f == nil {
		return zero, notConfigured(step)
	}
	v, err := f(ctx)
	if err != nil {
		return zero, fmt.Errorf("step %s: init: %w", step, err)
	}
	return v, nil
}

// NewDefaultRegistry returns a registry with all built-in steps.
func NewDefaultRegistry(d Deps) *Registry {
	reg := NewRegistry()
	RegisterBuiltins(reg, d)
	return reg
}

// RegisterBuiltins registers the built-in steps on reg.
func RegisterBuiltins(reg *Registry, d Deps) {
	reg.Register(StepExtraction, d.extractStep)
	reg.Register(StepCompile, d.compileStep)
	reg.Register(StepReview, d.reviewStep)
	reg.Register(StepGate, gateStep)
	reg.Register(StepGlossarySync, d.glossaryStep)
	reg.Register(StepPublish, d.publishStep)
	reg.Register(StepSemanticLink, d.linkStep)
	reg.Register(StepRelease, releaseStep)
}

func notConfigured(step string) error {
	return fmt.Errorf("step %s: component not configured", step)
}

func methodologyID(bookID string) string {
	return models.Slugify(bookID)
}

func (d Deps) extractStep(ctx context.Context, rc *RunContext) error {
	extractor, err := build(ctx, StepExtraction, d.Extractor)
	if err != nil {
		return err
	}
	out := rc.Layout.OutlinePath(rc.BookID)
	if _, err := extract.ExtractFile(ctx, extractor, rc.BookID, rc.Layout.BlocksPath(rc.BookID), out); err != nil {
		return err
	}
	rc.AddArtifacts(out)
	return nil
}

func (d Deps) compileStep(_ context.Context, rc *RunContext) error {
	if d.Compiler == nil {
		return notConfigured(StepCompile)
	}
	outlinePath, err := parser.FindOutline(rc.Layout.WorkDir(rc.BookID), rc.BookID)
	if err != nil {
		return err
	}
	compiled, err := d.Compiler.CompileFile(outlinePath, rc.BookID)
	if err != nil {
		return err
	}
	record := rc.Layout.RecordPath(compiled.MethodologyID)
	if err := d.Compiler.WriteRecord(record, compiled); err != nil {
		return err
	}
	rc.AddArtifacts(record)

	docs, err := d.Compiler.Render(compiled, rc.Layout.DocsDir())
	if err != nil {
		return err
	}
	rc.AddArtifacts(docs...)
	return nil
}

func (d Deps) reviewStep(ctx context.Context, rc *RunContext) error {
	reviewer, err := build(ctx, StepReview, d.Reviewer)
	if err != nil {
		return err
	}
	mid := methodologyID(rc.BookID)
	terms, err := glossaryIDs(rc.Layout.GlossaryDir())
	if err != nil {
		return err
	}
	record := rc.Layout.RecordPath(mid)
	report, err := reviewer.ReviewFile(ctx, record, review.Options{
		DocsDir:    rc.Layout.MethodologyDocsDir(mid),
		RecordPath: record,
		Glossary:   terms,
		UseLLM:     d.ReviewLLM,
	})
	if err != nil {
		return err
	}
	paths, err := review.WriteResult(rc.Layout.QADir(rc.BookID), report)
	if err != nil {
		return err
	}
	rc.AddArtifacts(paths...)
	rc.SetReview(report.Approved, report.Stats.Blockers, report.Stats.Majors+report.Stats.Minors)
	return nil
}

// glossaryIDs loads the canonical term ids. A missing glossary yields nil,
// which disables the coverage check.
func glossaryIDs(dir string) (map[string]bool, error) {
	terms, err := parser.LoadGlossary(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(terms))
	for _, t := range terms {
		if id := models.NormalizeTermID(t.ID); id != "" {
			ids[id] = true
		}
	}
	return ids, nil
}

func gateStep(_ context.Context, rc *RunContext) error {
	outlinePath, err := parser.FindOutline(rc.Layout.WorkDir(rc.BookID), rc.BookID)
	if err != nil {
		return err
	}
	outline, err := parser.LoadOutline(outlinePath)
	if err != nil {
		return err
	}
	res, err := gate.Run(outline)
	if err != nil {
		return err
	}
	path := filepath.Join(rc.RunDir, GateReportFile)
	if err := gate.WriteReport(path, res); err != nil {
		return err
	}
	rc.AddArtifacts(path)
	rc.SetGateStatus(res.Status)
	rc.Logger.Info("quality gate evaluated",
		"status", res.Status,
		"blockers", res.Blockers(),
		"majors", res.Majors())
	return nil
}

func (d Deps) glossaryStep(ctx context.Context, rc *RunContext) error {
	syncer, err := build(ctx, StepGlossarySync, d.Glossary)
	if err != nil {
		return err
	}
	report, err := syncer.SyncDir(ctx, rc.Layout.GlossaryDir(), d.Reconcile)
	if err != nil {
		return err
	}
	path := rc.Layout.GlossaryReportPath()
	if err := glossary.WriteReport(path, report); err != nil {
		return err
	}
	rc.AddArtifacts(path)
	return nil
}

func (d Deps) publishStep(ctx context.Context, rc *RunContext) error {
	publisher, err := build(ctx, StepPublish, d.Publisher)
	if err != nil {
		return err
	}
	compiled, err := compile.LoadRecord(rc.Layout.RecordPath(methodologyID(rc.BookID)))
	if err != nil {
		return err
	}
	qa, err := review.LoadResult(rc.Layout.QADir(rc.BookID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	report, err := publisher.Publish(ctx, compiled, qa, rc.Policy.SkipQA)
	if err != nil {
		return err
	}
	path, err := publish.WriteReport(rc.Layout.PublishDir(rc.BookID), report)
	if err != nil {
		return err
	}
	rc.AddArtifacts(path)
	return nil
}

func (d Deps) linkStep(ctx context.Context, rc *RunContext) error {
	linker, err := build(ctx, StepSemanticLink, d.Linker)
	if err != nil {
		return err
	}
	compiled, err := compile.LoadRecord(rc.Layout.RecordPath(methodologyID(rc.BookID)))
	if err != nil {
		return err
	}
	report, err := linker.Link(ctx, compiled)
	if err != nil {
		return err
	}
	path, err := link.WriteReport(rc.Layout.PublishDir(rc.BookID), report)
	if err != nil {
		return err
	}
	rc.AddArtifacts(path)
	return nil
}

func releaseStep(_ context.Context, rc *RunContext) error {
	m := rc.Manifest()
	path, err := WriteSummary(rc.RunDir, &m)
	if err != nil {
		return err
	}
	rc.AddArtifacts(path)
	return nil
}
