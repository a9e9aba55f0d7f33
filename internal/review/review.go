// Package review produces the QA verdict for a compiled methodology.
// Deterministic checks always run; an optional LLM pass may only add
// issues and strengths.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/methodkb/internal/compile"
	"github.com/raphaelgruber/methodkb/internal/models"
)

// Generator is the LLM surface the reviewer needs.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNoModel is returned when the LLM layer is requested without a model.
var ErrNoModel = errors.New("llm review requested but no model configured")

// Options configure a single review.
type Options struct {
	// DocsDir is the rendered documents directory of the methodology.
	DocsDir string

	// RecordPath is reported as evidence for schema issues.
	RecordPath string

	// Glossary is the set of canonical term ids. nil skips the glossary check.
	Glossary map[string]bool

	// UseLLM enables the semantic pass.
	UseLLM bool
}

// Reviewer runs deterministic checks and the optional LLM pass.
type Reviewer struct {
	llm    Generator
	logger *slog.Logger
	now    func() time.Time
}

// New creates a reviewer. gen may be nil when the LLM pass is never used.
func New(gen Generator, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{llm: gen, logger: logger, now: time.Now}
}

// ReviewFile loads a compiled record and reviews it.
func (r *Reviewer) ReviewFile(ctx context.Context, recordPath string, opts Options) (models.QAReport, error) {
	compiled, err := compile.LoadRecord(recordPath)
	if err != nil {
		return models.QAReport{}, err
	}
	if opts.RecordPath == "" {
		opts.RecordPath = recordPath
	}
	return r.Review(ctx, compiled, opts)
}

// Review evaluates a compiled methodology. Findings are returned as data;
// an error means the review itself could not run.
func (r *Reviewer) Review(ctx context.Context, compiled *models.CompiledMethodology, opts Options) (models.QAReport, error) {
	logger := r.logger.With("methodology_id", compiled.MethodologyID)

	var issues []models.Issue
	schemaOK := true
	if err := ValidateCompiled(compiled); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return models.QAReport{}, err
		}
		schemaOK = false
		issues = append(issues, schemaIssues(verr.Errors, opts.RecordPath)...)
	}

	issues = append(issues, checkIDs(compiled)...)
	issues = append(issues, checkDocs(compiled, opts.DocsDir)...)
	issues = append(issues, checkDuplicateIndicators(compiled)...)
	issues = append(issues, checkStageOrder(compiled)...)
	issues = append(issues, checkDuplicateStageTitles(compiled)...)
	issues = append(issues, checkReadmeCoverage(compiled, opts.DocsDir)...)
	glossIssues, coverage := checkGlossary(compiled, opts.Glossary)
	issues = append(issues, glossIssues...)
	formIssues, formulaRatio := checkFormulas(compiled)
	issues = append(issues, formIssues...)
	issues = append(issues, checkEmptyFormulas(compiled)...)

	logger.Debug("deterministic checks complete", "issues", len(issues), "schema_ok", schemaOK)

	strengths := []string{}
	if opts.UseLLM {
		outcome, err := r.reason(ctx, compiled, opts.DocsDir, issues)
		if err != nil {
			return models.QAReport{}, err
		}
		switch o := outcome.(type) {
		case ParsedIssues:
			issues = append(issues, o.Issues...)
			strengths = append(strengths, o.Strengths...)
			logger.Info("llm review complete", "issues", len(o.Issues), "strengths", len(o.Strengths))
		case ParseFailure:
			logger.Warn("llm response not parseable, ignoring", "error", o.Err, "response_bytes", len(o.Raw))
		}
	}

	if issues == nil {
		issues = []models.Issue{}
	}
	report := models.QAReport{
		MethodologyID: compiled.MethodologyID,
		Approved:      Decide(issues),
		Score:         Score(issues, coverage, formulaRatio, schemaOK),
		SchemaOK:      schemaOK,
		LLMUsed:       opts.UseLLM,
		Issues:        issues,
		Strengths:     strengths,
		Stats: models.QAStats{
			Blockers:         models.CountSeverity(issues, models.IssueBlocker),
			Majors:           models.CountSeverity(issues, models.IssueMajor),
			Minors:           models.CountSeverity(issues, models.IssueMinor),
			GlossaryCoverage: coverage,
			FormulaRatio:     formulaRatio,
		},
		ReviewedAt: r.now().UTC(),
	}

	logger.Info("review complete",
		"approved", report.Approved,
		"score", report.Score,
		"blockers", report.Stats.Blockers,
		"majors", report.Stats.Majors,
		"minors", report.Stats.Minors,
	)
	return report, nil
}

func (r *Reviewer) reason(ctx context.Context, compiled *models.CompiledMethodology, docsDir string, found []models.Issue) (LLMOutcome, error) {
	if r.llm == nil {
		return nil, ErrNoModel
	}
	readme, _ := os.ReadFile(filepath.Join(docsDir, compile.ReadmeFile))
	prompt, err := buildUserPrompt(compiled, string(readme), found)
	if err != nil {
		return nil, err
	}
	raw, err := r.llm.GenerateWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm review: %w", err)
	}
	return ParseLLMResponse(raw), nil
}

// Decide is the approval policy: no BLOCKER and fewer than three MAJOR issues.
func Decide(issues []models.Issue) bool {
	if models.CountSeverity(issues, models.IssueBlocker) > 0 {
		return false
	}
	return models.CountSeverity(issues, models.IssueMajor) < 3
}

// Score starts at 100 and subtracts per-issue and metric penalties,
// clamped to [0, 100]. Metric penalties are truncated toward zero.
func Score(issues []models.Issue, glossaryCoverage, formulaRatio float64, schemaOK bool) int {
	score := 100
	if !schemaOK {
		score -= 40
	}
	for _, it := range issues {
		switch it.Severity {
		case models.IssueBlocker:
			score -= 25
		case models.IssueMajor:
			score -= 10
		case models.IssueMinor:
			score -= 3
		}
	}
	score -= int((1.0 - glossaryCoverage) * 20)
	score -= int((1.0 - formulaRatio) * 15)
	return max(0, min(100, score))
}
