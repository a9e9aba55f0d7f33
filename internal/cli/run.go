package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/extract"
	"github.com/raphaelgruber/methodkb/internal/glossary"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/orchestrator"
	"github.com/raphaelgruber/methodkb/internal/review"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	runBookID          string
	runSteps           string
	runID              string
	runRequireGatePass bool
	runSkipQA          bool
	runProgress        bool
	runLLMReview       bool
	runReconcile       bool
	runGlossaryDryRun  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a book",
	Long: `Run pipeline steps for a book and record them in runs/<run_id>/manifest.json.

Steps: extraction (B), compile (C), review (D), gate (Gate), glossary-sync (G),
publish (E), semantic-link (H), release (F). Names are case-insensitive.

Exit codes: 0 success, 1 execution error, 2 quality gate failure.

Examples:
  methodkb run --book-id fin-analysis
  methodkb run --book-id fin-analysis --steps C,D,Gate,G,E,F
  methodkb run --book-id fin-analysis --steps gate,publish --require-gate-pass=false`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runBookID, "book-id", "", "book id (required)")
	runCmd.Flags().StringVar(&runSteps, "steps", strings.Join(orchestrator.DefaultSteps, ","), "comma-separated steps")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id (default kb_<unix>_<suffix>)")
	runCmd.Flags().BoolVar(&runRequireGatePass, "require-gate-pass", true, "stop when the quality gate fails")
	runCmd.Flags().BoolVar(&runSkipQA, "skip-qa", false, "publish without an approved QA review")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "interactive progress view (default when stdout is a terminal)")
	runCmd.Flags().BoolVar(&runLLMReview, "llm-review", false, "add the LLM pass to the review step")
	runCmd.Flags().BoolVar(&runReconcile, "reconcile", false, "reconcile glossary stubs after sync")
	runCmd.Flags().BoolVar(&runGlossaryDryRun, "glossary-dry-run", false, "compute the glossary sync without writing")
	_ = runCmd.MarkFlagRequired("book-id")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	steps, err := orchestrator.NewDefaultRegistry(orchestrator.Deps{}).Resolve(orchestrator.ParseSteps(runSteps))
	if err != nil {
		return err
	}

	interactive := runProgress
	if !cmd.Flags().Changed("progress") {
		interactive = term.IsTerminal(int(os.Stdout.Fd()))
	}
	if interactive {
		// stderr belongs to the progress view
		closeLog()
		logger, closeLog = config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
	}

	runner := orchestrator.NewRunner(cfg.Layout(), orchestrator.NewDefaultRegistry(stepDeps()), orchestrator.Options{
		BookID: runBookID,
		RunID:  runID,
		Steps:  steps,
		Policy: models.Policy{
			RequireGatePass: runRequireGatePass,
			SkipQA:          runSkipQA,
		},
		StepTimeout: cfg.StepTimeout,
		LockTTL:     cfg.LockTTL,
	}, collector, logger)

	var outcome models.Outcome
	if interactive {
		outcome, err = runInteractive(ctx, runner, steps)
	} else {
		runner.WithObserver(&textObserver{w: os.Stdout, theme: defaultTheme})
		outcome, err = runner.Run(ctx)
	}
	if err != nil {
		return withCode(ExitError, err)
	}

	if !interactive {
		fmt.Println(outcomeLine(defaultTheme, outcome))
	}
	fmt.Printf("Manifest: %s\n", filepath.Join(runner.RunDir(), orchestrator.ManifestFile))

	switch outcome {
	case models.OutcomeSuccess:
		return nil
	case models.OutcomeGateFailure:
		return withCode(ExitGateFail, fmt.Errorf("quality gate failed for %s", runBookID))
	default:
		if failed := orchestrator.FailedStep(runner.Manifest()); failed != nil {
			return withCode(ExitError, fmt.Errorf("step %s failed: %s", failed.Name, failed.Error))
		}
		return withCode(ExitError, fmt.Errorf("run %s failed", runner.RunID()))
	}
}

// runInteractive runs the orchestrator while a bubbletea view follows it.
func runInteractive(ctx context.Context, runner *orchestrator.Runner, steps []string) (models.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(runner.RunID(), steps, cancel))
	runner.WithObserver(teaObserver{p: p})

	type result struct {
		outcome models.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := runner.Run(ctx)
		done <- result{outcome, err}
		p.Send(runDoneMsg{outcome: outcome, err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return models.OutcomeExecutionError, fmt.Errorf("progress UI error: %w", err)
	}
	res := <-done
	return res.outcome, res.err
}

// stepDeps wires component factories for the run. Nothing is connected
// here; a step builds what it needs when it starts, so an unreachable store
// or LLM fails that step and shows up in the manifest.
func stepDeps() orchestrator.Deps {
	return orchestrator.Deps{
		Compiler: newCompiler(),
		Extractor: func(ctx context.Context) (extract.Extractor, error) {
			return newExtractor(ctx)
		},
		Reviewer: func(ctx context.Context) (*review.Reviewer, error) {
			return newReviewer(ctx, runLLMReview)
		},
		Glossary: func(ctx context.Context) (*glossary.Syncer, error) {
			return newSyncer(ctx, relToRoot(cfg.Layout().GlossaryDir()), runGlossaryDryRun)
		},
		Publisher: newPublisher,
		Linker:    newLinker,
		ReviewLLM: runLLMReview,
		Reconcile: runReconcile,
	}
}

// relToRoot expresses path relative to the workspace root for lineage.
func relToRoot(path string) string {
	rel, err := filepath.Rel(cfg.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
