package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/raphaelgruber/methodkb/internal/review"
	"github.com/spf13/cobra"
)

var (
	reviewBookID string
	reviewLLM    bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review a compiled methodology",
	Long: `Run the QA review on a compiled methodology and write qa_result.json and
qa_report.md under work/<book>/qa/.

Exit codes: 0 approved, 2 not approved, 1 when the review cannot run.

Examples:
  methodkb review --book-id fin-analysis
  methodkb review --book-id fin-analysis --llm`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewBookID, "book-id", "", "book id (required)")
	reviewCmd.Flags().BoolVar(&reviewLLM, "llm", false, "add the LLM review pass")
	_ = reviewCmd.MarkFlagRequired("book-id")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	layout := cfg.Layout()
	mid := models.Slugify(reviewBookID)

	r, err := newReviewer(ctx, reviewLLM)
	if err != nil {
		return err
	}

	terms, err := parser.LoadGlossary(layout.GlossaryDir())
	if err != nil {
		logger.Warn("glossary unavailable, skipping coverage check", "error", err)
	}
	var ids map[string]bool
	if terms != nil {
		ids = make(map[string]bool, len(terms))
		for _, t := range terms {
			ids[models.NormalizeTermID(t.ID)] = true
		}
	}

	record := layout.RecordPath(mid)
	report, err := r.ReviewFile(ctx, record, review.Options{
		DocsDir:    layout.MethodologyDocsDir(mid),
		RecordPath: record,
		Glossary:   ids,
		UseLLM:     reviewLLM,
	})
	if err != nil {
		return err
	}
	paths, err := review.WriteResult(layout.QADir(reviewBookID), report)
	if err != nil {
		return err
	}

	printReview(report)
	fmt.Printf("\nReport: %s\n", strings.Join(paths, ", "))
	if !report.Approved {
		return withCode(ExitGateFail, nil)
	}
	return nil
}

func printReview(report models.QAReport) {
	t := defaultTheme
	verdict := t.completedStyle().Render("APPROVED")
	if !report.Approved {
		verdict = t.errorStyle().Render("NOT APPROVED")
	}
	fmt.Printf("QA review of %s: %s (score %d)\n\n", report.MethodologyID, verdict, report.Score)
	fmt.Printf("  Blockers:          %d\n", report.Stats.Blockers)
	fmt.Printf("  Majors:            %d\n", report.Stats.Majors)
	fmt.Printf("  Minors:            %d\n", report.Stats.Minors)
	fmt.Printf("  Glossary coverage: %.0f%%\n", report.Stats.GlossaryCoverage*100)
	fmt.Printf("  Formula checks:    %.0f%%\n", report.Stats.FormulaRatio*100)
	if report.LLMUsed {
		fmt.Printf("  LLM pass:          used\n")
	}

	if len(report.Issues) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.Issues))
	for _, is := range report.Issues {
		rows = append(rows, []string{is.Severity, is.ID, is.Message})
	}
	fmt.Println()
	fmt.Println(issueTable([]string{"Severity", "ID", "Message"}, rows))
}
