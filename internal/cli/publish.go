package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/compile"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/publish"
	"github.com/raphaelgruber/methodkb/internal/review"
	"github.com/spf13/cobra"
)

var (
	publishBookID string
	publishSkipQA bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a compiled methodology into the graph",
	Long: `Publish a compiled methodology and its stages, tools, indicators, rules and
term references into SurrealDB. Requires an approved QA review unless
--skip-qa is given. Writes are idempotent upserts keyed by stable ids.

Examples:
  methodkb publish --book-id fin-analysis
  methodkb publish --book-id fin-analysis --skip-qa`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishBookID, "book-id", "", "book id (required)")
	publishCmd.Flags().BoolVar(&publishSkipQA, "skip-qa", false, "publish without an approved QA review")
	_ = publishCmd.MarkFlagRequired("book-id")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	layout := cfg.Layout()

	compiled, err := compile.LoadRecord(layout.RecordPath(models.Slugify(publishBookID)))
	if err != nil {
		return err
	}
	qa, err := review.LoadResult(layout.QADir(publishBookID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	p, err := newPublisher(ctx)
	if err != nil {
		return err
	}
	report, err := p.Publish(ctx, compiled, qa, publishSkipQA)
	if err != nil {
		return err
	}
	path, err := publish.WriteReport(layout.PublishDir(publishBookID), report)
	if err != nil {
		return err
	}

	printPublishReport(report)
	fmt.Printf("\nReport: %s\n", path)
	return nil
}

func printPublishReport(r *models.PublishReport) {
	t := defaultTheme
	fmt.Printf("%s %s\n\n", t.completedStyle().Render("✓ Published"), r.MethodologyID)
	fmt.Printf("  %-24s %8s %8s\n", "Collection", "Inserted", "Updated")
	for _, name := range slices.Sorted(maps.Keys(r.Collections)) {
		c := r.Collections[name]
		fmt.Printf("  %-24s %8d %8d\n", name, c.Inserted, c.Updated)
	}
	for _, name := range slices.Sorted(maps.Keys(r.Edges)) {
		c := r.Edges[name]
		fmt.Printf("  %-24s %8d %8d\n", name, c.Inserted, c.Updated)
	}
	if len(r.StubsCreated) > 0 {
		fmt.Printf("\n  Stub terms created: %s\n", strings.Join(r.StubsCreated, ", "))
	}
	if r.Warnings > 0 {
		fmt.Printf("  %s %d warnings\n", t.skippedStyle().Render("!"), r.Warnings)
	}
	if r.SkippedQA {
		fmt.Printf("  %s published without QA approval\n", t.skippedStyle().Render("!"))
	}
}
