package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/methodkb/internal/glossary"
	"github.com/spf13/cobra"
)

var (
	glossaryDir       string
	glossaryReconcile bool
	glossaryDryRun    bool
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage the canonical glossary",
}

var glossarySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync glossary files into the graph",
	Long: `Load canonical glossary terms from a directory, merge duplicates and upsert
them as glossary_term records. With --reconcile, stub terms created during
publishing are merged into their canonical terms by id, name or alias.

Examples:
  methodkb glossary sync
  methodkb glossary sync --dir data/glossary --reconcile
  methodkb glossary sync --reconcile --dry-run`,
	RunE: runGlossarySync,
}

func init() {
	glossarySyncCmd.Flags().StringVar(&glossaryDir, "dir", "", "glossary directory (default <root>/data/glossary)")
	glossarySyncCmd.Flags().BoolVar(&glossaryReconcile, "reconcile", false, "reconcile stubs after the sync")
	glossarySyncCmd.Flags().BoolVar(&glossaryDryRun, "dry-run", false, "compute the report without writing")
	glossaryCmd.AddCommand(glossarySyncCmd)
}

func runGlossarySync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	layout := cfg.Layout()

	dir := glossaryDir
	if dir == "" {
		dir = layout.GlossaryDir()
	}
	s, err := newSyncer(ctx, relToRoot(dir), glossaryDryRun)
	if err != nil {
		return err
	}
	report, err := s.SyncDir(ctx, dir, glossaryReconcile)
	if err != nil {
		return err
	}
	path := layout.GlossaryReportPath()
	if err := glossary.WriteReport(path, report); err != nil {
		return err
	}

	printGlossaryReport(report)
	fmt.Printf("\nReport: %s\n", path)
	return nil
}

func printGlossaryReport(r *glossary.Report) {
	t := defaultTheme
	title := "✓ Glossary synced"
	if r.DryRun {
		title = "✓ Glossary sync (dry run)"
	}
	fmt.Println(t.completedStyle().Render(title))
	fmt.Println()
	fmt.Printf("  Loaded:            %d\n", r.Loaded)
	fmt.Printf("  Merged duplicates: %d\n", r.MergedDuplicates)
	fmt.Printf("  Inserted:          %d\n", r.Inserted)
	fmt.Printf("  Updated:           %d\n", r.Updated)
	if len(r.Reconciled) > 0 {
		fmt.Printf("\n  Reconciled stubs:\n")
		for _, rec := range r.Reconciled {
			fmt.Printf("    %s -> %s (by %s)\n", rec.TermID, rec.MergedInto, rec.MatchedBy)
		}
	}
	if len(r.UnknownTerms) > 0 {
		fmt.Printf("\n  %s\n", t.skippedStyle().Render(fmt.Sprintf("Unknown terms (%d):", len(r.UnknownTerms))))
		for _, id := range r.UnknownTerms {
			fmt.Printf("    %s\n", id)
		}
	}
}
