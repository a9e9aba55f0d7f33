package cli

import (
	"fmt"

	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/spf13/cobra"
)

var compileBookID string

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a book outline into a methodology record",
	Long: `Compile the extracted outline of a book into data/methodologies/<id>.yaml
and render its documents under docs/methodologies/<id>/.

Examples:
  methodkb compile --book-id fin-analysis`,
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileBookID, "book-id", "", "book id (required)")
	_ = compileCmd.MarkFlagRequired("book-id")
}

func runCompile(cmd *cobra.Command, args []string) error {
	layout := cfg.Layout()
	outlinePath, err := parser.FindOutline(layout.WorkDir(compileBookID), compileBookID)
	if err != nil {
		return err
	}

	c := newCompiler()
	compiled, err := c.CompileFile(outlinePath, compileBookID)
	if err != nil {
		return err
	}
	record := layout.RecordPath(compiled.MethodologyID)
	if err := c.WriteRecord(record, compiled); err != nil {
		return err
	}
	docs, err := c.Render(compiled, layout.DocsDir())
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", defaultTheme.completedStyle().Render("✓ Compiled"), compiled.MethodologyID)
	fmt.Printf("  Record:     %s\n", record)
	fmt.Printf("  Documents:  %d files\n", len(docs))
	fmt.Printf("  Stages:     %d\n", len(compiled.Structure.Stages))
	fmt.Printf("  Indicators: %d\n", len(compiled.Structure.Indicators))
	return nil
}
