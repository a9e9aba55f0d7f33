package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/raphaelgruber/methodkb/internal/gate"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"github.com/spf13/cobra"
)

var gateOut string

var gateCmd = &cobra.Command{
	Use:   "gate <outline>",
	Short: "Run the quality gate on an outline",
	Long: `Run the deterministic quality gate on an extracted outline.

Exit codes: 0 PASS, 2 FAIL, 1 when the outline cannot be read or has no stages.

Examples:
  methodkb gate work/fin-analysis/outline_fin-analysis.yaml
  methodkb gate outline.yaml --out gate.json`,
	Args: cobra.ExactArgs(1),
	RunE: runGate,
}

func init() {
	gateCmd.Flags().StringVar(&gateOut, "out", "", "write the gate result as JSON")
}

func runGate(cmd *cobra.Command, args []string) error {
	outline, err := parser.LoadOutline(args[0])
	if err != nil {
		return err
	}
	res, err := gate.Run(outline)
	if errors.Is(err, gate.ErrNoInputFound) {
		return withCode(ExitError, fmt.Errorf("%s: %w", args[0], err))
	}
	if err != nil {
		return err
	}
	if gateOut != "" {
		if err := gate.WriteReport(gateOut, res); err != nil {
			return err
		}
	}

	printGateResult(res)
	if !res.Passed() {
		return withCode(ExitGateFail, nil)
	}
	return nil
}

func printGateResult(res gate.Result) {
	t := defaultTheme
	status := t.completedStyle().Render(res.Status)
	if !res.Passed() {
		status = t.errorStyle().Render(res.Status)
	}
	fmt.Printf("Quality gate: %s (%d blockers, %d majors)\n\n", status, res.Blockers(), res.Majors())

	m := res.Metrics
	fmt.Printf("  Stages:      %d\n", m.NStages)
	fmt.Printf("  Indicators:  %d\n", m.NIndicators)
	fmt.Printf("  Rules:       %d\n", m.NRules)
	if m.FormulaNonEmptyRatio != nil {
		fmt.Printf("  Formulas:    %.0f%% filled\n", *m.FormulaNonEmptyRatio*100)
	}

	if len(res.Issues) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Issues))
	for _, is := range res.Issues {
		rows = append(rows, []string{is.Severity, is.Code, is.Message})
	}
	fmt.Println()
	fmt.Println(issueTable([]string{"Severity", "Code", "Message"}, rows))
}

// issueTable renders rows with the severity column colored.
func issueTable(headers []string, rows [][]string) *table.Table {
	t := defaultTheme
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(t.hintStyle().UnsetItalic()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			if col == 0 && row >= 0 && row < len(rows) {
				switch rows[row][0] {
				case models.IssueBlocker:
					return s.Foreground(t.Error)
				case models.IssueMajor:
					return s.Foreground(t.Skipped)
				}
			}
			return s
		})
}
