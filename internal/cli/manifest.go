package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/orchestrator"
	"github.com/spf13/cobra"
)

var manifestJSON bool

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect run manifests",
}

var manifestShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show the manifest of a run",
	Long: `Show the steps, QA results and outcome recorded for a run.

Examples:
  methodkb manifest show kb_1760601600_1a2b3c4d
  methodkb manifest show kb_1760601600_1a2b3c4d --json`,
	Args: cobra.ExactArgs(1),
	RunE: runManifestShow,
}

func init() {
	manifestShowCmd.Flags().BoolVar(&manifestJSON, "json", false, "print the raw manifest JSON")
	manifestCmd.AddCommand(manifestShowCmd)
}

func runManifestShow(cmd *cobra.Command, args []string) error {
	runDir := cfg.Layout().RunDir(args[0])
	m, err := orchestrator.LoadManifest(runDir)
	if err != nil {
		return err
	}
	if manifestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	final, _ := orchestrator.LoadFinal(runDir)
	fmt.Print(renderManifest(m, final))
	return nil
}

func renderManifest(m *models.RunManifest, final *orchestrator.Final) string {
	t := defaultTheme
	title := lipgloss.NewStyle().Bold(true).Render("Run " + m.RunID)
	out := title + "\n\n"
	out += fmt.Sprintf("  Book:     %s\n", m.BookID)
	out += fmt.Sprintf("  Created:  %s\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	out += fmt.Sprintf("  Policy:   require_gate_pass=%t skip_qa=%t\n", m.Policy.RequireGatePass, m.Policy.SkipQA)
	if m.Outcome != "" {
		out += "  Outcome:  " + outcomeLine(t, m.Outcome) + "\n"
	}
	if final != nil {
		out += fmt.Sprintf("  Reason:   %s\n", final.Reason)
	}

	qa := m.QA
	if qa.GateStatus != nil || qa.Approved != nil {
		out += "\n"
		if qa.GateStatus != nil {
			out += fmt.Sprintf("  Gate:     %s\n", *qa.GateStatus)
		}
		if qa.Approved != nil {
			out += fmt.Sprintf("  Approved: %t (blockers %s, warnings %s)\n", *qa.Approved, intOrDash(qa.Blockers), intOrDash(qa.Warnings))
		}
	}

	rows := make([][]string, 0, len(m.Steps))
	for _, s := range m.Steps {
		dur := "-"
		if s.Status != models.StepSkipped {
			dur = fmt.Sprintf("%.2fs", s.DurationSec)
		}
		rows = append(rows, []string{s.Name, s.Status, dur, strconv.Itoa(len(s.Artifacts)), s.Error})
	}
	steps := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.hintStyle().UnsetItalic()).
		Headers("Step", "Status", "Duration", "Artifacts", "Error").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			if col == 1 && row >= 0 && row < len(rows) {
				switch rows[row][1] {
				case models.StepOK:
					return s.Foreground(t.Success)
				case models.StepFail:
					return s.Foreground(t.Error)
				case models.StepSkipped:
					return s.Foreground(t.Skipped)
				}
			}
			return s
		})
	out += "\n" + steps.Render() + "\n"
	return out
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
