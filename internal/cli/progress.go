package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/methodkb/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Skipped lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Skipped: lipgloss.Color("#D7AF00"), // amber
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) skippedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Skipped)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusLabel renders a step status with its color.
func (t Theme) statusLabel(status string) string {
	switch status {
	case models.StepOK:
		return t.completedStyle().Render("✓ ok")
	case models.StepFail:
		return t.errorStyle().Render("✗ fail")
	case models.StepSkipped:
		return t.skippedStyle().Render("- skipped")
	default:
		return t.statusStyle().Render("… " + status)
	}
}

// stepStartMsg and stepEndMsg mirror the orchestrator observer callbacks.
type stepStartMsg struct {
	name         string
	index, total int
}

type stepEndMsg struct {
	result models.StepResult
}

// runDoneMsg ends the view.
type runDoneMsg struct {
	outcome models.Outcome
	err     error
}

type stepLine struct {
	name   string
	status string
	result *models.StepResult
}

// progressModel is the bubbletea model for a pipeline run.
type progressModel struct {
	runID    string
	steps    []stepLine
	total    int
	current  string
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	outcome  models.Outcome
	err      error
	cancel   func()
}

// newProgressModel creates a progress model for the given steps.
func newProgressModel(runID string, steps []string, cancel func()) progressModel {
	lines := make([]stepLine, len(steps))
	for i, s := range steps {
		lines[i] = stepLine{name: s, status: "pending"}
	}
	return progressModel{
		runID:    runID,
		steps:    lines,
		total:    len(steps),
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The run keeps recording its manifest; cancelling fails the
			// current step and skips the rest.
			if !m.quitting && m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, nil
		}

	case stepStartMsg:
		m.current = msg.name
		m.total = msg.total
		m.setStatus(msg.name, "running", nil)
		return m, nil

	case stepEndMsg:
		res := msg.result
		m.setStatus(res.Name, res.Status, &res)
		return m, nil

	case runDoneMsg:
		m.done = true
		m.outcome = msg.outcome
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *progressModel) setStatus(name, status string, res *models.StepResult) {
	for i := range m.steps {
		if m.steps[i].name == name && (m.steps[i].result == nil) {
			m.steps[i].status = status
			m.steps[i].result = res
			return
		}
	}
	m.steps = append(m.steps, stepLine{name: name, status: status, result: res})
}

func (m progressModel) finished() int {
	n := 0
	for _, s := range m.steps {
		if s.result != nil {
			n++
		}
	}
	return n
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.theme.statusStyle().Render("Run"), m.runID)

	for _, s := range m.steps {
		line := fmt.Sprintf("  %-14s %s", s.name, m.theme.statusLabel(s.status))
		if s.result != nil && s.result.Status != models.StepSkipped {
			line += m.theme.hintStyle().Render(fmt.Sprintf("  %.2fs", s.result.DurationSec))
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	if m.done {
		b.WriteString(m.finalView())
		return b.String()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.finished()) / float64(m.total)
	}
	fmt.Fprintf(&b, "%s %d/%d steps\n", m.progress.ViewAs(pct), m.finished(), m.total)
	if m.quitting {
		b.WriteString(m.theme.hintStyle().Render("Cancelling, waiting for the manifest to be written...") + "\n")
	} else {
		b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to cancel the run") + "\n")
	}
	return b.String()
}

// finalView renders the outcome line.
func (m progressModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ Run failed: %s", m.err)) + "\n"
	}
	return outcomeLine(m.theme, m.outcome) + "\n"
}

// outcomeLine renders an outcome with its exit code.
func outcomeLine(t Theme, o models.Outcome) string {
	text := fmt.Sprintf("%s (exit %d)", o, o.ExitCode())
	switch o {
	case models.OutcomeSuccess:
		return t.completedStyle().Render("✓ " + text)
	case models.OutcomeGateFailure:
		return t.skippedStyle().Bold(true).Render("■ " + text)
	default:
		return t.errorStyle().Render("✗ " + text)
	}
}

// teaObserver forwards orchestrator callbacks into a bubbletea program.
type teaObserver struct {
	p *tea.Program
}

func (o teaObserver) OnStepStart(name string, index, total int) {
	o.p.Send(stepStartMsg{name: name, index: index, total: total})
}

func (o teaObserver) OnStepEnd(res models.StepResult) {
	o.p.Send(stepEndMsg{result: res})
}

// textObserver prints one line per step transition, for non-interactive output.
type textObserver struct {
	mu    sync.Mutex
	w     io.Writer
	theme Theme
}

func (o *textObserver) OnStepStart(name string, index, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "[%d/%d] %s ...\n", index+1, total, name)
}

func (o *textObserver) OnStepEnd(res models.StepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	line := fmt.Sprintf("        %s %s", res.Name, o.theme.statusLabel(res.Status))
	if res.Status != models.StepSkipped {
		line += fmt.Sprintf(" (%.2fs)", res.DurationSec)
	}
	if res.Error != "" {
		line += ": " + res.Error
	}
	fmt.Fprintln(o.w, line)
}
