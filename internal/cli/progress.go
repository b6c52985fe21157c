package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/moviesync/internal/pipeline"
)

// Theme holds the color scheme for pass output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
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

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// stateMsg reports a driver state transition.
type stateMsg pipeline.State

// entityDoneMsg carries the report of a finished entity type.
type entityDoneMsg pipeline.EntityReport

// passDoneMsg carries the outcome of the whole pass.
type passDoneMsg struct {
	report pipeline.PassReport
	err    error
}

// passModel is the bubbletea model for a single pass.
type passModel struct {
	total    int
	entities []pipeline.EntityReport
	state    pipeline.State
	started  time.Time
	progress progress.Model
	theme    Theme
	cancel   context.CancelFunc

	done     bool
	stopping bool
	report   pipeline.PassReport
	err      error
}

func newPassModel(total int, cancel context.CancelFunc) passModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return passModel{
		total:    total,
		state:    pipeline.StateIdle,
		started:  time.Now(),
		progress: prog,
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m passModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m passModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// the pass drains its in-flight chunk and reports back
			m.stopping = true
			m.cancel()
			return m, nil
		}

	case stateMsg:
		m.state = pipeline.State(msg)
		return m, nil

	case entityDoneMsg:
		m.entities = append(m.entities, pipeline.EntityReport(msg))
		return m, nil

	case passDoneMsg:
		m.done = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m passModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m passModel) renderContent() string {
	if m.done {
		return renderReport(m.theme, m.report, m.err)
	}

	var pct float64
	if m.total > 0 {
		pct = float64(len(m.entities)) / float64(m.total)
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state))
	counts := fmt.Sprintf("%d/%d entity types", len(m.entities), m.total)
	elapsed := time.Since(m.started).Round(time.Second)

	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop after the current chunk")
	if m.stopping {
		hint = m.theme.hintStyle().Render("Stopping...")
	}
	return fmt.Sprintf("%s %s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, elapsed, hint)
}

// runPassProgress runs one pass under the interactive progress UI and
// returns the pass error.
func runPassProgress(ctx context.Context, s *session, total int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newPassModel(total, cancel))
	d := s.driver(pipeline.Options{
		OnStateChange: func(st pipeline.State) { p.Send(stateMsg(st)) },
		OnEntityDone:  func(er pipeline.EntityReport) { p.Send(entityDoneMsg(er)) },
	})

	results := make(chan passDoneMsg, 1)
	go func() {
		report, err := d.RunOnce(ctx)
		res := passDoneMsg{report: report, err: err}
		results <- res
		p.Send(res)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		res := <-results
		printReport(stdout, defaultTheme, res.report, res.err)
		return fmt.Errorf("progress UI error: %w", err)
	}
	return (<-results).err
}

// renderReport formats a pass summary.
func renderReport(t Theme, report pipeline.PassReport, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(t.errorStyle().Render(fmt.Sprintf("✗ Pass %s failed after %s", report.ID, report.Duration().Round(time.Millisecond))))
	} else {
		b.WriteString(t.completedStyle().Render(fmt.Sprintf("✓ Pass %s completed in %s", report.ID, report.Duration().Round(time.Millisecond))))
	}
	b.WriteString("\n\n")

	for _, e := range report.Entities {
		fmt.Fprintf(&b, "  %-8s pages %-3d extracted %-5d indexed %-5d failed %-4d skipped %-4d watermark %s\n",
			e.Entity, e.Pages, e.Extracted, e.Indexed, e.Failed, e.Skipped, formatWatermark(e.Watermark))
		if e.Err != "" {
			b.WriteString(t.errorStyle().Render("    " + e.Err))
			b.WriteString("\n")
		}
	}
	if err != nil && len(report.Entities) == 0 {
		b.WriteString(t.errorStyle().Render("  " + err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

func printReport(w io.Writer, t Theme, report pipeline.PassReport, err error) {
	fmt.Fprint(w, renderReport(t, report, err))
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return "(none)"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
