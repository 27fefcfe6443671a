package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/onboard-go/internal/scraper"
)

const refreshInterval = 100 * time.Millisecond

// Theme holds the color scheme for the progress display.
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

// Style functions for dynamic theming
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

// tickMsg triggers reading the controller state
type tickMsg time.Time

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	ctrl     *scraper.Controller
	state    scraper.State
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

// newProgressModel creates a new progress model.
func newProgressModel(ctrl *scraper.Controller) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		ctrl:     ctrl,
		state:    ctrl.Snapshot(),
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start refreshing).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.state = m.ctrl.Snapshot()
		if m.state.Phase.Terminal() || !m.state.IsLoading {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state.Phase))
	progressBar := m.progress.ViewAs(estimateProgress(m.state))

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", status, progressBar, m.state.SourceURL)
	for _, line := range m.state.ProgressLog {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	// Hint about background operation
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to continue in background"))
	b.WriteString("\n")
	return b.String()
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	switch {
	case m.quitting:
		return m.theme.hintStyle().Render(detachMessage(m.state.JobID))
	case m.state.Error != "":
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.state.Error))
	case m.state.Phase == scraper.PhaseSucceeded:
		return m.theme.completedStyle().Render("✓ Profile ready") + "\n" +
			m.theme.hintStyle().Render("Use 'onboard result' to view it.") + "\n"
	default:
		return m.theme.hintStyle().Render("No job to follow.") + "\n"
	}
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// estimateProgress maps the job phase and message count onto a bar fill.
// The server reports no totals, so streaming approaches but never reaches 1.
func estimateProgress(st scraper.State) float64 {
	switch st.Phase {
	case scraper.PhaseSubmitting:
		return 0.05
	case scraper.PhaseStreaming:
		n := float64(st.ProgressCount)
		return 0.1 + 0.8*(n/(n+4))
	case scraper.PhaseSucceeded:
		return 1
	default:
		return 0
	}
}

func detachMessage(jobID string) string {
	return fmt.Sprintf("\nJob %s continues in background.\nUse 'onboard resume' to pick it up again.\n", jobID)
}

func printSuccess(w io.Writer) {
	fmt.Fprintln(w, "✓ Profile ready. Use 'onboard result' to view it.")
}

// followJob blocks until the controller's job ends or the user detaches.
func followJob(ctx context.Context, out io.Writer, ctrl *scraper.Controller) error {
	if useProgressView() {
		return runJobProgress(ctrl)
	}
	return followPlain(ctx, out, ctrl)
}

// runJobProgress runs the interactive progress UI.
// Returns nil on success or Ctrl+C (background), error on job failure.
func runJobProgress(ctrl *scraper.Controller) error {
	model := newProgressModel(ctrl)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, job continues in background - not an error
		if m.quitting {
			ctrl.Close()
			return nil
		}
		if m.state.Error != "" {
			return errors.New(m.state.Error)
		}
	}

	return nil
}

// followPlain prints each new progress message on its own line.
func followPlain(ctx context.Context, out io.Writer, ctrl *scraper.Controller) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	changes, cancel := ctrl.Watch()
	defer cancel()

	printer := &linePrinter{out: out}
	for {
		st := ctrl.Snapshot()
		printer.print(st)

		if st.Phase.Terminal() || !st.IsLoading {
			if st.Error != "" {
				return errors.New(st.Error)
			}
			if st.Phase == scraper.PhaseSucceeded {
				printSuccess(out)
			}
			return nil
		}

		select {
		case <-changes:
		case <-ctx.Done():
			ctrl.Close()
			fmt.Fprint(out, detachMessage(st.JobID))
			return nil
		}
	}
}

// linePrinter emits progress messages not printed yet. The controller keeps
// only recent messages, so a burst larger than the log prints its tail.
type linePrinter struct {
	out     io.Writer
	printed int
}

func (p *linePrinter) print(st scraper.State) {
	fresh := st.ProgressCount - p.printed
	if fresh <= 0 {
		return
	}
	lines := st.ProgressLog
	if fresh < len(lines) {
		lines = lines[len(lines)-fresh:]
	}
	for _, line := range lines {
		fmt.Fprintf(p.out, "  %s\n", line)
	}
	p.printed = st.ProgressCount
}
