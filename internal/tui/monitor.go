// Package tui provides the job monitor model for real-time progress.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/finops/cli/internal/progress"
	"github.com/finops/cli/internal/ui"
)

// maxActivityLines bounds the upload activity shown on screen.
const maxActivityLines = 12

// Job runs a backend job, reporting every progress snapshot to observe, and
// returns the reconciled final state.
type Job func(ctx context.Context, observe func(progress.State)) (progress.State, error)

// SnapshotMsg carries a progress snapshot.
// NextCmd must be issued by the Update handler to continue the streaming chain.
type SnapshotMsg struct {
	State   progress.State
	NextCmd tea.Cmd
}

// DoneMsg signals that the job returned.
type DoneMsg struct {
	State progress.State
	Err   error
}

// tickMsg is sent every second to update the elapsed timer.
type tickMsg struct{}

// monitorModel renders one running job.
type monitorModel struct {
	// title names the job in the header, e.g. "Settlement".
	title string

	// mode selects between the step list and the activity log.
	mode progress.Mode

	// summarize describes a successful final state; may be nil.
	summarize func(progress.State) string

	// ctx and job are started by Init.
	ctx context.Context
	job Job

	// cancel cancels the job's context.
	cancel context.CancelFunc

	// state holds the latest snapshot.
	state progress.State

	// sawRunning is set once a snapshot reported a live stream.
	sawRunning bool

	// done indicates the job returned.
	done bool

	// err holds the job's error, if any.
	err error

	// cancelling is set when the user pressed ctrl+c before the job returned.
	cancelling bool

	// startTime records when the job started for elapsed time display.
	startTime time.Time

	// spinner provides visual activity feedback.
	spinner spinner.Model

	// width tracks the terminal width.
	width int
}

// newMonitorModel creates a monitor for the given job.
//
// Parameters:
//   - ctx: the job's context; cancelled on ctrl+c
//   - cancel: cancels ctx
//   - title: display name for the header
//   - mode: the job's reducer mode
//   - summarize: success summary, may be nil
//   - job: the job to run
//
// Returns:
//   - monitorModel: the initialized model
func newMonitorModel(ctx context.Context, cancel context.CancelFunc, title string, mode progress.Mode, summarize func(progress.State) string, job Job) monitorModel {
	return monitorModel{
		title:     title,
		mode:      mode,
		summarize: summarize,
		ctx:       ctx,
		job:       job,
		cancel:    cancel,
		state:     progress.NewState(),
		startTime: time.Now(),
		spinner:   newSpinner(),
		width:     ui.TerminalWidth(80),
	}
}

// Run runs job under the monitor until it returns.
//
// Parameters:
//   - ctx: Context for the job
//   - title: display name for the header
//   - mode: the job's reducer mode
//   - summarize: success summary, may be nil
//   - job: the job to run
//
// Returns:
//   - progress.State: the job's final state
//   - error: the job's error, or an error from the Bubble Tea runtime
func Run(ctx context.Context, title string, mode progress.Mode, summarize func(progress.State) string, job Job) (progress.State, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	final, err := tea.NewProgram(newMonitorModel(ctx, cancel, title, mode, summarize, job)).Run()
	if err != nil {
		return progress.State{}, err
	}
	m := final.(monitorModel)
	if !m.done {
		return m.state, errors.New("monitor exited before the job finished")
	}
	return m.state, m.err
}

// --- Tea commands ---

// startJobCmd runs the job in a background goroutine and returns a tea.Cmd
// that begins reading its messages from a channel. Snapshots are cumulative,
// so when the TUI falls behind the oldest pending one is dropped; the final
// DoneMsg is never dropped.
func startJobCmd(ctx context.Context, job Job) tea.Cmd {
	ch := make(chan tea.Msg, 16)

	go func() {
		defer close(ch)

		observe := func(s progress.State) {
			msg := SnapshotMsg{State: s}
			select {
			case ch <- msg:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- msg:
				default:
				}
			}
		}

		final, err := job(ctx, observe)
		ch <- DoneMsg{State: final, Err: err}
	}()

	return waitForMsgCmd(ch)
}

// waitForMsgCmd reads the next message from the channel. Snapshots re-issue
// the read through NextCmd.
func waitForMsgCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		if s, isSnapshot := msg.(SnapshotMsg); isSnapshot {
			s.NextCmd = waitForMsgCmd(ch)
			return s
		}
		return msg
	}
}

// tickCmd sends a tick every second for the elapsed time display.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

// --- Bubble Tea interface ---

// Init starts the job, the spinner and the timer.
func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
		startJobCmd(m.ctx, m.job),
	)
}

// Update handles messages for the monitor.
func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if !m.done {
			return m, tickCmd()
		}
		return m, nil

	case SnapshotMsg:
		if !m.done {
			m.state = msg.State
			if msg.State.Running {
				m.sawRunning = true
			}
		}
		return m, msg.NextCmd

	case DoneMsg:
		m.done = true
		m.state = msg.State
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// handleKey processes key events.
func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.done {
			return m, tea.Quit
		}
		if !m.cancelling {
			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
	}
	return m, nil
}

// --- View rendering ---

// View renders the monitor.
func (m monitorModel) View() string {
	var b strings.Builder
	w := m.width
	if w == 0 {
		w = 80
	}

	elapsed := time.Since(m.startTime).Truncate(time.Second)
	header := titleStyle.Render(" FINOPS") + "  " +
		selectedStyle.Render(m.title) + "  " +
		m.phaseIcon() + "  " +
		dimStyle.Render(elapsed.String())
	b.WriteString(header + "\n")
	b.WriteString(separator(min(w, 60)) + "\n")

	if m.mode == progress.ModeUpload {
		b.WriteString(sectionStyle.Render("  Activity") + "\n")
		b.WriteString(m.renderActivity(w))
	} else {
		b.WriteString(sectionStyle.Render("  Steps") + "\n")
		b.WriteString(m.renderSteps())
	}

	if notice := m.renderNotice(); notice != "" {
		b.WriteString("\n" + notice)
	}

	if m.done {
		b.WriteString("\n")
		b.WriteString(m.renderResult())
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString("  " + separator(min(w-4, 56)) + "\n")
	b.WriteString("  " + helpKeyRender("ctrl+c", "cancel") + "\n")
	return b.String()
}

// phaseIcon returns the header icon of the current state.
func (m monitorModel) phaseIcon() string {
	if !m.done {
		return m.spinner.View()
	}
	if m.state.Failed() || m.err != nil {
		return errorStyle.Render("✗")
	}
	return successStyle.Render("✓")
}

// renderSteps renders completed workflow steps followed by the active one.
func (m monitorModel) renderSteps() string {
	var b strings.Builder
	for _, step := range m.state.CompletedSteps {
		b.WriteString("   " + successStyle.Render("✓") + "  " + normalStyle.Render(ui.StepLabel(step)) + "\n")
	}
	current := m.state.CurrentStep
	if current != "" && current != progress.StepDone && !m.state.Terminal() && !m.done {
		b.WriteString("   " + m.spinner.View() + " " + runningStyle.Render(ui.StepLabel(current)) + "\n")
	}
	if len(m.state.CompletedSteps) == 0 && (current == "" || m.done) {
		b.WriteString(dimStyle.Render("   waiting for the first step") + "\n")
	}
	return b.String()
}

// renderActivity renders the tail of the upload activity log.
func (m monitorModel) renderActivity(width int) string {
	steps := m.state.Steps
	var b strings.Builder
	if len(steps) > maxActivityLines {
		b.WriteString(dimStyle.Render(fmt.Sprintf("   … %d earlier entries", len(steps)-maxActivityLines)) + "\n")
		steps = steps[len(steps)-maxActivityLines:]
	}
	bar := min(20, max(width-50, 0))
	for _, ev := range steps {
		b.WriteString("   " + ui.FormatEvent(ev, bar) + "\n")
	}
	if len(m.state.Steps) == 0 {
		b.WriteString(dimStyle.Render("   waiting for the backend") + "\n")
	}
	return b.String()
}

// renderNotice explains a live job whose stream went away.
func (m monitorModel) renderNotice() string {
	switch {
	case m.cancelling && !m.done:
		return warningStyle.Render("  Cancelling…") + "\n"
	case m.sawRunning && !m.state.Running && !m.state.Terminal() && !m.done:
		return warningStyle.Render("  Progress stream lost, waiting for the backend to finish") + "\n"
	}
	return ""
}

// renderResult renders the final result line.
func (m monitorModel) renderResult() string {
	if m.state.Failed() || m.err != nil {
		msg := m.state.Error
		if msg == "" && m.err != nil {
			msg = m.err.Error()
		}
		return errorStyle.Render("  ✗ "+m.title+" failed") + "\n  " + dimStyle.Render(msg) + "\n"
	}
	line := successStyle.Render("  ✓ " + m.title + " finished")
	if m.summarize != nil {
		if s := m.summarize(m.state); s != "" {
			line += "\n  " + normalStyle.Render(s)
		}
	}
	return line + "\n"
}
