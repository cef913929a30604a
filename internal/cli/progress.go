package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/pricedock/pricedock/internal/client"
	"github.com/pricedock/pricedock/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

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

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *models.JobRecord
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	client   *client.Client
	jobID    string
	job      *models.JobRecord
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, job *models.JobRecord) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		jobID:    job.JobID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
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
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		switch m.job.Phase {
		case models.PhaseComplete:
			m.done = true
			return m, tea.Quit
		case models.PhaseFailed:
			m.done = true
			if m.job.Error != "" {
				m.err = fmt.Errorf("%s", m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
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

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	pct, counts := m.progressOf(m.job)
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Phase))
	progressBar := m.progress.ViewAs(pct)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// progressOf derives a progress fraction and a counts label from whichever
// phase the job is in.
func (m progressModel) progressOf(job *models.JobRecord) (float64, string) {
	switch job.Phase {
	case models.PhaseDownloading:
		if job.Download.BytesTotal > 0 {
			return float64(job.Download.BytesTransferred) / float64(job.Download.BytesTotal),
				fmt.Sprintf("%d/%d bytes", job.Download.BytesTransferred, job.Download.BytesTotal)
		}
		return 0, fmt.Sprintf("%d bytes", job.Download.BytesTransferred)
	default:
		if job.Analysis.ItemsTotal > 0 {
			return float64(job.Analysis.ItemsProcessed) / float64(job.Analysis.ItemsTotal),
				fmt.Sprintf("%d/%d items", job.Analysis.ItemsProcessed, job.Analysis.ItemsTotal)
		}
		return 0, ""
	}
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'pricedock jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil {
		var output string
		output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		output += fmt.Sprintf("  Items processed:   %d\n", m.job.Analysis.ItemsProcessed)
		output += fmt.Sprintf("  Matched:           %d\n", m.job.Analysis.MatchesFound)
		output += fmt.Sprintf("  Queued for review: %d\n", m.job.Analysis.ReviewQueued)
		if m.job.Analysis.ErrorCount > 0 {
			output += m.theme.errorStyle().Render(fmt.Sprintf("\nRow errors: %d\n", m.job.Analysis.ErrorCount))
		}
		if mtr := m.job.Metrics; mtr != nil && mtr.TotalRows > 0 {
			output += fmt.Sprintf("\n  Rows: %d parsed / %d total\n", mtr.ParsedRows, mtr.TotalRows)
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchJob fetches the current job status from the daemon.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(c *client.Client, job *models.JobRecord) error {
	model := newProgressModel(c, job)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
