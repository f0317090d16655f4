package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"media-fetchd/internal/model"
)

var errWatchAborted = errors.New("watch aborted")

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type watchTickMsg time.Time

type watchInterruptMsg struct{}

type watchModel struct {
	batch *batch
	every time.Duration

	jobs      []model.Snapshot
	finished  bool
	canceling bool
	aborted   bool

	width   int
	spinner spinner.Model
	bar     progress.Model
}

func newWatchModel(b *batch, every time.Duration) watchModel {
	if every <= 0 {
		every = defaultPollInterval
	}
	jobs, _ := b.refresh()
	return watchModel{
		batch:   b,
		every:   every,
		jobs:    jobs,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

// runWatch shows the dashboard until every job in b is terminal. Cancellation
// of ctx cancels the batch instead of leaving the jobs behind.
func runWatch(ctx context.Context, b *batch, every time.Duration) error {
	p := tea.NewProgram(newWatchModel(b, every), tea.WithAltScreen())
	stop := context.AfterFunc(ctx, func() { p.Send(watchInterruptMsg{}) })
	defer stop()

	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(watchModel); ok && fm.aborted {
		return errWatchAborted
	}
	return nil
}

func watchTick(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, watchTick(m.every))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = clampInt(msg.Width/3, 10, 60)
		return m, nil
	case watchTickMsg:
		var done bool
		m.jobs, done = m.batch.refresh()
		if done {
			m.finished = true
			return m, tea.Quit
		}
		if m.canceling {
			m.batch.cancelAll()
		}
		return m, watchTick(m.every)
	case watchInterruptMsg:
		m.cancelAll()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.canceling {
				m.aborted = true
				return m, tea.Quit
			}
			m.cancelAll()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) cancelAll() {
	if m.canceling {
		return
	}
	m.canceling = true
	m.batch.cancelAll()
}

func (m watchModel) View() string {
	var completed, failed, canceled, live int
	for _, j := range m.jobs {
		switch j.Status {
		case model.StatusCompleted:
			completed++
		case model.StatusFailed:
			failed++
		case model.StatusCanceled:
			canceled++
		default:
			live++
		}
	}

	header := watchTitleStyle.Render("media-fetchd") + "  " + watchMutedStyle.Render(fmt.Sprintf(
		"%d jobs · %d active · %d completed · %d failed · %d canceled",
		len(m.jobs), live, completed, failed, canceled))

	lines := make([]string, 0, len(m.jobs)*2)
	for _, j := range m.jobs {
		lines = append(lines, m.jobLine(j))
		if detail := m.detailLine(j); detail != "" {
			lines = append(lines, "  "+watchMutedStyle.Render(detail))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, watchMutedStyle.Render("no jobs"))
	}
	panel := watchPanelStyle.Render(strings.Join(lines, "\n"))

	footer := watchMutedStyle.Render("q: cancel all")
	if m.canceling {
		footer = watchWarnStyle.Render("canceling… press q again to stop waiting")
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, panel, footer)
}

func (m watchModel) jobLine(j model.Snapshot) string {
	label := truncateRunes(firstNonBlank(j.Topic, j.URL), m.labelWidth())
	switch j.Status {
	case model.StatusRunning:
		return fmt.Sprintf("%s %s %s", m.spinner.View(), m.bar.ViewAs(j.ProgressPercent/100), label)
	case model.StatusQueued:
		return watchMutedStyle.Render("· queued   ") + " " + label
	case model.StatusCompleted:
		return watchOKStyle.Render("✓ done     ") + " " + label
	case model.StatusFailed:
		return watchErrorStyle.Render("✗ failed   ") + " " + label
	default:
		return watchWarnStyle.Render("– canceled ") + " " + label
	}
}

func (m watchModel) detailLine(j model.Snapshot) string {
	width := m.labelWidth() + 20
	switch j.Status {
	case model.StatusRunning:
		return truncateRunes(j.LastMessage, width)
	case model.StatusFailed:
		return truncateRunes(j.Error, width)
	case model.StatusCompleted:
		if j.SkipReason != "" {
			return "skipped: " + j.SkipReason
		}
		return truncateRunes(strings.Join(j.OutputFiles, ", "), width)
	}
	return ""
}

func (m watchModel) labelWidth() int {
	if m.width <= 0 {
		return 60
	}
	return clampInt(m.width-m.bar.Width-12, 20, 200)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clampInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
