package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gosyncprogress/internal/status"
	"gosyncprogress/internal/utils"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SnapshotSource is a live status feed
type SnapshotSource interface {
	Snapshot() status.Snapshot
	Subscribe(fn func(status.Snapshot)) func()
}

// WatchActions are the operations the watch screen can trigger
type WatchActions struct {
	Flush     func(ctx context.Context) error
	ForceSave func(ctx context.Context) (bool, error)
}

type snapshotMsg status.Snapshot

type actionDoneMsg struct {
	name  string
	saved bool
	err   error
}

// watchModel is the bubbletea model for the live status screen
type watchModel struct {
	ctx      context.Context
	actions  WatchActions
	spinner  spinner.Model
	snap     status.Snapshot
	busy     string
	message  string
	quitting bool
	width    int
}

func newWatchModel(ctx context.Context, initial status.Snapshot, actions WatchActions) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return watchModel{
		ctx:     ctx,
		actions: actions,
		spinner: sp,
		snap:    initial,
		width:   80,
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = status.Snapshot(msg)
		return m, nil

	case actionDoneMsg:
		m.busy = ""
		switch {
		case errors.Is(msg.err, utils.ErrOfflineSentinel):
			m.message = msg.name + ": offline, changes stay queued"
		case msg.err != nil:
			m.message = fmt.Sprintf("%s failed: %v", msg.name, msg.err)
		case msg.name == "force save" && !msg.saved:
			m.message = "force save: some changes are still queued"
		default:
			m.message = msg.name + ": done"
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "f":
			if m.busy == "" && m.actions.Flush != nil {
				m.busy = "flush"
				return m, m.runFlush()
			}
		case "s":
			if m.busy == "" && m.actions.ForceSave != nil {
				m.busy = "force save"
				return m, m.runForceSave()
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) runFlush() tea.Cmd {
	ctx, flush := m.ctx, m.actions.Flush
	return func() tea.Msg {
		return actionDoneMsg{name: "flush", err: flush(ctx)}
	}
}

func (m watchModel) runForceSave() tea.Cmd {
	ctx, save := m.ctx, m.actions.ForceSave
	return func() tea.Msg {
		saved, err := save(ctx)
		return actionDoneMsg{name: "force save", saved: saved, err: err}
	}
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(RenderStatus(m.snap, m.width))

	if m.snap.IsSaving || m.busy != "" {
		label := "saving"
		if m.busy != "" {
			label = m.busy
		}
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), label))
	}
	if m.message != "" {
		b.WriteString(m.message + "\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("f: flush • s: force save • q: quit"))
	return b.String()
}

// Watch runs the live status screen until the user quits or ctx ends
func Watch(ctx context.Context, src SnapshotSource, actions WatchActions) error {
	model := newWatchModel(ctx, src.Snapshot(), actions)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	unsubscribe := src.Subscribe(func(s status.Snapshot) {
		p.Send(snapshotMsg(s))
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running status watch: %w", err)
	}
	return nil
}
