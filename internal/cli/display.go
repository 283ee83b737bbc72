package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gosyncprogress/internal/progress"
	"gosyncprogress/internal/status"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(18)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("36")).
			Padding(0, 1)

	statusStyles = map[status.SyncStatus]lipgloss.Style{
		status.StatusSynced:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		status.StatusPending: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
		status.StatusError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

// GetTerminalWidth returns the current terminal width, defaulting to 80 if unable to detect
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return width
}

func clampWidth(width int) int {
	if width < 40 {
		return 40
	}
	if width > 100 {
		return 100
	}
	return width
}

// RenderStatus formats a snapshot as a bordered summary followed by the
// sampled queue items
func RenderStatus(s status.Snapshot, width int) string {
	width = clampWidth(width)

	online := statusStyles[status.StatusSynced].Render("online")
	if !s.IsOnline {
		online = statusStyles[status.StatusError].Render("offline")
	}
	saving := "idle"
	if s.IsSaving {
		saving = "saving"
	}
	lastSaved := "never"
	if s.LastSaved != nil {
		lastSaved = s.LastSaved.Local().Format("2006-01-02 15:04:05")
	}

	rows := []string{
		titleStyle.Render("Progress sync"),
		row("Status", statusStyles[s.SyncStatus].Render(string(s.SyncStatus))),
		row("Connection", online),
		row("Activity", saving),
		row("Pending changes", fmt.Sprintf("%d", s.PendingChanges)),
		row("Queue size", fmt.Sprintf("%d", s.QueueSize)),
		row("Dead letters", fmt.Sprintf("%d", s.DeadLetters)),
		row("Last saved", lastSaved),
	}

	var b strings.Builder
	b.WriteString(boxStyle.Width(width - 4).Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if len(s.QueuedItems) > 0 {
		b.WriteString(RenderQueuedItems(s.QueuedItems, width))
		if s.QueueSize > len(s.QueuedItems) {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  … and %d more", s.QueueSize-len(s.QueuedItems))))
			b.WriteString("\n")
		}
	}

	for _, w := range s.Warnings {
		b.WriteString(warningStyle.Render("! " + w))
		b.WriteString("\n")
	}
	return b.String()
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// RenderQueuedItems formats queued items one per line
func RenderQueuedItems(items []status.QueuedItem, width int) string {
	width = clampWidth(width)

	var b strings.Builder
	for _, it := range items {
		line := fmt.Sprintf("  %-8s %-6s %-16s %-24s", shortID(it.ID), it.Priority, it.Action, it.Entity)
		if it.Attempts > 0 {
			line += fmt.Sprintf(" tries=%d", it.Attempts)
		}
		if len(line) > width {
			line = line[:width-1] + "…"
		}
		style := lipgloss.NewStyle()
		switch it.Status {
		case string(progress.StatusDead):
			style = statusStyles[status.StatusError]
		case string(progress.StatusInFlight):
			style = mutedStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
		if it.LastError != "" {
			b.WriteString(mutedStyle.Render("           " + it.LastError))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ShowStatus prints a snapshot to stdout sized to the terminal
func ShowStatus(s status.Snapshot) {
	fmt.Print(RenderStatus(s, GetTerminalWidth()))
}

// FormatAge renders how long ago t was in coarse units
func FormatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
