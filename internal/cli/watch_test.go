package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gosyncprogress/internal/status"
	"gosyncprogress/internal/utils"

	tea "github.com/charmbracelet/bubbletea"
)

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	return cmd()
}

// TestWatchSnapshotUpdate verifies snapshots replace the displayed state
func TestWatchSnapshotUpdate(t *testing.T) {
	m := newWatchModel(context.Background(), status.Snapshot{SyncStatus: status.StatusSynced}, WatchActions{})

	updated, _ := m.Update(snapshotMsg(status.Snapshot{SyncStatus: status.StatusPending, QueueSize: 4}))
	wm := updated.(watchModel)
	if wm.snap.QueueSize != 4 {
		t.Errorf("QueueSize = %d, want 4", wm.snap.QueueSize)
	}
	if !strings.Contains(wm.View(), "pending") {
		t.Error("view should show pending status")
	}
}

// TestWatchFlushKey verifies f runs the flush action once at a time
func TestWatchFlushKey(t *testing.T) {
	calls := 0
	actions := WatchActions{Flush: func(ctx context.Context) error {
		calls++
		return nil
	}}
	m := newWatchModel(context.Background(), status.Snapshot{}, actions)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	wm := updated.(watchModel)
	if wm.busy != "flush" {
		t.Errorf("busy = %q, want flush", wm.busy)
	}

	_, second := wm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	if second != nil {
		t.Error("a second flush should not start while one is running")
	}

	msg := runCmd(t, cmd)
	if calls != 1 {
		t.Errorf("flush called %d times, want 1", calls)
	}

	updated, _ = wm.Update(msg)
	wm = updated.(watchModel)
	if wm.busy != "" || wm.message != "flush: done" {
		t.Errorf("after flush busy=%q message=%q", wm.busy, wm.message)
	}
}

// TestWatchForceSaveOffline verifies the offline message
func TestWatchForceSaveOffline(t *testing.T) {
	actions := WatchActions{ForceSave: func(ctx context.Context) (bool, error) {
		return false, utils.ErrOffline("connection refused")
	}}
	m := newWatchModel(context.Background(), status.Snapshot{}, actions)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	updated, _ = updated.(watchModel).Update(runCmd(t, cmd))
	wm := updated.(watchModel)
	if !strings.Contains(wm.message, "offline") {
		t.Errorf("message = %q, want offline notice", wm.message)
	}
}

// TestWatchActionMessages verifies the result text for each outcome
func TestWatchActionMessages(t *testing.T) {
	tests := []struct {
		msg  actionDoneMsg
		want string
	}{
		{actionDoneMsg{name: "force save", saved: true}, "force save: done"},
		{actionDoneMsg{name: "force save", saved: false}, "force save: some changes are still queued"},
		{actionDoneMsg{name: "flush", err: errors.New("boom")}, "flush failed: boom"},
	}
	for _, tt := range tests {
		m := newWatchModel(context.Background(), status.Snapshot{}, WatchActions{})
		updated, _ := m.Update(tt.msg)
		if got := updated.(watchModel).message; got != tt.want {
			t.Errorf("message = %q, want %q", got, tt.want)
		}
	}
}

// TestWatchQuit verifies q quits and clears the view
func TestWatchQuit(t *testing.T) {
	m := newWatchModel(context.Background(), status.Snapshot{}, WatchActions{})

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	wm := updated.(watchModel)
	if !wm.quitting || cmd == nil {
		t.Error("expected quit")
	}
	if wm.View() != "" {
		t.Error("view should be empty after quitting")
	}
}
