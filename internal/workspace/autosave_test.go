package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockterm/blockterm/internal/shell"
)

func TestAutoSave_DirtyFlagLifecycle(t *testing.T) {
	w, sessions := newTestWorkspace(t, 0)

	assert.False(t, w.SaveNeeded())

	_, err := w.Run("echo 'Hello, World!'")
	require.NoError(t, err)
	assert.True(t, w.SaveNeeded(), "running a command marks the workspace dirty")

	waitForExit(t, w, 10*time.Second)
	assert.True(t, w.SaveNeeded(), "appended output keeps the flag set")

	require.NoError(t, w.AutoSave())
	assert.False(t, w.SaveNeeded(), "flag resets after a successful round")

	loaded, err := sessions.LoadSession(w.Session().ID)
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 1)
	assert.Contains(t, loaded.Blocks[0].Output, "Hello, World!")
}

func TestAutoSave_IntervalGate(t *testing.T) {
	w, _ := newTestWorkspace(t, time.Hour)

	w.MarkDirty()
	require.NoError(t, w.AutoSave())
	assert.True(t, w.SaveNeeded(), "interval not elapsed: nothing saved, flag keeps its value")

	// Pretend the last save happened long ago.
	w.mu.Lock()
	w.lastSave = time.Now().Add(-2 * time.Hour)
	w.mu.Unlock()

	require.NoError(t, w.AutoSave())
	assert.False(t, w.SaveNeeded())
}

func TestAutoSave_CleanWorkspaceIsNoOp(t *testing.T) {
	w, _ := newTestWorkspace(t, 0)
	require.NoError(t, w.AutoSave())
	assert.False(t, w.SaveNeeded())
}

func TestAutoSave_FailureKeepsDirtyFlag(t *testing.T) {
	w, sessions := newTestWorkspace(t, 0)

	w.SubmitForApproval("", "echo test")

	// Drop the session row out from under the saver; the foreign key makes
	// block writes fail.
	require.NoError(t, sessions.DeleteSession(w.Session().ID))

	assert.Error(t, w.AutoSave())
	assert.True(t, w.SaveNeeded(), "failed rounds leave the flag set for retry")
}

func TestAutoSave_OrderMatchesInMemorySequence(t *testing.T) {
	w, sessions := newTestWorkspace(t, 0)

	for _, cmd := range []string{"echo a", "echo b", "echo c"} {
		_, err := w.Run(cmd)
		require.NoError(t, err)
		waitForExit(t, w, 10*time.Second)
	}
	require.NoError(t, w.AutoSave())

	loaded, err := sessions.LoadSession(w.Session().ID)
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 3)
	assert.Equal(t, "echo a", loaded.Blocks[0].Command)
	assert.Equal(t, "echo b", loaded.Blocks[1].Command)
	assert.Equal(t, "echo c", loaded.Blocks[2].Command)
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	w, _ := newTestWorkspace(t, time.Hour)

	events, cancel := w.Subscribe()
	defer cancel()

	_, err := w.Run("echo streamed")
	require.NoError(t, err)
	waitForExit(t, w, 10*time.Second)

	var sawOutput, sawExit bool
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.Kind {
			case shell.EventStdout, shell.EventStderr:
				if len(ev.Text) > 0 {
					sawOutput = true
				}
			case shell.EventExit:
				sawExit = true
				done = true
			}
		case <-time.After(2 * time.Second):
			done = true
		}
	}
	assert.True(t, sawOutput)
	assert.True(t, sawExit)
}
