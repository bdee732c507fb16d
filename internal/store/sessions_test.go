package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockterm/blockterm/internal/core"
	"github.com/blockterm/blockterm/internal/shared/id"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db, nil)
}

func TestNewDatabase_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)
}

func TestCreateAndLoadSession(t *testing.T) {
	s := newTestStore(t)

	session := core.NewSession("work", "/home/user")
	session.Environment["EDITOR"] = "vim"
	require.NoError(t, s.CreateSession(session))

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, "work", loaded.Name)
	assert.Equal(t, "/home/user", loaded.WorkingDirectory)
	assert.Equal(t, "vim", loaded.Environment["EDITOR"])
	assert.WithinDuration(t, session.CreatedAt, loaded.CreatedAt, time.Millisecond)
	assert.Empty(t, loaded.Blocks)
}

func TestLoadSession_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSession(id.NewSessionID())
	assert.Error(t, err)
}

func TestSaveBlock_RoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))

	commands := []string{"echo first", "echo second", "echo third"}
	var blocks []*core.Block
	for i, cmd := range commands {
		b := core.NewBlock(cmd, "/tmp")
		require.NoError(t, b.StartExecution())
		require.NoError(t, b.AppendOutput(cmd+" output\n"))
		require.NoError(t, b.CompleteExecution(i%2)) // alternate success/failure
		blocks = append(blocks, b)
	}

	// Save in reverse to prove block_order, not insertion or timestamp,
	// drives load order.
	for i := len(blocks) - 1; i >= 0; i-- {
		require.NoError(t, s.SaveBlock(session.ID, blocks[i], i))
	}

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 3)

	for i, b := range loaded.Blocks {
		assert.Equal(t, commands[i], b.Command)
		assert.Equal(t, commands[i]+" output\n", b.Output)
		require.NotNil(t, b.ExitCode)
		assert.Equal(t, i%2, *b.ExitCode)
		assert.Equal(t, blocks[i].State, b.State)
		assert.Equal(t, blocks[i].Metadata.Duration.Milliseconds(), b.Metadata.Duration.Milliseconds())
		require.NotNil(t, b.Metadata.StartedAt)
		require.NotNil(t, b.Metadata.CompletedAt)
	}
}

func TestSaveBlock_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))

	b := core.NewBlock("sleep 1", "/tmp")
	require.NoError(t, b.StartExecution())
	require.NoError(t, s.SaveBlock(session.ID, b, 0))

	// Save again after more progress; the row must be updated, not duplicated.
	require.NoError(t, b.AppendOutput("done\n"))
	require.NoError(t, b.CompleteExecution(0))
	require.NoError(t, s.SaveBlock(session.ID, b, 0))

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 1)
	assert.Equal(t, "done\n", loaded.Blocks[0].Output)
	assert.Equal(t, core.StateCompleted, loaded.Blocks[0].State)
}

func TestSaveBlock_RunningBlockHasNoExitCode(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))

	b := core.NewBlock("sleep 5", "/tmp")
	require.NoError(t, b.StartExecution())
	require.NoError(t, s.SaveBlock(session.ID, b, 0))

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 1)
	assert.Nil(t, loaded.Blocks[0].ExitCode)
	assert.Nil(t, loaded.Blocks[0].Metadata.CompletedAt)
	assert.Equal(t, core.StateRunning, loaded.Blocks[0].State)
}

func TestLoadBlocks_MalformedStateDegrades(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))

	b := core.NewBlock("echo test", "/tmp")
	require.NoError(t, s.SaveBlock(session.ID, b, 0))

	// Corrupt the persisted state and timestamp directly.
	_, err := s.db.DB().Exec(
		`UPDATE blocks SET state = 'Garbage', started_at = 'not-a-time' WHERE id = ?`,
		b.ID.String())
	require.NoError(t, err)

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err, "malformed rows must not abort the load")
	require.Len(t, loaded.Blocks, 1)
	assert.Equal(t, core.StateCompleted, loaded.Blocks[0].State)
	assert.Nil(t, loaded.Blocks[0].Metadata.StartedAt)
}

func TestLoadSession_MalformedEnvironmentDegrades(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))

	_, err := s.db.DB().Exec(`UPDATE sessions SET environment = '{broken' WHERE id = ?`,
		session.ID.String())
	require.NoError(t, err)

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Environment)
}

func TestActiveSession_SingleActiveInvariant(t *testing.T) {
	s := newTestStore(t)

	a := core.NewSession("a", "/tmp")
	b := core.NewSession("b", "/tmp")
	require.NoError(t, s.CreateSession(a))
	require.NoError(t, s.CreateSession(b))

	// No session active until the caller flags one.
	active, err := s.GetActiveSession()
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, s.SetActiveSession(a.ID))
	active, err = s.GetActiveSession()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, a.ID, active.ID)

	// Activating b deactivates a.
	require.NoError(t, s.SetActiveSession(b.ID))
	active, err = s.GetActiveSession()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)

	infos, err := s.ListSessions()
	require.NoError(t, err)
	activeCount := 0
	for _, info := range infos {
		if info.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestTouchSession(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TouchSession(session.ID))

	loaded, err := s.LoadSession(session.ID)
	require.NoError(t, err)
	assert.True(t, loaded.UpdatedAt.After(session.UpdatedAt))
}

func TestDeleteSession_CascadesToBlocks(t *testing.T) {
	s := newTestStore(t)
	session := core.NewSession("work", "/tmp")
	require.NoError(t, s.CreateSession(session))
	require.NoError(t, s.SaveBlock(session.ID, core.NewBlock("echo test", "/tmp"), 0))

	require.NoError(t, s.DeleteSession(session.ID))

	var count int
	require.NoError(t, s.db.DB().QueryRow(
		`SELECT COUNT(*) FROM blocks WHERE session_id = ?`, session.ID.String()).Scan(&count))
	assert.Equal(t, 0, count)

	_, err := s.LoadSession(session.ID)
	assert.Error(t, err)
}

func TestListSessions_OrderedByUpdatedAtDesc(t *testing.T) {
	s := newTestStore(t)

	older := core.NewSession("older", "/tmp")
	require.NoError(t, s.CreateSession(older))
	time.Sleep(5 * time.Millisecond)
	newer := core.NewSession("newer", "/tmp")
	require.NoError(t, s.CreateSession(newer))

	infos, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "newer", infos[0].Name)
	assert.Equal(t, "older", infos[1].Name)
}

func TestFormatTimeFixedWidthSortable(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 12, 500_000_000, time.UTC)
	later := base.Add(10 * time.Millisecond)

	a := formatTime(base)
	b := formatTime(later)

	// "…12.5Z" vs "…12.51Z" would missort under a trimmed layout.
	assert.Len(t, b, len(a))
	assert.Less(t, a, b)
	assert.True(t, base.Equal(parseTime(a)))
	assert.True(t, later.Equal(parseTime(b)))
}
