package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/core"
	"github.com/blockterm/blockterm/internal/infrastructure/logging"
	"github.com/blockterm/blockterm/internal/shared/id"
)

// SessionStore maps Session/Block aggregates onto the durable schema.
// Exactly one session is flagged active at a time; the active session is
// the one restored on restart.
//
// Timestamps persist as RFC 3339 text (sortable, zone-aware), durations as
// integer milliseconds, environment maps as JSON blobs. Block order is the
// explicit block_order column, never the timestamp.
type SessionStore struct {
	db     *Database
	logger *logging.Logger
}

// SessionInfo is a summary row for session pickers; blocks are not loaded.
type SessionInfo struct {
	ID        id.SessionID `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	IsActive  bool         `json:"is_active"`
}

// NewSessionStore creates a store over the given database.
func NewSessionStore(db *Database, logger *logging.Logger) *SessionStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SessionStore{db: db, logger: logger}
}

// CreateSession inserts a new session row. The row starts inactive; callers
// activate it with SetActiveSession.
func (s *SessionStore) CreateSession(session *core.Session) error {
	envJSON, err := json.Marshal(session.Environment)
	if err != nil {
		return fmt.Errorf("failed to serialize environment: %w", err)
	}

	_, err = s.db.DB().Exec(`
		INSERT INTO sessions (id, name, created_at, updated_at, working_directory, environment, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`,
		session.ID.String(),
		session.Name,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
		session.WorkingDirectory,
		string(envJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("created session",
		zap.String("name", session.Name),
		zap.String("session_id", session.ID.String()),
	)
	return nil
}

// LoadSession reconstructs a full session including all its blocks, ordered
// by the persisted block_order column.
func (s *SessionStore) LoadSession(sessionID id.SessionID) (*core.Session, error) {
	row := s.db.DB().QueryRow(`
		SELECT id, name, created_at, updated_at, working_directory, environment
		FROM sessions WHERE id = ?
	`, sessionID.String())

	var (
		rawID, name, createdAt, updatedAt, workingDir string
		envJSON                                       sql.NullString
	)
	if err := row.Scan(&rawID, &name, &createdAt, &updatedAt, &workingDir, &envJSON); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session := &core.Session{
		ID:               id.SessionID(rawID),
		Name:             name,
		CreatedAt:        parseTime(createdAt),
		UpdatedAt:        parseTime(updatedAt),
		WorkingDirectory: workingDir,
		Environment:      parseEnv(envJSON),
	}

	blocks, err := s.loadBlocks(sessionID)
	if err != nil {
		return nil, err
	}
	session.Blocks = blocks
	return session, nil
}

// ListSessions returns summary rows for all sessions, most recently updated
// first.
func (s *SessionStore) ListSessions() ([]SessionInfo, error) {
	rows, err := s.db.DB().Query(`
		SELECT id, name, created_at, updated_at, is_active
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var (
			rawID, name, createdAt, updatedAt string
			isActive                          bool
		)
		if err := rows.Scan(&rawID, &name, &createdAt, &updatedAt, &isActive); err != nil {
			return nil, err
		}
		sessions = append(sessions, SessionInfo{
			ID:        id.SessionID(rawID),
			Name:      name,
			CreatedAt: parseTime(createdAt),
			UpdatedAt: parseTime(updatedAt),
			IsActive:  isActive,
		})
	}
	return sessions, rows.Err()
}

// SaveBlock upserts one block keyed by its ID. order is the block's position
// in the in-memory sequence at save time and becomes the authoritative
// execution order on load.
func (s *SessionStore) SaveBlock(sessionID id.SessionID, block *core.Block, order int) error {
	envJSON, err := json.Marshal(block.Metadata.Environment)
	if err != nil {
		return fmt.Errorf("failed to serialize environment: %w", err)
	}

	var exitCode sql.NullInt64
	if block.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*block.ExitCode), Valid: true}
	}
	var durationMS sql.NullInt64
	if block.Metadata.StartedAt != nil && block.Metadata.CompletedAt != nil {
		durationMS = sql.NullInt64{Int64: block.Metadata.Duration.Milliseconds(), Valid: true}
	}

	_, err = s.db.DB().Exec(`
		INSERT INTO blocks
			(id, session_id, timestamp, command, output, exit_code, state, working_directory,
			 environment, started_at, completed_at, duration_ms, is_collapsed, block_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			command = excluded.command,
			output = excluded.output,
			environment = excluded.environment,
			exit_code = excluded.exit_code,
			state = excluded.state,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			is_collapsed = excluded.is_collapsed,
			block_order = excluded.block_order
	`,
		block.ID.String(),
		sessionID.String(),
		formatTime(block.Timestamp),
		block.Command,
		block.Output,
		exitCode,
		string(block.State),
		block.Metadata.WorkingDirectory,
		string(envJSON),
		formatOptionalTime(block.Metadata.StartedAt),
		formatOptionalTime(block.Metadata.CompletedAt),
		durationMS,
		block.IsCollapsed,
		order,
	)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

func (s *SessionStore) loadBlocks(sessionID id.SessionID) ([]*core.Block, error) {
	rows, err := s.db.DB().Query(`
		SELECT id, timestamp, command, output, exit_code, state, working_directory,
		       environment, started_at, completed_at, duration_ms, is_collapsed
		FROM blocks
		WHERE session_id = ?
		ORDER BY block_order ASC
	`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*core.Block
	for rows.Next() {
		var (
			rawID, timestamp, command, output, state, workingDir string
			exitCode, durationMS                                 sql.NullInt64
			envJSON, startedAt, completedAt                      sql.NullString
			isCollapsed                                          bool
		)
		if err := rows.Scan(&rawID, &timestamp, &command, &output, &exitCode, &state,
			&workingDir, &envJSON, &startedAt, &completedAt, &durationMS, &isCollapsed); err != nil {
			return nil, err
		}

		block := &core.Block{
			ID:        id.BlockID(rawID),
			Timestamp: parseTime(timestamp),
			Command:   command,
			Output:    output,
			State:     core.ParseState(state),
			Metadata: core.Metadata{
				WorkingDirectory: workingDir,
				Environment:      parseEnv(envJSON),
				StartedAt:        parseOptionalTime(startedAt),
				CompletedAt:      parseOptionalTime(completedAt),
			},
			IsCollapsed: isCollapsed,
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			block.ExitCode = &code
		}
		if durationMS.Valid {
			block.Metadata.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

// TouchSession bumps updated_at without touching blocks.
func (s *SessionStore) TouchSession(sessionID id.SessionID) error {
	_, err := s.db.DB().Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), sessionID.String())
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SetActiveSession flags the given session active and deactivates all
// others, preserving the single-active-session invariant.
func (s *SessionStore) SetActiveSession(sessionID id.SessionID) error {
	tx, err := s.db.DB().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE sessions SET is_active = 0`); err != nil {
		return fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET is_active = 1 WHERE id = ?`, sessionID.String()); err != nil {
		return fmt.Errorf("failed to activate session: %w", err)
	}
	return tx.Commit()
}

// GetActiveSession loads the currently active session, nil when none is
// flagged.
func (s *SessionStore) GetActiveSession() (*core.Session, error) {
	row := s.db.DB().QueryRow(`SELECT id FROM sessions WHERE is_active = 1 LIMIT 1`)

	var rawID string
	if err := row.Scan(&rawID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return s.LoadSession(id.SessionID(rawID))
}

// DeleteSession removes the session; its blocks cascade.
func (s *SessionStore) DeleteSession(sessionID id.SessionID) error {
	if _, err := s.db.DB().Exec(`DELETE FROM sessions WHERE id = ?`, sessionID.String()); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("deleted session", zap.String("session_id", sessionID.String()))
	return nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing fractional zeros, which breaks lexicographic ordering of the
// persisted text ("…12.5Z" sorts after "…12.51Z"); ListSessions orders by
// this column as text, so the width must be constant.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime degrades unparseable timestamps to the zero time instead of
// failing the whole session load.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseOptionalTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// parseEnv degrades malformed environment blobs to an empty map.
func parseEnv(s sql.NullString) map[string]string {
	env := make(map[string]string)
	if s.Valid && s.String != "" {
		_ = json.Unmarshal([]byte(s.String), &env)
	}
	return env
}
