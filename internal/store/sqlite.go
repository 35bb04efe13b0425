package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers; foreign keys tie state rows to sessions.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		stage TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions(user_id, updated_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(user_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS adventure_states (
		session_id TEXT PRIMARY KEY REFERENCES sessions(id),
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls_json TEXT,
		token_count INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, op, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// --- users ---

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.exec(ctx, "upsert_user", query,
		user.UserID, user.Username, user.LastSeenAt.UnixMilli(),
		user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	result, err := s.exec(ctx, "update_last_seen",
		`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
		lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// --- sessions ---

const sessionColumns = `id, user_id, title, stage, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var stage string
	var active int
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &stage, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.Stage = domain.Stage(stage)
	sess.IsActive = active == 1
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateSession inserts the session and its empty state atomically.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session, state *domain.AdventureState) error {
	stateJSON, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	return shared.RetryOnConflict(ctx, s.retry, "create_session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create session: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back create session", "error", rbErr, "session_id", sess.ID)
			}
		}()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.UserID, sess.Title, string(sess.Stage), boolToInt(sess.IsActive),
			sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return ErrActiveSessionExists
			}
			return fmt.Errorf("insert session: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO adventure_states (session_id, state_json, updated_at) VALUES (?, ?, ?)`,
			sess.ID, string(stateJSON), sess.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert adventure state: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit create session: %w", err)
		}
		return nil
	})
}

// GetSession returns the session if it exists and is owned by userID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// GetActiveSession returns the user's active session, if any.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND is_active = 1`, userID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active session row: %w", err)
	}
	return sess, nil
}

// ListSessions returns all of a user's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	sessions := []*domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStage performs a compare-and-swap on the stage column.
func (s *SQLiteStore) UpdateStage(ctx context.Context, sessionID, userID string, from, to domain.Stage) error {
	result, err := s.exec(ctx, "update_stage",
		`UPDATE sessions SET stage = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND stage = ? AND is_active = 1`,
		string(to), time.Now().UnixMilli(), sessionID, userID, string(from))
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateStage affected 0 rows", "session_id", sessionID, "from", from, "to", to)
		return ErrStaleWrite
	}
	return nil
}

// Deactivate clears is_active, optionally conditioned on the current stage.
func (s *SQLiteStore) Deactivate(ctx context.Context, sessionID, userID string, requireStage domain.Stage) error {
	query := `UPDATE sessions SET is_active = 0, updated_at = ? WHERE id = ? AND user_id = ?`
	args := []any{time.Now().UnixMilli(), sessionID, userID}

	if requireStage != "" {
		query += ` AND is_active = 1 AND stage = ?`
		args = append(args, string(requireStage))
	}

	result, err := s.exec(ctx, "deactivate_session", query, args...)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("Deactivate affected 0 rows", "session_id", sessionID, "require_stage", requireStage)
		return ErrStaleWrite
	}
	return nil
}

// GetState returns the adventure state for a session or (nil, nil).
func (s *SQLiteStore) GetState(ctx context.Context, sessionID string) (*domain.AdventureState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM adventure_states WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan adventure state: %w", err)
	}
	return domain.DecodeAdventureState(sessionID, []byte(raw)), nil
}

// PutState replaces the state document and bumps the session's updated_at.
func (s *SQLiteStore) PutState(ctx context.Context, state *domain.AdventureState) error {
	stateJSON, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	return shared.RetryOnConflict(ctx, s.retry, "put_state", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin put state: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back put state", "error", rbErr, "session_id", state.SessionID)
			}
		}()

		now := time.Now().UnixMilli()
		result, err := tx.ExecContext(ctx,
			`UPDATE adventure_states SET state_json = ?, updated_at = ? WHERE session_id = ?`,
			string(stateJSON), now, state.SessionID)
		if err != nil {
			return fmt.Errorf("update adventure state: %w", err)
		}
		if rows, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		} else if rows == 0 {
			return fmt.Errorf("adventure state for session %s not found", state.SessionID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, state.SessionID); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit put state: %w", err)
		}
		return nil
	})
}

// --- messages ---

// AppendMessage stores a message at the end of the session history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(data)
	}

	var tokenCount any
	if msg.TokenCount != nil {
		tokenCount = *msg.TokenCount
	}

	_, err := s.exec(ctx, "append_message",
		`INSERT INTO messages (id, session_id, role, content, tool_calls_json, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, toolCalls, tokenCount, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the session history in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_calls_json, token_count, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var toolCalls sql.NullString
		var tokenCount sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &toolCalls, &tokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		if tokenCount.Valid {
			n := int(tokenCount.Int64)
			msg.TokenCount = &n
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				slog.Warn("dropping malformed tool calls", "message_id", msg.ID, "error", err)
				msg.ToolCalls = nil
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
