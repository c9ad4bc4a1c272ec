package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/carechat/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" opens its own database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS polls (
			poll_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			workflow TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			final_message TEXT,
			error TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_polls_session ON polls(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			poll_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS poll_events (
			event_id TEXT PRIMARY KEY,
			poll_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (poll_id) REFERENCES polls(poll_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_poll_events_poll ON poll_events(poll_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at) VALUES (?, ?, ?)`,
		session.SessionID, session.UserID, session.CreatedAt)
	return err
}

// GetSession retrieves a session by ID. It returns nil, nil when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.UserID, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetOrCreateSession gets an existing session or creates a new one.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	session = &domain.Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateSessionUser binds a session to a user.
func (s *SQLiteStore) UpdateSessionUser(ctx context.Context, sessionID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET user_id = ? WHERE session_id = ?`,
		userID, sessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, poll_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, nullString(message.PollID), message.Role, message.Content, message.CreatedAt)
	return err
}

// GetMessages retrieves messages for a session in chronological order.
// When before is set, only messages older than that message are returned.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error) {
	query := `SELECT message_id, session_id, poll_id, role, content, created_at FROM messages WHERE session_id = ?`
	args := []any{sessionID}

	if before != "" {
		query += ` AND rowid < (SELECT rowid FROM messages WHERE message_id = ?)`
		args = append(args, before)
	}

	query += ` ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var pollID sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &pollID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.PollID = pollID.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreatePoll records the start of a polling sequence.
func (s *SQLiteStore) CreatePoll(ctx context.Context, poll *domain.Poll) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO polls (poll_id, session_id, prompt, workflow, state, attempts, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		poll.PollID, poll.SessionID, poll.Prompt, poll.Workflow, poll.State, poll.Attempts, poll.StartedAt)
	return err
}

const pollColumns = `poll_id, session_id, prompt, workflow, state, attempts, started_at, ended_at, final_message, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(row rowScanner) (*domain.Poll, error) {
	var poll domain.Poll
	var endedAt sql.NullTime
	var finalMessage, errMsg sql.NullString
	if err := row.Scan(&poll.PollID, &poll.SessionID, &poll.Prompt, &poll.Workflow, &poll.State,
		&poll.Attempts, &poll.StartedAt, &endedAt, &finalMessage, &errMsg); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		poll.EndedAt = &endedAt.Time
	}
	poll.FinalMessage = finalMessage.String
	poll.Error = errMsg.String
	return &poll, nil
}

// GetPoll retrieves a poll by ID. It returns nil, nil when absent.
func (s *SQLiteStore) GetPoll(ctx context.Context, pollID string) (*domain.Poll, error) {
	poll, err := scanPoll(s.db.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE poll_id = ?`, pollID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return poll, err
}

// LatestPoll returns the most recent poll of a session, or nil.
func (s *SQLiteStore) LatestPoll(ctx context.Context, sessionID string) (*domain.Poll, error) {
	poll, err := scanPoll(s.db.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE session_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return poll, err
}

// ListPolls returns a session's polls, newest first.
func (s *SQLiteStore) ListPolls(ctx context.Context, sessionID string, limit int) ([]domain.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE session_id = ? ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []domain.Poll
	for rows.Next() {
		poll, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, *poll)
	}
	return polls, rows.Err()
}

// UpdatePollState updates the state of a running poll.
func (s *SQLiteStore) UpdatePollState(ctx context.Context, pollID string, state domain.PollState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE polls SET state = ? WHERE poll_id = ?`,
		state, pollID)
	return err
}

// UpdatePollCompleted records the terminal state of a poll.
func (s *SQLiteStore) UpdatePollCompleted(ctx context.Context, pollID string, state domain.PollState, attempts int, finalMessage, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE polls SET state = ?, attempts = ?, ended_at = ?, final_message = ?, error = ? WHERE poll_id = ?`,
		state, attempts, time.Now(), nullString(finalMessage), nullString(errMsg), pollID)
	return err
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_events (event_id, poll_id, session_id, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.PollID, event.SessionID, event.Ts, event.Type, nullStringBytes(event.Payload))
	return err
}

// GetEvents retrieves events for a poll.
func (s *SQLiteStore) GetEvents(ctx context.Context, pollID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, poll_id, session_id, ts, type, payload FROM poll_events WHERE poll_id = ?`
	args := []any{pollID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.PollID, &event.SessionID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
