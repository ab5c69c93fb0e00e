// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/read-state persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers so seq assignment never races.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS convos (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			convo_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			correlation_id TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (convo_id) REFERENCES convos(id) ON DELETE CASCADE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_convo_seq
			ON messages(convo_id, seq);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_convo_correlation
			ON messages(convo_id, correlation_id)
			WHERE correlation_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS read_state (
			convo_id TEXT NOT NULL,
			reader TEXT NOT NULL,
			up_to INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (convo_id, reader),
			FOREIGN KEY (convo_id) REFERENCES convos(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConvo stores a new conversation
func (s *SQLiteStore) CreateConvo(ctx context.Context, convo *Convo) error {
	query := `
		INSERT INTO convos (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		convo.ID,
		convo.Title,
		formatTime(convo.CreatedAt),
		formatTime(convo.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConvoExists
		}
		return fmt.Errorf("inserting convo: %w", err)
	}

	s.logger.Debug("created convo", "convo_id", convo.ID)
	return nil
}

// GetConvo retrieves a conversation by ID
func (s *SQLiteStore) GetConvo(ctx context.Context, id string) (*Convo, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM convos
		WHERE id = ?
	`

	var convo Convo
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&convo.ID, &convo.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying convo: %w", err)
	}

	if convo.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if convo.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &convo, nil
}

// ListConvos returns every conversation, most recently updated first
func (s *SQLiteStore) ListConvos(ctx context.Context) ([]*Convo, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM convos
		ORDER BY updated_at DESC, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying convos: %w", err)
	}
	defer rows.Close()

	var convos []*Convo
	for rows.Next() {
		var convo Convo
		var createdAt, updatedAt string
		if err := rows.Scan(&convo.ID, &convo.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning convo: %w", err)
		}
		if convo.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if convo.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		convos = append(convos, &convo)
	}

	return convos, rows.Err()
}

// DeleteConvo removes a conversation; messages and read state cascade
func (s *SQLiteStore) DeleteConvo(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM convos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting convo: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage assigns the next seq and stores the message
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (*Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM convos WHERE id = ?", msg.ConvoID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("checking convo: %w", err)
	}

	if msg.CorrelationID != "" {
		existing, err := scanMessage(tx.QueryRowContext(ctx, selectMessage+`
			WHERE convo_id = ? AND correlation_id = ?
		`, msg.ConvoID, msg.CorrelationID))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE convo_id = ?",
		msg.ConvoID,
	).Scan(&seq)
	if err != nil {
		return nil, false, fmt.Errorf("allocating seq: %w", err)
	}

	stored := *msg
	stored.Seq = seq
	stored.Deleted = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, convo_id, seq, sender, body, correlation_id, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`,
		stored.ID,
		stored.ConvoID,
		stored.Seq,
		stored.Sender,
		stored.Body,
		nullString(stored.CorrelationID),
		formatTime(stored.CreatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, "UPDATE convos SET updated_at = ? WHERE id = ?",
		formatTime(stored.CreatedAt), stored.ConvoID)
	if err != nil {
		return nil, false, fmt.Errorf("touching convo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing message: %w", err)
	}

	return &stored, true, nil
}

const selectMessage = `
	SELECT id, convo_id, seq, sender, body, correlation_id, deleted, created_at
	FROM messages
`

// GetMessage retrieves a single message
func (s *SQLiteStore) GetMessage(ctx context.Context, convoID, id string) (*Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, selectMessage+`
		WHERE convo_id = ? AND id = ?
	`, convoID, id))
}

// DeleteMessage blanks a message body and flags it deleted
func (s *SQLiteStore) DeleteMessage(ctx context.Context, convoID, id string) (*Message, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted = 1, body = '' WHERE convo_id = ? AND id = ?",
		convoID, id)
	if err != nil {
		return nil, fmt.Errorf("deleting message: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	return s.GetMessage(ctx, convoID, id)
}

// ListMessages returns the page of messages just below before
func (s *SQLiteStore) ListMessages(ctx context.Context, convoID string, before int64, limit int) ([]*Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectMessage + `
		WHERE convo_id = ? AND (? = 0 OR seq < ?)
		ORDER BY seq DESC
		LIMIT ?
	`

	// Fetch one extra row to learn whether older messages remain.
	rows, err := s.db.QueryContext(ctx, query, convoID, before, before, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	// Reverse to ascending seq.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, hasMore, nil
}

// ListMessagesSince returns messages with seq above after, oldest first
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, convoID string, after int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, selectMessage+`
		WHERE convo_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, convoID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkRead advances a reader's position
func (s *SQLiteStore) MarkRead(ctx context.Context, convoID, reader string, upTo int64) (*ReadState, bool, error) {
	if _, err := s.GetConvo(ctx, convoID); err != nil {
		return nil, false, err
	}
	if upTo <= 0 {
		state, err := s.GetReadState(ctx, convoID, reader)
		return state, false, err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO read_state (convo_id, reader, up_to, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (convo_id, reader) DO UPDATE SET
			up_to = excluded.up_to,
			updated_at = excluded.updated_at
		WHERE excluded.up_to > read_state.up_to
	`, convoID, reader, upTo, formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("upserting read state: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking rows affected: %w", err)
	}

	state, err := s.GetReadState(ctx, convoID, reader)
	if err != nil {
		return nil, false, err
	}
	return state, n > 0, nil
}

// GetReadState returns a reader's position in a conversation
func (s *SQLiteStore) GetReadState(ctx context.Context, convoID, reader string) (*ReadState, error) {
	state := &ReadState{ConvoID: convoID, Reader: reader}
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT up_to, updated_at FROM read_state
		WHERE convo_id = ? AND reader = ?
	`, convoID, reader).Scan(&state.UpTo, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying read state: %w", err)
	}

	if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return state, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var correlationID sql.NullString
	var deleted int
	var createdAt string

	err := row.Scan(
		&msg.ID,
		&msg.ConvoID,
		&msg.Seq,
		&msg.Sender,
		&msg.Body,
		&correlationID,
		&deleted,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CorrelationID = correlationID.String
	msg.Deleted = deleted != 0
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
