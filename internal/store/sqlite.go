// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists conversations, their turns and the per-user session index

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers, which makes each append
	// transaction atomic with respect to every other request.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
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
		now:    time.Now,
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
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);

		CREATE TABLE IF NOT EXISTS turns (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			text_parts      TEXT NOT NULL,
			image           TEXT,
			video_title     TEXT,
			video_url       TEXT,
			video_thumbnail TEXT,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (conversation_id, seq),
			CHECK (role IN ('user', 'model'))
		);

		CREATE TABLE IF NOT EXISTS session_index (
			owner_id   TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS summaries (
			owner_id        TEXT NOT NULL REFERENCES session_index(owner_id),
			seq             INTEGER NOT NULL,
			conversation_id TEXT NOT NULL,
			title           TEXT NOT NULL,

			PRIMARY KEY (owner_id, seq)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts an empty conversation owned by ownerID.
func (s *SQLiteStore) CreateConversation(ctx context.Context, ownerID string) (string, error) {
	id := uuid.New().String()
	now := s.now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, ownerID, now, now)
	if err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", id, "owner_id", ownerID)
	return id, nil
}

// AppendTurns appends turns inside one transaction. Sequence numbers are
// allocated from the current tail so concurrent appends never overwrite.
func (s *SQLiteStore) AppendTurns(ctx context.Context, id, ownerID string, turns []Turn) (*Conversation, error) {
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Format(time.RFC3339)
	result, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ? AND owner_id = ?
	`, now, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM turns WHERE conversation_id = ?`, id,
	).Scan(&next); err != nil {
		return nil, fmt.Errorf("reading history tail: %w", err)
	}

	for i, t := range turns {
		parts, err := json.Marshal(nonNilParts(t.TextParts))
		if err != nil {
			return nil, fmt.Errorf("encoding text parts: %w", err)
		}
		var title, url, thumb any
		if t.Video != nil {
			title, url, thumb = t.Video.Title, t.Video.URL, t.Video.Thumbnail
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (conversation_id, seq, role, text_parts, image, video_title, video_url, video_thumbnail, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, next+int64(i), string(t.Role), string(parts), nullString(t.Image), title, url, thumb, now); err != nil {
			return nil, fmt.Errorf("inserting turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended turns", "id", id, "count", len(turns))
	return s.GetConversation(ctx, id, ownerID)
}

// GetConversation loads a conversation and its full history.
// Returns ErrNotFound if it doesn't exist or belongs to another owner.
func (s *SQLiteStore) GetConversation(ctx context.Context, id, ownerID string) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, created_at, updated_at
		FROM conversations
		WHERE id = ? AND owner_id = ?
	`, id, ownerID).Scan(&conv.ID, &conv.OwnerID, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text_parts, image, video_title, video_url, video_thumbnail
		FROM turns
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	conv.History = []Turn{}
	for rows.Next() {
		var t Turn
		var role, parts string
		var image, vTitle, vURL, vThumb sql.NullString

		if err := rows.Scan(&role, &parts, &image, &vTitle, &vURL, &vThumb); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		t.Role = Role(role)
		if err := json.Unmarshal([]byte(parts), &t.TextParts); err != nil {
			return nil, fmt.Errorf("decoding text parts: %w", err)
		}
		if image.Valid {
			t.Image = image.String
		}
		if vTitle.Valid {
			t.Video = &Video{Title: vTitle.String, URL: vURL.String, Thumbnail: vThumb.String}
		}
		conv.History = append(conv.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}

	return &conv, nil
}

// ListSummaries returns the owner's summaries in insertion order.
func (s *SQLiteStore) ListSummaries(ctx context.Context, ownerID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, title
		FROM summaries
		WHERE owner_id = ?
		ORDER BY seq ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Title); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}
	return summaries, nil
}

// CreateIndexEntry creates the owner's index entry with its first summary.
// Returns ErrConflict if the owner already has an entry.
func (s *SQLiteStore) CreateIndexEntry(ctx context.Context, ownerID string, first Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_index (owner_id, created_at) VALUES (?, ?)
	`, ownerID, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting index entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO summaries (owner_id, seq, conversation_id, title) VALUES (?, 0, ?, ?)
	`, ownerID, first.ID, first.Title); err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index entry: %w", err)
	}

	s.logger.Debug("created index entry", "owner_id", ownerID, "conversation_id", first.ID)
	return nil
}

// AppendSummary adds a summary to the end of the owner's index entry.
// Returns ErrNotFound if the owner has no entry yet.
func (s *SQLiteStore) AppendSummary(ctx context.Context, ownerID string, summary Summary) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (owner_id, seq, conversation_id, title)
		SELECT owner_id,
			(SELECT COALESCE(MAX(seq) + 1, 0) FROM summaries WHERE owner_id = ?),
			?, ?
		FROM session_index
		WHERE owner_id = ?
	`, ownerID, summary.ID, summary.Title, ownerID)
	if err != nil {
		return fmt.Errorf("appending summary: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("appended summary", "owner_id", ownerID, "conversation_id", summary.ID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nonNilParts keeps an empty history entry encoded as [] rather than null.
func nonNilParts(parts []string) []string {
	if parts == nil {
		return []string{}
	}
	return parts
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
