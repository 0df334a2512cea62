// ABOUTME: Contract tests for database schema to detect breaking schema changes.
// ABOUTME: Validates that expected tables, columns and indexes exist in SQLite.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/store"
)

// expectedSchema defines the contract for the conversation database.
// Existing databases are opened in place, so a removed or renamed column
// breaks every deployed gateway.
var expectedSchema = map[string][]string{
	"conversations": {
		"id", "owner_id", "created_at", "updated_at",
	},
	"turns": {
		"conversation_id", "seq", "role", "text_parts", "image",
		"video_title", "video_url", "video_thumbnail", "created_at",
	},
	"session_index": {
		"owner_id", "created_at",
	},
	"summaries": {
		"owner_id", "seq", "conversation_id", "title",
	},
}

// setupTestDB creates a temporary SQLite database with the production schema
// and returns a second connection to it.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	sqliteStore, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err, "failed to create SQLite store")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		sqliteStore.Close()
	})
	return db
}

func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return columns, nil
}

func listNames(t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(t.Context(),
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)

	for table, expectedCols := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actualCols, err := getTableColumns(t.Context(), db, table)
			if !assert.NoError(t, err, "failed to get columns for table %s", table) {
				return
			}
			if !assert.NotEmpty(t, actualCols, "table %s should exist and have columns", table) {
				return
			}

			for _, col := range expectedCols {
				assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
			}
			for col := range actualCols {
				if !slices.Contains(expectedCols, col) {
					t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
				}
			}
		})
	}
}

func TestTablesExist(t *testing.T) {
	tables := listNames(t, setupTestDB(t), "table")
	for table := range expectedSchema {
		assert.True(t, tables[table], "table %s should exist", table)
	}
}

func TestSchemaHasIndexes(t *testing.T) {
	indexes := listNames(t, setupTestDB(t), "index")
	assert.True(t, indexes["idx_conversations_owner"], "index idx_conversations_owner should exist")
}

// Reopening an existing file must not fail on the already-created schema.
func TestSchemaIsReentrant(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	first, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
