// Package sqlite provides the SQLite record store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Embeddings are stored as JSON text; similarity
// search is the vector index's job, not the record store's.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// Client implements storage.RecordStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing memories.
	collectionName string
}

// Config contains configuration for creating a SQLite record store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string
}

// NewClient creates a new SQLite record store.
//
// The parent directory of DBPath is created when missing and the table is
// created on first use.
//
// Args:
//   - cfg: SQLite configuration containing DBPath and CollectionName
//
// Returns:
//   - *Client: SQLite record store
//   - error: Returns an error wrapping ErrStorageOperation if the database cannot be opened
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, storage.OpError("NewSQLiteClient: failed to create directory", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, storage.OpError("NewSQLiteClient", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.OpError("NewSQLiteClient", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: collection,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			scope_kind TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			memory_type TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			confidence REAL,
			access_count INTEGER NOT NULL DEFAULT 0,
			lifecycle_stage TEXT NOT NULL DEFAULT 'active',
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			stage_changed_at INTEGER NOT NULL
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.OpError("initTables", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(scope_kind, scope_id)", c.collectionName, c.collectionName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_stage ON %s(lifecycle_stage)", c.collectionName, c.collectionName),
	}
	for _, q := range indexes {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return storage.OpError("initTables", err)
		}
	}

	return nil
}

// Insert inserts a memory record.
func (c *Client) Insert(ctx context.Context, memory *model.Memory) error {
	embeddingJSON, err := json.Marshal(memory.Embedding)
	if err != nil {
		return storage.OpError("Insert", err)
	}

	args, err := storage.RecordArgs(memory, string(embeddingJSON))
	if err != nil {
		return storage.OpError("Insert", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.collectionName, storage.Columns, placeholders(storage.ColumnCount))

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return storage.OpError("Insert", err)
	}

	return nil
}

// Get retrieves a memory record by ID.
//
// Returns:
//   - *model.Memory: The stored record
//   - error: ErrNotFound when no record has id, ErrStorageOperation on driver failure
func (c *Client) Get(ctx context.Context, id int64) (*model.Memory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", storage.Columns, c.collectionName)

	memory, err := c.scanMemory(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound(id)
	}
	if err != nil {
		return nil, storage.OpError("Get", err)
	}

	return memory, nil
}

// GetMany retrieves the records that exist among ids.
func (c *Client) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Memory, error) {
	result := make(map[int64]*model.Memory, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)",
		storage.Columns, c.collectionName, placeholders(len(ids)))

	memories, err := c.queryMemories(ctx, query, storage.Int64Args(ids)...)
	if err != nil {
		return nil, storage.OpError("GetMany", err)
	}
	for _, m := range memories {
		result[m.ID] = m
	}

	return result, nil
}

// Update replaces the mutable columns of a record.
func (c *Client) Update(ctx context.Context, memory *model.Memory) error {
	embeddingJSON, err := json.Marshal(memory.Embedding)
	if err != nil {
		return storage.OpError("Update", err)
	}

	args, err := storage.RecordArgs(memory, string(embeddingJSON))
	if err != nil {
		return storage.OpError("Update", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = ?, embedding = ?, scope_kind = ?, scope_id = ?, memory_type = ?,
		    importance = ?, confidence = ?, access_count = ?, lifecycle_stage = ?,
		    metadata = ?, created_at = ?, updated_at = ?, stage_changed_at = ?
		WHERE id = ?
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query, append(args[1:], memory.ID)...)
	if err != nil {
		return storage.OpError("Update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.OpError("Update", err)
	}
	if rowsAffected == 0 {
		return model.NotFound(memory.ID)
	}

	return nil
}

// Delete deletes a memory record by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return storage.OpError("Delete", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.OpError("Delete", err)
	}
	if rowsAffected == 0 {
		return model.NotFound(id)
	}

	return nil
}

// List retrieves memory records with optional filtering and pagination.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*model.Memory, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	whereClause, args := buildWhereClause(opts.Scope, opts.Stages)

	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY created_at DESC, id DESC",
		storage.Columns, c.collectionName, whereClause)

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	memories, err := c.queryMemories(ctx, query, args...)
	if err != nil {
		return nil, storage.OpError("List", err)
	}

	return memories, nil
}

// DeleteAll deletes all memory records matching the given filters.
func (c *Client) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) (int64, error) {
	if opts == nil {
		opts = &storage.DeleteAllOptions{}
	}

	whereClause, args := buildWhereClause(opts.Scope, nil)

	query := fmt.Sprintf("DELETE FROM %s %s", c.collectionName, whereClause)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storage.OpError("DeleteAll", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, storage.OpError("DeleteAll", err)
	}

	return n, nil
}

// IDs returns every stored record id.
func (c *Client) IDs(ctx context.Context) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s ORDER BY id", c.collectionName))
	if err != nil {
		return nil, storage.OpError("IDs", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storage.OpError("IDs", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) queryMemories(ctx context.Context, query string, args ...interface{}) ([]*model.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var memories []*model.Memory
	for rows.Next() {
		memory, err := c.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return memories, nil
}

// scanMemory scans a memory from a database row or rows.
func (c *Client) scanMemory(s storage.Scanner) (*model.Memory, error) {
	return storage.ScanRecord(s, func(text string) ([]float64, error) {
		var embedding []float64
		if err := json.Unmarshal([]byte(text), &embedding); err != nil {
			return nil, err
		}
		return embedding, nil
	})
}
