package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// Client is a PostgreSQL + pgvector record store.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL client.
//
// Args:
//   - cfg: PostgreSQL connection settings; SSLMode defaults to "disable"
//
// Returns:
//   - *Client: PostgreSQL record store with its table created
//   - error: Returns an error wrapping ErrStorageOperation if the connection or table setup fails
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storage.OpError("NewPostgresClient", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.OpError("NewPostgresClient", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: collection,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return storage.OpError("initTables: create extension", err)
	}

	vectorType := "vector"
	if c.dimensions > 0 {
		vectorType = fmt.Sprintf("vector(%d)", c.dimensions)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding %s NOT NULL,
			scope_kind VARCHAR(32) NOT NULL,
			scope_id VARCHAR(255) NOT NULL DEFAULT '',
			memory_type VARCHAR(32) NOT NULL DEFAULT '',
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			confidence DOUBLE PRECISION,
			access_count INTEGER NOT NULL DEFAULT 0,
			lifecycle_stage VARCHAR(16) NOT NULL DEFAULT 'active',
			metadata JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			stage_changed_at BIGINT NOT NULL
		)
	`, c.collectionName, vectorType)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.OpError("initTables: create table", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(scope_kind, scope_id)", c.collectionName, c.collectionName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_stage ON %s(lifecycle_stage)", c.collectionName, c.collectionName),
	}
	for _, q := range indexes {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return storage.OpError("initTables: create index", err)
		}
	}

	return nil
}

// Insert inserts a memory record.
func (c *Client) Insert(ctx context.Context, memory *model.Memory) error {
	args, err := storage.RecordArgs(memory, storage.FormatVector(memory.Embedding))
	if err != nil {
		return storage.OpError("Insert", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.collectionName, storage.Columns, placeholders(1, storage.ColumnCount))

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return storage.OpError("Insert", err)
	}

	return nil
}

// Get retrieves a memory record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*model.Memory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", c.selectColumns(), c.collectionName)

	memory, err := scanMemory(c.db.QueryRowContext(ctx, query, id))
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
		c.selectColumns(), c.collectionName, placeholders(1, len(ids)))

	rows, err := c.db.QueryContext(ctx, query, storage.Int64Args(ids)...)
	if err != nil {
		return nil, storage.OpError("GetMany", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows)
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
	args, err := storage.RecordArgs(memory, storage.FormatVector(memory.Embedding))
	if err != nil {
		return storage.OpError("Update", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $2, embedding = $3, scope_kind = $4, scope_id = $5, memory_type = $6,
		    importance = $7, confidence = $8, access_count = $9, lifecycle_stage = $10,
		    metadata = $11, created_at = $12, updated_at = $13, stage_changed_at = $14
		WHERE id = $1
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query, args...)
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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.collectionName)

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
		c.selectColumns(), c.collectionName, whereClause)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.OpError("List", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows)
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

	result, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collectionName, whereClause), args...)
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

// selectColumns casts the pgvector column to text so it scans into a string.
func (c *Client) selectColumns() string {
	return "id, content, embedding::text, scope_kind, scope_id, memory_type, importance, confidence, " +
		"access_count, lifecycle_stage, metadata, created_at, updated_at, stage_changed_at"
}

// scanMemory scans a single row.
func scanMemory(s storage.Scanner) (*model.Memory, error) {
	return storage.ScanRecord(s, storage.ParseVector)
}

// scanMemories scans multiple memories.
func scanMemories(rows *sql.Rows) ([]*model.Memory, error) {
	var memories []*model.Memory

	for rows.Next() {
		memory, err := scanMemory(rows)
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
