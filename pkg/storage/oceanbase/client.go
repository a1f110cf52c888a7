package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// Client is an OceanBase record store speaking the MySQL protocol.
//
// The content column is named document and carries an MD5 hash column, the
// layout other OceanBase memory tables use.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// NewClient creates a new OceanBase client.
//
// Args:
//   - cfg: OceanBase connection settings (MySQL protocol)
//
// Returns:
//   - *Client: OceanBase record store with its table created
//   - error: Returns an error wrapping ErrStorageOperation if the connection or table setup fails
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, storage.OpError("NewOceanBaseClient", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.OpError("NewOceanBaseClient", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: collection,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			document LONGTEXT NOT NULL,
			embedding VECTOR(%d),
			scope_kind VARCHAR(32) NOT NULL,
			scope_id VARCHAR(128) NOT NULL DEFAULT '',
			memory_type VARCHAR(32) NOT NULL DEFAULT '',
			importance DOUBLE NOT NULL DEFAULT 0.5,
			confidence DOUBLE,
			access_count INT NOT NULL DEFAULT 0,
			lifecycle_stage VARCHAR(16) NOT NULL DEFAULT 'active',
			metadata JSON,
			hash VARCHAR(32),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			stage_changed_at BIGINT NOT NULL,
			INDEX idx_scope (scope_kind, scope_id),
			INDEX idx_stage (lifecycle_stage)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.OpError("initTables", err)
	}

	return nil
}

// columns maps storage.Columns onto this table (content lives in document).
const columns = "id, document, embedding, scope_kind, scope_id, memory_type, importance, confidence, " +
	"access_count, lifecycle_stage, metadata, created_at, updated_at, stage_changed_at"

// Insert inserts a memory record.
func (c *Client) Insert(ctx context.Context, memory *model.Memory) error {
	args, err := storage.RecordArgs(memory, storage.FormatVector(memory.Embedding))
	if err != nil {
		return storage.OpError("Insert", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s, hash) VALUES (%s)",
		c.collectionName, columns, placeholders(storage.ColumnCount+1))

	if _, err := c.db.ExecContext(ctx, query, append(args, generateHash(memory.Content))...); err != nil {
		return storage.OpError("Insert", err)
	}

	return nil
}

// Get retrieves a memory record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*model.Memory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", columns, c.collectionName)

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

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)", columns, c.collectionName, placeholders(len(ids)))

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
	args, err := storage.RecordArgs(memory, storage.FormatVector(memory.Embedding))
	if err != nil {
		return storage.OpError("Update", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET document = ?, embedding = ?, scope_kind = ?, scope_id = ?, memory_type = ?,
		    importance = ?, confidence = ?, access_count = ?, lifecycle_stage = ?,
		    metadata = ?, created_at = ?, updated_at = ?, stage_changed_at = ?, hash = ?
		WHERE id = ?
	`, c.collectionName)

	updateArgs := append(args[1:], generateHash(memory.Content), memory.ID)

	result, err := c.db.ExecContext(ctx, query, updateArgs...)
	if err != nil {
		return storage.OpError("Update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.OpError("Update", err)
	}
	if rowsAffected == 0 {
		// MySQL reports zero affected rows when nothing changed.
		if _, err := c.Get(ctx, memory.ID); err != nil {
			return err
		}
	}

	return nil
}

// Delete deletes a memory record by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.collectionName), id)
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

	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY created_at DESC, id DESC", columns, c.collectionName, whereClause)

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := int64(opts.Limit)
		if limit <= 0 {
			limit = 1<<63 - 1
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

func (c *Client) queryMemories(ctx context.Context, query string, args ...interface{}) ([]*model.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var memories []*model.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}

	return memories, rows.Err()
}

func scanMemory(s storage.Scanner) (*model.Memory, error) {
	return storage.ScanRecord(s, storage.ParseVector)
}
