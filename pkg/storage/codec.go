package storage

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/memstore/pkg/model"
)

// Columns is the column list shared by every SQL backend, in scan order.
// Timestamps are stored as Unix nanoseconds so that ordering by updated_at
// survives backends with coarser DATETIME precision.
const Columns = "id, content, embedding, scope_kind, scope_id, memory_type, importance, confidence, " +
	"access_count, lifecycle_stage, metadata, created_at, updated_at, stage_changed_at"

// ColumnCount is the number of entries in Columns.
const ColumnCount = 14

// Scanner is implemented by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// RecordArgs returns the column values of memory in Columns order. The
// embedding argument is the backend-specific encoding of memory.Embedding.
func RecordArgs(memory *model.Memory, embedding interface{}) ([]interface{}, error) {
	metadata := memory.Metadata
	if metadata == nil {
		metadata = model.Metadata{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var confidence sql.NullFloat64
	if memory.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *memory.Confidence, Valid: true}
	}

	return []interface{}{
		memory.ID,
		memory.Content,
		embedding,
		string(memory.Scope.Kind),
		memory.Scope.ID,
		string(memory.Type),
		memory.Importance,
		confidence,
		memory.AccessCount,
		string(memory.Stage),
		string(metadataJSON),
		memory.CreatedAt.UnixNano(),
		memory.UpdatedAt.UnixNano(),
		memory.StageChangedAt.UnixNano(),
	}, nil
}

// ScanRecord scans one row laid out as Columns. decodeEmbedding converts the
// stored embedding text back into a vector.
func ScanRecord(s Scanner, decodeEmbedding func(string) ([]float64, error)) (*model.Memory, error) {
	var (
		memory                       model.Memory
		embeddingStr                 string
		scopeKind, scopeID           string
		memoryType, stage            string
		confidence                   sql.NullFloat64
		metadataRaw                  []byte
		createdAt, updatedAt, staged int64
	)

	err := s.Scan(
		&memory.ID,
		&memory.Content,
		&embeddingStr,
		&scopeKind,
		&scopeID,
		&memoryType,
		&memory.Importance,
		&confidence,
		&memory.AccessCount,
		&stage,
		&metadataRaw,
		&createdAt,
		&updatedAt,
		&staged,
	)
	if err != nil {
		return nil, err
	}

	memory.Embedding, err = decodeEmbedding(embeddingStr)
	if err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	if len(metadataRaw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(metadataRaw))
		dec.UseNumber()
		if err := dec.Decode(&memory.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if len(memory.Metadata) == 0 {
		memory.Metadata = nil
	}

	if confidence.Valid {
		c := confidence.Float64
		memory.Confidence = &c
	}

	memory.Scope = model.Scope{Kind: model.ScopeKind(scopeKind), ID: scopeID}
	memory.Type = model.Type(memoryType)
	memory.Stage = model.Stage(stage)
	memory.CreatedAt = time.Unix(0, createdAt).UTC()
	memory.UpdatedAt = time.Unix(0, updatedAt).UTC()
	memory.StageChangedAt = time.Unix(0, staged).UTC()

	return &memory, nil
}

// FormatVector renders a vector as "[0.1,0.2,0.3]", the literal format of
// pgvector and OceanBase VECTOR columns.
func FormatVector(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// ParseVector parses the output of FormatVector.
func ParseVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))

	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}

	return result, nil
}

// StageStrings converts stages into query arguments.
func StageStrings(stages []model.Stage) []interface{} {
	out := make([]interface{}, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

// Int64Args converts ids into query arguments.
func Int64Args(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
