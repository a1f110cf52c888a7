// Package model holds the domain types shared by every memstore package:
// memories, scopes, lifecycle stages, typed metadata and errors.
package model

import (
	"time"
)

// DefaultImportance is the importance assigned to a memory when the caller
// does not provide one.
const DefaultImportance = 0.5

// Memory represents a single memory stored in the system.
//
// A memory contains:
//   - Content: The text content of the memory
//   - Embedding: Vector representation for similarity search
//   - Scope: The partition the memory belongs to
//   - Metadata: The extension bag of caller-defined attributes
//
// Example:
//
//	memory := &model.Memory{
//	    ID:      1234567890,
//	    Scope:   model.UserScope("user_001"),
//	    Content: "User likes Python programming",
//	    Metadata: model.Metadata{
//	        "source": "conversation",
//	    },
//	}
type Memory struct {
	// ID is the unique identifier of the memory. Immutable.
	ID int64 `json:"id"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Embedding is the vector embedding for similarity search.
	// Recomputed only when Content changes.
	Embedding []float64 `json:"embedding,omitempty"`

	// Scope is the single scope the memory belongs to.
	Scope Scope `json:"scope"`

	// Type is the optional memory type tag.
	Type Type `json:"memory_type,omitempty"`

	// Importance is the importance score in [0, 1].
	Importance float64 `json:"importance_score"`

	// Confidence is the optional confidence in [0, 1].
	Confidence *float64 `json:"confidence,omitempty"`

	// AccessCount is maintained by callers; reads never change it.
	AccessCount int `json:"access_count"`

	// Stage is the lifecycle stage.
	Stage Stage `json:"lifecycle_stage"`

	// Metadata contains caller-defined attributes outside the reserved keys.
	Metadata Metadata `json:"metadata,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory content or metadata was last written.
	UpdatedAt time.Time `json:"updated_at"`

	// StageChangedAt is when Stage last changed.
	StageChangedAt time.Time `json:"stage_changed_at"`

	// Score is the relevance score from search operations.
	Score float64 `json:"score,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	out := *m
	if m.Embedding != nil {
		out.Embedding = append([]float64(nil), m.Embedding...)
	}
	if m.Confidence != nil {
		c := *m.Confidence
		out.Confidence = &c
	}
	out.Metadata = m.Metadata.Clone()
	return &out
}

// Validate checks the invariants every stored memory must satisfy.
func (m *Memory) Validate() error {
	if m.Content == "" {
		return Validationf("content must not be empty")
	}
	if err := m.Scope.Validate(); err != nil {
		return err
	}
	if m.Importance < 0 || m.Importance > 1 {
		return Validationf("importance_score %v out of range [0,1]", m.Importance)
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return Validationf("confidence %v out of range [0,1]", *m.Confidence)
	}
	if m.AccessCount < 0 {
		return Validationf("access_count must be non-negative")
	}
	if !m.Type.Valid() {
		return Validationf("unknown memory_type %q", m.Type)
	}
	if !m.Stage.Valid() {
		return Validationf("unknown lifecycle_stage %q", m.Stage)
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		return Validationf("updated_at precedes created_at")
	}
	return nil
}

// Type is the closed set of memory type tags.
type Type string

const (
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
)

// Valid reports whether t is empty or a known type.
func (t Type) Valid() bool {
	switch t {
	case "", TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

// Stage is a lifecycle stage. Stages are ordered and only move forward,
// except through an explicit restore.
type Stage string

const (
	StageActive   Stage = "active"
	StageAging    Stage = "aging"
	StageArchived Stage = "archived"
	StageDeleted  Stage = "deleted"
)

// Rank returns the position of s in the lifecycle order, or -1.
func (s Stage) Rank() int {
	switch s {
	case StageActive:
		return 0
	case StageAging:
		return 1
	case StageArchived:
		return 2
	case StageDeleted:
		return 3
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Rank() >= 0
}

// Searchable reports whether memories in stage s appear in default searches.
func (s Stage) Searchable() bool {
	return s == StageActive || s == StageAging
}

// CanAdvance reports whether moving from one stage to another is a forward
// transition.
func CanAdvance(from, to Stage) bool {
	return from.Valid() && to.Valid() && to.Rank() > from.Rank()
}

// ParseStage parses a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !st.Valid() {
		return "", Validationf("unknown lifecycle_stage %q", s)
	}
	return st, nil
}
