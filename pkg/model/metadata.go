package model

import (
	"encoding/json"
	"math"
	"time"
)

// Reserved metadata keys. Caller metadata may set the first group; the
// second group is written by the system only.
const (
	KeyImportance  = "importance_score"
	KeyConfidence  = "confidence"
	KeyAccessCount = "access_count"
	KeyMemoryType  = "memory_type"
	KeyStage       = "lifecycle_stage"

	KeyCreatedAt        = "created_at"
	KeyUpdatedAt        = "updated_at"
	KeyArchivedAt       = "archived_at"
	KeyConsolidatedFrom = "consolidated_from"
	KeyConsolidatedIDs  = "consolidated_ids"
	KeyConsolidatedInto = "consolidated_into"
)

var systemKeys = map[string]struct{}{
	KeyCreatedAt:        {},
	KeyUpdatedAt:        {},
	KeyArchivedAt:       {},
	KeyConsolidatedFrom: {},
	KeyConsolidatedIDs:  {},
	KeyConsolidatedInto: {},
}

// IsReservedKey reports whether key is interpreted by memstore rather than
// stored verbatim in the extension bag.
func IsReservedKey(key string) bool {
	switch key {
	case KeyImportance, KeyConfidence, KeyAccessCount, KeyMemoryType, KeyStage:
		return true
	}
	_, ok := systemKeys[key]
	return ok
}

// Metadata is the extension bag of a memory: arbitrary string keys with
// JSON-compatible values.
type Metadata map[string]interface{}

// Clone returns a shallow copy of md. Nil stays nil.
func (md Metadata) Clone() Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// Int64s reads key as a list of ids. Values decoded from storage arrive as
// []interface{} of json.Number; values set in-process may be []int64.
func (md Metadata) Int64s(key string) []int64 {
	switch v := md[key].(type) {
	case []int64:
		return append([]int64(nil), v...)
	case []interface{}:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			if id, ok := toInt64(item); ok {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

// Int64 reads key as a single id.
func (md Metadata) Int64(key string) (int64, bool) {
	return toInt64(md[key])
}

// toInt64 keeps ids above 2^53 exact when they arrive as json.Number.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := toFloat(v)
	return int64(f), ok
}

// Int reads key as an integer, returning 0 when absent or not numeric.
func (md Metadata) Int(key string) int {
	if f, ok := toFloat(md[key]); ok {
		return int(f)
	}
	return 0
}

// MetadataPatch is the validated form of caller-supplied metadata: the
// reserved keys parsed into typed fields and everything else in Extra.
type MetadataPatch struct {
	Importance  *float64
	Confidence  *float64
	AccessCount *int
	Type        *Type
	Stage       *Stage
	Extra       Metadata
}

// ParseMetadata validates raw metadata. Reserved keys must hold values of
// the right type and range; system-managed keys are rejected.
func ParseMetadata(raw map[string]interface{}) (*MetadataPatch, error) {
	p := &MetadataPatch{}
	for k, v := range raw {
		if _, ok := systemKeys[k]; ok {
			return nil, Validationf("metadata key %q is managed by memstore", k)
		}
		switch k {
		case KeyImportance:
			f, err := unitInterval(k, v)
			if err != nil {
				return nil, err
			}
			p.Importance = &f
		case KeyConfidence:
			f, err := unitInterval(k, v)
			if err != nil {
				return nil, err
			}
			p.Confidence = &f
		case KeyAccessCount:
			f, ok := toFloat(v)
			if !ok || f < 0 || f != math.Trunc(f) {
				return nil, Validationf("%s must be a non-negative integer", k)
			}
			n := int(f)
			p.AccessCount = &n
		case KeyMemoryType:
			s, ok := v.(string)
			t := Type(s)
			if !ok || t == "" || !t.Valid() {
				return nil, Validationf("%s must be one of episodic, semantic, procedural", k)
			}
			p.Type = &t
		case KeyStage:
			s, ok := v.(string)
			if !ok {
				return nil, Validationf("%s must be a string", k)
			}
			st, err := ParseStage(s)
			if err != nil {
				return nil, err
			}
			if st == StageDeleted {
				return nil, Validationf("%s cannot be set to deleted; delete the memory instead", k)
			}
			p.Stage = &st
		default:
			if p.Extra == nil {
				p.Extra = Metadata{}
			}
			p.Extra[k] = v
		}
	}
	return p, nil
}

// Apply merges the patch into m. Provided keys overwrite, others are kept.
// A stage may only move forward; going back requires Restore.
func (p *MetadataPatch) Apply(m *Memory, now time.Time) error {
	if p == nil {
		return nil
	}
	if p.Stage != nil && *p.Stage != m.Stage {
		if !CanAdvance(m.Stage, *p.Stage) {
			return Validationf("lifecycle_stage cannot move from %s to %s; use restore", m.Stage, *p.Stage)
		}
		m.Stage = *p.Stage
		m.StageChangedAt = now
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	if p.Confidence != nil {
		c := *p.Confidence
		m.Confidence = &c
	}
	if p.AccessCount != nil {
		m.AccessCount = *p.AccessCount
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	if len(p.Extra) > 0 {
		if m.Metadata == nil {
			m.Metadata = Metadata{}
		}
		for k, v := range p.Extra {
			m.Metadata[k] = v
		}
	}
	return nil
}

func unitInterval(key string, v interface{}) (float64, error) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || f < 0 || f > 1 {
		return 0, Validationf("%s must be a number in [0,1], got %v", key, v)
	}
	return f, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
