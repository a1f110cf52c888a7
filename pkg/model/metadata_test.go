package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/model"
)

func TestParseMetadata(t *testing.T) {
	p, err := model.ParseMetadata(map[string]interface{}{
		"importance_score": 0.8,
		"confidence":       1,
		"access_count":     float64(3),
		"memory_type":      "episodic",
		"source":           "chat",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.8, *p.Importance)
	assert.Equal(t, 1.0, *p.Confidence)
	assert.Equal(t, 3, *p.AccessCount)
	assert.Equal(t, model.TypeEpisodic, *p.Type)
	assert.Equal(t, model.Metadata{"source": "chat"}, p.Extra)
}

func TestParseMetadataRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
	}{
		{"importance above range", map[string]interface{}{"importance_score": 1.5}},
		{"importance negative", map[string]interface{}{"importance_score": -0.1}},
		{"importance not numeric", map[string]interface{}{"importance_score": "high"}},
		{"confidence above range", map[string]interface{}{"confidence": 2}},
		{"fractional access count", map[string]interface{}{"access_count": 1.5}},
		{"negative access count", map[string]interface{}{"access_count": -1}},
		{"unknown type", map[string]interface{}{"memory_type": "dream"}},
		{"deleted stage", map[string]interface{}{"lifecycle_stage": "deleted"}},
		{"system key", map[string]interface{}{"consolidated_into": 12}},
		{"timestamps", map[string]interface{}{"created_at": "2024-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.ParseMetadata(tt.raw)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestMetadataPatchApply(t *testing.T) {
	now := time.Now()
	m := &model.Memory{
		Importance: 0.5,
		Stage:      model.StageActive,
		Metadata:   model.Metadata{"source": "chat", "lang": "en"},
	}

	p, err := model.ParseMetadata(map[string]interface{}{
		"lang":             "fr",
		"importance_score": 0.9,
		"lifecycle_stage":  "archived",
	})
	require.NoError(t, err)
	require.NoError(t, p.Apply(m, now))

	assert.Equal(t, 0.9, m.Importance)
	assert.Equal(t, model.StageArchived, m.Stage)
	assert.Equal(t, now, m.StageChangedAt)
	assert.Equal(t, model.Metadata{"source": "chat", "lang": "fr"}, m.Metadata)

	back, err := model.ParseMetadata(map[string]interface{}{"lifecycle_stage": "active"})
	require.NoError(t, err)
	assert.ErrorIs(t, back.Apply(m, now), model.ErrValidation)
	assert.Equal(t, model.StageArchived, m.Stage)
}

func TestMetadataInt64s(t *testing.T) {
	md := model.Metadata{
		"a": []int64{1, 2},
		"b": []interface{}{float64(3), float64(4)},
	}
	assert.Equal(t, []int64{1, 2}, md.Int64s("a"))
	assert.Equal(t, []int64{3, 4}, md.Int64s("b"))
	assert.Nil(t, md.Int64s("missing"))
}
