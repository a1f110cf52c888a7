package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/model"
)

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "global", model.GlobalScope().Key())
	assert.Equal(t, "user:A", model.UserScope("A").Key())
	assert.Equal(t, "session:s-1", model.SessionScope("s-1").Key())
	assert.Equal(t, "agent:planner", model.AgentScope("planner").Key())

	s, err := model.ParseScope("user:A")
	require.NoError(t, err)
	assert.Equal(t, model.UserScope("A"), s)

	s, err = model.ParseScope("global")
	require.NoError(t, err)
	assert.Equal(t, model.GlobalScope(), s)
}

func TestScopeValidate(t *testing.T) {
	tests := []struct {
		name  string
		scope model.Scope
		ok    bool
	}{
		{"global", model.GlobalScope(), true},
		{"user", model.UserScope("A"), true},
		{"user without id", model.Scope{Kind: model.ScopeUser}, false},
		{"global with id", model.Scope{Kind: model.ScopeGlobal, ID: "x"}, false},
		{"unknown kind", model.Scope{Kind: "team", ID: "x"}, false},
		{"empty", model.Scope{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, model.ErrValidation)
			}
		})
	}
}

func TestScopeUnmarshalJSON(t *testing.T) {
	var s model.Scope
	require.NoError(t, json.Unmarshal([]byte(`"session:abc"`), &s))
	assert.Equal(t, model.SessionScope("abc"), s)

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"agent","id":"bot"}`), &s))
	assert.Equal(t, model.AgentScope("bot"), s)

	assert.Error(t, json.Unmarshal([]byte(`"user:"`), &s))
}

func TestStageOrder(t *testing.T) {
	assert.True(t, model.CanAdvance(model.StageActive, model.StageAging))
	assert.True(t, model.CanAdvance(model.StageAging, model.StageArchived))
	assert.True(t, model.CanAdvance(model.StageActive, model.StageArchived))
	assert.False(t, model.CanAdvance(model.StageArchived, model.StageActive))
	assert.False(t, model.CanAdvance(model.StageAging, model.StageAging))
	assert.False(t, model.CanAdvance("bogus", model.StageAging))

	assert.True(t, model.StageActive.Searchable())
	assert.True(t, model.StageAging.Searchable())
	assert.False(t, model.StageArchived.Searchable())
}

func TestMemoryValidate(t *testing.T) {
	now := time.Now()
	valid := func() *model.Memory {
		return &model.Memory{
			ID:         1,
			Content:    "A likes coffee",
			Scope:      model.UserScope("A"),
			Importance: 0.5,
			Stage:      model.StageActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	assert.NoError(t, valid().Validate())

	m := valid()
	m.Content = ""
	assert.ErrorIs(t, m.Validate(), model.ErrValidation)

	m = valid()
	m.Importance = 1.5
	assert.ErrorIs(t, m.Validate(), model.ErrValidation)

	m = valid()
	m.UpdatedAt = now.Add(-time.Second)
	assert.ErrorIs(t, m.Validate(), model.ErrValidation)

	m = valid()
	m.Type = "dream"
	assert.ErrorIs(t, m.Validate(), model.ErrValidation)
}

func TestMemoryClone(t *testing.T) {
	c := 0.9
	m := &model.Memory{
		ID:         7,
		Embedding:  []float64{1, 2},
		Confidence: &c,
		Metadata:   model.Metadata{"source": "chat"},
	}
	cp := m.Clone()
	cp.Embedding[0] = 9
	*cp.Confidence = 0.1
	cp.Metadata["source"] = "other"

	assert.Equal(t, 1.0, m.Embedding[0])
	assert.Equal(t, 0.9, *m.Confidence)
	assert.Equal(t, "chat", m.Metadata["source"])
}
