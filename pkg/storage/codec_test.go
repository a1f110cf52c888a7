package storage_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

func TestFormatParseVector(t *testing.T) {
	v := []float64{0.1, -2.5, 3}
	s := storage.FormatVector(v)
	assert.Equal(t, "[0.1,-2.5,3]", s)

	parsed, err := storage.ParseVector(s)
	require.NoError(t, err)
	assert.Equal(t, v, parsed)

	empty, err := storage.ParseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = storage.ParseVector("[a,b]")
	assert.Error(t, err)
}

func TestOpError(t *testing.T) {
	assert.NoError(t, storage.OpError("Get", nil))

	cause := errors.New("disk full")
	err := storage.OpError("Insert", cause)
	assert.ErrorIs(t, err, model.ErrStorageOperation)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Insert")
}
