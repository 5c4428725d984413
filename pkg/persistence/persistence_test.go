package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewJSONStore(t.TempDir(), "state")

	require.NoError(t, s.Save(payload{Name: "ledger", Value: 1.25}))

	var got payload
	require.NoError(t, s.Load(&got))
	assert.Equal(t, payload{Name: "ledger", Value: 1.25}, got)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	s := NewJSONStore(t.TempDir(), "missing")

	var got payload
	assert.ErrorIs(t, s.Load(&got), ErrNotExists)
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	s := NewJSONStore(t.TempDir(), "state")

	require.NoError(t, s.Save(payload{Value: 1}))
	require.NoError(t, s.Save(payload{Value: 2}))

	var got payload
	require.NoError(t, s.Load(&got))
	assert.Equal(t, 2.0, got.Value)
}

func TestNameSanitized(t *testing.T) {
	t.Parallel()
	s := NewJSONStore(t.TempDir(), "../evil/name")

	require.NoError(t, s.Save(payload{Value: 1}))
	var got payload
	assert.NoError(t, s.Load(&got))
}
