package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, CloseIfSupported(store))
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	store, err := NewStore("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.Equal(t, KindMemory, DefaultStoreKind())
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", "unused.db")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	assert.Error(t, err)
}
