package session

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daftar/internal/store"
)

func newTestManager(t *testing.T, maxHistory int) *Manager {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s, maxHistory, nil)
}

func TestManagerAppendAndLoad(t *testing.T) {
	m := newTestManager(t, 10)

	for i := 1; i <= 4; i++ {
		n, err := m.Append("sess", "user", fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	turns, err := m.Load("sess", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "turn 1", turns[0].Content)
	assert.Equal(t, "turn 4", turns[3].Content)
}

func TestManagerLoadReservesHeadroom(t *testing.T) {
	m := newTestManager(t, 4)
	for i := 1; i <= 6; i++ {
		_, err := m.Append("sess", "user", fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	// Cap 4 with 2 reserved: only the newest 2 turns come back.
	turns, err := m.Load("sess", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 5, turns[0].Number)
	assert.Equal(t, 6, turns[1].Number)
}

func TestManagerPrune(t *testing.T) {
	m := newTestManager(t, 3)
	for i := 1; i <= 8; i++ {
		_, err := m.Append("sess", "user", fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	m.Prune("sess")

	turns, err := m.Load("sess", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 6, turns[0].Number)
}
