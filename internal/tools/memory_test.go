package tools

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daftar/internal/config"
	"daftar/internal/policy"
	"daftar/internal/store"
)

func newTestMemoryTool(t *testing.T) (*MemoryTool, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	engine := policy.New(s, nil)
	loader := config.NewSettingsLoader(filepath.Join(t.TempDir(), "missing.json"), s, nil)
	t.Cleanup(func() { loader.Close() })

	return NewMemoryTool(engine, loader, nil), s
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "General"},
		{"   ", "General"},
		{"work", "Work"},
		{"WORK", "Work"},
		{"  mental health  ", "Mental Health"},
		{"daily routine", "Daily Routine"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSubject(tt.in), "input %q", tt.in)
	}
}

func TestStoreMemoryRejectsInvalidDate(t *testing.T) {
	tool, _ := newTestMemoryTool(t)

	for _, date := range []string{"", "yesterday", "2026-13-01", "08/24/2026"} {
		result := tool.StoreMemory(StoreMemoryRequest{
			Content:    "some fact",
			MemoryDate: date,
			Subject:    "Work",
			Importance: 4,
		})
		assert.Equal(t, policy.StatusError, result.Status, "date %q", date)
		assert.False(t, result.Stored)
	}
}

func TestStoreMemoryImportanceThreshold(t *testing.T) {
	tool, _ := newTestMemoryTool(t)

	// Default threshold is 3: importance 2 is gated out before the engine.
	low := tool.StoreMemory(StoreMemoryRequest{
		Content:    "barely notable",
		MemoryDate: "2026-08-24",
		Subject:    "Work",
		Importance: 2,
	})
	assert.Equal(t, policy.StatusRejected, low.Status)
	assert.Equal(t, "importance_below_threshold", low.Reason)

	// At the threshold it passes through.
	ok := tool.StoreMemory(StoreMemoryRequest{
		Content:    "worth keeping",
		MemoryDate: "2026-08-24",
		Subject:    "Work",
		Importance: 3,
	})
	assert.Equal(t, policy.StatusSuccess, ok.Status)
	assert.True(t, ok.Stored)
}

func TestStoreMemoryThresholdOverride(t *testing.T) {
	tool, s := newTestMemoryTool(t)
	require.NoError(t, s.SetSettingOverride(config.KeyExtractionThreshold, "4.5"))

	gated := tool.StoreMemory(StoreMemoryRequest{
		Content:    "important but not enough",
		MemoryDate: "2026-08-24",
		Subject:    "Work",
		Importance: 4,
	})
	assert.Equal(t, policy.StatusRejected, gated.Status)

	passed := tool.StoreMemory(StoreMemoryRequest{
		Content:    "critical fact",
		MemoryDate: "2026-08-24",
		Subject:    "Work",
		Importance: 5,
	})
	assert.True(t, passed.Stored)
}

func TestStoreMemorySubjectAllowList(t *testing.T) {
	tool, s := newTestMemoryTool(t)
	require.NoError(t, s.SetSettingOverride(config.KeyAllowedSubjects, `["work", "health"]`))

	blocked := tool.StoreMemory(StoreMemoryRequest{
		Content:    "hobby fact",
		MemoryDate: "2026-08-24",
		Subject:    "Hobbies",
		Importance: 4,
	})
	assert.Equal(t, policy.StatusRejected, blocked.Status)
	assert.Equal(t, "subject_not_allowed", blocked.Reason)

	// The allow-list is compared post-normalization on both sides.
	allowed := tool.StoreMemory(StoreMemoryRequest{
		Content:    "work fact",
		MemoryDate: "2026-08-24",
		Subject:    "WORK",
		Importance: 4,
	})
	assert.True(t, allowed.Stored)
}

func TestStoreMemoryMalformedThresholdFallsBack(t *testing.T) {
	tool, s := newTestMemoryTool(t)
	require.NoError(t, s.SetSettingOverride(config.KeyExtractionThreshold, "not a number"))

	// Falls back to the default threshold of 3.
	result := tool.StoreMemory(StoreMemoryRequest{
		Content:    "normal fact",
		MemoryDate: "2026-08-24",
		Subject:    "Work",
		Importance: 3,
	})
	assert.True(t, result.Stored)
}

func TestStoreMemoryDelegatesAsInferred(t *testing.T) {
	tool, s := newTestMemoryTool(t)

	result := tool.StoreMemory(StoreMemoryRequest{
		Content:    "delegated fact",
		MemoryDate: "2026-08-24",
		Subject:    "Work",
		Importance: 4,
		UserID:     "u1",
	})
	require.True(t, result.Stored)

	rows, err := s.RetrieveMemories(store.RetrieveQuery{
		UserID: "u1", StateFilter: store.StateActive, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, store.SourceInferred, rows[0].Source)
	assert.InDelta(t, 0.6, rows[0].Confidence, 1e-9)
}

func TestRetrieveMemoryScopeValidation(t *testing.T) {
	tool, s := newTestMemoryTool(t)
	require.NoError(t, s.SetSettingOverride(config.KeyAllowedSubjects, `["work"]`))

	denied := tool.RetrieveMemory(RetrieveMemoryRequest{
		UserID: "u1",
		Scope:  []string{"Secrets"},
		Limit:  5,
	})
	assert.Equal(t, policy.StatusError, denied.Status)

	allowed := tool.RetrieveMemory(RetrieveMemoryRequest{
		UserID: "u1",
		Scope:  []string{"work"},
		Limit:  5,
	})
	assert.Equal(t, policy.StatusSuccess, allowed.Status)
}
