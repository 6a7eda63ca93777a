package policy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daftar/internal/store"
)

func seedMemory(t *testing.T, e *Engine, user, subject, content string, source store.Source, confidence float64) {
	t.Helper()
	p := proposal(content, source, confidence)
	p.UserID = user
	p.Subject = subject
	result := e.Evaluate(p)
	require.True(t, result.Stored, "seed %q: %s", content, result.Reason)
}

func TestRetrieveDeterministicRanking(t *testing.T) {
	e, _ := newTestEngine(t)

	// Disjoint contents so no seed supersedes another.
	seedMemory(t, e, "u1", "Fruit", "apple orchard visit", store.SourceInferred, 0.5)
	seedMemory(t, e, "u1", "Fruit", "banana bread recipe", store.SourceInferred, 0.9)
	seedMemory(t, e, "u1", "Fruit", "cherry festival trip", store.SourceImported, 0.4)
	seedMemory(t, e, "u1", "Fruit", "elderberry jam batch", store.SourceManual, 0.2)
	seedMemory(t, e, "u1", "Fruit", "date palm grove tour", store.SourceManual, 0.9)

	result := e.Retrieve(RetrieveRequest{UserID: "u1", Limit: 10})
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 5, result.ResultCount)

	// Source weight first, then confidence.
	want := []string{
		"date palm grove tour",
		"elderberry jam batch",
		"cherry festival trip",
		"banana bread recipe",
		"apple orchard visit",
	}
	got := make([]string, len(result.Results))
	for i, m := range result.Results {
		got[i] = m.Content
	}
	assert.Equal(t, want, got)
}

func TestRetrieveUserIsolation(t *testing.T) {
	e, _ := newTestEngine(t)
	seedMemory(t, e, "u1", "Work", "my own fact", store.SourceInferred, 0.6)
	seedMemory(t, e, "u2", "Work", "someone elses fact", store.SourceInferred, 0.6)

	result := e.Retrieve(RetrieveRequest{UserID: "u1", Limit: 10})
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 1, result.ResultCount)
	assert.Equal(t, "my own fact", result.Results[0].Content)
}

func TestRetrieveRequiresUser(t *testing.T) {
	e, _ := newTestEngine(t)
	result := e.Retrieve(RetrieveRequest{Limit: 10})
	assert.Equal(t, StatusError, result.Status)
}

func TestRetrieveRejectsInvalidState(t *testing.T) {
	e, _ := newTestEngine(t)
	result := e.Retrieve(RetrieveRequest{UserID: "u1", StateFilter: "bogus", Limit: 10})
	assert.Equal(t, StatusError, result.Status)
}

func TestRetrieveStateFilterDefaultsToActive(t *testing.T) {
	e, s := newTestEngine(t)
	seedMemory(t, e, "u1", "Work", "stays active", store.SourceInferred, 0.6)

	superseded := e.Evaluate(proposal("becomes superseded", store.SourceInferred, 0.6))
	require.True(t, superseded.Stored)
	ok, err := s.SetMemoryState(superseded.MemoryID, store.StateSuperseded)
	require.NoError(t, err)
	require.True(t, ok)

	result := e.Retrieve(RetrieveRequest{UserID: "u1", Limit: 10})
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 1, result.ResultCount)
	assert.Equal(t, "stays active", result.Results[0].Content)

	// Superseded rows remain queryable explicitly.
	history := e.Retrieve(RetrieveRequest{UserID: "u1", StateFilter: store.StateSuperseded, Limit: 10})
	require.Equal(t, StatusSuccess, history.Status)
	assert.Equal(t, 1, history.ResultCount)
}

func TestRetrieveLimitClamped(t *testing.T) {
	e, _ := newTestEngine(t)
	for i := 0; i < 25; i++ {
		seedMemory(t, e, "u1", fmt.Sprintf("Subject%d", i),
			fmt.Sprintf("unique fact number %d about topic%d", i, i),
			store.SourceInferred, 0.6)
	}

	result := e.Retrieve(RetrieveRequest{UserID: "u1", Limit: 100})
	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, RetrieveLimitCap, result.ResultCount)
}

func TestRetrieveRateLimitEnforced(t *testing.T) {
	e, _ := newTestEngine(t)
	seedMemory(t, e, "u1", "Work", "some fact", store.SourceInferred, 0.6)

	for i := 0; i < retrieveMaxRequests; i++ {
		result := e.Retrieve(RetrieveRequest{UserID: "u1", Limit: 5})
		require.Equal(t, StatusSuccess, result.Status, "request %d", i+1)
	}

	denied := e.Retrieve(RetrieveRequest{UserID: "u1", Limit: 5})
	assert.Equal(t, StatusError, denied.Status)
	assert.Equal(t, "rate_limit_exceeded", denied.Detail)

	// Another user is unaffected.
	other := e.Retrieve(RetrieveRequest{UserID: "u2", Limit: 5})
	assert.Equal(t, StatusSuccess, other.Status)
}
