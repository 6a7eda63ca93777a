package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daftar/internal/config"
	"daftar/internal/policy"
	"daftar/internal/session"
	"daftar/internal/store"
	"daftar/internal/tools"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	engine := policy.New(st, nil)
	loader := config.NewSettingsLoader(filepath.Join(t.TempDir(), "missing.json"), st, nil)
	t.Cleanup(func() { loader.Close() })
	memory := tools.NewMemoryTool(engine, loader, nil)
	sessions := session.NewManager(st, cfg.Memory.MaxChatHistory, nil)

	registry := tools.NewRegistry()
	tools.RegisterMemoryTools(registry, memory)

	// No extractor, no responder: chat echoes and skips extraction.
	return New(cfg, st, memory, loader, sessions, nil, nil, registry, nil), st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/memory/store", map[string]any{
		"content":     "prefers window seats",
		"memory_date": "2026-08-24",
		"subject":     "Travel",
		"importance":  4,
		"user_id":     "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored policy.StoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.True(t, stored.Stored)

	rec = doJSON(t, srv, http.MethodPost, "/api/memory/retrieve", map[string]any{
		"user_id": "u1",
		"query":   "window",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var retrieved policy.RetrieveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retrieved))
	require.Equal(t, 1, retrieved.ResultCount)
	assert.Equal(t, "prefers window seats", retrieved.Results[0].Content)
}

func TestStoreRejectionIsNotATransportError(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/memory/store", map[string]any{
		"content":     "trivial detail",
		"memory_date": "2026-08-24",
		"subject":     "Misc",
		"importance":  1,
		"user_id":     "u1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var result policy.StoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, policy.StatusRejected, result.Status)
	assert.False(t, result.Stored)
}

func TestRetrieveRequiresValidBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/memory/retrieve", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRecordsHistory(t *testing.T) {
	srv, st := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{
		"session_id": "s1",
		"user_id":    "u1",
		"message":    "hello there",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Reply)

	turns, err := st.SessionHistory("s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestChatRequiresMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/settings", map[string]string{
		"key":   config.KeyExtractionThreshold,
		"value": "4",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "4", settings[config.KeyExtractionThreshold])
}

func TestToolEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Contains(t, listing["tools"], "store_memory")
	assert.Contains(t, listing["tools"], "retrieve_memory")

	rec = doJSON(t, srv, http.MethodPost, "/api/tools/store_memory", map[string]any{
		"content":     "plays chess on Thursdays",
		"memory_date": "2026-08-24",
		"subject":     "Hobbies",
		"importance":  4,
		"user_id":     "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored policy.StoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.True(t, stored.Stored)

	rec = doJSON(t, srv, http.MethodPost, "/api/tools/no_such_tool", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRejectsEmptyKey(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/settings", map[string]string{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
