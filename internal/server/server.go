// Package server is the HTTP adapter over the memory engine: a small
// JSON API for chat, governed memory access, and runtime settings. It
// holds no policy of its own; every memory decision routes through the
// tool facade and the policy engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"daftar/internal/config"
	"daftar/internal/extractor"
	"daftar/internal/logging"
	"daftar/internal/policy"
	"daftar/internal/session"
	"daftar/internal/store"
	"daftar/internal/tools"
)

// Server wires the HTTP surface to the engine and its collaborators.
type Server struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	memory    *tools.MemoryTool
	settings  *config.SettingsLoader
	sessions  *session.Manager
	extractor extractor.FactExtractor
	responder Responder
	registry  *tools.Registry

	http *http.Server
}

// New assembles the server. extractor and responder may be nil, in which
// case chat runs without memory extraction or with an echo reply; the
// memory API works regardless.
func New(cfg *config.Config, st *store.Store, memory *tools.MemoryTool, settings *config.SettingsLoader, sessions *session.Manager, ex extractor.FactExtractor, resp Responder, registry *tools.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		memory:    memory,
		settings:  settings,
		sessions:  sessions,
		extractor: ex,
		responder: resp,
		registry:  registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/memory/store", s.handleStore)
	mux.HandleFunc("POST /api/memory/retrieve", s.handleRetrieve)
	mux.HandleFunc("GET /api/memories/recent", s.handleRecent)
	mux.HandleFunc("GET /api/memories/daily", s.handleDaily)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSetSetting)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools/{name}", s.handleExecuteTool)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// ListenAndServe runs until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply  string              `json:"reply"`
	Memory *policy.StoreResult `json:"memory,omitempty"`
}

// handleChat runs one conversation turn: load history, retrieve context
// memories, generate the reply, persist both turns, and feed the message
// through extraction and the policy engine. Extraction failures never
// fail the chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if req.UserID == "" {
		req.UserID = "default_user"
	}

	s.log.Info("chat request",
		logging.EventChatRequest.Field(),
		logging.Correlation(correlationID),
		zap.String("session_id", req.SessionID),
		zap.String("user_id", req.UserID),
	)

	// Reserve room for the user and assistant turns we are about to add.
	history, err := s.sessions.Load(req.SessionID, 2)
	if err != nil {
		s.log.Error("history load failed",
			logging.EventChatFailed.Field(),
			logging.Correlation(correlationID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	memories, err := s.store.RecentMemories(req.SessionID, req.UserID, nil, 10)
	if err != nil {
		s.log.Warn("context memory load failed",
			logging.Correlation(correlationID),
			zap.Error(err),
		)
	}

	reply := req.Message
	if s.responder != nil {
		reply, err = s.responder.Respond(r.Context(), history, memories, req.Message)
		if err != nil {
			s.log.Error("chat generation failed",
				logging.EventChatFailed.Field(),
				logging.Correlation(correlationID),
				zap.Error(err),
			)
			s.writeError(w, http.StatusBadGateway, "chat generation failed")
			return
		}
	}

	if _, err := s.sessions.Append(req.SessionID, "user", req.Message); err != nil {
		s.log.Warn("failed to record user turn", logging.Correlation(correlationID), zap.Error(err))
	}
	if _, err := s.sessions.Append(req.SessionID, "assistant", reply); err != nil {
		s.log.Warn("failed to record assistant turn", logging.Correlation(correlationID), zap.Error(err))
	}
	s.sessions.Prune(req.SessionID)

	resp := chatResponse{Reply: reply}
	if s.extractor != nil {
		if outcome := s.extract(r.Context(), correlationID, req); outcome != nil {
			resp.Memory = outcome
		}
	}

	s.log.Info("chat response",
		logging.EventChatResponse.Field(),
		logging.Correlation(correlationID),
		zap.String("session_id", req.SessionID),
	)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) extract(ctx context.Context, correlationID string, req chatRequest) *policy.StoreResult {
	candidate, err := s.extractor.Extract(ctx, req.Message)
	if err != nil {
		s.log.Warn("memory extraction failed",
			logging.EventExtractionFailed.Field(),
			logging.Correlation(correlationID),
			zap.Error(err),
		)
		return nil
	}
	if candidate == nil {
		return nil
	}

	result := s.memory.StoreMemory(tools.StoreMemoryRequest{
		Content:    candidate.Content,
		MemoryDate: candidate.MemoryDate,
		Subject:    candidate.Subject,
		Importance: candidate.Importance,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
	})
	return &result
}

type storeRequest struct {
	Content    string `json:"content"`
	MemoryDate string `json:"memory_date"`
	Subject    string `json:"subject"`
	Importance int    `json:"importance"`
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	AccessMode string `json:"access_mode"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := s.memory.StoreMemory(tools.StoreMemoryRequest{
		Content:    req.Content,
		MemoryDate: req.MemoryDate,
		Subject:    req.Subject,
		Importance: req.Importance,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		AccessMode: req.AccessMode,
	})
	s.writeJSON(w, statusForStore(result.Status), result)
}

type retrieveRequest struct {
	UserID      string   `json:"user_id"`
	Query       string   `json:"query"`
	Scope       []string `json:"scope"`
	StateFilter string   `json:"state_filter"`
	Limit       int      `json:"limit"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	result := s.memory.RetrieveMemory(tools.RetrieveMemoryRequest{
		UserID:      req.UserID,
		Query:       req.Query,
		Scope:       req.Scope,
		StateFilter: req.StateFilter,
		Limit:       req.Limit,
	})
	status := http.StatusOK
	if result.Status != policy.StatusSuccess {
		status = http.StatusBadRequest
		if result.Detail == "rate_limit_exceeded" {
			status = http.StatusTooManyRequests
		}
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	userID := q.Get("user_id")
	if userID == "" {
		userID = "default_user"
	}
	contents, err := s.store.RecentMemories(sessionID, userID, q["subject"], 20)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load recent memories")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"memories": contents})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	userID := q.Get("user_id")
	if userID == "" {
		userID = "default_user"
	}
	date := q.Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	agg, err := s.store.DailyAggregation(sessionID, date, userID, q["subject"], 1)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate memories")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"date": date, "subjects": agg})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Load()
	if err != nil {
		s.log.Warn("settings load failed",
			logging.EventSettingsLoadError.Field(),
			zap.Error(err),
		)
	}
	s.writeJSON(w, http.StatusOK, settings)
}

type setSettingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req setSettingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Key == "" {
		s.writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.store.SetSettingOverride(req.Key, req.Value); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store override")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Names()})
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	args := map[string]any{}
	if r.ContentLength > 0 {
		if !s.decode(w, r, &args) {
			return
		}
	}

	result, err := s.registry.Execute(r.Context(), name, args)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, tools.ErrToolNotFound) {
			status = http.StatusNotFound
		}
		s.log.Warn("tool execution failed",
			logging.EventToolCallFailed.Field(),
			zap.String("tool_name", name),
			zap.Error(err),
		)
		s.writeError(w, status, err.Error())
		return
	}

	// Tool results are usually JSON already; plain-text results get wrapped.
	if json.Valid([]byte(result.Result)) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(result.Result))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": result.Result})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.cfg.Name,
		"version": s.cfg.Version,
	})
}

func statusForStore(status string) int {
	switch status {
	case policy.StatusSuccess, policy.StatusExists, policy.StatusRejected:
		// Rejection is a policy outcome, not a transport failure.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "detail": msg})
}
