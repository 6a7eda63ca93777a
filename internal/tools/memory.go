package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"daftar/internal/config"
	"daftar/internal/logging"
	"daftar/internal/policy"
	"daftar/internal/store"
)

// Facade-level gating defaults. LLM-inferred facts enter the policy
// engine with a hard-capped confidence.
const (
	defaultThreshold   = 3.0
	inferredConfidence = 0.6
)

// MemoryTool is the thin policy surface above the engine: it normalizes
// subjects, validates dates, applies the settings-driven gate, and
// delegates everything else.
type MemoryTool struct {
	engine   *policy.Engine
	settings *config.SettingsLoader
	log      *zap.Logger
}

// NewMemoryTool builds the facade.
func NewMemoryTool(engine *policy.Engine, settings *config.SettingsLoader, log *zap.Logger) *MemoryTool {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryTool{engine: engine, settings: settings, log: log}
}

// NormalizeSubject trims and Title-Cases a subject for consistency.
// An empty subject canonicalizes to "General".
func NormalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "General"
	}
	words := strings.Fields(strings.ToLower(subject))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// validDate reports whether s is a calendar date in ISO YYYY-MM-DD form.
func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// StoreMemoryRequest is the inbound shape of a store_memory call.
type StoreMemoryRequest struct {
	Content    string
	MemoryDate string
	Subject    string
	Importance int
	SessionID  string
	UserID     string
	AccessMode string
}

// StoreMemory validates and gates a candidate memory, then delegates to
// the policy engine with source=inferred, confidence=0.6 and a fresh
// correlation id.
func (t *MemoryTool) StoreMemory(req StoreMemoryRequest) policy.StoreResult {
	t.log.Info("store_memory called",
		logging.EventToolCallStart.Field(),
		zap.String("tool_name", "store_memory"),
		zap.String("session_id", req.SessionID),
		zap.String("subject", req.Subject),
		zap.Int("importance", req.Importance),
	)

	if !validDate(req.MemoryDate) {
		reason := fmt.Sprintf("Invalid date format: %s. Expected YYYY-MM-DD.", req.MemoryDate)
		t.log.Warn("store_memory rejected",
			logging.EventToolCallRejected.Field(),
			zap.String("tool_name", "store_memory"),
			zap.String("reason", reason),
		)
		return policy.StoreResult{Status: policy.StatusError, Reason: reason, Stored: false}
	}

	threshold, allowedSubjects := t.gate()
	normSubject := NormalizeSubject(req.Subject)

	if float64(req.Importance) < threshold {
		t.log.Info("memory below extraction threshold",
			logging.EventMemoryStoreDenied.Field(),
			zap.String("reason", "importance_below_threshold"),
			zap.String("normalized_subject", normSubject),
			zap.Int("importance", req.Importance),
			zap.Float64("threshold", threshold),
		)
		return policy.StoreResult{
			Status: policy.StatusRejected,
			Reason: "importance_below_threshold",
			Detail: fmt.Sprintf("Importance %d is below threshold %g", req.Importance, threshold),
			Stored: false,
		}
	}

	if !subjectAllowed(normSubject, allowedSubjects) {
		t.log.Info("memory subject not allowed",
			logging.EventMemoryStoreDenied.Field(),
			zap.String("reason", "subject_not_allowed"),
			zap.String("normalized_subject", normSubject),
			zap.Strings("allowed_subjects", allowedSubjects),
		)
		return policy.StoreResult{
			Status: policy.StatusRejected,
			Reason: "subject_not_allowed",
			Detail: fmt.Sprintf("Subject %q is not in allowed subjects.", normSubject),
			Stored: false,
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	userID := req.UserID
	if userID == "" {
		userID = "default_user"
	}
	accessMode := req.AccessMode
	if accessMode == "" {
		accessMode = store.AccessPrivate
	}

	return t.engine.Evaluate(policy.Proposal{
		SessionID:     sessionID,
		Content:       req.Content,
		MemoryDate:    req.MemoryDate,
		Subject:       normSubject,
		Importance:    req.Importance,
		UserID:        userID,
		AccessMode:    accessMode,
		Confidence:    inferredConfidence,
		Source:        store.SourceInferred,
		CorrelationID: uuid.NewString(),
	})
}

// RetrieveMemoryRequest is the inbound shape of a retrieve_memory call.
type RetrieveMemoryRequest struct {
	Query       string
	Scope       []string
	StateFilter string
	Limit       int
	UserID      string
}

// RetrieveMemory validates the requested scope against the allow-list,
// normalizes it, and relays to the governed retrieval contract.
func (t *MemoryTool) RetrieveMemory(req RetrieveMemoryRequest) policy.RetrieveResult {
	correlationID := uuid.NewString()

	t.log.Info("retrieve_memory called",
		logging.EventToolCallStart.Field(),
		logging.Correlation(correlationID),
		zap.String("tool_name", "retrieve_memory"),
		zap.String("user_id", req.UserID),
		zap.String("query", req.Query),
		zap.Strings("scope", req.Scope),
		zap.String("state_filter", req.StateFilter),
		zap.Int("limit", req.Limit),
	)

	_, allowedSubjects := t.gate()

	var scope []string
	for _, s := range req.Scope {
		norm := NormalizeSubject(s)
		if !subjectAllowed(norm, allowedSubjects) {
			reason := fmt.Sprintf("Scope %q is not allowed by current policy settings.", norm)
			t.log.Warn("retrieve_memory rejected",
				logging.EventToolCallRejected.Field(),
				logging.Correlation(correlationID),
				zap.String("tool_name", "retrieve_memory"),
				zap.String("reason", reason),
			)
			return policy.RetrieveResult{Status: policy.StatusError, Detail: reason}
		}
		scope = append(scope, norm)
	}

	userID := req.UserID
	if userID == "" {
		userID = "default_user"
	}

	return t.engine.Retrieve(policy.RetrieveRequest{
		UserID:        userID,
		Query:         req.Query,
		Scope:         scope,
		StateFilter:   store.State(req.StateFilter),
		Limit:         req.Limit,
		CorrelationID: correlationID,
	})
}

// gate loads the effective settings and extracts the threshold and
// allow-list, falling back to safe defaults on any malformed value.
func (t *MemoryTool) gate() (float64, []string) {
	threshold := defaultThreshold
	allowed := []string{"*"}

	if t.settings == nil {
		return threshold, allowed
	}

	settings, err := t.settings.Load()
	if err != nil {
		t.log.Error("settings load failed, using defaults",
			logging.EventSettingsLoadError.Field(),
			zap.Error(err),
		)
	}

	if raw, ok := settings[config.KeyExtractionThreshold]; ok {
		if parsed, ok := config.Threshold(raw); ok {
			threshold = parsed
		} else {
			t.log.Warn("malformed setting",
				logging.EventMalformedSetting.Field(),
				zap.String("setting", config.KeyExtractionThreshold),
				zap.Any("value", raw),
			)
		}
	}

	if raw, ok := settings[config.KeyAllowedSubjects]; ok {
		if parsed, ok := config.SubjectList(raw); ok {
			normalized := make([]string, 0, len(parsed))
			for _, s := range parsed {
				if s == "*" {
					normalized = append(normalized, s)
					continue
				}
				normalized = append(normalized, NormalizeSubject(s))
			}
			allowed = normalized
		} else {
			t.log.Warn("malformed setting",
				logging.EventMalformedSetting.Field(),
				zap.String("setting", config.KeyAllowedSubjects),
				zap.Any("value", raw),
			)
		}
	}

	return threshold, allowed
}

func subjectAllowed(normSubject string, allowed []string) bool {
	for _, s := range allowed {
		if s == "*" || s == normSubject {
			return true
		}
	}
	return false
}

// RegisterMemoryTools adds store_memory and retrieve_memory to a registry.
func RegisterMemoryTools(r *Registry, t *MemoryTool) {
	r.MustRegister(&Tool{
		Name:        "store_memory",
		Description: "Store a long-term memory about the user, governed by the policy engine.",
		Category:    CategoryMemory,
		Schema: ToolSchema{
			Required: []string{"content", "memory_date", "subject", "importance"},
			Properties: map[string]Property{
				"content":     {Type: "string", Description: "The factual memory sentence."},
				"memory_date": {Type: "string", Description: "ISO date (YYYY-MM-DD) the fact refers to."},
				"subject":     {Type: "string", Description: "Short category, e.g. Work, Health."},
				"importance":  {Type: "integer", Description: "1 (trivial) to 5 (critical)."},
				"session_id":  {Type: "string", Description: "Originating session.", Default: "default"},
				"user_id":     {Type: "string", Description: "Owning user.", Default: "default_user"},
				"access_mode": {Type: "string", Description: "private or shared.", Default: "private", Enum: []any{"private", "shared"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			importance, ok := intArg(args["importance"])
			if !ok {
				res := policy.StoreResult{
					Status: policy.StatusError,
					Reason: fmt.Sprintf("Importance must be an integer, got %T.", args["importance"]),
					Stored: false,
				}
				return marshalResult(res)
			}
			res := t.StoreMemory(StoreMemoryRequest{
				Content:    stringArg(args["content"]),
				MemoryDate: stringArg(args["memory_date"]),
				Subject:    stringArg(args["subject"]),
				Importance: importance,
				SessionID:  stringArg(args["session_id"]),
				UserID:     stringArg(args["user_id"]),
				AccessMode: stringArg(args["access_mode"]),
			})
			return marshalResult(res)
		},
	})

	r.MustRegister(&Tool{
		Name:        "retrieve_memory",
		Description: "Retrieve memories through the governed retrieval contract.",
		Category:    CategoryMemory,
		Schema: ToolSchema{
			Required: []string{"user_id"},
			Properties: map[string]Property{
				"user_id":      {Type: "string", Description: "Owning user."},
				"query":        {Type: "string", Description: "Optional substring match over content."},
				"scope":        {Type: "array", Description: "Subjects to search.", Items: &PropertyItems{Type: "string"}},
				"state_filter": {Type: "string", Description: "Lifecycle state to query.", Default: "active", Enum: []any{"active", "superseded", "archived", "deleted"}},
				"limit":        {Type: "integer", Description: "Max results, hard-capped at 20.", Default: 5},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			limit, ok := intArg(args["limit"])
			if !ok || limit <= 0 {
				limit = 5
			}
			stateFilter := stringArg(args["state_filter"])
			if stateFilter == "" {
				stateFilter = string(store.StateActive)
			}
			res := t.RetrieveMemory(RetrieveMemoryRequest{
				Query:       stringArg(args["query"]),
				Scope:       stringSliceArg(args["scope"]),
				StateFilter: stateFilter,
				Limit:       limit,
				UserID:      stringArg(args["user_id"]),
			})
			return marshalResult(res)
		},
	})
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func stringArg(v any) string {
	s, _ := v.(string)
	return s
}

// intArg accepts native ints and the float64s JSON decoding produces,
// rejecting non-integral values.
func intArg(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	default:
		return 0, false
	}
}

func stringSliceArg(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}
