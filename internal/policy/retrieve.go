package policy

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"daftar/internal/logging"
	"daftar/internal/store"
)

// Retrieval governance parameters.
const (
	// RetrieveLimitCap is the hard cap on result counts; callers asking
	// for more are clamped, never refused.
	RetrieveLimitCap = 20

	retrieveEndpoint      = "retrieve_memory"
	retrieveMaxRequests   = 50
	retrieveWindowSeconds = 60
)

// RetrieveRequest parameterizes the governed retrieval contract.
type RetrieveRequest struct {
	UserID        string
	Query         string
	Scope         []string
	StateFilter   store.State
	Limit         int
	CorrelationID string
}

// RetrieveResult is the outcome surfaced to callers.
type RetrieveResult struct {
	Status      string         `json:"status"`
	UserID      string         `json:"user_id,omitempty"`
	Query       string         `json:"query,omitempty"`
	StateFilter string         `json:"state_filter,omitempty"`
	Results     []store.Memory `json:"results,omitempty"`
	ResultCount int            `json:"result_count"`
	Detail      string         `json:"detail,omitempty"`
}

// Retrieve executes the strictly governed retrieval contract: validate,
// clamp, rate-check, query deterministically, audit. No retrieval
// bypasses the engine.
func (e *Engine) Retrieve(req RetrieveRequest) RetrieveResult {
	start := time.Now()

	if req.UserID == "" {
		return RetrieveResult{Status: StatusError, Detail: "user_id is strictly required for retrieval."}
	}
	if req.StateFilter == "" {
		req.StateFilter = store.StateActive
	}
	if !store.ValidStates[req.StateFilter] {
		return RetrieveResult{
			Status: StatusError,
			Detail: fmt.Sprintf("Invalid state_filter %q. Must be one of active, superseded, archived, deleted.", req.StateFilter),
		}
	}

	limit := req.Limit
	if limit > RetrieveLimitCap {
		limit = RetrieveLimitCap
	}

	allowed, err := e.store.CheckRateLimit(req.UserID, retrieveEndpoint, retrieveMaxRequests, retrieveWindowSeconds)
	if err != nil {
		// Fail open: availability of the engine matters more than strict
		// throttling. The warning is the only trace of the failure.
		e.log.Warn("rate limit check failed, admitting request",
			logging.EventRateLimitCheckError.Field(),
			logging.Correlation(req.CorrelationID),
			zap.String("user_id", req.UserID),
			zap.String("endpoint", retrieveEndpoint),
			zap.Error(err),
		)
		allowed = true
	}
	if !allowed {
		e.log.Warn("rate limit exceeded",
			logging.EventRateLimitExceeded.Field(),
			logging.Correlation(req.CorrelationID),
			zap.String("user_id", req.UserID),
			zap.String("endpoint", retrieveEndpoint),
		)
		return RetrieveResult{
			Status: StatusError,
			Detail: "rate_limit_exceeded",
		}
	}

	results, err := e.store.RetrieveMemories(store.RetrieveQuery{
		UserID:      req.UserID,
		Query:       req.Query,
		Scope:       req.Scope,
		StateFilter: req.StateFilter,
		Limit:       limit,
	})
	if err != nil {
		return RetrieveResult{Status: StatusError, Detail: "retrieval failed: " + err.Error()}
	}

	resultIDs := make([]int64, len(results))
	for i, m := range results {
		resultIDs[i] = m.ID
	}
	scope := req.Scope
	if len(scope) == 0 {
		scope = []string{"*"}
	}
	e.log.Info("memories retrieved",
		logging.EventMemoryRetrieved.Field(),
		logging.Correlation(req.CorrelationID),
		zap.String("user_id", req.UserID),
		zap.String("query", req.Query),
		zap.Strings("scope", scope),
		zap.String("state_filter", string(req.StateFilter)),
		zap.Int("result_count", len(results)),
		zap.Int64s("result_ids", resultIDs),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return RetrieveResult{
		Status:      StatusSuccess,
		UserID:      req.UserID,
		Query:       req.Query,
		StateFilter: string(req.StateFilter),
		Results:     results,
		ResultCount: len(results),
	}
}
