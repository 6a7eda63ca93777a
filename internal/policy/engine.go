// Package policy implements the deterministic lifecycle engine governing
// all memory state transitions. A candidate proposal resolves to exactly
// one of ACCEPT, SUPERSEDE, REJECT, or EXISTS; under concurrent proposers
// the active-uniqueness index plus optimistic concurrency control
// guarantee exactly one winner.
package policy

import (
	"database/sql"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"daftar/internal/logging"
	"daftar/internal/store"
)

// OCC retry parameters. Worst case the evaluation sleeps
// 0.1+0.2+0.4+0.8s plus jitter before surfacing max_retries_exceeded.
const (
	maxRetries = 5
	baseDelay  = 100 * time.Millisecond
	maxJitter  = 50 * time.Millisecond
)

// Decisions.
const (
	DecisionAccept    = "ACCEPT"
	DecisionSupersede = "SUPERSEDE"
	DecisionReject    = "REJECT"
	DecisionExists    = "EXISTS"
)

// Reason codes are stable machine-parseable identifiers and part of the
// external contract.
const (
	ReasonAcceptNewFact           = "ACCEPT_REASON_NEW_FACT"
	ReasonSupersedeContentOverlap = "SUPERSEDE_REASON_CONTENT_OVERLAP"
	ReasonRejectPrecedenceTooLow  = "REJECT_REASON_PRECEDENCE_TOO_LOW"
	ReasonExistsExactMatch        = "EXISTS_REASON_EXACT_MATCH"
	ReasonExistsNativeConstraint  = "EXISTS_REASON_NATIVE_CONSTRAINT"
)

// Statuses on the tool surface.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusExists   = "exists"
	StatusError    = "error"
)

// Proposal is a candidate memory submitted for evaluation.
type Proposal struct {
	SessionID     string
	Content       string
	MemoryDate    string
	Subject       string
	Importance    int
	UserID        string
	AccessMode    string
	Confidence    float64
	Source        store.Source
	CorrelationID string
}

// StoreResult is the outcome of one evaluation as surfaced to callers.
type StoreResult struct {
	Status     string `json:"status"`
	Stored     bool   `json:"stored"`
	MemoryID   int64  `json:"memory_id,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// Engine evaluates proposals against the durable state under OCC.
type Engine struct {
	store *store.Store
	log   *zap.Logger

	// sleep is swappable so tests can run the retry loop without waiting.
	sleep func(time.Duration)
}

// New creates a policy engine over the given store.
func New(s *store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, log: log, sleep: time.Sleep}
}

// retrySchedule yields the deterministic exponential backoff intervals
// for the OCC loop. Jitter is added separately so the bound stays exact.
func retrySchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = baseDelay << maxRetries
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Evaluate resolves a proposal to exactly one decision. Conflict detection
// may read stale state; the supersede is a compare-and-set, and the final
// insert is guarded by the active-uniqueness index, so every interleaving
// of concurrent writers converges on a single active row per fact.
func (e *Engine) Evaluate(p Proposal) StoreResult {
	e.log.Info("policy evaluation started",
		logging.EventPolicyEvaluationStarted.Field(),
		logging.Correlation(p.CorrelationID),
		zap.String("session_id", p.SessionID),
		zap.String("user_id", p.UserID),
		zap.String("subject", p.Subject),
		zap.String("source", string(p.Source)),
	)

	schedule := retrySchedule()

	for attempt := 0; attempt < maxRetries; attempt++ {
		active, err := e.store.ActiveMemoriesBySubject(p.SessionID, p.UserID, p.Subject)
		if err != nil {
			return StoreResult{Status: StatusError, Reason: "failed to read active memories: " + err.Error()}
		}

		conflict := findConflict(p.Content, active)
		if conflict == nil {
			return e.insertAccept(p)
		}

		if strings.TrimSpace(p.Content) == strings.TrimSpace(conflict.Content) {
			e.logDecision(p, DecisionExists, ReasonExistsExactMatch, decisionIDs{conflicting: conflict.ID})
			return StoreResult{
				Status:     StatusExists,
				Stored:     false,
				Detail:     "This exact memory was already active.",
				ReasonCode: ReasonExistsExactMatch,
			}
		}

		if incomingLosesPrecedence(p, conflict) {
			e.logDecision(p, DecisionReject, ReasonRejectPrecedenceTooLow, decisionIDs{conflicting: conflict.ID})
			return StoreResult{
				Status:     StatusRejected,
				Stored:     false,
				Detail:     "A higher or equal priority memory already exists for this topic.",
				Reason:     ReasonRejectPrecedenceTooLow,
				ReasonCode: ReasonRejectPrecedenceTooLow,
			}
		}

		// Supersede path. The writer that observes mutated=true owns the
		// transition; everyone else backs off and retries from a fresh read.
		mutated, err := e.store.SetMemoryState(conflict.ID, store.StateSuperseded)
		if err != nil {
			return StoreResult{Status: StatusError, Reason: "failed to supersede: " + err.Error()}
		}
		if !mutated {
			e.log.Warn("lost state race, retrying",
				logging.EventOCCRaceCondition.Field(),
				logging.Correlation(p.CorrelationID),
				zap.Int("attempt", attempt),
				zap.Int64("memory_id", conflict.ID),
			)
			e.sleep(schedule.NextBackOff() + time.Duration(rand.Int63n(int64(maxJitter))))
			continue
		}

		newID, err := e.store.InsertMemory(insertParams(p, store.StateActive, sql.NullInt64{Int64: conflict.ID, Valid: true}))
		if err == store.ErrDuplicate {
			// A peer inserted identical active content between our CAS and
			// our insert. Roll the supersede back best-effort and retry.
			if _, rbErr := e.store.SetMemoryState(conflict.ID, store.StateActive); rbErr != nil {
				e.log.Warn("supersede rollback failed",
					logging.Correlation(p.CorrelationID),
					zap.Int64("memory_id", conflict.ID),
					zap.Error(rbErr),
				)
			}
			continue
		}
		if err != nil {
			return StoreResult{Status: StatusError, Reason: "failed to store memory: " + err.Error()}
		}

		e.logDecision(p, DecisionSupersede, ReasonSupersedeContentOverlap,
			decisionIDs{supersedes: conflict.ID, newID: newID})
		return StoreResult{
			Status:     StatusSuccess,
			Stored:     true,
			MemoryID:   newID,
			Summary:    "Superseded existing fact",
			ReasonCode: ReasonSupersedeContentOverlap,
		}
	}

	return StoreResult{
		Status: StatusError,
		Reason: "max_retries_exceeded",
		Detail: "Max OCC retries exceeded due to high contention.",
	}
}

func (e *Engine) insertAccept(p Proposal) StoreResult {
	newID, err := e.store.InsertMemory(insertParams(p, store.StateActive, sql.NullInt64{}))
	if err == store.ErrDuplicate {
		// Identical insert flood detected natively by the DB constraint.
		e.logDecision(p, DecisionExists, ReasonExistsNativeConstraint, decisionIDs{})
		return StoreResult{
			Status:     StatusExists,
			Stored:     false,
			Detail:     "Native DB constraint blocked identical active memory.",
			ReasonCode: ReasonExistsNativeConstraint,
		}
	}
	if err != nil {
		return StoreResult{Status: StatusError, Reason: "failed to store memory: " + err.Error()}
	}

	e.logDecision(p, DecisionAccept, ReasonAcceptNewFact, decisionIDs{newID: newID})

	// Truncate on a rune boundary so multibyte content stays valid UTF-8.
	summary := p.Content
	if r := []rune(summary); len(r) > 50 {
		summary = string(r[:50]) + "..."
	}
	return StoreResult{
		Status:     StatusSuccess,
		Stored:     true,
		MemoryID:   newID,
		Summary:    summary,
		ReasonCode: ReasonAcceptNewFact,
	}
}

func insertParams(p Proposal, state store.State, supersedes sql.NullInt64) store.InsertParams {
	return store.InsertParams{
		SessionID:     p.SessionID,
		UserID:        p.UserID,
		MemoryDate:    p.MemoryDate,
		Subject:       p.Subject,
		Importance:    p.Importance,
		AccessMode:    p.AccessMode,
		State:         state,
		Supersedes:    supersedes,
		Confidence:    p.Confidence,
		Source:        p.Source,
		Content:       p.Content,
		CorrelationID: p.CorrelationID,
	}
}

// incomingLosesPrecedence implements the strict precedence predicate:
// lower source weight loses outright; at equal weight, strictly lower
// confidence loses. Equal weight and equal confidence means the incoming
// proposal wins the tie and supersedes.
func incomingLosesPrecedence(p Proposal, existing *store.ActiveMemory) bool {
	in := store.SourceWeight(p.Source)
	ex := store.SourceWeight(existing.Source)
	return in < ex || (in == ex && p.Confidence < existing.Confidence)
}

type decisionIDs struct {
	conflicting int64
	supersedes  int64
	newID       int64
}

func (e *Engine) logDecision(p Proposal, decision, reasonCode string, ids decisionIDs) {
	fields := []zap.Field{
		logging.EventPolicyResolutionDecided.Field(),
		logging.Correlation(p.CorrelationID),
		zap.String("user_id", p.UserID),
		zap.String("session_id", p.SessionID),
		zap.String("policy_decision", decision),
		zap.String("reason_code", reasonCode),
	}
	if ids.conflicting != 0 {
		fields = append(fields, zap.Int64("conflicting_id", ids.conflicting))
	}
	if ids.supersedes != 0 {
		fields = append(fields, zap.Int64("supersedes_id", ids.supersedes))
	}
	if ids.newID != 0 {
		fields = append(fields, zap.Int64("new_id", ids.newID))
	}
	e.log.Info("policy resolution decided", fields...)
}
