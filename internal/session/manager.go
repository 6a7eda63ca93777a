// Package session manages durable conversation history on top of the
// store's turn log. History is what the chat loop feeds back to the
// model; it is separate from long-term memories, which only enter a
// conversation through governed retrieval.
package session

import (
	"go.uber.org/zap"

	"daftar/internal/store"
)

const defaultMaxHistory = 20

// Manager loads, appends, and prunes per-session conversation turns.
type Manager struct {
	store      *store.Store
	log        *zap.Logger
	maxHistory int
}

// NewManager builds a history manager. maxHistory bounds how many turns
// Load returns and how many Prune keeps; zero or negative selects the
// default of 20.
func NewManager(s *store.Store, maxHistory int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Manager{store: s, log: log, maxHistory: maxHistory}
}

// Load returns the most recent turns in chronological order. reserve
// leaves headroom below the cap for turns about to be appended, so the
// history handed to the model plus the new exchange stays within bounds.
func (m *Manager) Load(sessionID string, reserve int) ([]store.Turn, error) {
	limit := m.maxHistory - reserve
	if limit < 1 {
		limit = 1
	}
	return m.store.SessionHistory(sessionID, limit)
}

// Append records one turn and returns its number.
func (m *Manager) Append(sessionID, role, content string) (int, error) {
	return m.store.AppendSessionTurn(sessionID, role, content)
}

// Prune trims the session back to the configured cap. Failures are
// logged, not surfaced: losing old history is preferable to failing the
// conversation.
func (m *Manager) Prune(sessionID string) {
	if err := m.store.PruneSessionHistory(sessionID, m.maxHistory); err != nil {
		m.log.Warn("history prune failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
