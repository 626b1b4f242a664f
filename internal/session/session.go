package session

import (
	"sync"
	"time"

	"cortex-router/internal/models"
	"cortex-router/internal/tracker"
)

// maxHistoryMessages bounds the conversation context kept per session.
const maxHistoryMessages = 40

// Session holds per-conversation state: accumulated usage, bounded history
// and the caller's research-mode preference. All mutation goes through the
// session's own lock, so the tracker inside never sees concurrent writers.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	tracker      *tracker.Tracker
	history      []models.Message
	researchMode bool
}

// Manager is the registry of live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for an ID, creating it on first use.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s = &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		tracker:   tracker.New(),
	}
	m.sessions[id] = s
	return s
}

// Get returns the session for an ID if it exists.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Record folds a finished response into the session totals. For compare
// results this runs once per response, after the orchestrator join.
func (s *Session) Record(resp *models.UnifiedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Record(resp)
}

// Stats snapshots the session's accumulated usage.
func (s *Session) Stats() tracker.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Summary()
}

// AppendTurn adds a user/assistant exchange to the bounded history.
func (s *Session) AppendTurn(prompt, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history,
		models.Message{Role: "user", Content: prompt},
		models.Message{Role: "assistant", Content: answer},
	)
	if len(s.history) > maxHistoryMessages {
		s.history = s.history[len(s.history)-maxHistoryMessages:]
	}
}

// History returns a copy of the conversation so callers cannot mutate it.
func (s *Session) History() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Reset clears history and usage, keeping the session alive.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.tracker.Reset()
}

// SetResearchMode stores the caller's routing preference.
func (s *Session) SetResearchMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.researchMode = enabled
}

// ResearchMode reports the stored routing preference.
func (s *Session) ResearchMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.researchMode
}
