package dialogue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
)

// State is a dialogue position.
type State int

const (
	StateIdle State = iota
	StateChooseLanguage
	StateSavedDataChoice
	StateName
	StateBirthDate
	StateBirthTime
	StateCountry
	StateCity
)

var stateNames = [...]string{"idle", "choose_language", "saved_data_choice", "name", "birth_date", "birth_time", "country", "city"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session is one user's in-progress collection. It is never persisted.
type Session struct {
	mu           sync.Mutex
	userID       string
	state        State
	language     string
	record       domain.BirthRecord
	saved        *domain.BirthRecord
	lastActivity time.Time
	closed       bool
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sessions holds active dialogue sessions keyed by user ID and evicts idle ones.
type Sessions struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	now         func() time.Time
	onExpire    func(userID string)
	logger      *slog.Logger
}

// NewSessions creates an empty store.
func NewSessions(idleTimeout time.Duration, logger *slog.Logger) *Sessions {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// SetExpireHook registers a callback invoked for each session evicted by the janitor.
func (m *Sessions) SetExpireHook(hook func(userID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// create replaces any existing session for the user.
func (m *Sessions) create(userID, language string) *Session {
	s := &Session{
		userID:       userID,
		state:        StateChooseLanguage,
		language:     language,
		lastActivity: m.now(),
	}
	m.mu.Lock()
	old := m.sessions[userID]
	m.sessions[userID] = s
	m.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.closed = true
		old.mu.Unlock()
	}
	return s
}

func (m *Sessions) get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// remove drops the session if it is still the registered one. The caller holds s.mu.
func (m *Sessions) remove(s *Session) {
	s.closed = true
	m.mu.Lock()
	if cur, ok := m.sessions[s.userID]; ok && cur == s {
		delete(m.sessions, s.userID)
	}
	m.mu.Unlock()
}

// Len returns the number of active sessions.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartJanitor evicts idle sessions every interval until ctx is done.
func (m *Sessions) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Dialogue janitor started", "interval", interval, "idle_timeout", m.idleTimeout)
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Dialogue janitor shutting down", "reason", ctx.Err())
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Sessions) expireIdle() []string {
	var expired []string

	m.mu.Lock()
	now := m.now()
	for id, s := range m.sessions {
		// Skip sessions mid-turn; they are active by definition.
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.lastActivity) >= m.idleTimeout {
			s.closed = true
			delete(m.sessions, id)
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	hook := m.onExpire
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Info("Dialogue sessions expired", "count", len(expired))
	}
	if hook != nil {
		for _, id := range expired {
			hook(id)
		}
	}
	return expired
}
