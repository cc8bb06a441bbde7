package tutor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studypal_go_backend/internal/ai"
	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/plans"
)

var ErrSessionNotFound = errors.New("tutor: session not found")

type TerminationReason int

const (
	UserInitiated TerminationReason = iota
	SessionIdle
)

type sessionInfo struct {
	Controller   *Controller
	Identity     ledger.Identity
	LastAccessed time.Time
}

// Manager tracks the live chat sessions and owns their controllers. Idle
// sessions are reaped by a background sweep.
type Manager struct {
	sessions      sync.Map
	sessionsMutex sync.RWMutex

	store           ledger.Store
	dispatcher      ai.Dispatcher
	history         History
	log             zerolog.Logger
	cfg             Config
	idleTimeout     time.Duration
	cleanupInterval time.Duration
}

func NewManager(
	store ledger.Store,
	dispatcher ai.Dispatcher,
	history History,
	log zerolog.Logger,
	cfg Config,
	idleTimeout time.Duration,
	cleanupInterval time.Duration,
) *Manager {
	m := &Manager{
		store:           store,
		dispatcher:      dispatcher,
		history:         history,
		log:             log,
		cfg:             cfg,
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
	}
	go m.periodicCleanup()
	return m
}

// StartSession creates a controller bound to the identity's plan and sink and
// registers it. Anonymous sessions get no history persistence.
func (m *Manager) StartSession(identity ledger.Identity, plan plans.Plan, sink Sink) (string, *Controller) {
	sessionID := uuid.New().String()

	history := m.history
	if identity.Anonymous() {
		history = nil
	}
	controller := NewController(sessionID, identity, plan, m.store, m.dispatcher, sink, history, m.log, m.cfg)

	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()
	m.sessions.Store(sessionID, sessionInfo{
		Controller:   controller,
		Identity:     identity,
		LastAccessed: time.Now(),
	})

	return sessionID, controller
}

// Get returns the session's controller and refreshes its idle clock.
func (m *Manager) Get(sessionID string) (*Controller, error) {
	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	info := value.(sessionInfo)
	info.LastAccessed = time.Now()
	m.sessions.Store(sessionID, info)

	return info.Controller, nil
}

// Terminate cancels any in-flight request and drops the session.
func (m *Manager) Terminate(sessionID string, reason TerminationReason) error {
	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	info := value.(sessionInfo)
	info.Controller.Cancel()
	m.sessions.Delete(sessionID)

	m.log.Info().Str("session_id", sessionID).Int("reason", int(reason)).Msg("session terminated")
	return nil
}

// UpdatePlanForUser pushes a plan change from billing into every live session
// owned by the user. Returns the number of sessions updated.
func (m *Manager) UpdatePlanForUser(userID uuid.UUID, plan plans.Plan) int {
	updated := 0
	m.sessions.Range(func(_, value interface{}) bool {
		info := value.(sessionInfo)
		if info.Identity.UserID == userID {
			info.Controller.SetPlan(plan)
			updated++
		}
		return true
	})
	return updated
}

func (m *Manager) periodicCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	for range ticker.C {
		m.CleanupIdleSessions()
	}
}

// CleanupIdleSessions terminates sessions whose idle clock has expired.
func (m *Manager) CleanupIdleSessions() {
	now := time.Now()
	m.sessions.Range(func(key, value interface{}) bool {
		sessionID := key.(string)
		info := value.(sessionInfo)
		if now.Sub(info.LastAccessed) > m.idleTimeout {
			if err := m.Terminate(sessionID, SessionIdle); err != nil {
				m.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to terminate idle session")
			}
		}
		return true
	})
}
