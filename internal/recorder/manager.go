package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultCleanupInterval = 30 * time.Second

// Manager manages all recording sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration

	sessionConfig   SessionConfig
	newCapture      func() (CaptureEngine, error)
	lease           *captureLease
	cleanupInterval time.Duration

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Session SessionConfig

	// NewCapture builds a private capture engine for every session.
	// When nil, Session.Capture is shared and leased to one session at a
	// time; a second session's Start fails with *DeviceAccessError.
	NewCapture func() (CaptureEngine, error)

	// IdleTimeout expires sessions that are not recording and had no
	// activity for this long. Zero disables expiry.
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// NewManager creates a new session manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config ManagerConfig) (*Manager, error) {
	if config.Session.Capture == nil && config.NewCapture == nil {
		return nil, fmt.Errorf("capture engine is required")
	}
	if config.Session.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:        make(map[string]*Session),
		logger:          logger,
		timeout:         config.IdleTimeout,
		sessionConfig:   config.Session,
		newCapture:      config.NewCapture,
		cleanupInterval: config.CleanupInterval,
		ctx:             ctx,
		cancel:          cancel,
		cleanup:         make(chan struct{}),
	}

	if config.NewCapture == nil {
		mgr.lease = &captureLease{engine: config.Session.Capture}
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates a new idle session with a random ID
func (m *Manager) CreateSession() (*Session, error) {
	id := uuid.NewString()

	cfg := m.sessionConfig
	if m.newCapture != nil {
		engine, err := m.newCapture()
		if err != nil {
			return nil, fmt.Errorf("failed to create capture engine: %w", err)
		}
		cfg.Capture = engine
	} else {
		cfg.Capture = &leasedCapture{lease: m.lease, sessionID: id}
	}

	session, err := NewSession(id, cfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("Created new recording session",
		slog.String("session_id", id),
		slog.Int("active_sessions", count),
	)

	return session, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of registered sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveSessions returns all sessions ordered by creation time
func (m *Manager) ActiveSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// RemoveSession closes and unregisters a session
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := session.Info()
	m.closeSession(session)

	m.logger.Info("Recording session removed",
		slog.String("session_id", id),
		slog.String("state", info.State),
		slog.Int("blob_size", info.BlobSize),
		slog.Duration("age", info.Age),
	)

	return true
}

// Stop closes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		m.closeSession(session)
	}

	m.logger.Info("Session manager stopped", slog.Int("closed_sessions", len(sessions)))
}

// CaptureHolder returns the ID of the session holding a shared capture
// device. It is empty when the device is free or engines are per session.
func (m *Manager) CaptureHolder() string {
	if m.lease == nil {
		return ""
	}
	return m.lease.holder()
}

func (m *Manager) closeSession(session *Session) {
	if err := session.Close(context.Background()); err != nil {
		m.logger.Warn("Error closing session",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
	if m.lease != nil {
		m.lease.release(session.ID)
	}
}

func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Session cleanup routine started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("check_interval", m.cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes sessions idle past the timeout.
// Sessions that are actively recording are never expired.
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	if m.timeout <= 0 {
		return 0
	}

	expired := make([]string, 0)

	// Session locks are taken outside the registry lock
	for _, session := range m.ActiveSessions() {
		id := session.ID
		lastActivity, state := session.idleSince()
		if state == StateRecording {
			continue
		}
		if now.Sub(lastActivity) > m.timeout {
			expired = append(expired, id)
		}
	}

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
	return len(expired)
}
