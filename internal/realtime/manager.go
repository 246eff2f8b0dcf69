package realtime

import (
	"context"
	"sync"

	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/pkg/logger"
)

// Manager enforces the single-live-channel invariant: at most one channel
// is open per client, and opening a new one tears down the previous one
// first. Callers never manage that ordering themselves.
//
// OnClose handlers must not call back into the Manager; the close of a
// superseded channel runs while the manager lock is held.
type Manager struct {
	dialer *Dialer
	logger *logger.Logger

	mu      sync.Mutex
	current *Channel
}

// NewManager creates a channel manager
func NewManager(dialer *Dialer, log *logger.Logger) *Manager {
	return &Manager{
		dialer: dialer,
		logger: log.Named("realtime-manager"),
	}
}

// Open connects a channel for the session, closing any previously open
// channel first (last writer wins).
func (m *Manager) Open(ctx context.Context, wsURL string, kind session.ChannelKind, sessionID string, handlers Handlers) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.logger.Debug("Closing previous channel before opening new one",
			logger.String("previous_session_id", m.current.SessionID()),
			logger.String("session_id", sessionID))
		m.current.Close()
		m.current = nil
	}

	ch, err := m.dialer.Dial(ctx, wsURL, kind, sessionID, handlers)
	if err != nil {
		return nil, err
	}
	m.current = ch
	return ch, nil
}

// Current returns the live channel, or nil when none is open
func (m *Manager) Current() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CloseCurrent tears down the live channel, if any
func (m *Manager) CloseCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
