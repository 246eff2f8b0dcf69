package ttl

import (
	"context"
	"sync"
	"time"

	"github.com/luup-life/luup/pkg/logger"
)

// State is the supervisor lifecycle state
type State int

const (
	StateIdle State = iota
	StateArmed
	StateExpired
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateExpired:
		return "expired"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Callbacks are invoked by the supervisor goroutine. OnTick fires roughly
// once per second with the remaining time; OnExpired fires exactly once
// when the deadline passes. Expired is terminal for the session instance.
type Callbacks struct {
	OnTick    func(sessionID string, remaining time.Duration)
	OnExpired func(sessionID string)
}

// Supervisor drives the countdown for the currently displayed session.
// Remaining time is recomputed from the absolute deadline on every tick,
// so missed ticks self-correct rather than drift.
type Supervisor struct {
	sessionID string
	expiresAt time.Time
	callbacks Callbacks
	logger    *logger.Logger

	// now and tickInterval are swappable for tests
	now          func() time.Time
	tickInterval time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a supervisor for one session instance. It does not
// start counting until Arm is called.
func NewSupervisor(sessionID string, expiresAt time.Time, callbacks Callbacks, log *logger.Logger) *Supervisor {
	return &Supervisor{
		sessionID:    sessionID,
		expiresAt:    expiresAt,
		callbacks:    callbacks,
		logger:       log.Named("ttl-supervisor"),
		now:          time.Now,
		tickInterval: time.Second,
	}
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the time left before expiry, never negative
func (s *Supervisor) Remaining() time.Duration {
	d := s.expiresAt.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Arm starts the countdown. If the deadline has already passed the
// supervisor transitions to Expired immediately, without waiting for a
// tick. Arming twice is a no-op.
func (s *Supervisor) Arm() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}

	if !s.expiresAt.After(s.now()) {
		s.state = StateExpired
		s.mu.Unlock()
		s.logger.Info("Session already past deadline at arm time",
			logger.String("session_id", s.sessionID),
			logger.Time("expires_at", s.expiresAt))
		if s.callbacks.OnExpired != nil {
			s.callbacks.OnExpired(s.sessionID)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateArmed
	s.mu.Unlock()

	s.logger.Debug("Countdown armed",
		logger.String("session_id", s.sessionID),
		logger.Duration("remaining", s.Remaining()))

	go s.run(ctx)
}

// Stop cancels the countdown without firing OnExpired. Safe to call in any
// state, including after expiry.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != StateArmed {
		if s.state != StateExpired {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			if now.Before(s.expiresAt) {
				if s.callbacks.OnTick != nil {
					s.callbacks.OnTick(s.sessionID, s.expiresAt.Sub(now))
				}
				continue
			}

			s.mu.Lock()
			if s.state != StateArmed {
				s.mu.Unlock()
				return
			}
			s.state = StateExpired
			s.mu.Unlock()

			s.logger.Info("Session expired",
				logger.String("session_id", s.sessionID),
				logger.Time("expires_at", s.expiresAt))
			if s.callbacks.OnExpired != nil {
				s.callbacks.OnExpired(s.sessionID)
			}
			return
		}
	}
}
