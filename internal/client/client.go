package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luup-life/luup/internal/assets"
	"github.com/luup-life/luup/internal/authority"
	"github.com/luup-life/luup/internal/config"
	"github.com/luup-life/luup/internal/poll"
	"github.com/luup-life/luup/internal/realtime"
	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/internal/storage/sqlite"
	"github.com/luup-life/luup/internal/ttl"
	"github.com/luup-life/luup/pkg/logger"
)

// Events is the outward-facing notification surface consumed by whatever
// UI layer binds to the engine. Every field is optional. No callback is
// invoked for sessions that have been superseded: late completions are
// discarded silently.
type Events struct {
	OnCountdown   func(sessionID string, remaining time.Duration)
	OnExpired     func(sessionID string)
	OnChat        func(sessionID string, ev realtime.ChatEvent)
	OnDraw        func(sessionID string, ev realtime.DrawEvent)
	OnChannelDown func(sessionID string, err error)
	OnAssetLoaded func(sessionID, filename string, data []byte)
	OnAssetFailed func(sessionID, filename string, err error)
	OnActiveList  func(records []session.Record)
}

// View is what the UI renders after a session is created or opened
type View struct {
	Record       session.Record
	Snapshot     session.Snapshot
	ShowResults  bool                  // quick poll: results view instead of submit form
	Results      []poll.QuestionResult // populated when ShowResults
	ChannelLive  bool                  // chat/whiteboard: realtime channel is up
	GalleryFiles []string              // photo share: filenames being populated
}

// PollOutcome is the result of a poll submission
type PollOutcome struct {
	State   poll.SubmitState
	Results []poll.QuestionResult // non-nil when this submission revealed results
}

// sessionContext tracks the one currently displayed session. A fresh
// context (with a new generation) supersedes the old one; stale async
// completions compare generations and drop themselves.
type sessionContext struct {
	record     session.Record
	generation uint64
	supervisor *ttl.Supervisor
}

// Client is the ephemeral session engine facade. It owns the local cache,
// the authority client, the realtime channel manager, the asset guard, and
// the TTL supervisor for the currently displayed session.
type Client struct {
	cfg       *config.Config
	storage   *sqlite.SessionStorage
	authority *authority.Client
	channels  *realtime.Manager
	guard     *assets.Guard
	events    Events
	logger    *logger.Logger

	mu         sync.Mutex
	current    *sessionContext
	generation uint64

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// New wires up a session engine client
func New(cfg *config.Config, storage *sqlite.SessionStorage, auth *authority.Client, channels *realtime.Manager, guard *assets.Guard, events Events, log *logger.Logger) *Client {
	return &Client{
		cfg:       cfg,
		storage:   storage,
		authority: auth,
		channels:  channels,
		guard:     guard,
		events:    events,
		logger:    log.Named("session-client"),
	}
}

// Start launches background maintenance: coarse-interval pruning of the
// local cache plus active-list refresh notifications. The foreground
// countdown for a displayed session runs independently of this loop.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maintCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.maintCancel = cancel
	c.maintDone = make(chan struct{})

	interval := time.Duration(c.cfg.Sessions.ListRefreshSeconds) * time.Second
	go c.maintenanceLoop(ctx, interval)
}

func (c *Client) maintenanceLoop(ctx context.Context, interval time.Duration) {
	defer close(c.maintDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if _, err := c.storage.PruneExpired(now); err != nil {
				c.logger.Warn("Cache prune failed", logger.Error(err))
			}
			if c.events.OnActiveList != nil {
				records, err := c.storage.GetActive(now)
				if err != nil {
					c.logger.Warn("Active list refresh failed", logger.Error(err))
					continue
				}
				c.events.OnActiveList(records)
			}
		}
	}
}

// Close exits any open session and stops background maintenance. The
// storage handle is owned by the caller and stays open.
func (c *Client) Close() {
	c.ExitSession()

	c.mu.Lock()
	cancel := c.maintCancel
	done := c.maintDone
	c.maintCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CreateSession asks the server to allocate a new session, caches it, and
// activates it as the displayed session.
func (c *Client) CreateSession(ctx context.Context, t session.Type, params authority.CreateParams) (*View, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown session type: %q", t)
	}
	if err := validateCreateParams(t, params); err != nil {
		return nil, err
	}

	snapshot, err := c.authority.Create(ctx, t, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return c.activate(ctx, snapshot)
}

// OpenSession fetches canonical state for a known session id and activates
// it. A NotFound answer evicts the local record.
func (c *Client) OpenSession(ctx context.Context, t session.Type, id string) (*View, error) {
	snapshot, err := c.authority.Open(ctx, t, id)
	if err != nil {
		if errors.Is(err, authority.ErrNotFound) {
			c.evict(id)
			return nil, err
		}
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	return c.activate(ctx, snapshot)
}

// JoinSession resolves the session against the server and opens it. On a
// dead session the cache entry is evicted and the caller gets ErrNotFound
// to refresh its active list.
func (c *Client) JoinSession(ctx context.Context, id string, t session.Type) (*View, error) {
	if !c.authority.Resolve(ctx, t, id) {
		c.evict(id)
		return nil, authority.ErrNotFound
	}
	return c.OpenSession(ctx, t, id)
}

// activate replaces the displayed session with the freshly opened one:
// cache refresh, countdown arm, realtime connect, gallery population.
func (c *Client) activate(ctx context.Context, snapshot *session.Snapshot) (*View, error) {
	record := snapshot.ToRecord()
	if err := c.storage.Put(record); err != nil {
		return nil, fmt.Errorf("failed to cache session: %w", err)
	}

	// Tear down whatever was displayed before
	c.teardownCurrent()

	c.mu.Lock()
	c.generation++
	generation := c.generation
	sessionCtx := &sessionContext{record: record, generation: generation}
	c.current = sessionCtx
	c.mu.Unlock()

	supervisor := ttl.NewSupervisor(record.ID, record.ExpiresAt, ttl.Callbacks{
		OnTick: func(sessionID string, remaining time.Duration) {
			if !c.isCurrent(sessionID, generation) {
				return
			}
			if c.events.OnCountdown != nil {
				c.events.OnCountdown(sessionID, remaining)
			}
		},
		OnExpired: func(sessionID string) {
			c.handleExpiry(sessionID, generation)
		},
	}, c.logger)

	c.mu.Lock()
	sessionCtx.supervisor = supervisor
	c.mu.Unlock()

	view := &View{Record: record, Snapshot: *snapshot}

	if kind, ok := session.KindForType(record.Type); ok {
		view.ChannelLive = c.connectChannel(ctx, kind, record.ID, generation)
	}

	if record.Type == session.TypePhotoShare {
		view.GalleryFiles = snapshot.Files
		c.populateGallery(ctx, record.ID, snapshot.Files, generation)
	}

	if record.Type == session.TypeQuickPoll && snapshot.ResultsShown {
		view.ShowResults = true
		results, err := c.fetchResults(ctx, record.ID, snapshot.Questions)
		if err != nil {
			c.logger.Warn("Failed to fetch poll results on open",
				logger.String("session_id", record.ID),
				logger.Error(err))
		} else {
			view.Results = results
		}
	}

	supervisor.Arm()

	// Arming past the deadline expires synchronously; report that instead
	// of handing back a dead view
	if supervisor.State() == ttl.StateExpired {
		return nil, authority.ErrNotFound
	}

	c.logger.Info("Session activated",
		logger.String("session_id", record.ID),
		logger.String("type", string(record.Type)),
		logger.Time("expires_at", record.ExpiresAt))
	return view, nil
}

// connectChannel opens the realtime channel for the session. Connection
// failure downgrades the session to local-only interaction; it is not an
// error the caller sees.
func (c *Client) connectChannel(ctx context.Context, kind session.ChannelKind, id string, generation uint64) bool {
	wsURL := c.authority.ChannelURL(kind, id)
	handlers := realtime.Handlers{
		OnChat: func(ev realtime.ChatEvent) {
			if !c.isCurrent(id, generation) {
				return
			}
			if c.events.OnChat != nil {
				c.events.OnChat(id, ev)
			}
		},
		OnDraw: func(ev realtime.DrawEvent) {
			if !c.isCurrent(id, generation) {
				return
			}
			if c.events.OnDraw != nil {
				c.events.OnDraw(id, ev)
			}
		},
		OnClose: func(err error) {
			if err == nil || !c.isCurrent(id, generation) {
				return
			}
			if c.events.OnChannelDown != nil {
				c.events.OnChannelDown(id, err)
			}
		},
	}

	if _, err := c.channels.Open(ctx, wsURL, kind, id, handlers); err != nil {
		c.logger.Warn("Realtime channel unavailable, continuing local-only",
			logger.String("session_id", id),
			logger.Error(err))
		if c.events.OnChannelDown != nil {
			c.events.OnChannelDown(id, err)
		}
		return false
	}
	return true
}

func (c *Client) populateGallery(ctx context.Context, id string, files []string, generation uint64) {
	started := c.guard.Populate(ctx, id, files, assets.Callbacks{
		OnLoaded: func(filename string, data []byte) {
			if !c.isCurrent(id, generation) {
				return
			}
			if c.events.OnAssetLoaded != nil {
				c.events.OnAssetLoaded(id, filename, data)
			}
		},
		OnFailed: func(filename string, err error) {
			if !c.isCurrent(id, generation) {
				return
			}
			if c.events.OnAssetFailed != nil {
				c.events.OnAssetFailed(id, filename, err)
			}
		},
	})
	if !started {
		c.logger.Debug("Gallery population already in flight",
			logger.String("session_id", id))
	}
}

// ListActiveSessions returns all locally known, unexpired sessions
func (c *Client) ListActiveSessions() ([]session.Record, error) {
	return c.storage.GetActive(time.Now())
}

// PruneCache drops expired sessions from the local cache and reports how
// many were removed
func (c *Client) PruneCache() (int64, error) {
	return c.storage.PruneExpired(time.Now())
}

// DeleteStoredSession removes a session from the local cache. It does not
// touch the server; the session may still be live for other participants.
func (c *Client) DeleteStoredSession(id string) error {
	c.mu.Lock()
	isDisplayed := c.current != nil && c.current.record.ID == id
	c.mu.Unlock()

	if isDisplayed {
		c.ExitSession()
	}
	return c.storage.Remove(id)
}

// SendChatMessage sends a chat message on the live channel. Best-effort:
// without an open chat channel the message is dropped silently.
func (c *Client) SendChatMessage(text string) {
	ch := c.channels.Current()
	if ch == nil || ch.Kind() != session.KindChat {
		return
	}
	ch.SendChat(text, "")
}

// SendDrawSegment sends one whiteboard path segment, same drop rule as
// SendChatMessage.
func (c *Client) SendDrawSegment(x, y float64) {
	ch := c.channels.Current()
	if ch == nil || ch.Kind() != session.KindWhiteboard {
		return
	}
	ch.SendDraw(x, y)
}

// SubmitPollResponse validates the answer vector client-side, submits it,
// and fetches full results when this submission reveals them.
func (c *Client) SubmitPollResponse(ctx context.Context, id string, answers []poll.Answer) (*PollOutcome, error) {
	questions, err := c.pollQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := poll.ValidateAnswers(answers, len(questions)); err != nil {
		return nil, err
	}

	state, err := c.authority.SubmitPoll(ctx, id, answers)
	if err != nil {
		if errors.Is(err, authority.ErrNotFound) {
			c.evict(id)
		}
		return nil, err
	}

	outcome := &PollOutcome{State: *state}
	if state.ResultsShown {
		results, err := c.fetchResults(ctx, id, questions)
		if err != nil {
			c.logger.Warn("Results revealed but fetch failed",
				logger.String("session_id", id),
				logger.Error(err))
		} else {
			outcome.Results = results
		}
	}
	return outcome, nil
}

func (c *Client) pollQuestions(ctx context.Context, id string) ([]string, error) {
	record, ok, err := c.storage.Get(id)
	if err == nil && ok && len(record.Metadata.Questions) > 0 {
		return record.Metadata.Questions, nil
	}

	snapshot, err := c.authority.Open(ctx, session.TypeQuickPoll, id)
	if err != nil {
		if errors.Is(err, authority.ErrNotFound) {
			c.evict(id)
		}
		return nil, err
	}
	return snapshot.Questions, nil
}

func (c *Client) fetchResults(ctx context.Context, id string, questions []string) ([]poll.QuestionResult, error) {
	results, err := c.authority.FetchPollResults(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(results.Questions) > 0 {
		questions = results.Questions
	}
	return poll.ComputeResults(questions, results.Responses), nil
}

// ExitSession tears down the displayed session without evicting it from
// the cache: the user may rejoin while it is still live.
func (c *Client) ExitSession() {
	c.teardownCurrent()
}

// CurrentSession returns the displayed session record, if any
func (c *Client) CurrentSession() (session.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return session.Record{}, false
	}
	return c.current.record, true
}

func (c *Client) isCurrent(id string, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.record.ID == id && c.current.generation == generation
}

// handleExpiry runs the expiry transition: close the channel, evict the
// record, reset the gallery guard, notify, and fall back to idle.
func (c *Client) handleExpiry(id string, generation uint64) {
	if !c.isCurrent(id, generation) {
		// A stale timer for a superseded session; its record was already
		// handled by whoever replaced it
		return
	}

	c.logger.Info("Displayed session expired", logger.String("session_id", id))

	c.channels.CloseCurrent()
	c.guard.Reset(id)
	c.evict(id)

	c.mu.Lock()
	if c.current != nil && c.current.record.ID == id && c.current.generation == generation {
		c.current = nil
	}
	c.mu.Unlock()

	if c.events.OnExpired != nil {
		c.events.OnExpired(id)
	}
}

// teardownCurrent dismantles the displayed session context: countdown,
// channel, and gallery guard. Cache entry is left alone.
func (c *Client) teardownCurrent() {
	c.mu.Lock()
	current := c.current
	c.current = nil
	c.mu.Unlock()

	if current == nil {
		return
	}

	if current.supervisor != nil {
		current.supervisor.Stop()
	}
	c.channels.CloseCurrent()
	c.guard.Reset(current.record.ID)
}

// evict removes a dead session from the cache. Local removal failures are
// logged, never surfaced: the server has already forgotten the session.
func (c *Client) evict(id string) {
	if err := c.storage.Remove(id); err != nil {
		c.logger.Warn("Failed to evict session from cache",
			logger.String("session_id", id),
			logger.Error(err))
	}
}

func validateCreateParams(t session.Type, params authority.CreateParams) error {
	switch t {
	case session.TypePhotoShare:
		if len(params.Files) == 0 {
			return &session.ValidationError{Reason: "select at least one photo"}
		}
		if len(params.Files) > 10 {
			return &session.ValidationError{Reason: "maximum 10 photos allowed"}
		}
	case session.TypeChatRoom:
		if params.RoomName == "" {
			return &session.ValidationError{Reason: "room name is required"}
		}
	case session.TypeQuickPoll:
		return poll.ValidateQuestions(params.Questions, params.MinResponses)
	}
	return nil
}
