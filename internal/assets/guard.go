package assets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luup-life/luup/pkg/logger"
)

// AssetState is the retrieval state of one asset within a gallery view
type AssetState int

const (
	StatePending AssetState = iota
	StateRetrying
	StateLoaded
	StateFailed
)

func (s AssetState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Status is a point-in-time snapshot of one asset's retrieval
type Status struct {
	State    AssetState
	Attempts int
	Err      error
}

// Fetcher retrieves one session-scoped binary asset
type Fetcher interface {
	FetchPhoto(ctx context.Context, sessionID, filename string) ([]byte, error)
}

// Callbacks deliver per-asset outcomes as they resolve
type Callbacks struct {
	OnLoaded func(filename string, data []byte)
	OnFailed func(filename string, err error)
}

// Guard populates a session's gallery with bounded-retry fetches. Populate
// is idempotent per session id: overlapping open flows (direct link racing
// an explicit join) trigger exactly one population. Each asset runs its own
// retry loop; one asset's failures never delay the others.
type Guard struct {
	fetcher     Fetcher
	maxRetries  int
	backoffStep time.Duration
	logger      *logger.Logger

	// sleep is swappable for tests
	sleep func(time.Duration)

	mu       sync.Mutex
	sessions map[string]*population
}

type population struct {
	assets map[string]*Status
	wg     sync.WaitGroup
}

// NewGuard creates an asset retrieval guard. maxRetries counts retries after
// the initial attempt; backoffStep is the linear backoff increment between
// attempts.
func NewGuard(fetcher Fetcher, maxRetries int, backoffStep time.Duration, log *logger.Logger) *Guard {
	return &Guard{
		fetcher:     fetcher,
		maxRetries:  maxRetries,
		backoffStep: backoffStep,
		logger:      log.Named("asset-guard"),
		sleep:       time.Sleep,
		sessions:    make(map[string]*population),
	}
}

// Populate starts gallery population for the session. Returns false when
// the session is already populated (or population is in flight), in which
// case the call is a no-op.
func (g *Guard) Populate(ctx context.Context, sessionID string, filenames []string, callbacks Callbacks) bool {
	g.mu.Lock()
	if _, exists := g.sessions[sessionID]; exists {
		g.mu.Unlock()
		g.logger.Debug("Gallery already populated, skipping",
			logger.String("session_id", sessionID))
		return false
	}

	pop := &population{assets: make(map[string]*Status, len(filenames))}
	for _, f := range filenames {
		pop.assets[f] = &Status{State: StatePending}
	}
	g.sessions[sessionID] = pop
	g.mu.Unlock()

	g.logger.Info("Populating gallery",
		logger.String("session_id", sessionID),
		logger.Int("asset_count", len(filenames)))

	for _, filename := range filenames {
		pop.wg.Add(1)
		go func(filename string) {
			defer pop.wg.Done()
			g.fetchAsset(ctx, sessionID, filename, pop, callbacks)
		}(filename)
	}
	return true
}

// fetchAsset runs the bounded-retry loop for a single asset
func (g *Guard) fetchAsset(ctx context.Context, sessionID, filename string, pop *population, callbacks Callbacks) {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			// Linearly increasing backoff between attempts
			backoff := time.Duration(attempt) * g.backoffStep
			g.setStatus(pop, filename, Status{State: StateRetrying, Attempts: attempt, Err: lastErr})
			g.logger.Info("Retrying asset fetch",
				logger.String("session_id", sessionID),
				logger.String("filename", filename),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			g.sleep(backoff)
		}

		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		data, err := g.fetcher.FetchPhoto(ctx, sessionID, filename)
		if err != nil {
			lastErr = err
			g.logger.Warn("Asset fetch failed, may retry",
				logger.String("session_id", sessionID),
				logger.String("filename", filename),
				logger.Error(err),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", g.maxRetries+1))
			continue
		}

		g.setStatus(pop, filename, Status{State: StateLoaded, Attempts: attempt + 1})
		if attempt > 0 {
			g.logger.Info("Asset fetched after retries",
				logger.String("session_id", sessionID),
				logger.String("filename", filename),
				logger.Int("attempts_needed", attempt+1))
		}
		if callbacks.OnLoaded != nil {
			callbacks.OnLoaded(filename, data)
		}
		return
	}

	// Retry budget exhausted: permanently failed for this view
	if lastErr == nil {
		lastErr = fmt.Errorf("asset fetch failed")
	}
	g.setStatus(pop, filename, Status{State: StateFailed, Attempts: g.maxRetries + 1, Err: lastErr})
	g.logger.Error("All attempts to fetch asset failed",
		logger.String("session_id", sessionID),
		logger.String("filename", filename),
		logger.Error(lastErr),
		logger.Int("max_attempts", g.maxRetries+1))
	if callbacks.OnFailed != nil {
		callbacks.OnFailed(filename, lastErr)
	}
}

func (g *Guard) setStatus(pop *population, filename string, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pop.assets[filename] = &status
}

// Status returns the retrieval status of one asset
func (g *Guard) Status(sessionID, filename string) (Status, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pop, ok := g.sessions[sessionID]
	if !ok {
		return Status{}, false
	}
	status, ok := pop.assets[filename]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Wait blocks until every in-flight fetch for the session has resolved.
// Returns immediately for unknown sessions.
func (g *Guard) Wait(sessionID string) {
	g.mu.Lock()
	pop, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	pop.wg.Wait()
}

// Reset forgets the population for a session, allowing a future Populate.
// Called on session exit or expiry.
func (g *Guard) Reset(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}
