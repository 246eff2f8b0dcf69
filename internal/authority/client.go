package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luup-life/luup/internal/poll"
	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/pkg/logger"
)

// ErrNotFound indicates the server denies knowledge of a session id. It is
// never retryable: callers evict the local record and surface a notice.
var ErrNotFound = errors.New("session not found or expired")

// Client resolves session liveness and fetches canonical session state from
// the server. The local cache always defers to answers from this client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new session authority client
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("authority-client"),
	}
}

// BaseURL returns the configured server base URL (no trailing slash)
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ChannelURL returns the websocket endpoint for a session's realtime channel
func (c *Client) ChannelURL(kind session.ChannelKind, id string) string {
	ws := c.baseURL
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return fmt.Sprintf("%s/ws/%s/%s", ws, kind, url.PathEscape(id))
}

// Resolve reports whether the session id is still live for the given type.
// Any transport failure or non-success response uniformly means not alive;
// Resolve never returns an error.
func (c *Client) Resolve(ctx context.Context, t session.Type, id string) bool {
	snapshot, err := c.Open(ctx, t, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Debug("Resolve treating transport failure as not alive",
				logger.String("session_id", id),
				logger.Error(err))
		}
		return false
	}
	return snapshot != nil
}

// Open fetches the canonical session state for (re)join. Returns
// ErrNotFound when the server does not know the session; any other error
// is transient.
func (c *Client) Open(ctx context.Context, t session.Type, id string) (*session.Snapshot, error) {
	apiURL := fmt.Sprintf("%s/%s/%s", c.baseURL, t.APIPath(), url.PathEscape(id))

	body, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	snapshot, err := decodeSnapshot(body, t)
	if err != nil {
		return nil, err
	}
	snapshot.ID = id

	c.logger.Debug("Opened session",
		logger.String("session_id", id),
		logger.String("type", string(t)),
		logger.Time("expires_at", snapshot.ExpiresAt))
	return snapshot, nil
}

// CreateParams carries the type-specific creation input
type CreateParams struct {
	RoomName     string   `json:"room_name,omitempty"`
	Files        []string `json:"files,omitempty"`
	Questions    []string `json:"questions,omitempty"`
	MinResponses int      `json:"min_responses,omitempty"`
}

// Create asks the server to allocate a new session. The server issues the
// id; the client never generates ids itself.
func (c *Client) Create(ctx context.Context, t session.Type, params CreateParams) (*session.Snapshot, error) {
	apiURL := fmt.Sprintf("%s/api/%s/create", c.baseURL, t.APIPath())

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Error("Session creation failed",
			logger.Int("status_code", resp.StatusCode),
			logger.String("response_body", string(bodyBytes)))
		return nil, fmt.Errorf("create returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read create response: %w", err)
	}

	snapshot, err := decodeSnapshot(body, t)
	if err != nil {
		return nil, err
	}
	if snapshot.ID == "" {
		return nil, fmt.Errorf("create response missing session id")
	}

	c.logger.Info("Created session",
		logger.String("session_id", snapshot.ID),
		logger.String("type", string(t)),
		logger.Time("expires_at", snapshot.ExpiresAt))
	return snapshot, nil
}

// SubmitPoll posts an ordered answer vector and returns the updated tally
// state. A server-side rejection of an already-revealed poll surfaces as
// ErrNotFound-class behavior for the caller to message.
func (c *Client) SubmitPoll(ctx context.Context, id string, answers []poll.Answer) (*poll.SubmitState, error) {
	apiURL := fmt.Sprintf("%s/api/quick-poll/%s/submit", c.baseURL, url.PathEscape(id))

	payload, err := json.Marshal(map[string]any{"responses": answers})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal poll submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute submit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("submit returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var state poll.SubmitState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	return &state, nil
}

// PollResults holds the full revealed poll data
type PollResults struct {
	Questions []string        `json:"questions"`
	Responses [][]poll.Answer `json:"responses"`
}

// FetchPollResults fetches the full question/response data. Only valid once
// the server reports results_shown.
func (c *Client) FetchPollResults(ctx context.Context, id string) (*PollResults, error) {
	apiURL := fmt.Sprintf("%s/api/quick-poll/%s/results", c.baseURL, url.PathEscape(id))

	body, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	var results PollResults
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode poll results: %w", err)
	}
	return &results, nil
}

// PhotoManifest returns the filenames belonging to a photo share session
func (c *Client) PhotoManifest(ctx context.Context, id string) ([]string, error) {
	snapshot, err := c.Open(ctx, session.TypePhotoShare, id)
	if err != nil {
		return nil, err
	}
	return snapshot.Files, nil
}

// FetchPhoto downloads one session-scoped photo asset
func (c *Client) FetchPhoto(ctx context.Context, id, filename string) ([]byte, error) {
	apiURL := fmt.Sprintf("%s/photo-share/%s/download/%s",
		c.baseURL, url.PathEscape(id), url.PathEscape(filename))
	return c.get(ctx, apiURL)
}

// get performs a GET mapping 404/410 to ErrNotFound and everything else
// non-200 to a transient error
func (c *Client) get(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// snapshotWire is the on-the-wire session state shape
type snapshotWire struct {
	SessionID     string   `json:"session_id"`
	ExpiresAt     string   `json:"expires_at"`
	Files         []string `json:"files"`
	RoomName      string   `json:"room_name"`
	Questions     []string `json:"questions"`
	MinResponses  int      `json:"min_responses"`
	ResponseCount int      `json:"response_count"`
	ResultsShown  bool     `json:"results_shown"`
}

func decodeSnapshot(body []byte, t session.Type) (*session.Snapshot, error) {
	var wire snapshotWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}

	expiresAt := time.Now().UTC().Add(session.TTL)
	if wire.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, wire.ExpiresAt)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, wire.ExpiresAt)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		expiresAt = parsed
	}

	return &session.Snapshot{
		ID:            wire.SessionID,
		Type:          t,
		ExpiresAt:     expiresAt,
		Files:         wire.Files,
		RoomName:      wire.RoomName,
		Questions:     wire.Questions,
		MinResponses:  wire.MinResponses,
		ResponseCount: wire.ResponseCount,
		ResultsShown:  wire.ResultsShown,
	}, nil
}
