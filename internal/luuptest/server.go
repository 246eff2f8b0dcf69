// Package luuptest provides an in-process session server double speaking
// the same endpoint contract as the production server. It exists for
// package tests and the end-to-end test; it is not a deployable server.
package luuptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/luup-life/luup/internal/poll"
	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/pkg/logger"
)

// readGrace is how long past expiry reads still succeed, matching the
// production server's leniency. The client treats local expiry strictly
// regardless.
const readGrace = 2 * time.Minute

type serverSession struct {
	id           string
	typ          session.Type
	expiresAt    time.Time
	roomName     string
	files        map[string][]byte
	fileOrder    []string
	questions    []string
	minResponses int
	responses    [][]poll.Answer
	resultsShown bool
}

// Server is an in-memory session server bound to an httptest listener
type Server struct {
	ttl      time.Duration
	logger   *logger.Logger
	upgrader websocket.Upgrader
	http     *httptest.Server

	mu       sync.Mutex
	sessions map[string]*serverSession
	conns    map[string]map[*websocket.Conn]*sync.Mutex
}

// NewServer starts a session server double with the standard 20-minute TTL
func NewServer(log *logger.Logger) *Server {
	return NewServerWithTTL(log, session.TTL)
}

// NewServerWithTTL starts a server double with a custom session lifetime,
// letting tests exercise expiry without waiting 20 minutes
func NewServerWithTTL(log *logger.Logger, ttl time.Duration) *Server {
	s := &Server{
		ttl:      ttl,
		logger:   log.Named("luuptest"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		sessions: make(map[string]*serverSession),
		conns:    make(map[string]map[*websocket.Conn]*sync.Mutex),
	}

	r := chi.NewRouter()
	r.Post("/api/photo-share/create", s.handleCreate(session.TypePhotoShare))
	r.Post("/api/chat-room/create", s.handleCreate(session.TypeChatRoom))
	r.Post("/api/whiteboard/create", s.handleCreate(session.TypeWhiteboard))
	r.Post("/api/quick-poll/create", s.handleCreate(session.TypeQuickPoll))

	r.Get("/photo-share/{id}", s.handleOpen(session.TypePhotoShare))
	r.Get("/chat-room/{id}", s.handleOpen(session.TypeChatRoom))
	r.Get("/whiteboard/{id}", s.handleOpen(session.TypeWhiteboard))
	r.Get("/quick-poll/{id}", s.handleOpen(session.TypeQuickPoll))

	r.Post("/api/quick-poll/{id}/submit", s.handlePollSubmit)
	r.Get("/api/quick-poll/{id}/results", s.handlePollResults)

	r.Get("/photo-share/{id}/download/{filename}", s.handleDownload)

	r.Get("/ws/chat/{id}", s.handleWS)
	r.Get("/ws/whiteboard/{id}", s.handleWS)

	s.http = httptest.NewServer(r)
	return s
}

// URL returns the server base URL
func (s *Server) URL() string {
	return s.http.URL
}

// Close shuts the server down
func (s *Server) Close() {
	s.http.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.conns {
		for conn := range set {
			conn.Close()
		}
	}
	s.conns = make(map[string]map[*websocket.Conn]*sync.Mutex)
}

// ExpireSession forces a session's deadline into the past, beyond the read
// grace window
func (s *Server) ExpireSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.expiresAt = time.Now().UTC().Add(-readGrace - time.Minute)
	}
}

// SetPhoto installs or replaces the content of one photo asset
func (s *Server) SetPhoto(id, filename string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && sess.files != nil {
		if _, known := sess.files[filename]; !known {
			sess.fileOrder = append(sess.fileOrder, filename)
		}
		sess.files[filename] = data
	}
}

// get looks a session up, honoring the read grace window. Sessions past
// grace are dropped.
func (s *Server) get(id string, typ session.Type) *serverSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.typ != typ {
		return nil
	}
	if time.Now().UTC().After(sess.expiresAt.Add(readGrace)) {
		delete(s.sessions, id)
		return nil
	}
	return sess
}

type createRequest struct {
	RoomName     string   `json:"room_name"`
	Files        []string `json:"files"`
	Questions    []string `json:"questions"`
	MinResponses int      `json:"min_responses"`
}

func (s *Server) handleCreate(typ session.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		switch typ {
		case session.TypeChatRoom:
			if req.RoomName == "" {
				http.Error(w, "room name is required", http.StatusBadRequest)
				return
			}
		case session.TypeQuickPoll:
			if err := poll.ValidateQuestions(req.Questions, req.MinResponses); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		case session.TypePhotoShare:
			if len(req.Files) == 0 || len(req.Files) > 10 {
				http.Error(w, "between 1 and 10 photos required", http.StatusBadRequest)
				return
			}
		}

		sess := &serverSession{
			id:           uuid.NewString(),
			typ:          typ,
			expiresAt:    time.Now().UTC().Add(s.ttl),
			roomName:     req.RoomName,
			questions:    req.Questions,
			minResponses: req.MinResponses,
		}
		if typ == session.TypePhotoShare {
			sess.files = make(map[string][]byte, len(req.Files))
			for _, f := range req.Files {
				sess.files[f] = []byte("jpeg:" + f)
				sess.fileOrder = append(sess.fileOrder, f)
			}
		}

		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()

		s.logger.Debug("Session created",
			logger.String("session_id", sess.id),
			logger.String("type", string(typ)))
		s.writeSnapshot(w, sess)
	}
}

func (s *Server) handleOpen(typ session.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.get(chi.URLParam(r, "id"), typ)
		if sess == nil {
			http.Error(w, "session not found or expired", http.StatusNotFound)
			return
		}
		s.writeSnapshot(w, sess)
	}
}

func (s *Server) writeSnapshot(w http.ResponseWriter, sess *serverSession) {
	s.mu.Lock()
	payload := map[string]any{
		"session_id": sess.id,
		"expires_at": sess.expiresAt.Format(time.RFC3339Nano),
	}
	switch sess.typ {
	case session.TypePhotoShare:
		payload["files"] = append([]string(nil), sess.fileOrder...)
	case session.TypeChatRoom:
		payload["room_name"] = sess.roomName
	case session.TypeQuickPoll:
		payload["questions"] = sess.questions
		payload["min_responses"] = sess.minResponses
		payload["response_count"] = len(sess.responses)
		payload["results_shown"] = sess.resultsShown
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handlePollSubmit(w http.ResponseWriter, r *http.Request) {
	sess := s.get(chi.URLParam(r, "id"), session.TypeQuickPoll)
	if sess == nil {
		http.Error(w, "session not found or expired", http.StatusNotFound)
		return
	}

	var req struct {
		Responses []poll.Answer `json:"responses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.resultsShown {
		http.Error(w, "poll results have already been shown", http.StatusBadRequest)
		return
	}
	if len(req.Responses) != len(sess.questions) {
		http.Error(w, "number of responses must match number of questions", http.StatusBadRequest)
		return
	}

	sess.responses = append(sess.responses, req.Responses)
	sess.resultsShown = len(sess.responses) >= sess.minResponses

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(poll.SubmitState{
		ResponseCount: len(sess.responses),
		MinResponses:  sess.minResponses,
		ResultsShown:  sess.resultsShown,
	})
}

func (s *Server) handlePollResults(w http.ResponseWriter, r *http.Request) {
	sess := s.get(chi.URLParam(r, "id"), session.TypeQuickPoll)
	if sess == nil {
		http.Error(w, "session not found or expired", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !sess.resultsShown {
		http.Error(w, "results not yet available", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"questions": sess.questions,
		"responses": sess.responses,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := s.get(chi.URLParam(r, "id"), session.TypePhotoShare)
	if sess == nil {
		http.Error(w, "session not found or expired", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	data, ok := sess.files[chi.URLParam(r, "filename")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleWS upgrades a realtime connection and broadcasts every inbound
// frame to all of the session's connections, in arrival order
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", logger.Error(err))
		return
	}

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	if s.conns[id] == nil {
		s.conns[id] = make(map[*websocket.Conn]*sync.Mutex)
	}
	s.conns[id][conn] = writeMu
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns[id], conn)
		if len(s.conns[id]) == 0 {
			delete(s.conns, id)
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.broadcast(id, data)
	}
}

func (s *Server) broadcast(id string, data []byte) {
	s.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns[id]))
	for conn, mu := range s.conns[id] {
		targets[conn] = mu
	}
	s.mu.Unlock()

	for conn, mu := range targets {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			s.logger.Debug("Broadcast write failed",
				logger.String("session_id", id),
				logger.Error(err))
		}
	}
}
