package session

import (
	"fmt"
	"time"
)

// TTL is the fixed server-side lifetime of every session, used as a
// fallback when a server response omits the expiry
const TTL = 20 * time.Minute

// Type identifies the kind of shared session
type Type string

const (
	TypePhotoShare Type = "photo_share"
	TypeChatRoom   Type = "chat_room"
	TypeWhiteboard Type = "whiteboard"
	TypeQuickPoll  Type = "quick_poll"
)

// ParseType validates a raw session type string
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypePhotoShare, TypeChatRoom, TypeWhiteboard, TypeQuickPoll:
		return Type(raw), nil
	}
	return "", fmt.Errorf("unknown session type: %q", raw)
}

// Valid reports whether t is one of the four known session types
func (t Type) Valid() bool {
	_, err := ParseType(string(t))
	return err == nil
}

// APIPath returns the URL path segment used by the server for this type
func (t Type) APIPath() string {
	switch t {
	case TypePhotoShare:
		return "photo-share"
	case TypeChatRoom:
		return "chat-room"
	case TypeWhiteboard:
		return "whiteboard"
	case TypeQuickPoll:
		return "quick-poll"
	}
	return string(t)
}

// ChannelKind identifies the realtime stream flavor for a session type
type ChannelKind string

const (
	KindChat       ChannelKind = "chat"
	KindWhiteboard ChannelKind = "whiteboard"
)

// KindForType returns the realtime channel kind for a session type, and
// whether the type has a realtime channel at all
func KindForType(t Type) (ChannelKind, bool) {
	switch t {
	case TypeChatRoom:
		return KindChat, true
	case TypeWhiteboard:
		return KindWhiteboard, true
	}
	return "", false
}

// Metadata is the type-specific local display summary for a session.
// It is never authoritative; the server snapshot replaces it on every open.
type Metadata struct {
	Files        []string `json:"files,omitempty"`         // photo share: processed filenames
	RoomName     string   `json:"room_name,omitempty"`     // chat room
	Questions    []string `json:"questions,omitempty"`     // quick poll
	MinResponses int      `json:"min_responses,omitempty"` // quick poll quorum threshold
}

// Record is one locally known session. Records are replaced wholesale,
// never field-patched.
type Record struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
	Metadata  Metadata  `json:"metadata"`
	SavedAt   time.Time `json:"saved_at"`
}

// Active reports whether the record is still live by the local clock
func (r Record) Active(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Remaining returns the time left before local expiry, never negative
func (r Record) Remaining(now time.Time) time.Duration {
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot is the canonical session state fetched from the server on
// create or (re)open
type Snapshot struct {
	ID            string    `json:"session_id"`
	Type          Type      `json:"type"`
	ExpiresAt     time.Time `json:"expires_at"`
	Files         []string  `json:"files,omitempty"`
	RoomName      string    `json:"room_name,omitempty"`
	Questions     []string  `json:"questions,omitempty"`
	MinResponses  int       `json:"min_responses,omitempty"`
	ResponseCount int       `json:"response_count,omitempty"`
	ResultsShown  bool      `json:"results_shown,omitempty"`
}

// ToRecord converts a server snapshot into a cacheable local record
func (s *Snapshot) ToRecord() Record {
	return Record{
		ID:        s.ID,
		Type:      s.Type,
		ExpiresAt: s.ExpiresAt,
		Metadata: Metadata{
			Files:        s.Files,
			RoomName:     s.RoomName,
			Questions:    s.Questions,
			MinResponses: s.MinResponses,
		},
	}
}
