package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, raw := range []string{"photo_share", "chat_room", "whiteboard", "quick_poll"} {
		typ, err := ParseType(raw)
		require.NoError(t, err)
		assert.True(t, typ.Valid())
	}

	_, err := ParseType("karaoke")
	assert.Error(t, err)
	assert.False(t, Type("karaoke").Valid())
	assert.False(t, Type("").Valid())
}

func TestAPIPath(t *testing.T) {
	assert.Equal(t, "photo-share", TypePhotoShare.APIPath())
	assert.Equal(t, "chat-room", TypeChatRoom.APIPath())
	assert.Equal(t, "whiteboard", TypeWhiteboard.APIPath())
	assert.Equal(t, "quick-poll", TypeQuickPoll.APIPath())
}

func TestKindForType(t *testing.T) {
	kind, ok := KindForType(TypeChatRoom)
	require.True(t, ok)
	assert.Equal(t, KindChat, kind)

	kind, ok = KindForType(TypeWhiteboard)
	require.True(t, ok)
	assert.Equal(t, KindWhiteboard, kind)

	_, ok = KindForType(TypePhotoShare)
	assert.False(t, ok)
	_, ok = KindForType(TypeQuickPoll)
	assert.False(t, ok)
}

func TestRecordActiveAndRemaining(t *testing.T) {
	now := time.Now().UTC()
	rec := Record{ExpiresAt: now.Add(5 * time.Minute)}

	assert.True(t, rec.Active(now))
	assert.Equal(t, 5*time.Minute, rec.Remaining(now))

	assert.False(t, rec.Active(now.Add(5*time.Minute)))
	assert.Equal(t, time.Duration(0), rec.Remaining(now.Add(time.Hour)))
}

func TestSnapshotToRecord(t *testing.T) {
	exp := time.Now().UTC().Add(TTL)
	snap := Snapshot{
		ID:           "sess-1",
		Type:         TypeQuickPoll,
		ExpiresAt:    exp,
		Questions:    []string{"lunch?"},
		MinResponses: 2,
	}

	rec := snap.ToRecord()
	assert.Equal(t, "sess-1", rec.ID)
	assert.Equal(t, TypeQuickPoll, rec.Type)
	assert.Equal(t, exp, rec.ExpiresAt)
	assert.Equal(t, []string{"lunch?"}, rec.Metadata.Questions)
	assert.Equal(t, 2, rec.Metadata.MinResponses)
}
