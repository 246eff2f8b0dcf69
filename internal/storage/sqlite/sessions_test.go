package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/pkg/logger"
)

func newTestStorage(t *testing.T) *SessionStorage {
	t.Helper()
	storage, err := NewSessionStorage(filepath.Join(t.TempDir(), "sessions.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestPutAndGet(t *testing.T) {
	storage := newTestStorage(t)

	rec := session.Record{
		ID:        "abc-123",
		Type:      session.TypeChatRoom,
		ExpiresAt: time.Now().UTC().Add(20 * time.Minute),
		Metadata:  session.Metadata{RoomName: "standup"},
	}
	require.NoError(t, storage.Put(rec))

	got, found, err := storage.Get("abc-123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, session.TypeChatRoom, got.Type)
	assert.Equal(t, "standup", got.Metadata.RoomName)
	assert.WithinDuration(t, rec.ExpiresAt, got.ExpiresAt, time.Millisecond)
	assert.False(t, got.SavedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	storage := newTestStorage(t)

	_, found, err := storage.Get("no-such-id")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutReplacesWholeRecord(t *testing.T) {
	storage := newTestStorage(t)

	first := session.Record{
		ID:        "poll-1",
		Type:      session.TypeQuickPoll,
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
		Metadata:  session.Metadata{Questions: []string{"lunch?"}, MinResponses: 2},
	}
	require.NoError(t, storage.Put(first))

	second := first
	second.ExpiresAt = first.ExpiresAt.Add(5 * time.Minute)
	second.Metadata = session.Metadata{Questions: []string{"lunch?", "coffee?"}, MinResponses: 3}
	require.NoError(t, storage.Put(second))

	got, found, err := storage.Get("poll-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"lunch?", "coffee?"}, got.Metadata.Questions)
	assert.Equal(t, 3, got.Metadata.MinResponses)
	assert.WithinDuration(t, second.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func TestPutValidation(t *testing.T) {
	storage := newTestStorage(t)

	err := storage.Put(session.Record{Type: session.TypeChatRoom, ExpiresAt: time.Now()})
	assert.Error(t, err)

	err = storage.Put(session.Record{ID: "x", Type: session.Type("bogus"), ExpiresAt: time.Now()})
	assert.Error(t, err)
}

func TestGetActiveExcludesExpired(t *testing.T) {
	storage := newTestStorage(t)
	now := time.Now().UTC()

	require.NoError(t, storage.Put(session.Record{
		ID: "live", Type: session.TypeWhiteboard, ExpiresAt: now.Add(time.Minute),
	}))
	require.NoError(t, storage.Put(session.Record{
		ID: "dead", Type: session.TypeWhiteboard, ExpiresAt: now.Add(-time.Second),
	}))
	require.NoError(t, storage.Put(session.Record{
		ID: "boundary", Type: session.TypeWhiteboard, ExpiresAt: now,
	}))

	active, err := storage.GetActive(now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ID)
}

func TestListByType(t *testing.T) {
	storage := newTestStorage(t)
	exp := time.Now().UTC().Add(time.Minute)

	require.NoError(t, storage.Put(session.Record{ID: "a", Type: session.TypeChatRoom, ExpiresAt: exp}))
	require.NoError(t, storage.Put(session.Record{ID: "b", Type: session.TypePhotoShare, ExpiresAt: exp}))
	require.NoError(t, storage.Put(session.Record{ID: "c", Type: session.TypeChatRoom, ExpiresAt: exp}))

	chats, err := storage.ListByType(session.TypeChatRoom, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, chats, 2)
	for _, rec := range chats {
		assert.Equal(t, session.TypeChatRoom, rec.Type)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	storage := newTestStorage(t)

	require.NoError(t, storage.Put(session.Record{
		ID: "gone", Type: session.TypeChatRoom, ExpiresAt: time.Now().UTC().Add(time.Minute),
	}))
	require.NoError(t, storage.Remove("gone"))
	require.NoError(t, storage.Remove("gone"))
	require.NoError(t, storage.Remove("never-existed"))

	_, found, err := storage.Get("gone")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPruneExpired(t *testing.T) {
	storage := newTestStorage(t)
	now := time.Now().UTC()

	require.NoError(t, storage.Put(session.Record{ID: "old-1", Type: session.TypeChatRoom, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, storage.Put(session.Record{ID: "old-2", Type: session.TypeQuickPoll, ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, storage.Put(session.Record{ID: "fresh", Type: session.TypeChatRoom, ExpiresAt: now.Add(time.Hour)}))

	n, err := storage.PruneExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, found, err := storage.Get("fresh")
	require.NoError(t, err)
	assert.True(t, found)

	// repeat prune removes nothing new
	n, err = storage.PruneExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
