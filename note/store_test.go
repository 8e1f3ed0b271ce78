package note

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnotes/quill/errors"
	qtesting "github.com/quillnotes/quill/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(qtesting.CreateTestDB(t))
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)

	n := New("u1", "groceries", "milk", []string{"home", "errands"})
	require.NoError(t, s.Put(n))

	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.TempID, got.TempID)
	assert.Equal(t, "groceries", got.Title)
	assert.Equal(t, []string{"errands", "home"}, got.Tags)
	assert.Equal(t, StatusPending, got.SyncStatus)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestPutBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	n := New("u1", "t", "v1", nil)
	require.NoError(t, s.Put(n))
	first := n.UpdatedAt

	n.Content = "v2"
	n.UpdatedAt = first - 1000 // Put refreshes the edit timestamp
	require.NoError(t, s.Put(n))

	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.UpdatedAt, first)
	assert.Equal(t, "v2", got.Content)
}

func TestReplacePreservesTimestamps(t *testing.T) {
	s := newTestStore(t)

	n := New("u1", "t", "v1", nil)
	require.NoError(t, s.Put(n))

	// Replace writes server state verbatim, including an older updatedAt
	n.Content = "server version"
	n.UpdatedAt = 12345
	require.NoError(t, s.Replace(n))

	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got.UpdatedAt)
	assert.Equal(t, "server version", got.Content)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	n := New("u1", "t", "", nil)
	require.NoError(t, s.Put(n))
	require.NoError(t, s.Delete(n.ID))

	_, err := s.Get(n.ID)
	assert.True(t, errors.IsNotFoundError(err))

	assert.True(t, errors.IsNotFoundError(s.Delete(n.ID)))
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)

	a := New("u1", "a", "", nil)
	b := New("u1", "b", "", nil)
	c := New("u2", "c", "", nil)
	for _, n := range []*LocalNote{a, b, c} {
		require.NoError(t, s.Put(n))
	}
	require.NoError(t, s.SetSyncStatus(a.ID, StatusSynced))

	notes, err := s.List(Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	notes, err = s.List(Filter{UserID: "u1", SyncStatus: StatusPending})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, b.ID, notes[0].ID)

	notes, err = s.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, notes, 3)
}

func TestSetSyncStatus(t *testing.T) {
	s := newTestStore(t)

	n := New("u1", "t", "", nil)
	require.NoError(t, s.Put(n))
	require.NoError(t, s.SetSyncStatus(n.ID, StatusSyncing))

	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSyncing, got.SyncStatus)

	assert.True(t, errors.IsNotFoundError(s.SetSyncStatus("missing", StatusSynced)))
}

func TestRemapID(t *testing.T) {
	s := newTestStore(t)

	n := New("u1", "t", "", nil)
	tempID := n.ID
	require.NoError(t, s.Put(n))

	require.NoError(t, s.RemapID(tempID, "srv_42"))

	_, err := s.Get(tempID)
	assert.True(t, errors.IsNotFoundError(err))

	got, err := s.Get("srv_42")
	require.NoError(t, err)
	assert.Empty(t, got.TempID)
	assert.False(t, got.IsTemp())
	assert.Equal(t, "t", got.Title)

	assert.True(t, errors.IsNotFoundError(s.RemapID("tmp_nope", "srv_43")))
}
