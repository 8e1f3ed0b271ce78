package note

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnotes/quill/errors"
	qtesting "github.com/quillnotes/quill/internal/testing"
	"github.com/quillnotes/quill/queue"
)

func newTestService(t *testing.T) (*Service, *queue.Queue) {
	t.Helper()
	db := qtesting.CreateTestDB(t)
	q := queue.NewQueue(db, queue.DefaultConfig())
	return NewService(db, NewStore(db), q, nil), q
}

func TestCreateQueuesOperation(t *testing.T) {
	svc, q := newTestService(t)

	n, err := svc.Create("u1", "groceries", "milk", []string{"home"})
	require.NoError(t, err)
	assert.True(t, n.IsTemp())

	ops, err := q.ListForNote(n.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, queue.TypeCreate, ops[0].Type)
	assert.Equal(t, n.TempID, ops[0].TempID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(ops[0].Payload, &payload))
	assert.Equal(t, "groceries", payload["title"])
	assert.Equal(t, "u1", payload["user_id"])
}

func TestCreateValidation(t *testing.T) {
	svc, q := newTestService(t)

	_, err := svc.Create("u1", "   ", "content", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = svc.Create("", "title", "", nil)
	require.Error(t, err)

	// Rejected mutations never reach the queue
	count, err := q.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateQueuesDelta(t *testing.T) {
	svc, q := newTestService(t)

	n, err := svc.Create("u1", "title", "old content", []string{"a"})
	require.NoError(t, err)

	newContent := "new content"
	updated, err := svc.Update(n.ID, Patch{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, "new content", updated.Content)
	assert.Equal(t, "title", updated.Title)

	ops, err := q.ListForNote(n.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, queue.TypeUpdate, ops[1].Type)

	// The payload carries only the changed field
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(ops[1].Payload, &payload))
	assert.Equal(t, "new content", payload["content"])
	_, hasTitle := payload["title"]
	assert.False(t, hasTitle)
}

func TestUpdateRecordsBaseVersion(t *testing.T) {
	svc, q := newTestService(t)

	n, err := svc.Create("u1", "title", "old content", nil)
	require.NoError(t, err)
	base := n.UpdatedAt

	newContent := "edited"
	updated, err := svc.Update(n.ID, Patch{Content: &newContent})
	require.NoError(t, err)

	// The operation carries the version the edit was derived from, not the
	// post-edit stamp
	ops, err := q.ListForNote(n.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, base, ops[1].BaseUpdatedAt)
	assert.LessOrEqual(t, ops[1].BaseUpdatedAt, updated.UpdatedAt)
	assert.Zero(t, ops[0].BaseUpdatedAt) // creates have no base
}

func TestUpdateEmptyPatch(t *testing.T) {
	svc, _ := newTestService(t)

	n, err := svc.Create("u1", "title", "", nil)
	require.NoError(t, err)

	_, err = svc.Update(n.ID, Patch{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestUpdateMissingNote(t *testing.T) {
	svc, _ := newTestService(t)

	title := "x"
	_, err := svc.Update("missing", Patch{Title: &title})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDeleteNeverSyncedDropsQueuedChain(t *testing.T) {
	svc, q := newTestService(t)

	n, err := svc.Create("u1", "title", "", nil)
	require.NoError(t, err)
	content := "edited"
	_, err = svc.Update(n.ID, Patch{Content: &content})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(n.ID))

	// Neither the create nor the follow-up update replays
	count, err := q.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = svc.Get(n.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDeleteSyncedNoteQueuesDelete(t *testing.T) {
	svc, q := newTestService(t)

	// Simulate a note the server already knows
	n := New("u1", "title", "", nil)
	n.ID = "srv_42"
	n.TempID = ""
	n.SyncStatus = StatusSynced
	require.NoError(t, svc.store.Put(n))

	require.NoError(t, svc.Delete("srv_42"))

	ops, err := q.ListForNote("srv_42")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, queue.TypeDelete, ops[0].Type)
	assert.Empty(t, ops[0].TempID)
	assert.Equal(t, n.UpdatedAt, ops[0].BaseUpdatedAt)

	// The record waits in the deleting state until the server acks; it is
	// hidden from listings but still addressable
	got, err := svc.Get("srv_42")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleting, got.SyncStatus)

	notes, err := svc.List(Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, notes)

	deleting, err := svc.List(Filter{SyncStatus: StatusDeleting})
	require.NoError(t, err)
	assert.Len(t, deleting, 1)
}

func TestQueueFullRollsBackLocalWrite(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	q := queue.NewQueue(db, queue.Config{Cap: 1, RetryCeiling: 5, Backoff: queue.DefaultBackoff()})
	svc := NewService(db, NewStore(db), q, nil)

	_, err := svc.Create("u1", "first", "", nil)
	require.NoError(t, err)

	_, err = svc.Create("u1", "second", "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsQueueFull(err))

	// The optimistic write and the queue entry commit together or not at all
	notes, err := svc.List(Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestGetRecordsAccess(t *testing.T) {
	svc, _ := newTestService(t)

	n, err := svc.Create("u1", "title", "", nil)
	require.NoError(t, err)

	got, err := svc.Get(n.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.LastAccessedAt, n.CreatedAt)
}
