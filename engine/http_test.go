package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/queue"
)

func testOp(opType queue.Type, noteID string) *queue.Operation {
	return queue.New(opType, noteID, "", json.RawMessage(`{"title":"t"}`), time.Now().UnixMilli())
}

func TestHTTPCreateNote(t *testing.T) {
	var gotOpID, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/notes", r.URL.Path)
		gotOpID = r.Header.Get("X-Operation-ID")
		gotAuth = r.Header.Get("Authorization")

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(CreateResult{ID: "srv_42", UpdatedAt: 1234})
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "tok", 5*time.Second, nil)
	op := testOp(queue.TypeCreate, "tmp_a")

	result, err := remote.CreateNote(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, "srv_42", result.ID)
	assert.Equal(t, int64(1234), result.UpdatedAt)
	assert.Equal(t, op.ID, gotOpID)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestHTTPCreateAlreadyApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Replayed operation ID: server answers with the note it already made
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"note": {"id": "srv_7", "updated_at": 999}}`))
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	result, err := remote.CreateNote(context.Background(), testOp(queue.TypeCreate, "tmp_a"))
	require.NoError(t, err)
	assert.Equal(t, "srv_7", result.ID)
}

func TestHTTPUpdateConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/notes/srv_1", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"note": {"id": "srv_1", "title": "server copy", "updated_at": 9999}}`))
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	err := remote.UpdateNote(context.Background(), testOp(queue.TypeUpdate, "srv_1"), false)

	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.NotNil(t, conflict.Remote)
	assert.Equal(t, "server copy", conflict.Remote.Title)
	assert.Equal(t, int64(9999), conflict.Remote.UpdatedAt)
}

func TestHTTPUpdateSendsBaseVersion(t *testing.T) {
	var gotBase string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBase = r.Header.Get("X-Base-Updated-At")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	op := testOp(queue.TypeUpdate, "srv_1")
	op.BaseUpdatedAt = 1111

	require.NoError(t, remote.UpdateNote(context.Background(), op, false))
	assert.Equal(t, "1111", gotBase)
}

func TestHTTPDeleteSendsBaseVersion(t *testing.T) {
	var gotBase string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBase = r.Header.Get("X-Base-Updated-At")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	op := testOp(queue.TypeDelete, "srv_1")
	op.BaseUpdatedAt = 2222

	require.NoError(t, remote.DeleteNote(context.Background(), op))
	assert.Equal(t, "2222", gotBase)
}

func TestHTTPUpdateDeletedOnServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	err := remote.UpdateNote(context.Background(), testOp(queue.TypeUpdate, "srv_1"), false)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Nil(t, conflict.Remote)
}

func TestHTTPForceHeader(t *testing.T) {
	var gotForce string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForce = r.Header.Get("X-Force-Overwrite")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	require.NoError(t, remote.UpdateNote(context.Background(), testOp(queue.TypeUpdate, "srv_1"), true))
	assert.Equal(t, "true", gotForce)
}

func TestHTTPDeleteAlreadyGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
	assert.NoError(t, remote.DeleteNote(context.Background(), testOp(queue.TypeDelete, "srv_1")))
}

func TestHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"request timeout", http.StatusRequestTimeout, true},
		{"bad request", http.StatusBadRequest, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			remote := NewHTTPRemote(srv.URL, "", 5*time.Second, nil)
			err := remote.UpdateNote(context.Background(), testOp(queue.TypeUpdate, "srv_1"), false)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestHTTPTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	remote := NewHTTPRemote(srv.URL, "", time.Second, nil)
	err := remote.UpdateNote(context.Background(), testOp(queue.TypeUpdate, "srv_1"), false)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestHTTPPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", time.Second, nil)
	assert.NoError(t, remote.Ping(context.Background()))

	healthy = false
	assert.Error(t, remote.Ping(context.Background()))
}
