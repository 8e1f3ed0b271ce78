package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/note"
	"github.com/quillnotes/quill/queue"
)

// maxResponseBody caps how much of a response is read into memory
const maxResponseBody = 1 << 20

// HTTPRemote talks to the sync server over JSON/HTTP
type HTTPRemote struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *zap.SugaredLogger
}

// NewHTTPRemote creates a remote client for the given server
func NewHTTPRemote(baseURL, authToken string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPRemote {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPRemote{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger,
	}
}

// conflictBody is the server's 409 response: its current version of the
// entity, or null if it deleted the entity
type conflictBody struct {
	Note *note.LocalNote `json:"note"`
}

func (r *HTTPRemote) CreateNote(ctx context.Context, op *queue.Operation) (*CreateResult, error) {
	resp, body, err := r.do(ctx, http.MethodPost, "/api/notes", op, false)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var result CreateResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, errors.Wrap(err, "decode create response")
		}
		if result.ID == "" {
			return nil, errors.New("create response missing note id")
		}
		return &result, nil
	case http.StatusConflict:
		// The server already applied this create (replayed operation ID).
		// Adopt the existing identity instead of erroring.
		var cb conflictBody
		if err := json.Unmarshal(body, &cb); err == nil && cb.Note != nil {
			r.logger.Debugw("create already applied on server",
				"operation_id", op.ID,
				"server_id", cb.Note.ID)
			return &CreateResult{ID: cb.Note.ID, UpdatedAt: cb.Note.UpdatedAt}, nil
		}
		return nil, &ConflictError{NoteID: op.NoteID}
	default:
		return nil, r.statusError(resp.StatusCode, body, op)
	}
}

func (r *HTTPRemote) UpdateNote(ctx context.Context, op *queue.Operation, force bool) error {
	resp, body, err := r.do(ctx, http.MethodPatch, "/api/notes/"+op.NoteID, op, force)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		var cb conflictBody
		if err := json.Unmarshal(body, &cb); err != nil {
			return errors.Wrap(err, "decode conflict response")
		}
		return &ConflictError{NoteID: op.NoteID, Remote: cb.Note}
	case http.StatusNotFound, http.StatusGone:
		// Updating an entity the server deleted is a conflict, not an error
		return &ConflictError{NoteID: op.NoteID}
	default:
		return r.statusError(resp.StatusCode, body, op)
	}
}

func (r *HTTPRemote) DeleteNote(ctx context.Context, op *queue.Operation) error {
	resp, body, err := r.do(ctx, http.MethodDelete, "/api/notes/"+op.NoteID, op, false)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound, http.StatusGone:
		// Already gone is the outcome we wanted
		return nil
	case http.StatusConflict:
		var cb conflictBody
		if err := json.Unmarshal(body, &cb); err != nil {
			return errors.Wrap(err, "decode conflict response")
		}
		return &ConflictError{NoteID: op.NoteID, Remote: cb.Note}
	default:
		return r.statusError(resp.StatusCode, body, op)
	}
}

func (r *HTTPRemote) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/health", nil)
	if err != nil {
		return errors.Wrap(err, "build health request")
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrNetwork, "health check returned %d", resp.StatusCode)
	}
	return nil
}

// do sends one operation and returns the response with its body read. Only
// transport-level failures are returned as errors; status classification is
// the caller's job.
func (r *HTTPRemote) do(ctx context.Context, method, path string, op *queue.Operation, force bool) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if len(op.Payload) > 0 {
		reqBody = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build request")
	}

	req.Header.Set("Content-Type", "application/json")
	// The operation ID lets the server deduplicate replayed uploads
	req.Header.Set("X-Operation-ID", op.ID)
	// The base version lets the server detect divergence: a 409 comes back
	// when its current version is newer than the one this mutation edited
	if op.BaseUpdatedAt > 0 {
		req.Header.Set("X-Base-Updated-At", strconv.FormatInt(op.BaseUpdatedAt, 10))
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}
	if force {
		req.Header.Set("X-Force-Overwrite", "true")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS failures: all retryable
		return nil, nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return resp, body, nil
}

// statusError classifies non-conflict HTTP failures into the retryable /
// permanent split the queue depends on
func (r *HTTPRemote) statusError(status int, body []byte, op *queue.Operation) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return errors.Wrapf(errors.ErrNetwork, "server returned %d: %s", status, msg)
	case status == http.StatusBadRequest,
		status == http.StatusUnprocessableEntity:
		return errors.NewValidationError("server rejected operation %s: %d %s", op.ID, status, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		err := errors.Newf("server refused credentials: %d", status)
		return errors.WithHint(err, "check remote.auth_token in your configuration")
	default:
		return errors.Newf("unexpected server response %d: %s", status, msg)
	}
}
