// Package engine drains the sync queue against the remote server, remapping
// temp identities, resolving conflicts, and reporting progress.
package engine

import (
	"context"
	"fmt"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/note"
	"github.com/quillnotes/quill/queue"
)

// CreateResult is the server's answer to a successful create: the permanent
// identity and the server's version stamp.
type CreateResult struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
}

// ConflictError reports that the server holds a newer version of the entity
// than the one the mutation was based on. Remote is the server's version,
// or nil if the server deleted the entity.
type ConflictError struct {
	NoteID string
	Remote *note.LocalNote
}

func (e *ConflictError) Error() string {
	if e.Remote == nil {
		return fmt.Sprintf("note %s was deleted on the server", e.NoteID)
	}
	return fmt.Sprintf("note %s has a newer version on the server", e.NoteID)
}

// Unwrap makes errors.IsConflictError work on ConflictError
func (e *ConflictError) Unwrap() error {
	return errors.ErrConflict
}

// RemoteAPI is the upload surface of the sync server. Implementations must
// classify failures: retryable transport problems unwrap to ErrNetwork,
// permanent rejections to ErrValidation, version collisions to
// *ConflictError.
type RemoteAPI interface {
	// CreateNote uploads a create. A replayed create the server has already
	// applied (deduplicated by operation ID) returns the existing identity,
	// not an error.
	CreateNote(ctx context.Context, op *queue.Operation) (*CreateResult, error)

	// UpdateNote uploads a partial update. force overwrites the server
	// version even if it is newer.
	UpdateNote(ctx context.Context, op *queue.Operation, force bool) error

	// DeleteNote uploads a delete. Deleting an entity the server no longer
	// has is success, not an error.
	DeleteNote(ctx context.Context, op *queue.Operation) error

	// Ping probes server reachability
	Ping(ctx context.Context) error
}
