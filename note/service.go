package note

import (
	"database/sql"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/queue"
)

// MaxTitleLength caps note titles. The server enforces the same limit;
// rejecting locally keeps invalid mutations out of the sync queue.
const MaxTitleLength = 500

// Service performs optimistic local writes: every mutation lands in the
// entity store and the sync queue inside one transaction, so the UI-visible
// state and the replay log can never disagree.
type Service struct {
	db     *sql.DB
	store  *Store
	queue  *queue.Queue
	logger *zap.SugaredLogger
}

// NewService creates a note service over the given store and sync queue
func NewService(db *sql.DB, store *Store, q *queue.Queue, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		db:     db,
		store:  store,
		queue:  q,
		logger: logger,
	}
}

// createPayload is the full entity snapshot a create operation uploads
type createPayload struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	UserID    string   `json:"user_id"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Patch holds the fields an update wants to change. Nil pointers mean
// "leave alone"; the queued payload carries only the changed fields so a
// replayed update never clobbers fields the user didn't touch.
type Patch struct {
	Title      *string   `json:"title,omitempty"`
	Content    *string   `json:"content,omitempty"`
	Summary    *string   `json:"summary,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	CategoryID *string   `json:"category_id,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Summary == nil &&
		p.Tags == nil && p.CategoryID == nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.NewValidationError("title must not be empty")
	}
	if len(title) > MaxTitleLength {
		return errors.NewValidationError("title exceeds maximum length")
	}
	return nil
}

// Create writes a new note under a temporary identity and queues the create
// for upload. The note is immediately visible and editable; its identity is
// remapped in place once the server assigns a permanent ID.
func (s *Service) Create(userID, title, content string, tags []string) (*LocalNote, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewValidationError("user ID must not be empty")
	}

	n := New(userID, title, content, tags)

	payload, err := json.Marshal(createPayload{
		Title:     n.Title,
		Content:   n.Content,
		Tags:      n.Tags,
		UserID:    n.UserID,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal create payload")
	}

	op := queue.New(queue.TypeCreate, n.ID, n.TempID, payload, n.UpdatedAt)

	if err := s.inTx(func(tx *sql.Tx) error {
		if err := s.store.PutTx(tx, n); err != nil {
			return err
		}
		return s.queue.EnqueueTx(tx, op)
	}); err != nil {
		return nil, err
	}

	s.logger.Debugw("note created", "note_id", n.ID, "operation_id", op.ID)
	return n, nil
}

// Update applies a partial edit and queues the delta. Edits to a note whose
// create is still queued are allowed; the queued chain preserves order.
func (s *Service) Update(id string, patch Patch) (*LocalNote, error) {
	if patch.IsEmpty() {
		return nil, errors.NewValidationError("update changes no fields")
	}
	if patch.Title != nil {
		if err := validateTitle(*patch.Title); err != nil {
			return nil, err
		}
	}

	n, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	// The version this edit was derived from, recorded before Touch stamps
	// the edit itself
	base := n.UpdatedAt

	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	if patch.Summary != nil {
		n.Summary = *patch.Summary
	}
	if patch.Tags != nil {
		n.Tags = NormalizeTags(*patch.Tags)
		patch.Tags = &n.Tags
	}
	if patch.CategoryID != nil {
		n.CategoryID = *patch.CategoryID
	}
	n.Touch()
	n.SyncStatus = StatusPending

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, errors.Wrap(err, "marshal update payload")
	}

	tempID := ""
	if n.IsTemp() {
		tempID = n.TempID
	}
	op := queue.New(queue.TypeUpdate, n.ID, tempID, payload, n.UpdatedAt)
	op.BaseUpdatedAt = base

	if err := s.inTx(func(tx *sql.Tx) error {
		if err := s.store.PutTx(tx, n); err != nil {
			return err
		}
		return s.queue.EnqueueTx(tx, op)
	}); err != nil {
		return nil, err
	}

	s.logger.Debugw("note updated", "note_id", n.ID, "operation_id", op.ID)
	return n, nil
}

// Delete removes a note locally. For a note the server has never seen, the
// queued create (and any follow-up edits) are dropped outright instead of
// uploading a create immediately followed by a delete. For a synced note, the
// record is marked deleting and hidden from listings; the row is physically
// removed only when the queued delete is acknowledged remotely, so a delete
// that later fails or conflicts still has a local version to surface.
func (s *Service) Delete(id string) error {
	n, err := s.store.Get(id)
	if err != nil {
		return err
	}

	if n.IsTemp() {
		if err := s.inTx(func(tx *sql.Tx) error {
			if err := s.store.DeleteTx(tx, n.ID); err != nil {
				return err
			}
			return s.queue.DeleteForNoteTx(tx, n.ID)
		}); err != nil {
			return err
		}
		s.logger.Debugw("unsynced note deleted, queued operations dropped", "note_id", n.ID)
		return nil
	}

	op := queue.New(queue.TypeDelete, n.ID, "", nil, NowMillis())
	op.BaseUpdatedAt = n.UpdatedAt

	if err := s.inTx(func(tx *sql.Tx) error {
		if err := s.store.SetSyncStatusTx(tx, n.ID, StatusDeleting); err != nil {
			return err
		}
		return s.queue.EnqueueTx(tx, op)
	}); err != nil {
		return err
	}

	s.logger.Debugw("note marked for deletion", "note_id", n.ID, "operation_id", op.ID)
	return nil
}

// Get returns a note and records the access time. A failure to persist the
// access timestamp is logged, not surfaced; reads should not fail over
// bookkeeping.
func (s *Service) Get(id string) (*LocalNote, error) {
	n, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	n.MarkAccessed()
	if _, err := s.db.Exec(
		`UPDATE notes SET last_accessed_at = ? WHERE id = ?`,
		n.LastAccessedAt, n.ID,
	); err != nil {
		s.logger.Warnw("failed to record note access", "note_id", n.ID, "error", err)
	}
	return n, nil
}

// List returns notes matching the filter
func (s *Service) List(f Filter) ([]*LocalNote, error) {
	return s.store.List(f)
}

func (s *Service) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.WrapStorage(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapStorage(err, "commit transaction")
	}
	return nil
}
