package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quillnotes/quill/errors"
)

const (
	// DefaultCap is the default hard cap on queued operations. The cap
	// defends against runaway local mutation loops; hitting it surfaces
	// ErrQueueFull as a backpressure signal.
	DefaultCap = 10000
	// DefaultRetryCeiling is the number of retries after the first attempt
	// before an operation is parked as failed for manual intervention. A
	// ceiling of 5 means six upload attempts in total.
	DefaultRetryCeiling = 5
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Config controls queue limits and retry behavior
type Config struct {
	Cap          int
	RetryCeiling int
	Backoff      Backoff
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		Cap:          DefaultCap,
		RetryCeiling: DefaultRetryCeiling,
		Backoff:      DefaultBackoff(),
	}
}

// Queue is the durable, ordered log of pending mutations.
//
// Operations for the same entity are never reordered relative to each
// other; the queue may interleave operations across entities, but
// per-entity FIFO is mandatory.
type Queue struct {
	db          *sql.DB
	cfg         Config
	mu          sync.RWMutex
	subscribers []chan *Operation // Channels to notify of operation updates
}

// NewQueue creates a sync queue over the given database
func NewQueue(db *sql.DB, cfg Config) *Queue {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	return &Queue{
		db:          db,
		cfg:         cfg,
		subscribers: make([]chan *Operation, 0),
	}
}

// RetryCeiling returns the configured retry ceiling
func (q *Queue) RetryCeiling() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cfg.RetryCeiling
}

// Reconfigure replaces the queue limits and retry tuning. Applied by config
// hot-reload; already-queued operations pick up the new backoff and ceiling
// on their next attempt.
func (q *Queue) Reconfigure(cfg Config) {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = cfg
}

// Enqueue appends an operation, assigning a monotonically increasing
// sequence so operations with colliding timestamps keep a total order.
// Fails with ErrQueueFull at the configured hard cap.
func (q *Queue) Enqueue(op *Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return errors.WrapStorage(err, "begin enqueue")
	}
	if err := q.enqueueIn(tx, op); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapStorage(err, "commit enqueue")
	}

	q.notifySubscribers(op)
	return nil
}

// EnqueueTx appends an operation inside a caller-owned transaction, so a
// local optimistic write and its queue entry commit atomically. Subscribers
// are not notified; the transaction may still roll back.
func (q *Queue) EnqueueTx(tx *sql.Tx, op *Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.enqueueIn(tx, op)
}

func (q *Queue) enqueueIn(tx *sql.Tx, op *Operation) error {
	count, err := countOperations(tx)
	if err != nil {
		return err
	}
	if count >= q.cfg.Cap {
		err := errors.Wrapf(errors.ErrQueueFull, "cap %d reached", q.cfg.Cap)
		return errors.WithHint(err, "drain the sync queue before accepting new mutations")
	}

	seq, err := nextSeq(tx)
	if err != nil {
		return err
	}
	op.Seq = seq

	return insertOperation(tx, op)
}

// SessionSnapshot returns the drain cutoff (the highest assigned sequence)
// and the number of operations awaiting sync at or below it. A drain session
// takes the snapshot once at start: operations enqueued after it belong to
// the next session and never inflate this session's progress.
func (q *Queue) SessionSnapshot() (total int, maxSeq int64, err error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	maxSeq, err = lastSeq(q.db)
	if err != nil {
		return 0, 0, err
	}
	total, err = countBacklog(q.db, maxSeq)
	if err != nil {
		return 0, 0, err
	}
	return total, maxSeq, nil
}

// DequeueBatch returns the next ordered slice of pending, eligible
// operations with sequence at or below maxSeq, marking them syncing.
// Pass maxSeq <= 0 for no cutoff. Operations are not removed; removal
// happens on explicit Ack.
func (q *Queue) DequeueBatch(max int, maxSeq int64) ([]*Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if maxSeq <= 0 {
		maxSeq = math.MaxInt64
	}

	tx, err := q.db.Begin()
	if err != nil {
		return nil, errors.WrapStorage(err, "begin dequeue")
	}

	now := time.Now().UnixMilli()
	ops, err := eligibleBatch(tx, now, maxSeq, max)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, op := range ops {
		op.Status = StatusSyncing
		op.touch()
		if err := updateOperation(tx, op); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapStorage(err, "commit dequeue")
	}

	for _, op := range ops {
		q.notifySubscribers(op)
	}
	return ops, nil
}

// Ack removes a successfully applied operation from the log
func (q *Queue) Ack(operationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return deleteOperation(q.db, operationID)
}

// AckTx is Ack inside a caller-owned transaction (used with RemapTempIDTx
// and the entity store's RemapIDTx to commit a create's result atomically)
func (q *Queue) AckTx(tx *sql.Tx, operationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return deleteOperation(tx, operationID)
}

// Nack records a failed attempt. Below the retry ceiling the operation
// returns to pending with an exponential-backoff eligibility timestamp;
// past the ceiling it is parked as failed and excluded from auto-retry.
func (q *Queue) Nack(operationID string, opErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "nack operation %s", operationID)
	}

	op.RetryCount++
	op.Error = opErr.Error()
	op.touch()

	if op.RetryCount > q.cfg.RetryCeiling {
		op.Status = StatusFailed
		op.NextAttemptAt = 0
	} else {
		op.Status = StatusPending
		delay := q.cfg.Backoff.Delay(op.RetryCount)
		op.NextAttemptAt = time.Now().Add(delay).UnixMilli()
	}

	if err := updateOperation(q.db, op); err != nil {
		return err
	}

	q.notifySubscribers(op)
	return nil
}

// Fail parks an operation as failed immediately, bypassing the retry
// ceiling. Used for non-retryable errors (validation, permanent auth).
func (q *Queue) Fail(operationID string, opErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "fail operation %s", operationID)
	}

	op.Status = StatusFailed
	op.Error = opErr.Error()
	op.NextAttemptAt = 0
	op.touch()

	if err := updateOperation(q.db, op); err != nil {
		return err
	}

	q.notifySubscribers(op)
	return nil
}

// Suspend parks an operation pending a human-driven merge resolution.
// Suspended operations block their entity's later operations but never
// block unrelated entities. remoteUpdatedAt, when positive, is the server
// version the conflict reported; the merged payload supplied by Resolve
// uploads with that version as its base.
func (q *Queue) Suspend(operationID string, reason string, remoteUpdatedAt int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "suspend operation %s", operationID)
	}

	op.Status = StatusSuspended
	op.Error = reason
	if remoteUpdatedAt > 0 {
		op.BaseUpdatedAt = remoteUpdatedAt
	}
	op.touch()

	if err := updateOperation(q.db, op); err != nil {
		return err
	}

	q.notifySubscribers(op)
	return nil
}

// Requeue returns a syncing operation to pending without counting a retry.
// Used when a drain session is cancelled or skips an operation whose entity
// is blocked by an earlier failure.
func (q *Queue) Requeue(operationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "requeue operation %s", operationID)
	}

	op.Status = StatusPending
	op.touch()

	if err := updateOperation(q.db, op); err != nil {
		return err
	}

	q.notifySubscribers(op)
	return nil
}

// Retry returns a failed or suspended operation to pending with a fresh
// retry budget. This is the explicit user action for parked operations.
func (q *Queue) Retry(operationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "retry operation %s", operationID)
	}

	if op.Status != StatusFailed && op.Status != StatusSuspended {
		return errors.Newf("operation %s is not parked (status: %s)", operationID, op.Status)
	}

	op.Status = StatusPending
	op.RetryCount = 0
	op.Error = ""
	op.NextAttemptAt = 0
	op.touch()

	if err := updateOperation(q.db, op); err != nil {
		return err
	}

	q.notifySubscribers(op)
	return nil
}

// Discard removes a parked operation without applying it. This is the
// explicit user action that abandons a failed or conflicted mutation.
func (q *Queue) Discard(operationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "discard operation %s", operationID)
	}
	if op.Status != StatusFailed && op.Status != StatusSuspended {
		return errors.Newf("operation %s is not parked (status: %s)", operationID, op.Status)
	}

	return deleteOperation(q.db, operationID)
}

// Resolve supplies a human-merged payload for a suspended operation and
// returns it to pending so the next session uploads the merged version.
func (q *Queue) Resolve(operationID string, merged json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := getOperation(q.db, operationID)
	if err != nil {
		return errors.Wrapf(err, "resolve operation %s", operationID)
	}
	if op.Status != StatusSuspended {
		return errors.Newf("operation %s is not suspended (status: %s)", operationID, op.Status)
	}

	op.Payload = merged
	op.Status = StatusPending
	op.RetryCount = 0
	op.Error = ""
	op.NextAttemptAt = 0
	op.touch()

	if err := updateOperation(q.db, op); err != nil {
		return err
	}

	q.notifySubscribers(op)
	return nil
}

// RemapTempID rewrites noteId/tempId on every queued operation referencing
// the temp identity. Must run atomically with the entity store's remap; use
// RemapTempIDTx inside the shared transaction.
func (q *Queue) RemapTempID(tempID, newID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return remapTempID(q.db, tempID, newID)
}

// RemapTempIDTx is RemapTempID inside a caller-owned transaction
func (q *Queue) RemapTempIDTx(tx *sql.Tx, tempID, newID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return remapTempID(tx, tempID, newID)
}

// Get retrieves an operation by ID
func (q *Queue) Get(operationID string) (*Operation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return getOperation(q.db, operationID)
}

// List returns operations with the given status in entity order
func (q *Queue) List(status Status, limit int) ([]*Operation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return listByStatus(q.db, status, limit)
}

// CountForNote returns the number of queued operations for one entity
func (q *Queue) CountForNote(noteID string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return countForNote(q.db, noteID)
}

// CountForNoteTx is CountForNote inside a caller-owned transaction
func (q *Queue) CountForNoteTx(tx *sql.Tx, noteID string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return countForNote(tx, noteID)
}

// ListForNote returns all queued operations for one entity in replay order
func (q *Queue) ListForNote(noteID string) ([]*Operation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return listForNote(q.db, noteID)
}

// DeleteForNote removes every queued operation for an entity. Used when a
// never-synced note is deleted locally: the pending create (and any
// follow-up edits) simply disappear instead of replaying.
func (q *Queue) DeleteForNote(noteID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.deleteForNoteIn(q.db, noteID)
}

// DeleteForNoteTx is DeleteForNote inside a caller-owned transaction
func (q *Queue) DeleteForNoteTx(tx *sql.Tx, noteID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.deleteForNoteIn(tx, noteID)
}

func (q *Queue) deleteForNoteIn(d dbtx, noteID string) error {
	if _, err := d.Exec(`DELETE FROM sync_operations WHERE note_id = ?`, noteID); err != nil {
		return errors.WrapStorage(err, "delete operations for note")
	}
	return nil
}

// PendingCount returns the number of operations awaiting sync (pending or
// already handed to a drain session)
func (q *Queue) PendingCount() (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending, err := countByStatus(q.db, StatusPending)
	if err != nil {
		return 0, err
	}
	syncing, err := countByStatus(q.db, StatusSyncing)
	if err != nil {
		return 0, err
	}
	return pending + syncing, nil
}

// Stats summarizes the queue by status
type Stats struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Failed    int `json:"failed"`
	Suspended int `json:"suspended"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*Stats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := &Stats{}
	for _, status := range []Status{StatusPending, StatusSyncing, StatusFailed, StatusSuspended} {
		count, err := countByStatus(q.db, status)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count %s operations", status)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusSyncing:
			stats.Syncing = count
		case StatusFailed:
			stats.Failed = count
		case StatusSuspended:
			stats.Suspended = count
		}
		stats.Total += count
	}
	return stats, nil
}

// Subscribe returns a channel that receives operation updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Operation, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method - callers should close it
// themselves after unsubscribing if needed.
func (q *Queue) Unsubscribe(ch chan *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends operation updates to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(op *Operation) {
	for _, ch := range q.subscribers {
		select {
		case ch <- op:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}

// String implements fmt.Stringer for log output
func (s *Stats) String() string {
	return fmt.Sprintf("pending:%d syncing:%d failed:%d suspended:%d total:%d",
		s.Pending, s.Syncing, s.Failed, s.Suspended, s.Total)
}
