package engine

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/note"
	"github.com/quillnotes/quill/queue"
	"github.com/quillnotes/quill/resolver"
)

// ProgressChannelBufferSize is the buffer size for progress subscriber channels
const ProgressChannelBufferSize = 100

// Progress is a point-in-time snapshot of a drain session. Total is fixed
// when the session starts; operations enqueued mid-session belong to the
// next one.
type Progress struct {
	Current          int     `json:"current"`
	Total            int     `json:"total"`
	Percentage       float64 `json:"percentage"`
	CurrentOperation string  `json:"current_operation,omitempty"`
}

// Result summarizes a finished drain session
type Result struct {
	Total     int  `json:"total"`
	Synced    int  `json:"synced"`
	Retrying  int  `json:"retrying"`
	Failed    int  `json:"failed"`
	Suspended int  `json:"suspended"`
	Skipped   int  `json:"skipped"`
	Cancelled bool `json:"cancelled"`
}

// Options tunes a sync engine
type Options struct {
	BatchSize         int // Operations fetched per queue round (default: 20)
	RequestsPerMinute int // Upload rate limit, 0 = unlimited
}

// Engine drains the sync queue against the remote server.
//
// One drain session runs at a time; starting a second is a no-op. Entities
// are processed in per-entity FIFO order, and a failure on one entity never
// blocks progress on others.
type Engine struct {
	db       *sql.DB
	notes    *note.Store
	queue    *queue.Queue
	remote   RemoteAPI
	resolver *resolver.Resolver
	logger   *zap.SugaredLogger
	limiter  *rate.Limiter

	batchSize int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	subMu       sync.RWMutex
	subscribers []chan Progress
}

// New creates a sync engine
func New(db *sql.DB, notes *note.Store, q *queue.Queue, remote RemoteAPI, res *resolver.Resolver, logger *zap.SugaredLogger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if res == nil {
		res = resolver.New(resolver.DefaultPolicy, logger)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
	}
	return &Engine{
		db:        db,
		notes:     notes,
		queue:     q,
		remote:    remote,
		resolver:  res,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, 1),
		batchSize: batchSize,
	}
}

// IsSyncInProgress reports whether a drain session is running
func (e *Engine) IsSyncInProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartSync launches a background drain session. Returns false if one is
// already running.
func (e *Engine) StartSync() bool {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.running = true
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		defer e.finishSession()
		result, err := e.drain(ctx)
		if err != nil {
			e.logger.Errorw("Sync session aborted", "error", err)
			return
		}
		e.logger.Infow("Sync session finished",
			"synced", result.Synced,
			"failed", result.Failed,
			"suspended", result.Suspended,
			"cancelled", result.Cancelled)
	}()
	return true
}

// StopSync cancels the running drain session and waits for it to unwind.
// In-flight operations finish; unstarted ones return to pending untouched.
func (e *Engine) StopSync() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Sync runs one synchronous drain session. Returns an error if a session is
// already running.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("sync already in progress")
	}
	e.running = true
	e.mu.Unlock()
	defer e.finishSession()

	return e.drain(ctx)
}

func (e *Engine) finishSession() {
	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()
}

type opOutcome int

const (
	outcomeSynced opOutcome = iota
	outcomeRetry
	outcomeFailed
	outcomeSuspended
)

// drain is the session loop: fetch eligible batches, upload in order, stop
// when the queue has nothing eligible left or the context is cancelled.
// The session is bounded by a sequence cutoff taken at start; operations
// enqueued mid-session wait for the next one.
func (e *Engine) drain(ctx context.Context) (*Result, error) {
	total, cutoff, err := e.queue.SessionSnapshot()
	if err != nil {
		return nil, err
	}

	result := &Result{Total: total}
	processed := 0
	// Entities that failed mid-batch; their already-dequeued successors go
	// back to pending instead of uploading out of order
	skip := make(map[string]bool)

	e.logger.Infow("Sync session starting", "pending", total)

	for {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		batch, err := e.queue.DequeueBatch(e.batchSize, cutoff)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, op := range batch {
			if ctx.Err() != nil {
				if rqErr := e.queue.Requeue(op.ID); rqErr != nil {
					e.logger.Warnw("Failed to requeue after cancel", "operation_id", op.ID, "error", rqErr)
				}
				result.Cancelled = true
				continue
			}
			if skip[op.NoteID] {
				if rqErr := e.queue.Requeue(op.ID); rqErr != nil {
					e.logger.Warnw("Failed to requeue blocked operation", "operation_id", op.ID, "error", rqErr)
				}
				result.Skipped++
				continue
			}

			if err := e.limiter.Wait(ctx); err != nil {
				e.queue.Requeue(op.ID)
				result.Cancelled = true
				continue
			}

			// An earlier create in this batch may have remapped the
			// entity's identity under us
			if fresh, err := e.queue.Get(op.ID); err == nil {
				op = fresh
			}

			processed++
			progressed = true
			e.publishProgress(processed, total, op.ID)

			switch e.apply(ctx, op) {
			case outcomeSynced:
				result.Synced++
			case outcomeRetry:
				result.Retrying++
				skip[op.NoteID] = true
			case outcomeFailed:
				result.Failed++
				skip[op.NoteID] = true
			case outcomeSuspended:
				result.Suspended++
				skip[op.NoteID] = true
			}
		}

		if result.Cancelled {
			break
		}
		// Every operation left is behind a blocked entity; refetching
		// would spin forever
		if !progressed {
			break
		}
	}

	return result, nil
}

// apply uploads one operation and commits its outcome
func (e *Engine) apply(ctx context.Context, op *queue.Operation) opOutcome {
	var err error
	switch op.Type {
	case queue.TypeCreate:
		var created *CreateResult
		created, err = e.remote.CreateNote(ctx, op)
		if err == nil {
			return e.finalizeCreate(op, created)
		}
	case queue.TypeUpdate:
		err = e.remote.UpdateNote(ctx, op, false)
		if err == nil {
			return e.finalizeUpdate(op)
		}
	case queue.TypeDelete:
		err = e.remote.DeleteNote(ctx, op)
		if err == nil {
			return e.finalizeDelete(op)
		}
	default:
		err = errors.Newf("unknown operation type %q", op.Type)
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return e.resolveConflict(ctx, op, conflict)
	}

	return e.recordFailure(op, err)
}

// recordFailure routes a non-conflict upload error: retryable errors go
// back through backoff, permanent ones park the operation
func (e *Engine) recordFailure(op *queue.Operation, err error) opOutcome {
	if errors.IsRetryable(err) {
		e.logger.Warnw("Upload failed, will retry",
			"operation_id", op.ID,
			"note_id", op.NoteID,
			"retry_count", op.RetryCount,
			"error", err)
		if nErr := e.queue.Nack(op.ID, err); nErr != nil {
			e.logger.Errorw("Failed to record retry", "operation_id", op.ID, "error", nErr)
		}
		return outcomeRetry
	}

	e.logger.Errorw("Upload rejected permanently",
		"operation_id", op.ID,
		"note_id", op.NoteID,
		"error", err)
	if fErr := e.queue.Fail(op.ID, err); fErr != nil {
		e.logger.Errorw("Failed to park operation", "operation_id", op.ID, "error", fErr)
	}
	e.markNoteFailed(op.NoteID)
	return outcomeFailed
}

// finalizeCreate commits the server-assigned identity: the note row, every
// queued operation referencing the temp identity, and the create's removal
// all change in one transaction. No observer ever sees the entity under
// both identities or neither.
func (e *Engine) finalizeCreate(op *queue.Operation, created *CreateResult) opOutcome {
	tempKey := op.TempID
	if tempKey == "" {
		tempKey = op.NoteID
	}

	err := e.inTx(func(tx *sql.Tx) error {
		if err := e.notes.RemapIDTx(tx, tempKey, created.ID); err != nil {
			return err
		}
		if err := e.queue.RemapTempIDTx(tx, tempKey, created.ID); err != nil {
			return err
		}
		if err := e.queue.AckTx(tx, op.ID); err != nil {
			return err
		}
		remaining, err := e.queue.CountForNoteTx(tx, created.ID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return e.notes.SetSyncStatusTx(tx, created.ID, note.StatusSynced)
		}
		return nil
	})
	if err != nil {
		e.logger.Errorw("Failed to commit create result",
			"operation_id", op.ID,
			"temp_id", tempKey,
			"server_id", created.ID,
			"error", err)
		e.queue.Requeue(op.ID)
		return outcomeRetry
	}

	e.logger.Infow("Note created on server", "temp_id", tempKey, "server_id", created.ID)
	return outcomeSynced
}

func (e *Engine) finalizeUpdate(op *queue.Operation) opOutcome {
	err := e.inTx(func(tx *sql.Tx) error {
		if err := e.queue.AckTx(tx, op.ID); err != nil {
			return err
		}
		remaining, err := e.queue.CountForNoteTx(tx, op.NoteID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			// The note may have been deleted locally mid-session
			if err := e.notes.SetSyncStatusTx(tx, op.NoteID, note.StatusSynced); err != nil && !errors.IsNotFoundError(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Errorw("Failed to commit update result", "operation_id", op.ID, "error", err)
		e.queue.Requeue(op.ID)
		return outcomeRetry
	}
	return outcomeSynced
}

// finalizeDelete acks the operation and physically removes the local record
// it was holding in the deleting state. One transaction: the record never
// outlives its acknowledged delete.
func (e *Engine) finalizeDelete(op *queue.Operation) opOutcome {
	err := e.inTx(func(tx *sql.Tx) error {
		if err := e.queue.AckTx(tx, op.ID); err != nil {
			return err
		}
		if err := e.notes.DeleteTx(tx, op.NoteID); err != nil && !errors.IsNotFoundError(err) {
			return err
		}
		return nil
	})
	if err != nil {
		e.logger.Errorw("Failed to commit delete result", "operation_id", op.ID, "error", err)
		e.queue.Requeue(op.ID)
		return outcomeRetry
	}
	return outcomeSynced
}

// resolveConflict applies the configured policy to a version collision
func (e *Engine) resolveConflict(ctx context.Context, op *queue.Operation, conflict *ConflictError) opOutcome {
	// A 409 whose server version is not newer than the base this edit was
	// derived from is not a divergence; push the write through instead of
	// invoking policy.
	if op.Type == queue.TypeUpdate && conflict.Remote != nil && op.BaseUpdatedAt > 0 &&
		!resolver.Detect(op.BaseUpdatedAt, conflict.Remote.UpdatedAt) {
		e.logger.Debugw("Conflict reported against unchanged base, overwriting",
			"note_id", op.NoteID,
			"base_updated_at", op.BaseUpdatedAt)
		if err := e.remote.UpdateNote(ctx, op, true); err != nil {
			return e.recordFailure(op, err)
		}
		return e.finalizeUpdate(op)
	}

	outcome := e.resolver.Resolve(op.NoteID, conflict.Remote, conflict.Error())

	switch outcome.Action {
	case resolver.ActionForceLocal:
		if err := e.remote.UpdateNote(ctx, op, true); err != nil {
			return e.recordFailure(op, err)
		}
		return e.finalizeUpdate(op)

	case resolver.ActionAdoptRemote:
		err := e.inTx(func(tx *sql.Tx) error {
			server := *outcome.Remote
			server.SyncStatus = note.StatusSynced
			if err := e.notes.ReplaceTx(tx, &server); err != nil {
				return err
			}
			return e.queue.AckTx(tx, op.ID)
		})
		if err != nil {
			e.logger.Errorw("Failed to adopt remote version", "operation_id", op.ID, "error", err)
			e.queue.Requeue(op.ID)
			return outcomeRetry
		}
		e.logger.Infow("Adopted server version", "note_id", op.NoteID)
		return outcomeSynced

	case resolver.ActionDeleteLocal:
		err := e.inTx(func(tx *sql.Tx) error {
			if err := e.notes.DeleteTx(tx, op.NoteID); err != nil && !errors.IsNotFoundError(err) {
				return err
			}
			// Successors would replay against an entity neither side has
			return e.queue.DeleteForNoteTx(tx, op.NoteID)
		})
		if err != nil {
			e.logger.Errorw("Failed to apply remote delete", "operation_id", op.ID, "error", err)
			e.queue.Requeue(op.ID)
			return outcomeRetry
		}
		e.logger.Infow("Dropped note deleted on server", "note_id", op.NoteID)
		return outcomeSynced

	case resolver.ActionRecreate:
		return e.recreate(op)

	default: // resolver.ActionSuspend
		// Record the server version the conflict reported so a manual merge
		// uploads with that version as its base
		var remoteUpdatedAt int64
		if outcome.Remote != nil {
			remoteUpdatedAt = outcome.Remote.UpdatedAt
		}
		if err := e.queue.Suspend(op.ID, outcome.Reason, remoteUpdatedAt); err != nil {
			e.logger.Errorw("Failed to suspend operation", "operation_id", op.ID, "error", err)
			return outcomeRetry
		}
		e.markNoteFailed(op.NoteID)
		e.logger.Infow("Operation suspended for manual merge",
			"operation_id", op.ID,
			"note_id", op.NoteID)
		return outcomeSuspended
	}
}

// recreate replaces an update whose target the server deleted with a fresh
// create carrying the full local note
func (e *Engine) recreate(op *queue.Operation) opOutcome {
	local, err := e.notes.Get(op.NoteID)
	if err != nil {
		// Nothing local to recreate either; drop the orphaned chain
		if errors.IsNotFoundError(err) {
			e.inTx(func(tx *sql.Tx) error {
				return e.queue.DeleteForNoteTx(tx, op.NoteID)
			})
			return outcomeSynced
		}
		e.queue.Requeue(op.ID)
		return outcomeRetry
	}

	payload, err := marshalNotePayload(local)
	if err != nil {
		return e.recordFailure(op, err)
	}

	createOp := queue.New(queue.TypeCreate, local.ID, local.ID, payload, note.NowMillis())
	err = e.inTx(func(tx *sql.Tx) error {
		if err := e.queue.AckTx(tx, op.ID); err != nil {
			return err
		}
		return e.queue.EnqueueTx(tx, createOp)
	})
	if err != nil {
		e.logger.Errorw("Failed to requeue note as create", "note_id", op.NoteID, "error", err)
		e.queue.Requeue(op.ID)
		return outcomeRetry
	}

	e.logger.Infow("Re-uploading note deleted on server", "note_id", op.NoteID)
	return outcomeSynced
}

func (e *Engine) markNoteFailed(noteID string) {
	if err := e.notes.SetSyncStatus(noteID, note.StatusFailed); err != nil && !errors.IsNotFoundError(err) {
		e.logger.Warnw("Failed to mark note failed", "note_id", noteID, "error", err)
	}
}

func (e *Engine) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := e.db.Begin()
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

// Subscribe returns a channel that receives progress snapshots.
// The caller is responsible for calling Unsubscribe when done.
func (e *Engine) Subscribe() chan Progress {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	ch := make(chan Progress, ProgressChannelBufferSize)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Unsubscribe removes a progress subscriber channel
func (e *Engine) Unsubscribe(ch chan Progress) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

func (e *Engine) publishProgress(current, total int, operationID string) {
	pct := 100.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100.0
		if pct > 100 {
			pct = 100
		}
	}
	p := Progress{
		Current:          current,
		Total:            total,
		Percentage:       pct,
		CurrentOperation: operationID,
	}

	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- p:
		default:
			// Slow subscriber, drop the snapshot
		}
	}
}
