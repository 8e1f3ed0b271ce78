package queue

import (
	"database/sql"
	"time"

	"github.com/quillnotes/quill/errors"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so store operations can run
// standalone or inside a caller-owned transaction (the engine commits
// entity remap + queue remap + ack as one unit).
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const operationColumns = `id, type, note_id, temp_id, payload, base_updated_at, ts, seq,
	retry_count, status, error, next_attempt_at, created_at, updated_at`

func insertOperation(q dbtx, op *Operation) error {
	tempID := sql.NullString{String: op.TempID, Valid: op.TempID != ""}
	payload := sql.NullString{String: string(op.Payload), Valid: len(op.Payload) > 0}

	query := `
		INSERT INTO sync_operations (` + operationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := q.Exec(query,
		op.ID, op.Type, op.NoteID, tempID, payload, op.BaseUpdatedAt, op.Timestamp, op.Seq,
		op.RetryCount, op.Status, op.Error, op.NextAttemptAt, op.CreatedAt, op.UpdatedAt,
	); err != nil {
		return errors.WrapStorage(err, "insert operation")
	}
	return nil
}

func getOperation(q dbtx, id string) (*Operation, error) {
	row := q.QueryRow(`SELECT `+operationColumns+` FROM sync_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("operation %s", id)
	}
	if err != nil {
		return nil, errors.WrapStorage(err, "get operation")
	}
	return op, nil
}

func updateOperation(q dbtx, op *Operation) error {
	tempID := sql.NullString{String: op.TempID, Valid: op.TempID != ""}
	payload := sql.NullString{String: string(op.Payload), Valid: len(op.Payload) > 0}

	query := `
		UPDATE sync_operations
		SET type = ?, note_id = ?, temp_id = ?, payload = ?, base_updated_at = ?,
		    retry_count = ?, status = ?, error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := q.Exec(query,
		op.Type, op.NoteID, tempID, payload, op.BaseUpdatedAt,
		op.RetryCount, op.Status, op.Error, op.NextAttemptAt, op.UpdatedAt,
		op.ID,
	)
	if err != nil {
		return errors.WrapStorage(err, "update operation")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStorage(err, "update operation")
	}
	if rows == 0 {
		return errors.NewNotFoundError("operation %s", op.ID)
	}
	return nil
}

func deleteOperation(q dbtx, id string) error {
	result, err := q.Exec(`DELETE FROM sync_operations WHERE id = ?`, id)
	if err != nil {
		return errors.WrapStorage(err, "delete operation")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStorage(err, "delete operation")
	}
	if rows == 0 {
		return errors.NewNotFoundError("operation %s", id)
	}
	return nil
}

// countOperations returns the number of operations currently in the log,
// regardless of status. The queue hard cap is measured against this.
func countOperations(q dbtx) (int, error) {
	var count int
	if err := q.QueryRow(`SELECT COUNT(*) FROM sync_operations`).Scan(&count); err != nil {
		return 0, errors.WrapStorage(err, "count operations")
	}
	return count, nil
}

func countByStatus(q dbtx, status Status) (int, error) {
	var count int
	if err := q.QueryRow(`SELECT COUNT(*) FROM sync_operations WHERE status = ?`, status).Scan(&count); err != nil {
		return 0, errors.WrapStorage(err, "count operations by status")
	}
	return count, nil
}

// nextSeq returns the next monotonic sequence number. Run inside the
// enqueue transaction so concurrent writers cannot collide.
func countForNote(q dbtx, noteID string) (int, error) {
	var count int
	err := q.QueryRow(`SELECT COUNT(*) FROM sync_operations WHERE note_id = ?`, noteID).Scan(&count)
	if err != nil {
		return 0, errors.WrapStorage(err, "count operations for note")
	}
	return count, nil
}

func nextSeq(q dbtx) (int64, error) {
	var seq int64
	if err := q.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM sync_operations`).Scan(&seq); err != nil {
		return 0, errors.WrapStorage(err, "next sequence")
	}
	return seq, nil
}

// lastSeq returns the highest assigned sequence number, 0 when the log is
// empty. Drain sessions snapshot it as a cutoff so operations enqueued
// mid-session wait for the next one.
func lastSeq(q dbtx) (int64, error) {
	var seq int64
	if err := q.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM sync_operations`).Scan(&seq); err != nil {
		return 0, errors.WrapStorage(err, "last sequence")
	}
	return seq, nil
}

// countBacklog counts operations awaiting sync at or below the cutoff
func countBacklog(q dbtx, maxSeq int64) (int, error) {
	var count int
	err := q.QueryRow(
		`SELECT COUNT(*) FROM sync_operations WHERE status IN (?, ?) AND seq <= ?`,
		StatusPending, StatusSyncing, maxSeq,
	).Scan(&count)
	if err != nil {
		return 0, errors.WrapStorage(err, "count session backlog")
	}
	return count, nil
}

// eligibleBatch selects the next ordered slice of pending operations whose
// backoff eligibility has passed and whose sequence is at or below maxSeq,
// skipping any operation whose entity has an earlier operation that is
// blocked (failed, suspended, in flight, or still backing off). Per-entity
// FIFO: a later delete must never be handed out before an earlier update for
// the same entity.
func eligibleBatch(q dbtx, now int64, maxSeq int64, max int) ([]*Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM sync_operations s
		WHERE s.status = ?
		  AND s.next_attempt_at <= ?
		  AND s.seq <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM sync_operations e
			WHERE e.note_id = s.note_id
			  AND (e.ts < s.ts OR (e.ts = s.ts AND e.seq < s.seq))
			  AND (e.status IN (?, ?, ?)
			       OR (e.status = ? AND e.next_attempt_at > ?))
		  )
		ORDER BY s.ts, s.seq
		LIMIT ?
	`
	rows, err := q.Query(query,
		StatusPending, now, maxSeq,
		StatusFailed, StatusSuspended, StatusSyncing,
		StatusPending, now,
		max,
	)
	if err != nil {
		return nil, errors.WrapStorage(err, "select eligible operations")
	}
	defer rows.Close()

	return scanOperations(rows, "eligible operations")
}

func listByStatus(q dbtx, status Status, limit int) ([]*Operation, error) {
	rows, err := q.Query(
		`SELECT `+operationColumns+` FROM sync_operations WHERE status = ? ORDER BY ts, seq LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, errors.WrapStorage(err, "list operations")
	}
	defer rows.Close()

	return scanOperations(rows, "operations")
}

func listForNote(q dbtx, noteID string) ([]*Operation, error) {
	rows, err := q.Query(
		`SELECT `+operationColumns+` FROM sync_operations WHERE note_id = ? ORDER BY ts, seq`,
		noteID,
	)
	if err != nil {
		return nil, errors.WrapStorage(err, "list operations for note")
	}
	defer rows.Close()

	return scanOperations(rows, "note operations")
}

// remapTempID rewrites entity references on every queued operation that
// still points at the temp identity.
func remapTempID(q dbtx, tempID, newID string) error {
	if _, err := q.Exec(
		`UPDATE sync_operations SET note_id = ?, temp_id = NULL, updated_at = ? WHERE temp_id = ? OR note_id = ?`,
		newID, time.Now().UnixMilli(), tempID, tempID,
	); err != nil {
		return errors.WrapStorage(err, "remap operation temp id")
	}
	return nil
}

// scanOperations is a helper that scans multiple operations from query rows
func scanOperations(rows *sql.Rows, context string) ([]*Operation, error) {
	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, errors.WrapStorage(err, "scan operation")
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorage(err, "iterate "+context)
	}
	return ops, nil
}

// scanTarget is satisfied by *sql.Row and *sql.Rows
type scanTarget interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row scanTarget) (*Operation, error) {
	var op Operation
	var tempID, payload sql.NullString
	var opType, status string

	if err := row.Scan(
		&op.ID, &opType, &op.NoteID, &tempID, &payload, &op.BaseUpdatedAt, &op.Timestamp, &op.Seq,
		&op.RetryCount, &status, &op.Error, &op.NextAttemptAt, &op.CreatedAt, &op.UpdatedAt,
	); err != nil {
		return nil, err
	}

	op.Type = Type(opType)
	op.Status = Status(status)
	op.TempID = tempID.String
	if payload.Valid {
		op.Payload = []byte(payload.String)
	}

	return &op, nil
}
