package note

import (
	"database/sql"

	"github.com/quillnotes/quill/errors"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so store operations can run
// standalone or inside a caller-owned transaction (identity remap must share
// a transaction with queue remapping).
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Store handles persistence of local notes
type Store struct {
	db *sql.DB
}

// NewStore creates a new local note store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const noteColumns = `id, temp_id, title, content, summary, tags, category_id, user_id,
	created_at, updated_at, last_accessed_at, sync_status`

// Get retrieves a note by identity (server-assigned or temp)
func (s *Store) Get(id string) (*LocalNote, error) {
	return getNote(s.db, id)
}

// GetTx is Get inside a caller-owned transaction
func (s *Store) GetTx(tx *sql.Tx, id string) (*LocalNote, error) {
	return getNote(tx, id)
}

func getNote(q dbtx, id string) (*LocalNote, error) {
	row := q.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("note %s", id)
	}
	if err != nil {
		return nil, errors.WrapStorage(err, "get note")
	}
	return n, nil
}

// Put upserts a note, setting UpdatedAt to the current logical time.
// SyncStatus is persisted as-is; the caller decides status transitions.
func (s *Store) Put(n *LocalNote) error {
	n.Touch()
	return putNote(s.db, n)
}

// PutTx is Put inside a caller-owned transaction
func (s *Store) PutTx(tx *sql.Tx, n *LocalNote) error {
	n.Touch()
	return putNote(tx, n)
}

// Replace upserts a note verbatim, without bumping UpdatedAt. Used when
// applying server state, whose timestamps are authoritative.
func (s *Store) Replace(n *LocalNote) error {
	return putNote(s.db, n)
}

// ReplaceTx is Replace inside a caller-owned transaction
func (s *Store) ReplaceTx(tx *sql.Tx, n *LocalNote) error {
	return putNote(tx, n)
}

func putNote(q dbtx, n *LocalNote) error {
	tagsJSON, err := MarshalTags(n.Tags)
	if err != nil {
		return errors.WrapStorage(err, "put note")
	}

	tempID := sql.NullString{String: n.TempID, Valid: n.TempID != ""}
	summary := sql.NullString{String: n.Summary, Valid: n.Summary != ""}
	categoryID := sql.NullString{String: n.CategoryID, Valid: n.CategoryID != ""}

	query := `
		INSERT INTO notes (` + noteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			temp_id = excluded.temp_id,
			title = excluded.title,
			content = excluded.content,
			summary = excluded.summary,
			tags = excluded.tags,
			category_id = excluded.category_id,
			user_id = excluded.user_id,
			updated_at = excluded.updated_at,
			last_accessed_at = excluded.last_accessed_at,
			sync_status = excluded.sync_status
	`

	if _, err := q.Exec(query,
		n.ID, tempID, n.Title, n.Content, summary, tagsJSON, categoryID, n.UserID,
		n.CreatedAt, n.UpdatedAt, n.LastAccessedAt, n.SyncStatus,
	); err != nil {
		return errors.WrapStorage(err, "put note")
	}
	return nil
}

// Delete physically removes a note. The caller is responsible for having
// first recorded a corresponding sync operation if the note was ever synced.
func (s *Store) Delete(id string) error {
	return deleteNote(s.db, id)
}

// DeleteTx is Delete inside a caller-owned transaction
func (s *Store) DeleteTx(tx *sql.Tx, id string) error {
	return deleteNote(tx, id)
}

func deleteNote(q dbtx, id string) error {
	result, err := q.Exec(`DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return errors.WrapStorage(err, "delete note")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStorage(err, "delete note")
	}
	if rows == 0 {
		return errors.NewNotFoundError("note %s", id)
	}
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	UserID     string
	SyncStatus SyncStatus
}

// List returns notes matching the filter, most recently updated first.
// Without an explicit SyncStatus filter, notes awaiting delete
// acknowledgement are excluded: the user already deleted them.
func (s *Store) List(f Filter) ([]*LocalNote, error) {
	query := `SELECT ` + noteColumns + ` FROM notes`
	var conds []string
	var args []interface{}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SyncStatus != "" {
		conds = append(conds, "sync_status = ?")
		args = append(args, f.SyncStatus)
	} else {
		conds = append(conds, "sync_status != ?")
		args = append(args, StatusDeleting)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.WrapStorage(err, "list notes")
	}
	defer rows.Close()

	var notes []*LocalNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, errors.WrapStorage(err, "scan note")
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorage(err, "iterate notes")
	}
	return notes, nil
}

// SetSyncStatus updates only the sync status of a note
func (s *Store) SetSyncStatus(id string, status SyncStatus) error {
	return setSyncStatus(s.db, id, status)
}

// SetSyncStatusTx is SetSyncStatus inside a caller-owned transaction
func (s *Store) SetSyncStatusTx(tx *sql.Tx, id string, status SyncStatus) error {
	return setSyncStatus(tx, id, status)
}

func setSyncStatus(q dbtx, id string, status SyncStatus) error {
	result, err := q.Exec(`UPDATE notes SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return errors.WrapStorage(err, "set sync status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStorage(err, "set sync status")
	}
	if rows == 0 {
		return errors.NewNotFoundError("note %s", id)
	}
	return nil
}

// RemapID atomically rewrites the primary key of one record from a temp
// identity to the server-assigned identity, clearing TempID. Run it via
// RemapIDTx in the same transaction as queue remapping so the entity is
// never unreachable under either key.
func (s *Store) RemapID(tempID, newID string) error {
	return remapID(s.db, tempID, newID)
}

// RemapIDTx is RemapID inside a caller-owned transaction
func (s *Store) RemapIDTx(tx *sql.Tx, tempID, newID string) error {
	return remapID(tx, tempID, newID)
}

func remapID(q dbtx, tempID, newID string) error {
	result, err := q.Exec(`UPDATE notes SET id = ?, temp_id = NULL WHERE id = ?`, newID, tempID)
	if err != nil {
		return errors.WrapStorage(err, "remap note id")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStorage(err, "remap note id")
	}
	if rows == 0 {
		return errors.NewNotFoundError("note %s", tempID)
	}
	return nil
}

// scanTarget is satisfied by *sql.Row and *sql.Rows
type scanTarget interface {
	Scan(dest ...interface{}) error
}

func scanNote(row scanTarget) (*LocalNote, error) {
	var n LocalNote
	var tempID, summary, categoryID sql.NullString
	var tagsJSON string
	var status string

	if err := row.Scan(
		&n.ID, &tempID, &n.Title, &n.Content, &summary, &tagsJSON, &categoryID, &n.UserID,
		&n.CreatedAt, &n.UpdatedAt, &n.LastAccessedAt, &status,
	); err != nil {
		return nil, err
	}

	n.TempID = tempID.String
	n.Summary = summary.String
	n.CategoryID = categoryID.String
	n.SyncStatus = SyncStatus(status)

	tags, err := UnmarshalTags(tagsJSON)
	if err != nil {
		return nil, err
	}
	n.Tags = tags

	return &n, nil
}
