// Package queue provides the durable sync queue: an ordered log of pending
// mutations, each referencing an entity by a stable identity that survives
// identifier reassignment.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of mutation an operation replays
type Type string

const (
	TypeCreate Type = "create"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
)

// Status represents the current state of a queued operation
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	// StatusFailed marks operations past the retry ceiling or hit by a
	// non-retryable error. They require explicit user action (retry or
	// discard) and are never silently dropped.
	StatusFailed Status = "failed"
	// StatusSuspended marks operations parked by a manual-merge conflict.
	// Excluded from automatic retry until Resolve supplies a merged payload.
	StatusSuspended Status = "suspended"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusSyncing, StatusFailed, StatusSuspended:
		return true
	default:
		return false
	}
}

// Operation is one intended mutation against an entity.
//
// Operations hold only the identity of the entity and the changed-field
// delta, never a live entity object, so the log can be replayed even if the
// in-memory entity has since changed again. (Timestamp, Seq) totally orders
// operations for the same entity; Seq disambiguates timestamp collisions.
type Operation struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	NoteID  string          `json:"note_id"`
	TempID  string          `json:"temp_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// BaseUpdatedAt is the entity's UpdatedAt at the moment the mutation was
	// derived, before the local edit was stamped. Updates and deletes carry
	// it to the server so divergence from a newer server version is
	// detectable; zero for creates, which have no base version.
	BaseUpdatedAt int64  `json:"base_updated_at,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Seq           int64  `json:"seq"`
	RetryCount    int    `json:"retry_count"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
	NextAttemptAt int64  `json:"next_attempt_at,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// New creates a pending operation with a fresh operation identity. The
// operation ID is client-generated and stable across retries, which is what
// lets the server deduplicate replays (at-most-once apply).
func New(opType Type, noteID, tempID string, payload json.RawMessage, timestamp int64) *Operation {
	now := time.Now().UnixMilli()
	return &Operation{
		ID:        "op_" + uuid.NewString(),
		Type:      opType,
		NoteID:    noteID,
		TempID:    tempID,
		Payload:   payload,
		Timestamp: timestamp,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// touch bumps UpdatedAt
func (o *Operation) touch() {
	o.UpdatedAt = time.Now().UnixMilli()
}
