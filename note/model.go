// Package note provides the local entity store for the offline core: the
// client-resident projection of notes and the mutation surface that records
// optimistic writes alongside queued sync operations.
package note

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quillnotes/quill/errors"
)

// SyncStatus represents the synchronization state of a local note
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusFailed  SyncStatus = "failed"
	// StatusDeleting marks a synced note whose delete is queued but not yet
	// acknowledged by the server. Hidden from default listings; the row is
	// physically removed when the delete acks.
	StatusDeleting SyncStatus = "deleting"
)

// IsValidStatus returns true if the status string is a valid SyncStatus
func IsValidStatus(s string) bool {
	switch SyncStatus(s) {
	case StatusSynced, StatusPending, StatusSyncing, StatusFailed, StatusDeleting:
		return true
	default:
		return false
	}
}

// TempIDPrefix marks client-generated placeholder identities. A note keeps a
// temp identity until the first successful create sync assigns the
// server identity.
const TempIDPrefix = "tmp_"

// LocalNote is the client-resident projection of a note.
//
// All timestamps are milliseconds since epoch. While the note has not yet
// been synced, ID holds the temp identity and TempID carries the same value;
// after remap, ID holds the server identity and TempID is empty. Exactly one
// of the two is authoritative at any time.
type LocalNote struct {
	ID             string     `json:"id"`
	TempID         string     `json:"temp_id,omitempty"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Summary        string     `json:"summary,omitempty"`
	Tags           []string   `json:"tags"`
	CategoryID     string     `json:"category_id,omitempty"`
	UserID         string     `json:"user_id"`
	CreatedAt      int64      `json:"created_at"`
	UpdatedAt      int64      `json:"updated_at"`
	LastAccessedAt int64      `json:"last_accessed_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
}

// New creates a note with a fresh temp identity, pending sync status, and
// current timestamps.
func New(userID, title, content string, tags []string) *LocalNote {
	tempID := TempIDPrefix + uuid.NewString()
	now := NowMillis()
	return &LocalNote{
		ID:             tempID,
		TempID:         tempID,
		Title:          title,
		Content:        content,
		Tags:           NormalizeTags(tags),
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		SyncStatus:     StatusPending,
	}
}

// IsTemp reports whether the note still carries a client-generated identity.
func (n *LocalNote) IsTemp() bool {
	return n.TempID != ""
}

// Touch bumps UpdatedAt to the current logical time
func (n *LocalNote) Touch() {
	n.UpdatedAt = NowMillis()
}

// MarkAccessed records a read of the note
func (n *LocalNote) MarkAccessed() {
	n.LastAccessedAt = NowMillis()
}

// HasTag reports whether the note carries the given tag
func (n *LocalNote) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag, preserving set semantics
func (n *LocalNote) AddTag(tag string) {
	if n.HasTag(tag) {
		return
	}
	n.Tags = NormalizeTags(append(n.Tags, tag))
}

// NormalizeTags deduplicates and sorts a tag list so that equal sets compare
// equal after serialization.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarshalTags converts a tag set to its JSON column representation
func MarshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal tags")
	}
	return string(data), nil
}

// UnmarshalTags converts the JSON column representation back to a tag set
func UnmarshalTags(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}
	return tags, nil
}

// NowMillis returns the current logical time in milliseconds since epoch
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
