// Package resolver decides what happens when an uploaded mutation collides
// with a newer server version of the same entity.
package resolver

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/note"
)

// Policy selects the resolution strategy applied when a conflict is detected
type Policy string

const (
	// PolicyUseLocal overwrites the server with the local version.
	PolicyUseLocal Policy = "use-local"
	// PolicyUseRemote discards the local mutation and adopts the server
	// version.
	PolicyUseRemote Policy = "use-remote"
	// PolicyManualMerge parks the mutation and keeps both versions until a
	// person merges them. The safe default: it never destroys either side.
	PolicyManualMerge Policy = "manual-merge"
)

// DefaultPolicy is applied when no policy is configured
const DefaultPolicy = PolicyManualMerge

// ParsePolicy validates a configured policy string
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyUseLocal, PolicyUseRemote, PolicyManualMerge:
		return Policy(s), nil
	case "":
		return DefaultPolicy, nil
	default:
		return "", errors.NewValidationError("unknown conflict policy %q", s)
	}
}

// Action is what the sync engine must do with a conflicted operation
type Action string

const (
	// ActionForceLocal re-submits the local version with overwrite intent.
	ActionForceLocal Action = "force-local"
	// ActionAdoptRemote drops the operation and writes the server version
	// into the local store verbatim.
	ActionAdoptRemote Action = "adopt-remote"
	// ActionSuspend parks the operation for human resolution, preserving
	// both versions.
	ActionSuspend Action = "suspend"
	// ActionDeleteLocal removes the local copy; the server deleted the
	// entity and the policy sides with the server.
	ActionDeleteLocal Action = "delete-local"
	// ActionRecreate re-uploads the local version as a fresh create; the
	// server deleted the entity and the policy sides with the client.
	ActionRecreate Action = "recreate"
)

// Outcome is the resolver's verdict for one conflicted operation
type Outcome struct {
	Action Action
	// Remote is the server version involved in the conflict. Set for
	// adopt-remote and suspend so the caller can persist or display it.
	Remote *note.LocalNote
	// Reason is a human-readable account of the conflict, recorded on
	// suspended operations.
	Reason string
}

// Detect reports whether applying a mutation based on baseUpdatedAt against
// a server version stamped serverUpdatedAt is a conflict. Equal timestamps
// are not a conflict: the client is editing the version it last saw.
func Detect(baseUpdatedAt, serverUpdatedAt int64) bool {
	return serverUpdatedAt > baseUpdatedAt
}

// Resolver applies the configured policy to detected conflicts
type Resolver struct {
	mu     sync.RWMutex
	policy Policy
	logger *zap.SugaredLogger
}

// New creates a resolver with the given policy
func New(policy Policy, logger *zap.SugaredLogger) *Resolver {
	if policy == "" {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Resolver{policy: policy, logger: logger}
}

// Policy returns the configured policy
func (r *Resolver) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy replaces the policy. Applied by config hot-reload; conflicts
// detected after the call resolve under the new policy.
func (r *Resolver) SetPolicy(policy Policy) {
	if policy == "" {
		policy = DefaultPolicy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// Resolve decides the outcome for a conflicted upload. remote is the server
// version the conflict reported, or nil if the server deleted the entity.
func (r *Resolver) Resolve(noteID string, remote *note.LocalNote, reason string) *Outcome {
	policy := r.Policy()

	r.logger.Infow("resolving conflict",
		"note_id", noteID,
		"policy", policy,
		"remote_deleted", remote == nil,
	)

	if remote == nil {
		switch policy {
		case PolicyUseLocal:
			return &Outcome{Action: ActionRecreate, Reason: reason}
		case PolicyUseRemote:
			return &Outcome{Action: ActionDeleteLocal, Reason: reason}
		default:
			return &Outcome{Action: ActionSuspend, Reason: reason}
		}
	}

	switch policy {
	case PolicyUseLocal:
		return &Outcome{Action: ActionForceLocal, Remote: remote, Reason: reason}
	case PolicyUseRemote:
		return &Outcome{Action: ActionAdoptRemote, Remote: remote, Reason: reason}
	default:
		return &Outcome{Action: ActionSuspend, Remote: remote, Reason: reason}
	}
}
