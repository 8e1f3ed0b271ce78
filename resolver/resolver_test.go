package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnotes/quill/note"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		base   int64
		server int64
		want   bool
	}{
		{"server newer", 1000, 2000, true},
		{"server older", 2000, 1000, false},
		{"equal is not a conflict", 1000, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.base, tt.server))
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("use-local")
	require.NoError(t, err)
	assert.Equal(t, PolicyUseLocal, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyManualMerge, p)

	_, err = ParsePolicy("latest-wins")
	assert.Error(t, err)
}

func TestResolveWithRemoteVersion(t *testing.T) {
	remote := &note.LocalNote{ID: "srv_1", Title: "server copy"}

	tests := []struct {
		policy Policy
		want   Action
	}{
		{PolicyUseLocal, ActionForceLocal},
		{PolicyUseRemote, ActionAdoptRemote},
		{PolicyManualMerge, ActionSuspend},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			out := New(tt.policy, nil).Resolve("srv_1", remote, "remote is newer")
			assert.Equal(t, tt.want, out.Action)
			assert.Same(t, remote, out.Remote)
			assert.Equal(t, "remote is newer", out.Reason)
		})
	}
}

func TestResolveRemoteDeleted(t *testing.T) {
	tests := []struct {
		policy Policy
		want   Action
	}{
		{PolicyUseLocal, ActionRecreate},
		{PolicyUseRemote, ActionDeleteLocal},
		{PolicyManualMerge, ActionSuspend},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			out := New(tt.policy, nil).Resolve("srv_1", nil, "deleted on server")
			assert.Equal(t, tt.want, out.Action)
			assert.Nil(t, out.Remote)
		})
	}
}

func TestDefaultPolicyIsManualMerge(t *testing.T) {
	r := New("", nil)
	assert.Equal(t, PolicyManualMerge, r.Policy())
}

func TestSetPolicyAppliesToLaterConflicts(t *testing.T) {
	r := New(PolicyManualMerge, nil)
	remote := &note.LocalNote{ID: "srv_1", UpdatedAt: 9999}

	out := r.Resolve("srv_1", remote, "newer on server")
	assert.Equal(t, ActionSuspend, out.Action)

	r.SetPolicy(PolicyUseRemote)
	assert.Equal(t, PolicyUseRemote, r.Policy())

	out = r.Resolve("srv_1", remote, "newer on server")
	assert.Equal(t, ActionAdoptRemote, out.Action)

	// Empty falls back to the default
	r.SetPolicy("")
	assert.Equal(t, DefaultPolicy, r.Policy())
}
