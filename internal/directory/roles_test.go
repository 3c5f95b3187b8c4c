package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLookup struct {
	groups map[string][]string
	err    error
	calls  []string
}

func (f *fakeLookup) MemberOf(ctx context.Context, username string) ([]string, error) {
	f.calls = append(f.calls, username)
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[username], nil
}

type countingRecorder struct{ n int }

func (c *countingRecorder) RecordRoleLookupFailure() { c.n++ }

func TestRoleResolver_IsPrivileged(t *testing.T) {
	lookup := &fakeLookup{groups: map[string][]string{
		"alice": {"CN=Admins,DC=corp"},
		"bob":   {"CN=Users,DC=corp"},
	}}
	r := NewRoleResolver(lookup, nil, discardLogger())

	assert.True(t, r.IsPrivileged(context.Background(), "alice", "Admins"))
	assert.False(t, r.IsPrivileged(context.Background(), "bob", "Admins"))
	assert.False(t, r.IsPrivileged(context.Background(), "nobody", "Admins"))
}

func TestRoleResolver_EmptyGroup_UsesDefault(t *testing.T) {
	lookup := &fakeLookup{groups: map[string][]string{
		"alice": {"CN=Admins,DC=corp"},
	}}
	r := NewRoleResolver(lookup, nil, discardLogger())

	assert.True(t, r.IsPrivileged(context.Background(), "alice", ""))
}

func TestRoleResolver_LookupError_FailsClosed(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("connection reset by peer")}
	rec := &countingRecorder{}
	r := NewRoleResolver(lookup, rec, discardLogger())

	assert.False(t, r.IsPrivileged(context.Background(), "alice", "Admins"))
	assert.Equal(t, 1, rec.n)
}

func TestHasGroup_SubstringMatch(t *testing.T) {
	groups := []string{"CN=Domain Users,DC=corp", "CN=Homelab Admins,OU=Groups,DC=corp"}

	assert.True(t, HasGroup(groups, "Admins"))
	assert.True(t, HasGroup(groups, "Homelab Admins"))
	assert.False(t, HasGroup(groups, "Operators"))
	assert.False(t, HasGroup(nil, "Admins"))
}
