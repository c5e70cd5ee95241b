package registry

import (
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveRolesCombinesProjectAndGlobalGrants(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.GrantRole("project0", "alice", types.RoleProducer, "admin", "onboarding", now)
	s.GrantRole(types.GlobalProject, "alice", types.RoleConsumer, "admin", "platform access", now)
	s.GrantRole("project1", "alice", types.RoleAdmin, "admin", "unrelated project", now)

	roles := s.EffectiveRoles("project0", "alice")
	require.Len(t, roles, 2)
	assert.True(t, s.HasRole("project0", "alice", types.RoleProducer))
	assert.True(t, s.HasRole("project0", "alice", types.RoleConsumer))
	assert.False(t, s.HasRole("project0", "alice", types.RoleAdmin))
}

func TestRevokeRoleIsSoftDelete(t *testing.T) {
	s := NewStore()
	rec := s.GrantRole("project0", "bob", types.RoleAdmin, "admin", "initial", time.Now())

	require.NoError(t, s.RevokeRole(rec.RecordID, "admin", "offboarding", time.Now()))

	assert.False(t, s.HasRole("project0", "bob", types.RoleAdmin))

	all := s.AllRoleRecords()
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted())
	assert.Equal(t, "offboarding", all[0].DeleteReason)
}

func TestRevokeRoleUnknownRecordFails(t *testing.T) {
	s := NewStore()
	err := s.RevokeRole(999, "admin", "no such grant", time.Now())
	require.Error(t, err)
	assert.Equal(t, KindEntityNotFound, KindOf(err))
}

func TestRevokeRoleIsIdempotent(t *testing.T) {
	s := NewStore()
	rec := s.GrantRole("project0", "bob", types.RoleAdmin, "admin", "initial", time.Now())
	require.NoError(t, s.RevokeRole(rec.RecordID, "admin", "first", time.Now()))
	require.NoError(t, s.RevokeRole(rec.RecordID, "someone-else", "second", time.Now()))

	all := s.AllRoleRecords()
	require.Len(t, all, 1)
	assert.Equal(t, "first", all[0].DeleteReason)
}
