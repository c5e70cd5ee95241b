package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/types"
)

// rbacTable is the append-only, soft-deletable grant table replicated
// alongside the entity graph through the same Raft log.
type rbacTable struct {
	mu      sync.RWMutex
	records map[uint64]*types.RoleRecord
	nextID  uint64
}

func newRBACTable() *rbacTable {
	return &rbacTable{records: make(map[uint64]*types.RoleRecord)}
}

// GrantRole appends a new grant record with a monotonically increasing
// record id and returns it.
func (s *Store) GrantRole(projectName, userName string, role types.Role, by, reason string, at time.Time) types.RoleRecord {
	t := s.rbac
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	rec := &types.RoleRecord{
		RecordID:     t.nextID,
		ProjectName:  projectName,
		UserName:     userName,
		RoleName:     role,
		CreateBy:     by,
		CreateReason: reason,
		CreateTime:   at,
	}
	t.records[rec.RecordID] = rec
	return *rec
}

// RevokeRole soft-deletes an existing grant by stamping its delete fields.
// Revoking an already-revoked record is a no-op that returns nil; revoking
// an unknown record returns an EntityNotFound error.
func (s *Store) RevokeRole(recordID uint64, by, reason string, at time.Time) error {
	t := s.rbac
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[recordID]
	if !ok {
		return newError(KindEntityNotFound, "no role record with id")
	}
	if rec.Deleted() {
		return nil
	}
	rec.DeleteBy = by
	rec.DeleteReason = reason
	when := at
	rec.DeleteTime = &when
	return nil
}

// EffectiveRoles returns the non-deleted grants that apply to userName on
// projectName: direct grants on the project plus global grants.
func (s *Store) EffectiveRoles(projectName, userName string) []types.RoleRecord {
	t := s.rbac
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.RoleRecord
	for _, rec := range t.records {
		if rec.Deleted() || rec.UserName != userName {
			continue
		}
		if rec.ProjectName == projectName || rec.ProjectName == types.GlobalProject {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

// HasRole reports whether userName holds role (directly or globally) on
// projectName.
func (s *Store) HasRole(projectName, userName string, role types.Role) bool {
	for _, rec := range s.EffectiveRoles(projectName, userName) {
		if rec.RoleName == role {
			return true
		}
	}
	return false
}

// AllRoleRecords returns every grant, including soft-deleted ones, ordered
// by record id. Used by snapshotting, metrics collection, and the state
// machine's mirror write-through of a revocation.
func (s *Store) AllRoleRecords() []types.RoleRecord {
	t := s.rbac
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.RoleRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

// restoreRoleRecordsLocked replaces the grant table wholesale, used by
// Store.Restore and the mirror's load-on-start path.
func (s *Store) restoreRoleRecordsLocked(records []types.RoleRecord) {
	t := s.rbac
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[uint64]*types.RoleRecord, len(records))
	t.nextID = 0
	for i := range records {
		rec := records[i]
		t.records[rec.RecordID] = &rec
		if rec.RecordID > t.nextID {
			t.nextID = rec.RecordID
		}
	}
}

// InsertRoleRecord adds a fully-formed record whose id is already assigned,
// raising the next record id past it if needed.
func (s *Store) InsertRoleRecord(rec types.RoleRecord) {
	t := s.rbac
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.RecordID] = &rec
	if rec.RecordID > t.nextID {
		t.nextID = rec.RecordID
	}
}
