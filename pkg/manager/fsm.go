package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/types"
	"github.com/hashicorp/raft"
)

// Op enumerates the replicated command taxonomy: every mutation accepted by
// the registry travels through the Raft log as one of these.
type Op string

const (
	OpCreateProject        Op = "create_project"
	OpCreateSource         Op = "create_source"
	OpCreateAnchor         Op = "create_anchor"
	OpCreateAnchorFeature  Op = "create_anchor_feature"
	OpCreateDerivedFeature Op = "create_derived_feature"
	OpDeleteEntity         Op = "delete_entity"
	OpTagEntity            Op = "tag_entity"
	OpGrantRole            Op = "grant_role"
	OpRevokeRole           Op = "revoke_role"
)

// Command is the log payload taxonomy: an operation tag plus its
// JSON-encoded arguments.
type Command struct {
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"data"`
}

// createEntityArgs is shared by every Create* command: a fully-formed
// entity (id and qualified_name already assigned by the leader) plus the
// reference used to resolve its parent.
type createEntityArgs struct {
	Entity types.Entity `json:"entity"`
	Ref    string       `json:"ref"`
}

type deleteEntityArgs struct {
	ID string `json:"id"`
}

type tagEntityArgs struct {
	ID   string            `json:"id"`
	Tags map[string]string `json:"tags"`
}

type grantRoleArgs struct {
	ProjectName string     `json:"project_name"`
	UserName    string     `json:"user_name"`
	Role        types.Role `json:"role"`
	By          string     `json:"by"`
	Reason      string     `json:"reason"`
	At          time.Time  `json:"at"`
}

type revokeRoleArgs struct {
	RecordID uint64    `json:"record_id"`
	By       string    `json:"by"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ApplyResult is what Apply returns for every command; hashicorp/raft's
// ApplyFuture.Response() hands this back to the proposer, which is how the
// per-proposal completion channel keyed by log index is realized here —
// the library already keys futures by the log index it assigns on Apply.
type ApplyResult struct {
	Entity *types.Entity
	Role   *types.RoleRecord
	Err    error
}

// MirrorSink is the narrow write-through seam the state machine calls after
// a successful graph or RBAC mutation. pkg/mirror implements it; nil means
// write-through is disabled. Calls must not block the apply path — a real
// implementation enqueues to an internal worker.
type MirrorSink interface {
	MirrorEntity(e types.Entity)
	MirrorDeleteEntity(id string)
	MirrorEdge(e types.Edge)
	MirrorRole(rec types.RoleRecord)
}

// mirrorableEdgeTypes are the edge types an applyCreate scans for after a
// successful creation, so the edges table stays in step with the entity
// table without the store having to report which edges it just added.
var mirrorableEdgeTypes = []types.EdgeType{types.EdgeBelongsTo, types.EdgeContains, types.EdgeConsumes, types.EdgeProduces}

// FSM is the replicated state machine: it applies committed log entries to
// a registry.Store and answers the snapshot/restore contract hashicorp/raft
// requires of a raft.FSM.
type FSM struct {
	store  *registry.Store
	mirror MirrorSink
}

// NewFSM builds an FSM over store. mirror may be nil to disable write-through.
func NewFSM(store *registry.Store, mirror MirrorSink) *FSM {
	return &FSM{store: store, mirror: mirror}
}

// Apply applies one committed Raft log entry. Per §4.2, a store-level
// rejection (e.g. a cycle detected against concurrently-applied state) is
// not fatal: the entry is recorded as applied, the error is handed back to
// the waiter, and the log advances.
// Apply recovers from any panic raised while applying a committed entry —
// per §4.1, index incoherence inside pkg/registry is an internal invariant
// violation, not a rejected mutation, and is fatal rather than returned as
// an ApplyResult error. Exit code 3 matches §6's "fatal invariant
// violation" table entry.
func (f *FSM) Apply(l *raft.Log) (result interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("raft").Error().
				Interface("panic", r).
				Uint64("log_index", l.Index).
				Msg("fatal invariant violation applying committed log entry")
			os.Exit(3)
		}
	}()
	return f.apply(l)
}

func (f *FSM) apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return ApplyResult{Err: err}
	}

	switch cmd.Op {
	case OpCreateProject:
		return f.applyCreate(cmd, func(e types.Entity, ref string) error { return f.store.CreateProject(e) })
	case OpCreateSource:
		return f.applyCreate(cmd, f.store.CreateSource)
	case OpCreateAnchor:
		return f.applyCreate(cmd, f.store.CreateAnchorGroup)
	case OpCreateAnchorFeature:
		return f.applyCreate(cmd, f.store.CreateAnchorFeature)
	case OpCreateDerivedFeature:
		return f.applyCreate(cmd, f.store.CreateDerivedFeature)
	case OpDeleteEntity:
		return f.applyDelete(cmd)
	case OpTagEntity:
		return f.applyTag(cmd)
	case OpGrantRole:
		return f.applyGrant(cmd)
	case OpRevokeRole:
		return f.applyRevoke(cmd)
	default:
		return ApplyResult{Err: fmt.Errorf("unknown command op %q: %w", cmd.Op, registry.ErrInvalidKind)}
	}
}

func (f *FSM) applyCreate(cmd Command, create func(types.Entity, string) error) interface{} {
	var args createEntityArgs
	if err := json.Unmarshal(cmd.Data, &args); err != nil {
		return ApplyResult{Err: err}
	}
	if err := create(args.Entity, args.Ref); err != nil {
		return ApplyResult{Err: err}
	}
	if f.mirror != nil {
		f.mirror.MirrorEntity(args.Entity)
		for _, t := range mirrorableEdgeTypes {
			ids, err := f.store.GetNeighbors(args.Entity.ID, t)
			if err != nil {
				continue
			}
			for _, to := range ids {
				f.mirror.MirrorEdge(types.Edge{FromID: args.Entity.ID, ToID: to, Type: t})
				f.mirror.MirrorEdge(types.Edge{FromID: to, ToID: args.Entity.ID, Type: t.Inverse()})
			}
		}
	}
	e := args.Entity
	return ApplyResult{Entity: &e}
}

func (f *FSM) applyDelete(cmd Command) interface{} {
	var args deleteEntityArgs
	if err := json.Unmarshal(cmd.Data, &args); err != nil {
		return ApplyResult{Err: err}
	}
	if err := f.store.DeleteEntity(args.ID); err != nil {
		return ApplyResult{Err: err}
	}
	if f.mirror != nil {
		f.mirror.MirrorDeleteEntity(args.ID)
	}
	return ApplyResult{}
}

func (f *FSM) applyTag(cmd Command) interface{} {
	var args tagEntityArgs
	if err := json.Unmarshal(cmd.Data, &args); err != nil {
		return ApplyResult{Err: err}
	}
	if err := f.store.TagEntity(args.ID, args.Tags); err != nil {
		return ApplyResult{Err: err}
	}
	e, err := f.store.Get(args.ID)
	if err != nil {
		return ApplyResult{Err: err}
	}
	if f.mirror != nil {
		f.mirror.MirrorEntity(e)
	}
	return ApplyResult{Entity: &e}
}

func (f *FSM) applyGrant(cmd Command) interface{} {
	var args grantRoleArgs
	if err := json.Unmarshal(cmd.Data, &args); err != nil {
		return ApplyResult{Err: err}
	}
	rec := f.store.GrantRole(args.ProjectName, args.UserName, args.Role, args.By, args.Reason, args.At)
	if f.mirror != nil {
		f.mirror.MirrorRole(rec)
	}
	return ApplyResult{Role: &rec}
}

func (f *FSM) applyRevoke(cmd Command) interface{} {
	var args revokeRoleArgs
	if err := json.Unmarshal(cmd.Data, &args); err != nil {
		return ApplyResult{Err: err}
	}
	if err := f.store.RevokeRole(args.RecordID, args.By, args.Reason, args.At); err != nil {
		return ApplyResult{Err: err}
	}
	if f.mirror != nil {
		for _, rec := range f.store.AllRoleRecords() {
			if rec.RecordID == args.RecordID {
				f.mirror.MirrorRole(rec)
				break
			}
		}
	}
	return ApplyResult{}
}

// Snapshot takes a point-in-time copy of the registry for Raft log
// compaction, per the ~5,000-entry default boundary configured on the Raft
// instance in pkg/manager.Manager.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	blob, err := f.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{blob: blob}, nil
}

// Restore replaces the registry wholesale from a snapshot installed by Raft.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	blob, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return f.store.Restore(blob)
}

type fsmSnapshot struct {
	blob []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.blob); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
