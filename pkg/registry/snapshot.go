package registry

import (
	"encoding/json"

	"github.com/cuemby/warren/pkg/types"
)

// snapshotFormatVersion tags the head of every serialized blob so future
// format changes can be detected on restore.
const snapshotFormatVersion = 1

type snapshotNode struct {
	Entity    types.Entity `json:"entity"`
	ProjectID string       `json:"project_id"`
	Seq       int          `json:"seq"`
}

type snapshotEdge struct {
	From string         `json:"from_id"`
	To   string         `json:"to_id"`
	Type types.EdgeType `json:"edge_type"`
}

type snapshotDoc struct {
	Version int                `json:"version"`
	Seq     int                `json:"seq"`
	Nodes   []snapshotNode     `json:"nodes"`
	Edges   []snapshotEdge     `json:"edges"`
	Roles   []types.RoleRecord `json:"roles"`
}

// Snapshot serializes the full graph, its indexes, and the RBAC table into
// a single self-describing blob suitable for Raft snapshot installation or
// for a SQL-mirror load-on-start comparison.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := snapshotDoc{
		Version: snapshotFormatVersion,
		Seq:     s.seq,
		Roles:   s.AllRoleRecords(),
	}
	for _, n := range s.nodes {
		doc.Nodes = append(doc.Nodes, snapshotNode{Entity: n.entity, ProjectID: n.projectID, Seq: n.seq})
	}
	for from, byType := range s.out {
		for t, targets := range byType {
			for to := range targets {
				doc.Edges = append(doc.Edges, snapshotEdge{From: from, To: to, Type: t})
			}
		}
	}
	return json.Marshal(doc)
}

// Restore replaces the store's entire state with the contents of a blob
// produced by Snapshot, atomically from the caller's point of view: it
// builds the new indexes before taking the write lock.
func (s *Store) Restore(data []byte) error {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return wrapError(KindStorageError, "decode snapshot", err)
	}

	nodes := make(map[string]*nodeRecord, len(doc.Nodes))
	byQualifiedName := make(map[string]string, len(doc.Nodes))
	byProjectKind := make(map[string]map[types.EntityKind]map[string]struct{})
	out := make(map[string]map[types.EdgeType]map[string]struct{})
	in := make(map[string]map[types.EdgeType]map[string]struct{})

	for _, sn := range doc.Nodes {
		n := &nodeRecord{entity: sn.Entity, projectID: sn.ProjectID, seq: sn.Seq}
		nodes[n.entity.ID] = n
		byQualifiedName[n.entity.QualifiedName] = n.entity.ID
		byKind, ok := byProjectKind[n.projectID]
		if !ok {
			byKind = make(map[types.EntityKind]map[string]struct{})
			byProjectKind[n.projectID] = byKind
		}
		ids, ok := byKind[n.entity.Kind]
		if !ok {
			ids = make(map[string]struct{})
			byKind[n.entity.Kind] = ids
		}
		ids[n.entity.ID] = struct{}{}
	}
	for _, se := range doc.Edges {
		m, ok := out[se.From]
		if !ok {
			m = make(map[types.EdgeType]map[string]struct{})
			out[se.From] = m
		}
		set, ok := m[se.Type]
		if !ok {
			set = make(map[string]struct{})
			m[se.Type] = set
		}
		set[se.To] = struct{}{}

		m2, ok := in[se.To]
		if !ok {
			m2 = make(map[types.EdgeType]map[string]struct{})
			in[se.To] = m2
		}
		set2, ok := m2[se.Type]
		if !ok {
			set2 = make(map[string]struct{})
			m2[se.Type] = set2
		}
		set2[se.From] = struct{}{}
	}

	s.mu.Lock()
	s.nodes = nodes
	s.byQualifiedName = byQualifiedName
	s.byProjectKind = byProjectKind
	s.out = out
	s.in = in
	s.seq = doc.Seq
	s.mu.Unlock()

	s.restoreRoleRecordsLocked(doc.Roles)
	return nil
}
