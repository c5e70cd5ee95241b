// Package registry implements the in-memory typed graph store that backs
// the feature registry: projects, sources, anchor groups, anchor and
// derived features, the edges between them, and the RBAC grant table.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/warren/pkg/types"
)

type nodeRecord struct {
	entity    types.Entity
	projectID string
	seq       int
}

// Store is the single-writer, concurrently-readable entity graph. All
// mutation methods must be called from the state machine's apply path; Get*
// methods may be called concurrently by readers holding a shared lock.
type Store struct {
	mu sync.RWMutex

	nodes           map[string]*nodeRecord
	byQualifiedName map[string]string
	byProjectKind   map[string]map[types.EntityKind]map[string]struct{}
	out             map[string]map[types.EdgeType]map[string]struct{}
	in              map[string]map[types.EdgeType]map[string]struct{}
	seq             int

	rbac *rbacTable
}

// NewStore returns an empty graph store.
func NewStore() *Store {
	return &Store{
		nodes:           make(map[string]*nodeRecord),
		byQualifiedName: make(map[string]string),
		byProjectKind:   make(map[string]map[types.EntityKind]map[string]struct{}),
		out:             make(map[string]map[types.EdgeType]map[string]struct{}),
		in:              make(map[string]map[types.EdgeType]map[string]struct{}),
		rbac:            newRBACTable(),
	}
}

func (s *Store) resolveLocked(idOrQN string) (*nodeRecord, bool) {
	if n, ok := s.nodes[idOrQN]; ok {
		return n, true
	}
	if id, ok := s.byQualifiedName[idOrQN]; ok {
		return s.nodes[id], true
	}
	return nil, false
}

// Get returns the entity identified by id or qualified name.
func (s *Store) Get(idOrQN string) (types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.resolveLocked(idOrQN)
	if !ok {
		return types.Entity{}, newError(KindEntityNotFound, "no entity with id or qualified_name "+idOrQN)
	}
	return n.entity, nil
}

func (s *Store) addIndexLocked(n *nodeRecord) {
	s.nodes[n.entity.ID] = n
	s.byQualifiedName[n.entity.QualifiedName] = n.entity.ID
	byKind, ok := s.byProjectKind[n.projectID]
	if !ok {
		byKind = make(map[types.EntityKind]map[string]struct{})
		s.byProjectKind[n.projectID] = byKind
	}
	ids, ok := byKind[n.entity.Kind]
	if !ok {
		ids = make(map[string]struct{})
		byKind[n.entity.Kind] = ids
	}
	ids[n.entity.ID] = struct{}{}
}

func (s *Store) removeIndexLocked(n *nodeRecord) {
	delete(s.nodes, n.entity.ID)
	delete(s.byQualifiedName, n.entity.QualifiedName)
	if byKind, ok := s.byProjectKind[n.projectID]; ok {
		if ids, ok := byKind[n.entity.Kind]; ok {
			delete(ids, n.entity.ID)
			if len(ids) == 0 {
				delete(byKind, n.entity.Kind)
			}
		}
		if len(byKind) == 0 {
			delete(s.byProjectKind, n.projectID)
		}
	}
}

// addEdgePairLocked inserts an edge and its mandated inverse (invariant 3).
func (s *Store) addEdgePairLocked(fromID string, toID string, t types.EdgeType) {
	s.addDirectedEdgeLocked(fromID, toID, t)
	s.addDirectedEdgeLocked(toID, fromID, t.Inverse())
}

func (s *Store) addDirectedEdgeLocked(fromID, toID string, t types.EdgeType) {
	m, ok := s.out[fromID]
	if !ok {
		m = make(map[types.EdgeType]map[string]struct{})
		s.out[fromID] = m
	}
	set, ok := m[t]
	if !ok {
		set = make(map[string]struct{})
		m[t] = set
	}
	set[toID] = struct{}{}

	m2, ok := s.in[toID]
	if !ok {
		m2 = make(map[types.EdgeType]map[string]struct{})
		s.in[toID] = m2
	}
	set2, ok := m2[t]
	if !ok {
		set2 = make(map[string]struct{})
		m2[t] = set2
	}
	set2[fromID] = struct{}{}
}

func (s *Store) removeNodeEdgesLocked(id string) {
	for t, targets := range s.out[id] {
		for to := range targets {
			delete(s.in[to][t.Inverse()], id)
		}
	}
	for t, sources := range s.in[id] {
		for from := range sources {
			delete(s.out[from][t.Inverse()], id)
		}
	}
	delete(s.out, id)
	delete(s.in, id)
}

// reachesLocked reports whether toID is reachable from fromID by following
// edgeType edges outward.
func (s *Store) reachesLocked(fromID, toID string, edgeType types.EdgeType) bool {
	if fromID == toID {
		return true
	}
	visited := map[string]bool{fromID: true}
	queue := []string{fromID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range s.out[cur][edgeType] {
			if next == toID {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// CreateProject admits a new top-level project. e must already carry its
// leader-assigned id and qualified_name.
func (s *Store) CreateProject(e types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNewIdentityLocked(e); err != nil {
		return err
	}
	s.seq++
	n := &nodeRecord{entity: e, projectID: e.ID, seq: s.seq}
	s.addIndexLocked(n)
	return nil
}

func (s *Store) checkNewIdentityLocked(e types.Entity) error {
	if _, ok := s.nodes[e.ID]; ok {
		return newError(KindAlreadyExists, "id "+e.ID+" already exists")
	}
	if _, ok := s.byQualifiedName[e.QualifiedName]; ok {
		return newError(KindAlreadyExists, "qualified_name "+e.QualifiedName+" already exists")
	}
	return nil
}

func (s *Store) resolveKindLocked(ref string, want types.EntityKind) (*nodeRecord, error) {
	n, ok := s.resolveLocked(ref)
	if !ok {
		return nil, newError(KindEntityNotFound, "no entity with id or qualified_name "+ref)
	}
	if n.entity.Kind != want {
		return nil, newError(KindInvalidKind, ref+" is "+string(n.entity.Kind)+", want "+string(want))
	}
	return n, nil
}

// CreateSource attaches a new Source entity to the project named by
// projectRef via a BelongsTo/Contains edge pair.
func (s *Store) CreateSource(e types.Entity, projectRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, err := s.resolveKindLocked(projectRef, types.KindProject)
	if err != nil {
		return err
	}
	if err := s.checkNewIdentityLocked(e); err != nil {
		return err
	}
	s.seq++
	n := &nodeRecord{entity: e, projectID: project.entity.ID, seq: s.seq}
	s.addIndexLocked(n)
	s.addEdgePairLocked(e.ID, project.entity.ID, types.EdgeBelongsTo)
	return nil
}

// CreateAnchorGroup attaches a new AnchorGroup to its project and validates
// that its SourceID attribute resolves to an existing Source.
func (s *Store) CreateAnchorGroup(e types.Entity, projectRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, err := s.resolveKindLocked(projectRef, types.KindProject)
	if err != nil {
		return err
	}
	attrs, ok := e.Attributes.(types.AnchorGroupAttributes)
	if !ok {
		return newError(KindInvalidKind, "entity attributes are not AnchorGroupAttributes")
	}
	if _, err := s.resolveKindLocked(attrs.SourceID, types.KindSource); err != nil {
		return err
	}
	if err := s.checkNewIdentityLocked(e); err != nil {
		return err
	}
	s.seq++
	n := &nodeRecord{entity: e, projectID: project.entity.ID, seq: s.seq}
	s.addIndexLocked(n)
	s.addEdgePairLocked(e.ID, project.entity.ID, types.EdgeBelongsTo)
	return nil
}

// CreateAnchorFeature attaches a new AnchorFeature to its anchor group and
// wires Consumes/Produces to the group's source.
func (s *Store) CreateAnchorFeature(e types.Entity, groupRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, err := s.resolveKindLocked(groupRef, types.KindAnchorGroup)
	if err != nil {
		return err
	}
	groupAttrs := group.entity.Attributes.(types.AnchorGroupAttributes)
	source, err := s.resolveKindLocked(groupAttrs.SourceID, types.KindSource)
	if err != nil {
		return err
	}
	if err := s.checkNewIdentityLocked(e); err != nil {
		return err
	}
	s.seq++
	n := &nodeRecord{entity: e, projectID: group.projectID, seq: s.seq}
	s.addIndexLocked(n)
	s.addEdgePairLocked(e.ID, group.entity.ID, types.EdgeBelongsTo)
	s.addEdgePairLocked(e.ID, source.entity.ID, types.EdgeConsumes)
	return nil
}

// CreateDerivedFeature attaches a new DerivedFeature to its project and
// wires Consumes/Produces to every input, rejecting the mutation before any
// state change if doing so would introduce a Consumes cycle.
func (s *Store) CreateDerivedFeature(e types.Entity, projectRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, err := s.resolveKindLocked(projectRef, types.KindProject)
	if err != nil {
		return err
	}
	attrs, ok := e.Attributes.(types.DerivedFeatureAttributes)
	if !ok {
		return newError(KindInvalidKind, "entity attributes are not DerivedFeatureAttributes")
	}
	inputs := make([]*nodeRecord, 0, len(attrs.InputIDs))
	for _, inputID := range attrs.InputIDs {
		in, ok := s.resolveLocked(inputID)
		if !ok {
			return newError(KindEntityNotFound, "no entity with id "+inputID)
		}
		if in.entity.Kind != types.KindAnchorFeature && in.entity.Kind != types.KindDerivedFeature {
			return newError(KindInvalidKind, inputID+" is not a feature")
		}
		inputs = append(inputs, in)
	}
	for _, in := range inputs {
		if s.reachesLocked(in.entity.ID, e.ID, types.EdgeConsumes) {
			return newError(KindCycleDetected, "adding "+e.ID+" would create a Consumes cycle through "+in.entity.ID)
		}
	}
	if err := s.checkNewIdentityLocked(e); err != nil {
		return err
	}
	s.seq++
	n := &nodeRecord{entity: e, projectID: project.entity.ID, seq: s.seq}
	s.addIndexLocked(n)
	s.addEdgePairLocked(e.ID, project.entity.ID, types.EdgeBelongsTo)
	for _, in := range inputs {
		s.addEdgePairLocked(e.ID, in.entity.ID, types.EdgeConsumes)
	}
	return nil
}

// DeleteEntity removes a leaf entity: one with no Contains children and no
// inbound Consumes edge (invariant 7).
func (s *Store) DeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return newError(KindEntityNotFound, "no entity with id "+id)
	}
	if len(s.out[id][types.EdgeContains]) > 0 {
		return newError(KindInUse, id+" still has Contains children")
	}
	if len(s.in[id][types.EdgeConsumes]) > 0 {
		return newError(KindInUse, id+" is consumed by a dependent feature")
	}
	s.removeIndexLocked(n)
	s.removeNodeEdgesLocked(id)
	return nil
}

// TagEntity replaces the tag set of an existing entity. It is idempotent:
// applying the same tag set twice leaves the entity unchanged.
func (s *Store) TagEntity(id string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return newError(KindEntityNotFound, "no entity with id "+id)
	}
	n.entity.Tags = tags
	return nil
}

// GetNeighbors returns the ids reachable from id by a single hop of the
// given edge type.
func (s *Store) GetNeighbors(id string, edgeType types.EdgeType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, newError(KindEntityNotFound, "no entity with id "+id)
	}
	ids := make([]string, 0, len(s.out[id][edgeType]))
	for n := range s.out[id][edgeType] {
		ids = append(ids, n)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetProjectChildren returns every entity of the given kind owned by the
// project named by projectRef, ordered by insertion sequence.
func (s *Store) GetProjectChildren(projectRef string, kind types.EntityKind) ([]types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.resolveLocked(projectRef)
	if !ok {
		return nil, newError(KindEntityNotFound, "no entity with id or qualified_name "+projectRef)
	}
	ids := s.byProjectKind[project.entity.ID][kind]
	records := make([]*nodeRecord, 0, len(ids))
	for id := range ids {
		records = append(records, s.nodes[id])
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	out := make([]types.Entity, len(records))
	for i, r := range records {
		out[i] = r.entity
	}
	return out, nil
}

// LineageEntry is one entity in a lineage traversal, tagged with its
// distance from the root.
type LineageEntry struct {
	Entity types.Entity
	Depth  int
}

// GetLineage performs a breadth-first walk of the Consumes adjacency rooted
// at id, down to depth levels. Ties at equal depth are broken by insertion
// order.
func (s *Store) GetLineage(id string, depth int) ([]LineageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, newError(KindEntityNotFound, "no entity with id "+id)
	}
	visited := map[string]bool{id: true}
	type frontierEntry struct {
		id    string
		depth int
	}
	frontier := []frontierEntry{{id: id, depth: 0}}
	var result []LineageEntry
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= depth {
			continue
		}
		next := make([]string, 0, len(s.out[cur.id][types.EdgeConsumes]))
		for n := range s.out[cur.id][types.EdgeConsumes] {
			next = append(next, n)
		}
		sort.Slice(next, func(i, j int) bool { return s.nodes[next[i]].seq < s.nodes[next[j]].seq })
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			result = append(result, LineageEntry{Entity: s.nodes[n].entity, Depth: cur.depth + 1})
			frontier = append(frontier, frontierEntry{id: n, depth: cur.depth + 1})
		}
	}
	return result, nil
}

// AllByKind returns every entity of the given kind across all projects,
// ordered by insertion sequence. Used for top-level listings such as
// "every project", which has no project scope to key off of.
func (s *Store) AllByKind(kind types.EntityKind) []types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*nodeRecord, 0)
	for _, n := range s.nodes {
		if n.entity.Kind == kind {
			records = append(records, n)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	out := make([]types.Entity, len(records))
	for i, r := range records {
		out[i] = r.entity
	}
	return out
}

// CountByKind returns the number of entities currently stored for each
// kind, across all projects. Used by metrics collection.
func (s *Store) CountByKind() map[types.EntityKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[types.EntityKind]int)
	for _, n := range s.nodes {
		counts[n.entity.Kind]++
	}
	return counts
}

// Search ranks entities by a naive token-overlap score against
// qualified_name, name, tags, and serialized attribute text. scope, if
// non-empty, restricts results to entities owned by that project.
func (s *Store) Search(query string, scope string) []types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return searchNodes(s.nodes, query, scope)
}

func lowerTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
