package registry

import (
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectEntity(id, qn string) types.Entity {
	return types.Entity{
		Header: types.Header{ID: id, QualifiedName: qn, Name: qn, Kind: types.KindProject},
		Attributes: types.ProjectAttributes{},
	}
}

func sourceEntity(id, qn string) types.Entity {
	return types.Entity{
		Header: types.Header{ID: id, QualifiedName: qn, Name: qn, Kind: types.KindSource},
		Attributes: types.SourceAttributes{Path: "/data/raw", Type: "HDFS"},
	}
}

func anchorGroupEntity(id, qn, sourceID string) types.Entity {
	return types.Entity{
		Header: types.Header{ID: id, QualifiedName: qn, Name: qn, Kind: types.KindAnchorGroup},
		Attributes: types.AnchorGroupAttributes{SourceID: sourceID},
	}
}

func anchorFeatureEntity(id, qn string) types.Entity {
	return types.Entity{
		Header: types.Header{ID: id, QualifiedName: qn, Name: qn, Kind: types.KindAnchorFeature},
		Attributes: types.AnchorFeatureAttributes{
			Type:           types.ValueBoolean,
			Transformation: types.Transformation{Expression: "x > 0"},
		},
	}
}

func derivedFeatureEntity(id, qn string, inputIDs ...string) types.Entity {
	return types.Entity{
		Header: types.Header{ID: id, QualifiedName: qn, Name: qn, Kind: types.KindDerivedFeature},
		Attributes: types.DerivedFeatureAttributes{
			Type:           types.ValueFloat,
			Transformation: types.Transformation{Expression: "a + b"},
			InputIDs:       inputIDs,
		},
	}
}

// seedFeatureGraph builds project -> source -> group -> anchor feature, a
// common fixture shared by several tests below.
func seedFeatureGraph(t *testing.T, s *Store) (projectID, sourceID, groupID, featureID string) {
	t.Helper()
	require.NoError(t, s.CreateProject(projectEntity("p1", "project0")))
	require.NoError(t, s.CreateSource(sourceEntity("s1", "project0/source0"), "p1"))
	require.NoError(t, s.CreateAnchorGroup(anchorGroupEntity("g1", "project0/group0", "s1"), "p1"))
	require.NoError(t, s.CreateAnchorFeature(anchorFeatureEntity("f1", "project0/group0/feature0"), "g1"))
	return "p1", "s1", "g1", "f1"
}

func TestCreateProjectRejectsDuplicateQualifiedName(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateProject(projectEntity("p1", "project0")))
	err := s.CreateProject(projectEntity("p2", "project0"))
	require.Error(t, err)
	assert.Equal(t, KindAlreadyExists, KindOf(err))
}

func TestCreateSourceRequiresExistingProject(t *testing.T) {
	s := NewStore()
	err := s.CreateSource(sourceEntity("s1", "project0/source0"), "no-such-project")
	require.Error(t, err)
	assert.Equal(t, KindEntityNotFound, KindOf(err))
}

func TestEdgesAreAlwaysCreatedAsInversePairs(t *testing.T) {
	s := NewStore()
	_, _, groupID, featureID := seedFeatureGraph(t, s)

	belongsTo, err := s.GetNeighbors(featureID, types.EdgeBelongsTo)
	require.NoError(t, err)
	assert.Equal(t, []string{groupID}, belongsTo)

	contains, err := s.GetNeighbors(groupID, types.EdgeContains)
	require.NoError(t, err)
	assert.Equal(t, []string{featureID}, contains)
}

func TestDerivedFeatureCycleIsRejected(t *testing.T) {
	s := NewStore()
	_, _, _, featureID := seedFeatureGraph(t, s)
	require.NoError(t, s.CreateDerivedFeature(derivedFeatureEntity("d1", "project0/derived0", featureID), "p1"))

	// d1 already consumes f1 (d1 --Consumes--> f1). Reusing f1's id for a
	// candidate that consumes d1 would close a cycle: f1 would transitively
	// consume itself through d1. The reachability check must catch this
	// before any state changes, independent of id collisions.
	cyclic := derivedFeatureEntity(featureID, "project0/derived-cycle", "d1")
	err := s.CreateDerivedFeature(cyclic, "p1")
	require.Error(t, err)
	assert.Equal(t, KindCycleDetected, KindOf(err))

	// The graph is untouched: the qualified name was never admitted.
	_, err = s.Get("project0/derived-cycle")
	require.Error(t, err)
	assert.Equal(t, KindEntityNotFound, KindOf(err))
}

func TestDeleteEntityEnforcesLeafInvariant(t *testing.T) {
	s := NewStore()
	projectID, _, groupID, _ := seedFeatureGraph(t, s)

	err := s.DeleteEntity(projectID)
	require.Error(t, err)
	assert.Equal(t, KindInUse, KindOf(err))

	err = s.DeleteEntity(groupID)
	require.Error(t, err)
	assert.Equal(t, KindInUse, KindOf(err))
}

func TestDeleteEntityRejectsDependentDerivedFeature(t *testing.T) {
	s := NewStore()
	_, _, _, featureID := seedFeatureGraph(t, s)
	require.NoError(t, s.CreateDerivedFeature(derivedFeatureEntity("d1", "project0/derived0", featureID), "p1"))

	err := s.DeleteEntity(featureID)
	require.Error(t, err)
	assert.Equal(t, KindInUse, KindOf(err))
}

func TestQualifiedNameRoundTripsToID(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateProject(projectEntity("p1", "project0")))

	byQN, err := s.Get("project0")
	require.NoError(t, err)
	byID, err := s.Get(byQN.ID)
	require.NoError(t, err)
	assert.Equal(t, byQN.QualifiedName, byID.QualifiedName)
}

func TestGetLineageTagsDistanceFromRoot(t *testing.T) {
	s := NewStore()
	_, _, _, featureID := seedFeatureGraph(t, s)
	require.NoError(t, s.CreateDerivedFeature(derivedFeatureEntity("d1", "project0/derived0", featureID), "p1"))
	require.NoError(t, s.CreateDerivedFeature(derivedFeatureEntity("d2", "project0/derived1", "d1"), "p1"))

	lineage, err := s.GetLineage("d2", 2)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, "d1", lineage[0].Entity.ID)
	assert.Equal(t, 1, lineage[0].Depth)
	assert.Equal(t, featureID, lineage[1].Entity.ID)
	assert.Equal(t, 2, lineage[1].Depth)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	seedFeatureGraph(t, s)
	s.GrantRole("project0", "alice", types.RoleAdmin, "bootstrap", "initial grant", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	blob, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.Restore(blob))

	original, err := s.Get("project0/group0/feature0")
	require.NoError(t, err)
	roundTripped, err := restored.Get("project0/group0/feature0")
	require.NoError(t, err)
	assert.Equal(t, original, roundTripped)

	assert.Equal(t, s.AllRoleRecords(), restored.AllRoleRecords())

	neighbors, err := restored.GetNeighbors("f1", types.EdgeConsumes)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, neighbors)
}

func TestSearchRanksByTokenOverlap(t *testing.T) {
	s := NewStore()
	seedFeatureGraph(t, s)

	results := s.Search("feature0", "")
	require.NotEmpty(t, results)
	assert.Equal(t, "f1", results[0].ID)
}
