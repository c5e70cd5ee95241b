/*
Package types defines the core data structures shared across the registry.

It holds the entity and edge model (Project, Source, AnchorGroup,
AnchorFeature, DerivedFeature and the BelongsTo/Contains/Consumes/Produces
edge labels), the typed-key and transformation shapes attached to features,
and the RBAC grant record. These types are used by pkg/registry for in-memory
storage, by pkg/manager for replication, by pkg/mirror for the SQL write-through,
and by pkg/api for the wire format.

# Core Types

Entity model:
  - EntityKind: the five entity variants, doubling as the JSON "typeName" tag
  - Entity: tagged-variant struct of a Header plus kind-specific Attributes
  - Header: fields common to every entity (id, qualified name, name, tags)
  - Attributes: implemented by each *Attributes struct below

Edges:
  - EdgeType: BelongsTo, Contains, Consumes, Produces
  - Edge: a (FromID, ToID, Type) directed edge

Feature descriptors:
  - ValueType: the primitive value types a feature or key column carries
  - TypedKey: a join-key column descriptor
  - Transformation: an expression or a WindowAggregation

RBAC:
  - Role: Admin, Producer, Consumer
  - RoleRecord: one append-only, soft-deletable grant

# Usage

Building an anchor feature entity:

	feature := types.Entity{
		Header: types.Header{
			ID:            uuid.New().String(),
			QualifiedName: "fraud_detection/user_features/is_new_user",
			Name:          "is_new_user",
			Kind:          types.KindAnchorFeature,
		},
		Attributes: types.AnchorFeatureAttributes{
			Type: types.ValueBoolean,
			Transformation: types.Transformation{
				Expression: "created_at > now() - interval '1 day'",
			},
			Keys: []types.TypedKey{{KeyColumn: "user_id", ValueType: types.ValueString}},
		},
	}

# Thread Safety

Values of these types are plain data; nothing here synchronizes concurrent
mutation. pkg/registry owns the locking discipline for the graph that holds
them.

# See Also

  - pkg/registry for the in-memory graph store built on these types
  - pkg/manager for the replicated state machine that applies commands
    carrying these types through the Raft log
  - pkg/mirror for the SQL write-through of entities and grants
*/
package types
