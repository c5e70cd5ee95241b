/*
Package registry is the deterministic, single-writer custody layer for the
feature registry graph: projects, sources, anchor groups, anchor features,
and derived features, linked by BelongsTo/Contains and Consumes/Produces
edge pairs, plus the append-only RBAC grant table replicated alongside it.

# Architecture

Store holds four index families kept coherent by every mutation:

  - nodes: id -> entity
  - byQualifiedName: qualified_name -> id
  - byProjectKind: (project_id, kind) -> set of ids
  - out/in: id -> edge_type -> set of neighbor ids

Edges are always inserted as an inverse pair (addEdgePairLocked), so
BelongsTo and Contains, or Consumes and Produces, can never exist
independently of one another.

# Determinism

Store never consults wall-clock time or randomness; every field that varies
across replicas (ids, timestamps) is supplied by the caller, which in
practice is the leader-assigned value carried in a committed pkg/manager
command. Given the same sequence of Create/Delete/Tag/Grant/Revoke calls
with the same arguments, every replica's Store reaches bit-identical state.

# Failure semantics

Every mutation method either fully applies or returns an *Error and leaves
the store untouched; there is no partial-apply path. Index corruption is not
expected to occur under normal operation and is not defended against here —
pkg/manager treats a panic from this package as fatal.

# See Also

  - pkg/manager for the replicated state machine driving this store
  - pkg/mirror for the SQL write-through of the same mutations
  - pkg/types for the entity, edge, and RBAC record shapes
*/
package registry
