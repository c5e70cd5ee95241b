/*
Package storage is the Raft Storage component: persistent log, hard state,
and snapshot storage on a local embedded key-value store.

The entity graph itself lives in memory (pkg/registry) and is never written
to this package directly; what lives here is exactly what hashicorp/raft
needs to survive a restart — the replicated log, the current term and vote,
and periodic full-state snapshots of the FSM.

# Usage

	backend, err := storage.OpenRaftBackend(dataDir, os.Stderr)
	r, err := raft.NewRaft(cfg, fsm, backend.LogStore, backend.StableStore, backend.SnapshotStore, transport)

# See Also

  - pkg/manager for the Raft node built on this backend
  - pkg/registry for the in-memory state the snapshots capture
*/
package storage
