/*
Package manager wires the replicated state machine (FSM) to a Raft node and
exposes the resulting cluster as a single registry.

# Architecture

	┌───────────────────────── NODE ──────────────────────────┐
	│                                                           │
	│  ┌───────────────────────────────────────────┐          │
	│  │                 Manager                     │          │
	│  │  - Proposes commands, blocks on commit      │          │
	│  │  - Rejects writes when not leader           │          │
	│  │  - Serves linearizable reads via read-index │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │            hashicorp/raft node                │          │
	│  │  - Leader election, log replication           │          │
	│  │  - Per-entry ApplyFuture keyed by log index   │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │                   FSM                         │          │
	│  │  - Applies committed Command entries          │          │
	│  │  - Snapshot()/Restore() over registry.Store   │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │             registry.Store                    │          │
	│  │  - In-memory entity graph + RBAC table        │          │
	│  └───────────────────────────────────────────────┘         │
	│                                                           │
	│  pkg/storage: Raft log/stable store + snapshot store     │
	└───────────────────────────────────────────────────────────┘

# Command flow

Every mutation (create/delete/tag an entity, grant/revoke a role) is
marshaled into a Command and proposed with Manager.Apply, which blocks on
the resulting raft.ApplyFuture. The future is already keyed internally by
the log index Raft assigned the entry, which is what realizes a
per-proposal completion signal — no separate channel bookkeeping is kept on
top of it. The FSM's Apply return value (an ApplyResult) is handed back
verbatim as the future's response.

A write proposed against a non-leader fails fast with a NotLeader error
carrying the current leader's address, so an HTTP-layer caller can redirect
rather than time out waiting for a commit that will never happen locally.

# Membership

A fresh cluster is formed by calling Bootstrap on exactly one node, which
commits a single-server configuration naming itself. Every other node calls
Start and sits idle until the leader calls AddLearner to admit it as a
non-voter (so it can catch up via snapshot + log replay without affecting
quorum size) and, later, ChangeMembership to promote it to voter and/or
retire existing voters in the same call.

# Timing

Heartbeat, election, leader-lease, and commit timeouts are fixed constants
rather than being configurable per deployment; hashicorp/raft randomizes a
follower's election wait between ElectionTimeout and 2*ElectionTimeout, so
setting ElectionTimeout to 150ms alone reproduces a [150ms, 300ms) spread
without a separate min/max pair.

# See Also

  - pkg/registry for the state the FSM applies commands to
  - pkg/storage for the Raft log/stable/snapshot backend
  - pkg/mirror for the optional SQL write-through the FSM calls into
  - pkg/api for the HTTP surface built on top of Manager
*/
package manager
