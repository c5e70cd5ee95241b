// Package storage provides the persistent log, hard state, and snapshot
// storage the Raft node is built on: an embedded ordered key-value store
// (bbolt, via raft-boltdb) for the log and hard state, plus Raft's own
// file-based snapshot store for full-state blobs.
package storage

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftBackend is the narrow capability interface pkg/manager drives the
// Raft node through: log/stable store IO and snapshot IO, with no
// awareness of the registry domain.
type RaftBackend struct {
	LogStore     raft.LogStore
	StableStore  raft.StableStore
	SnapshotStore raft.SnapshotStore
}

// retainSnapshots bounds how many snapshot generations are kept on disk
// before the oldest is pruned.
const retainSnapshots = 2

// OpenRaftBackend opens (creating if absent) the log store, stable store,
// and snapshot store rooted at dataDir. The log and the stable store
// (current term and vote) are two separate bbolt files, so log entries and
// HardState are not written in one shared transaction; the entries of a
// single StoreLogs call are written in one bbolt transaction.
func OpenRaftBackend(dataDir string, logOutput io.Writer) (*RaftBackend, error) {
	logStorePath := filepath.Join(dataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}

	stableStorePath := filepath.Join(dataDir, "raft-stable.db")
	stableStore, err := raftboltdb.NewBoltStore(stableStorePath)
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(dataDir, retainSnapshots, logOutput)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	return &RaftBackend{LogStore: logStore, StableStore: stableStore, SnapshotStore: snapshotStore}, nil
}
