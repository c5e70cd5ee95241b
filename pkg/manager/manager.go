package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/storage"
	"github.com/hashicorp/raft"
)

// Raft timing per the node's concrete election/heartbeat choices: a
// randomized election timeout in [150ms, 300ms) and a 50ms heartbeat.
// hashicorp/raft randomizes a follower's wait in [ElectionTimeout,
// 2*ElectionTimeout), so ElectionTimeout=150ms reproduces that range
// directly rather than needing a min/max pair of our own.
const (
	heartbeatTimeout   = 50 * time.Millisecond
	electionTimeout    = 150 * time.Millisecond
	leaderLeaseTimeout = 50 * time.Millisecond
	commitTimeout      = 50 * time.Millisecond

	// snapshotThreshold is the default log-entry count boundary that
	// triggers a snapshot and subsequent log compaction.
	snapshotThreshold = 5000

	// applyTimeout is the default RPC deadline for a client mutation.
	applyTimeout = 2 * time.Second

	membershipChangeTimeout = 10 * time.Second
)

// Config holds the parameters needed to start a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	ExtAddr  string
	DataDir  string
	Mirror   MirrorSink
}

// Manager owns the Raft node, the replicated state machine, and the
// registry store it wraps. It is the single point through which mutations
// are proposed and through which reads are served, linearizable or not.
type Manager struct {
	nodeID   string
	bindAddr string
	extAddr  string
	dataDir  string

	raft    *raft.Raft
	fsm     *FSM
	store   *registry.Store
	backend *storage.RaftBackend
	addrs   *addrBook
}

// NewManager constructs a Manager without starting Raft; call Bootstrap for
// the first node in a cluster or Start for every other node.
func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	backend, err := storage.OpenRaftBackend(cfg.DataDir, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft backend: %w", err)
	}

	store := registry.NewStore()
	fsm := NewFSM(store, cfg.Mirror)

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		extAddr:  cfg.ExtAddr,
		dataDir:  cfg.DataDir,
		fsm:      fsm,
		store:    store,
		backend:  backend,
		addrs:    newAddrBook(),
	}, nil
}

func (m *Manager) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(m.nodeID)
	cfg.HeartbeatTimeout = heartbeatTimeout
	cfg.ElectionTimeout = electionTimeout
	cfg.LeaderLeaseTimeout = leaderLeaseTimeout
	cfg.CommitTimeout = commitTimeout
	cfg.SnapshotThreshold = snapshotThreshold
	return cfg
}

func (m *Manager) newTransport() (*raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}
	return transport, nil
}

// startRaft is idempotent: it binds the Raft transport and constructs the
// raft.Raft instance on first call only, so that Start() (called once by
// main for every node) and Bootstrap() (called additionally by node 1, or
// by a later POST /init) can both route through it without the second
// caller re-binding the already-open transport address.
func (m *Manager) startRaft() error {
	if m.raft != nil {
		return nil
	}
	transport, err := m.newTransport()
	if err != nil {
		return err
	}
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, m.backend.LogStore, m.backend.StableStore, m.backend.SnapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft node: %w", err)
	}
	m.raft = r
	return nil
}

// Bootstrap commits an initial single-node membership {self}. Only a fresh
// node with no prior log should call this; every subsequent node is added
// by the current leader via AddLearner + ChangeMembership. Safe to call
// after Start() has already brought up the Raft node (startRaft no-ops in
// that case); BootstrapCluster itself rejects a node that already has a
// configuration, so a second call — or a call against a node that joined
// an existing cluster — returns an error rather than corrupting state.
func (m *Manager) Bootstrap() error {
	if err := m.startRaft(); err != nil {
		return err
	}
	cfg := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(m.nodeID), Address: raft.ServerAddress(m.advertiseAddr())}},
	}
	future := m.raft.BootstrapCluster(cfg)
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	return nil
}

// Start brings up the Raft node without bootstrapping a new cluster. The
// node idles as a bare follower until an existing leader adds it as a
// learner and, later, promotes it — the address it should be reached at was
// already published out of band via --ext-http-addr.
func (m *Manager) Start() error {
	return m.startRaft()
}

func (m *Manager) advertiseAddr() string {
	if m.extAddr != "" {
		return m.extAddr
	}
	return m.bindAddr
}

// AddLearner adds nodeID/raftAddr as a non-voting member so it can receive
// the log (or a snapshot) before being promoted, and records httpAddr as
// the client-facing address that node publishes, so a later redirect to
// this node (once promoted to leader) has somewhere to point. Leader-only.
func (m *Manager) AddLearner(nodeID, raftAddr, httpAddr string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not started")
	}
	if !m.IsLeader() {
		return &registry.Error{Kind: registry.KindNotLeader, Message: "not the leader"}
	}
	future := m.raft.AddNonvoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, membershipChangeTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add learner: %w", err)
	}
	if httpAddr != "" {
		m.RegisterPeerAddr(nodeID, httpAddr)
	}
	return nil
}

// ChangeMembership transitions the voting set to exactly the given node
// ids, each of which must already be a known server (added via AddLearner).
// It is committed as a log entry under the old configuration before the new
// one takes effect, which is exactly what AddVoter/RemoveServer do here.
func (m *Manager) ChangeMembership(nodeIDs []string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not started")
	}
	if !m.IsLeader() {
		return &registry.Error{Kind: registry.KindNotLeader, Message: "not the leader"}
	}

	want := make(map[raft.ServerID]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		want[raft.ServerID(id)] = true
	}

	configFuture := m.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return fmt.Errorf("get configuration: %w", err)
	}

	byID := make(map[raft.ServerID]raft.Server)
	for _, srv := range configFuture.Configuration().Servers {
		byID[srv.ID] = srv
	}

	for id := range want {
		srv, known := byID[id]
		if !known {
			return fmt.Errorf("node %s must be added as a learner before membership change", id)
		}
		if srv.Suffrage != raft.Voter {
			if err := m.raft.AddVoter(id, srv.Address, 0, membershipChangeTimeout).Error(); err != nil {
				return fmt.Errorf("promote %s to voter: %w", id, err)
			}
		}
	}
	for id, srv := range byID {
		if srv.Suffrage == raft.Voter && !want[id] {
			if err := m.raft.RemoveServer(id, 0, membershipChangeTimeout).Error(); err != nil {
				return fmt.Errorf("remove %s: %w", id, err)
			}
		}
	}
	return nil
}

// RemoveServer removes a server from the cluster entirely. Leader-only.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not started")
	}
	if !m.IsLeader() {
		return &registry.Error{Kind: registry.KindNotLeader, Message: "not the leader"}
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, membershipChangeTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the current Raft membership.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not started")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's advertised Raft transport
// address, or "" if no leader is known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the current leader's node id, or "" if no leader is
// known.
func (m *Manager) LeaderID() string {
	if m.raft == nil {
		return ""
	}
	_, id := m.raft.LeaderWithID()
	return string(id)
}

// Stats reports the fields the /metrics cluster-management endpoint
// exposes: term, leader, last_log, last_applied, membership.
func (m *Manager) Stats() map[string]interface{} {
	if m.raft == nil {
		return map[string]interface{}{"state": "stopped"}
	}
	stats := m.raft.Stats()
	servers, _ := m.GetClusterServers()
	return map[string]interface{}{
		"node_id":          m.nodeID,
		"state":            m.raft.State().String(),
		"term":             stats["term"],
		"leader":           string(m.raft.Leader()),
		"leader_http_addr": m.LeaderHTTPAddr(),
		"last_log_index":   m.raft.LastIndex(),
		"last_applied":     m.raft.AppliedIndex(),
		"membership":       servers,
	}
}

// EnsureLinearizable issues a read-index barrier: it confirms this node is
// still leader via a heartbeat quorum before a linearizable=true read is
// served.
func (m *Manager) EnsureLinearizable() error {
	if m.raft == nil {
		return &registry.Error{Kind: registry.KindNoLeader, Message: "raft not started"}
	}
	if err := m.raft.VerifyLeader().Error(); err != nil {
		return &registry.Error{Kind: registry.KindNotLeader, Message: "lost leadership during read barrier", Cause: err}
	}
	return nil
}

// Store exposes the registry for direct reads. Callers that need a
// linearizable read must call EnsureLinearizable first.
func (m *Manager) Store() *registry.Store { return m.store }

// NodeID returns this node's configured Raft server id.
func (m *Manager) NodeID() string { return m.nodeID }

// Apply proposes op/data as a log entry and blocks until it is committed
// and applied, returning the state machine's outcome. Non-leaders get back
// a NotLeader error carrying the current leader's address so the API shim
// can redirect; if no leader is known, NoLeader is returned instead.
func (m *Manager) Apply(ctx context.Context, op Op, data interface{}) (ApplyResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return ApplyResult{}, &registry.Error{Kind: registry.KindNoLeader, Message: "raft not started"}
	}
	if !m.IsLeader() {
		if m.LeaderAddr() == "" {
			return ApplyResult{}, &registry.Error{Kind: registry.KindNoLeader, Message: "no elected leader"}
		}
		redirect := m.LeaderHTTPAddr()
		if redirect == "" {
			redirect = m.LeaderAddr()
		}
		return ApplyResult{}, &registry.Error{Kind: registry.KindNotLeader, Message: "redirect to " + redirect}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("marshal command data: %w", err)
	}
	cmd := Command{Op: op, Data: payload}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("marshal command: %w", err)
	}

	deadline := applyTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 {
			deadline = remaining
		}
	}

	future := m.raft.Apply(encoded, deadline)
	if err := future.Error(); err != nil {
		return ApplyResult{}, &registry.Error{Kind: registry.KindStorageError, Message: "raft apply failed", Cause: err}
	}

	result, ok := future.Response().(ApplyResult)
	if !ok {
		return ApplyResult{}, fmt.Errorf("unexpected apply response type %T", future.Response())
	}
	return result, result.Err
}

// Shutdown stops the Raft node and releases its storage handles.
func (m *Manager) Shutdown() error {
	if m.raft == nil {
		return nil
	}
	if err := m.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("shutdown raft: %w", err)
	}
	return nil
}
