package metrics

import (
	"time"

	"github.com/cuemby/warren/pkg/registry"
	"github.com/hashicorp/raft"
)

// Source is the subset of *manager.Manager the Collector samples. It is an
// interface so that this package does not import pkg/manager, which itself
// imports pkg/metrics.
type Source interface {
	Store() *registry.Store
	IsLeader() bool
	Stats() map[string]interface{}
	GetClusterServers() ([]raft.Server, error)
}

// Collector periodically samples the manager and registry store into the
// gauges this package exposes, rather than updating them inline on every
// mutation.
type Collector struct {
	manager Source
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector for mgr.
func NewCollector(mgr Source) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectEntityMetrics()
	c.collectRBACMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectEntityMetrics() {
	store := c.manager.Store()
	if store == nil {
		return
	}
	for kind, count := range store.CountByKind() {
		EntitiesTotal.WithLabelValues(string(kind)).Set(float64(count))
	}
}

func (c *Collector) collectRBACMetrics() {
	store := c.manager.Store()
	if store == nil {
		return
	}
	active := 0
	for _, rec := range store.AllRoleRecords() {
		if !rec.Deleted() {
			active++
		}
	}
	RoleGrantsTotal.Set(float64(active))
}

func (c *Collector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.manager.Stats()
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["last_applied"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	servers, err := c.manager.GetClusterServers()
	if err == nil {
		RaftPeers.Set(float64(len(servers)))
	}
}
