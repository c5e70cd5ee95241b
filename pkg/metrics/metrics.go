package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_entities_total",
			Help: "Total number of entities by kind",
		},
		[]string{"kind"},
	)

	RoleGrantsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_role_grants_active_total",
			Help: "Total number of active (non-revoked) RBAC role grants",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Raft operation metrics
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in the state machine, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry (propose to applied), in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Mirror metrics
	MirrorWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_mirror_writes_total",
			Help: "Total number of SQL mirror write-through operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	MirrorWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_mirror_write_duration_seconds",
			Help:    "Time taken for a mirror write-through operation, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MirrorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_mirror_queue_depth",
			Help: "Number of pending mirror write-through operations",
		},
	)

	// Search metrics
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_search_duration_seconds",
			Help:    "Time taken to rank and return a search query, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(EntitiesTotal)
	prometheus.MustRegister(RoleGrantsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(MirrorWritesTotal)
	prometheus.MustRegister(MirrorWriteDuration)
	prometheus.MustRegister(MirrorQueueDepth)
	prometheus.MustRegister(SearchDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
