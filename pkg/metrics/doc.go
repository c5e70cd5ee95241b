/*
Package metrics defines and registers the Prometheus metrics exposed by a
registry node, plus small health/readiness/liveness HTTP handlers for probes.

# Catalog

Registry:
  - registry_entities_total{kind}: current entity count by kind
  - registry_role_grants_active_total: non-revoked RBAC grants

Raft:
  - registry_raft_is_leader, registry_raft_peers_total
  - registry_raft_log_index, registry_raft_applied_index
  - registry_raft_apply_duration_seconds, registry_raft_commit_duration_seconds

API:
  - registry_api_requests_total{method,status}
  - registry_api_request_duration_seconds{method}

Mirror:
  - registry_mirror_writes_total{op,outcome}
  - registry_mirror_write_duration_seconds
  - registry_mirror_queue_depth

Search:
  - registry_search_duration_seconds

# Usage

	timer := metrics.NewTimer()
	result, err := mgr.Apply(ctx, manager.OpCreateProject, args)
	timer.ObserveDuration(metrics.RaftCommitDuration)

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/healthz", metrics.HealthHandler())
	http.HandleFunc("/readyz", metrics.ReadyHandler())

Collector periodically samples a *manager.Manager into the gauges above,
rather than requiring every call site to update them inline:

	c := metrics.NewCollector(mgr)
	c.Start()
	defer c.Stop()

# See Also

  - pkg/manager for the Raft node these metrics describe
  - pkg/api for the HTTP handlers instrumented with APIRequestDuration
*/
package metrics
