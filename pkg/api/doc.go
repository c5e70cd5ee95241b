/*
Package api is the thin JSON HTTP shim the registry core is driven
through. It is deliberately small: the interesting engineering lives in
pkg/registry (graph invariants) and pkg/manager (replication); this package
only translates HTTP requests into manager.Manager.Apply proposals or
direct registry.Store reads, and translates registry.Error values back into
the HTTP status codes of the error taxonomy.

# Client API

Every entity-mutation and entity-read route is mounted twice, under both
the v1 and v2 prefixes of the configured --api-base (default "/api"), since
the two currently carry identical semantics:

	POST   {base}/v1/projects
	GET    {base}/v1/projects
	GET    {base}/v1/projects/{project}
	DELETE {base}/v1/projects/{project}
	POST   {base}/v1/projects/{project}/datasources
	GET    {base}/v1/projects/{project}/datasources
	POST   {base}/v1/projects/{project}/anchorgroups
	GET    {base}/v1/projects/{project}/anchorgroups
	POST   {base}/v1/projects/{project}/anchorgroups/{group}/features
	POST   {base}/v1/projects/{project}/features
	GET    {base}/v1/projects/{project}/features
	GET    {base}/v1/projects/{project}/features/{feature}/lineage
	DELETE {base}/v1/entities/{id}
	POST   {base}/v1/entities/{id}/tags
	GET    {base}/v1/search
	POST   {base}/v1/rbac/grant
	POST   {base}/v1/rbac/revoke
	GET    {base}/v1/rbac

The three rbac routes are mounted only when RBAC is enabled (ENABLE_RBAC).

A GET accepts ?linearizable=true to force a read-index barrier
(manager.Manager.EnsureLinearizable) before being served from the local
store; without it, reads are local and may lag the replication window.

A mutation proposed at a non-leader node comes back as a registry.Error of
Kind NotLeader; the HTTP layer turns that into a 307 redirect at the
leader's advertised client address (empty-leader-address cases fall back to
503 NoLeader) rather than silently proxying the call.

# Cluster management

	POST /init                 bootstrap a single-node cluster
	POST /add-learner          body: [node_id, raft_addr, http_addr]
	POST /change-membership    body: [node_id, ...]
	GET  /metrics              Raft term/leader/last_log/last_applied/membership

These are guarded by the x-registry-management-code header when
RAFT_MANAGEMENT_CODE is set in the environment; unset, they are open, per
the spec's explicit Open Question on this point.

AppendEntries/RequestVote/InstallSnapshot are not exposed as HTTP routes
here: pkg/manager hands that whole wire protocol to hashicorp/raft's own
TCP transport rather than reimplementing it, so there is nothing for this
package to route for them.
*/
package api
