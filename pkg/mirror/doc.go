/*
Package mirror is the optional relational write-through and load-on-start
behind the registry's MirrorBackend seam.

Two modes, orthogonally enabled:

  - Load-on-start: Sink.LoadInto reads every row out of the entities, edges,
    and (if RBAC is enabled) userroles tables and restores a registry.Store
    from them directly, deriving each entity's owning project by walking
    BelongsTo edges up to a Project entity. Only one node in a cluster
    should do this, or nodes must target disjoint databases — nothing here
    enforces that.
  - Write-through: a Sink implements manager.MirrorSink and fans each
    mutation out to one of a fixed number of shard workers, keyed by a hash
    of the affected entity/record id so that writes to the same row stay
    in commit order without serializing writes to unrelated rows. Each
    write retries with exponential backoff and is logged (not escalated)
    on exhaustion — a broken backing store never blocks consensus.

# Dialects

Driver selection is by connection-string prefix: "mysql://" (go-sql-driver/
mysql), "postgres://" (pgx stdlib), "sqlite://" (ncruces/go-sqlite3, a
CGo-free driver). SQL Server has no driver in the example pool this was
built from and is intentionally not supported.

# Usage

	sink, err := mirror.NewSink(mirror.Config{
		ConnectionStr: os.Getenv("CONNECTION_STR"),
		EntityTable:   "entities",
		EdgeTable:     "edges",
		RBACTable:     "userroles",
		EnableRBAC:    os.Getenv("ENABLE_RBAC") != "",
	})
	if err != nil {
		log.Fatal(err.Error())
	}
	defer sink.Close()

	if loadOnStart {
		if err := sink.LoadInto(store); err != nil {
			log.Fatal(err.Error())
		}
	}

	fsm := manager.NewFSM(store, sink)

# See Also

  - pkg/manager for the FSM that calls into a Sink after every commit
  - pkg/registry for the Store a Sink loads into and mirrors
*/
package mirror
