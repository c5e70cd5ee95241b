// Package mirror implements the optional SQL write-through and
// load-on-start behind the registry's MirrorBackend seam: entities, edges,
// and RBAC grants are kept in a relational backing store alongside the
// in-memory graph, without that store ever participating in consensus.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/types"
)

// Config configures dialect selection and table naming for a Sink.
type Config struct {
	ConnectionStr string
	EntityTable   string
	EdgeTable     string
	RBACTable     string
	EnableRBAC    bool

	// shardCount bounds the number of write-through workers; defaults to 8
	// when zero. Each entity_id hashes to exactly one shard, which is what
	// gives per-entity FIFO ordering without a single global bottleneck.
	shardCount int
}

func (c Config) tables() (entities, edges, roles string) {
	entities, edges, roles = c.EntityTable, c.EdgeTable, c.RBACTable
	if entities == "" {
		entities = "entities"
	}
	if edges == "" {
		edges = "edges"
	}
	if roles == "" {
		roles = "userroles"
	}
	return
}

// Sink is a MirrorBackend: it satisfies manager.MirrorSink for write-through
// and offers LoadInto for load-on-start, backed by a single database/sql
// handle whatever the underlying dialect.
type Sink struct {
	db     *sql.DB
	cfg    Config
	style  placeholderStyle
	shards []chan job
}

type jobKind int

const (
	jobUpsertEntity jobKind = iota
	jobDeleteEntity
	jobUpsertEdge
	jobUpsertRole
)

type job struct {
	kind   jobKind
	entity types.Entity
	id     string
	edge   types.Edge
	role   types.RoleRecord
}

// Open selects a driver by the connection string's scheme and opens the
// database. Recognized prefixes: "mysql://", "postgres://", "sqlite://".
func Open(connectionStr string) (*sql.DB, error) {
	driver, dsn, _, err := dialectFor(connectionStr)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s backing store: %w", driver, err)
	}
	return db, nil
}

// NewSink opens the backing store named by cfg.ConnectionStr, ensures the
// three mirror tables exist, and starts the write-through worker shards.
func NewSink(cfg Config) (*Sink, error) {
	_, _, style, err := dialectFor(cfg.ConnectionStr)
	if err != nil {
		return nil, err
	}
	db, err := Open(cfg.ConnectionStr)
	if err != nil {
		return nil, err
	}
	if cfg.shardCount == 0 {
		cfg.shardCount = 8
	}
	if err := ensureSchema(db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	s := &Sink{db: db, cfg: cfg, style: style, shards: make([]chan job, cfg.shardCount)}
	for i := range s.shards {
		s.shards[i] = make(chan job, 256)
		go s.runShard(s.shards[i])
	}
	return s, nil
}

// Close stops the write-through workers and closes the database handle.
// Pending jobs are allowed to drain before the handle closes.
func (s *Sink) Close() error {
	for _, ch := range s.shards {
		close(ch)
	}
	return s.db.Close()
}

func (s *Sink) shardFor(id string) chan job {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// MirrorEntity enqueues an idempotent upsert of e's row. Never blocks the
// caller beyond the shard's buffer; a full buffer applies backpressure to
// the apply path, which is considered acceptable since this channel only
// fills when the backing store is falling far behind.
func (s *Sink) MirrorEntity(e types.Entity) {
	metrics.MirrorQueueDepth.Inc()
	s.shardFor(e.ID) <- job{kind: jobUpsertEntity, entity: e}
}

// MirrorDeleteEntity enqueues a delete of entityID's row.
func (s *Sink) MirrorDeleteEntity(id string) {
	metrics.MirrorQueueDepth.Inc()
	s.shardFor(id) <- job{kind: jobDeleteEntity, id: id}
}

// MirrorEdge enqueues an idempotent upsert of one edge row.
func (s *Sink) MirrorEdge(e types.Edge) {
	metrics.MirrorQueueDepth.Inc()
	s.shardFor(e.FromID) <- job{kind: jobUpsertEdge, edge: e}
}

// MirrorRole enqueues an idempotent upsert of one RBAC grant row, including
// soft-deletes (DeleteTime set).
func (s *Sink) MirrorRole(rec types.RoleRecord) {
	if !s.cfg.EnableRBAC {
		return
	}
	metrics.MirrorQueueDepth.Inc()
	key := fmt.Sprintf("role-%d", rec.RecordID)
	s.shardFor(key) <- job{kind: jobUpsertRole, role: rec}
}

func (s *Sink) runShard(jobs chan job) {
	logger := log.WithComponent("mirror")
	for j := range jobs {
		metrics.MirrorQueueDepth.Dec()
		timer := metrics.NewTimer()
		op, err := s.apply(j)
		timer.ObserveDuration(metrics.MirrorWriteDuration)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			logger.Warn().Err(err).Str("op", op).Msg("mirror write-through failed, retries exhausted")
		}
		metrics.MirrorWritesTotal.WithLabelValues(op, outcome).Inc()
	}
}

// apply retries j against the database with exponential backoff, capped so
// a persistently broken backing store cannot retry forever and build an
// unbounded queue; it never blocks consensus since it runs off the apply
// path entirely.
func (s *Sink) apply(j job) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute

	var op string
	err := backoff.Retry(func() error {
		var execErr error
		switch j.kind {
		case jobUpsertEntity:
			op = "upsert_entity"
			execErr = s.upsertEntity(j.entity)
		case jobDeleteEntity:
			op = "delete_entity"
			execErr = s.deleteEntity(j.id)
		case jobUpsertEdge:
			op = "upsert_edge"
			execErr = s.upsertEdge(j.edge)
		case jobUpsertRole:
			op = "upsert_role"
			execErr = s.upsertRole(j.role)
		}
		return execErr
	}, bo)
	return op, err
}

func (s *Sink) upsertEntity(e types.Entity) error {
	content, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", e.ID, err)
	}
	entities, _, _ := s.cfg.tables()
	return s.upsert(entities, []string{"entity_id", "entity_content"}, []interface{}{e.ID, string(content)}, []string{"entity_id"})
}

func (s *Sink) deleteEntity(id string) error {
	entities, _, _ := s.cfg.tables()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	where := fmt.Sprintf("entity_id = %s", placeholders(s.style, 1)[0])
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", entities, where), id)
	return err
}

func (s *Sink) upsertEdge(e types.Edge) error {
	_, edges, _ := s.cfg.tables()
	return s.upsert(edges, []string{"from_id", "to_id", "edge_type"}, []interface{}{e.FromID, e.ToID, string(e.Type)}, []string{"from_id", "to_id", "edge_type"})
}

func (s *Sink) upsertRole(rec types.RoleRecord) error {
	_, _, roles := s.cfg.tables()
	var deleteTime interface{}
	if rec.DeleteTime != nil {
		deleteTime = rec.DeleteTime.UTC()
	}
	return s.upsert(roles,
		[]string{"record_id", "project_name", "user_name", "role_name", "create_by", "create_reason", "create_time", "delete_by", "delete_reason", "delete_time"},
		[]interface{}{rec.RecordID, rec.ProjectName, rec.UserName, string(rec.RoleName), rec.CreateBy, rec.CreateReason, rec.CreateTime.UTC(), rec.DeleteBy, rec.DeleteReason, deleteTime},
		[]string{"record_id"},
	)
}

// upsert issues a dialect-agnostic delete-then-insert inside one
// transaction, which is idempotent by primary key and avoids depending on a
// dialect-specific UPSERT/ON CONFLICT clause.
func (s *Sink) upsert(table string, cols []string, vals []interface{}, pkCols []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	pkVals := make([]interface{}, len(pkCols))
	pkIndex := make(map[string]int, len(cols))
	for i, c := range cols {
		pkIndex[c] = i
	}
	for i, c := range pkCols {
		pkVals[i] = vals[pkIndex[c]]
	}
	wherePlaceholders := placeholders(s.style, len(pkCols))
	conditions := make([]string, len(pkCols))
	for i, c := range pkCols {
		conditions[i] = fmt.Sprintf("%s = %s", c, wherePlaceholders[i])
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(conditions, " AND "))
	if _, err := tx.ExecContext(ctx, deleteSQL, pkVals...); err != nil {
		return fmt.Errorf("delete existing row in %s: %w", table, err)
	}

	insertPlaceholders := placeholders(s.style, len(cols))
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), joinCols(insertPlaceholders))
	if _, err := tx.ExecContext(ctx, insertSQL, vals...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// LoadInto populates store from the current contents of the three mirror
// tables. Only one node in a cluster should call this, or each node must
// target a disjoint database — enforcing otherwise is explicitly left to
// the caller.
func (s *Sink) LoadInto(store *registry.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entities, edgesTable, rolesTable := s.cfg.tables()

	entityRows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT entity_id, entity_content FROM %s", entities))
	if err != nil {
		return fmt.Errorf("query %s: %w", entities, err)
	}
	defer entityRows.Close()

	byID := make(map[string]types.Entity)
	for entityRows.Next() {
		var id, content string
		if err := entityRows.Scan(&id, &content); err != nil {
			return fmt.Errorf("scan %s row: %w", entities, err)
		}
		var e types.Entity
		if err := json.Unmarshal([]byte(content), &e); err != nil {
			return fmt.Errorf("decode entity %s: %w", id, err)
		}
		byID[e.ID] = e
	}
	if err := entityRows.Err(); err != nil {
		return err
	}

	edgeRows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT from_id, to_id, edge_type FROM %s", edgesTable))
	if err != nil {
		return fmt.Errorf("query %s: %w", edgesTable, err)
	}
	defer edgeRows.Close()

	var edges []restoreEdge
	belongsTo := make(map[string]string)
	for edgeRows.Next() {
		var from, to, edgeType string
		if err := edgeRows.Scan(&from, &to, &edgeType); err != nil {
			return fmt.Errorf("scan %s row: %w", edgesTable, err)
		}
		edges = append(edges, restoreEdge{From: from, To: to, Type: types.EdgeType(edgeType)})
		if types.EdgeType(edgeType) == types.EdgeBelongsTo {
			belongsTo[from] = to
		}
	}
	if err := edgeRows.Err(); err != nil {
		return err
	}

	var roles []types.RoleRecord
	if s.cfg.EnableRBAC {
		roleRows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			"SELECT record_id, project_name, user_name, role_name, create_by, create_reason, create_time, delete_by, delete_reason, delete_time FROM %s", rolesTable))
		if err != nil {
			return fmt.Errorf("query %s: %w", rolesTable, err)
		}
		defer roleRows.Close()
		for roleRows.Next() {
			var rec types.RoleRecord
			var roleName string
			var deleteTime sql.NullTime
			if err := roleRows.Scan(&rec.RecordID, &rec.ProjectName, &rec.UserName, &roleName, &rec.CreateBy, &rec.CreateReason, &rec.CreateTime, &rec.DeleteBy, &rec.DeleteReason, &deleteTime); err != nil {
				return fmt.Errorf("scan %s row: %w", rolesTable, err)
			}
			rec.RoleName = types.Role(roleName)
			if deleteTime.Valid {
				t := deleteTime.Time
				rec.DeleteTime = &t
			}
			roles = append(roles, rec)
		}
		if err := roleRows.Err(); err != nil {
			return err
		}
	}

	nodes := make([]restoreNode, 0, len(byID))
	seq := 0
	for id, e := range byID {
		seq++
		nodes = append(nodes, restoreNode{Entity: e, ProjectID: projectIDFor(id, byID, belongsTo), Seq: seq})
	}

	doc := restoreDoc{Version: 1, Seq: seq, Nodes: nodes, Edges: edges, Roles: roles}
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal restore doc: %w", err)
	}
	return store.Restore(blob)
}

// projectIDFor walks BelongsTo edges from id until it reaches a Project
// entity (or gives up after len(byID) hops, which bounds a malformed or
// cyclic edge table).
func projectIDFor(id string, byID map[string]types.Entity, belongsTo map[string]string) string {
	cur := id
	for i := 0; i < len(byID)+1; i++ {
		e, ok := byID[cur]
		if !ok {
			return cur
		}
		if e.Kind == types.KindProject {
			return e.ID
		}
		next, ok := belongsTo[cur]
		if !ok {
			return cur
		}
		cur = next
	}
	return cur
}

// restoreNode/restoreEdge/restoreDoc mirror the JSON shape registry.Store's
// Snapshot/Restore use internally; mirror builds a blob in this shape from
// SQL rows rather than reaching into registry's unexported snapshot types.
type restoreNode struct {
	Entity    types.Entity `json:"entity"`
	ProjectID string       `json:"project_id"`
	Seq       int          `json:"seq"`
}

type restoreEdge struct {
	From string         `json:"from_id"`
	To   string         `json:"to_id"`
	Type types.EdgeType `json:"edge_type"`
}

type restoreDoc struct {
	Version int                `json:"version"`
	Seq     int                `json:"seq"`
	Nodes   []restoreNode      `json:"nodes"`
	Edges   []restoreEdge      `json:"edges"`
	Roles   []types.RoleRecord `json:"roles"`
}
