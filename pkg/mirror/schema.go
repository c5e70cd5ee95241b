package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ensureSchema creates the three mirror tables if they do not already
// exist. The column types below are intentionally the least common
// denominator across MySQL, PostgreSQL, and SQLite.
func ensureSchema(db *sql.DB, cfg Config) error {
	entities, edges, roles := cfg.tables()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_id TEXT PRIMARY KEY,
			entity_content TEXT NOT NULL
		)`, entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, edge_type)
		)`, edges),
	}
	if cfg.EnableRBAC {
		statements = append(statements, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			record_id INTEGER PRIMARY KEY,
			project_name TEXT NOT NULL,
			user_name TEXT NOT NULL,
			role_name TEXT NOT NULL,
			create_by TEXT,
			create_reason TEXT,
			create_time TIMESTAMP NOT NULL,
			delete_by TEXT,
			delete_reason TEXT,
			delete_time TIMESTAMP
		)`, roles))
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure mirror schema: %w", err)
		}
	}
	return nil
}
