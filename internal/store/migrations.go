package store

import (
	"database/sql"
	"fmt"

	"vcycle/internal/logging"
)

// Schema versions:
// v1: initial tables (metrics, patterns, strategies, cycles, events, snapshots, experiments)
// v2: patterns.context column for spectrum-scoped search
const CurrentSchemaVersion = 2

// Migration adds a column to an existing table. Additive only; nothing
// here ever rewrites or drops data.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []Migration{
	{"patterns", "context", "TEXT NOT NULL DEFAULT ''"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return err
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return err
		}
		version = 1
	} else if err != nil {
		return err
	}

	if version >= CurrentSchemaVersion {
		logging.StoreDebug("Schema already at v%d", version)
		return nil
	}

	logging.Store("Migrating schema v%d -> v%d (%d column migrations)",
		version, CurrentSchemaVersion, len(pendingMigrations))

	for _, m := range pendingMigrations {
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Added column %s.%s", m.Table, m.Column)
	}

	if _, err := db.Exec("UPDATE schema_version SET version = ?", CurrentSchemaVersion); err != nil {
		return err
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
