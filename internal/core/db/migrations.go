package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/cascade/migrations"
)

// schemaTable tracks applied migrations. TIMESTAMP columns scan as time.Time
// on both drivers.
const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	execution_ms BIGINT NOT NULL
)`

// MigrationStatus reports one embedded migration against the database.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

type appliedRow struct {
	Version     string       `db:"version"`
	Checksum    string       `db:"checksum"`
	AppliedAt   sql.NullTime `db:"applied_at"`
	ExecutionMs int64        `db:"execution_ms"`
}

// MigrateUp applies pending migrations in filename order and returns the ids
// it applied. Each migration commits together with its bookkeeping row.
// An applied migration whose embedded file changed aborts the run.
func MigrateUp(db *sqlx.DB) ([]string, error) {
	pending, err := plan(db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range pending {
		if err := apply(db, m); err != nil {
			return ran, err
		}
		ran = append(ran, m.ID)
	}
	return ran, nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	all, err := embedded(db.DriverName())
	if err != nil {
		return nil, err
	}
	rows, err := appliedRows(db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(all))
	for _, m := range all {
		st := MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		if r, ok := rows[m.ID]; ok {
			st.Applied = true
			st.Checksum = r.Checksum
			st.ExecutionMs = r.ExecutionMs
			if r.AppliedAt.Valid {
				at := r.AppliedAt.Time.UTC()
				st.AppliedAt = &at
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// plan returns the embedded migrations not yet applied. SHA256 checksums
// detect edits to applied migrations.
func plan(db *sqlx.DB) ([]migration, error) {
	all, err := embedded(db.DriverName())
	if err != nil {
		return nil, err
	}
	rows, err := appliedRows(db)
	if err != nil {
		return nil, err
	}

	known := make(map[string]string, len(all))
	var pending []migration
	for _, m := range all {
		known[m.ID] = m.Checksum
		r, ok := rows[m.ID]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if r.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration checksum validation failed: checksum mismatch for migration %s: expected %s, got %s", m.ID, m.Checksum, r.Checksum)
		}
	}
	for id := range rows {
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("migration checksum validation failed: migration %s exists in database but not in embedded files", id)
		}
	}
	return pending, nil
}

// embedded reads the driver's migration files sorted by filename.
func embedded(driver string) ([]migration, error) {
	fsys, err := migrations.ForDriver(driver)
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			ID:       path.Base(name),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	return out, nil
}

// appliedRows creates the tracking table when missing and returns its rows
// keyed by version.
func appliedRows(db *sqlx.DB) (map[string]appliedRow, error) {
	if _, err := db.Exec(schemaTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	var rows []appliedRow
	if err := db.Select(&rows, "SELECT version, checksum, applied_at, execution_ms FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	out := make(map[string]appliedRow, len(rows))
	for _, r := range rows {
		out[r.Version] = r
	}
	return out, nil
}

func apply(db *sqlx.DB, m migration) error {
	start := time.Now()
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range splitStatements(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: statement %d: %w", m.ID, i+1, err)
		}
	}
	_, err = tx.Exec(
		tx.Rebind("INSERT INTO schema_migrations (version, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, time.Now().UTC(), time.Since(start).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return nil
}

// splitStatements splits a script on semicolons and drops comment lines.
// lib/pq rejects multiple statements in one Exec.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if s := strings.TrimSpace(strings.Join(lines, "\n")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
