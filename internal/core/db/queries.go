package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries provides access to named SQL queries loaded from embedded .sql files.
// Uses dotsql for named query management and sqlx for database operations.
// A Queries returned by InTx runs every statement inside that transaction.
type Queries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// LoadQueries parses every embedded queries/*.sql file and returns a Queries
// bound to db. Query names must be unique across files.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	files, err := fs.Glob(queriesFS, "queries/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}
	sort.Strings(files)

	owner := make(map[string]string)
	dots := make([]*dotsql.DotSql, 0, len(files))
	for _, file := range files {
		content, err := queriesFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		dot, err := dotsql.LoadFromString(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		for name := range dot.QueryMap() {
			if prev, ok := owner[name]; ok {
				return nil, fmt.Errorf("query %q defined in both %s and %s", name, prev, file)
			}
			owner[name] = file
		}
		dots = append(dots, dot)
	}

	return &Queries{dot: dotsql.Merge(dots...), db: db, ext: db}, nil
}

// raw returns the named query with placeholders rebound for the driver.
// Uses sqlx Rebind to convert ? placeholders to $1, $2 for PostgreSQL.
func (q *Queries) raw(name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return q.ext.Rebind(query), nil
}

// Exec executes a named query.
func (q *Queries) Exec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	query, err := q.raw(name)
	if err != nil {
		return nil, err
	}
	return q.ext.ExecContext(ctx, query, args...)
}

// Get retrieves a single row into dest struct using named query.
// Returns sql.ErrNoRows unwrapped when nothing matches.
func (q *Queries) Get(ctx context.Context, name string, dest any, args ...any) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, q.ext, dest, query, args...)
}

// Select retrieves multiple rows into dest slice using named query.
func (q *Queries) Select(ctx context.Context, name string, dest any, args ...any) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q.ext, dest, query, args...)
}

// InTx runs fn with a Queries bound to a new transaction.
// Commits when fn returns nil, rolls back otherwise.
func (q *Queries) InTx(ctx context.Context, fn func(tx *Queries) error) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Queries{dot: q.dot, db: q.db, ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
