// Package migrations embeds the cascade schema for each supported driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// dirs maps database/sql driver names to their migration directory.
var dirs = map[string]string{
	"sqlite3":  "sqlite",
	"postgres": "postgres",
}

// ForDriver returns the migrations for a database/sql driver name.
// Entries are bare NNN_description.sql files at the root of the result.
func ForDriver(driver string) (fs.FS, error) {
	dir, ok := dirs[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	return fs.Sub(files, dir)
}
