package db

import (
	"context"
	"database/sql"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/adamavenir/histkeep/internal/core"
)

// OpenDatabase opens the SQLite database for a project.
func OpenDatabase(project core.Project) (*sql.DB, error) {
	core.EnsureGitignore(filepath.Dir(project.DBPath))
	return Open(project.DBPath)
}

// Open opens the SQLite database at path with the pragmas histkeep relies on.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	// foreign_keys is per connection.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
