package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openSharedDB(t, filepath.Join(t.TempDir(), "test.db"))
}

// openSharedDB opens path; several handles on one path act like separate
// processes sharing a project.
func openSharedDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func requireSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	if err := InitSchema(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
}

func strPtr(value string) *string {
	return &value
}

func idx(scope, id, ts int64) types.MessageIndex {
	return types.MessageIndex{ScopeID: scope, MessageID: id, Timestamp: ts}
}

func span(scope, low, high int64) holes.Hole {
	return holes.NewHole(idx(scope, low, 0), idx(scope, high, 0))
}

func markMissing(hole holes.Hole) func(*holes.Set) error {
	return func(set *holes.Set) error {
		set.MarkRangeMissing(hole.Low, hole.High)
		return nil
	}
}

func markFilled(hole holes.Hole) func(*holes.Set) error {
	return func(set *holes.Set) error {
		set.MarkRangeFilled(hole.Low, hole.High)
		return nil
	}
}
