package db

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaSQL = `
-- Locally indexed conversations
CREATE TABLE IF NOT EXISTS msg_conversations (
  scope_id INTEGER PRIMARY KEY,
  title TEXT,
  created_at INTEGER NOT NULL,         -- unix timestamp
  degraded INTEGER NOT NULL DEFAULT 0, -- resolution gave up; needs an explicit request
  last_error TEXT
);

-- Messages keyed by (scope, message id, timestamp)
CREATE TABLE IF NOT EXISTS msg_messages (
  scope_id INTEGER NOT NULL,
  message_id INTEGER NOT NULL,
  ts INTEGER NOT NULL,
  author TEXT,
  body TEXT NOT NULL,
  media TEXT NOT NULL DEFAULT '[]',    -- JSON array of media refs
  PRIMARY KEY (scope_id, message_id, ts),
  FOREIGN KEY (scope_id) REFERENCES msg_conversations(scope_id) ON DELETE CASCADE
);

-- Missing history as half-open ranges [low, high)
CREATE TABLE IF NOT EXISTS msg_holes (
  scope_id INTEGER NOT NULL,
  low_id INTEGER NOT NULL,
  low_ts INTEGER NOT NULL,
  high_id INTEGER NOT NULL,
  high_ts INTEGER NOT NULL,
  PRIMARY KEY (scope_id, low_id, low_ts),
  FOREIGN KEY (scope_id) REFERENCES msg_conversations(scope_id) ON DELETE CASCADE
);

-- Media resource fetch status
CREATE TABLE IF NOT EXISTS msg_resources (
  resource_id TEXT PRIMARY KEY,
  state TEXT NOT NULL,                 -- remote, local, fetching
  progress REAL NOT NULL DEFAULT 0,
  local_path TEXT,
  size INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_msg_resources_state ON msg_resources(state);

CREATE TABLE IF NOT EXISTS msg_config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

const schemaVersion = "2"

const defaultConfigSQL = `
INSERT OR IGNORE INTO msg_config (key, value) VALUES ('schema_version', '` + schemaVersion + `');
`

// DBTX represents shared methods across sql.DB and sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitSchema initializes the histkeep schema.
func InitSchema(db *sql.DB) error {
	ctx := context.Background()
	return withTx(ctx, db, func(tx *sql.Tx) error {
		return initSchemaWith(ctx, tx)
	})
}

func initSchemaWith(ctx context.Context, db DBTX) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	if err := migrateSchema(ctx, db); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, defaultConfigSQL); err != nil {
		return err
	}
	return nil
}

// SchemaExists reports whether the histkeep schema is present.
func SchemaExists(db *sql.DB) (bool, error) {
	row := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='msg_conversations'
	`)
	var name string
	err := row.Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return name != "", nil
}

type tableColumn struct {
	Name    string
	ColType string
	NotNull int
	PK      int
}

func getTableInfo(ctx context.Context, db DBTX, table string) ([]tableColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []tableColumn
	for rows.Next() {
		var col tableColumn
		var cid int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &col.Name, &col.ColType, &col.NotNull, &defaultValue, &col.PK); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return columns, nil
}

func hasColumn(columns []tableColumn, name string) bool {
	for _, col := range columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// migrateSchema upgrades version 1 stores, which had no degraded tracking
// on conversations and no progress on resources.
func migrateSchema(ctx context.Context, db DBTX) error {
	convColumns, err := getTableInfo(ctx, db, "msg_conversations")
	if err != nil {
		return err
	}
	if !hasColumn(convColumns, "degraded") {
		if _, err := db.ExecContext(ctx, "ALTER TABLE msg_conversations ADD COLUMN degraded INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	if !hasColumn(convColumns, "last_error") {
		if _, err := db.ExecContext(ctx, "ALTER TABLE msg_conversations ADD COLUMN last_error TEXT"); err != nil {
			return err
		}
	}

	resourceColumns, err := getTableInfo(ctx, db, "msg_resources")
	if err != nil {
		return err
	}
	if !hasColumn(resourceColumns, "progress") {
		if _, err := db.ExecContext(ctx, "ALTER TABLE msg_resources ADD COLUMN progress REAL NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}

	_, err = db.ExecContext(ctx, "UPDATE msg_config SET value = ? WHERE key = 'schema_version' AND value <> ?", schemaVersion, schemaVersion)
	return err
}
