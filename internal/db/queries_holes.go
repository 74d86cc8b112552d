package db

import (
	"context"
	"fmt"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

// GetHoles returns the stored holes of a conversation in ascending order.
// Rows that do not form a valid range are reported as corruption.
func GetHoles(ctx context.Context, db DBTX, scopeID int64) ([]holes.Hole, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT low_id, low_ts, high_id, high_ts FROM msg_holes
		WHERE scope_id = ?
		ORDER BY low_id, low_ts
	`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []holes.Hole
	for rows.Next() {
		low := types.MessageIndex{ScopeID: scopeID}
		high := types.MessageIndex{ScopeID: scopeID}
		if err := rows.Scan(&low.MessageID, &low.Timestamp, &high.MessageID, &high.Timestamp); err != nil {
			return nil, err
		}
		if !low.Less(high) {
			return nil, fmt.Errorf("corrupt hole row for scope %d: [%s, %s)", scopeID, low, high)
		}
		out = append(out, holes.NewHole(low, high))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// replaceHoles overwrites the holes of a conversation.
func replaceHoles(ctx context.Context, db DBTX, scopeID int64, set []holes.Hole) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM msg_holes WHERE scope_id = ?", scopeID); err != nil {
		return err
	}
	for _, hole := range set {
		if hole.ScopeID() != scopeID {
			return fmt.Errorf("hole %s does not belong to scope %d", hole, scopeID)
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO msg_holes (scope_id, low_id, low_ts, high_id, high_ts)
			VALUES (?, ?, ?, ?, ?)
		`, scopeID, hole.Low.MessageID, hole.Low.Timestamp, hole.High.MessageID, hole.High.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// editHoles reads the holes of a conversation, applies edit and writes the
// result. It runs in a transaction that already holds lockConversation.
func editHoles(ctx context.Context, db DBTX, scopeID int64, edit func(*holes.Set) error) (*holes.Set, error) {
	current, err := GetHoles(ctx, db, scopeID)
	if err != nil {
		return nil, err
	}
	set := holes.NewSet(scopeID, current...)
	if err := edit(set); err != nil {
		return nil, err
	}
	if err := replaceHoles(ctx, db, scopeID, set.Holes()); err != nil {
		return nil, err
	}
	return set, nil
}
