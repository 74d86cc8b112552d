package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

var (
	// ErrConversationExists is returned when creating a scope twice.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrConversationNotFound is returned when writing to an unknown scope.
	ErrConversationNotFound = errors.New("conversation not found")
)

const conversationColumns = `
	c.scope_id, c.title, c.created_at, c.degraded, c.last_error,
	(SELECT COUNT(*) FROM msg_messages m WHERE m.scope_id = c.scope_id),
	(SELECT COUNT(*) FROM msg_holes h WHERE h.scope_id = c.scope_id)
`

// CreateConversation registers a conversation. When first is set the history
// before it is unknown, so the initial hole [LowerBound(scope), first) is
// recorded.
func CreateConversation(ctx context.Context, db *sql.DB, scopeID int64, title string, first *types.MessageIndex) (types.Conversation, error) {
	if first != nil && first.ScopeID != scopeID {
		return types.Conversation{}, fmt.Errorf("first message %s belongs to another conversation", first)
	}
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM msg_conversations WHERE scope_id = ?", scopeID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %d", ErrConversationExists, scopeID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var titleValue any
		if title != "" {
			titleValue = title
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO msg_conversations (scope_id, title, created_at) VALUES (?, ?, ?)",
			scopeID, titleValue, time.Now().Unix(),
		); err != nil {
			return err
		}

		if first == nil {
			return nil
		}
		low := types.LowerBound(scopeID)
		if !low.Less(*first) {
			return nil
		}
		return replaceHoles(ctx, tx, scopeID, []holes.Hole{holes.NewHole(low, *first)})
	})
	if err != nil {
		return types.Conversation{}, err
	}
	conv, err := GetConversation(ctx, db, scopeID)
	if err != nil {
		return types.Conversation{}, err
	}
	return *conv, nil
}

// lockConversation checks that scopeID exists. The no-op update takes the
// database write lock, so holes read afterwards in the same transaction
// cannot be changed by another connection before they are written back.
func lockConversation(ctx context.Context, db DBTX, scopeID int64) error {
	result, err := db.ExecContext(ctx, "UPDATE msg_conversations SET degraded = degraded WHERE scope_id = ?", scopeID)
	if err != nil {
		return err
	}
	return requireAffected(result, scopeID)
}

func requireAffected(result sql.Result, scopeID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrConversationNotFound, scopeID)
	}
	return nil
}

// GetConversation returns a conversation by scope id, or nil.
func GetConversation(ctx context.Context, db DBTX, scopeID int64) (*types.Conversation, error) {
	row := db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM msg_conversations c WHERE c.scope_id = ?", scopeID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns all conversations ordered by scope id.
func ListConversations(ctx context.Context, db DBTX) ([]types.Conversation, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+conversationColumns+" FROM msg_conversations c ORDER BY c.scope_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return convs, nil
}

// DeleteConversation removes a conversation with its messages and holes.
// It reports whether the conversation existed.
func DeleteConversation(ctx context.Context, db DBTX, scopeID int64) (bool, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM msg_conversations WHERE scope_id = ?", scopeID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetDegraded records whether resolution of a conversation gave up.
func SetDegraded(ctx context.Context, db DBTX, scopeID int64, degraded bool, reason string) error {
	var lastError any
	if degraded && reason != "" {
		lastError = reason
	}
	result, err := db.ExecContext(ctx,
		"UPDATE msg_conversations SET degraded = ?, last_error = ? WHERE scope_id = ?",
		boolToInt(degraded), lastError, scopeID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, scopeID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (types.Conversation, error) {
	var conv types.Conversation
	var title sql.NullString
	var lastError sql.NullString
	var degraded int
	if err := row.Scan(&conv.ScopeID, &title, &conv.CreatedAt, &degraded, &lastError, &conv.MessageCount, &conv.HoleCount); err != nil {
		return types.Conversation{}, err
	}
	conv.Title = title.String
	conv.Degraded = degraded != 0
	conv.LastError = nullStringPtr(lastError)
	return conv, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
