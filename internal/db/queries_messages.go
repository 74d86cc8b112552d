package db

import (
	"context"
	"encoding/json"

	"github.com/adamavenir/histkeep/internal/types"
)

// InsertMessages stores messages, replacing any with the same index.
func InsertMessages(ctx context.Context, db DBTX, messages []types.Message) error {
	for _, msg := range messages {
		media := msg.Media
		if media == nil {
			media = []types.MediaRef{}
		}
		mediaJSON, err := json.Marshal(media)
		if err != nil {
			return err
		}
		var author any
		if msg.Author != "" {
			author = msg.Author
		}
		if _, err := db.ExecContext(ctx, `
			INSERT OR REPLACE INTO msg_messages (scope_id, message_id, ts, author, body, media)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.Index.ScopeID, msg.Index.MessageID, msg.Index.Timestamp, author, msg.Body, string(mediaJSON)); err != nil {
			return err
		}
	}
	return nil
}

// MessageQueryOptions bounds a message listing. A zero After starts at the
// beginning of the conversation; Limit <= 0 means no limit.
type MessageQueryOptions struct {
	After *types.MessageIndex
	Limit int
}

// ListMessages returns messages of a conversation in index order.
func ListMessages(ctx context.Context, db DBTX, scopeID int64, opts MessageQueryOptions) ([]types.Message, error) {
	query := `
		SELECT scope_id, message_id, ts, COALESCE(author, ''), body, media
		FROM msg_messages WHERE scope_id = ?
	`
	args := []any{scopeID}
	if opts.After != nil {
		query += " AND (message_id > ? OR (message_id = ? AND ts > ?))"
		args = append(args, opts.After.MessageID, opts.After.MessageID, opts.After.Timestamp)
	}
	query += " ORDER BY message_id, ts"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		var mediaJSON string
		if err := rows.Scan(&msg.Index.ScopeID, &msg.Index.MessageID, &msg.Index.Timestamp, &msg.Author, &msg.Body, &mediaJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mediaJSON), &msg.Media); err != nil {
			return nil, err
		}
		if len(msg.Media) == 0 {
			msg.Media = nil
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
