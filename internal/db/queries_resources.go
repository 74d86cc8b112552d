package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adamavenir/histkeep/internal/types"
)

// GetResource returns the stored status of a resource, or nil.
func GetResource(ctx context.Context, db DBTX, resourceID string) (*types.ResourceRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT resource_id, state, progress, local_path, size, updated_at
		FROM msg_resources WHERE resource_id = ?
	`, resourceID)
	record, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListResources returns every tracked resource ordered by id.
func ListResources(ctx context.Context, db DBTX) ([]types.ResourceRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT resource_id, state, progress, local_path, size, updated_at
		FROM msg_resources ORDER BY resource_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.ResourceRecord
	for rows.Next() {
		record, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// UpsertResource stores the status of a resource.
func UpsertResource(ctx context.Context, db DBTX, record types.ResourceRecord) error {
	if !record.Status.Valid() {
		return fmt.Errorf("invalid status %q for resource %s", record.Status.State, record.ResourceID)
	}
	var localPath any
	if record.LocalPath != nil {
		localPath = *record.LocalPath
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO msg_resources (resource_id, state, progress, local_path, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			state = excluded.state,
			progress = excluded.progress,
			local_path = excluded.local_path,
			size = excluded.size,
			updated_at = excluded.updated_at
	`, record.ResourceID, string(record.Status.State), record.Status.Progress, localPath, record.Size, record.UpdatedAt)
	return err
}

func scanResource(row scanner) (types.ResourceRecord, error) {
	var record types.ResourceRecord
	var state string
	var progress float64
	var localPath sql.NullString
	if err := row.Scan(&record.ResourceID, &state, &progress, &localPath, &record.Size, &record.UpdatedAt); err != nil {
		return types.ResourceRecord{}, err
	}
	record.Status = types.ResourceFetchStatus{State: types.ResourceState(state)}
	if record.Status.State == types.ResourceFetching {
		record.Status.Progress = types.ClampProgress(float32(progress))
	}
	if !record.Status.Valid() {
		return types.ResourceRecord{}, fmt.Errorf("unknown state %q for resource %s", state, record.ResourceID)
	}
	record.LocalPath = nullStringPtr(localPath)
	return record, nil
}
