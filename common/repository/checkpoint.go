package repository

import (
	"context"

	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/models"
)

// CheckpointRepository persists sync watermarks
type CheckpointRepository struct {
	db *db.DB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(database *db.DB) *CheckpointRepository {
	return &CheckpointRepository{db: database}
}

// Get returns the checkpoint of a source, or a NotFound error
func (r *CheckpointRepository) Get(ctx context.Context, sourceName string) (*models.SyncCheckpoint, error) {
	query := `
		SELECT source_name, max_transaction_id, last_sync_date, sync_cursor, status, updated_on
		FROM sync_checkpoints
		WHERE source_name = $1
	`

	cp := &models.SyncCheckpoint{}
	err := r.db.QueryRow(ctx, query, sourceName).Scan(
		&cp.SourceName,
		&cp.MaxTransactionID,
		&cp.LastSyncDate,
		&cp.Cursor,
		&cp.Status,
		&cp.UpdatedOn,
	)
	if err != nil {
		return nil, storeError("get checkpoint "+sourceName, err)
	}

	return cp, nil
}

// Upsert writes a checkpoint. Watermarks only move forward: the stored
// transaction id and sync date are kept when they are greater, and a nil
// cursor keeps the stored cursor. Returns the row as persisted.
func (r *CheckpointRepository) Upsert(ctx context.Context, cp *models.SyncCheckpoint) (*models.SyncCheckpoint, error) {
	query := `
		INSERT INTO sync_checkpoints (source_name, max_transaction_id, last_sync_date, sync_cursor, status, updated_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_name) DO UPDATE SET
			max_transaction_id = GREATEST(sync_checkpoints.max_transaction_id, EXCLUDED.max_transaction_id),
			last_sync_date     = GREATEST(sync_checkpoints.last_sync_date, EXCLUDED.last_sync_date),
			sync_cursor        = COALESCE(EXCLUDED.sync_cursor, sync_checkpoints.sync_cursor),
			status             = EXCLUDED.status,
			updated_on         = EXCLUDED.updated_on
		RETURNING source_name, max_transaction_id, last_sync_date, sync_cursor, status, updated_on
	`

	saved := &models.SyncCheckpoint{}
	err := r.db.QueryRow(ctx, query,
		cp.SourceName,
		cp.MaxTransactionID,
		cp.LastSyncDate,
		cp.Cursor,
		string(cp.Status),
		cp.UpdatedOn,
	).Scan(
		&saved.SourceName,
		&saved.MaxTransactionID,
		&saved.LastSyncDate,
		&saved.Cursor,
		&saved.Status,
		&saved.UpdatedOn,
	)
	if err != nil {
		return nil, storeError("upsert checkpoint "+cp.SourceName, err)
	}

	return saved, nil
}
