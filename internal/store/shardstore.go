package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ShardConfigStore is the SQL persistence contract for shard_config, per
// SPEC_FULL.md §4.7 and §6. Config ids are monotonically increasing; the
// live config is the row with the highest id.
type ShardConfigStore struct {
	db *sql.DB
}

// NewShardConfigStore wraps db.
func NewShardConfigStore(db *sql.DB) *ShardConfigStore {
	return &ShardConfigStore{db: db}
}

// GetLatest reads the shard_config row with the highest id, or nil if the
// table is empty.
func (s *ShardConfigStore) GetLatest(ctx context.Context) (*ShardConfigRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, config_json::text, created_at, created_by
		FROM shard_config ORDER BY created_at DESC, id DESC LIMIT 1`)
	var rec ShardConfigRecord
	err := row.Scan(&rec.ID, &rec.ConfigJSON, &rec.CreatedAt, &rec.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get latest shard config: %w", classifyPQError(err))
	}
	return &rec, nil
}

// SaveConfig inserts a new shard_config row and returns its id.
func (s *ShardConfigStore) SaveConfig(ctx context.Context, configJSON string, createdBy string) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shard_config (config_json, created_by)
		VALUES ($1, $2) RETURNING id`, configJSON, createdBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: save shard config: %w", classifyPQError(err))
	}
	return id, nil
}
