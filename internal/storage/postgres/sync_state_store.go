package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/storage"
)

// SyncStateStore keeps the sync state in the single row of sync_state.
type SyncStateStore struct {
	pool *Pool
}

// NewSyncStateStore creates a new SyncStateStore.
func NewSyncStateStore(pool *Pool) *SyncStateStore {
	return &SyncStateStore{pool: pool}
}

// Load returns the stored state, or the zero state when the row is missing.
func (s *SyncStateStore) Load(ctx context.Context) (state *domain.SyncState, err error) {
	defer func(start time.Time) { observe("load_state", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT last_sync, is_syncing, sync_start_time, run_id, version
		FROM sync_state
		WHERE id = 1
	`)

	state = &domain.SyncState{}
	err = row.Scan(&state.LastSync, &state.IsSyncing, &state.SyncStartTime, &state.RunID, &state.Version)
	if isNotFoundError(err) {
		return &domain.SyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	return state, nil
}

// CompareAndSwap writes next when the stored version equals expectedVersion.
// A missing row counts as version 0.
func (s *SyncStateStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next *domain.SyncState) (ok bool, err error) {
	defer func(start time.Time) { observe("cas_state", start, err) }(time.Now())

	if next == nil {
		return false, storage.ErrInvalidInput
	}

	newVersion := expectedVersion + 1
	args := []any{next.LastSync, next.IsSyncing, next.SyncStartTime, next.RunID, newVersion, expectedVersion}

	var query string
	if expectedVersion == 0 {
		query = `
			INSERT INTO sync_state (id, last_sync, is_syncing, sync_start_time, run_id, version, updated_at)
			VALUES (1, $1, $2, $3, $4, $5, NOW())
			ON CONFLICT (id) DO UPDATE
			SET last_sync = EXCLUDED.last_sync,
			    is_syncing = EXCLUDED.is_syncing,
			    sync_start_time = EXCLUDED.sync_start_time,
			    run_id = EXCLUDED.run_id,
			    version = EXCLUDED.version,
			    updated_at = NOW()
			WHERE sync_state.version = $6
		`
	} else {
		query = `
			UPDATE sync_state
			SET last_sync = $1,
			    is_syncing = $2,
			    sync_start_time = $3,
			    run_id = $4,
			    version = $5,
			    updated_at = NOW()
			WHERE id = 1 AND version = $6
		`
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("swap sync state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	next.Version = newVersion
	return true, nil
}
