// Package postgres implements the storage contract on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// NewStores returns the full store set on pool. Closing the set closes the pool.
func NewStores(pool *Pool) *storage.Stores {
	return &storage.Stores{
		Mints:     NewMintEventStore(pool),
		Transfers: NewTransferEventStore(pool),
		SyncState: NewSyncStateStore(pool),
		History:   NewHistoryStore(pool),
		Close: func() error {
			pool.Close()
			return nil
		},
	}
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func observe(op string, start time.Time, err error) {
	observability.RecordStoreOp("postgres", op, time.Since(start).Seconds(), err)
}

// Amounts travel as text and are cast to NUMERIC in SQL so no precision is lost
// to float conversion.

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func parseNullDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// replaceAll deletes every row of table and queues one insert per item, all
// in one transaction.
func replaceAll[T any](ctx context.Context, pool *Pool, table, insert string, items []T, args func(T) []any) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	if len(items) > 0 {
		batch := &pgx.Batch{}
		for _, item := range items {
			batch.Queue(insert, args(item)...)
		}
		br := tx.SendBatch(ctx, batch)
		for range items {
			if _, err := br.Exec(); err != nil {
				br.Close()
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert into %s: %w", table, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ storage.MintEventStore     = (*EventStore[domain.MintEvent])(nil)
	_ storage.TransferEventStore = (*EventStore[domain.TransferEvent])(nil)
	_ storage.SyncStateStore     = (*SyncStateStore)(nil)
	_ storage.HistoryStore       = (*HistoryStore)(nil)
)
