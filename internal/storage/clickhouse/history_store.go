package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/storage"
)

// HistoryStore implements storage.HistoryStore on the liquidity_history table.
//
// Save truncates and reinserts, so a reader between the two statements can
// briefly see an empty table. The history is derived and re-saved on every
// run, which makes that window harmless.
type HistoryStore struct {
	conn *Conn
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(conn *Conn) *HistoryStore {
	return &HistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

func observe(op string, start time.Time, err error) {
	observability.RecordStoreOp("clickhouse", op, time.Since(start).Seconds(), err)
}

// Load returns all points ordered by timestamp ASC.
func (s *HistoryStore) Load(ctx context.Context) (points []domain.HistoricalDataPoint, err error) {
	defer func(start time.Time) { observe("load_history", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms, total_sol_added, total_tokens_added, total_mints,
		       token_price, token_price_usd, sol_price, total_liquidity
		FROM liquidity_history FINAL
		ORDER BY timestamp_ms ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query liquidity history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

// Save replaces the stored points.
func (s *HistoryStore) Save(ctx context.Context, points []domain.HistoricalDataPoint) (err error) {
	defer func(start time.Time) { observe("save_history", start, err) }(time.Now())

	seen := make(map[int64]struct{}, len(points))
	for _, p := range points {
		if _, exists := seen[p.Timestamp]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.Timestamp] = struct{}{}
	}

	if err := s.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS liquidity_history"); err != nil {
		return fmt.Errorf("truncate liquidity history: %w", err)
	}
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO liquidity_history (
			timestamp_ms, total_sol_added, total_tokens_added, total_mints,
			token_price, token_price_usd, sol_price, total_liquidity
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Timestamp, p.TotalSolAdded, p.TotalTokensAdded, uint32(p.TotalMints),
			p.TokenPrice, p.TokenPriceInUSD, p.SolPrice, p.TotalLiquidity,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func scanHistory(rows chRows) ([]domain.HistoricalDataPoint, error) {
	var points []domain.HistoricalDataPoint

	for rows.Next() {
		var p domain.HistoricalDataPoint
		var mints uint32

		err := rows.Scan(
			&p.Timestamp, &p.TotalSolAdded, &p.TotalTokensAdded, &mints,
			&p.TokenPrice, &p.TokenPriceInUSD, &p.SolPrice, &p.TotalLiquidity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan liquidity history row: %w", err)
		}

		p.TotalMints = int(mints)
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidity history rows: %w", err)
	}

	return points, nil
}
