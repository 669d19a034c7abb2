package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-liquidity-sync/internal/domain"
)

// HistoryStore implements storage.HistoryStore on history_points.
type HistoryStore struct {
	pool *Pool
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const insertHistoryPoint = `
	INSERT INTO history_points (
		timestamp_ms, total_sol_added, total_tokens_added, total_mints,
		token_price, token_price_usd, sol_price, total_liquidity
	) VALUES (
		$1, $2::text::numeric, $3::text::numeric, $4,
		$5::text::numeric, $6::text::numeric, $7::text::numeric, $8::text::numeric
	)
`

// Load returns all points in ascending timestamp order.
func (s *HistoryStore) Load(ctx context.Context) (points []domain.HistoricalDataPoint, err error) {
	defer func(start time.Time) { observe("load_history", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT timestamp_ms, total_sol_added::text, total_tokens_added::text, total_mints,
		       token_price::text, token_price_usd::text, sol_price::text, total_liquidity::text
		FROM history_points
		ORDER BY timestamp_ms ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query history points: %w", err)
	}

	points, err = pgx.CollectRows(rows, scanHistoryPoint)
	if err != nil {
		return nil, fmt.Errorf("scan history points: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	return points, nil
}

// Save replaces all points in one transaction.
func (s *HistoryStore) Save(ctx context.Context, points []domain.HistoricalDataPoint) (err error) {
	defer func(start time.Time) { observe("save_history", start, err) }(time.Now())

	return replaceAll(ctx, s.pool, "history_points", insertHistoryPoint, points, func(p domain.HistoricalDataPoint) []any {
		return []any{
			p.Timestamp,
			p.TotalSolAdded.String(),
			p.TotalTokensAdded.String(),
			p.TotalMints,
			nullDecimalText(p.TokenPrice),
			nullDecimalText(p.TokenPriceInUSD),
			nullDecimalText(p.SolPrice),
			nullDecimalText(p.TotalLiquidity),
		}
	})
}

func scanHistoryPoint(row pgx.CollectableRow) (domain.HistoricalDataPoint, error) {
	var p domain.HistoricalDataPoint
	var sol, tokens string
	var price, priceUSD, solPrice, liquidity *string

	if err := row.Scan(&p.Timestamp, &sol, &tokens, &p.TotalMints, &price, &priceUSD, &solPrice, &liquidity); err != nil {
		return p, err
	}

	var err error
	if p.TotalSolAdded, err = parseDecimal(sol); err != nil {
		return p, err
	}
	if p.TotalTokensAdded, err = parseDecimal(tokens); err != nil {
		return p, err
	}
	if p.TokenPrice, err = parseNullDecimal(price); err != nil {
		return p, err
	}
	if p.TokenPriceInUSD, err = parseNullDecimal(priceUSD); err != nil {
		return p, err
	}
	if p.SolPrice, err = parseNullDecimal(solPrice); err != nil {
		return p, err
	}
	if p.TotalLiquidity, err = parseNullDecimal(liquidity); err != nil {
		return p, err
	}
	return p, nil
}
