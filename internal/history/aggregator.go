// Package history derives cumulative liquidity snapshots from mint events.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/storage"
)

const (
	// Window is the width of one history bucket.
	Window = 12 * time.Hour

	// MaxPoints is how many points the history retains.
	MaxPoints = 60
)

// PriceSource quotes SOL in USD.
type PriceSource interface {
	SOLPriceUSD(ctx context.Context) (decimal.Decimal, error)
}

// Aggregator folds mint events into history points and keeps the stored
// history up to date.
type Aggregator struct {
	store  storage.HistoryStore
	prices PriceSource
	log    *logrus.Entry
}

// NewAggregator creates an Aggregator. prices may be nil, in which case the
// USD fields of new points stay null.
func NewAggregator(store storage.HistoryStore, prices PriceSource, log *logrus.Entry) *Aggregator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "history")
	}
	return &Aggregator{store: store, prices: prices, log: log}
}

// Update merges points for mints into the stored history and saves it.
// It returns the number of points added.
func (a *Aggregator) Update(ctx context.Context, mints []domain.MintEvent) (int, error) {
	existing, err := a.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}

	merged, added := Build(existing, mints, nil)
	if added == 0 && len(merged) == len(existing) {
		return 0, nil
	}

	// Only new points are priced, so the quote is fetched once there is one.
	if added > 0 && a.prices != nil {
		p, err := a.prices.SOLPriceUSD(ctx)
		if err != nil {
			a.log.WithError(err).Warn("sol price unavailable, usd fields left empty")
		} else {
			merged, added = Build(existing, mints, &p)
		}
	}

	if err := a.store.Save(ctx, merged); err != nil {
		return 0, fmt.Errorf("save history: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"added":  added,
		"points": len(merged),
	}).Info("history updated")
	return added, nil
}

// Build buckets mints into Window-wide windows anchored at the oldest mint.
// Each non-empty window yields a point carrying the cumulative totals up to
// the window end. Windows whose end already exists in existing are skipped.
// The result is sorted ascending and holds at most MaxPoints points. The
// returned count only includes new points that survived the trim, so windows
// older than a full history are not reported again on every call.
func Build(existing []domain.HistoricalDataPoint, mints []domain.MintEvent, solPrice *decimal.Decimal) ([]domain.HistoricalDataPoint, int) {
	merged := make([]domain.HistoricalDataPoint, len(existing))
	copy(merged, existing)

	seen := make(map[int64]struct{}, len(existing))
	for _, p := range existing {
		seen[p.Timestamp] = struct{}{}
	}

	sorted := make([]domain.MintEvent, len(mints))
	copy(sorted, mints)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	fresh := make(map[int64]struct{})
	if len(sorted) > 0 {
		width := int64(Window / time.Second)
		start := sorted[0].Timestamp

		sol := decimal.Zero
		tokens := decimal.Zero
		count := 0
		for i := 0; i < len(sorted); {
			bucket := (sorted[i].Timestamp - start) / width
			end := start + (bucket+1)*width
			for i < len(sorted) && sorted[i].Timestamp < end {
				sol = sol.Add(sorted[i].SolAmount)
				tokens = tokens.Add(sorted[i].TokenAmount)
				count++
				i++
			}

			endMs := end * 1000
			if _, ok := seen[endMs]; ok {
				continue
			}
			seen[endMs] = struct{}{}
			merged = append(merged, newPoint(endMs, sol, tokens, count, solPrice))
			fresh[endMs] = struct{}{}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	if len(merged) > MaxPoints {
		merged = merged[len(merged)-MaxPoints:]
	}

	added := 0
	for _, p := range merged {
		if _, ok := fresh[p.Timestamp]; ok {
			added++
		}
	}
	return merged, added
}

// newPoint prices a snapshot. TokenPrice is SOL per token; the USD fields need
// a SOL price.
func newPoint(endMs int64, sol, tokens decimal.Decimal, count int, solPrice *decimal.Decimal) domain.HistoricalDataPoint {
	p := domain.HistoricalDataPoint{
		Timestamp:        endMs,
		TotalSolAdded:    sol,
		TotalTokensAdded: tokens,
		TotalMints:       count,
	}
	if tokens.IsPositive() {
		price := sol.DivRound(tokens, 18)
		p.TokenPrice = &price
	}
	if solPrice == nil {
		return p
	}

	sp := *solPrice
	p.SolPrice = &sp
	liquidity := sol.Mul(sp)
	if p.TokenPrice != nil {
		usd := p.TokenPrice.Mul(sp)
		p.TokenPriceInUSD = &usd
		liquidity = liquidity.Add(tokens.Mul(usd))
	}
	p.TotalLiquidity = &liquidity
	return p
}
