package domain

import "github.com/shopspring/decimal"

// HistoricalDataPoint is a cumulative snapshot of liquidity at the end of a
// 12-hour window.
type HistoricalDataPoint struct {
	Timestamp        int64           `json:"timestamp"` // window end, unix ms
	TotalSolAdded    decimal.Decimal `json:"totalSolAdded"`
	TotalTokensAdded decimal.Decimal `json:"totalTokensAdded"`
	TotalMints       int             `json:"totalMints"`

	// Nullable fields.
	TokenPrice      *decimal.Decimal `json:"tokenPrice"`
	TokenPriceInUSD *decimal.Decimal `json:"tokenPriceInUsd"`
	SolPrice        *decimal.Decimal `json:"solPrice"`
	TotalLiquidity  *decimal.Decimal `json:"totalLiquidity"`
}
