package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Event is the common shape of classified on-chain events.
// Key returns the transaction signature, Time the block time in unix seconds.
type Event interface {
	Key() string
	Time() int64
}

// MintEvent is a liquidity addition into the pool.
type MintEvent struct {
	Signature   string          `json:"signature"`
	Timestamp   int64           `json:"timestamp"` // unix seconds
	SolAmount   decimal.Decimal `json:"solAmount"`
	TokenAmount decimal.Decimal `json:"tokenAmount"`
	From        string          `json:"from"`
}

// Key returns the transaction signature.
func (e MintEvent) Key() string { return e.Signature }

// Time returns the block time in unix seconds.
func (e MintEvent) Time() int64 { return e.Timestamp }

// TransferEvent is a token transfer into the buyback address.
type TransferEvent struct {
	Signature   string          `json:"signature"`
	Timestamp   int64           `json:"timestamp"` // unix seconds
	TokenAmount decimal.Decimal `json:"tokenAmount"`
	From        string          `json:"from"`
	To          string          `json:"to"`
}

// Key returns the transaction signature.
func (e TransferEvent) Key() string { return e.Signature }

// Time returns the block time in unix seconds.
func (e TransferEvent) Time() int64 { return e.Timestamp }

// SortEvents orders events newest first. Ties are broken by signature so the
// order is total.
func SortEvents[E Event](events []E) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time() != events[j].Time() {
			return events[i].Time() > events[j].Time()
		}
		return events[i].Key() < events[j].Key()
	})
}
