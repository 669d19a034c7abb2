// Package classify turns parsed transactions into liquidity events.
//
// Classification is a pure function of the transaction record and the
// configured addresses. Malformed records are "not an event", never an error.
package classify

import (
	"github.com/shopspring/decimal"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/solana"
)

var (
	// solEpsilon absorbs rounding noise in SOL balance deltas.
	solEpsilon = decimal.New(1, -6)

	// attributableSOL is the minimum SOL transfer accepted alongside a token deposit.
	attributableSOL = decimal.New(1, -4)
)

// Kind is the outcome of classifying one transaction.
type Kind string

const (
	// KindNone means the transaction is neither a mint nor a buyback transfer.
	KindNone Kind = "none"
	// KindMint is a liquidity addition into the pool.
	KindMint Kind = "mint"
	// KindTransfer is a token transfer into the buyback address.
	KindTransfer Kind = "transfer"
)

// Config holds the tracked addresses.
type Config struct {
	Pool    string
	Mint    string
	Buyback string

	// AssociatedTokenProgram, when set, lets instruction destinations that are
	// absent from the balance tables resolve to the pool or buyback owner.
	AssociatedTokenProgram string
}

// Classifier classifies transactions. It is safe for concurrent use.
type Classifier struct {
	cfg        Config
	poolATA    string
	buybackATA string
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	c := &Classifier{cfg: cfg}
	if cfg.AssociatedTokenProgram != "" && cfg.Mint != "" {
		if cfg.Pool != "" {
			c.poolATA, _ = solana.FindAssociatedTokenAddress(cfg.Pool, cfg.Mint, solana.TokenProgramID, cfg.AssociatedTokenProgram)
		}
		if cfg.Buyback != "" {
			c.buybackATA, _ = solana.FindAssociatedTokenAddress(cfg.Buyback, cfg.Mint, solana.TokenProgramID, cfg.AssociatedTokenProgram)
		}
	}
	return c
}

// Classification is the combined result of Classify.
type Classification struct {
	Kind     Kind
	Mint     *domain.MintEvent
	Transfer *domain.TransferEvent
	// Rules lists the mint rules that contributed an amount.
	Rules    []string
}

// Classify tries mint classification first, then transfer classification.
func (c *Classifier) Classify(tx *solana.Transaction) Classification {
	if ev, rules := c.classifyMint(tx); ev != nil {
		return Classification{Kind: KindMint, Mint: ev, Rules: rules}
	}
	if ev := c.ClassifyTransfer(tx); ev != nil {
		return Classification{Kind: KindTransfer, Transfer: ev}
	}
	return Classification{Kind: KindNone}
}

// ClassifyMint returns the liquidity addition in tx, or nil.
func (c *Classifier) ClassifyMint(tx *solana.Transaction) *domain.MintEvent {
	ev, _ := c.classifyMint(tx)
	return ev
}

func (c *Classifier) classifyMint(tx *solana.Transaction) (*domain.MintEvent, []string) {
	v := newView(tx)
	if v == nil {
		return nil, nil
	}
	if !v.has(c.cfg.Pool) && !v.has(c.cfg.Mint) {
		return nil, nil
	}

	var a amounts
	var applied []string
	for _, r := range mintRules {
		if !r.wants(a) {
			continue
		}
		next := r.apply(c, v, a)
		if !next.sol.Equal(a.sol) || !next.token.Equal(a.token) {
			applied = append(applied, r.name)
		}
		a = next
	}

	if !a.sol.IsPositive() && !a.token.IsPositive() {
		return nil, nil
	}

	return &domain.MintEvent{
		Signature:   tx.Signature,
		Timestamp:   tx.BlockTime,
		SolAmount:   nonNegative(a.sol),
		TokenAmount: nonNegative(a.token),
		From:        c.resolveFrom(v, c.cfg.Pool),
	}, applied
}

// ClassifyTransfer returns the token transfer into the buyback address in tx, or nil.
func (c *Classifier) ClassifyTransfer(tx *solana.Transaction) *domain.TransferEvent {
	v := newView(tx)
	if v == nil {
		return nil
	}
	target := c.cfg.Buyback
	if !v.has(target) && !v.has(c.cfg.Mint) {
		return nil
	}

	amount := v.tokenDelta(target, c.cfg.Mint)
	if !amount.IsPositive() {
		amount = c.tokenTransfersTo(v, target)
	}
	if !amount.IsPositive() {
		return nil
	}

	return &domain.TransferEvent{
		Signature:   tx.Signature,
		Timestamp:   tx.BlockTime,
		TokenAmount: amount,
		From:        c.resolveFrom(v, target),
		To:          target,
	}
}

// ownerOf resolves an account to the wallet that owns it. Token accounts
// resolve through the balance tables, then through the derived associated
// token accounts. Any other account resolves to itself.
func (c *Classifier) ownerOf(v *txView, account string) string {
	if owner := v.accountOwner[account]; owner != "" {
		return owner
	}
	switch {
	case account == "":
		return ""
	case account == c.poolATA:
		return c.cfg.Pool
	case account == c.buybackATA:
		return c.cfg.Buyback
	}
	return account
}

// tokenTransfersTo sums transfers of the tracked mint whose destination is
// owned by target.
func (c *Classifier) tokenTransfersTo(v *txView, target string) decimal.Decimal {
	total := decimal.Zero
	decimals := v.decimals[c.cfg.Mint]
	for _, ix := range v.instructions() {
		if !ix.IsTokenTransfer() {
			continue
		}
		if c.ownerOf(v, ix.Info.Destination) != target {
			continue
		}
		if m := v.mintOf(ix); m != "" && m != c.cfg.Mint {
			continue
		}
		total = total.Add(ix.TokenTransferAmount(decimals))
	}
	return total
}

// resolveFrom picks the sender for an event whose destination is target.
func (c *Classifier) resolveFrom(v *txView, target string) string {
	if owner := v.decreasedOwner(target); owner != "" {
		return owner
	}
	for _, ix := range v.instructions() {
		if !ix.IsSOLTransfer() && !ix.IsTokenTransfer() {
			continue
		}
		dest := ix.Info.Destination
		if dest == target || c.ownerOf(v, dest) == target {
			if from := ix.TransferAuthority(); from != "" && from != target {
				return from
			}
		}
	}
	return v.keys[0]
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
