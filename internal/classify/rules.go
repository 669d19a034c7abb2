package classify

import "github.com/shopspring/decimal"

// amounts is the running (SOL, token) state threaded through the mint rules.
type amounts struct {
	sol   decimal.Decimal
	token decimal.Decimal
}

type ruleTarget int

const (
	targetSOL ruleTarget = iota
	targetToken
	targetBoth
)

// mintRule contributes an amount for one target. Rules run in order and a
// rule only runs while its target amount is still zero.
type mintRule struct {
	name   string
	target ruleTarget
	apply  func(c *Classifier, v *txView, a amounts) amounts
}

func (r mintRule) wants(a amounts) bool {
	switch r.target {
	case targetSOL:
		return a.sol.IsZero()
	case targetToken:
		return a.token.IsZero()
	default:
		return a.sol.IsZero() && a.token.IsZero()
	}
}

// mintRules is the precedence order of the mint heuristics.
var mintRules = []mintRule{
	{name: "pool-sol-delta", target: targetSOL, apply: poolSOLDelta},
	{name: "pool-token-delta", target: targetToken, apply: poolTokenDelta},
	{name: "owner-token-delta", target: targetToken, apply: ownerTokenDelta},
	{name: "sol-transfer-to-pool", target: targetSOL, apply: solTransferToPool},
	{name: "sol-transfer-with-tokens", target: targetSOL, apply: solTransferWithTokens},
	{name: "token-transfer-to-pool", target: targetToken, apply: tokenTransferToPool},
	{name: "catch-all", target: targetBoth, apply: catchAll},
}

func poolSOLDelta(c *Classifier, v *txView, a amounts) amounts {
	if d := v.solDelta(c.cfg.Pool); d.GreaterThan(solEpsilon) {
		a.sol = d
	}
	return a
}

func poolTokenDelta(c *Classifier, v *txView, a amounts) amounts {
	if d := v.tokenDelta(c.cfg.Pool, c.cfg.Mint); d.IsPositive() {
		a.token = d
	}
	return a
}

// ownerTokenDelta takes the first owner with a positive delta on the tracked
// mint. At most one liquidity provider per transaction is assumed.
func ownerTokenDelta(c *Classifier, v *txView, a amounts) amounts {
	if !v.has(c.cfg.Pool) {
		return a
	}
	for _, od := range v.ownerDeltas(c.cfg.Mint) {
		if od.delta.IsPositive() {
			a.token = od.delta
			return a
		}
	}
	return a
}

func solTransferToPool(c *Classifier, v *txView, a amounts) amounts {
	total := decimal.Zero
	for _, ix := range v.instructions() {
		if !ix.IsSOLTransfer() {
			continue
		}
		dest := ix.Info.Destination
		if dest == c.cfg.Pool || c.ownerOf(v, dest) == c.cfg.Pool {
			total = total.Add(ix.SOLAmount())
		}
	}
	if total.IsPositive() {
		a.sol = total
	}
	return a
}

// solTransferWithTokens attributes the first sizeable SOL transfer to a
// deposit that already moved tokens.
func solTransferWithTokens(c *Classifier, v *txView, a amounts) amounts {
	if !a.token.IsPositive() || !v.has(c.cfg.Pool) {
		return a
	}
	for _, ix := range v.instructions() {
		if !ix.IsSOLTransfer() {
			continue
		}
		if amt := ix.SOLAmount(); amt.GreaterThan(attributableSOL) {
			a.sol = amt
			return a
		}
	}
	return a
}

func tokenTransferToPool(c *Classifier, v *txView, a amounts) amounts {
	if total := c.tokenTransfersTo(v, c.cfg.Pool); total.IsPositive() {
		a.token = total
	}
	return a
}

// catchAll accepts any SOL transfer and any transfer of the tracked mint when
// both the pool and the mint appear in the transaction. It trades precision
// for recall and can pick up unrelated transactions touching both.
func catchAll(c *Classifier, v *txView, a amounts) amounts {
	if !v.has(c.cfg.Pool) || !v.has(c.cfg.Mint) {
		return a
	}
	sol := decimal.Zero
	token := decimal.Zero
	decimals := v.decimals[c.cfg.Mint]
	for _, ix := range v.instructions() {
		switch {
		case ix.IsSOLTransfer():
			if amt := ix.SOLAmount(); amt.GreaterThan(solEpsilon) {
				sol = sol.Add(amt)
			}
		case ix.IsTokenTransfer():
			if v.mintOf(ix) == c.cfg.Mint {
				token = token.Add(ix.TokenTransferAmount(decimals))
			}
		}
	}
	a.sol = sol
	a.token = token
	return a
}
