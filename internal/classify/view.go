package classify

import (
	"github.com/shopspring/decimal"

	"solana-liquidity-sync/internal/solana"
)

// txView indexes one transaction for the classification rules.
// A nil view means the record is unusable and is never an event.
type txView struct {
	tx   *solana.Transaction
	keys []string

	keyIndex     map[string]int
	accountOwner map[string]string // token account -> owner
	accountMint  map[string]string // token account -> mint
	decimals     map[string]int32  // mint -> decimals
}

func newView(tx *solana.Transaction) *txView {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return nil
	}
	if tx.Meta.Err != nil || tx.BlockTime <= 0 {
		return nil
	}
	if len(tx.Meta.PreBalances) != len(tx.Meta.PostBalances) {
		return nil
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil
	}

	v := &txView{
		tx:           tx,
		keys:         tx.Message.AccountKeys,
		keyIndex:     make(map[string]int, len(tx.Message.AccountKeys)),
		accountOwner: make(map[string]string),
		accountMint:  make(map[string]string),
		decimals:     make(map[string]int32),
	}
	for i, k := range v.keys {
		if _, ok := v.keyIndex[k]; !ok {
			v.keyIndex[k] = i
		}
	}

	// Post balances win over pre balances for the account table.
	index := func(balances []solana.TokenBalance) {
		for _, b := range balances {
			acct := v.key(b.AccountIndex)
			if acct == "" {
				continue
			}
			if b.Owner != "" {
				v.accountOwner[acct] = b.Owner
			}
			if b.Mint != "" {
				v.accountMint[acct] = b.Mint
				v.decimals[b.Mint] = b.UITokenAmount.Decimals
			}
		}
	}
	index(tx.Meta.PreTokenBalances)
	index(tx.Meta.PostTokenBalances)

	return v
}

func (v *txView) key(i int) string {
	if i < 0 || i >= len(v.keys) {
		return ""
	}
	return v.keys[i]
}

func (v *txView) has(addr string) bool {
	_, ok := v.keyIndex[addr]
	return addr != "" && ok
}

// solDelta is the lamport change of addr, in SOL.
func (v *txView) solDelta(addr string) decimal.Decimal {
	i, ok := v.keyIndex[addr]
	if !ok || i >= len(v.tx.Meta.PreBalances) {
		return decimal.Zero
	}
	post := solana.LamportsToSOL(v.tx.Meta.PostBalances[i])
	pre := solana.LamportsToSOL(v.tx.Meta.PreBalances[i])
	return post.Sub(pre)
}

// tokenDelta sums owner's balances of mint after the transaction minus before.
func (v *txView) tokenDelta(owner, mint string) decimal.Decimal {
	sum := func(balances []solana.TokenBalance) decimal.Decimal {
		total := decimal.Zero
		for _, b := range balances {
			if b.Owner == owner && b.Mint == mint {
				total = total.Add(b.UITokenAmount.Decimal())
			}
		}
		return total
	}
	return sum(v.tx.Meta.PostTokenBalances).Sub(sum(v.tx.Meta.PreTokenBalances))
}

// ownerDelta is one owner's net change on a mint.
type ownerDelta struct {
	owner string
	delta decimal.Decimal
}

// ownerDeltas returns the per-owner delta on mint, in the order owners first
// appear in the post-balance table followed by owners seen only before.
func (v *txView) ownerDeltas(mint string) []ownerDelta {
	var order []string
	seen := make(map[string]bool)
	for _, table := range [][]solana.TokenBalance{v.tx.Meta.PostTokenBalances, v.tx.Meta.PreTokenBalances} {
		for _, b := range table {
			if b.Mint != mint || b.Owner == "" || seen[b.Owner] {
				continue
			}
			seen[b.Owner] = true
			order = append(order, b.Owner)
		}
	}

	out := make([]ownerDelta, 0, len(order))
	for _, owner := range order {
		out = append(out, ownerDelta{owner: owner, delta: v.tokenDelta(owner, mint)})
	}
	return out
}

// decreasedOwner returns the first token account owner, other than exclude,
// whose balance went down. Accounts closed by the transaction count as decreased.
func (v *txView) decreasedOwner(exclude string) string {
	post := make(map[int]decimal.Decimal, len(v.tx.Meta.PostTokenBalances))
	for _, b := range v.tx.Meta.PostTokenBalances {
		post[b.AccountIndex] = b.UITokenAmount.Decimal()
	}
	for _, b := range v.tx.Meta.PreTokenBalances {
		if b.Owner == "" || b.Owner == exclude {
			continue
		}
		after, ok := post[b.AccountIndex]
		if !ok {
			after = decimal.Zero
		}
		if after.LessThan(b.UITokenAmount.Decimal()) {
			return b.Owner
		}
	}
	return ""
}

// mintOf returns the mint moved by a token transfer instruction, if known.
func (v *txView) mintOf(ix solana.Instruction) string {
	if ix.Info.Mint != "" {
		return ix.Info.Mint
	}
	if m := v.accountMint[ix.Info.Destination]; m != "" {
		return m
	}
	return v.accountMint[ix.Info.Source]
}

func (v *txView) instructions() []solana.Instruction {
	return v.tx.Message.Instructions
}
