package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/solana/stub"
)

func seedSignatures(rpc *stub.RPCClient, address, prefix string, n int) []string {
	sigs := make([]string, n)
	for i := 0; i < n; i++ {
		sigs[i] = fmt.Sprintf("%s-%04d", prefix, i)
		rpc.AddSignatures(address, solana.SignatureInfo{Signature: sigs[i], Slot: int64(n - i)})
	}
	return sigs
}

func drain(t *testing.T, p *Paginator) [][]solana.SignatureInfo {
	t.Helper()
	var pages [][]solana.SignatureInfo
	for {
		page, err := p.Next(context.Background())
		require.NoError(t, err)
		if page == nil {
			return pages
		}
		pages = append(pages, page)
	}
}

func TestPaginator_ShortPageEndsWalk(t *testing.T) {
	rpc := stub.NewRPCClient()
	sigs := seedSignatures(rpc, "addr", "s", 2400)

	p := NewPaginator(rpc, "addr", PaginatorOptions{PageSize: 1000})
	pages := drain(t, p)

	require.Len(t, pages, 3)
	assert.Len(t, pages[0], 1000)
	assert.Len(t, pages[1], 1000)
	assert.Len(t, pages[2], 400)
	assert.Equal(t, 3, rpc.SignatureCalls())
	assert.Equal(t, sigs[len(sigs)-1], p.Cursor())
	assert.Equal(t, 2400, p.Items())
	assert.True(t, p.Done())

	// Pages never overlap.
	seen := make(map[string]struct{})
	for _, page := range pages {
		for _, s := range page {
			_, dup := seen[s.Signature]
			require.False(t, dup, s.Signature)
			seen[s.Signature] = struct{}{}
		}
	}
}

func TestPaginator_EmptyPageEndsWalk(t *testing.T) {
	rpc := stub.NewRPCClient()
	seedSignatures(rpc, "addr", "s", 20)

	p := NewPaginator(rpc, "addr", PaginatorOptions{PageSize: 10})
	pages := drain(t, p)

	// Two full pages, then an empty one.
	assert.Len(t, pages, 2)
	assert.Equal(t, 3, rpc.SignatureCalls())
	assert.Equal(t, 3, p.Pages())
}

func TestPaginator_Budgets(t *testing.T) {
	t.Run("max pages", func(t *testing.T) {
		rpc := stub.NewRPCClient()
		seedSignatures(rpc, "addr", "s", 100)

		pages := drain(t, NewPaginator(rpc, "addr", PaginatorOptions{PageSize: 10, MaxPages: 3}))
		assert.Len(t, pages, 3)
		assert.Equal(t, 3, rpc.SignatureCalls())
	})

	t.Run("max items trims the last request", func(t *testing.T) {
		rpc := stub.NewRPCClient()
		seedSignatures(rpc, "addr", "s", 100)

		var limits []int
		rpc.OnGetSignatures = func(_ string, opts *solana.SignaturesOpts, _ int) error {
			limits = append(limits, opts.Limit)
			return nil
		}

		p := NewPaginator(rpc, "addr", PaginatorOptions{PageSize: 10, MaxItems: 25})
		pages := drain(t, p)
		assert.Len(t, pages, 3)
		assert.Equal(t, []int{10, 10, 5}, limits)
		assert.Equal(t, 25, p.Items())
	})

	t.Run("oversized page size is clamped", func(t *testing.T) {
		p := NewPaginator(stub.NewRPCClient(), "addr", PaginatorOptions{PageSize: 5000})
		assert.Equal(t, solana.MaxSignatureLimit, p.opts.PageSize)
	})
}

func TestPaginator_ErrorKeepsCursor(t *testing.T) {
	rpc := stub.NewRPCClient()
	seedSignatures(rpc, "addr", "s", 30)
	boom := errors.New("boom")
	rpc.OnGetSignatures = func(_ string, _ *solana.SignaturesOpts, call int) error {
		if call == 2 {
			return boom
		}
		return nil
	}

	p := NewPaginator(rpc, "addr", PaginatorOptions{PageSize: 10})
	page, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 10)
	cursor := p.Cursor()

	_, err = p.Next(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, cursor, p.Cursor())
	assert.False(t, p.Done())

	// The next call resumes where the failed one would have.
	page, err = p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, "s-0010", page[0].Signature)
}
