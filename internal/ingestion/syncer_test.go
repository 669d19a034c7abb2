package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidity-sync/internal/classify"
	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/solana/stub"
	"solana-liquidity-sync/internal/storage"
	"solana-liquidity-sync/internal/storage/memory"
	"solana-liquidity-sync/internal/syncstate"
)

func key(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return base58.Encode(sum[:])
}

var (
	poolAddr    = key("pool")
	mintAddr    = key("mint")
	buybackAddr = key("buyback")
	lpWallet    = key("lp")
	sender      = key("sender")
)

func mintTx(sig string, blockTime int64, lamports uint64) *solana.Transaction {
	return &solana.Transaction{
		Signature: sig,
		BlockTime: blockTime,
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{0, 1_000_000_000, 0},
			PostBalances: []uint64{0, 1_000_000_000 + lamports, 0},
		},
		Message: &solana.TransactionMessage{AccountKeys: []string{lpWallet, poolAddr, mintAddr}},
	}
}

func tokenBal(idx int, owner, ui string) solana.TokenBalance {
	return solana.TokenBalance{
		AccountIndex:  idx,
		Mint:          mintAddr,
		Owner:         owner,
		UITokenAmount: solana.UITokenAmount{Decimals: 6, UIAmountString: ui},
	}
}

func transferTx(sig string, blockTime int64) *solana.Transaction {
	return &solana.Transaction{
		Signature: sig,
		BlockTime: blockTime,
		Meta: &solana.TransactionMeta{
			PreTokenBalances:  []solana.TokenBalance{tokenBal(3, sender, "500"), tokenBal(4, buybackAddr, "0")},
			PostTokenBalances: []solana.TokenBalance{tokenBal(3, sender, "380"), tokenBal(4, buybackAddr, "120")},
		},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{sender, buybackAddr, mintAddr, key("src-acct"), key("dst-acct")},
		},
	}
}

// addMints publishes n mint transactions on the pool feed, newest first.
func addMints(rpc *stub.RPCClient, prefix string, n int, newest int64) []string {
	sigs := make([]string, n)
	for i := 0; i < n; i++ {
		sigs[i] = fmt.Sprintf("%s-%03d", prefix, i)
		ts := newest - int64(i)*60
		rpc.AddSignatures(poolAddr, solana.SignatureInfo{Signature: sigs[i], BlockTime: &ts})
		rpc.AddTransaction(mintTx(sigs[i], ts, 500_000_000))
	}
	return sigs
}

type recordingPublisher struct {
	mu        sync.Mutex
	mints     []domain.MintEvent
	transfers []domain.TransferEvent
	err       error
}

func (p *recordingPublisher) PublishMints(_ context.Context, events []domain.MintEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mints = append(p.mints, events...)
	return p.err
}

func (p *recordingPublisher) PublishTransfers(_ context.Context, events []domain.TransferEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transfers = append(p.transfers, events...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type recordingHistory struct {
	calls int
	last  []domain.MintEvent
	err   error
}

func (h *recordingHistory) Update(_ context.Context, mints []domain.MintEvent) (int, error) {
	h.calls++
	h.last = mints
	if h.err != nil {
		return 0, h.err
	}
	return 1, nil
}

type fixture struct {
	rpc       *stub.RPCClient
	stores    *storage.Stores
	machine   *syncstate.Machine
	history   *recordingHistory
	publisher *recordingPublisher
	syncer    *Syncer
	now       *time.Time
}

type fixtureOption func(*Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	rpc := stub.NewRPCClient()
	upstream := solana.NewRateLimitedClient(rpc, solana.RateLimitedConfig{
		RequestsPerSecond: 1_000_000,
		RetryBaseDelay:    time.Millisecond,
		MaxRetryDelay:     time.Millisecond,
		FanOut:            1,
	}, solana.WithLogger(logger.Discard()))

	stores := memory.NewStores()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	machine := syncstate.NewMachine(stores.SyncState, syncstate.DefaultPolicy(),
		syncstate.WithClock(func() time.Time { return now }),
		syncstate.WithLogger(logger.Discard()))

	f := &fixture{
		rpc:       rpc,
		stores:    stores,
		machine:   machine,
		history:   &recordingHistory{},
		publisher: &recordingPublisher{},
		now:       &now,
	}

	o := Options{
		Upstream:   upstream,
		Classifier: classify.New(classify.Config{Pool: poolAddr, Mint: mintAddr, Buyback: buybackAddr}),
		Stores:     stores,
		Machine:    machine,
		History:    f.history,
		Publisher:  f.publisher,
		Config:     Config{Pool: poolAddr, PageSize: 100},
		Logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.syncer = NewSyncer(o)
	return f
}

func (f *fixture) state(t *testing.T) *domain.SyncState {
	t.Helper()
	s, err := f.stores.SyncState.Load(context.Background())
	require.NoError(t, err)
	return s
}

func (f *fixture) storeMints(t *testing.T, events ...domain.MintEvent) {
	t.Helper()
	require.NoError(t, f.stores.Mints.Save(context.Background(), events))
}

func TestSync_QuotaMidRunKeepsPartialResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	addMints(f.rpc, "new", 50, 1_700_100_000)
	prior := addMints(f.rpc, "old", 3, 1_700_000_000)
	f.storeMints(t,
		mintEvent(prior[0], 1_700_000_000, "1"),
		mintEvent(prior[1], 1_699_999_940, "1"),
		mintEvent(prior[2], 1_699_999_880, "1"),
	)

	f.rpc.OnGetTransaction = func(_ string, call int) error {
		if call == 38 {
			return errors.New("daily quota exceeded for this key")
		}
		return nil
	}

	res, err := f.syncer.Sync(ctx, Request{Mode: ModeExhaustive})
	require.Error(t, err)
	assert.ErrorIs(t, err, solana.ErrQuotaExceeded)
	require.NotNil(t, res)
	assert.True(t, res.QuotaExceeded)
	assert.Equal(t, 37, res.MintsAdded)
	assert.Equal(t, 40, res.TotalMints)
	assert.Equal(t, 37, res.Added())

	mints, err := f.stores.Mints.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, mints, 40)

	state := f.state(t)
	assert.False(t, state.IsSyncing)
	assert.Zero(t, state.LastSync, "a failed run must not start the cooldown")

	// Quota errors are not retried.
	assert.Equal(t, 38, f.rpc.TransactionCalls())
	assert.Len(t, f.publisher.mints, 37)
	assert.Equal(t, 1, f.history.calls)
	assert.Len(t, f.history.last, 40)
}

func TestSync_CompleteRunSetsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addMints(f.rpc, "m", 12, 1_700_000_000)

	res, err := f.syncer.Sync(ctx, Request{Mode: ModeExhaustive})
	require.NoError(t, err)
	assert.Equal(t, 12, res.MintsAdded)
	assert.Equal(t, 12, res.TotalMints)
	assert.False(t, res.QuotaExceeded)
	assert.NotEmpty(t, res.RunID)

	state := f.state(t)
	assert.False(t, state.IsSyncing)
	assert.Equal(t, f.now.UnixMilli(), state.LastSync)

	_, err = f.syncer.Sync(ctx, Request{})
	var cd *syncstate.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, 120, cd.RetryAfterSeconds())

	// A rerun after the cooldown finds nothing new and fetches nothing.
	*f.now = f.now.Add(3 * time.Minute)
	calls := f.rpc.TransactionCalls()
	res, err = f.syncer.Sync(ctx, Request{Mode: ModeExhaustive})
	require.NoError(t, err)
	assert.Zero(t, res.Added())
	assert.Equal(t, 12, res.Total())
	assert.Equal(t, 12, res.Skipped)
	assert.Equal(t, calls, f.rpc.TransactionCalls())
}

func TestSync_Recover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addMints(f.rpc, "m", 3, 1_700_000_000)

	_, err := f.syncer.Sync(ctx, Request{})
	require.NoError(t, err)

	addMints(f.rpc, "late", 2, 1_600_000_000)
	res, err := f.syncer.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeExhaustive, res.Mode)
	assert.Equal(t, 2, res.MintsAdded)
	assert.Equal(t, 5, res.TotalMints)
}

func TestSync_InProgress(t *testing.T) {
	f := newFixture(t)
	lease, err := f.machine.Acquire(context.Background(), syncstate.AcquireOptions{})
	require.NoError(t, err)
	defer lease.Release(context.Background(), false)

	res, err := f.syncer.Sync(context.Background(), Request{IgnoreCooldown: true})
	assert.ErrorIs(t, err, syncstate.ErrInProgress)
	assert.Nil(t, res)
	assert.Zero(t, f.rpc.SignatureCalls())
}

func TestSync_BoundedStopsAtTarget(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.PageSize = 10 })
	addMints(f.rpc, "m", 40, 1_700_000_000)

	res, err := f.syncer.Sync(context.Background(), Request{Mode: ModeBounded, Target: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 10, res.MintsAdded)
	assert.Equal(t, 1, f.rpc.SignatureCalls())
}

func TestSync_TransactionBudget(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.MaxTransactions = 7 })
	addMints(f.rpc, "m", 20, 1_700_000_000)

	res, err := f.syncer.Sync(context.Background(), Request{Mode: ModeExhaustive})
	require.NoError(t, err)
	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 7, res.Fetched)
	assert.Equal(t, 7, res.MintsAdded)
	assert.Equal(t, 7, f.rpc.TransactionCalls())
}

func TestSync_SkipsFailedExcludedAndUnknown(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Exclusions = NewExclusions("bad-sig") })
	ctx := context.Background()

	ts := int64(1_700_000_000)
	f.rpc.AddSignatures(poolAddr,
		solana.SignatureInfo{Signature: "ok-1", BlockTime: &ts},
		solana.SignatureInfo{Signature: "failed", Err: map[string]interface{}{"InstructionError": "x"}},
		solana.SignatureInfo{Signature: "bad-sig"},
		solana.SignatureInfo{Signature: "missing"},
		solana.SignatureInfo{Signature: "ok-2", BlockTime: &ts},
	)
	f.rpc.AddTransaction(mintTx("ok-1", ts, 1_000_000_000))
	f.rpc.AddTransaction(mintTx("ok-2", ts-1, 1_000_000_000))
	f.rpc.AddTransaction(mintTx("bad-sig", ts, 1_000_000_000))

	// An excluded event already in the store is stripped.
	f.storeMints(t, mintEvent("bad-sig", 1_600_000_000, "1"), mintEvent("kept", 1_500_000_000, "1"))

	res, err := f.syncer.Sync(ctx, Request{Mode: ModeExhaustive})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MintsAdded)
	assert.Equal(t, 3, res.TotalMints)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 3, f.rpc.TransactionCalls())

	mints, err := f.stores.Mints.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-1", "ok-2", "kept"}, keys(mints))
}

func TestSync_WalksBuybackFeed(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.Buyback = buybackAddr })
	ctx := context.Background()

	addMints(f.rpc, "m", 2, 1_700_000_000)
	ts := int64(1_700_000_500)
	f.rpc.AddSignatures(buybackAddr, solana.SignatureInfo{Signature: "t-1", BlockTime: &ts})
	f.rpc.AddTransaction(transferTx("t-1", ts))

	res, err := f.syncer.Sync(ctx, Request{Mode: ModeExhaustive})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MintsAdded)
	assert.Equal(t, 1, res.TransfersAdded)
	assert.Equal(t, 3, res.Total())

	transfers, err := f.stores.Transfers.Load(ctx)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.True(t, decimal.NewFromInt(120).Equal(transfers[0].TokenAmount))
	assert.Equal(t, sender, transfers[0].From)
	assert.Len(t, f.publisher.transfers, 1)
}

func TestSync_SideEffectFailuresDoNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("history down")
	f.publisher.err = errors.New("broker down")
	addMints(f.rpc, "m", 2, 1_700_000_000)

	res, err := f.syncer.Sync(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MintsAdded)
	assert.NotZero(t, f.state(t).LastSync)
}

func TestSync_AuthFailure(t *testing.T) {
	f := newFixture(t)
	addMints(f.rpc, "m", 2, 1_700_000_000)
	f.rpc.OnGetSignatures = func(string, *solana.SignaturesOpts, int) error {
		return errors.New("status 401: unauthorized")
	}

	res, err := f.syncer.Sync(context.Background(), Request{})
	require.ErrorIs(t, err, solana.ErrAuthFailure)
	assert.False(t, res.QuotaExceeded)
	assert.Equal(t, 1, f.rpc.SignatureCalls())
	assert.False(t, f.state(t).IsSyncing)
}

func TestCleanupFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeMints(t, mintEvent("a", 3, "1"), mintEvent("b", 2, "1"), mintEvent("c", 1, "1"))
	f.rpc.SetStatus("a", &solana.SignatureStatus{Slot: 1})
	f.rpc.SetStatus("b", &solana.SignatureStatus{Slot: 2, Err: map[string]interface{}{"InstructionError": "x"}})

	res, err := f.syncer.CleanupFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, res.MintsRemoved)
	assert.Equal(t, []string{"b"}, res.Signatures)
	assert.Equal(t, 2, res.TotalMints)

	mints, err := f.stores.Mints.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, keys(mints))

	state := f.state(t)
	assert.False(t, state.IsSyncing)
	assert.Zero(t, state.LastSync)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeMints(t, mintEvent("a", 2, "1"), mintEvent("b", 1, "1"))

	res, err := f.syncer.Remove(ctx, []string{"b", "unknown", " "})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed())
	assert.Equal(t, 1, res.TotalMints)

	_, err = f.syncer.Remove(ctx, []string{" "})
	assert.Error(t, err)
}

func TestRemove_NotFetchedBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sigs := addMints(f.rpc, "m", 3, 1_700_000_000)

	_, err := f.syncer.Recover(ctx)
	require.NoError(t, err)

	res, err := f.syncer.Remove(ctx, []string{sigs[1]})
	require.NoError(t, err)
	assert.Equal(t, []string{sigs[1]}, res.Signatures)
	calls := f.rpc.TransactionCalls()

	res2, err := f.syncer.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, res2.MintsAdded)
	assert.Equal(t, 2, res2.TotalMints)
	assert.Equal(t, calls, f.rpc.TransactionCalls())

	mints, err := f.stores.Mints.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys(mints), sigs[1])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBounded, m)

	m, err = ParseMode("exhaustive")
	require.NoError(t, err)
	assert.Equal(t, ModeExhaustive, m)

	_, err = ParseMode("full")
	assert.Error(t, err)
}
