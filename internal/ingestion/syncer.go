package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/classify"
	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/publish"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/storage"
	"solana-liquidity-sync/internal/syncstate"
)

// Mode selects when a run stops walking a feed.
type Mode string

const (
	// ModeBounded stops a feed once Target new events were found.
	ModeBounded Mode = "bounded"
	// ModeExhaustive walks a feed until it is exhausted or a budget runs out.
	ModeExhaustive Mode = "exhaustive"
)

// ParseMode parses a mode name. An empty name is ModeBounded.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBounded:
		return ModeBounded, nil
	case ModeExhaustive:
		return ModeExhaustive, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

// Upstream is the rate-limited RPC surface a run needs.
type Upstream interface {
	SignatureLister
	// GetTransactions returns results aligned with signatures, nil for
	// unknown ones, plus whatever was fetched before a terminal error.
	GetTransactions(ctx context.Context, signatures []string) ([]*solana.Transaction, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*solana.SignatureStatus, error)
}

// HistoryUpdater re-derives history from the full mint set.
type HistoryUpdater interface {
	Update(ctx context.Context, mints []domain.MintEvent) (int, error)
}

// Config holds the feeds and budgets of a run.
type Config struct {
	Pool    string
	Buyback string

	PageSize int
	// MaxPages is the page budget per feed.
	MaxPages int
	// MaxTransactions is the transaction fetch budget per run.
	MaxTransactions int
	// DefaultTarget applies to bounded requests without a target.
	DefaultTarget int
}

// Options contains the collaborators of a Syncer.
type Options struct {
	Upstream   Upstream
	Classifier *classify.Classifier
	Stores     *storage.Stores
	Machine    *syncstate.Machine
	History    HistoryUpdater    // optional
	Publisher  publish.Publisher // optional
	Exclusions *Exclusions
	Config     Config
	Logger     *logrus.Entry
}

// Syncer runs synchronizations. Runs are serialized across processes by the
// sync flag, so a Syncer may be shared freely.
type Syncer struct {
	upstream   Upstream
	classifier *classify.Classifier
	stores     *storage.Stores
	machine    *syncstate.Machine
	history    HistoryUpdater
	publisher  publish.Publisher
	exclusions *Exclusions
	cfg        Config
	log        *logrus.Entry
}

// NewSyncer creates a Syncer.
func NewSyncer(opts Options) *Syncer {
	cfg := opts.Config
	if cfg.DefaultTarget <= 0 {
		cfg.DefaultTarget = 50
	}

	publisher := opts.Publisher
	if publisher == nil {
		publisher = publish.Nop{}
	}

	exclusions := opts.Exclusions
	if exclusions == nil {
		exclusions = NewExclusions()
	}

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "sync")
	}

	return &Syncer{
		upstream:   opts.Upstream,
		classifier: opts.Classifier,
		stores:     opts.Stores,
		machine:    opts.Machine,
		history:    opts.History,
		publisher:  publisher,
		exclusions: exclusions,
		cfg:        cfg,
		log:        log,
	}
}

// Machine returns the sync state machine the Syncer acquires runs from.
func (s *Syncer) Machine() *syncstate.Machine { return s.machine }

// Request describes one run.
type Request struct {
	Mode Mode
	// Target is the number of new events per feed a bounded run looks for.
	Target int
	// IgnoreCooldown skips the cooldown check.
	IgnoreCooldown bool
}

// Result summarizes a run. It is returned alongside upstream errors with
// the work that was persisted before the error.
type Result struct {
	RunID           string `json:"runId"`
	Mode            Mode   `json:"mode"`
	MintsAdded      int    `json:"mintsAdded"`
	TransfersAdded  int    `json:"transfersAdded"`
	TotalMints      int    `json:"totalMints"`
	TotalTransfers  int    `json:"totalTransfers"`
	HistoryAdded    int    `json:"historyAdded"`
	Pages           int    `json:"pages"`
	Fetched         int    `json:"fetched"`
	Skipped         int    `json:"skipped"`
	BudgetExhausted bool   `json:"budgetExhausted"`
	QuotaExceeded   bool   `json:"quotaExceeded"`

	Duration time.Duration `json:"-"`
}

// Added is the number of new events stored by the run.
func (r *Result) Added() int { return r.MintsAdded + r.TransfersAdded }

// Total is the number of events stored after the run.
func (r *Result) Total() int { return r.TotalMints + r.TotalTransfers }

// run is the mutable state of one synchronization.
type run struct {
	req       Request
	known     map[string]struct{}
	mints     []domain.MintEvent
	transfers []domain.TransferEvent
	result    *Result
}

type feed struct {
	name    string
	address string
}

// Sync performs one run. The sync flag is released on every return path.
// When the upstream fails after events were classified, those events are
// merged and saved before the error is returned; a spent quota is reported
// through Result.QuotaExceeded and an error matching solana.ErrQuotaExceeded.
func (s *Syncer) Sync(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	req = s.normalize(req)

	lease, err := s.machine.Acquire(ctx, syncstate.AcquireOptions{IgnoreCooldown: req.IgnoreCooldown})
	if err != nil {
		observability.RecordSyncRun(string(req.Mode), outcome(err), 0)
		return nil, err
	}

	res = &Result{RunID: lease.RunID(), Mode: req.Mode}
	log := s.log.WithFields(logrus.Fields{"run_id": res.RunID, "mode": req.Mode})

	defer func() {
		if rerr := lease.Release(ctx, err == nil); rerr != nil {
			log.WithError(rerr).Error("failed to release sync flag")
			if err == nil {
				err = rerr
			}
		}
		res.Duration = time.Since(start)
		observability.RecordSyncRun(string(req.Mode), outcome(err), res.Duration.Seconds())
	}()

	log.WithField("target", req.Target).Info("sync started")

	existingMints, err := s.stores.Mints.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load mint events: %w", err)
	}
	existingTransfers, err := s.stores.Transfers.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load transfer events: %w", err)
	}

	r := &run{req: req, result: res, known: make(map[string]struct{}, len(existingMints)+len(existingTransfers))}
	for _, e := range existingMints {
		r.known[e.Signature] = struct{}{}
	}
	for _, e := range existingTransfers {
		r.known[e.Signature] = struct{}{}
	}

	walkErr := s.walk(ctx, r, log)
	if errors.Is(walkErr, solana.ErrQuotaExceeded) {
		res.QuotaExceeded = true
	}

	// Work done before a failure is kept, even if the caller gave up.
	persistCtx := ctx
	if walkErr != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	if err := s.persist(persistCtx, r, existingMints, existingTransfers, log); err != nil {
		if walkErr != nil {
			return res, errors.Join(walkErr, err)
		}
		return res, err
	}

	fields := logrus.Fields{
		"mints_added":     res.MintsAdded,
		"transfers_added": res.TransfersAdded,
		"total":           res.Total(),
		"pages":           res.Pages,
		"fetched":         res.Fetched,
		"skipped":         res.Skipped,
	}
	if walkErr != nil {
		log.WithFields(fields).WithError(walkErr).Warn("sync stopped early, partial results saved")
		return res, walkErr
	}
	log.WithFields(fields).Info("sync completed")
	return res, nil
}

// Recover runs an exhaustive sync that ignores the cooldown.
func (s *Syncer) Recover(ctx context.Context) (*Result, error) {
	return s.Sync(ctx, Request{Mode: ModeExhaustive, IgnoreCooldown: true})
}

func (s *Syncer) normalize(req Request) Request {
	if req.Mode == "" {
		req.Mode = ModeBounded
	}
	if req.Target <= 0 {
		req.Target = s.cfg.DefaultTarget
	}
	return req
}

func (s *Syncer) feeds() []feed {
	var out []feed
	if s.cfg.Pool != "" {
		out = append(out, feed{name: "pool", address: s.cfg.Pool})
	}
	if s.cfg.Buyback != "" && s.cfg.Buyback != s.cfg.Pool {
		out = append(out, feed{name: "buyback", address: s.cfg.Buyback})
	}
	return out
}

func (s *Syncer) walk(ctx context.Context, r *run, log *logrus.Entry) error {
	for _, f := range s.feeds() {
		if r.result.BudgetExhausted {
			break
		}
		if err := s.walkFeed(ctx, r, f, log.WithField("feed", f.name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) walkFeed(ctx context.Context, r *run, f feed, log *logrus.Entry) error {
	p := NewPaginator(s.upstream, f.address, PaginatorOptions{
		PageSize: s.cfg.PageSize,
		MaxPages: s.cfg.MaxPages,
	})

	found := 0
	for {
		page, err := p.Next(ctx)
		if err != nil {
			return err
		}
		if page == nil {
			break
		}
		r.result.Pages++
		observability.RecordPage(f.name)

		todo := s.pending(r, page)
		if s.cfg.MaxTransactions > 0 {
			remaining := s.cfg.MaxTransactions - r.result.Fetched
			if remaining < len(todo) {
				todo = todo[:max(remaining, 0)]
				r.result.BudgetExhausted = true
			}
		}

		if len(todo) > 0 {
			txs, err := s.upstream.GetTransactions(ctx, todo)
			r.result.Fetched += len(todo)
			found += s.classify(r, txs)
			if err != nil {
				return fmt.Errorf("fetch %s transactions: %w", f.name, err)
			}
		}

		if r.result.BudgetExhausted {
			log.WithField("fetched", r.result.Fetched).Info("transaction budget exhausted")
			break
		}
		if r.req.Mode == ModeBounded && found >= r.req.Target {
			break
		}
	}

	log.WithFields(logrus.Fields{
		"pages":  p.Pages(),
		"cursor": p.Cursor(),
		"found":  found,
	}).Debug("feed walked")
	return nil
}

// pending drops failed, excluded and already known signatures from page and
// marks the rest as known.
func (s *Syncer) pending(r *run, page []solana.SignatureInfo) []string {
	var failed, excluded, known int
	todo := make([]string, 0, len(page))
	for _, info := range page {
		switch {
		case info.Err != nil:
			failed++
		case s.exclusions.Contains(info.Signature):
			excluded++
		default:
			if _, ok := r.known[info.Signature]; ok {
				known++
				continue
			}
			r.known[info.Signature] = struct{}{}
			todo = append(todo, info.Signature)
		}
	}

	observability.RecordSkipped("failed", failed)
	observability.RecordSkipped("excluded", excluded)
	observability.RecordSkipped("known", known)
	r.result.Skipped += failed + excluded + known
	return todo
}

// classify turns fetched transactions into events and returns how many were found.
func (s *Syncer) classify(r *run, txs []*solana.Transaction) int {
	found := 0
	missing := 0
	for _, tx := range txs {
		if tx == nil {
			missing++
			continue
		}
		c := s.classifier.Classify(tx)
		observability.RecordClassification(string(c.Kind))

		switch c.Kind {
		case classify.KindMint:
			if s.exclusions.Contains(c.Mint.Signature) {
				continue
			}
			r.mints = append(r.mints, *c.Mint)
			found++
		case classify.KindTransfer:
			if s.exclusions.Contains(c.Transfer.Signature) {
				continue
			}
			r.transfers = append(r.transfers, *c.Transfer)
			found++
		}
	}
	observability.RecordSkipped("not_found", missing)
	r.result.Skipped += missing
	return found
}

// persist merges the run's events into the stores, then refreshes history
// and publishes what was added. Only store failures are returned.
func (s *Syncer) persist(ctx context.Context, r *run, existingMints []domain.MintEvent, existingTransfers []domain.TransferEvent, log *logrus.Entry) error {
	mints, addedMints := Merge(existingMints, r.mints)
	mints, strippedMints := Without(mints, s.exclusions.Contains)
	transfers, addedTransfers := Merge(existingTransfers, r.transfers)
	transfers, strippedTransfers := Without(transfers, s.exclusions.Contains)

	if len(addedMints) > 0 || len(strippedMints) > 0 {
		if err := s.stores.Mints.Save(ctx, mints); err != nil {
			return fmt.Errorf("save mint events: %w", err)
		}
	}
	if len(addedTransfers) > 0 || len(strippedTransfers) > 0 {
		if err := s.stores.Transfers.Save(ctx, transfers); err != nil {
			return fmt.Errorf("save transfer events: %w", err)
		}
	}

	r.result.MintsAdded = len(addedMints)
	r.result.TransfersAdded = len(addedTransfers)
	r.result.TotalMints = len(mints)
	r.result.TotalTransfers = len(transfers)

	observability.RecordEventsAdded(publish.KindMint, len(addedMints))
	observability.RecordEventsAdded(publish.KindTransfer, len(addedTransfers))
	observability.RecordEventsRemoved(publish.KindMint, "excluded", len(strippedMints))
	observability.RecordEventsRemoved(publish.KindTransfer, "excluded", len(strippedTransfers))
	observability.UpdateStoredEvents(publish.KindMint, len(mints))
	observability.UpdateStoredEvents(publish.KindTransfer, len(transfers))

	// History is derived and rebuilt on the next run, so a failure here does
	// not fail this one.
	if s.history != nil && len(mints) > 0 {
		added, err := s.history.Update(ctx, mints)
		if err != nil {
			log.WithError(err).Error("failed to update history")
		}
		r.result.HistoryAdded = added
	}

	if err := s.publisher.PublishMints(ctx, addedMints); err != nil {
		log.WithError(err).Warn("failed to publish mint events")
	}
	if err := s.publisher.PublishTransfers(ctx, addedTransfers); err != nil {
		log.WithError(err).Warn("failed to publish transfer events")
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, syncstate.ErrCooldown):
		return "cooldown"
	case errors.Is(err, syncstate.ErrInProgress):
		return "in_progress"
	case errors.Is(err, solana.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, solana.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
