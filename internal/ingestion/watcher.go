package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/syncstate"
)

// Runner runs one synchronization.
type Runner interface {
	Sync(ctx context.Context, req Request) (*Result, error)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Addresses are the accounts whose log activity triggers a run.
	Addresses []string
	// Target is the bounded run target.
	Target int
	// BusyRetry is the wait before retrying when another run holds the flag.
	BusyRetry time.Duration
}

// Watcher triggers bounded runs when the watched addresses show activity.
// Notifications arriving while a run is pending or in flight coalesce into a
// single follow-up run. A run refused by the cooldown is retried once the
// cooldown ends.
type Watcher struct {
	sub    solana.LogSubscriber
	runner Runner
	cfg    WatcherConfig
	log    *logrus.Entry

	trigger chan struct{}
}

// NewWatcher creates a Watcher.
func NewWatcher(sub solana.LogSubscriber, runner Runner, cfg WatcherConfig, log *logrus.Entry) *Watcher {
	if cfg.BusyRetry <= 0 {
		cfg.BusyRetry = 15 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{
		sub:     sub,
		runner:  runner,
		cfg:     cfg,
		log:     log.WithField("component", "watcher"),
		trigger: make(chan struct{}, 1),
	}
}

// Run subscribes to every address and serves triggers until ctx is done. It
// returns an error matching solana.ErrAuthFailure when the upstream rejects
// the credentials, since every later run would fail the same way.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Addresses) == 0 {
		return errors.New("watcher: no addresses")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, addr := range w.cfg.Addresses {
		ch, err := w.sub.SubscribeLogs(ctx, addr)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("subscribe logs for %s: %w", addr, err)
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			w.forward(ctx, addr, ch)
		}(addr)
	}
	w.log.WithField("addresses", len(w.cfg.Addresses)).Info("watching for activity")

	var retry *time.Timer
	var retryC <-chan time.Time
	defer func() {
		if retry != nil {
			retry.Stop()
		}
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.trigger:
		case <-retryC:
			retry, retryC = nil, nil
		}

		wait, err := w.runOnce(ctx)
		if err != nil {
			return err
		}
		if wait > 0 && retry == nil {
			retry = time.NewTimer(wait)
			retryC = retry.C
		}
	}
}

// Trigger requests a run. It never blocks.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) forward(ctx context.Context, addr string, ch <-chan solana.LogNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				w.log.WithField("address", addr).Warn("log subscription closed")
				return
			}
			if n.Err != nil {
				continue
			}
			w.log.WithFields(logrus.Fields{"address": addr, "signature": n.Signature}).Debug("activity")
			w.Trigger()
		}
	}
}

// runOnce runs a bounded sync and returns how long to wait before retrying,
// or zero when no retry is needed. Rejected credentials end the watcher.
func (w *Watcher) runOnce(ctx context.Context) (time.Duration, error) {
	res, err := w.runner.Sync(ctx, Request{Mode: ModeBounded, Target: w.cfg.Target})

	var cd *syncstate.CooldownError
	switch {
	case err == nil:
		w.log.WithField("added", res.Added()).Debug("triggered sync completed")
		return 0, nil
	case errors.As(err, &cd):
		return cd.Remaining, nil
	case errors.Is(err, syncstate.ErrInProgress):
		return w.cfg.BusyRetry, nil
	case errors.Is(err, solana.ErrAuthFailure):
		return 0, fmt.Errorf("triggered sync: %w", err)
	case ctx.Err() != nil:
		return 0, nil
	default:
		w.log.WithError(err).Warn("triggered sync failed")
		return 0, nil
	}
}
