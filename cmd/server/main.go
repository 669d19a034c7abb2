// Package main runs the liquidity sync service:
// - HTTP triggers and read endpoints
// - scheduled bounded syncs
// - optional WebSocket watcher that syncs on pool activity
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/api"
	"solana-liquidity-sync/internal/app"
	"solana-liquidity-sync/internal/config"
	"solana-liquidity-sync/internal/ingestion"
	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/syncstate"
)

func main() {
	os.Exit(run())
}

// run serves until a signal or a fatal error and returns the exit code.
func run() int {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Optional YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	interval := flag.Duration("interval", 0, "Scheduled sync interval (overrides config, 0 keeps config)")
	watch := flag.Bool("watch", false, "Sync on WebSocket activity (in addition to config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *interval > 0 {
		cfg.Sync.Interval = *interval
	}
	if *watch {
		cfg.Sync.Watch = true
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure logger")
	}
	entry := logger.WithComponent(log, "server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// fatal records the first error that should stop the process.
	var fatal atomic.Pointer[error]
	stopWith := func(err error) {
		fatal.CompareAndSwap(nil, &err)
		cancel()
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		entry.WithError(err).Error("failed to start")
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			entry.WithError(err).Warn("close failed")
		}
	}()

	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		entry.WithField("signal", sig.String()).Info("shutting down")
		cancel()

		// A second signal forces exit.
		select {
		case sig := <-sigCh:
			entry.WithField("signal", sig.String()).Warn("forced shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			entry.Error("graceful shutdown timed out after 30s")
			os.Exit(1)
		case <-done:
		}
	}()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Options{
			Sync:           a.Syncer,
			Status:         a.Machine,
			Stores:         a.Stores,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger.WithComponent(log, "api"),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		entry.WithField("addr", cfg.Server.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("http server failed")
			stopWith(err)
		}
	}()

	go func() {
		if err := runScheduler(ctx, a.Syncer, cfg.Sync.Interval, logger.WithComponent(log, "scheduler")); err != nil {
			entry.WithError(err).Error("upstream rejected credentials, stopping")
			stopWith(err)
		}
	}()

	if cfg.Sync.Watch {
		if w := a.Watcher(log); w != nil {
			go func() {
				if err := w.Run(ctx); err != nil {
					entry.WithError(err).Error("watcher stopped")
					stopWith(err)
				}
			}()
		} else {
			entry.Warn("watch enabled without WS_URL, watcher disabled")
		}
	}

	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Warn("http shutdown failed")
	}
	close(done)

	if errp := fatal.Load(); errp != nil {
		entry.WithError(*errp).Error("shutdown after fatal error")
		return 1
	}
	entry.Info("shutdown complete")
	return 0
}

// syncer is the part of ingestion.Syncer the scheduler drives.
type syncer interface {
	Sync(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
}

// runScheduler runs a bounded sync immediately and then every interval.
// A zero interval disables scheduling. It returns an error when the upstream
// rejects the credentials; every other failure waits for the next tick.
func runScheduler(ctx context.Context, s syncer, interval time.Duration, log *logrus.Entry) error {
	if interval <= 0 {
		log.Info("scheduled sync disabled")
		return nil
	}
	log.WithField("interval", interval.String()).Info("scheduler started")

	tick := func() error {
		res, err := s.Sync(ctx, ingestion.Request{Mode: ingestion.ModeBounded})
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{"added": res.Added(), "total": res.Total()}).Info("scheduled sync completed")
		case errors.Is(err, syncstate.ErrCooldown), errors.Is(err, syncstate.ErrInProgress):
			log.WithError(err).Debug("scheduled sync skipped")
		case errors.Is(err, solana.ErrAuthFailure):
			return fmt.Errorf("scheduled sync: %w", err)
		case ctx.Err() != nil:
		default:
			log.WithError(err).Warn("scheduled sync failed")
		}
		return nil
	}

	if err := tick(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(); err != nil {
				return err
			}
		}
	}
}
