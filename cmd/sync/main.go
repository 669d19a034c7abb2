// Package main runs one sync operation from the command line.
//
// Exit codes: 0 success, 1 error, 2 upstream quota exhausted (partial results
// saved), 3 upstream authentication failure, 4 cooldown active or another run
// in progress.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/app"
	"solana-liquidity-sync/internal/config"
	"solana-liquidity-sync/internal/ingestion"
	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/syncstate"
)

const (
	exitOK       = 0
	exitError    = 1
	exitQuota    = 2
	exitAuth     = 3
	exitDeferred = 4
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Optional YAML config file")
	mode := flag.String("mode", "bounded", "Operation: bounded, exhaustive, recover, cleanup, remove, status")
	target := flag.Int("target", 0, "New events per feed for bounded mode (0 uses config)")
	force := flag.Bool("force", false, "Ignore the cooldown")
	signatures := flag.String("signatures", "", "Comma-separated signatures for -mode remove")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(exitError)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logger: %v\n", err)
		os.Exit(exitError)
	}
	entry := logger.WithComponent(log, "cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		entry.WithError(err).Error("failed to start")
		os.Exit(exitError)
	}

	op := operation{
		mode:       *mode,
		target:     *target,
		force:      *force,
		signatures: splitList(*signatures),
	}
	out, err := op.run(ctx, a)
	if out != nil {
		writeJSON(os.Stdout, out)
	}
	code := exitCode(err)
	if err != nil {
		entry.WithError(err).WithField("exit_code", code).Error("sync failed")
	}

	if cerr := a.Close(); cerr != nil {
		entry.WithError(cerr).Warn("close failed")
	}
	os.Exit(code)
}

type operation struct {
	mode       string
	target     int
	force      bool
	signatures []string
}

type syncer interface {
	Sync(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
	Recover(ctx context.Context) (*ingestion.Result, error)
	CleanupFailed(ctx context.Context) (*ingestion.PruneResult, error)
	Remove(ctx context.Context, signatures []string) (*ingestion.PruneResult, error)
}

func (o operation) run(ctx context.Context, a *app.App) (interface{}, error) {
	if o.mode == "status" {
		state, d, err := a.Machine.Status(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"state": state, "status": d.Status, "cooldownRemaining": d.CooldownRemaining.String()}, nil
	}
	return o.runSync(ctx, a.Syncer)
}

func (o operation) runSync(ctx context.Context, s syncer) (interface{}, error) {
	switch o.mode {
	case "recover":
		res, err := s.Recover(ctx)
		return result(res, err)
	case "cleanup":
		res, err := s.CleanupFailed(ctx)
		return prune(res, err)
	case "remove":
		if len(o.signatures) == 0 {
			return nil, errors.New("-signatures is required for -mode remove")
		}
		res, err := s.Remove(ctx, o.signatures)
		return prune(res, err)
	}

	mode, err := ingestion.ParseMode(o.mode)
	if err != nil {
		return nil, err
	}
	res, err := s.Sync(ctx, ingestion.Request{Mode: mode, Target: o.target, IgnoreCooldown: o.force})
	return result(res, err)
}

// result and prune keep a nil pointer from printing as "null".
func result(res *ingestion.Result, err error) (interface{}, error) {
	if res == nil {
		return nil, err
	}
	return res, err
}

func prune(res *ingestion.PruneResult, err error) (interface{}, error) {
	if res == nil {
		return nil, err
	}
	return res, err
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, solana.ErrQuotaExceeded):
		return exitQuota
	case errors.Is(err, solana.ErrAuthFailure):
		return exitAuth
	case errors.Is(err, syncstate.ErrCooldown), errors.Is(err, syncstate.ErrInProgress):
		return exitDeferred
	default:
		return exitError
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logrus.WithError(err).Warn("encode result")
	}
}
