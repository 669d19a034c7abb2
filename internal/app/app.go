// Package app wires configuration into the running components shared by
// the server and the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/classify"
	"solana-liquidity-sync/internal/config"
	"solana-liquidity-sync/internal/history"
	"solana-liquidity-sync/internal/ingestion"
	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/pricing"
	"solana-liquidity-sync/internal/publish"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/storage"
	chstore "solana-liquidity-sync/internal/storage/clickhouse"
	"solana-liquidity-sync/internal/storage/file"
	"solana-liquidity-sync/internal/storage/memory"
	"solana-liquidity-sync/internal/storage/migrations"
	pgstore "solana-liquidity-sync/internal/storage/postgres"
	"solana-liquidity-sync/internal/storage/redisstore"
	"solana-liquidity-sync/internal/storage/s3store"
	"solana-liquidity-sync/internal/syncstate"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Stores    *storage.Stores
	Upstream  *solana.RateLimitedClient
	Machine   *syncstate.Machine
	Syncer    *ingestion.Syncer
	Publisher publish.Publisher

	closers []func() error
}

// New builds the component graph described by cfg.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg}

	stores, err := OpenStores(ctx, cfg, logger.WithComponent(log, "storage"))
	if err != nil {
		return nil, err
	}
	a.Stores = stores
	if stores.Close != nil {
		a.closers = append(a.closers, stores.Close)
	}

	rpc := solana.NewHTTPClient(cfg.RPC.URL, solana.WithTimeout(cfg.RPC.Timeout))
	a.Upstream = solana.NewRateLimitedClient(rpc, cfg.RateLimited(),
		solana.WithLogger(logger.WithComponent(log, "rpc")))

	a.Machine = syncstate.NewMachine(stores.SyncState, syncstate.Policy{
		Cooldown:       cfg.Sync.Cooldown,
		StuckThreshold: cfg.Sync.StuckThreshold,
	}, syncstate.WithLogger(logger.WithComponent(log, "syncstate")))

	a.Publisher = publish.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger.WithComponent(log, "publish"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		a.Publisher = p
		a.closers = append(a.closers, p.Close)
	}

	var prices history.PriceSource
	if cfg.Pricing.Enabled {
		prices = pricing.NewCoinGeckoSource(cfg.Pricing.URL, cfg.Pricing.Timeout)
	}
	aggregator := history.NewAggregator(stores.History, prices, logger.WithComponent(log, "history"))

	a.Syncer = ingestion.NewSyncer(ingestion.Options{
		Upstream: a.Upstream,
		Classifier: classify.New(classify.Config{
			Pool:                   cfg.Addresses.Pool,
			Mint:                   cfg.Addresses.Mint,
			Buyback:                cfg.Addresses.Buyback,
			AssociatedTokenProgram: cfg.Addresses.AssociatedTokenProgram,
		}),
		Stores:     stores,
		Machine:    a.Machine,
		History:    aggregator,
		Publisher:  a.Publisher,
		Exclusions: ingestion.NewExclusions(cfg.Sync.ExcludedSignatures...),
		Config: ingestion.Config{
			Pool:            cfg.Addresses.Pool,
			Buyback:         cfg.Addresses.Buyback,
			PageSize:        cfg.Sync.PageSize,
			MaxPages:        cfg.Sync.MaxPages,
			MaxTransactions: cfg.Sync.MaxTransactions,
			DefaultTarget:   cfg.Sync.DefaultTarget,
		},
		Logger: logger.WithComponent(log, "sync"),
	})

	return a, nil
}

// Watcher returns a watcher over the configured WebSocket endpoint, or nil
// when no endpoint is configured.
func (a *App) Watcher(log *logrus.Logger) *ingestion.Watcher {
	if a.Config.RPC.WSURL == "" {
		return nil
	}
	ws := solana.NewWSClient(a.Config.RPC.WSURL, nil, logger.WithComponent(log, "rpc"))
	a.closers = append(a.closers, ws.Close)
	addrs := []string{a.Config.Addresses.Pool}
	if b := a.Config.Addresses.Buyback; b != "" && b != a.Config.Addresses.Pool {
		addrs = append(addrs, b)
	}
	return ingestion.NewWatcher(ws, a.Syncer, ingestion.WatcherConfig{
		Addresses: addrs,
		Target:    a.Config.Sync.DefaultTarget,
	}, logger.WithComponent(log, "watcher"))
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStores opens the configured storage backend. The postgres backend runs
// migrations first. When a ClickHouse DSN is set, history is kept there
// whatever the event backend is.
func OpenStores(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*storage.Stores, error) {
	var stores *storage.Stores
	var err error

	switch cfg.Storage.Backend {
	case "memory":
		stores = memory.NewStores()
	case "file":
		stores, err = file.NewStores(cfg.Storage.Dir)
	case "postgres":
		stores, err = openPostgres(ctx, cfg.Storage.PostgresDSN, log)
	case "s3":
		s3 := cfg.Storage.S3
		stores, err = s3store.NewStores(ctx, s3store.Config{
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UsePathStyle:    s3.UsePathStyle,
		})
	case "redis":
		stores, err = redisstore.NewStores(ctx, redisstore.Config{
			URL:    cfg.Storage.Redis.URL,
			Prefix: cfg.Storage.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := openClickhouse(ctx, cfg.Storage.ClickhouseDSN, log)
		if err != nil {
			if stores.Close != nil {
				stores.Close()
			}
			return nil, fmt.Errorf("open clickhouse history: %w", err)
		}
		stores.History = chstore.NewHistoryStore(conn)
		closeEvents := stores.Close
		stores.Close = func() error {
			errs := []error{conn.Close()}
			if closeEvents != nil {
				errs = append(errs, closeEvents())
			}
			return errors.Join(errs...)
		}
	}

	log.WithFields(logrus.Fields{
		"backend":    cfg.Storage.Backend,
		"clickhouse": cfg.Storage.ClickhouseDSN != "",
	}).Info("storage opened")
	return stores, nil
}

func openPostgres(ctx context.Context, dsn string, log *logrus.Entry) (*storage.Stores, error) {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	log.WithField("applied", applied).Info("postgres schema up to date")
	return pgstore.NewStores(pool), nil
}

func openClickhouse(ctx context.Context, dsn string, log *logrus.Entry) (*chstore.Conn, error) {
	conn, err := chstore.OpenDatabase(ctx, dsn)
	if err != nil {
		return nil, err
	}
	applied, err := migrations.RunClickhouseMigrations(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}
	log.WithField("applied", applied).Info("clickhouse schema up to date")
	return conn, nil
}
