package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"solana-liquidity-sync/internal/observability"
)

// RateLimitedConfig configures RateLimitedClient.
type RateLimitedConfig struct {
	// RequestsPerSecond is the hard upstream call budget.
	RequestsPerSecond float64
	// SignatureAttempts is the attempt budget for getSignaturesForAddress.
	SignatureAttempts int
	// TransactionAttempts is the attempt budget for getTransaction.
	TransactionAttempts int
	// StatusAttempts is the attempt budget for getSignatureStatuses.
	StatusAttempts int
	// RetryBaseDelay is the first backoff delay. It doubles per attempt.
	RetryBaseDelay time.Duration
	// MaxRetryDelay caps the backoff delay.
	MaxRetryDelay time.Duration
	// FanOut is the number of concurrent transaction fetches per wave.
	FanOut int
	// InterBatchDelay separates transaction fetch waves.
	InterBatchDelay time.Duration
	// Patterns drive error classification.
	Patterns ErrorPatterns
}

// DefaultRateLimitedConfig returns the production defaults.
func DefaultRateLimitedConfig() RateLimitedConfig {
	return RateLimitedConfig{
		RequestsPerSecond:   8,
		SignatureAttempts:   3,
		TransactionAttempts: 2,
		StatusAttempts:      3,
		RetryBaseDelay:      3 * time.Second,
		MaxRetryDelay:       30 * time.Second,
		FanOut:              5,
		InterBatchDelay:     200 * time.Millisecond,
		Patterns:            DefaultErrorPatterns(),
	}
}

// RateLimitedClient wraps an RPCClient with a global call budget, error
// classification and bounded retries. It is safe for concurrent use.
type RateLimitedClient struct {
	upstream   RPCClient
	cfg        RateLimitedConfig
	limiter    *rate.Limiter
	classifier *ErrorClassifier
	log        *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

// RateLimitedOption configures RateLimitedClient.
type RateLimitedOption func(*RateLimitedClient)

// WithLogger sets the logger entry.
func WithLogger(log *logrus.Entry) RateLimitedOption {
	return func(c *RateLimitedClient) {
		c.log = log
	}
}

// NewRateLimitedClient creates a RateLimitedClient. Zero config fields fall back
// to DefaultRateLimitedConfig values.
func NewRateLimitedClient(upstream RPCClient, cfg RateLimitedConfig, opts ...RateLimitedOption) *RateLimitedClient {
	cfg = withDefaults(cfg)
	c := &RateLimitedClient{
		upstream:   upstream,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(time.Duration(float64(time.Second)/cfg.RequestsPerSecond)), 1),
		classifier: NewErrorClassifier(cfg.Patterns),
		log:        logrus.NewEntry(logrus.StandardLogger()).WithField("component", "rpc"),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ RPCClient = (*RateLimitedClient)(nil)

func withDefaults(cfg RateLimitedConfig) RateLimitedConfig {
	def := DefaultRateLimitedConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.SignatureAttempts <= 0 {
		cfg.SignatureAttempts = def.SignatureAttempts
	}
	if cfg.TransactionAttempts <= 0 {
		cfg.TransactionAttempts = def.TransactionAttempts
	}
	if cfg.StatusAttempts <= 0 {
		cfg.StatusAttempts = def.StatusAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = def.FanOut
	}
	if cfg.InterBatchDelay < 0 {
		cfg.InterBatchDelay = 0
	}
	if len(cfg.Patterns.Transient) == 0 && len(cfg.Patterns.Quota) == 0 && len(cfg.Patterns.Auth) == 0 {
		cfg.Patterns = def.Patterns
	}
	return cfg
}

// Classify exposes the client's error classification.
func (c *RateLimitedClient) Classify(err error) ErrorKind {
	return c.classifier.Classify(err)
}

// GetSignaturesForAddress lists one page of signatures.
func (c *RateLimitedClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	var sigs []SignatureInfo
	err := c.do(ctx, "getSignaturesForAddress", c.cfg.SignatureAttempts, func(ctx context.Context) error {
		var err error
		sigs, err = c.upstream.GetSignaturesForAddress(ctx, address, opts)
		return err
	})
	return sigs, err
}

// GetTransaction fetches one transaction. Returns nil, nil when not found.
func (c *RateLimitedClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	var tx *Transaction
	err := c.do(ctx, "getTransaction", c.cfg.TransactionAttempts, func(ctx context.Context) error {
		var err error
		tx, err = c.upstream.GetTransaction(ctx, signature)
		return err
	})
	return tx, err
}

// GetSignatureStatuses fetches statuses, chunking requests to MaxStatusBatch.
func (c *RateLimitedClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	out := make([]*SignatureStatus, 0, len(signatures))
	for start := 0; start < len(signatures); start += MaxStatusBatch {
		end := start + MaxStatusBatch
		if end > len(signatures) {
			end = len(signatures)
		}
		chunk := signatures[start:end]

		var statuses []*SignatureStatus
		err := c.do(ctx, "getSignatureStatuses", c.cfg.StatusAttempts, func(ctx context.Context) error {
			var err error
			statuses, err = c.upstream.GetSignatureStatuses(ctx, chunk)
			return err
		})
		if err != nil {
			return out, err
		}
		// Pad so results stay positionally aligned.
		for i := range chunk {
			if i < len(statuses) {
				out = append(out, statuses[i])
			} else {
				out = append(out, nil)
			}
		}
	}
	return out, nil
}

// GetTransactions fetches transactions in waves of FanOut concurrent calls.
// Each call still passes through the limiter, so the per-second budget holds
// regardless of fan-out. The result is aligned with signatures; nil entries
// are transactions the node did not return. On a terminal error the results
// gathered so far are returned with the error.
func (c *RateLimitedClient) GetTransactions(ctx context.Context, signatures []string) ([]*Transaction, error) {
	results := make([]*Transaction, len(signatures))

	for start := 0; start < len(signatures); start += c.cfg.FanOut {
		if start > 0 && c.cfg.InterBatchDelay > 0 {
			if err := c.sleep(ctx, c.cfg.InterBatchDelay); err != nil {
				return results, err
			}
		}

		end := start + c.cfg.FanOut
		if end > len(signatures) {
			end = len(signatures)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				tx, err := c.GetTransaction(gctx, signatures[i])
				if err != nil {
					return fmt.Errorf("get transaction %s: %w", signatures[i], err)
				}
				results[i] = tx
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}

	return results, nil
}

// do runs fn under the limiter with an explicit attempt counter.
// Quota and auth failures are never retried. Transient and unknown failures
// are retried with exponential backoff until attempts are exhausted.
func (c *RateLimitedClient) do(ctx context.Context, method string, attempts int, fn func(ctx context.Context) error) error {
	delay := c.cfg.RetryBaseDelay

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := fn(ctx)
		elapsed := time.Since(start).Seconds()

		if err == nil {
			observability.RecordRPCCall(method, "ok", elapsed)
			return nil
		}
		if ctx.Err() != nil {
			observability.RecordRPCCall(method, "canceled", elapsed)
			return ctx.Err()
		}

		kind := c.classifier.Classify(err)
		observability.RecordRPCCall(method, kind.String(), elapsed)

		if kind == KindQuotaExceeded || kind == KindAuthFailure || attempt >= attempts {
			return &UpstreamError{Kind: kind, Method: method, Attempts: attempt, Err: err}
		}

		observability.RecordRPCRetry(method, kind.String())
		c.log.WithFields(logrus.Fields{
			"method":  method,
			"attempt": attempt,
			"kind":    kind.String(),
			"backoff": delay.String(),
		}).WithError(err).Warn("upstream call failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > c.cfg.MaxRetryDelay {
			delay = c.cfg.MaxRetryDelay
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
