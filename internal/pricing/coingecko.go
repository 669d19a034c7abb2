// Package pricing quotes SOL in USD for history snapshots.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinGeckoURL is the public CoinGecko API base.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// cacheTTL bounds how long a quote is reused.
const cacheTTL = time.Minute

// CoinGeckoSource fetches the SOL/USD price from the CoinGecko simple price
// endpoint. Quotes are cached briefly so a burst of history updates costs one
// request.
type CoinGeckoSource struct {
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu       sync.Mutex
	cached   decimal.Decimal
	cachedAt time.Time
}

// NewCoinGeckoSource creates a source. An empty baseURL uses DefaultCoinGeckoURL.
func NewCoinGeckoSource(baseURL string, timeout time.Duration) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinGeckoSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type simplePriceResponse map[string]map[string]json.Number

// SOLPriceUSD returns the current SOL price in USD.
func (s *CoinGeckoSource) SOLPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cachedAt.IsZero() && s.now().Sub(s.cachedAt) < cacheTTL {
		return s.cached, nil
	}

	url := s.baseURL + "/simple/price?ids=solana&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch sol price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch sol price: unexpected status code: %d", resp.StatusCode)
	}

	var body simplePriceResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode sol price: %w", err)
	}

	raw, ok := body["solana"]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("decode sol price: solana.usd missing")
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse sol price %q: %w", raw, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("parse sol price: non-positive value %s", price)
	}

	s.cached = price
	s.cachedAt = s.now()
	return price, nil
}
