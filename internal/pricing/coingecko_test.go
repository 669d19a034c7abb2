package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoSource_SOLPriceUSD(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "solana", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"solana":{"usd":142.37}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL+"/", time.Second)
	now := time.Unix(1_700_000_000, 0)
	src.now = func() time.Time { return now }

	price, err := src.SOLPriceUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("142.37")))

	// Served from cache.
	_, err = src.SOLPriceUSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = src.SOLPriceUSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoinGeckoSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad status", http.StatusTooManyRequests, `{}`},
		{"missing field", http.StatusOK, `{"solana":{}}`},
		{"malformed", http.StatusOK, `{"solana":`},
		{"zero price", http.StatusOK, `{"solana":{"usd":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewCoinGeckoSource(srv.URL, time.Second).SOLPriceUSD(context.Background())
			assert.Error(t, err)
		})
	}
}
