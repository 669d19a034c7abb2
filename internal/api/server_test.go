package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/ingestion"
	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/storage/memory"
	"solana-liquidity-sync/internal/syncstate"
)

type fakeSync struct {
	res      *ingestion.Result
	err      error
	requests []ingestion.Request
	recovers int
}

func (f *fakeSync) Sync(_ context.Context, req ingestion.Request) (*ingestion.Result, error) {
	f.requests = append(f.requests, req)
	return f.res, f.err
}

func (f *fakeSync) Recover(context.Context) (*ingestion.Result, error) {
	f.recovers++
	return f.res, f.err
}

func newTestServer(t *testing.T, svc *fakeSync) (*httptest.Server, *Server) {
	t.Helper()
	stores := memory.NewStores()
	machine := syncstate.NewMachine(stores.SyncState, syncstate.DefaultPolicy(), syncstate.WithLogger(logger.Discard()))
	s := NewServer(Options{
		Sync:           svc,
		Status:         machine,
		Stores:         stores,
		AllowedOrigins: []string{"https://dashboard.example.com"},
		Logger:         logger.Discard(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSyncEndpoint_StatusMapping(t *testing.T) {
	partial := &ingestion.Result{MintsAdded: 37, TotalMints: 40, QuotaExceeded: true}
	quotaErr := &solana.UpstreamError{Kind: solana.KindQuotaExceeded, Method: "getTransaction", Attempts: 1, Err: errors.New("daily limit")}
	authErr := &solana.UpstreamError{Kind: solana.KindAuthFailure, Method: "getSignaturesForAddress", Attempts: 1, Err: errors.New("status 401")}

	tests := []struct {
		name   string
		res    *ingestion.Result
		err    error
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			name:   "ok",
			res:    &ingestion.Result{MintsAdded: 2, TransfersAdded: 1, TotalMints: 10, TotalTransfers: 4},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.EqualValues(t, 3, body["added"])
				assert.EqualValues(t, 14, body["total"])
				assert.EqualValues(t, 2, body["mintsAdded"])
			},
		},
		{
			name:   "cooldown",
			err:    &syncstate.CooldownError{Remaining: 74500 * time.Millisecond},
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.EqualValues(t, 75, body["retryAfterSeconds"])
				assert.NotEmpty(t, body["error"])
			},
		},
		{
			name:   "in progress",
			err:    syncstate.ErrInProgress,
			status: http.StatusConflict,
		},
		{
			name:   "quota",
			res:    partial,
			err:    fmt.Errorf("fetch pool transactions: %w", quotaErr),
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["quotaExceeded"])
				assert.EqualValues(t, 37, body["added"])
				assert.EqualValues(t, 40, body["total"])
			},
		},
		{
			name:   "auth",
			res:    &ingestion.Result{},
			err:    authErr,
			status: http.StatusBadGateway,
		},
		{
			name:   "other",
			res:    &ingestion.Result{},
			err:    errors.New("disk full"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.NotContains(t, body["error"], "disk full")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeSync{res: tt.res, err: tt.err})

			resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestSyncEndpoint_Query(t *testing.T) {
	svc := &fakeSync{res: &ingestion.Result{}}
	ts, _ := newTestServer(t, svc)

	resp, err := http.Get(ts.URL + "/api/sync?mode=exhaustive&target=25")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.requests, 1)
	assert.Equal(t, ingestion.Request{Mode: ingestion.ModeExhaustive, Target: 25}, svc.requests[0])

	for _, q := range []string{"mode=full", "target=-1", "target=abc"} {
		resp, err := http.Get(ts.URL + "/api/sync?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	assert.Len(t, svc.requests, 1)
}

func TestRecoverEndpoint_OriginCheck(t *testing.T) {
	svc := &fakeSync{res: &ingestion.Result{MintsAdded: 1}}
	ts, _ := newTestServer(t, svc)

	post := func(header, value string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/recover", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set(header, value)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusForbidden, post("", "").StatusCode)
	assert.Equal(t, http.StatusForbidden, post("Origin", "https://evil.example.com").StatusCode)
	assert.Equal(t, 0, svc.recovers)

	resp := post("Origin", "https://Dashboard.example.com")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://dashboard.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = post("Referer", "https://dashboard.example.com/admin?tab=sync")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, svc.recovers)

	// GET is not routed.
	getResp, err := http.Get(ts.URL + "/api/recover")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestReadEndpoints(t *testing.T) {
	ts, s := newTestServer(t, &fakeSync{})
	ctx := context.Background()

	resp, err := http.Get(ts.URL + "/api/mints")
	require.NoError(t, err)
	var empty []domain.MintEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, s.stores.Mints.Save(ctx, []domain.MintEvent{{
		Signature:   "sig",
		Timestamp:   1_700_000_000,
		SolAmount:   decimal.RequireFromString("0.5"),
		TokenAmount: decimal.NewFromInt(200),
		From:        "wallet",
	}}))
	require.NoError(t, s.stores.History.Save(ctx, []domain.HistoricalDataPoint{{Timestamp: 1_700_043_200_000, TotalMints: 1}}))

	resp, err = http.Get(ts.URL + "/api/mints")
	require.NoError(t, err)
	var mints []domain.MintEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mints))
	resp.Body.Close()
	require.Len(t, mints, 1)
	assert.True(t, decimal.RequireFromString("0.5").Equal(mints[0].SolAmount))

	resp, err = http.Get(ts.URL + "/api/history")
	require.NoError(t, err)
	var points []domain.HistoricalDataPoint
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&points))
	resp.Body.Close()
	require.Len(t, points, 1)

	resp, err = http.Get(ts.URL + "/api/transfers")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	status := decode(t, resp)
	assert.Equal(t, "idle", status["status"])
	assert.Equal(t, false, status["isSyncing"])

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNormalizeOrigin(t *testing.T) {
	assert.Equal(t, "https://a.example.com:8443", normalizeOrigin("https://A.example.com:8443/path"))
	assert.Empty(t, normalizeOrigin("null"))
	assert.Empty(t, normalizeOrigin("not a url"))
	assert.Empty(t, normalizeOrigin(""))
}
