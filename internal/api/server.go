// Package api exposes the sync triggers and the stored collections over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/ingestion"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/storage"
	"solana-liquidity-sync/internal/syncstate"
)

// SyncService runs synchronizations.
type SyncService interface {
	Sync(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
	Recover(ctx context.Context) (*ingestion.Result, error)
}

// StatusReader reports the sync flag.
type StatusReader interface {
	Status(ctx context.Context) (*domain.SyncState, syncstate.Decision, error)
}

// Options configures a Server.
type Options struct {
	Sync   SyncService
	Status StatusReader
	Stores *storage.Stores
	// AllowedOrigins may call the recovery trigger. Entries are scheme://host[:port].
	AllowedOrigins []string
	Logger         *logrus.Entry
}

// Server serves the HTTP surface.
type Server struct {
	sync    SyncService
	status  StatusReader
	stores  *storage.Stores
	origins map[string]struct{}
	log     *logrus.Entry
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "api")
	}
	return &Server{
		sync:    opts.Sync,
		status:  opts.Status,
		stores:  opts.Stores,
		origins: origins,
		log:     log,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/recover", s.handleRecover)
	mux.HandleFunc("OPTIONS /api/recover", s.handlePreflight)

	mux.HandleFunc("GET /api/mints", s.handleMints)
	mux.HandleFunc("GET /api/transfers", s.handleTransfers)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	return s.logRequests(mux)
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// syncResponse flattens the run result with the headline counts.
type syncResponse struct {
	*ingestion.Result
	Added int    `json:"added"`
	Total int    `json:"total"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	mode, err := ingestion.ParseMode(q.Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var target int
	if raw := q.Get("target"); raw != "" {
		target, err = strconv.Atoi(raw)
		if err != nil || target <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "target must be a positive integer"})
			return
		}
	}

	res, err := s.sync.Sync(r.Context(), ingestion.Request{Mode: mode, Target: target})
	s.writeResult(w, res, err)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	origin, ok := s.allowedOrigin(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "origin not allowed"})
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Vary", "Origin")

	res, err := s.sync.Recover(r.Context())
	s.writeResult(w, res, err)
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	origin, ok := s.allowedOrigin(r)
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "POST")
	h.Set("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
}

// writeResult maps a run outcome to a response.
func (s *Server) writeResult(w http.ResponseWriter, res *ingestion.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, newSyncResponse(res, nil))
		return
	}

	var cd *syncstate.CooldownError
	switch {
	case errors.As(err, &cd):
		w.Header().Set("Retry-After", strconv.Itoa(cd.RetryAfterSeconds()))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             "sync cooldown active",
			RetryAfterSeconds: cd.RetryAfterSeconds(),
		})
	case errors.Is(err, syncstate.ErrInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "sync already in progress"})
	case errors.Is(err, solana.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, newSyncResponse(res, errors.New("upstream quota exceeded")))
	case errors.Is(err, solana.ErrAuthFailure):
		s.log.WithError(err).Error("upstream rejected credentials")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream authentication failed"})
	default:
		s.log.WithError(err).Error("sync failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "sync failed"})
	}
}

func newSyncResponse(res *ingestion.Result, err error) syncResponse {
	if res == nil {
		res = &ingestion.Result{}
	}
	resp := syncResponse{Result: res, Added: res.Added(), Total: res.Total()}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleMints(w http.ResponseWriter, r *http.Request) {
	events, err := s.stores.Mints.Load(r.Context())
	if err != nil {
		s.log.WithError(err).Error("load mint events")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load mint events"})
		return
	}
	if events == nil {
		events = []domain.MintEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	events, err := s.stores.Transfers.Load(r.Context())
	if err != nil {
		s.log.WithError(err).Error("load transfer events")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load transfer events"})
		return
	}
	if events == nil {
		events = []domain.TransferEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.stores.History.Load(r.Context())
	if err != nil {
		s.log.WithError(err).Error("load history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load history"})
		return
	}
	if points == nil {
		points = []domain.HistoricalDataPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Status                   syncstate.Status `json:"status"`
	IsSyncing                bool             `json:"isSyncing"`
	LastSync                 int64            `json:"lastSync"`
	SyncStartTime            *int64           `json:"syncStartTime,omitempty"`
	RunID                    string           `json:"runId,omitempty"`
	ElapsedSeconds           int              `json:"elapsedSeconds,omitempty"`
	CooldownRemainingSeconds int              `json:"cooldownRemainingSeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, d, err := s.status.Status(r.Context())
	if err != nil {
		s.log.WithError(err).Error("read sync state")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read sync state"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:                   d.Status,
		IsSyncing:                state.IsSyncing,
		LastSync:                 state.LastSync,
		SyncStartTime:            state.SyncStartTime,
		RunID:                    state.RunID,
		ElapsedSeconds:           int(d.Elapsed / time.Second),
		CooldownRemainingSeconds: (&syncstate.CooldownError{Remaining: d.CooldownRemaining}).RetryAfterSeconds(),
	})
}

// allowedOrigin checks Origin, falling back to the origin of Referer.
func (s *Server) allowedOrigin(r *http.Request) (string, bool) {
	origin := normalizeOrigin(r.Header.Get("Origin"))
	if origin == "" {
		origin = normalizeOrigin(r.Header.Get("Referer"))
	}
	if origin == "" {
		return "", false
	}
	_, ok := s.origins[origin]
	return origin, ok
}

// normalizeOrigin reduces a URL to lowercase scheme://host.
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}
