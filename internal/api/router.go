// Package api serves the read-only reporting endpoints: latest snapshot and
// signal, open positions, closed trades, risk counters and performance, next
// to /healthz and /metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/portfolio"
	"algotrade/internal/session"
	"algotrade/internal/strategy"
)

// State is the live view of the engine. *trader.Trader implements it.
type State interface {
	Instrument() string
	Snapshot() *indicator.Snapshot
	LatestSignal() (strategy.Signal, bool)
	Positions() []model.Position
	Trades() []model.Trade
	Risk() model.RiskState
	Performance() portfolio.PerformanceStats
	Balance() float64
	Evaluations() uint64
}

// TradeStore serves persisted trades; the SQLite journal implements it.
type TradeStore interface {
	RecentTrades(ctx context.Context, limit int) ([]model.Trade, error)
}

// Stream is the live event stream; *gateway.Hub implements it.
type Stream interface {
	http.Handler
	Replay(channel string, from, to int64) [][]byte
	ChannelSeq(channel string) int64
}

// Option configures the router.
type Option func(*handlers)

// WithHealth mounts h at /healthz.
func WithHealth(h http.Handler) Option {
	return func(a *handlers) { a.health = h }
}

// WithGatherer serves g at /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *handlers) { a.gatherer = g }
}

// WithTradeStore lets /trades?source=journal read persisted history.
func WithTradeStore(s TradeStore) Option {
	return func(a *handlers) { a.store = s }
}

// WithStream mounts the event stream at /ws and enables /api/v1/missed.
func WithStream(s Stream) Option {
	return func(a *handlers) { a.stream = s }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *handlers) { a.logger = l }
}

// WithClock replaces time.Now in /status.
func WithClock(now func() time.Time) Option {
	return func(a *handlers) { a.now = now }
}

// WithLocation sets the time zone of the reported trading day.
func WithLocation(loc *time.Location) Option {
	return func(a *handlers) { a.loc = loc }
}

type handlers struct {
	state    State
	store    TradeStore
	stream   Stream
	health   http.Handler
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
}

const defaultTradeLimit = 100

// NewRouter builds the HTTP routes.
func NewRouter(state State, opts ...Option) http.Handler {
	a := &handlers{
		state:    state,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLog)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	if a.health != nil {
		r.Method(http.MethodGet, "/healthz", a.health)
	}
	if a.stream != nil {
		r.Method(http.MethodGet, "/ws", a.stream)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/snapshot", a.snapshot)
		r.Get("/signal", a.signal)
		r.Get("/positions", a.positions)
		r.Get("/trades", a.trades)
		r.Get("/risk", a.risk)
		r.Get("/performance", a.performance)
		r.Get("/missed", a.missed)
	})
	return r
}

func (a *handlers) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *handlers) status(w http.ResponseWriter, r *http.Request) {
	now := a.now()
	rs := a.state.Risk()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instrument":     a.state.Instrument(),
		"balance":        a.state.Balance(),
		"evaluations":    a.state.Evaluations(),
		"open_positions": rs.OpenPositions,
		"realized_pnl":   rs.RealizedPnL,
		"session":        session.StatusString(now, a.loc),
		"server_time":    now.UTC(),
	})
}

func (a *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	s := a.state.Snapshot()
	if s == nil {
		writeError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *handlers) signal(w http.ResponseWriter, r *http.Request) {
	sig, ok := a.state.LatestSignal()
	if !ok {
		writeError(w, http.StatusNotFound, "no signal yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signal":  sig,
		"summary": sig.Summary(),
	})
}

func (a *handlers) positions(w http.ResponseWriter, r *http.Request) {
	pos := a.state.Positions()
	if pos == nil {
		pos = []model.Position{}
	}
	writeJSON(w, http.StatusOK, pos)
}

// trades returns the newest trades first. ?limit=N caps the count;
// ?source=journal reads the persisted history instead of this session's.
func (a *handlers) trades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if r.URL.Query().Get("source") == "journal" {
		if a.store == nil {
			writeError(w, http.StatusNotFound, "journal not configured")
			return
		}
		list, err := a.store.RecentTrades(r.Context(), limit)
		if err != nil {
			a.logger.Error("journal query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "journal unavailable")
			return
		}
		if list == nil {
			list = []model.Trade{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	all := a.state.Trades()
	out := make([]model.Trade, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *handlers) risk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.state.Risk())
}

func (a *handlers) performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.state.Performance())
}

// missed returns buffered stream envelopes for ?channel= with channel_seq in
// [from, to]. to defaults to the current seq.
func (a *handlers) missed(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, http.StatusNotFound, "stream not configured")
		return
	}
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil || from < 0 {
		writeError(w, http.StatusBadRequest, "from must be a non-negative integer")
		return
	}
	to := a.stream.ChannelSeq(channel)
	if v := q.Get("to"); v != "" {
		if to, err = strconv.ParseInt(v, 10, 64); err != nil || to < from {
			writeError(w, http.StatusBadRequest, "to must be an integer >= from")
			return
		}
	}

	envs := a.stream.Replay(channel, from, to)
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":  channel,
		"from":     from,
		"to":       to,
		"messages": out,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
