// Package trader runs the evaluation loop: it consumes indicator snapshots,
// settles stop-loss and take-profit exits, evaluates the signal rules and
// routes entries and exits through the risk manager and the position ledger.
//
// Positions and the ledger are only mutated from the loop goroutine; the
// read accessors are safe to call from anywhere (the HTTP API uses them).
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"algotrade/internal/execution"
	"algotrade/internal/indicator"
	"algotrade/internal/metrics"
	"algotrade/internal/model"
	"algotrade/internal/notification"
	"algotrade/internal/portfolio"
	"algotrade/internal/session"
	"algotrade/internal/strategy"
)

// SnapshotSource is satisfied by *indicator.Engine.
type SnapshotSource interface {
	Latest() *indicator.Snapshot
	Notify() <-chan struct{}
}

// Publisher receives every snapshot, signal and closed trade. Redis, InfluxDB
// and the buffered Redis writer implement it.
type Publisher interface {
	PublishSnapshot(ctx context.Context, s *indicator.Snapshot) error
	PublishSignal(ctx context.Context, sig strategy.Signal) error
	PublishTrade(ctx context.Context, t model.Trade) error
}

// Journal persists trades and execution attempts.
type Journal interface {
	model.TradeRecorder
	RecordResult(ctx context.Context, r execution.Result) error
}

// Config controls the loop.
type Config struct {
	Instrument     string
	EvalInterval   time.Duration  // fallback wake-up when no notify arrives, default 5s
	PublishTimeout time.Duration  // per sink call, default 2s
	Location       *time.Location // daily reset boundary, default UTC
}

type sink struct {
	name string
	pub  Publisher
}

// Option configures a Trader.
type Option func(*Trader)

// WithPublisher adds a named sink.
func WithPublisher(name string, p Publisher) Option {
	return func(t *Trader) { t.sinks = append(t.sinks, sink{name: name, pub: p}) }
}

// WithJournal records trades and execution results.
func WithJournal(j Journal) Option {
	return func(t *Trader) { t.journal = j }
}

// WithNotifier routes alerts to n.
func WithNotifier(n notification.Notifier) Option {
	return func(t *Trader) { t.notifier = n }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trader) { t.metrics = m }
}

// WithHealth reports warm-up and halt state to h.
func WithHealth(h *metrics.HealthStatus) Option {
	return func(t *Trader) { t.health = h }
}

// WithClock replaces time.Now for the daily reset and candle lag.
func WithClock(now func() time.Time) Option {
	return func(t *Trader) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trader) { t.logger = l }
}

// Trader is the evaluation loop for one instrument.
type Trader struct {
	cfg    Config
	src    SnapshotSource
	gen    *strategy.Generator
	risk   *portfolio.RiskManager
	ledger execution.Ledger

	sinks    []sink
	journal  Journal
	notifier notification.Notifier
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	now      func() time.Time
	logger   *slog.Logger

	// loop-owned
	daily  *session.Daily
	last   *indicator.Snapshot
	halted bool

	mu        sync.RWMutex
	signal    strategy.Signal
	hasSignal bool
	evals     uint64
}

// New creates a Trader.
func New(cfg Config, src SnapshotSource, gen *strategy.Generator, risk *portfolio.RiskManager, ledger execution.Ledger, opts ...Option) *Trader {
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	t := &Trader{
		cfg:    cfg,
		src:    src,
		gen:    gen,
		risk:   risk,
		ledger: ledger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "trader", "instrument", cfg.Instrument)
	if t.notifier == nil {
		t.notifier = notification.NewLogNotifier(t.logger)
	}
	if t.metrics == nil {
		t.metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	t.daily = session.NewDaily(t.now(), cfg.Location)
	return t
}

// Run evaluates on every snapshot notification and on each EvalInterval tick
// until ctx is cancelled.
func (t *Trader) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.EvalInterval)
	defer ticker.Stop()

	t.logger.Info("evaluation loop started",
		"rules", t.gen.Rules().Version,
		"interval", t.cfg.EvalInterval.String(),
		"sinks", len(t.sinks),
	)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("evaluation loop stopped", "evaluations", t.Evaluations())
			return
		case <-t.src.Notify():
			t.Step(ctx)
		case <-ticker.C:
			t.Step(ctx)
		}
	}
}

// Step runs one evaluation against the latest snapshot. It returns false
// when there is no snapshot or it was already evaluated.
func (t *Trader) Step(ctx context.Context) (strategy.Signal, bool) {
	if t.daily.Due(t.now()) {
		t.risk.ResetDaily()
		t.logger.Info("daily risk counters reset", "day", t.daily.Day().Format("2006-01-02"))
	}

	cur := t.src.Latest()
	if cur == nil || cur == t.last {
		return strategy.Signal{}, false
	}
	start := time.Now()

	// Derivative and cross votes need the immediately preceding candle.
	prev := t.last
	if prev != nil && cur.Count != prev.Count+1 {
		prev = nil
	}
	t.last = cur

	t.publish(ctx, "snapshot", func(ctx context.Context, p Publisher) error {
		return p.PublishSnapshot(ctx, cur)
	})

	t.settleExits(ctx, cur)

	sig := t.gen.Evaluate(cur, prev)
	t.mu.Lock()
	t.signal, t.hasSignal = sig, true
	t.evals++
	t.mu.Unlock()

	t.metrics.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	t.metrics.SignalStrength.Set(sig.Strength)
	t.metrics.SignalConfidence.Set(sig.Confidence)
	t.publish(ctx, "signal", func(ctx context.Context, p Publisher) error {
		return p.PublishSignal(ctx, sig)
	})

	switch sig.Direction {
	case strategy.Buy:
		t.logger.Info("signal", "summary", sig.Summary())
		t.enter(ctx, cur)
	case strategy.Sell:
		t.logger.Info("signal", "summary", sig.Summary())
		t.exit(ctx, cur)
	}

	t.updateGauges(ctx, cur)
	t.metrics.EvalDur.Observe(time.Since(start).Seconds())
	return sig, true
}

// settleExits sells through the ledger when a stop-loss or take-profit is
// hit by the snapshot close. Positions are closed in the risk book only after
// the ledger accepted the sell; otherwise they stay open and are retried on
// the next snapshot.
func (t *Trader) settleExits(ctx context.Context, cur *indicator.Snapshot) {
	t.risk.Mark(cur.Close, cur.TS)
	exits := t.risk.Triggered(cur.Close)
	if len(exits) == 0 {
		return
	}
	reason := exits[0].Reason
	res := t.ledger.Sell(ctx, cur.Close, cur.TS, reason)
	t.recordResult(ctx, res)
	if !res.Accepted() && t.ledger.Position() > 0 {
		t.alert(ctx, notification.AlertCritical, "Exit order failed",
			fmt.Sprintf("%s %s at %.4f was not executed (%s): %s, position kept open",
				t.cfg.Instrument, reason, cur.Close, res.Status, res.Reason))
		return
	}
	price := cur.Close
	if res.Accepted() {
		price = res.Price
	}
	// A rejected sell with nothing held means the risk book is ahead of the
	// ledger; closing it at the close price brings the two back in line.
	for _, e := range exits {
		if tr, ok := t.risk.Close(e.Position.ID, price, cur.TS, e.Reason); ok {
			t.recordTrade(ctx, tr)
		}
	}
}

func (t *Trader) enter(ctx context.Context, cur *indicator.Snapshot) {
	size := t.ledger.BuySize(cur.Close)
	if ok, reason := t.risk.CanOpen(cur.Close, size); !ok {
		t.metrics.RiskRejections.Inc()
		t.alert(ctx, notification.AlertWarning, "Entry rejected by risk", t.cfg.Instrument+": "+reason)
		return
	}

	res := t.ledger.Buy(ctx, cur.Close, cur.TS)
	t.recordResult(ctx, res)
	if !res.Accepted() {
		if res.Status == execution.StatusFailed {
			t.alert(ctx, notification.AlertWarning, "Entry order failed", t.cfg.Instrument+": "+res.Reason)
		}
		return
	}

	pos, err := t.risk.Open(res.Price, res.Size, cur.TS)
	if err != nil {
		// The risk book changed between CanOpen and Open; unwind the fill.
		t.metrics.RiskRejections.Inc()
		t.logger.Warn("open refused after fill, unwinding", "error", err, "order_id", res.OrderID)
		undo := t.ledger.Sell(ctx, res.Price, cur.TS, model.CloseManual)
		t.recordResult(ctx, undo)
		if undo.Accepted() {
			return
		}
		pos = t.risk.Track(res.Price, res.Size, cur.TS)
		t.alert(ctx, notification.AlertCritical, "Unwind failed",
			fmt.Sprintf("%s fill of %.6f @ %.4f could not be sold (%s), tracking it as %s",
				t.cfg.Instrument, res.Size, res.Price, undo.Reason, pos.ID))
	}
	t.logger.Info("position opened",
		"position_id", pos.ID,
		"entry", pos.EntryPrice,
		"size", pos.Size,
		"stop_loss", pos.StopLoss,
		"take_profit", pos.TakeProfit,
	)
	t.alert(ctx, notification.AlertInfo, "Position opened",
		fmt.Sprintf("%s BUY %.6f @ %.4f (SL %.4f, TP %.4f)", t.cfg.Instrument, pos.Size, pos.EntryPrice, pos.StopLoss, pos.TakeProfit))
}

func (t *Trader) exit(ctx context.Context, cur *indicator.Snapshot) {
	if len(t.risk.Positions()) == 0 && t.ledger.Position() <= 0 {
		return
	}
	res := t.ledger.Sell(ctx, cur.Close, cur.TS, model.CloseSignal)
	t.recordResult(ctx, res)
	if !res.Accepted() {
		return
	}
	for _, tr := range t.risk.CloseAll(res.Price, cur.TS, model.CloseSignal) {
		t.recordTrade(ctx, tr)
	}
}

func (t *Trader) recordResult(ctx context.Context, res execution.Result) {
	t.metrics.ExecutionsTotal.WithLabelValues(string(res.Side), string(res.Status)).Inc()
	if !res.Accepted() {
		t.logger.Debug("execution not accepted", "side", string(res.Side), "status", string(res.Status), "reason", res.Reason)
	}
	if t.journal == nil {
		return
	}
	if err := t.journal.RecordResult(ctx, res); err != nil {
		t.metrics.SinkErrors.WithLabelValues("journal").Inc()
		t.logger.Error("journal result failed", "error", err)
	}
}

func (t *Trader) recordTrade(ctx context.Context, tr model.Trade) {
	t.metrics.TradesTotal.WithLabelValues(string(tr.Reason)).Inc()
	t.logger.Info("position closed",
		"position_id", tr.PositionID,
		"reason", string(tr.Reason),
		"exit", tr.ExitPrice,
		"pnl", tr.PnL,
		"return_pct", tr.ReturnPct,
	)
	if t.journal != nil {
		if err := t.journal.RecordTrade(ctx, tr); err != nil {
			t.metrics.SinkErrors.WithLabelValues("journal").Inc()
			t.logger.Error("journal trade failed", "error", err)
		}
	}
	t.publish(ctx, "trade", func(ctx context.Context, p Publisher) error {
		return p.PublishTrade(ctx, tr)
	})

	level := notification.AlertInfo
	if tr.Reason == model.CloseStopLoss {
		level = notification.AlertWarning
	}
	t.alert(ctx, level, "Position closed",
		fmt.Sprintf("%s %s @ %.4f, PnL %.4f (%.2f%%)", t.cfg.Instrument, tr.Reason, tr.ExitPrice, tr.PnL, tr.ReturnPct))
}

func (t *Trader) publish(ctx context.Context, event string, fn func(context.Context, Publisher) error) {
	for _, s := range t.sinks {
		pctx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout)
		err := fn(pctx, s.pub)
		cancel()
		if err != nil {
			t.metrics.SinkErrors.WithLabelValues(s.name).Inc()
			t.logger.Warn("publish failed", "sink", s.name, "event", event, "error", err)
		}
	}
}

func (t *Trader) alert(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if err := t.notifier.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		t.logger.Warn("alert failed", "title", title, "error", err)
	}
}

func (t *Trader) updateGauges(ctx context.Context, cur *indicator.Snapshot) {
	rs := t.risk.Metrics()
	t.metrics.OpenPositions.Set(float64(rs.OpenPositions))
	t.metrics.RealizedPnL.Set(rs.RealizedPnL)
	t.metrics.DrawdownPct.Set(rs.CurrentDrawdownPct)
	t.metrics.Volatility.Set(rs.Volatility)
	t.metrics.Balance.Set(t.ledger.Balance())
	t.metrics.CandleLag.Set(t.now().Sub(cur.TS).Seconds())

	halted := rs.MaxDrawdownPct > t.risk.Config().MaxDrawdownPct
	if halted && !t.halted {
		t.alert(ctx, notification.AlertCritical, "Trading halted",
			fmt.Sprintf("%s max drawdown %.2f%% exceeds %.2f%%, new entries are blocked", t.cfg.Instrument, rs.MaxDrawdownPct, t.risk.Config().MaxDrawdownPct))
	}
	t.halted = halted
	if t.health != nil {
		t.health.SetIndicatorWarm(cur.Warm())
		t.health.SetTradingHalted(halted)
	}
}

// LatestSignal returns the most recent evaluation.
func (t *Trader) LatestSignal() (strategy.Signal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signal, t.hasSignal
}

// Evaluations returns how many snapshots have been evaluated.
func (t *Trader) Evaluations() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.evals
}

// Instrument returns the traded instrument.
func (t *Trader) Instrument() string { return t.cfg.Instrument }

// Snapshot returns the latest indicator snapshot, or nil before the first candle.
func (t *Trader) Snapshot() *indicator.Snapshot { return t.src.Latest() }

// Positions returns the open positions.
func (t *Trader) Positions() []model.Position { return t.risk.Positions() }

// Trades returns the closed trades.
func (t *Trader) Trades() []model.Trade { return t.risk.Trades() }

// Risk returns a copy of the risk counters.
func (t *Trader) Risk() model.RiskState { return t.risk.Metrics() }

// Performance returns the trade statistics.
func (t *Trader) Performance() portfolio.PerformanceStats { return t.risk.Performance() }

// Balance returns the ledger quote balance.
func (t *Trader) Balance() float64 { return t.ledger.Balance() }
