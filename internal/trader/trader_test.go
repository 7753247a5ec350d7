package trader

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"algotrade/internal/execution"
	"algotrade/internal/indicator"
	"algotrade/internal/metrics"
	"algotrade/internal/model"
	"algotrade/internal/notification"
	"algotrade/internal/portfolio"
	"algotrade/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

// ─── Fakes ───

type fakeSource struct {
	mu     sync.Mutex
	snap   *indicator.Snapshot
	notify chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{notify: make(chan struct{}, 1)}
}

func (f *fakeSource) Latest() *indicator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) Notify() <-chan struct{} { return f.notify }

func (f *fakeSource) push(s *indicator.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// snap builds a warm snapshot where only the moving averages vote:
// short > long is a weak BUY, short < long a weak SELL under V1.
func snap(n int, close, short, long float64) *indicator.Snapshot {
	return &indicator.Snapshot{
		TS:       t0.Add(time.Duration(n) * time.Minute),
		Count:    n,
		Close:    close,
		High:     close,
		Low:      close,
		SMAShort: model.Some(short),
		SMALong:  model.Some(long),
	}
}

type recorder struct {
	mu        sync.Mutex
	snapshots int
	signals   []strategy.Signal
	trades    []model.Trade
	results   []execution.Result
	alerts    []notification.Alert
	err       error
}

func (r *recorder) PublishSnapshot(context.Context, *indicator.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
	return r.err
}

func (r *recorder) PublishSignal(_ context.Context, sig strategy.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return r.err
}

func (r *recorder) PublishTrade(_ context.Context, t model.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	return r.err
}

func (r *recorder) RecordTrade(_ context.Context, t model.Trade) error {
	return r.PublishTrade(context.Background(), t)
}

func (r *recorder) RecordResult(_ context.Context, res execution.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) alertLevels() map[notification.AlertLevel]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[notification.AlertLevel]int)
	for _, a := range r.alerts {
		out[a.Level]++
	}
	return out
}

// exchangePlacer fills every order except sells while rejectSells is set.
type exchangePlacer struct {
	mu          sync.Mutex
	rejectSells bool
	sells       int
}

func (p *exchangePlacer) PlaceOrder(_ context.Context, req execution.OrderRequest) (execution.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Side == model.SideSell {
		p.sells++
		if p.rejectSells {
			return execution.OrderAck{Code: 306, Message: "INSUFFICIENT_AVAILABLE_BALANCE"}, nil
		}
	}
	return execution.OrderAck{OrderID: string(req.Side)}, nil
}

func (p *exchangePlacer) OrderStatus(context.Context, string) (model.OrderState, error) {
	return model.OrderFilled, nil
}

func (p *exchangePlacer) CancelOrder(context.Context, string) error { return nil }

func (p *exchangePlacer) setRejectSells(v bool) {
	p.mu.Lock()
	p.rejectSells = v
	p.mu.Unlock()
}

type harness struct {
	tr      *Trader
	src     *fakeSource
	risk    *portfolio.RiskManager
	ledger  *execution.PaperLedger
	pub     *recorder
	journal *recorder
	alerts  *recorder
	m       *metrics.Metrics
	clock   *time.Time
}

func newHarness(t *testing.T, riskCfg portfolio.RiskConfig, rules strategy.RuleSet, extra ...Option) *harness {
	t.Helper()
	if riskCfg.InitialEquity == 0 {
		riskCfg.InitialEquity = 10000
	}
	now := t0
	h := &harness{
		src:     newFakeSource(),
		risk:    portfolio.NewRiskManager(riskCfg),
		ledger:  execution.NewPaperLedger(execution.PaperConfig{InitialBalance: 10000, Allocation: 0.95}, nil),
		pub:     &recorder{},
		journal: &recorder{},
		alerts:  &recorder{},
		m:       metrics.NewMetrics(prometheus.NewRegistry()),
		clock:   &now,
	}
	opts := []Option{
		WithPublisher("test", h.pub),
		WithJournal(h.journal),
		WithNotifier(h.alerts),
		WithMetrics(h.m),
		WithClock(func() time.Time { return *h.clock }),
	}
	h.tr = New(Config{Instrument: "BTC_USDT"}, h.src, strategy.NewGenerator(rules), h.risk, h.ledger, append(opts, extra...)...)
	return h
}

func (h *harness) step(t *testing.T, s *indicator.Snapshot) strategy.Signal {
	t.Helper()
	h.src.push(s)
	sig, ok := h.tr.Step(context.Background())
	if !ok {
		t.Fatalf("snapshot %d was not evaluated", s.Count)
	}
	return sig
}

// ─── Scenarios ───

func TestTrader_BuyThenStopLoss(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{}, strategy.V1())

	sig := h.step(t, snap(1, 100, 101, 100))
	if sig.Direction != strategy.Buy {
		t.Fatalf("expected BUY, got %s", sig.Summary())
	}
	if n := len(h.risk.Positions()); n != 1 {
		t.Fatalf("expected 1 open position, got %d", n)
	}
	assertClose(t, "ledger position", h.ledger.Position(), 95, 1e-9)
	assertClose(t, "balance after buy", h.ledger.Balance(), 500, 1e-9)

	// 97 is below the 2% stop at 98; the SELL signal finds nothing left to close.
	sig = h.step(t, snap(2, 97, 99, 100))
	if sig.Direction != strategy.Sell {
		t.Fatalf("expected SELL, got %s", sig.Summary())
	}
	if n := len(h.risk.Positions()); n != 0 {
		t.Fatalf("expected the position to be stopped out, %d still open", n)
	}
	trades := h.tr.Trades()
	if len(trades) != 1 || trades[0].Reason != model.CloseStopLoss {
		t.Fatalf("expected one stop_loss trade, got %+v", trades)
	}
	assertClose(t, "pnl", trades[0].PnL, -285, 1e-9)
	assertClose(t, "balance after stop", h.ledger.Balance(), 9715, 1e-9)
	if n := len(h.ledger.Trades()); n != 1 {
		t.Errorf("ledger should mirror the exit, got %d trades", n)
	}

	if len(h.pub.trades) != 1 || len(h.journal.trades) != 1 {
		t.Errorf("trade published %d times, journaled %d times; want 1 and 1", len(h.pub.trades), len(h.journal.trades))
	}
	if h.pub.snapshots != 2 || len(h.pub.signals) != 2 {
		t.Errorf("published %d snapshots and %d signals, want 2 and 2", h.pub.snapshots, len(h.pub.signals))
	}
	// buy and stop-loss sell; the signal SELL is skipped with nothing open
	if n := len(h.journal.results); n != 2 {
		t.Errorf("expected 2 execution results, got %d", n)
	}
	if got := testutil.ToFloat64(h.m.TradesTotal.WithLabelValues("stop_loss")); got != 1 {
		t.Errorf("stop_loss trades metric = %v", got)
	}
	if h.alerts.alertLevels()[notification.AlertWarning] != 1 {
		t.Errorf("expected a warning alert for the stop-loss, got %+v", h.alerts.alerts)
	}
}

func TestTrader_SellSignalClosesThroughLedger(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{}, strategy.V1())

	h.step(t, snap(1, 100, 101, 100))
	h.step(t, snap(2, 101, 99, 100))

	trades := h.tr.Trades()
	if len(trades) != 1 || trades[0].Reason != model.CloseSignal {
		t.Fatalf("expected one signal exit, got %+v", trades)
	}
	assertClose(t, "pnl", trades[0].PnL, 95, 1e-9)
	if h.ledger.Position() != 0 {
		t.Errorf("ledger still holds %.4f", h.ledger.Position())
	}
	assertClose(t, "balance", h.ledger.Balance(), 10095, 1e-9)
	assertClose(t, "realized", h.tr.Risk().RealizedPnL, 95, 1e-9)
	if p := h.tr.Performance(); p.TotalTrades != 1 || p.Wins != 1 {
		t.Errorf("performance = %+v", p)
	}
}

func TestTrader_UnchangedSnapshotSkipped(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{}, strategy.V1())

	if _, ok := h.tr.Step(context.Background()); ok {
		t.Fatal("step without a snapshot should not evaluate")
	}
	h.step(t, snap(1, 100, 101, 100))
	if _, ok := h.tr.Step(context.Background()); ok {
		t.Fatal("the same snapshot was evaluated twice")
	}
	if n := h.tr.Evaluations(); n != 1 {
		t.Errorf("evaluations = %d, want 1", n)
	}
	if n := len(h.journal.results); n != 1 {
		t.Errorf("expected a single buy attempt, got %d", n)
	}
}

func TestTrader_RiskRejectionBlocksEntry(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{MaxPositionFraction: 0.5}, strategy.V1())

	h.step(t, snap(1, 100, 101, 100))

	if h.ledger.Position() != 0 || len(h.risk.Positions()) != 0 {
		t.Fatal("entry above the position fraction should be refused")
	}
	if got := testutil.ToFloat64(h.m.RiskRejections); got != 1 {
		t.Errorf("risk rejections = %v, want 1", got)
	}
	if len(h.journal.results) != 0 {
		t.Error("a refused entry must not reach the ledger")
	}
	if h.alerts.alertLevels()[notification.AlertWarning] != 1 {
		t.Errorf("expected a warning alert, got %+v", h.alerts.alerts)
	}
}

func TestTrader_DailyReset(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{}, strategy.V1())

	h.step(t, snap(1, 100, 101, 100))
	h.step(t, snap(2, 97, 99, 100))
	assertClose(t, "daily pnl", h.tr.Risk().DailyPnL, -285, 1e-9)

	*h.clock = t0.Add(24 * time.Hour)
	h.tr.Step(context.Background())
	if got := h.tr.Risk().DailyPnL; got != 0 {
		t.Errorf("daily pnl after rollover = %v, want 0", got)
	}
	assertClose(t, "realized survives the reset", h.tr.Risk().RealizedPnL, -285, 1e-9)
}

func TestTrader_SinkErrorsCounted(t *testing.T) {
	bad := &recorder{err: errors.New("down")}
	h := newHarness(t, portfolio.RiskConfig{}, strategy.V1(), WithPublisher("bad", bad))

	h.step(t, snap(1, 100, 101, 100))

	// snapshot and signal
	if got := testutil.ToFloat64(h.m.SinkErrors.WithLabelValues("bad")); got != 2 {
		t.Errorf("sink errors = %v, want 2", got)
	}
	if h.pub.snapshots != 1 {
		t.Error("a failing sink must not starve the others")
	}
	if len(h.risk.Positions()) != 1 {
		t.Error("sink failures must not block trading")
	}
}

func TestTrader_HaltAlertOnDrawdownBreach(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{MaxDrawdownPct: 2}, strategy.V1())

	h.step(t, snap(1, 100, 101, 100))
	h.step(t, snap(2, 97, 101, 100)) // stopped out, 2.85% drawdown

	if h.alerts.alertLevels()[notification.AlertCritical] != 1 {
		t.Fatalf("expected a critical halt alert, got %+v", h.alerts.alerts)
	}
	if len(h.risk.Positions()) != 0 {
		t.Error("no entry may open while halted")
	}
	h.step(t, snap(3, 98, 101, 100))
	if h.alerts.alertLevels()[notification.AlertCritical] != 1 {
		t.Error("the halt alert should fire once")
	}
}

func TestTrader_EngineUptrendTakesProfit(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.ShortWindow = 3
	cfg.LongWindow = 5
	eng := indicator.NewEngine(cfg)

	pub := &recorder{}
	ledger := execution.NewPaperLedger(execution.PaperConfig{InitialBalance: 10000}, nil)
	risk := portfolio.NewRiskManager(portfolio.RiskConfig{InitialEquity: 10000})
	tr := New(Config{Instrument: "BTC_USDT"}, eng, strategy.NewGenerator(strategy.V2()), risk, ledger,
		WithPublisher("test", pub),
		WithNotifier(pub),
		WithClock(func() time.Time { return t0 }),
	)

	for i := 1; i <= 30; i++ {
		p := float64(i)
		if _, ok := eng.Update(model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 1}); !ok {
			t.Fatalf("candle %d rejected", i)
		}
		if _, ok := tr.Step(context.Background()); !ok {
			t.Fatalf("candle %d not evaluated", i)
		}
	}

	trades := tr.Trades()
	if len(trades) == 0 {
		t.Fatal("expected the BUY at candle 5 to hit take-profit")
	}
	for _, tt := range trades {
		if tt.Reason != model.CloseTakeProfit || tt.PnL <= 0 {
			t.Errorf("unexpected trade in an uptrend: %+v", tt)
		}
	}
	assertClose(t, "first entry", trades[0].EntryPrice, 5, 1e-9)
	if n := len(ledger.Trades()); n != len(trades) {
		t.Errorf("ledger recorded %d exits, risk %d", n, len(trades))
	}
	if ledger.TotalValue(30) <= 10000 {
		t.Errorf("total value %.2f should exceed the initial balance", ledger.TotalValue(30))
	}
}

func TestTrader_RunWakesOnNotify(t *testing.T) {
	h := newHarness(t, portfolio.RiskConfig{}, strategy.V1())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.tr.Run(ctx)
		close(done)
	}()

	h.src.push(snap(1, 100, 101, 100))
	deadline := time.After(2 * time.Second)
	for h.tr.Evaluations() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("loop did not evaluate the pushed snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	sig, ok := h.tr.LatestSignal()
	if !ok || sig.Direction != strategy.Buy {
		t.Errorf("latest signal = %+v, %v", sig, ok)
	}
}

func TestTrader_RejectedExitKeepsPositionOpen(t *testing.T) {
	placer := &exchangePlacer{rejectSells: true}
	ledger := execution.NewLiveGateway(execution.LiveConfig{
		Instrument:     "BTC_USDT",
		InitialBalance: 10000,
		Allocation:     0.95,
		PollInterval:   time.Millisecond,
	}, placer, nil)
	risk := portfolio.NewRiskManager(portfolio.RiskConfig{InitialEquity: 10000})
	rec := &recorder{}
	src := newFakeSource()
	tr := New(Config{Instrument: "BTC_USDT"}, src, strategy.NewGenerator(strategy.V1()), risk, ledger,
		WithJournal(rec),
		WithNotifier(rec),
		WithClock(func() time.Time { return t0 }),
	)
	step := func(s *indicator.Snapshot) {
		t.Helper()
		src.push(s)
		if _, ok := tr.Step(context.Background()); !ok {
			t.Fatalf("snapshot %d was not evaluated", s.Count)
		}
	}

	step(snap(1, 100, 101, 100))
	assertClose(t, "ledger position", ledger.Position(), 95, 1e-9)

	// stop-loss at 98 is hit but the exchange refuses the sell
	step(snap(2, 97, 100, 100))
	if n := len(risk.Positions()); n != 1 {
		t.Fatalf("position closed in the risk book after a rejected sell, %d open", n)
	}
	if n := len(risk.Trades()); n != 0 || risk.Metrics().RealizedPnL != 0 {
		t.Fatalf("trade booked for a sell that never happened: %+v", risk.Trades())
	}
	if len(rec.trades) != 0 {
		t.Errorf("trade journaled: %+v", rec.trades)
	}
	if rec.alertLevels()[notification.AlertCritical] != 1 {
		t.Errorf("expected a critical alert, got %+v", rec.alerts)
	}

	// still watched: the next snapshot tries again
	step(snap(3, 50, 100, 100))
	if placer.sells != 2 || len(risk.Positions()) != 1 {
		t.Fatalf("sells = %d, open = %d", placer.sells, len(risk.Positions()))
	}

	placer.setRejectSells(false)
	step(snap(4, 50, 100, 100))
	trades := risk.Trades()
	if len(trades) != 1 || trades[0].Reason != model.CloseStopLoss {
		t.Fatalf("trades = %+v", trades)
	}
	assertClose(t, "pnl", trades[0].PnL, -4750, 1e-9)
	if ledger.Position() != 0 || len(risk.Positions()) != 0 {
		t.Errorf("ledger position %v, risk positions %d", ledger.Position(), len(risk.Positions()))
	}
	if n := len(ledger.Trades()); n != 1 {
		t.Errorf("ledger trades = %d, want 1", n)
	}
}

// overfillLedger fills more than BuySize quoted and cannot sell.
type overfillLedger struct {
	position float64
}

func (l *overfillLedger) BuySize(float64) float64 { return 10 }

func (l *overfillLedger) Buy(_ context.Context, price float64, at time.Time) execution.Result {
	l.position = 200
	return execution.Result{Status: execution.StatusAccepted, Side: model.SideBuy, Price: price, Size: 200, At: at}
}

func (l *overfillLedger) Sell(_ context.Context, price float64, at time.Time, _ model.CloseReason) execution.Result {
	return execution.Result{Status: execution.StatusFailed, Reason: "exchange unreachable", Side: model.SideSell, Price: price, At: at}
}

func (l *overfillLedger) Balance() float64 { return 0 }
func (l *overfillLedger) Position() float64 { return l.position }
func (l *overfillLedger) Trades() []model.Trade { return nil }

func TestTrader_FailedUnwindIsTracked(t *testing.T) {
	risk := portfolio.NewRiskManager(portfolio.RiskConfig{InitialEquity: 10000})
	rec := &recorder{}
	src := newFakeSource()
	tr := New(Config{Instrument: "BTC_USDT"}, src, strategy.NewGenerator(strategy.V1()), risk, &overfillLedger{},
		WithJournal(rec),
		WithNotifier(rec),
		WithClock(func() time.Time { return t0 }),
	)

	// 200 @ 100 is twice the equity: Open refuses and the undo sell fails
	src.push(snap(1, 100, 101, 100))
	tr.Step(context.Background())

	ps := risk.Positions()
	if len(ps) != 1 || ps[0].Size != 200 {
		t.Fatalf("the unsold fill must stay watched, positions = %+v", ps)
	}
	assertClose(t, "stop loss", ps[0].StopLoss, 98, 1e-9)
	if rec.alertLevels()[notification.AlertCritical] != 1 {
		t.Errorf("expected a critical alert, got %+v", rec.alerts)
	}
	// buy, then the failed undo
	if n := len(rec.results); n != 2 || rec.results[1].Status != execution.StatusFailed {
		t.Errorf("results = %+v", rec.results)
	}
}
