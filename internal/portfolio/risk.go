// Package portfolio owns open positions and enforces the risk policy:
// position count, drawdown, volatility, daily loss and sizing limits, plus
// stop-loss / take-profit exits on every price.
package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"algotrade/internal/model"

	"github.com/google/uuid"
)

// ErrRiskRejected is wrapped by Open when a limit forbids the position.
var ErrRiskRejected = errors.New("risk: rejected")

// RiskConfig defines the risk limits. Percentages are 0-100.
type RiskConfig struct {
	StopLossPct   float64 `json:"stop_loss_pct"`   // default 2
	TakeProfitPct float64 `json:"take_profit_pct"` // default 4
	MaxPositions  int     `json:"max_positions"`   // default 3

	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`   // default 20
	MaxVolatility   float64 `json:"max_volatility"`     // annualized, default 0.5
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"` // of start-of-day equity, default 5

	// MaxPositionFraction caps size*price as a fraction of equity.
	MaxPositionFraction float64 `json:"max_position_fraction"` // default 1

	// InitialEquity is the drawdown base. 0 measures drawdown on the bare
	// cumulative PnL series and disables the equity-relative limits.
	InitialEquity float64 `json:"initial_equity"`

	VolatilityWindow int `json:"volatility_window"` // trades, default 20
}

// DefaultRiskConfig returns the standard limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		StopLossPct:         2,
		TakeProfitPct:       4,
		MaxPositions:        3,
		MaxDrawdownPct:      20,
		MaxVolatility:       0.5,
		MaxDailyLossPct:     5,
		MaxPositionFraction: 1,
		VolatilityWindow:    20,
	}
}

// RiskOption customizes a RiskManager.
type RiskOption func(*RiskManager)

// WithRiskLogger sets the logger.
func WithRiskLogger(l *slog.Logger) RiskOption {
	return func(rm *RiskManager) { rm.logger = l }
}

// WithIDFunc replaces the position id generator.
func WithIDFunc(f func() string) RiskOption {
	return func(rm *RiskManager) { rm.newID = f }
}

// RiskManager validates and tracks positions. All state sits behind one
// mutex so that the check in Open and the insert are atomic.
type RiskManager struct {
	cfg    RiskConfig
	logger *slog.Logger
	newID  func() string

	mu        sync.Mutex
	positions []model.Position
	trades    []model.Trade
	cumPnL    []float64 // cumulative realized PnL after each trade
	realized  float64
	dailyPnL  float64
	dayEquity float64 // equity at the last daily reset

	peak        float64
	curDrawdown float64
	maxDrawdown float64
	volatility  float64
	updatedAt   time.Time

	perf *Performance
}

// NewRiskManager creates a RiskManager. Zero limits take defaults.
func NewRiskManager(cfg RiskConfig, opts ...RiskOption) *RiskManager {
	def := DefaultRiskConfig()
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = def.StopLossPct
	}
	if cfg.TakeProfitPct <= 0 {
		cfg.TakeProfitPct = def.TakeProfitPct
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = def.MaxPositions
	}
	if cfg.MaxDrawdownPct <= 0 {
		cfg.MaxDrawdownPct = def.MaxDrawdownPct
	}
	if cfg.MaxVolatility <= 0 {
		cfg.MaxVolatility = def.MaxVolatility
	}
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = def.MaxDailyLossPct
	}
	if cfg.MaxPositionFraction <= 0 {
		cfg.MaxPositionFraction = def.MaxPositionFraction
	}
	if cfg.VolatilityWindow < 2 {
		cfg.VolatilityWindow = def.VolatilityWindow
	}

	rm := &RiskManager{
		cfg:       cfg,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		peak:      cfg.InitialEquity,
		dayEquity: cfg.InitialEquity,
		perf:      NewPerformance(),
	}
	for _, o := range opts {
		o(rm)
	}
	rm.logger = rm.logger.With("component", "risk")
	return rm
}

// Config returns the effective limits.
func (rm *RiskManager) Config() RiskConfig { return rm.cfg }

// CanOpen reports whether a position of size at price is allowed now.
// It fails closed: any violated or uncheckable limit rejects.
func (rm *RiskManager) CanOpen(price, size float64) (bool, string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.canOpenLocked(price, size)
}

func (rm *RiskManager) canOpenLocked(price, size float64) (bool, string) {
	reason := rm.violation(price, size)
	if reason == "" {
		return true, ""
	}
	rm.logger.Info("open rejected",
		"reason", reason,
		"price", price,
		"size", size,
		"open_positions", len(rm.positions),
		"max_positions", rm.cfg.MaxPositions,
		"max_drawdown_pct", rm.maxDrawdown,
		"drawdown_limit_pct", rm.cfg.MaxDrawdownPct,
		"volatility", rm.volatility,
		"volatility_limit", rm.cfg.MaxVolatility,
		"daily_pnl", rm.dailyPnL,
	)
	return false, reason
}

func (rm *RiskManager) violation(price, size float64) string {
	switch {
	case math.IsNaN(price) || math.IsNaN(size) || price <= 0 || size <= 0:
		return "invalid price or size"
	case len(rm.positions) >= rm.cfg.MaxPositions:
		return fmt.Sprintf("max positions reached (%d/%d)", len(rm.positions), rm.cfg.MaxPositions)
	case rm.maxDrawdown > rm.cfg.MaxDrawdownPct:
		return fmt.Sprintf("max drawdown %.2f%% exceeds %.2f%%", rm.maxDrawdown, rm.cfg.MaxDrawdownPct)
	case rm.volatility > rm.cfg.MaxVolatility:
		return fmt.Sprintf("volatility %.2f exceeds %.2f", rm.volatility, rm.cfg.MaxVolatility)
	}
	if rm.dayEquity > 0 {
		limit := -rm.cfg.MaxDailyLossPct / 100 * rm.dayEquity
		if rm.dailyPnL < limit {
			return fmt.Sprintf("daily loss %.2f beyond limit %.2f", rm.dailyPnL, limit)
		}
	}
	if eq := rm.equity(); eq > 0 {
		if maxNotional := rm.cfg.MaxPositionFraction * eq; size*price > maxNotional {
			return fmt.Sprintf("notional %.2f exceeds %.2f (%.0f%% of equity)", size*price, maxNotional, rm.cfg.MaxPositionFraction*100)
		}
	} else if rm.cfg.InitialEquity > 0 {
		return "equity exhausted"
	}
	return ""
}

// Open re-checks the limits and records a new position with stop-loss and
// take-profit derived from the configured percentages.
func (rm *RiskManager) Open(price, size float64, at time.Time) (model.Position, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if ok, reason := rm.canOpenLocked(price, size); !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrRiskRejected, reason)
	}
	p := rm.newPositionLocked(price, size, at)
	rm.logger.Info("position opened",
		"id", p.ID,
		"price", price,
		"size", size,
		"stop_loss", p.StopLoss,
		"take_profit", p.TakeProfit,
	)
	return p, nil
}

// Exit is an open position whose stop-loss or take-profit is hit.
type Exit struct {
	Position model.Position
	Reason   model.CloseReason
}

// exitReason returns the triggered exit for p at price, or "". Stop-loss
// wins when both trigger.
func exitReason(p model.Position, price float64) model.CloseReason {
	switch {
	case price <= p.StopLoss:
		return model.CloseStopLoss
	case price >= p.TakeProfit:
		return model.CloseTakeProfit
	}
	return ""
}

// Triggered lists the positions whose stop-loss or take-profit is hit at
// price. Nothing is closed: the caller closes each one with Close once the
// exit has been executed.
func (rm *RiskManager) Triggered(price float64) []Exit {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var out []Exit
	for _, p := range rm.positions {
		if r := exitReason(p, price); r != "" {
			out = append(out, Exit{Position: p, Reason: r})
		}
	}
	return out
}

// Mark updates the unrealized PnL of every open position at price.
func (rm *RiskManager) Mark(price float64, at time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for i := range rm.positions {
		rm.positions[i].UnrealizedPnL = rm.positions[i].Mark(price)
	}
	rm.updatedAt = at
}

func (rm *RiskManager) newPositionLocked(price, size float64, at time.Time) model.Position {
	p := model.Position{
		ID:         rm.newID(),
		EntryPrice: price,
		Size:       size,
		EntryTime:  at,
		StopLoss:   price * (1 - rm.cfg.StopLossPct/100),
		TakeProfit: price * (1 + rm.cfg.TakeProfitPct/100),
	}
	rm.positions = append(rm.positions, p)
	rm.updatedAt = at
	return p
}

// CheckPositions closes every position whose stop-loss or take-profit is hit
// at price. Remaining positions are marked to price. Use it where the exit
// cannot fail; a caller that executes orders uses Triggered and Close.
func (rm *RiskManager) CheckPositions(price float64, at time.Time) []model.Trade {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var closed []model.Trade
	kept := rm.positions[:0]
	for _, p := range rm.positions {
		reason := exitReason(p, price)
		if reason == "" {
			p.UnrealizedPnL = p.Mark(price)
			kept = append(kept, p)
			continue
		}
		closed = append(closed, rm.closeLocked(p, price, at, reason))
	}
	// clear the tail so closed positions are not retained
	for i := len(kept); i < len(rm.positions); i++ {
		rm.positions[i] = model.Position{}
	}
	rm.positions = kept
	rm.updatedAt = at
	return closed
}

// Track records a position that is already held without checking limits.
// It covers a fill that could not be unwound so that its stop-loss and
// take-profit are still watched.
func (rm *RiskManager) Track(price, size float64, at time.Time) model.Position {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.newPositionLocked(price, size, at)
	rm.logger.Warn("position tracked outside limits", "id", p.ID, "price", price, "size", size)
	return p
}

// Close closes the position with id at price.
func (rm *RiskManager) Close(id string, price float64, at time.Time, reason model.CloseReason) (model.Trade, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for i, p := range rm.positions {
		if p.ID != id {
			continue
		}
		rm.positions = append(rm.positions[:i], rm.positions[i+1:]...)
		rm.updatedAt = at
		return rm.closeLocked(p, price, at, reason), true
	}
	return model.Trade{}, false
}

// CloseAll closes every open position at price.
func (rm *RiskManager) CloseAll(price float64, at time.Time, reason model.CloseReason) []model.Trade {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	trades := make([]model.Trade, 0, len(rm.positions))
	for _, p := range rm.positions {
		trades = append(trades, rm.closeLocked(p, price, at, reason))
	}
	rm.positions = nil
	rm.updatedAt = at
	return trades
}

// closeLocked books the trade and refreshes drawdown and volatility.
func (rm *RiskManager) closeLocked(p model.Position, price float64, at time.Time, reason model.CloseReason) model.Trade {
	t := model.NewTrade(p, price, at, reason)
	rm.trades = append(rm.trades, t)
	rm.realized += t.PnL
	rm.dailyPnL += t.PnL
	rm.cumPnL = append(rm.cumPnL, rm.realized)
	rm.perf.Add(t)

	eq := rm.equity()
	if eq > rm.peak {
		rm.peak = eq
	}
	rm.curDrawdown = 0
	if rm.peak > 0 {
		rm.curDrawdown = (rm.peak - eq) / rm.peak * 100
	}
	if rm.curDrawdown > rm.maxDrawdown {
		rm.maxDrawdown = rm.curDrawdown
	}
	rm.volatility = rm.tradeVolatility()

	rm.logger.Info("position closed",
		"id", p.ID,
		"reason", string(reason),
		"entry", p.EntryPrice,
		"exit", price,
		"size", p.Size,
		"pnl", t.PnL,
		"drawdown_pct", rm.curDrawdown,
	)
	return t
}

func (rm *RiskManager) equity() float64 { return rm.cfg.InitialEquity + rm.realized }

// tradeVolatility is the sample stddev of the last VolatilityWindow trade
// returns (fractions), annualized by sqrt(252). 0 until the window fills.
func (rm *RiskManager) tradeVolatility() float64 {
	n := rm.cfg.VolatilityWindow
	if len(rm.trades) < n {
		return 0
	}
	recent := rm.trades[len(rm.trades)-n:]
	mean := 0.0
	for _, t := range recent {
		mean += t.ReturnPct / 100
	}
	mean /= float64(n)
	ss := 0.0
	for _, t := range recent {
		d := t.ReturnPct/100 - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(n-1)) * math.Sqrt(252)
}

// ResetDaily starts a new trading day for the daily loss limit.
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = 0
	rm.dayEquity = rm.equity()
	rm.logger.Info("daily reset", "equity", rm.dayEquity)
}

// Metrics returns a copy of the risk counters.
func (rm *RiskManager) Metrics() model.RiskState {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	cum := make([]float64, len(rm.cumPnL))
	copy(cum, rm.cumPnL)
	return model.RiskState{
		OpenPositions:      len(rm.positions),
		MaxPositions:       rm.cfg.MaxPositions,
		CumulativePnL:      cum,
		RealizedPnL:        rm.realized,
		MaxDrawdownPct:     rm.maxDrawdown,
		CurrentDrawdownPct: rm.curDrawdown,
		DailyPnL:           rm.dailyPnL,
		Volatility:         rm.volatility,
		Equity:             rm.equity(),
		PeakEquity:         rm.peak,
		UpdatedAt:          rm.updatedAt,
	}
}

// Positions returns a copy of the open positions.
func (rm *RiskManager) Positions() []model.Position {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]model.Position, len(rm.positions))
	copy(out, rm.positions)
	return out
}

// Trades returns a copy of the closed trades.
func (rm *RiskManager) Trades() []model.Trade {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]model.Trade, len(rm.trades))
	copy(out, rm.trades)
	return out
}

// Performance returns statistics over all closed trades.
func (rm *RiskManager) Performance() PerformanceStats { return rm.perf.Stats() }
