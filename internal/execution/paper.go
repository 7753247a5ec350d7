package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"algotrade/internal/model"
)

// PaperConfig configures a PaperLedger.
type PaperConfig struct {
	InitialBalance float64
	Allocation     float64 // fraction of balance per buy, default 0.95
	SlippageBps    float64 // basis points against the trader, e.g. 5 = 0.05%
}

// PaperLedger simulates fills at the signal price.
type PaperLedger struct {
	*book
	slippageBps float64
	logger      *slog.Logger
}

// NewPaperLedger creates a paper ledger.
func NewPaperLedger(cfg PaperConfig, logger *slog.Logger) *PaperLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaperLedger{
		book:        newBook(cfg.InitialBalance, cfg.Allocation),
		slippageBps: cfg.SlippageBps,
		logger:      logger.With("component", "paper"),
	}
}

func (p *PaperLedger) fillPrice(side model.Side, price float64) float64 {
	slip := price * p.slippageBps / 10000
	if side == model.SideBuy {
		return price + slip // buy higher
	}
	return price - slip // sell lower
}

// BuySize returns balance*allocation/price.
func (p *PaperLedger) BuySize(price float64) float64 { return p.buySize(price) }

// Buy debits size*fill from balance and opens the position.
func (p *PaperLedger) Buy(_ context.Context, price float64, at time.Time) Result {
	res := Result{Side: model.SideBuy, Price: price, At: at}
	if reason := p.check(model.SideBuy, price); reason != "" {
		res.Status, res.Reason = StatusRejected, reason
		return res
	}
	fill := p.fillPrice(model.SideBuy, price)
	size := p.buySize(fill)
	p.applyBuy(fill, size, at)

	res.Status, res.Price, res.Size = StatusAccepted, fill, size
	res.OrderID = fmt.Sprintf("PAPER-%d", at.UnixNano())
	p.logger.Info("paper buy", "size", size, "price", fill, "slippage_bps", p.slippageBps)
	return res
}

// Sell closes the position and credits the proceeds.
func (p *PaperLedger) Sell(_ context.Context, price float64, at time.Time, reason model.CloseReason) Result {
	res := Result{Side: model.SideSell, Price: price, At: at}
	if r := p.check(model.SideSell, price); r != "" {
		res.Status, res.Reason = StatusRejected, r
		return res
	}
	fill := p.fillPrice(model.SideSell, price)
	t := p.applySell(fill, at, reason)

	res.Status, res.Price, res.Size = StatusAccepted, fill, t.Size
	res.OrderID = fmt.Sprintf("PAPER-%d", at.UnixNano())
	p.logger.Info("paper sell", "size", t.Size, "price", fill, "pnl", t.PnL, "reason", string(reason))
	return res
}

// Balance returns the quote balance.
func (p *PaperLedger) Balance() float64 {
	b, _ := p.snapshot()
	return b
}

// Position returns the base quantity held.
func (p *PaperLedger) Position() float64 {
	_, pos := p.snapshot()
	return pos
}

// Trades returns the closed round trips.
func (p *PaperLedger) Trades() []model.Trade { return p.tradeCopy() }

// TotalValue returns balance plus the position marked at price.
func (p *PaperLedger) TotalValue(price float64) float64 {
	b, pos := p.snapshot()
	return b + pos*price
}
