// Package execution applies accepted trade decisions to capital: simulated in
// paper mode, or as exchange orders whose fill state is confirmed before the
// ledger changes in live mode.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"algotrade/internal/model"
)

// Status is the outcome of an execution attempt.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Result describes one Buy or Sell attempt.
type Result struct {
	Status  Status     `json:"status"`
	Reason  string     `json:"reason,omitempty"`
	OrderID string     `json:"order_id,omitempty"`
	Side    model.Side `json:"side"`
	Price   float64    `json:"price"`
	Size    float64    `json:"size"`
	At      time.Time  `json:"at"`
}

// Accepted reports whether the ledger was updated.
func (r Result) Accepted() bool { return r.Status == StatusAccepted }

// Ledger holds the quote balance and base position for one instrument.
type Ledger interface {
	// BuySize is the size a Buy at price would take.
	BuySize(price float64) float64
	Buy(ctx context.Context, price float64, at time.Time) Result
	Sell(ctx context.Context, price float64, at time.Time, reason model.CloseReason) Result
	Balance() float64
	Position() float64
	Trades() []model.Trade
}

const DefaultAllocation = 0.95

// book is the accounting shared by the paper and live ledgers.
type book struct {
	mu         sync.Mutex
	balance    float64
	position   float64
	entry      float64
	entryTime  time.Time
	allocation float64
	last       model.Side
	seq        int
	trades     []model.Trade
}

func newBook(balance, allocation float64) *book {
	if allocation <= 0 || allocation > 1 {
		allocation = DefaultAllocation
	}
	return &book{balance: balance, allocation: allocation}
}

func (b *book) buySize(price float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if price <= 0 {
		return 0
	}
	return b.balance * b.allocation / price
}

// check returns a rejection reason for side, or "".
func (b *book) check(side model.Side, price float64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case price <= 0:
		return "invalid price"
	case side == b.last:
		return "same as last action"
	case side == model.SideBuy && b.position > 0:
		return "position already open"
	case side == model.SideBuy && b.balance <= 0:
		return "no balance"
	case side == model.SideSell && b.position <= 0:
		return "no open position"
	}
	return ""
}

func (b *book) applyBuy(price, size float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance -= price * size
	b.position = size
	b.entry = price
	b.entryTime = at
	b.last = model.SideBuy
}

func (b *book) applySell(price float64, at time.Time, reason model.CloseReason) model.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	p := model.Position{
		ID:         fmt.Sprintf("L%d", b.seq),
		EntryPrice: b.entry,
		Size:       b.position,
		EntryTime:  b.entryTime,
	}
	t := model.NewTrade(p, price, at, reason)
	b.balance += price * b.position
	b.position = 0
	b.entry = 0
	b.last = model.SideSell
	b.trades = append(b.trades, t)
	return t
}

func (b *book) snapshot() (balance, position float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, b.position
}

func (b *book) tradeCopy() []model.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}
