package model

import "time"

// Position is an open long position. It is owned by the risk manager and
// removed from the open set exactly when it is closed.
type Position struct {
	ID            string    `json:"id"`
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"` // always > 0
	EntryTime     time.Time `json:"entry_time"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
}

// Mark returns the unrealized PnL at price.
func (p *Position) Mark(price float64) float64 {
	return (price - p.EntryPrice) * p.Size
}

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseSignal     CloseReason = "signal"
	CloseManual     CloseReason = "manual"
)

// Trade is the immutable record of a closed position.
type Trade struct {
	PositionID string      `json:"position_id"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitTime   time.Time   `json:"exit_time"`
	Size       float64     `json:"size"`
	PnL        float64     `json:"pnl"`
	ReturnPct  float64     `json:"return_pct"`
	Reason     CloseReason `json:"reason"`
}

// NewTrade closes p at exitPrice and computes realized PnL and return.
func NewTrade(p Position, exitPrice float64, exitTime time.Time, reason CloseReason) Trade {
	ret := 0.0
	if p.EntryPrice > 0 {
		ret = (exitPrice/p.EntryPrice - 1) * 100
	}
	return Trade{
		PositionID: p.ID,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  p.EntryTime,
		ExitTime:   exitTime,
		Size:       p.Size,
		PnL:        (exitPrice - p.EntryPrice) * p.Size,
		ReturnPct:  ret,
		Reason:     reason,
	}
}
