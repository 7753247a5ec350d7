package portfolio

import (
	"math"
	"sync"

	"algotrade/internal/model"
)

// Performance accumulates trade statistics incrementally.
type Performance struct {
	mu sync.RWMutex

	total     int
	wins      int
	losses    int
	sumReturn float64
	maxReturn float64
	minReturn float64
	totalPnL  float64
}

// NewPerformance creates an empty tracker.
func NewPerformance() *Performance {
	return &Performance{maxReturn: math.Inf(-1), minReturn: math.Inf(1)}
}

// Add records a closed trade.
func (p *Performance) Add(t model.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total++
	switch {
	case t.PnL > 0:
		p.wins++
	case t.PnL < 0:
		p.losses++
	}
	p.sumReturn += t.ReturnPct
	p.maxReturn = math.Max(p.maxReturn, t.ReturnPct)
	p.minReturn = math.Min(p.minReturn, t.ReturnPct)
	p.totalPnL += t.PnL
}

// PerformanceStats summarizes closed trades. Return figures are percent.
type PerformanceStats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgReturnPct float64 `json:"avg_return_pct"`
	MaxProfitPct float64 `json:"max_profit_pct"`
	MaxLossPct   float64 `json:"max_loss_pct"`
	TotalPnL     float64 `json:"total_pnl"`
}

// Stats returns the current summary; all zero before the first trade.
func (p *Performance) Stats() PerformanceStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.total == 0 {
		return PerformanceStats{}
	}
	n := float64(p.total)
	return PerformanceStats{
		TotalTrades:  p.total,
		Wins:         p.wins,
		Losses:       p.losses,
		WinRate:      float64(p.wins) / n * 100,
		AvgReturnPct: p.sumReturn / n,
		MaxProfitPct: p.maxReturn,
		MaxLossPct:   p.minReturn,
		TotalPnL:     p.totalPnL,
	}
}
