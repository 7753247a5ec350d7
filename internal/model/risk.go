package model

import "time"

// RiskState is a read-only copy of the risk manager's counters.
type RiskState struct {
	OpenPositions      int       `json:"open_positions"`
	MaxPositions       int       `json:"max_positions"`
	CumulativePnL      []float64 `json:"cumulative_pnl"`
	RealizedPnL        float64   `json:"realized_pnl"`
	MaxDrawdownPct     float64   `json:"max_drawdown_pct"`
	CurrentDrawdownPct float64   `json:"current_drawdown_pct"`
	DailyPnL           float64   `json:"daily_pnl"`
	Volatility         float64   `json:"volatility"`
	Equity             float64   `json:"equity"`
	PeakEquity         float64   `json:"peak_equity"`
	UpdatedAt          time.Time `json:"updated_at"`
}
