package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the trading loop from concrete sinks (Redis, InfluxDB, SQLite).

// CandleWriter consumes accepted candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// TradeRecorder persists closed trades.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t Trade) error
}
