package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	TickersTotal    prometheus.Counter
	CandlesTotal    prometheus.Counter
	FeedReconnects  prometheus.Counter
	DroppedTickers  prometheus.Counter
	MalformedFrames prometheus.Counter
	FeedState       prometheus.Gauge // feed.State value
	CandleLag       prometheus.Gauge

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	StaleCandles        prometheus.Counter

	// Evaluation loop
	EvalDur          prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: direction
	SignalStrength   prometheus.Gauge
	SignalConfidence prometheus.Gauge

	// Risk and execution
	RiskRejections  prometheus.Counter
	OpenPositions   prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	DrawdownPct     prometheus.Gauge
	Volatility      prometheus.Gauge
	Balance         prometheus.Gauge
	TradesTotal     *prometheus.CounterVec // labels: reason
	ExecutionsTotal *prometheus.CounterVec // labels: side, status

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Sinks
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	SinkErrors               *prometheus.CounterVec // labels: sink
}

// NewMetrics registers all metrics with reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	fast := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}

	m := &Metrics{
		TickersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_tickers_total",
			Help: "Ticker updates received from the exchange feed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_candles_total",
			Help: "Candles emitted by the aggregator",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_feed_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		DroppedTickers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_dropped_tickers_total",
			Help: "Ticker updates dropped because the candle channel was full",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_malformed_frames_total",
			Help: "Feed frames that failed to parse",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_feed_state",
			Help: "Feed state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=stopped)",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_candle_lag_seconds",
			Help: "Lag between candle timestamp and evaluation time",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "algotrade_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per candle",
			Buckets: fast,
		}),
		StaleCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_stale_candles_total",
			Help: "Candles ignored because they were not newer than the last one",
		}),

		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "algotrade_eval_duration_seconds",
			Help:    "Evaluation loop latency per snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algotrade_signals_total",
			Help: "Signals produced by direction",
		}, []string{"direction"}),
		SignalStrength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_signal_strength",
			Help: "Strength of the latest signal (-100..100)",
		}),
		SignalConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_signal_confidence",
			Help: "Confidence of the latest signal (0..100)",
		}),

		RiskRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_risk_rejections_total",
			Help: "Opens rejected by the risk manager",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_open_positions",
			Help: "Currently open positions",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_realized_pnl",
			Help: "Cumulative realized PnL in quote currency",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_drawdown_pct",
			Help: "Current drawdown from peak equity",
		}),
		Volatility: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_trade_volatility",
			Help: "Annualized volatility of recent trade returns",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_ledger_balance",
			Help: "Ledger quote balance",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algotrade_trades_total",
			Help: "Closed trades by close reason",
		}, []string{"reason"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algotrade_executions_total",
			Help: "Execution attempts by side and status",
		}, []string{"side", "status"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algotrade_fanout_drops_total",
			Help: "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "algotrade_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "algotrade_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algotrade_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "algotrade_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker is open",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algotrade_sink_errors_total",
			Help: "Publish failures per sink",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.TickersTotal,
		m.CandlesTotal,
		m.FeedReconnects,
		m.DroppedTickers,
		m.MalformedFrames,
		m.FeedState,
		m.CandleLag,
		m.IndicatorComputeDur,
		m.StaleCandles,
		m.EvalDur,
		m.SignalsTotal,
		m.SignalStrength,
		m.SignalConfidence,
		m.RiskRejections,
		m.OpenPositions,
		m.RealizedPnL,
		m.DrawdownPct,
		m.Volatility,
		m.Balance,
		m.TradesTotal,
		m.ExecutionsTotal,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.SinkErrors,
	)

	return m
}
