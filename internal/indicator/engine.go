package indicator

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"algotrade/internal/model"
	"algotrade/internal/series"
)

// Config holds the window lengths of every indicator family.
type Config struct {
	ShortWindow int // SMA short, default 20
	LongWindow  int // SMA long, default 50
	TrendWindow int // MA50
	BaseWindow  int // MA200

	EMAFast    int // 12
	EMASlow    int // 26
	MACDSignal int // 9

	RSIPeriod      int     // 14
	BBPeriod       int     // 20
	BBK            float64 // 2
	ATRPeriod      int     // 14
	StochK         int     // 14
	StochD         int     // 3
	VolumePeriod   int     // 20
	SeriesCapacity int     // 1000
}

// DefaultConfig returns the standard parameter set.
func DefaultConfig() Config {
	return Config{
		ShortWindow:    20,
		LongWindow:     50,
		TrendWindow:    50,
		BaseWindow:     200,
		EMAFast:        12,
		EMASlow:        26,
		MACDSignal:     9,
		RSIPeriod:      14,
		BBPeriod:       20,
		BBK:            2,
		ATRPeriod:      14,
		StochK:         14,
		StochD:         3,
		VolumePeriod:   20,
		SeriesCapacity: series.DefaultCapacity,
	}
}

// Engine maintains the rolling candle series and every indicator for one
// instrument. Update must be called from a single goroutine; Latest may be
// called from any goroutine.
type Engine struct {
	cfg    Config
	series *series.Rolling

	smaShort, smaLong *SMA
	ma50, ma200       *SMA
	macd              *MACD
	rsi               *RSI
	bb                *Bollinger
	atr               *ATR
	obv               *OBV
	stoch             *Stochastic
	volMA             *SMA
	volBase           *SMA

	accepted int
	latest   atomic.Pointer[Snapshot]
	notify   chan struct{}
	stale    atomic.Uint64

	// Optional hooks, called on the ingest goroutine.
	OnSnapshot func(s *Snapshot)
	OnStale    func(c model.Candle)
}

// NewEngine creates an indicator engine. Zero fields of cfg take defaults.
func NewEngine(cfg Config) *Engine {
	cfg = withDefaults(cfg)
	return &Engine{
		cfg:      cfg,
		series:   series.New(cfg.SeriesCapacity),
		smaShort: NewSMA(cfg.ShortWindow),
		smaLong:  NewSMA(cfg.LongWindow),
		ma50:     NewSMA(cfg.TrendWindow),
		ma200:    NewSMA(cfg.BaseWindow),
		macd:     NewMACD(cfg.EMAFast, cfg.EMASlow, cfg.MACDSignal),
		rsi:      NewRSI(cfg.RSIPeriod),
		bb:       NewBollinger(cfg.BBPeriod, cfg.BBK),
		atr:      NewATR(cfg.ATRPeriod),
		obv:      NewOBV(),
		stoch:    NewStochastic(cfg.StochK, cfg.StochD),
		volMA:    NewSMAOf(cfg.VolumePeriod, Volume),
		volBase:  NewSMA(cfg.BBPeriod),
		notify:   make(chan struct{}, 1),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	pick := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	pick(&cfg.ShortWindow, def.ShortWindow)
	pick(&cfg.LongWindow, def.LongWindow)
	pick(&cfg.TrendWindow, def.TrendWindow)
	pick(&cfg.BaseWindow, def.BaseWindow)
	pick(&cfg.EMAFast, def.EMAFast)
	pick(&cfg.EMASlow, def.EMASlow)
	pick(&cfg.MACDSignal, def.MACDSignal)
	pick(&cfg.RSIPeriod, def.RSIPeriod)
	pick(&cfg.BBPeriod, def.BBPeriod)
	pick(&cfg.ATRPeriod, def.ATRPeriod)
	pick(&cfg.StochK, def.StochK)
	pick(&cfg.StochD, def.StochD)
	pick(&cfg.VolumePeriod, def.VolumePeriod)
	pick(&cfg.SeriesCapacity, def.SeriesCapacity)
	if cfg.BBK <= 0 {
		cfg.BBK = def.BBK
	}
	return cfg
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Update accepts a candle, recomputes every indicator and publishes a new
// snapshot. A candle whose timestamp is not strictly after the last accepted
// one is ignored: the previous snapshot is returned with false.
func (e *Engine) Update(c model.Candle) (*Snapshot, bool) {
	if !e.series.Append(c) {
		e.stale.Add(1)
		if e.OnStale != nil {
			e.OnStale(c)
		}
		return e.latest.Load(), false
	}
	e.accepted++

	e.smaShort.Update(c)
	e.smaLong.Update(c)
	e.ma50.Update(c)
	e.ma200.Update(c)
	e.macd.Update(c)
	e.rsi.Update(c)
	e.bb.Update(c)
	e.atr.Update(c)
	e.obv.Update(c)
	e.stoch.Update(c)
	e.volMA.Update(c)

	snap := e.build(c)
	e.latest.Store(snap)

	select {
	case e.notify <- struct{}{}:
	default:
		// a wake-up is already pending
	}
	if e.OnSnapshot != nil {
		e.OnSnapshot(snap)
	}
	return snap, true
}

func (e *Engine) build(c model.Candle) *Snapshot {
	m := e.macd.Value()
	bands := e.bb.Bands()
	k, d := e.stoch.Value()

	s := &Snapshot{
		TS:     c.TS,
		Close:  c.Close,
		High:   c.High,
		Low:    c.Low,
		Volume: c.Volume,
		Count:  e.accepted,

		SMAShort: e.smaShort.Value(),
		SMALong:  e.smaLong.Value(),
		MA50:     e.ma50.Value(),
		MA200:    e.ma200.Value(),
		EMA12:    e.macd.Fast().Value(),
		EMA26:    e.macd.Slow().Value(),

		MACD:       m.MACD,
		MACDSignal: m.Signal,
		MACDHist:   m.Hist,
		RSI:        e.rsi.Value(),

		BBUpper:    bands.Upper,
		BBMiddle:   bands.Middle,
		BBLower:    bands.Lower,
		BBWidth:    bands.Width,
		Volatility: e.bb.Volatility(),

		ATR:      e.atr.Value(),
		OBV:      e.obv.Value(),
		StochK:   k,
		StochD:   d,
		VolumeMA: e.volMA.Value(),
	}

	if short, ok := s.SMAShort.Get(); ok {
		if long, ok := s.SMALong.Get(); ok && long != 0 {
			s.TrendStrength = model.Some(math.Abs(short-long) / long * 100)
		}
	}
	if v, ok := s.Volatility.Get(); ok {
		e.volBase.Add(v)
		s.VolatilityBase = e.volBase.Value()
	}
	if vma, ok := s.VolumeMA.Get(); ok && vma > 0 {
		s.VolumeRatio = model.Some(c.Volume / vma)
	}
	return s
}

// Latest returns the most recently published snapshot, or nil before the
// first accepted candle.
func (e *Engine) Latest() *Snapshot { return e.latest.Load() }

// Notify returns a channel that receives a value after each publish.
// Wake-ups coalesce: a slow reader sees one pending signal, not a backlog.
func (e *Engine) Notify() <-chan struct{} { return e.notify }

// Stale returns how many candles were rejected as duplicate or out of order.
func (e *Engine) Stale() uint64 { return e.stale.Load() }

// Len returns the number of candles currently in the rolling series.
// Only safe on the ingest goroutine.
func (e *Engine) Len() int { return e.series.Len() }

// Run consumes candles until ctx is done or in is closed.
func (e *Engine) Run(ctx context.Context, in <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			if _, accepted := e.Update(c); !accepted {
				slog.Debug("stale candle dropped", slog.String("candle", c.Key()))
			}
		}
	}
}
