// Package agg turns exchange ticker updates into candles.
package agg

import (
	"time"

	"algotrade/internal/model"
)

// Aggregator builds OHLCV candles from ticker updates of one instrument.
//
// With a zero interval every ticker becomes its own candle (open = high =
// low = close = last price). Otherwise tickers are bucketed by
// TS.Truncate(interval) and a candle is emitted when a ticker for a later
// bucket arrives.
//
// Ticker volume is the exchange's rolling 24h total, so candle volume is the
// increase of that total over the bucket (never negative).
//
// Not safe for concurrent use; the feed's read loop owns it.
type Aggregator struct {
	interval time.Duration

	cur     model.Candle
	curOpen bool

	lastVol24h float64
	haveVol    bool

	// OnDroppedTick is called for a ticker older than the open bucket.
	OnDroppedTick func(t model.Ticker)
}

// New creates an Aggregator. interval <= 0 means one candle per ticker.
func New(interval time.Duration) *Aggregator {
	if interval < 0 {
		interval = 0
	}
	return &Aggregator{interval: interval}
}

// Interval returns the bucket length (0 = per ticker).
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Add incorporates a ticker and returns a finished candle, if any.
func (a *Aggregator) Add(t model.Ticker) (model.Candle, bool) {
	vol := a.volumeDelta(t.Volume24h)

	if a.interval == 0 {
		return model.Candle{
			TS:     t.TS.UTC(),
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: vol,
		}, true
	}

	bucket := t.TS.UTC().Truncate(a.interval)

	if a.curOpen && bucket.Before(a.cur.TS) {
		// Late ticker, its bucket was already emitted.
		if a.OnDroppedTick != nil {
			a.OnDroppedTick(t)
		}
		return model.Candle{}, false
	}

	if a.curOpen && bucket.Equal(a.cur.TS) {
		c := &a.cur
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += vol
		return model.Candle{}, false
	}

	// New bucket: finalize the previous one first.
	done, had := a.cur, a.curOpen
	a.cur = model.Candle{
		TS:     bucket,
		Open:   t.Price,
		High:   t.Price,
		Low:    t.Price,
		Close:  t.Price,
		Volume: vol,
	}
	a.curOpen = true
	return done, had
}

// Flush returns the open candle, if any, and clears it.
func (a *Aggregator) Flush() (model.Candle, bool) {
	if !a.curOpen {
		return model.Candle{}, false
	}
	c := a.cur
	a.curOpen = false
	a.cur = model.Candle{}
	return c, true
}

// Reset forgets the open candle and the volume baseline, e.g. after a
// reconnect where tickers may have been missed.
func (a *Aggregator) Reset() {
	a.cur = model.Candle{}
	a.curOpen = false
	a.haveVol = false
	a.lastVol24h = 0
}

func (a *Aggregator) volumeDelta(vol24h float64) float64 {
	if !a.haveVol {
		a.haveVol = true
		a.lastVol24h = vol24h
		return 0
	}
	d := vol24h - a.lastVol24h
	a.lastVol24h = vol24h
	if d < 0 {
		// the 24h window rolled off more than was traded
		return 0
	}
	return d
}
