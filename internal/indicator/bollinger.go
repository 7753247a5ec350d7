package indicator

import "algotrade/internal/model"

// Bands is the Bollinger output for one candle.
type Bands struct {
	Upper, Middle, Lower, Width model.Float
	StdDev                      model.Float
}

// Bollinger computes middle = SMA(period), bands = middle +- k*stddev(period)
// and width = (upper-lower)/middle. Stddev is the sample deviation.
type Bollinger struct {
	period int
	k      float64
	w      window
}

// NewBollinger creates Bollinger Bands (typically 20, 2).
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k, w: newWindow(period)}
}

func (b *Bollinger) Name() string { return "BB_" + itoaInd(b.period) }

func (b *Bollinger) Update(c model.Candle) { b.w.push(c.Close) }

func (b *Bollinger) Ready() bool { return b.w.full() }

// Bands returns the current bands, all undefined until Ready.
func (b *Bollinger) Bands() Bands {
	if !b.Ready() {
		return Bands{}
	}
	mid := b.w.mean()
	sd := b.w.stddev()
	upper := mid + b.k*sd
	lower := mid - b.k*sd
	out := Bands{
		Upper:  model.Some(upper),
		Middle: model.Some(mid),
		Lower:  model.Some(lower),
		StdDev: model.Some(sd),
	}
	if mid != 0 {
		out.Width = model.Some((upper - lower) / mid)
	}
	return out
}

// Volatility returns stddev/mean*100 over the same window.
func (b *Bollinger) Volatility() model.Float {
	if !b.Ready() {
		return model.None()
	}
	mean := b.w.mean()
	if mean == 0 {
		return model.None()
	}
	return model.Some(b.w.stddev() / mean * 100)
}

// Reset clears the state for reuse.
func (b *Bollinger) Reset() { b.w.reset() }
