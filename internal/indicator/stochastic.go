package indicator

import "algotrade/internal/model"

// Stochastic computes %K over the closes of the last kPeriod candles and
// %D as the SMA(dPeriod) of %K. A flat window yields %K = 50.
type Stochastic struct {
	closes window
	d      *SMA
	k      model.Float
}

// NewStochastic creates a stochastic oscillator (typically 14, 3).
func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{closes: newWindow(kPeriod), d: NewSMAOf(dPeriod, Close)}
}

func (s *Stochastic) Name() string { return "STOCH" }

func (s *Stochastic) Update(c model.Candle) {
	s.closes.push(c.Close)
	if !s.closes.full() {
		return
	}
	lo, hi := s.closes.minMax()
	k := 50.0
	if hi > lo {
		k = 100 * (c.Close - lo) / (hi - lo)
	}
	s.k = model.Some(k)
	s.d.Add(k)
}

// Value returns %K and %D.
func (s *Stochastic) Value() (k, d model.Float) {
	return s.k, s.d.Value()
}

// Reset clears the state for reuse.
func (s *Stochastic) Reset() {
	s.closes.reset()
	s.d.Reset()
	s.k = model.None()
}
