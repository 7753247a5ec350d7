package indicator

import "algotrade/internal/model"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period int
	src    Source
	w      window
}

// NewSMA creates an SMA of closing prices.
func NewSMA(period int) *SMA {
	return NewSMAOf(period, Close)
}

// NewSMAOf creates an SMA over an arbitrary candle source.
func NewSMAOf(period int, src Source) *SMA {
	return &SMA{period: period, src: src, w: newWindow(period)}
}

func (s *SMA) Name() string { return "SMA_" + itoaInd(s.period) }

func (s *SMA) Update(c model.Candle) { s.Add(s.src(c)) }

// Add feeds a raw value.
func (s *SMA) Add(v float64) { s.w.push(v) }

func (s *SMA) Value() model.Float {
	if !s.w.full() {
		return model.None()
	}
	return model.Some(s.w.mean())
}

func (s *SMA) Ready() bool { return s.w.full() }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() { s.w.reset() }
