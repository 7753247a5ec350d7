// Package indicator provides incremental technical indicators over candles.
//
// Every indicator is updated one candle at a time in O(1) or O(window) and
// reports an undefined value until its warm-up window is satisfied. The Engine
// composes them and publishes an immutable Snapshot per accepted candle.
package indicator

import (
	"math"

	"algotrade/internal/model"
)

// Indicator is the interface for all single-valued technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_12").
	Name() string

	// Update feeds a new candle and recalculates.
	Update(c model.Candle)

	// Value returns the current value, undefined until Ready.
	Value() model.Float

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears all state.
	Reset()
}

// Source extracts the input value of an indicator from a candle.
type Source func(c model.Candle) float64

// Close and Volume are the two sources used by the engine.
var (
	Close  Source = func(c model.Candle) float64 { return c.Close }
	Volume Source = func(c model.Candle) float64 { return c.Volume }
)

// window is a preallocated circular buffer with a running sum.
type window struct {
	buf   []float64
	idx   int // next write position
	count int
	sum   float64
}

func newWindow(period int) window {
	if period < 1 {
		period = 1
	}
	return window{buf: make([]float64, period)}
}

func (w *window) push(v float64) {
	if w.count >= len(w.buf) {
		w.sum -= w.buf[w.idx]
	} else {
		w.count++
	}
	w.buf[w.idx] = v
	w.sum += v
	w.idx = (w.idx + 1) % len(w.buf)
}

func (w *window) full() bool { return w.count >= len(w.buf) }

func (w *window) mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// stddev returns the sample standard deviation (n-1) of the window.
// Computed from deviations rather than a running sum of squares to keep
// precision for large prices with small spreads.
func (w *window) stddev() float64 {
	if w.count < 2 {
		return 0
	}
	m := w.mean()
	var ss float64
	for i := 0; i < w.count; i++ {
		d := w.buf[i] - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(w.count-1))
}

func (w *window) minMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < w.count; i++ {
		v := w.buf[i]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func (w *window) reset() {
	w.idx, w.count, w.sum = 0, 0, 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}

// itoaInd converts int to string without importing strconv.
func itoaInd(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
