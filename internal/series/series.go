// Package series provides RollingSeries, a capacity-bounded ring of candles
// ordered by strictly increasing timestamp. When full, appending evicts the
// oldest candle. It is single-writer: only the ingest goroutine touches it.
package series

import (
	"algotrade/internal/model"
)

// DefaultCapacity is the number of candles retained when no capacity is given.
const DefaultCapacity = 1000

// Rolling is a fixed-capacity circular buffer of candles.
type Rolling struct {
	buf   []model.Candle
	head  int // index of the oldest element
	count int

	evicted  uint64
	rejected uint64
}

// New creates a series holding at most capacity candles.
func New(capacity int) *Rolling {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Rolling{buf: make([]model.Candle, capacity)}
}

// Append adds c to the end of the series. It returns false, leaving the
// series unchanged, when c is not strictly newer than the last candle.
func (r *Rolling) Append(c model.Candle) bool {
	if last, ok := r.Last(); ok && !c.After(last) {
		r.rejected++
		return false
	}

	if r.count == len(r.buf) {
		// Full: overwrite the oldest slot and advance head.
		r.buf[r.head] = c
		r.head = (r.head + 1) % len(r.buf)
		r.evicted++
		return true
	}

	r.buf[(r.head+r.count)%len(r.buf)] = c
	r.count++
	return true
}

// Last returns the newest candle.
func (r *Rolling) Last() (model.Candle, bool) {
	if r.count == 0 {
		return model.Candle{}, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// At returns the i-th candle, 0 being the oldest retained.
func (r *Rolling) At(i int) model.Candle {
	if i < 0 || i >= r.count {
		panic("series: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Len returns the number of retained candles.
func (r *Rolling) Len() int { return r.count }

// Cap returns the series capacity.
func (r *Rolling) Cap() int { return len(r.buf) }

// Evicted returns how many candles were pushed out by capacity.
func (r *Rolling) Evicted() uint64 { return r.evicted }

// Rejected returns how many appends were refused as stale or duplicate.
func (r *Rolling) Rejected() uint64 { return r.rejected }

// Slice returns a copy of the retained candles, oldest first.
func (r *Rolling) Slice() []model.Candle {
	out := make([]model.Candle, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Closes returns up to n most recent close prices, oldest first.
func (r *Rolling) Closes(n int) []float64 {
	if n > r.count || n <= 0 {
		n = r.count
	}
	out := make([]float64, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)].Close
	}
	return out
}
