package indicator

import "algotrade/internal/model"

// EMA calculates Exponential Moving Average.
// Seeded with the first value: ema += k*(v-ema), k = 2/(period+1).
// The value is reported only after period inputs so that the seed has decayed.
// O(1) per update, no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + itoaInd(e.period) }

func (e *EMA) Update(c model.Candle) { e.Add(c.Close) }

// Add feeds a raw value.
func (e *EMA) Add(v float64) {
	e.count++
	if e.count == 1 {
		e.current = v
		return
	}
	e.current += e.multiplier * (v - e.current)
}

func (e *EMA) Value() model.Float {
	if !e.Ready() {
		return model.None()
	}
	return model.Some(e.current)
}

// Raw returns the running average regardless of warm-up.
func (e *EMA) Raw() float64 { return e.current }

func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
