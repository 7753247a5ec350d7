package indicator

import (
	"math"

	"algotrade/internal/model"
)

// ATR is the arithmetic mean of true range over a window. The first candle
// has no previous close, so its true range is high-low.
type ATR struct {
	period    int
	w         window
	prevClose float64
	seen      bool
}

// NewATR creates an ATR indicator (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, w: newWindow(period)}
}

func (a *ATR) Name() string { return "ATR_" + itoaInd(a.period) }

func (a *ATR) Update(c model.Candle) {
	a.w.push(TrueRange(c, a.prevClose, a.seen))
	a.prevClose = c.Close
	a.seen = true
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(c model.Candle, prevClose float64, hasPrev bool) float64 {
	tr := c.High - c.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

func (a *ATR) Value() model.Float {
	if !a.Ready() {
		return model.None()
	}
	return model.Some(a.w.mean())
}

func (a *ATR) Ready() bool { return a.w.full() }

// Reset clears the ATR state for reuse.
func (a *ATR) Reset() {
	a.w.reset()
	a.prevClose = 0
	a.seen = false
}
