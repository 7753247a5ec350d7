package indicator

import "algotrade/internal/model"

// OBV is the running sum of volume signed by close-to-close direction.
// Defined from the first candle (which contributes 0).
type OBV struct {
	total     float64
	prevClose float64
	count     int
}

// NewOBV creates an On-Balance Volume accumulator.
func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string { return "OBV" }

func (o *OBV) Update(c model.Candle) {
	if o.count > 0 {
		switch {
		case c.Close > o.prevClose:
			o.total += c.Volume
		case c.Close < o.prevClose:
			o.total -= c.Volume
		}
	}
	o.prevClose = c.Close
	o.count++
}

func (o *OBV) Value() model.Float {
	if !o.Ready() {
		return model.None()
	}
	return model.Some(o.total)
}

func (o *OBV) Ready() bool { return o.count > 0 }

// Reset clears the OBV state for reuse.
func (o *OBV) Reset() { *o = OBV{} }
