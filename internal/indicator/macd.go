package indicator

import "algotrade/internal/model"

// MACDValue is the MACD output for one candle.
type MACDValue struct {
	MACD, Signal, Hist model.Float
}

// MACD is EMA(fast)-EMA(slow) with an EMA(signal) of the difference.
// The line is defined once the slow EMA is; the signal line after it has
// seen signal defined MACD values.
type MACD struct {
	fast, slow *EMA
	signal     *EMA
}

// NewMACD creates a MACD (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(c model.Candle) {
	m.fast.Add(c.Close)
	m.slow.Add(c.Close)
	if m.slow.Ready() && m.fast.Ready() {
		m.signal.Add(m.fast.Raw() - m.slow.Raw())
	}
}

// Fast and Slow expose the component EMAs (EMA12/EMA26 in the snapshot).
func (m *MACD) Fast() *EMA { return m.fast }
func (m *MACD) Slow() *EMA { return m.slow }

// Value returns the three MACD series.
func (m *MACD) Value() MACDValue {
	var out MACDValue
	if !m.slow.Ready() || !m.fast.Ready() {
		return out
	}
	line := m.fast.Raw() - m.slow.Raw()
	out.MACD = model.Some(line)
	if m.signal.Ready() {
		sig := m.signal.Raw()
		out.Signal = model.Some(sig)
		out.Hist = model.Some(line - sig)
	}
	return out
}

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
}
