package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle is an OHLCV aggregate for one interval of the traded instrument.
// Candles are immutable once appended to a series.
type Candle struct {
	TS     time.Time `json:"ts"` // bucket start (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Key returns a compact identifier used in log lines: "<unix_ms>@<close>".
func (c *Candle) Key() string {
	return strconv.FormatInt(c.TS.UnixMilli(), 10) + "@" + strconv.FormatFloat(c.Close, 'f', -1, 64)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// After reports whether c is strictly newer than other.
func (c *Candle) After(other Candle) bool {
	return c.TS.After(other.TS)
}
