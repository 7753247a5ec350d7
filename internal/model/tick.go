package model

import "time"

// Ticker is a normalized ticker update from the exchange market-data stream.
// Volume24h is the exchange's rolling 24h cumulative volume, not per-tick size.
type Ticker struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"` // last traded price
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	High24h    float64   `json:"high_24h"`
	Low24h     float64   `json:"low_24h"`
	Volume24h  float64   `json:"volume_24h"`
	TS         time.Time `json:"ts"` // exchange timestamp (UTC)
}
