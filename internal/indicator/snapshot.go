package indicator

import (
	"encoding/json"
	"time"

	"algotrade/internal/model"
)

// Snapshot is the read-only set of indicator values computed for one candle.
// A published Snapshot is never mutated; the engine builds a new one per candle.
type Snapshot struct {
	TS     time.Time `json:"ts"`
	Close  float64   `json:"close"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Volume float64   `json:"volume"`
	Count  int       `json:"count"` // candles accepted so far

	SMAShort model.Float `json:"sma_short"`
	SMALong  model.Float `json:"sma_long"`
	MA50     model.Float `json:"ma_50"`
	MA200    model.Float `json:"ma_200"`
	EMA12    model.Float `json:"ema_12"`
	EMA26    model.Float `json:"ema_26"`

	MACD       model.Float `json:"macd"`
	MACDSignal model.Float `json:"macd_signal"`
	MACDHist   model.Float `json:"macd_hist"`

	RSI model.Float `json:"rsi"`

	BBUpper  model.Float `json:"bb_upper"`
	BBMiddle model.Float `json:"bb_middle"`
	BBLower  model.Float `json:"bb_lower"`
	BBWidth  model.Float `json:"bb_width"`

	ATR           model.Float `json:"atr"`
	OBV           model.Float `json:"obv"`
	TrendStrength model.Float `json:"trend_strength"`
	Volatility    model.Float `json:"volatility"`

	// VolatilityBase is the moving average of Volatility, the filter baseline.
	VolatilityBase model.Float `json:"volatility_base"`

	StochK      model.Float `json:"stoch_k"`
	StochD      model.Float `json:"stoch_d"`
	VolumeMA    model.Float `json:"volume_ma"`
	VolumeRatio model.Float `json:"volume_ratio"`
}

// Warm reports whether the moving averages the signal rules depend on are defined.
func (s *Snapshot) Warm() bool {
	return s != nil && s.SMAShort.Valid && s.SMALong.Valid
}

// JSON returns the JSON-encoded snapshot (ignoring errors for hot-path usage).
func (s *Snapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Fields returns the defined numeric fields keyed by JSON name. Used by
// time-series sinks that cannot store nulls.
func (s *Snapshot) Fields() map[string]interface{} {
	out := map[string]interface{}{
		"close":  s.Close,
		"volume": s.Volume,
	}
	add := func(name string, f model.Float) {
		if v, ok := f.Get(); ok {
			out[name] = v
		}
	}
	add("sma_short", s.SMAShort)
	add("sma_long", s.SMALong)
	add("ma_50", s.MA50)
	add("ma_200", s.MA200)
	add("ema_12", s.EMA12)
	add("ema_26", s.EMA26)
	add("macd", s.MACD)
	add("macd_signal", s.MACDSignal)
	add("macd_hist", s.MACDHist)
	add("rsi", s.RSI)
	add("bb_upper", s.BBUpper)
	add("bb_middle", s.BBMiddle)
	add("bb_lower", s.BBLower)
	add("bb_width", s.BBWidth)
	add("atr", s.ATR)
	add("obv", s.OBV)
	add("trend_strength", s.TrendStrength)
	add("volatility", s.Volatility)
	add("volatility_base", s.VolatilityBase)
	add("stoch_k", s.StochK)
	add("stoch_d", s.StochD)
	add("volume_ma", s.VolumeMA)
	add("volume_ratio", s.VolumeRatio)
	return out
}
