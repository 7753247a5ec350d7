package redis

import "algotrade/internal/model"

// Kind is a category of published record.
type Kind string

const (
	KindCandle   Kind = "candle"
	KindSnapshot Kind = "ind"
	KindSignal   Kind = "signal"
	KindTrade    Kind = "trade"
)

// Keys names the Redis keys for one instrument:
//
//	<kind>:latest:<instrument>   SET, latest record (not for trades)
//	<kind>:<instrument>          XADD stream, field "data"
//	pub:<kind>:<instrument>      PUBLISH channel
type Keys struct {
	Instrument model.Instrument
}

func (k Keys) Latest(kind Kind) string  { return string(kind) + ":latest:" + k.Instrument.String() }
func (k Keys) Stream(kind Kind) string  { return string(kind) + ":" + k.Instrument.String() }
func (k Keys) Channel(kind Kind) string { return "pub:" + string(kind) + ":" + k.Instrument.String() }

// streamMaxLen bounds each stream (approximate trimming).
func streamMaxLen(kind Kind) int64 {
	switch kind {
	case KindCandle, KindSnapshot:
		return 12000
	case KindSignal:
		return 5000
	}
	return 50000 // trades
}
