package model

import "strings"

// Instrument is the traded symbol in exchange notation, e.g. "DOGE_USDT".
type Instrument string

// ParseInstrument normalizes user input ("doge-usdt", "DOGE/USDT") to "DOGE_USDT".
func ParseInstrument(s string) Instrument {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", "/", "_").Replace(s)
	return Instrument(s)
}

func (i Instrument) String() string { return string(i) }

// TickerChannel returns the market-data subscription channel name.
func (i Instrument) TickerChannel() string {
	return "ticker." + string(i)
}

// Compact returns the symbol without separators ("DOGEUSDT"), as used by Binance.
func (i Instrument) Compact() string {
	return strings.ReplaceAll(string(i), "_", "")
}
