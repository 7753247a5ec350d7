package main

import (
	"testing"
	"time"
)

func TestTimeframes(t *testing.T) {
	tests := []struct {
		in        time.Duration
		cryptoCom string
		binance   string
	}{
		{0, "1m", "1m"},
		{30 * time.Second, "1m", "1m"},
		{time.Minute, "1m", "1m"},
		{5 * time.Minute, "5m", "5m"},
		{time.Hour, "1h", "1h"},
		{4 * time.Hour, "4h", "4h"},
		{24 * time.Hour, "1D", "1d"},
	}
	for _, tt := range tests {
		if got := cryptoComTimeframe(tt.in); got != tt.cryptoCom {
			t.Errorf("cryptoComTimeframe(%s) = %q, want %q", tt.in, got, tt.cryptoCom)
		}
		if got := binanceTimeframe(tt.in); got != tt.binance {
			t.Errorf("binanceTimeframe(%s) = %q, want %q", tt.in, got, tt.binance)
		}
	}
}
