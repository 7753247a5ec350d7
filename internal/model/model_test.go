package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestFloat_JSON(t *testing.T) {
	type row struct {
		A Float `json:"a"`
		B Float `json:"b"`
	}
	b, err := json.Marshal(row{A: Some(1.5)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":1.5,"b":null}` {
		t.Fatalf("unexpected encoding: %s", b)
	}

	var back row
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if v, ok := back.A.Get(); !ok || v != 1.5 {
		t.Errorf("expected A=1.5 defined, got %v", back.A)
	}
	if back.B.Valid {
		t.Error("expected B undefined after null")
	}
}

func TestFloat_Or(t *testing.T) {
	if None().Or(7) != 7 {
		t.Error("undefined should fall back")
	}
	if Some(0).Or(7) != 0 {
		t.Error("defined zero must not fall back")
	}
}

func TestNewTrade(t *testing.T) {
	entry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := Position{ID: "p1", EntryPrice: 100, Size: 10, EntryTime: entry}
	tr := NewTrade(p, 97.9, entry.Add(time.Minute), CloseStopLoss)

	if math.Abs(tr.PnL-(-21.0)) > 1e-9 {
		t.Errorf("expected pnl -21, got %f", tr.PnL)
	}
	if math.Abs(tr.ReturnPct-(-2.1)) > 1e-9 {
		t.Errorf("expected return -2.1%%, got %f", tr.ReturnPct)
	}
	if tr.Reason != CloseStopLoss {
		t.Errorf("expected stop_loss, got %s", tr.Reason)
	}
}

func TestParseInstrument(t *testing.T) {
	cases := []struct{ in, want string }{
		{"doge-usdt", "DOGE_USDT"},
		{" BTC/USD ", "BTC_USD"},
		{"ETH_USDT", "ETH_USDT"},
	}
	for _, tc := range cases {
		if got := ParseInstrument(tc.in); string(got) != tc.want {
			t.Errorf("ParseInstrument(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := ParseInstrument("doge_usdt").Compact(); got != "DOGEUSDT" {
		t.Errorf("Compact = %q", got)
	}
	if got := Instrument("DOGE_USDT").TickerChannel(); got != "ticker.DOGE_USDT" {
		t.Errorf("TickerChannel = %q", got)
	}
}
