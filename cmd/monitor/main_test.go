package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	redisstore "algotrade/internal/store/redis"
	"algotrade/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func event(t *testing.T, kind redisstore.Kind, v any) redisstore.Event {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return redisstore.Event{Kind: kind, Payload: b}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		ev   redisstore.Event
		want []string
	}{
		{
			name: "signal",
			ev:   event(t, redisstore.KindSignal, strategy.Signal{Direction: strategy.Buy, Grade: strategy.GradeWeak, Price: 0.12, TS: t0}),
			want: []string{"10:00:00 SIGNAL BUY (weak)", "price=0.120000"},
		},
		{
			name: "trade",
			ev: event(t, redisstore.KindTrade, model.Trade{
				PositionID: "p1", EntryPrice: 100, ExitPrice: 98, Size: 2, PnL: -4, ReturnPct: -2,
				ExitTime: t0, Reason: model.CloseStopLoss,
			}),
			want: []string{"TRADE p1 stop_loss", "pnl=-4.0000", "(-2.00%)"},
		},
		{
			name: "snapshot with undefined fields",
			ev:   event(t, redisstore.KindSnapshot, indicator.Snapshot{TS: t0, Close: 1.5, RSI: model.Some(55)}),
			want: []string{"SNAPSHOT close=1.5", "rsi=55.0000", "sma_s=-"},
		},
		{
			name: "candle",
			ev:   event(t, redisstore.KindCandle, model.Candle{TS: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}),
			want: []string{"CANDLE o=1 h=2 l=0.5 c=1.5 v=10"},
		},
		{
			name: "undecodable payload",
			ev:   redisstore.Event{Kind: redisstore.KindTrade, Payload: json.RawMessage(`"oops"`)},
			want: []string{`TRADE "oops"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("describe() = %q, missing %q", got, w)
				}
			}
		})
	}
}
