package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/strategy"
)

type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			io.WriteString(w, `{"name":"influxdb","message":"ready","status":"pass","checks":[],"version":"2.7.0","commit":"x"}`)
		case "/api/v2/write":
			if r.URL.Query().Get("bucket") != "trading" || r.URL.Query().Get("org") != "algo" {
				t.Errorf("write query = %s", r.URL.RawQuery)
			}
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestRecorder_WritesLineProtocol(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx := context.Background()
	rec, err := New(ctx, Config{URL: srv.URL, Token: "tok", Org: "algo", Bucket: "trading", Instrument: "DOGE_USDT", Interval: "1m"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	ts := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	snap := &indicator.Snapshot{TS: ts, Close: 0.1, Volume: 5, RSI: model.Some(55)}
	if err := rec.PublishSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}
	sig := strategy.Signal{Direction: strategy.Buy, Strength: 35, Confidence: 60, Price: 0.1, TS: ts, Rules: "v2", StopLoss: model.Some(0.09)}
	if err := rec.PublishSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	trade := model.Trade{EntryPrice: 100, ExitPrice: 97.9, Size: 10, PnL: -21, EntryTime: ts, ExitTime: ts.Add(time.Minute), Reason: model.CloseStopLoss}
	if err := rec.PublishTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.lines) != 3 {
		t.Fatalf("lines = %q", fake.lines)
	}
	checks := []struct {
		prefix string
		parts  []string
	}{
		{"indicators,instrument=DOGE_USDT ", []string{"rsi=55", "close=0.1"}},
		{"signals,", []string{"direction=BUY", "rules=v2", "strength=35", "stop_loss=0.09"}},
		{"trades,", []string{"reason=stop_loss", "pnl=-21", "held_s=60"}},
	}
	for i, c := range checks {
		line := fake.lines[i]
		if !strings.HasPrefix(line, c.prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, line, c.prefix)
		}
		for _, p := range c.parts {
			if !strings.Contains(line, p) {
				t.Errorf("line %d = %q, missing %q", i, line, p)
			}
		}
	}
	if strings.Contains(fake.lines[0], "macd") {
		t.Errorf("undefined fields written: %q", fake.lines[0])
	}
}
