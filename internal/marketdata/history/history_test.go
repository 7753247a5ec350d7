package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/pkg/cryptocom"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type staticSource struct {
	candles []model.Candle
	err     error
}

func (s staticSource) Candles(context.Context, model.Instrument, string, int) ([]model.Candle, error) {
	return s.candles, s.err
}

func TestSeed_SortsAndSkipsDuplicates(t *testing.T) {
	var cs []model.Candle
	for i := 30; i >= 1; i-- { // newest first, as some endpoints return
		cs = append(cs, model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: float64(i), High: float64(i), Low: float64(i), Close: float64(i), Volume: 1})
	}
	cs = append(cs, cs[0]) // duplicate

	eng := indicator.NewEngine(indicator.DefaultConfig())
	n, err := Seed(context.Background(), staticSource{candles: cs}, eng, "DOGE_USDT", "1m", 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 30 {
		t.Errorf("expected 30 accepted, got %d", n)
	}
	snap := eng.Latest()
	if snap == nil || snap.Close != 30 || snap.Count != 30 {
		t.Fatalf("unexpected latest snapshot %+v", snap)
	}
	if v, ok := snap.SMAShort.Get(); !ok || v != 20.5 {
		t.Errorf("expected SMA20 = 20.5, got %v", snap.SMAShort)
	}
}

func TestSeed_SkipsFormingCandle(t *testing.T) {
	var cs []model.Candle
	for i := 1; i <= 5; i++ {
		p := float64(i)
		cs = append(cs, model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 1})
	}
	// 10:05:30 is inside the 10:05 bucket, so the last candle is still forming
	now := t0.Add(5*time.Minute + 30*time.Second)

	eng := indicator.NewEngine(indicator.DefaultConfig())
	n, err := Seed(context.Background(), staticSource{candles: cs}, eng, "DOGE_USDT", "1m", 5, SkipForming(time.Minute, now))
	if err != nil || n != 4 {
		t.Fatalf("Seed = %d, %v; want 4 accepted", n, err)
	}
	if snap := eng.Latest(); snap.Close != 4 {
		t.Fatalf("latest close = %v, want 4", snap.Close)
	}

	// the live candle for the forming bucket is then accepted
	live := model.Candle{TS: t0.Add(5 * time.Minute), Open: 5, High: 6, Low: 5, Close: 6, Volume: 3}
	if _, ok := eng.Update(live); !ok {
		t.Fatal("live candle for the forming bucket was rejected")
	}

	// once the bucket has closed every candle is kept
	eng = indicator.NewEngine(indicator.DefaultConfig())
	if n, _ := Seed(context.Background(), staticSource{candles: cs}, eng, "DOGE_USDT", "1m", 5, SkipForming(time.Minute, t0.Add(6*time.Minute))); n != 5 {
		t.Fatalf("closed buckets: accepted %d, want 5", n)
	}
}

func TestSeed_PropagatesError(t *testing.T) {
	eng := indicator.NewEngine(indicator.DefaultConfig())
	boom := errors.New("boom")
	if _, err := Seed(context.Background(), staticSource{err: boom}, eng, "DOGE_USDT", "1m", 10); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCryptoComSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rows []string
		for i := 2; i >= 0; i-- {
			ms := t0.Add(time.Duration(i) * time.Minute).UnixMilli()
			rows = append(rows, fmt.Sprintf(`{"t":%d,"o":"1","h":"2","l":"0.5","c":"%d","v":"10"}`, ms, i+1))
		}
		io.WriteString(w, `{"code":0,"result":{"data":[`+strings.Join(rows, ",")+`]}}`)
	}))
	defer srv.Close()

	src := NewCryptoComSource(cryptocom.New(cryptocom.Config{BaseURL: srv.URL}))
	cs, err := src.Candles(context.Background(), "DOGE_USDT", "1m", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 2 {
		t.Fatalf("expected the 2 newest candles, got %d", len(cs))
	}
	if cs[0].Close != 2 || cs[1].Close != 3 || !cs[1].TS.After(cs[0].TS) {
		t.Errorf("unexpected candles %+v", cs)
	}
}

func TestBinanceSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "DOGEUSDT" {
			t.Errorf("expected symbol DOGEUSDT, got %s", got)
		}
		ms := t0.UnixMilli()
		fmt.Fprintf(w, `[[%d,"0.0810","0.0830","0.0800","0.0825","12345.5",%d,"1000.0",42,"600.0","50.0","0"],`+
			`[%d,"0.0825","0.0840","0.0820","0.0835","999",%d,"80.0",7,"40.0","3.0","0"]]`,
			ms, ms+59999, ms+60000, ms+119999)
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL)
	cs, err := src.Candles(context.Background(), "DOGE_USDT", "1m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(cs))
	}
	if cs[0].Close != 0.0825 || cs[0].Volume != 12345.5 || !cs[0].TS.Equal(t0) {
		t.Errorf("unexpected first candle %+v", cs[0])
	}
	if cs[1].High != 0.084 {
		t.Errorf("unexpected second candle %+v", cs[1])
	}
}
