package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"algotrade/internal/model"
)

func TestArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path, Instrument: "DOGE_USDT", BatchSize: 3, FlushDelay: time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ch := make(chan model.Candle, 10)
	for i := 0; i < 5; i++ {
		px := 100 + float64(i)
		ch <- model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10}
	}
	// a duplicate timestamp replaces the earlier row
	ch <- model.Candle{TS: t0.Add(4 * time.Minute), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
	close(ch)
	w.Run(context.Background(), ch)

	last, err := w.LastTimestamp(context.Background())
	if err != nil || !last.Equal(t0.Add(4*time.Minute)) {
		t.Fatalf("LastTimestamp = %v, %v", last, err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := r.Candles(context.Background(), "DOGE_USDT", "1m", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candles, want 3", len(got))
	}
	if !got[0].TS.Equal(t0.Add(2*time.Minute)) || got[0].Close != 102 {
		t.Errorf("first = %+v", got[0])
	}
	if got[2].Close != 1 {
		t.Errorf("last = %+v, want the replacement row", got[2])
	}

	other, _ := r.Candles(context.Background(), "BTC_USDT", "1m", 3)
	if len(other) != 0 {
		t.Errorf("other instrument returned %d rows", len(other))
	}

	since, err := r.Since(context.Background(), "DOGE_USDT", t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 4 || !since[0].TS.Equal(t0.Add(time.Minute)) || since[3].Close != 1 {
		t.Errorf("Since = %+v", since)
	}
}
