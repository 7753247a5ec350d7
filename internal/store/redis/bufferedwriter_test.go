package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"algotrade/internal/model"
)

type fakeSink struct {
	mu     sync.Mutex
	down   bool
	writes []pendingWrite
}

func (f *fakeSink) write(_ context.Context, kind Kind, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.writes = append(f.writes, pendingWrite{kind: kind, data: data})
	return nil
}

func (f *fakeSink) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakeSink) snapshot() []pendingWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pendingWrite(nil), f.writes...)
}

func TestBufferedWriter_BuffersWhileOpenAndFlushesInOrder(t *testing.T) {
	ctx := context.Background()
	s := &fakeSink{down: true}
	cb, clk := newTestBreaker(2, time.Second)
	bw := newBufferedWriter(ctx, s, nil, cb, 100, slog.New(slog.NewTextHandler(io.Discard, nil)))

	trade := model.Trade{PositionID: "p1", PnL: -21, Reason: model.CloseStopLoss}
	// two genuine failures trip the breaker; both are kept for replay
	if err := bw.PublishTrade(ctx, trade); err == nil {
		t.Fatal("expected write error while redis is down")
	}
	bw.PublishTrade(ctx, trade)
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v", cb.CurrentState())
	}
	// rejected by the open breaker: buffered, no error
	if err := bw.put(ctx, KindSignal, `{"direction":"BUY"}`); err != nil {
		t.Fatalf("open-circuit write returned %v", err)
	}
	if bw.PendingCount() != 3 {
		t.Fatalf("pending = %d, want 3", bw.PendingCount())
	}

	s.setDown(false)
	clk.advance(2 * time.Second)
	if err := bw.put(ctx, KindCandle, `{"close":1}`); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bw.PendingCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	var writes []pendingWrite
	for time.Now().Before(deadline) {
		if writes = s.snapshot(); len(writes) == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(writes) != 4 {
		t.Fatalf("writes = %d, want 4", len(writes))
	}
	// the probe goes first, then the buffer in arrival order
	want := []Kind{KindCandle, KindTrade, KindTrade, KindSignal}
	for i, k := range want {
		if writes[i].kind != k {
			t.Errorf("write %d kind = %s, want %s", i, writes[i].kind, k)
		}
	}
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	s := &fakeSink{}
	cb, _ := newTestBreaker(1, time.Hour)
	bw := newBufferedWriter(context.Background(), s, nil, cb, 2, nil)

	var buffered int
	bw.OnBuffer = func() { buffered++ }
	bw.bufferWrite(KindSignal, "a")
	bw.bufferWrite(KindSignal, "b")
	bw.bufferWrite(KindSignal, "c")

	if bw.PendingCount() != 2 || buffered != 3 {
		t.Fatalf("pending = %d buffered = %d", bw.PendingCount(), buffered)
	}
	if bw.buffer[0].data != "b" {
		t.Fatalf("oldest kept = %q, want b", bw.buffer[0].data)
	}
}

func TestKeys(t *testing.T) {
	k := Keys{Instrument: "DOGE_USDT"}
	if got := k.Latest(KindSnapshot); got != "ind:latest:DOGE_USDT" {
		t.Errorf("Latest = %q", got)
	}
	if got := k.Stream(KindTrade); got != "trade:DOGE_USDT" {
		t.Errorf("Stream = %q", got)
	}
	if got := k.Channel(KindSignal); got != "pub:signal:DOGE_USDT" {
		t.Errorf("Channel = %q", got)
	}
}
