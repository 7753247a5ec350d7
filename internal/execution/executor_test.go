package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"algotrade/internal/model"
)

type fakePlacer struct {
	mu       sync.Mutex
	ack      OrderAck
	placeErr error
	states   []model.OrderState // returned in order, last one repeats
	polls    int
	canceled []string
	placed   []OrderRequest
}

func (f *fakePlacer) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return f.ack, f.placeErr
}

func (f *fakePlacer) OrderStatus(_ context.Context, _ string) (model.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.polls++
	return f.states[i], nil
}

func (f *fakePlacer) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return nil
}

func newGateway(p OrderPlacer, timeout time.Duration) *LiveGateway {
	return NewLiveGateway(LiveConfig{
		Instrument:     "DOGE_USDT",
		InitialBalance: 1000,
		PollInterval:   5 * time.Millisecond,
		PollTimeout:    timeout,
	}, p, discard())
}

func TestLiveGateway_AcceptedAfterFill(t *testing.T) {
	p := &fakePlacer{
		ack:    OrderAck{OrderID: "42"},
		states: []model.OrderState{model.OrderUnknown, model.OrderUnknown, model.OrderFilled},
	}
	g := newGateway(p, time.Second)

	res := g.Buy(context.Background(), 0.1, t0)
	if !res.Accepted() || res.OrderID != "42" {
		t.Fatalf("buy = %+v", res)
	}
	if !near(g.Position(), 9500) || !near(g.Balance(), 50) {
		t.Fatalf("ledger: position=%v balance=%v", g.Position(), g.Balance())
	}
	if p.placed[0].Side != model.SideBuy || p.placed[0].Instrument != "DOGE_USDT" {
		t.Fatalf("placed = %+v", p.placed[0])
	}

	p.polls = 0
	p.states = []model.OrderState{model.OrderOpen}
	if res := g.Sell(context.Background(), 0.11, t0, model.CloseTakeProfit); !res.Accepted() {
		t.Fatalf("sell = %+v", res)
	}
	if len(g.Trades()) != 1 || g.Position() != 0 {
		t.Fatalf("trades = %+v", g.Trades())
	}
}

func TestLiveGateway_ExchangeRefusal(t *testing.T) {
	p := &fakePlacer{ack: OrderAck{Code: 306, Message: "INSUFFICIENT_AVAILABLE_BALANCE"}}
	g := newGateway(p, time.Second)

	res := g.Buy(context.Background(), 0.1, t0)
	if res.Status != StatusRejected {
		t.Fatalf("buy = %+v", res)
	}
	if g.Position() != 0 || g.Balance() != 1000 {
		t.Fatal("ledger changed on refusal")
	}
}

func TestLiveGateway_CanceledIsRejected(t *testing.T) {
	p := &fakePlacer{ack: OrderAck{OrderID: "7"}, states: []model.OrderState{model.OrderCanceled}}
	g := newGateway(p, time.Second)

	if res := g.Buy(context.Background(), 0.1, t0); res.Status != StatusRejected {
		t.Fatalf("buy = %+v", res)
	}
	if g.Position() != 0 {
		t.Fatal("ledger changed on canceled order")
	}
}

func TestLiveGateway_PollTimeoutFailsAndCancels(t *testing.T) {
	p := &fakePlacer{ack: OrderAck{OrderID: "9"}, states: []model.OrderState{model.OrderUnknown}}
	g := newGateway(p, 50*time.Millisecond)

	res := g.Buy(context.Background(), 0.1, t0)
	if res.Status != StatusFailed {
		t.Fatalf("buy = %+v", res)
	}
	if len(p.canceled) != 1 || p.canceled[0] != "9" {
		t.Fatalf("canceled = %v", p.canceled)
	}
	if g.Position() != 0 || g.Balance() != 1000 {
		t.Fatal("ledger changed on failed order")
	}
}

func TestLiveGateway_ContextCancelUnblocks(t *testing.T) {
	p := &fakePlacer{ack: OrderAck{OrderID: "1"}, states: []model.OrderState{model.OrderUnknown}}
	g := newGateway(p, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res := g.Buy(ctx, 0.1, t0)
	if res.Status != StatusFailed {
		t.Fatalf("buy = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Buy blocked for %v after cancel", elapsed)
	}
	if len(p.canceled) != 1 {
		t.Fatalf("canceled = %v", p.canceled)
	}
}

func TestLiveGateway_PlaceError(t *testing.T) {
	p := &fakePlacer{placeErr: errors.New("connection reset")}
	g := newGateway(p, time.Second)
	if res := g.Buy(context.Background(), 0.1, t0); res.Status != StatusFailed {
		t.Fatalf("buy = %+v", res)
	}
}

func TestLiveGateway_BooksTheQuantitySent(t *testing.T) {
	p := &fakePlacer{ack: OrderAck{OrderID: "1"}, states: []model.OrderState{model.OrderFilled}}
	g := NewLiveGateway(LiveConfig{
		Instrument:     "DOGE_USDT",
		InitialBalance: 1000,
		QtyPlaces:      1,
		PollInterval:   5 * time.Millisecond,
	}, p, discard())

	// 950 / 0.3 = 3166.666..., truncated to one decimal
	if got := g.BuySize(0.3); !near(got, 3166.6) {
		t.Fatalf("BuySize = %v, want 3166.6", got)
	}
	res := g.Buy(context.Background(), 0.3, t0)
	if !res.Accepted() {
		t.Fatalf("buy = %+v", res)
	}
	if !near(p.placed[0].Qty, 3166.6) || !near(res.Size, p.placed[0].Qty) {
		t.Fatalf("placed qty = %v, result size = %v", p.placed[0].Qty, res.Size)
	}
	if g.Position() != p.placed[0].Qty {
		t.Fatalf("ledger position %v differs from the order quantity %v", g.Position(), p.placed[0].Qty)
	}
	if !near(g.Balance(), 1000-0.3*3166.6) {
		t.Fatalf("balance = %v", g.Balance())
	}

	if res := g.Sell(context.Background(), 0.31, t0, model.CloseSignal); !res.Accepted() || res.Size != p.placed[0].Qty {
		t.Fatalf("sell = %+v", res)
	}
	if !near(p.placed[1].Qty, 3166.6) {
		t.Fatalf("sell qty = %v", p.placed[1].Qty)
	}
}

func TestLiveGateway_SubLotBuyRejected(t *testing.T) {
	p := &fakePlacer{ack: OrderAck{OrderID: "1"}, states: []model.OrderState{model.OrderFilled}}
	g := NewLiveGateway(LiveConfig{Instrument: "BTC_USDT", InitialBalance: 1000, QtyPlaces: 1}, p, discard())

	// 950 / 100000 = 0.0095 rounds to 0 at one decimal
	res := g.Buy(context.Background(), 100000, t0)
	if res.Status != StatusRejected || len(p.placed) != 0 {
		t.Fatalf("buy = %+v, placed = %+v", res, p.placed)
	}
	if g.Position() != 0 || g.Balance() != 1000 {
		t.Fatal("ledger changed on a sub-lot order")
	}
}
