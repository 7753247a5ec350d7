package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"algotrade/internal/model"
)

// OrderRequest is a limit order to place on the exchange.
type OrderRequest struct {
	Instrument model.Instrument
	Side       model.Side
	Price      float64
	Qty        float64
	ClientID   string
}

// OrderAck is the exchange acknowledgement. Code 0 means accepted.
type OrderAck struct {
	OrderID string
	Code    int
	Message string
}

// OrderPlacer is the exchange order API.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	OrderStatus(ctx context.Context, orderID string) (model.OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// LiveConfig configures a LiveGateway.
type LiveConfig struct {
	Instrument     model.Instrument
	InitialBalance float64
	Allocation     float64
	QtyPlaces      int32         // order quantities are truncated to this many decimals
	PollInterval   time.Duration // default 1s
	PollTimeout    time.Duration // default 10s
	CancelTimeout  time.Duration // default 5s
}

// LiveGateway forwards orders to the exchange and updates its ledger only
// after the order is confirmed OPEN or FILLED.
type LiveGateway struct {
	*book
	cfg    LiveConfig
	placer OrderPlacer
	logger *slog.Logger
}

// NewLiveGateway creates a live gateway.
func NewLiveGateway(cfg LiveConfig, placer OrderPlacer, logger *slog.Logger) *LiveGateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveGateway{
		book:   newBook(cfg.InitialBalance, cfg.Allocation),
		cfg:    cfg,
		placer: placer,
		logger: logger.With("component", "live", "instrument", cfg.Instrument.String()),
	}
}

// BuySize returns balance*allocation/price truncated to the lot precision.
func (g *LiveGateway) BuySize(price float64) float64 { return g.lot(g.buySize(price)) }

// lot truncates qty toward zero to QtyPlaces decimals.
func (g *LiveGateway) lot(qty float64) float64 {
	f, _ := decimal.NewFromFloat(qty).Truncate(g.cfg.QtyPlaces).Float64()
	return f
}

// Buy places a buy order for BuySize(price). The ledger books the quantity
// that was sent, not the unrounded size.
func (g *LiveGateway) Buy(ctx context.Context, price float64, at time.Time) Result {
	res := Result{Side: model.SideBuy, Price: price, At: at}
	if reason := g.check(model.SideBuy, price); reason != "" {
		res.Status, res.Reason = StatusRejected, reason
		return res
	}
	res.Size = g.BuySize(price)
	if res.Size <= 0 {
		res.Status = StatusRejected
		res.Reason = fmt.Sprintf("quantity below lot precision of %d decimals", g.cfg.QtyPlaces)
		return res
	}
	g.execute(ctx, &res)
	if res.Accepted() {
		g.applyBuy(price, res.Size, at)
	}
	return res
}

// Sell places a sell order for the whole position.
func (g *LiveGateway) Sell(ctx context.Context, price float64, at time.Time, reason model.CloseReason) Result {
	res := Result{Side: model.SideSell, Price: price, At: at}
	if r := g.check(model.SideSell, price); r != "" {
		res.Status, res.Reason = StatusRejected, r
		return res
	}
	_, pos := g.snapshot()
	res.Size = g.lot(pos)
	g.execute(ctx, &res)
	if res.Accepted() {
		g.applySell(price, at, reason)
	}
	return res
}

// execute places the order and polls until it is confirmed, refused, or the
// poll window closes. An unconfirmed order is canceled and reported failed.
func (g *LiveGateway) execute(ctx context.Context, res *Result) {
	ack, err := g.placer.PlaceOrder(ctx, OrderRequest{
		Instrument: g.cfg.Instrument,
		Side:       res.Side,
		Price:      res.Price,
		Qty:        res.Size,
		ClientID:   fmt.Sprintf("%s-%d", res.Side, res.At.UnixMilli()),
	})
	if err != nil {
		res.Status, res.Reason = StatusFailed, "place order: "+err.Error()
		g.logger.Error("place order failed", "side", res.Side, "error", err)
		return
	}
	if ack.Code != 0 {
		res.Status = StatusRejected
		res.Reason = fmt.Sprintf("exchange code %d: %s", ack.Code, ack.Message)
		g.logger.Warn("order refused", "side", res.Side, "code", ack.Code, "message", ack.Message)
		return
	}
	res.OrderID = ack.OrderID

	state, err := g.awaitConfirmation(ctx, ack.OrderID)
	switch {
	case err != nil:
		res.Status, res.Reason = StatusFailed, err.Error()
		g.cancel(ctx, ack.OrderID)
	case state == model.OrderOpen || state == model.OrderFilled:
		res.Status = StatusAccepted
	default:
		res.Status, res.Reason = StatusRejected, "order "+string(state)
	}
	g.logger.Info("order settled",
		"order_id", ack.OrderID,
		"side", res.Side,
		"price", res.Price,
		"size", res.Size,
		"state", string(state),
		"status", string(res.Status),
	)
}

var errPollTimeout = errors.New("order not confirmed before poll timeout")

func (g *LiveGateway) awaitConfirmation(ctx context.Context, orderID string) (model.OrderState, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	state := model.OrderUnknown
	for {
		s, err := g.placer.OrderStatus(ctx, orderID)
		if err != nil {
			g.logger.Warn("order status", "order_id", orderID, "error", err)
		} else {
			state = s
			switch s {
			case model.OrderOpen, model.OrderFilled, model.OrderCanceled, model.OrderRejected:
				return s, nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return state, errPollTimeout
			}
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}

// cancel runs on a detached context so that a canceled caller still gets
// the stray order removed.
func (g *LiveGateway) cancel(ctx context.Context, orderID string) {
	cctx, done := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.CancelTimeout)
	defer done()
	if err := g.placer.CancelOrder(cctx, orderID); err != nil {
		g.logger.Error("cancel unconfirmed order", "order_id", orderID, "error", err)
	}
}

// Balance returns the quote balance.
func (g *LiveGateway) Balance() float64 {
	b, _ := g.snapshot()
	return b
}

// Position returns the base quantity held.
func (g *LiveGateway) Position() float64 {
	_, pos := g.snapshot()
	return pos
}

// Trades returns the closed round trips.
func (g *LiveGateway) Trades() []model.Trade { return g.tradeCopy() }
