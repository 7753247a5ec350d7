package execution

import (
	"context"
	"errors"
	"strings"

	"algotrade/internal/model"
	"algotrade/pkg/cryptocom"
)

// CryptoComPlacer adapts the exchange REST client to OrderPlacer.
type CryptoComPlacer struct {
	Client      *cryptocom.Client
	Instrument  model.Instrument
	PricePlaces int32  // default 6
	QtyPlaces   int32  // default 1
	ExecInst    string // e.g. POST_ONLY
}

func (p *CryptoComPlacer) places() (int32, int32) {
	pp, qp := p.PricePlaces, p.QtyPlaces
	if pp <= 0 {
		pp = 6
	}
	if qp <= 0 {
		qp = 1
	}
	return pp, qp
}

// PlaceOrder sends a LIMIT order. Exchange refusals come back as a non-zero
// ack code rather than an error.
func (p *CryptoComPlacer) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	pp, qp := p.places()
	res, err := p.Client.CreateOrder(ctx, cryptocom.CreateOrderRequest{
		Instrument: req.Instrument.String(),
		Side:       string(req.Side),
		Type:       "LIMIT",
		Price:      cryptocom.FormatDecimal(req.Price, pp),
		Quantity:   cryptocom.FormatDecimal(req.Qty, qp),
		ExecInst:   p.ExecInst,
		ClientOID:  req.ClientID,
	})
	var apiErr *cryptocom.APIError
	if errors.As(err, &apiErr) {
		return OrderAck{Code: apiErr.Code, Message: apiErr.Message}, nil
	}
	if err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: res.OrderID}, nil
}

// OrderStatus maps the exchange status onto model.OrderState.
func (p *CryptoComPlacer) OrderStatus(ctx context.Context, orderID string) (model.OrderState, error) {
	info, err := p.Client.OrderDetail(ctx, p.Instrument.String(), orderID)
	if err != nil {
		return model.OrderUnknown, err
	}
	return MapOrderStatus(info.Status), nil
}

// CancelOrder cancels orderID.
func (p *CryptoComPlacer) CancelOrder(ctx context.Context, orderID string) error {
	return p.Client.CancelOrder(ctx, p.Instrument.String(), orderID)
}

// MapOrderStatus converts an exchange status string.
func MapOrderStatus(s string) model.OrderState {
	switch strings.ToUpper(s) {
	case "ACTIVE", "NEW", "PENDING":
		return model.OrderOpen
	case "FILLED":
		return model.OrderFilled
	case "CANCELED", "CANCELLED", "EXPIRED":
		return model.OrderCanceled
	case "REJECTED":
		return model.OrderRejected
	}
	return model.OrderUnknown
}
