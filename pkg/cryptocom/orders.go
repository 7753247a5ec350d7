package cryptocom

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateOrderRequest holds the private/create-order parameters. Price and
// Quantity are decimal strings; see FormatDecimal.
type CreateOrderRequest struct {
	Instrument  string
	Side        string // BUY | SELL
	Type        string // LIMIT | MARKET
	Price       string
	Quantity    string
	TimeInForce string // default GOOD_TILL_CANCEL for LIMIT
	ExecInst    string // e.g. POST_ONLY
	ClientOID   string
}

func (r CreateOrderRequest) params() map[string]any {
	p := map[string]any{
		"instrument_name": r.Instrument,
		"side":            strings.ToUpper(r.Side),
		"type":            strings.ToUpper(r.Type),
		"quantity":        r.Quantity,
	}
	if r.Type == "" {
		p["type"] = "LIMIT"
	}
	if r.Price != "" {
		p["price"] = r.Price
	}
	if p["type"] == "LIMIT" {
		tif := r.TimeInForce
		if tif == "" {
			tif = "GOOD_TILL_CANCEL"
		}
		p["time_in_force"] = tif
	}
	if r.ExecInst != "" {
		p["exec_inst"] = r.ExecInst
	}
	if r.ClientOID != "" {
		p["client_oid"] = r.ClientOID
	}
	return p
}

// CreateOrderResult is the acknowledgement of private/create-order.
type CreateOrderResult struct {
	OrderID   string `json:"order_id"`
	ClientOID string `json:"client_oid"`
}

// CreateOrder places an order. A non-zero exchange code is returned as *APIError.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	var res CreateOrderResult
	err := c.private(ctx, "private/create-order", req.params(), &res)
	return res, err
}

// OrderInfo is the subset of order detail fields the engine reads.
type OrderInfo struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Side           string `json:"side"`
	Price          Number `json:"price"`
	Quantity       Number `json:"quantity"`
	CumulativeQty  Number `json:"cumulative_quantity"`
	AvgPrice       Number `json:"avg_price"`
	InstrumentName string `json:"instrument_name"`
}

type orderDetailResult struct {
	Nested *OrderInfo `json:"order_info"`
	OrderInfo
}

// OrderDetail returns the current state of an order.
func (c *Client) OrderDetail(ctx context.Context, instrument, orderID string) (OrderInfo, error) {
	var res orderDetailResult
	err := c.private(ctx, "private/get-order-detail", map[string]any{
		"instrument_name": instrument,
		"order_id":        orderID,
	}, &res)
	if err != nil {
		return OrderInfo{}, err
	}
	// v2 nests the fields under order_info; older responses are flat.
	if res.Nested != nil {
		return *res.Nested, nil
	}
	return res.OrderInfo, nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, instrument, orderID string) error {
	return c.private(ctx, "private/cancel-order", map[string]any{
		"instrument_name": instrument,
		"order_id":        orderID,
	}, nil)
}

// FormatDecimal renders v with at most places decimals, truncating toward
// zero so a quantity never exceeds what the balance allows.
func FormatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).Truncate(places).String()
}
