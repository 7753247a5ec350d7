package model

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderState is the exchange-reported fill state of an order.
type OrderState string

const (
	OrderOpen     OrderState = "OPEN"
	OrderFilled   OrderState = "FILLED"
	OrderCanceled OrderState = "CANCELED"
	OrderRejected OrderState = "REJECTED"
	OrderUnknown  OrderState = "UNKNOWN"
)

// Terminal reports whether no further state change is expected.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

// Order is a request sent to the exchange plus the state it was last seen in.
type Order struct {
	ClientID   string     `json:"client_id"`
	OrderID    string     `json:"order_id"`
	Instrument Instrument `json:"instrument"`
	Side       Side       `json:"side"`
	Price      float64    `json:"price"`
	Qty        float64    `json:"qty"`
	State      OrderState `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
