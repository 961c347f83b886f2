package domain

import "hft_go/pkg/quant"

// OrderIntent is what a strategy wants to trade. Only intents approved by the
// risk manager reach the gateway.
type OrderIntent struct {
	Symbol string
	Side   Side
	Price  quant.PriceMicros // limit price
	Qty    quant.QtySats
	Reason string
}

// Validate checks an intent against its instrument.
func (o OrderIntent) Validate(inst Instrument) error {
	if !o.Side.Valid() {
		return &ValidationError{Field: "side", Message: "must be BUY or SELL"}
	}
	if o.Price <= 0 {
		return &ValidationError{Field: "price", Message: "must be positive"}
	}
	if o.Qty <= 0 {
		return &ValidationError{Field: "qty", Message: "must be positive"}
	}
	if !inst.OnTick(o.Price) {
		return &ValidationError{Field: "price", Message: "not a multiple of tick size"}
	}
	if !inst.OnLot(o.Qty) {
		return &ValidationError{Field: "qty", Message: "not a multiple of lot size"}
	}
	return nil
}

// OrderStatus is the lifecycle state of an outbound order.
type OrderStatus int32

const (
	OrderStatusNew OrderStatus = iota
	OrderStatusSent
	OrderStatusAcked
	OrderStatusRejected
	OrderStatusFilled
	OrderStatusTimedOut
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusSent:
		return "SENT"
	case OrderStatusAcked:
		return "ACKED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusTimedOut:
		return "TIMED_OUT"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusFilled, OrderStatusTimedOut, OrderStatusCancelled:
		return true
	}
	return false
}

// IsOpen checks if the order is still live at the exchange.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusSent || s == OrderStatusAcked
}

// OrderEvent is one status transition, as written to the order journal.
type OrderEvent struct {
	CorrelationID string
	Symbol        string
	Side          Side
	Price         quant.PriceMicros
	Qty           quant.QtySats
	Status        OrderStatus
	Reason        string
	At            quant.TimeStamp
}

// Fill is an execution against one of our orders.
type Fill struct {
	CorrelationID string
	Symbol        string
	Side          Side
	Price         quant.PriceMicros
	Qty           quant.QtySats
}
