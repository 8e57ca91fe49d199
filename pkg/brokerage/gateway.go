// Package brokerage abstracts the order execution venue. The core never
// imports a concrete HTTP client; it talks to Gateway.
package brokerage

import "context"

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status reported by the venue for an order.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
)

// OrderRequest is a notional market order. IdempotencyKey is forwarded as the
// client order id so a retried submission after a timeout cannot create a
// duplicate order at the venue.
type OrderRequest struct {
	IdempotencyKey string
	Symbol         string
	Side           Side
	Notional       float64
}

// OrderResult describes the venue's view of an order.
type OrderResult struct {
	OrderID        string
	Status         Status
	FilledQty      float64
	FilledAvgPrice float64
}

// Account is the subset of account state the core needs: enough to validate
// credentials and sanity-check buying power.
type Account struct {
	ID          string
	BuyingPower float64
	Paper       bool
}

// Gateway abstracts a brokerage venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrder(ctx context.Context, orderID string) (OrderResult, error)
	GetAccount(ctx context.Context) (Account, error)
}
