// Package paper simulates a brokerage in-process. Orders fill immediately at
// a synthetic price; submissions with a known idempotency key return the
// original result instead of a new order.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"copytrading-core/pkg/brokerage"
)

// Gateway is an in-memory brokerage.Gateway used when the deployment runs
// without live credentials.
type Gateway struct {
	mu        sync.Mutex
	byKey     map[string]brokerage.OrderResult // idempotency key -> result
	byID      map[string]brokerage.OrderResult
	FillPrice func(symbol string) float64 // optional price source; defaults to a flat quote
}

// New creates an empty simulated venue.
func New() *Gateway {
	return &Gateway{
		byKey: make(map[string]brokerage.OrderResult),
		byID:  make(map[string]brokerage.OrderResult),
	}
}

// SubmitOrder fills the order immediately. Duplicate idempotency keys return
// the original result, mirroring venue-side dedup.
func (g *Gateway) SubmitOrder(ctx context.Context, req brokerage.OrderRequest) (brokerage.OrderResult, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return brokerage.OrderResult{}, &brokerage.PermanentError{Code: 422, Reason: "symbol is required"}
	}
	if req.Notional <= 0 {
		return brokerage.OrderResult{}, &brokerage.PermanentError{Code: 422, Reason: fmt.Sprintf("invalid notional %f", req.Notional)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return prev, nil
	}

	price := 100.0
	if g.FillPrice != nil {
		price = g.FillPrice(req.Symbol)
	}
	res := brokerage.OrderResult{
		OrderID:        uuid.NewString(),
		Status:         brokerage.StatusFilled,
		FilledQty:      req.Notional / price,
		FilledAvgPrice: price,
	}
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = res
	}
	g.byID[res.OrderID] = res
	return res, nil
}

// GetOrder returns the stored simulated order.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (brokerage.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.byID[orderID]
	if !ok {
		return brokerage.OrderResult{}, &brokerage.PermanentError{Code: 404, Reason: "order not found"}
	}
	return res, nil
}

// GetAccount reports a paper account with ample buying power.
func (g *Gateway) GetAccount(ctx context.Context) (brokerage.Account, error) {
	return brokerage.Account{ID: "paper", BuyingPower: 100000, Paper: true}, nil
}
