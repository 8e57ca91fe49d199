package paper

import (
	"context"
	"testing"

	"copytrading-core/pkg/brokerage"
)

func TestSubmitOrderFillsImmediately(t *testing.T) {
	g := New()
	ctx := context.Background()

	res, err := g.SubmitOrder(ctx, brokerage.OrderRequest{
		IdempotencyKey: "u1:e1",
		Symbol:         "NVDA",
		Side:           brokerage.SideBuy,
		Notional:       1000,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.Status != brokerage.StatusFilled {
		t.Fatalf("status = %s, want %s", res.Status, brokerage.StatusFilled)
	}
	if res.FilledAvgPrice != 100 || res.FilledQty != 10 {
		t.Fatalf("unexpected fill: qty=%v price=%v", res.FilledQty, res.FilledAvgPrice)
	}

	got, err := g.GetOrder(ctx, res.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.OrderID != res.OrderID {
		t.Fatalf("GetOrder returned %s, want %s", got.OrderID, res.OrderID)
	}
}

func TestSubmitOrderIdempotency(t *testing.T) {
	g := New()
	ctx := context.Background()

	req := brokerage.OrderRequest{
		IdempotencyKey: "u1:e1",
		Symbol:         "NVDA",
		Side:           brokerage.SideBuy,
		Notional:       1000,
	}
	first, err := g.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("first SubmitOrder: %v", err)
	}
	second, err := g.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("second SubmitOrder: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("duplicate key produced a new order: %s vs %s", first.OrderID, second.OrderID)
	}

	// A different key is a different order.
	req.IdempotencyKey = "u1:e2"
	third, err := g.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("third SubmitOrder: %v", err)
	}
	if third.OrderID == first.OrderID {
		t.Fatal("distinct keys must not share an order")
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	g := New()
	ctx := context.Background()

	_, err := g.SubmitOrder(ctx, brokerage.OrderRequest{Symbol: "", Notional: 100})
	if !brokerage.IsPermanent(err) {
		t.Fatalf("expected permanent error for empty symbol, got %v", err)
	}

	_, err = g.SubmitOrder(ctx, brokerage.OrderRequest{Symbol: "NVDA", Notional: 0})
	if !brokerage.IsPermanent(err) {
		t.Fatalf("expected permanent error for zero notional, got %v", err)
	}
}

func TestGetOrderUnknown(t *testing.T) {
	g := New()
	if _, err := g.GetOrder(context.Background(), "missing"); !brokerage.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestCustomFillPrice(t *testing.T) {
	g := New()
	g.FillPrice = func(symbol string) float64 { return 250 }

	res, err := g.SubmitOrder(context.Background(), brokerage.OrderRequest{
		Symbol: "NVDA", Side: brokerage.SideBuy, Notional: 1000,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.FilledAvgPrice != 250 || res.FilledQty != 4 {
		t.Fatalf("unexpected fill: qty=%v price=%v", res.FilledQty, res.FilledAvgPrice)
	}
}
