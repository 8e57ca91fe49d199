// Package execution submits pending bot trades to the brokerage. It is the
// only component allowed to call the execution sink.
package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"copytrading-core/internal/events"
	"copytrading-core/internal/monitor"
	"copytrading-core/pkg/brokerage"
	"copytrading-core/pkg/db"
)

// GatewayResolver yields the brokerage gateway for a user (typically backed
// by gateway.Pool).
type GatewayResolver interface {
	GatewayFor(ctx context.Context, userID string) (brokerage.Gateway, error)
}

// RetryPolicy bounds submission attempts. Explicit so tests can shrink it.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the production config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Backoff returns the delay before the given attempt (1-based): exponential,
// capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Executor drives a single BotTradeRecord from Pending to a terminal or
// Submitted state.
type Executor struct {
	DB       *db.Database
	Bus      *events.Bus
	Resolver GatewayResolver
	Policy   RetryPolicy
	Metrics  *monitor.Metrics

	// Gateway, when set, overrides per-user resolution. Used by paper-only
	// deployments and tests.
	Gateway brokerage.Gateway
}

// Outcome summarizes one execution sequence.
type Outcome struct {
	Status string // db.StatusSubmitted, db.StatusFilled, db.StatusRejected or db.StatusFailed
	Reason string // last error for Rejected/Failed
}

// Execute submits the record's order, retrying transient failures with
// exponential backoff. Exactly one submission attempt sequence runs per
// record; every attempt is persisted before the next begins so a crash
// leaves an accurate audit trail.
func (e *Executor) Execute(ctx context.Context, rec *db.BotTrade) (Outcome, error) {
	gw, err := e.gatewayFor(ctx, rec.UserID)
	if err != nil {
		out := Outcome{Status: db.StatusFailed, Reason: err.Error()}
		return out, e.record(ctx, rec, out)
	}

	req := brokerage.OrderRequest{
		IdempotencyKey: rec.IdempotencyKey(),
		Symbol:         rec.Ticker,
		Side:           brokerage.Side(rec.Side),
		Notional:       rec.Notional,
	}

	var lastErr error
	for attempt := 1; attempt <= e.Policy.MaxAttempts; attempt++ {
		start := time.Now()
		res, err := gw.SubmitOrder(ctx, req)
		if e.Metrics != nil {
			e.Metrics.ObserveOrderLatency(time.Since(start))
		}

		if err == nil {
			rec.Attempts = attempt
			rec.BrokerOrderID = res.OrderID
			out := Outcome{Status: db.StatusSubmitted}
			switch res.Status {
			case brokerage.StatusFilled:
				// Some venues (and the paper gateway) fill market orders
				// synchronously; skip the reconciliation round-trip.
				out.Status = db.StatusFilled
				rec.FillQty = res.FilledQty
				rec.FillPrice = res.FilledAvgPrice
			case brokerage.StatusRejected, brokerage.StatusCanceled:
				// The venue accepted the request but killed the order. That is
				// a terminal outcome, not a submission in flight.
				out.Status = db.StatusRejected
				out.Reason = fmt.Sprintf("order %s by venue", res.Status)
			}
			return out, e.record(ctx, rec, out)
		}

		if brokerage.IsPermanent(err) {
			rec.Attempts = attempt
			out := Outcome{Status: db.StatusRejected, Reason: err.Error()}
			return out, e.record(ctx, rec, out)
		}

		// Transient (or unclassified) failure: persist the attempt, back off,
		// try again.
		lastErr = err
		rec.Attempts = attempt
		if uerr := e.DB.UpdateBotTradeStatus(ctx, rec.ID, db.StatusPending, "", rec.Attempts, err.Error()); uerr != nil {
			log.Printf("executor: persist attempt %d for %s: %v", attempt, rec.ID, uerr)
		}
		if attempt == e.Policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			out := Outcome{Status: db.StatusFailed, Reason: ctx.Err().Error()}
			return out, e.record(ctx, rec, out)
		case <-time.After(e.Policy.Backoff(attempt)):
		}
	}

	out := Outcome{Status: db.StatusFailed, Reason: fmt.Sprintf("retries exhausted after %d attempts: %v", rec.Attempts, lastErr)}
	return out, e.record(ctx, rec, out)
}

func (e *Executor) gatewayFor(ctx context.Context, userID string) (brokerage.Gateway, error) {
	if e.Gateway != nil {
		return e.Gateway, nil
	}
	if e.Resolver == nil {
		return nil, fmt.Errorf("executor: no gateway resolver configured")
	}
	return e.Resolver.GatewayFor(ctx, userID)
}

// record persists the terminal transition and publishes the matching event.
func (e *Executor) record(ctx context.Context, rec *db.BotTrade, out Outcome) error {
	rec.Status = out.Status
	rec.LastError = out.Reason

	var err error
	if out.Status == db.StatusFilled {
		if err = e.DB.UpdateBotTradeStatus(ctx, rec.ID, db.StatusSubmitted, rec.BrokerOrderID, rec.Attempts, ""); err == nil {
			err = e.DB.MarkBotTradeFilled(ctx, rec.ID, rec.FillQty, rec.FillPrice)
		}
	} else {
		err = e.DB.UpdateBotTradeStatus(ctx, rec.ID, out.Status, rec.BrokerOrderID, rec.Attempts, out.Reason)
	}
	if err != nil {
		return fmt.Errorf("executor: record %s for %s: %w", out.Status, rec.ID, err)
	}

	if e.Bus != nil {
		switch out.Status {
		case db.StatusSubmitted:
			e.Bus.Publish(events.EventOrderSubmitted, *rec)
		case db.StatusFilled:
			e.Bus.Publish(events.EventOrderSubmitted, *rec)
			e.Bus.Publish(events.EventOrderFilled, *rec)
		case db.StatusRejected:
			e.Bus.Publish(events.EventOrderRejected, *rec)
		case db.StatusFailed:
			e.Bus.Publish(events.EventOrderFailed, *rec)
		}
	}
	if e.Metrics != nil {
		e.Metrics.CountOrder(out.Status)
	}

	log.Printf("executor: %s %s %s notional=%.2f status=%s attempts=%d",
		rec.UserID, rec.Side, rec.Ticker, rec.Notional, out.Status, rec.Attempts)
	return nil
}
