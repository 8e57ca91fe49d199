// Package reconciliation settles Submitted bot trades by polling the
// brokerage's view of each order: fills are promoted to Filled, venue-killed
// orders are closed as Rejected.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"copytrading-core/internal/events"
	"copytrading-core/internal/execution"
	"copytrading-core/pkg/brokerage"
	"copytrading-core/pkg/db"
)

// Service runs the periodic reconcile pass.
type Service struct {
	DB       *db.Database
	Resolver execution.GatewayResolver
	Bus      *events.Bus
	Interval time.Duration

	mu sync.Mutex
}

// NewService creates a reconciliation service.
func NewService(database *db.Database, resolver execution.GatewayResolver, bus *events.Bus, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{DB: database, Resolver: resolver, Bus: bus, Interval: interval}
}

// Start begins periodic reconciliation until ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.Reconcile(ctx); err != nil {
					log.Printf("reconciliation: %v", err)
				} else if n > 0 {
					log.Printf("reconciliation: promoted %d orders to filled", n)
				}
			}
		}
	}()
	log.Printf("reconciliation: service started (interval: %v)", s.Interval)
}

// Reconcile checks every Submitted record once and returns how many filled.
// Per-record errors are logged and skipped; one stuck order must not block
// the rest.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.DB.ListSubmittedBotTrades(ctx)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, rec := range pending {
		if rec.BrokerOrderID == "" {
			continue
		}
		gw, err := s.Resolver.GatewayFor(ctx, rec.UserID)
		if err != nil {
			log.Printf("reconciliation: gateway for user %s: %v", rec.UserID, err)
			continue
		}

		res, err := gw.GetOrder(ctx, rec.BrokerOrderID)
		if err != nil {
			log.Printf("reconciliation: get order %s: %v", rec.BrokerOrderID, err)
			continue
		}
		switch res.Status {
		case brokerage.StatusFilled:
		case brokerage.StatusRejected, brokerage.StatusCanceled:
			reason := fmt.Sprintf("order %s by venue", res.Status)
			err = s.DB.CloseSubmittedBotTrade(ctx, rec.ID, reason)
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			if err != nil {
				log.Printf("reconciliation: close %s: %v", rec.ID, err)
				continue
			}
			rec.Status = db.StatusRejected
			rec.LastError = reason
			if s.Bus != nil {
				s.Bus.Publish(events.EventOrderRejected, rec)
			}
			continue
		default:
			continue
		}

		err = s.DB.MarkBotTradeFilled(ctx, rec.ID, res.FilledQty, res.FilledAvgPrice)
		if errors.Is(err, db.ErrNotFound) {
			// Raced with another writer; the record already moved on.
			continue
		}
		if err != nil {
			log.Printf("reconciliation: mark filled %s: %v", rec.ID, err)
			continue
		}

		filled++
		rec.Status = db.StatusFilled
		rec.FillQty = res.FilledQty
		rec.FillPrice = res.FilledAvgPrice
		if s.Bus != nil {
			s.Bus.Publish(events.EventOrderFilled, rec)
		}
	}
	return filled, nil
}
