// Package scheduler drives the periodic copy cycle: list new disclosures,
// run every active user's pipeline against them, advance the watermark.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"copytrading-core/internal/bot"
	"copytrading-core/internal/events"
	"copytrading-core/internal/execution"
	"copytrading-core/internal/filter"
	"copytrading-core/internal/monitor"
	"copytrading-core/internal/sizing"
	"copytrading-core/pkg/db"
)

// EventSource lists disclosures ingested after the watermark, ordered by
// disclosure date. Implemented by *db.Database; the raw fetcher that fills
// the table lives outside this core.
type EventSource interface {
	ListNewTradeEvents(ctx context.Context, since time.Time) ([]db.TradeEvent, error)
}

// Scheduler owns the cycle cadence and the per-cycle worker pool.
type Scheduler struct {
	DB       *db.Database
	Source   EventSource
	Executor *execution.Executor
	Bot      *bot.Controller
	Sizing   sizing.Calculator
	Bus      *events.Bus
	Metrics  *monitor.Metrics

	Interval time.Duration
	Workers  int // concurrent per-user pipelines; bounds brokerage load

	inFlight atomic.Bool
}

// Report summarizes one cycle for logs and the bus.
type Report struct {
	Skipped        bool      `json:"skipped"`
	Events         int       `json:"events"`
	ActiveUsers    int       `json:"active_users"`
	TradesCopied   int       `json:"trades_copied"`
	Duration       string    `json:"duration"`
	Watermark      time.Time `json:"watermark"`
	WatermarkMoved bool      `json:"watermark_moved"`
}

// Start runs cycles at the configured cadence until ctx is canceled. A tick
// that fires while the previous cycle is still running is skipped, never
// queued: two concurrent cycles would race on the same watermark.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunCycle(ctx); err != nil {
					log.Printf("scheduler: cycle error: %v", err)
				}
			}
		}
	}()
	log.Printf("scheduler: started (interval: %v, workers: %d)", interval, s.workers())
}

// RunCycle executes one batch. Safe to call concurrently: only one cycle
// runs, the rest are reported as skipped.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.Metrics.CountCycle(true)
		if s.Bus != nil {
			s.Bus.Publish(events.EventCycleSkipped, time.Now())
		}
		log.Printf("scheduler: tick skipped, previous cycle still running")
		return Report{Skipped: true}, nil
	}
	defer s.inFlight.Store(false)

	start := time.Now()

	watermark, err := s.DB.Watermark(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: load watermark: %w", err)
	}

	evs, err := s.Source.ListNewTradeEvents(ctx, watermark)
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: list events: %w", err)
	}

	// Snapshot configs once; a settings change mid-cycle takes effect next
	// cycle, not retroactively.
	configs, err := s.DB.GetActiveBotConfigs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: list active configs: %w", err)
	}

	report := Report{Events: len(evs), ActiveUsers: len(configs), Watermark: watermark}
	if len(evs) == 0 || len(configs) == 0 {
		s.finishCycle(ctx, &report, evs, true, start)
		return report, nil
	}

	s.Metrics.CountEventsEvaluated(len(evs) * len(configs))

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, s.workers())
		mu       sync.Mutex
		copied   int
		allClean = true
	)
	for _, cfg := range configs {
		wg.Add(1)
		sem <- struct{}{}
		go func(cfg db.BotConfig) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := s.runUserPipeline(ctx, cfg, evs)
			mu.Lock()
			copied += n
			if err != nil {
				// One user's failure never aborts the others, but it does
				// hold the watermark so their events are retried next cycle.
				allClean = false
				log.Printf("scheduler: pipeline for user %s: %v", cfg.UserID, err)
			}
			mu.Unlock()
		}(cfg)
	}
	wg.Wait()

	report.TradesCopied = copied
	s.finishCycle(ctx, &report, evs, allClean, start)
	return report, nil
}

// runUserPipeline evaluates events in disclosure order for one user.
// Dedup happens via the atomic insert; a conflict means another cycle or
// worker already handled the pair.
func (s *Scheduler) runUserPipeline(ctx context.Context, cfg db.BotConfig, evs []db.TradeEvent) (int, error) {
	copied := 0
	for _, ev := range evs {
		// Stop commands take effect here, at the per-event boundary.
		if !s.Bot.IsRunning(cfg.UserID) {
			return copied, nil
		}
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		verdict := filter.Evaluate(ev, cfg)
		if !verdict.Eligible {
			log.Printf("scheduler: event %s for user %s ineligible: %s", ev.ID, cfg.UserID, verdict.Reason)
			continue
		}

		notional, ok := s.Sizing.OrderNotional(ev.Notional, cfg.PositionFraction, cfg.MaxPositionNotional)
		if !ok {
			log.Printf("scheduler: event %s for user %s ineligible: %s", ev.ID, cfg.UserID, sizing.ReasonBelowMinUnit)
			continue
		}

		rec := db.BotTrade{
			ID:       uuid.NewString(),
			UserID:   cfg.UserID,
			EventID:  ev.ID,
			Ticker:   ev.Ticker,
			Side:     db.KindBuy,
			Notional: notional,
			Status:   db.StatusPending,
		}
		created, err := s.DB.TryCreateBotTrade(ctx, rec)
		if err != nil {
			return copied, fmt.Errorf("create record for event %s: %w", ev.ID, err)
		}
		if !created {
			// Already processed by an earlier or concurrent cycle.
			continue
		}
		copied++
		s.Metrics.CountTradeCopied()
		if s.Bus != nil {
			s.Bus.Publish(events.EventTradeCopied, rec)
		}

		out, err := s.Executor.Execute(ctx, &rec)
		if err != nil {
			return copied, fmt.Errorf("execute record %s: %w", rec.ID, err)
		}
		if err := s.Bot.RecordOutcome(ctx, cfg.UserID, out.Status, out.Reason); err != nil {
			return copied, err
		}
	}
	return copied, nil
}

// finishCycle advances the watermark when the whole batch is durably
// accounted for, and emits the completion event.
func (s *Scheduler) finishCycle(ctx context.Context, report *Report, evs []db.TradeEvent, allClean bool, start time.Time) {
	if allClean && len(evs) > 0 {
		wm := evs[0].IngestedAt
		for _, ev := range evs[1:] {
			if ev.IngestedAt.After(wm) {
				wm = ev.IngestedAt
			}
		}
		if err := s.DB.AdvanceWatermark(ctx, wm); err != nil {
			log.Printf("scheduler: advance watermark: %v", err)
		} else {
			report.Watermark = wm
			report.WatermarkMoved = true
		}
	}

	report.Duration = time.Since(start).String()
	s.Metrics.CountCycle(false)
	if s.Bus != nil {
		s.Bus.Publish(events.EventCycleCompleted, *report)
	}
	log.Printf("scheduler: cycle done events=%d users=%d copied=%d took=%s watermark_moved=%v",
		report.Events, report.ActiveUsers, report.TradesCopied, report.Duration, report.WatermarkMoved)
}

func (s *Scheduler) workers() int {
	if s.Workers <= 0 {
		return 4
	}
	return s.Workers
}
