// Package bot owns per-user lifecycle: start, stop, settings, and the
// consecutive-failure safety pause. It never performs brokerage I/O.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"copytrading-core/internal/events"
	"copytrading-core/pkg/db"
)

var (
	ErrNoBrokerageLink = errors.New("bot: connect a brokerage account before starting")
	ErrLinkInvalid     = errors.New("bot: brokerage credentials are invalid, reconnect the account")
)

// Controller is the per-user bot state machine. The durable active flag in
// bot_configs is the source of truth; the in-memory running set mirrors it so
// the scheduler can check stop flags at event boundaries without a query.
type Controller struct {
	DB  *db.Database
	Bus *events.Bus

	// PauseAfter is K: consecutive terminal failures before auto-pause.
	PauseAfter int

	// Defaults seed a user's config on first start.
	Defaults Policy

	mu      sync.RWMutex
	running map[string]bool
}

// NewController wires a controller; call Load before serving traffic.
func NewController(database *db.Database, bus *events.Bus, pauseAfter int, defaults Policy) *Controller {
	if pauseAfter <= 0 {
		pauseAfter = 3
	}
	return &Controller{
		DB:         database,
		Bus:        bus,
		PauseAfter: pauseAfter,
		Defaults:   defaults,
		running:    make(map[string]bool),
	}
}

// Load seeds the in-memory running set from the durable active flags.
func (c *Controller) Load(ctx context.Context) error {
	configs, err := c.DB.GetActiveBotConfigs(ctx)
	if err != nil {
		return fmt.Errorf("bot: load active configs: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cfg := range configs {
		c.running[cfg.UserID] = true
	}
	return nil
}

// IsRunning reports the in-memory run flag. The scheduler consults this at
// each per-event boundary so a stop takes effect without waiting for the
// next cycle.
func (c *Controller) IsRunning(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running[userID]
}

// StartBot activates the bot. Fails fast, with no state change, when no
// valid brokerage link exists. Seeds settings from the policy defaults on
// first start.
func (c *Controller) StartBot(ctx context.Context, userID string) error {
	account, err := c.DB.GetBrokerageAccount(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNoBrokerageLink
	}
	if err != nil {
		return fmt.Errorf("bot: check brokerage link: %w", err)
	}
	if !account.IsActive || !account.IsValid {
		return ErrLinkInvalid
	}

	if _, err := c.DB.GetBotConfig(ctx, userID); errors.Is(err, db.ErrNotFound) {
		cfg := db.BotConfig{
			UserID:              userID,
			MinNotional:         c.Defaults.MinTradeNotional,
			PositionFraction:    c.Defaults.PositionFraction,
			MaxPositionNotional: c.Defaults.MaxPositionNotional,
			Paper:               c.Defaults.Paper,
		}
		if err := cfg.SetFollowed(c.Defaults.FollowedPoliticians); err != nil {
			return err
		}
		if err := c.DB.UpsertBotConfig(ctx, cfg); err != nil {
			return fmt.Errorf("bot: seed config: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("bot: load config: %w", err)
	}

	flipped, err := c.DB.SetBotActive(ctx, userID, false, true, "")
	if err != nil {
		return err
	}
	if !flipped {
		// Already running; starting twice is not an error.
		c.setRunning(userID, true)
		return nil
	}

	c.setRunning(userID, true)
	if c.Bus != nil {
		c.Bus.Publish(events.EventBotStarted, userID)
	}
	log.Printf("bot: started for user %s", userID)
	return nil
}

// StopBot deactivates the bot. In-flight executions complete; no further
// events are processed once the flag flips.
func (c *Controller) StopBot(ctx context.Context, userID string) error {
	flipped, err := c.DB.SetBotActive(ctx, userID, true, false, "stopped by user")
	if err != nil {
		return err
	}

	c.setRunning(userID, false)
	if flipped && c.Bus != nil {
		c.Bus.Publish(events.EventBotStopped, userID)
	}
	if flipped {
		log.Printf("bot: stopped for user %s", userID)
	}
	return nil
}

// Status is the control-surface view of one user's bot.
type Status struct {
	IsActive            bool     `json:"is_active"`
	TotalTrades         int      `json:"total_trades"`
	TotalPnL            float64  `json:"total_pnl"`
	FollowedPoliticians []string `json:"followed_politicians"`
	PauseReason         string   `json:"pause_reason,omitempty"`
}

// GetStatus aggregates the user's trade records and config. Reads only.
func (c *Controller) GetStatus(ctx context.Context, userID string) (Status, error) {
	var st Status

	cfg, err := c.DB.GetBotConfig(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return Status{FollowedPoliticians: []string{}}, nil
	}
	if err != nil {
		return st, fmt.Errorf("bot: load config: %w", err)
	}

	stats, err := c.DB.GetBotTradeStats(ctx, userID)
	if err != nil {
		return st, fmt.Errorf("bot: load trade stats: %w", err)
	}

	st.IsActive = cfg.IsActive
	st.TotalTrades = stats.TotalTrades
	st.TotalPnL = stats.TotalPnL
	st.FollowedPoliticians = cfg.FollowedList()
	if st.FollowedPoliticians == nil {
		st.FollowedPoliticians = []string{}
	}
	st.PauseReason = cfg.PauseReason
	return st, nil
}

// Settings are the user-editable config fields.
type Settings struct {
	FollowedPoliticians []string `json:"followed_politicians"`
	MinTradeNotional    float64  `json:"min_trade_notional"`
	PositionFraction    float64  `json:"position_fraction"`
	MaxPositionNotional float64  `json:"max_position_notional"`
	Paper               bool     `json:"paper"`
}

// UpdateSettings validates and persists new settings. A change lands at the
// next cycle; the running cycle keeps its snapshot.
func (c *Controller) UpdateSettings(ctx context.Context, userID string, s Settings) error {
	if s.PositionFraction <= 0 || s.PositionFraction > 1 {
		return fmt.Errorf("bot: position_fraction must be in (0, 1], got %v", s.PositionFraction)
	}
	if s.MaxPositionNotional <= 0 {
		return fmt.Errorf("bot: max_position_notional must be positive, got %v", s.MaxPositionNotional)
	}
	if s.MinTradeNotional < 0 {
		return fmt.Errorf("bot: min_trade_notional must not be negative, got %v", s.MinTradeNotional)
	}

	cfg := db.BotConfig{
		UserID:              userID,
		MinNotional:         s.MinTradeNotional,
		PositionFraction:    s.PositionFraction,
		MaxPositionNotional: s.MaxPositionNotional,
		Paper:               s.Paper,
	}
	if err := cfg.SetFollowed(s.FollowedPoliticians); err != nil {
		return err
	}
	return c.DB.UpsertBotConfig(ctx, cfg)
}

// RecordOutcome feeds an execution result into the safety-pause counter.
// After PauseAfter consecutive terminal failures the bot stops and records
// the triggering reason; an explicit restart is required.
func (c *Controller) RecordOutcome(ctx context.Context, userID, status, reason string) error {
	failed := status == db.StatusFailed || status == db.StatusRejected

	count, err := c.DB.RecordExecutionOutcome(ctx, userID, failed)
	if err != nil {
		return fmt.Errorf("bot: record outcome: %w", err)
	}
	if !failed || count < c.PauseAfter {
		return nil
	}

	pauseReason := fmt.Sprintf("auto-paused after %d consecutive failures (last: %s)", count, reason)
	flipped, err := c.DB.SetBotActive(ctx, userID, true, false, pauseReason)
	if err != nil {
		return fmt.Errorf("bot: auto-pause: %w", err)
	}
	if !flipped {
		return nil
	}

	c.setRunning(userID, false)
	if c.Bus != nil {
		c.Bus.Publish(events.EventBotPaused, map[string]string{"user_id": userID, "reason": pauseReason})
	}
	log.Printf("bot: %s for user %s", pauseReason, userID)
	return nil
}

func (c *Controller) setRunning(userID string, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running {
		c.running[userID] = true
	} else {
		delete(c.running, userID)
	}
}
