package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transaction kinds reported in congressional disclosures.
const (
	KindBuy     = "buy"
	KindSell    = "sell"
	KindUnknown = "unknown"
)

// Bot trade lifecycle statuses.
const (
	StatusPending   = "PENDING"
	StatusSubmitted = "SUBMITTED"
	StatusFilled    = "FILLED"
	StatusRejected  = "REJECTED"
	StatusFailed    = "FAILED"
)

// TradeEvent is one disclosed congressional trade. Rows are written once by
// ingestion and never mutated; the source id is the idempotency anchor.
type TradeEvent struct {
	ID          string
	Politician  string
	Ticker      string
	Kind        string
	MinAmount   float64
	MaxAmount   float64
	Notional    float64 // representative value of the disclosed amount range
	TradedAt    time.Time
	DisclosedAt time.Time
	IngestedAt  time.Time
}

// BotConfig holds per-user copy-trading settings.
type BotConfig struct {
	UserID              string
	IsActive            bool
	Followed            string // JSON array of politician names
	MinNotional         float64
	PositionFraction    float64
	MaxPositionNotional float64
	Paper               bool
	ConsecutiveFailures int
	PauseReason         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FollowedList decodes the followed-politicians JSON column.
func (c *BotConfig) FollowedList() []string {
	var names []string
	if err := json.Unmarshal([]byte(c.Followed), &names); err != nil {
		return nil
	}
	return names
}

// SetFollowed encodes names into the followed column.
func (c *BotConfig) SetFollowed(names []string) error {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode followed politicians: %w", err)
	}
	c.Followed = string(data)
	return nil
}

// BotTrade is the result of acting on one TradeEvent for one user.
// (user_id, event_id) is the natural key; rows are appended and updated,
// never deleted.
type BotTrade struct {
	ID            string
	UserID        string
	EventID       string
	Ticker        string
	Side          string
	Notional      float64
	FillQty       float64
	FillPrice     float64
	BrokerOrderID string
	ProfitLoss    float64
	Status        string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IdempotencyKey is the stable token sent to the brokerage so a retried
// submission cannot create a duplicate order.
func (t *BotTrade) IdempotencyKey() string {
	return t.UserID + ":" + t.EventID
}

// Terminal reports whether the record reached a final state.
func (t *BotTrade) Terminal() bool {
	return t.Status == StatusFilled || t.Status == StatusRejected || t.Status == StatusFailed
}

// User is an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BrokerageAccount stores a user's sealed brokerage credentials.
type BrokerageAccount struct {
	ID              string
	UserID          string
	APIKeySealed    string
	APISecretSealed string
	AccountType     string // "paper" or "live"
	IsActive        bool
	IsValid         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InsertTradeEvent writes an ingested disclosure. Duplicate source ids are
// ignored so at-least-once ingestion stays safe.
func (d *Database) InsertTradeEvent(ctx context.Context, ev TradeEvent) error {
	if ev.IngestedAt.IsZero() {
		ev.IngestedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_events (
			id, politician, ticker, kind, min_amount, max_amount, notional, traded_at, disclosed_at, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID, ev.Politician, ev.Ticker, ev.Kind, ev.MinAmount, ev.MaxAmount, ev.Notional,
		ev.TradedAt, ev.DisclosedAt, ev.IngestedAt,
	)
	return err
}

// ListNewTradeEvents returns events ingested after the watermark, ordered by
// disclosure date then ingestion time so per-user evaluation is reproducible.
func (d *Database) ListNewTradeEvents(ctx context.Context, since time.Time) ([]TradeEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, politician, ticker, kind, min_amount, max_amount, notional, traded_at, disclosed_at, ingested_at
		FROM trade_events
		WHERE ingested_at > ?
		ORDER BY disclosed_at ASC, ingested_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var events []TradeEvent
	for rows.Next() {
		var ev TradeEvent
		if err := rows.Scan(&ev.ID, &ev.Politician, &ev.Ticker, &ev.Kind, &ev.MinAmount, &ev.MaxAmount,
			&ev.Notional, &ev.TradedAt, &ev.DisclosedAt, &ev.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Watermark returns the last successfully processed cycle cursor.
// A zero time means no cycle has completed yet.
func (d *Database) Watermark(ctx context.Context) (time.Time, error) {
	var wm time.Time
	err := d.DB.QueryRowContext(ctx, `SELECT watermark FROM scheduler_state WHERE id = 1`).Scan(&wm)
	if err != nil {
		// No row yet: start from the beginning of time.
		return time.Time{}, nil
	}
	return wm, nil
}

// AdvanceWatermark moves the cycle cursor forward. Called only after a batch
// is fully processed.
func (d *Database) AdvanceWatermark(ctx context.Context, wm time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO scheduler_state (id, watermark, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			watermark = excluded.watermark,
			updated_at = CURRENT_TIMESTAMP
	`, wm)
	return err
}
