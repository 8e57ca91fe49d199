// Package db provides user-isolated persistence for the copy-trading core.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// ----------------------------------------
// Bot trade records
// ----------------------------------------

// TryCreateBotTrade atomically inserts a record for (user_id, event_id).
// It reports false when a record for the pair already exists; callers treat
// that as "already processed", which is what makes the pipeline idempotent
// under overlapping cycles and concurrent workers.
func (d *Database) TryCreateBotTrade(ctx context.Context, t BotTrade) (bool, error) {
	if t.UserID == "" {
		return false, ErrUserIDRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_trades (id, user_id, event_id, ticker, side, notional, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, event_id) DO NOTHING
	`, t.ID, t.UserID, t.EventID, t.Ticker, t.Side, t.Notional, t.Status)
	if err != nil {
		return false, fmt.Errorf("insert bot trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert bot trade rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateBotTradeStatus records an execution transition.
func (d *Database) UpdateBotTradeStatus(ctx context.Context, id, status, brokerOrderID string, attempts int, lastError string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_trades
		SET status = ?, broker_order_id = ?, attempts = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, brokerOrderID, attempts, lastError, id)
	if err != nil {
		return fmt.Errorf("update bot trade %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkBotTradeFilled promotes a submitted record once the brokerage reports a fill.
func (d *Database) MarkBotTradeFilled(ctx context.Context, id string, fillQty, fillPrice float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_trades
		SET status = ?, fill_qty = ?, fill_price = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, StatusFilled, fillQty, fillPrice, id, StatusSubmitted)
	if err != nil {
		return fmt.Errorf("mark bot trade filled %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseSubmittedBotTrade moves a submitted record to REJECTED once the
// brokerage reports it killed the order. Guarded on SUBMITTED so it cannot
// clobber a fill recorded by another writer.
func (d *Database) CloseSubmittedBotTrade(ctx context.Context, id, reason string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_trades
		SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, StatusRejected, reason, id, StatusSubmitted)
	if err != nil {
		return fmt.Errorf("close bot trade %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBotTradesByUser returns the user's copy-trade audit trail, newest first.
func (d *Database) ListBotTradesByUser(ctx context.Context, userID string, limit int) ([]BotTrade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, event_id, ticker, side, notional,
		       COALESCE(fill_qty, 0), COALESCE(fill_price, 0),
		       COALESCE(broker_order_id, ''), COALESCE(profit_loss, 0),
		       status, attempts, COALESCE(last_error, ''),
		       created_at, updated_at
		FROM bot_trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bot trades: %w", err)
	}
	defer rows.Close()

	var trades []BotTrade
	for rows.Next() {
		var t BotTrade
		if err := rows.Scan(&t.ID, &t.UserID, &t.EventID, &t.Ticker, &t.Side, &t.Notional,
			&t.FillQty, &t.FillPrice, &t.BrokerOrderID, &t.ProfitLoss, &t.Status, &t.Attempts, &t.LastError,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListSubmittedBotTrades returns records awaiting reconciliation, across all users.
func (d *Database) ListSubmittedBotTrades(ctx context.Context) ([]BotTrade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, event_id, ticker, side, notional,
		       COALESCE(fill_qty, 0), COALESCE(fill_price, 0),
		       COALESCE(broker_order_id, ''), COALESCE(profit_loss, 0),
		       status, attempts, COALESCE(last_error, ''),
		       created_at, updated_at
		FROM bot_trades
		WHERE status = ?
		ORDER BY created_at ASC
	`, StatusSubmitted)
	if err != nil {
		return nil, fmt.Errorf("query submitted bot trades: %w", err)
	}
	defer rows.Close()

	var trades []BotTrade
	for rows.Next() {
		var t BotTrade
		if err := rows.Scan(&t.ID, &t.UserID, &t.EventID, &t.Ticker, &t.Side, &t.Notional,
			&t.FillQty, &t.FillPrice, &t.BrokerOrderID, &t.ProfitLoss, &t.Status, &t.Attempts, &t.LastError,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// BotTradeStats aggregates the audit trail for the status endpoint.
type BotTradeStats struct {
	TotalTrades int
	TotalPnL    float64
}

// GetBotTradeStats computes aggregate stats without loading every row.
// profit_loss stays zero until a valuation pass writes it; the column exists
// so the status endpoint shape is stable.
func (d *Database) GetBotTradeStats(ctx context.Context, userID string) (BotTradeStats, error) {
	if userID == "" {
		return BotTradeStats{}, ErrUserIDRequired
	}
	var s BotTradeStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(profit_loss), 0)
		FROM bot_trades
		WHERE user_id = ?
	`, userID).Scan(&s.TotalTrades, &s.TotalPnL)
	if err != nil {
		return BotTradeStats{}, fmt.Errorf("query bot trade stats: %w", err)
	}
	return s, nil
}

// ----------------------------------------
// Bot configs
// ----------------------------------------

// GetBotConfig loads one user's settings.
func (d *Database) GetBotConfig(ctx context.Context, userID string) (*BotConfig, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, is_active, followed, min_notional, position_fraction, max_position_notional,
		       paper, consecutive_failures, COALESCE(pause_reason, ''), created_at, updated_at
		FROM bot_configs
		WHERE user_id = ?
	`, userID)

	var c BotConfig
	err := row.Scan(&c.UserID, &c.IsActive, &c.Followed, &c.MinNotional, &c.PositionFraction,
		&c.MaxPositionNotional, &c.Paper, &c.ConsecutiveFailures, &c.PauseReason, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bot config: %w", err)
	}
	return &c, nil
}

// GetActiveBotConfigs returns a snapshot of every active user's settings.
// The scheduler reads this once at cycle start; mid-cycle config changes take
// effect next cycle.
func (d *Database) GetActiveBotConfigs(ctx context.Context) ([]BotConfig, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, is_active, followed, min_notional, position_fraction, max_position_notional,
		       paper, consecutive_failures, COALESCE(pause_reason, ''), created_at, updated_at
		FROM bot_configs
		WHERE is_active = 1
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active bot configs: %w", err)
	}
	defer rows.Close()

	var configs []BotConfig
	for rows.Next() {
		var c BotConfig
		if err := rows.Scan(&c.UserID, &c.IsActive, &c.Followed, &c.MinNotional, &c.PositionFraction,
			&c.MaxPositionNotional, &c.Paper, &c.ConsecutiveFailures, &c.PauseReason, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// UpsertBotConfig creates or updates a user's settings. The active flag is
// left alone on update; activation goes through SetBotActive so transitions
// stay compare-and-set.
func (d *Database) UpsertBotConfig(ctx context.Context, c BotConfig) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_configs (user_id, is_active, followed, min_notional, position_fraction, max_position_notional, paper, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			followed = excluded.followed,
			min_notional = excluded.min_notional,
			position_fraction = excluded.position_fraction,
			max_position_notional = excluded.max_position_notional,
			paper = excluded.paper,
			updated_at = CURRENT_TIMESTAMP
	`, c.UserID, c.IsActive, c.Followed, c.MinNotional, c.PositionFraction, c.MaxPositionNotional, c.Paper)
	if err != nil {
		return fmt.Errorf("upsert bot config: %w", err)
	}
	return nil
}

// SetBotActive flips the active flag with compare-and-set semantics: the
// update only lands when the flag currently holds the expected value, so two
// racing transitions cannot both win.
func (d *Database) SetBotActive(ctx context.Context, userID string, from, to bool, reason string) (bool, error) {
	if userID == "" {
		return false, ErrUserIDRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_configs
		SET is_active = ?, pause_reason = ?, consecutive_failures = CASE WHEN ? THEN 0 ELSE consecutive_failures END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND is_active = ?
	`, to, reason, to, userID, from)
	if err != nil {
		return false, fmt.Errorf("set bot active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordExecutionOutcome maintains the consecutive-failure counter. Returns
// the updated count.
func (d *Database) RecordExecutionOutcome(ctx context.Context, userID string, failed bool) (int, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}
	if failed {
		_, err := d.DB.ExecContext(ctx, `
			UPDATE bot_configs SET consecutive_failures = consecutive_failures + 1, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ?
		`, userID)
		if err != nil {
			return 0, fmt.Errorf("increment failures: %w", err)
		}
	} else {
		_, err := d.DB.ExecContext(ctx, `
			UPDATE bot_configs SET consecutive_failures = 0, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ?
		`, userID)
		if err != nil {
			return 0, fmt.Errorf("reset failures: %w", err)
		}
	}

	var count int
	err := d.DB.QueryRowContext(ctx, `
		SELECT consecutive_failures FROM bot_configs WHERE user_id = ?
	`, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query failure count: %w", err)
	}
	return count, nil
}

// ----------------------------------------
// Users
// ----------------------------------------

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`, u.ID, u.Email, u.PasswordHash, nullableTime(u.CreatedAt))
	return err
}

// GetUserByEmail looks up a user for login.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = ?
	`, email)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// ----------------------------------------
// Brokerage accounts
// ----------------------------------------

// UpsertBrokerageAccount stores (or replaces) a user's sealed credentials.
func (d *Database) UpsertBrokerageAccount(ctx context.Context, a BrokerageAccount) error {
	if a.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO brokerage_accounts (id, user_id, api_key_sealed, api_secret_sealed, account_type, is_active, is_valid, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			api_key_sealed = excluded.api_key_sealed,
			api_secret_sealed = excluded.api_secret_sealed,
			account_type = excluded.account_type,
			is_active = 1,
			is_valid = 1,
			updated_at = CURRENT_TIMESTAMP
	`, a.ID, a.UserID, a.APIKeySealed, a.APISecretSealed, a.AccountType)
	if err != nil {
		return fmt.Errorf("upsert brokerage account: %w", err)
	}
	return nil
}

// GetBrokerageAccount returns the user's brokerage link, if any.
func (d *Database) GetBrokerageAccount(ctx context.Context, userID string) (*BrokerageAccount, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, api_key_sealed, api_secret_sealed, account_type, is_active, is_valid, created_at, updated_at
		FROM brokerage_accounts
		WHERE user_id = ?
	`, userID)
	var a BrokerageAccount
	err := row.Scan(&a.ID, &a.UserID, &a.APIKeySealed, &a.APISecretSealed, &a.AccountType,
		&a.IsActive, &a.IsValid, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query brokerage account: %w", err)
	}
	return &a, nil
}

// MarkBrokerageAccountInvalid flags a link whose credentials stopped working.
func (d *Database) MarkBrokerageAccountInvalid(ctx context.Context, userID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE brokerage_accounts SET is_valid = 0, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?
	`, userID)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
