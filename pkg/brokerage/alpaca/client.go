// Package alpaca implements brokerage.Gateway against the Alpaca trading
// REST API (paper or live host).
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"copytrading-core/pkg/brokerage"
)

// Config holds client settings.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// RateLimit caps outbound requests per second; Alpaca enforces 200/min
	// per key, shared across users of the same deployment.
	RateLimit float64
	Timeout   time.Duration
}

// Client talks to one Alpaca account.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *rate.Limiter
}

// New creates a client for the given credentials.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
	}
}

type orderPayload struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Notional      string `json:"notional"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

type accountResponse struct {
	ID          string `json:"id"`
	BuyingPower string `json:"buying_power"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubmitOrder places a notional market order. The idempotency key is sent as
// client_order_id; when Alpaca rejects the key as a duplicate, the order from
// the earlier attempt is looked up and returned instead, so a retried
// submission converges on the live order rather than a spurious rejection.
func (c *Client) SubmitOrder(ctx context.Context, req brokerage.OrderRequest) (brokerage.OrderResult, error) {
	payload := orderPayload{
		ClientOrderID: req.IdempotencyKey,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		Notional:      strconv.FormatFloat(req.Notional, 'f', 2, 64),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return brokerage.OrderResult{}, fmt.Errorf("encode order: %w", err)
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/orders", body, &resp); err != nil {
		if isDuplicateKey(err) {
			return c.getOrderByClientID(ctx, req.IdempotencyKey)
		}
		return brokerage.OrderResult{}, err
	}
	return toResult(resp), nil
}

// isDuplicateKey matches Alpaca's 422 for a reused client_order_id.
func isDuplicateKey(err error) bool {
	var pe *brokerage.PermanentError
	if !errors.As(err, &pe) || pe.Code != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(pe.Reason, "client_order_id must be unique")
}

func (c *Client) getOrderByClientID(ctx context.Context, clientOrderID string) (brokerage.OrderResult, error) {
	var resp orderResponse
	path := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return brokerage.OrderResult{}, err
	}
	return toResult(resp), nil
}

// GetOrder fetches the venue's current view of an order. Used by
// reconciliation to promote Submitted records to Filled.
func (c *Client) GetOrder(ctx context.Context, orderID string) (brokerage.OrderResult, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &resp); err != nil {
		return brokerage.OrderResult{}, err
	}
	return toResult(resp), nil
}

// GetAccount probes the credentials and returns buying power.
func (c *Client) GetAccount(ctx context.Context) (brokerage.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &resp); err != nil {
		return brokerage.Account{}, err
	}
	bp, _ := strconv.ParseFloat(resp.BuyingPower, 64)
	return brokerage.Account{ID: resp.ID, BuyingPower: bp}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failure or timeout: worth retrying.
		return &brokerage.TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &brokerage.TransientError{Op: "read " + path, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &brokerage.TransientError{Op: method + " " + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, trim(data))}
	default:
		var ae apiError
		reason := trim(data)
		if json.Unmarshal(data, &ae) == nil && ae.Message != "" {
			reason = ae.Message
		}
		return &brokerage.PermanentError{Code: resp.StatusCode, Reason: reason}
	}
}

func toResult(resp orderResponse) brokerage.OrderResult {
	qty, _ := strconv.ParseFloat(resp.FilledQty, 64)
	price, _ := strconv.ParseFloat(resp.FilledAvgPrice, 64)

	status := brokerage.StatusAccepted
	switch resp.Status {
	case "filled":
		status = brokerage.StatusFilled
	case "canceled", "expired":
		status = brokerage.StatusCanceled
	case "rejected":
		status = brokerage.StatusRejected
	}
	return brokerage.OrderResult{
		OrderID:        resp.ID,
		Status:         status,
		FilledQty:      qty,
		FilledAvgPrice: price,
	}
}

func trim(data []byte) string {
	const max = 200
	s := string(data)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
