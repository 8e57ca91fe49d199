package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"copytrading-core/internal/bot"
	"copytrading-core/internal/events"
	"copytrading-core/internal/gateway"
	"copytrading-core/internal/monitor"
	"copytrading-core/internal/scheduler"
	"copytrading-core/pkg/brokerage"
	"copytrading-core/pkg/brokerage/paper"
	"copytrading-core/pkg/crypto"
	"copytrading-core/pkg/db"
)

type stubCycles struct {
	report scheduler.Report
}

func (s *stubCycles) RunCycle(ctx context.Context) (scheduler.Report, error) {
	return s.report, nil
}

func newTestAPIServer(t *testing.T) (*httptest.Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bus := events.NewBus()
	sealer, err := crypto.NewSealer("test-passphrase")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	factory := gateway.Factory(func(apiKey, apiSecret string, paperMode bool) brokerage.Gateway {
		return paper.New()
	})
	pool := gateway.NewPool(database, sealer, factory)
	controller := bot.NewController(database, bus, 3, bot.DefaultPolicy())

	server := NewServer(
		bus,
		database,
		controller,
		monitor.NewMetrics(),
		&stubCycles{},
		sealer,
		pool,
		factory,
		"test-secret",
		SystemMeta{PaperGateway: true, CycleInterval: 30 * time.Minute, Version: "test"},
	)

	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts, database
}

func doJSON(t *testing.T, method, url, token string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func registerAndLogin(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"email":    "trader@example.com",
		"password": "hunter22",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "trader@example.com",
		"password": "hunter22",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func connectAccount(t *testing.T, ts *httptest.Server, token string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/trading/account/connect", token, map[string]string{
		"api_key":      "PKTEST",
		"api_secret":   "SECRET",
		"account_type": "paper",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d body = %v", resp.StatusCode, body)
	}
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/system/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("system status = %d", resp.StatusCode)
	}
	if body["paper_gateway"] != true {
		t.Fatalf("unexpected system status: %v", body)
	}
}

func TestAuthFlow(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	// Protected routes reject anonymous calls.
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/status", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	// Garbage tokens too.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/status", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}

	token := registerAndLogin(t, ts)
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authed status = %d, want 200", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad email status = %d, want 400", resp.StatusCode)
	}

	// Duplicate registration conflicts.
	registerAndLogin(t, ts)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"email": "trader@example.com", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", resp.StatusCode)
	}

	// Addresses are normalized, so a case-shifted duplicate conflicts too.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"email": "  Trader@Example.com ", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("case-shifted duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	registerAndLogin(t, ts)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email": "TRADER@example.com", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	if token, _ := body["token"].(string); token == "" {
		t.Fatal("login returned no token")
	}
	if email, _ := body["email"].(string); email != "trader@example.com" {
		t.Fatalf("email = %q, want normalized form", email)
	}
}

func TestBotLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	token := registerAndLogin(t, ts)

	// Starting without a brokerage link fails fast.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/trading/bot/start", token, nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "NO_BROKERAGE_LINK" {
		t.Fatalf("start without link: status=%d body=%v", resp.StatusCode, body)
	}

	connectAccount(t, ts, token)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/trading/bot/start", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["is_active"] != true {
		t.Fatalf("expected active bot, got %v", body)
	}
	followed, _ := body["followed_politicians"].([]any)
	if len(followed) != 1 || followed[0] != "Nancy Pelosi" {
		t.Fatalf("unexpected followed list: %v", body["followed_politicians"])
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/trading/bot/stop", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/status", token, nil)
	if body["is_active"] != false {
		t.Fatalf("expected stopped bot, got %v", body)
	}
}

func TestUpdateSettingsOverHTTP(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	token := registerAndLogin(t, ts)
	connectAccount(t, ts, token)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/trading/bot/settings", token, map[string]any{
		"followed_politicians":  []string{"Nancy Pelosi", "Dan Crenshaw"},
		"min_trade_notional":    20000,
		"position_fraction":     0.2,
		"max_position_notional": 2000,
		"paper":                 true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/status", token, nil)
	followed, _ := body["followed_politicians"].([]any)
	if len(followed) != 2 {
		t.Fatalf("settings not applied: %v", body)
	}
	_ = resp

	// Invalid settings are rejected.
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/trading/bot/settings", token, map[string]any{
		"position_fraction":     2.0,
		"max_position_notional": 2000,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid settings status = %d, want 400", resp.StatusCode)
	}
}

func TestConnectAccountValidation(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	token := registerAndLogin(t, ts)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/trading/account/connect", token, map[string]string{
		"api_key": "", "api_secret": "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty credentials status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/trading/account/connect", token, map[string]string{
		"api_key": "k", "api_secret": "s", "account_type": "margin",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad account type status = %d, want 400", resp.StatusCode)
	}
}

func TestListTradesOverHTTP(t *testing.T) {
	ts, database := newTestAPIServer(t)
	token := registerAndLogin(t, ts)

	// Find the registered user's id to attach a trade record.
	user, err := database.GetUserByEmail(context.Background(), "trader@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	created, err := database.TryCreateBotTrade(context.Background(), db.BotTrade{
		ID: "t1", UserID: user.ID, EventID: "e1", Ticker: "NVDA", Side: "buy", Notional: 1000, Status: db.StatusFilled,
	})
	if err != nil || !created {
		t.Fatalf("TryCreateBotTrade: created=%v err=%v", created, err)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/trades", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trades status = %d", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Fatalf("unexpected trade count: %v", body)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/trading/bot/trades?limit=0", token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if _, ok := body["cycles_run"]; !ok {
		t.Fatalf("metrics body missing counters: %v", body)
	}
}

func TestRunCycleEndpoint(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	token := registerAndLogin(t, ts)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/system/run-cycle", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run-cycle status = %d body=%v", resp.StatusCode, body)
	}
}
