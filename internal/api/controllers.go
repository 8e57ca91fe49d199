package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"copytrading-core/internal/bot"
	"copytrading-core/pkg/db"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "running",
		"version":        s.Meta.Version,
		"paper_gateway":  s.Meta.PaperGateway,
		"cycle_interval": s.Meta.CycleInterval.String(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

// connectBrokerageAccount validates submitted credentials against the
// brokerage before sealing and storing them. A failed probe never persists.
func (s *Server) connectBrokerageAccount(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		APIKey      string `json:"api_key"`
		APISecret   string `json:"api_secret"`
		AccountType string `json:"account_type"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.APISecret = strings.TrimSpace(req.APISecret)
	if req.APIKey == "" || req.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_CREDENTIALS",
			"error": "api_key and api_secret are required",
		})
		return
	}
	if req.AccountType == "" {
		req.AccountType = "paper"
	}
	if req.AccountType != "paper" && req.AccountType != "live" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_ACCOUNT_TYPE",
			"error": "account_type must be paper or live",
		})
		return
	}

	ctx := c.Request.Context()
	gw := s.Factory(req.APIKey, req.APISecret, req.AccountType == "paper")
	acct, err := gw.GetAccount(ctx)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "CREDENTIAL_PROBE_FAILED",
			"error": "brokerage rejected the credentials: " + err.Error(),
		})
		return
	}

	keySealed, err := s.Sealer.Seal(req.APIKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to seal credentials",
		})
		return
	}
	secretSealed, err := s.Sealer.Seal(req.APISecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to seal credentials",
		})
		return
	}

	now := time.Now()
	account := db.BrokerageAccount{
		ID:              uuid.NewString(),
		UserID:          userID,
		APIKeySealed:    keySealed,
		APISecretSealed: secretSealed,
		AccountType:     req.AccountType,
		IsActive:        true,
		IsValid:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.DB.UpsertBrokerageAccount(ctx, account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	// Drop any cached gateway built from the old credentials.
	s.Pool.Invalidate(userID)

	c.JSON(http.StatusOK, gin.H{
		"connected":    true,
		"account_id":   acct.ID,
		"account_type": req.AccountType,
		"buying_power": acct.BuyingPower,
	})
}

func (s *Server) startBot(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	err := s.Bot.StartBot(ctx, userID)
	switch {
	case errors.Is(err, bot.ErrNoBrokerageLink):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "NO_BROKERAGE_LINK",
			"error": err.Error(),
		})
		return
	case errors.Is(err, bot.ErrLinkInvalid):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "LINK_INVALID",
			"error": err.Error(),
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"started": true,
		"message": "trading bot is active",
	})
}

func (s *Server) stopBot(c *gin.Context) {
	userID := CurrentUserID(c)

	if err := s.Bot.StopBot(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stopped": true,
		"message": "trading bot is stopped",
	})
}

func (s *Server) getBotStatus(c *gin.Context) {
	userID := CurrentUserID(c)

	status, err := s.Bot.GetStatus(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) updateBotSettings(c *gin.Context) {
	userID := CurrentUserID(c)

	var req bot.Settings
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	if err := s.Bot.UpdateSettings(c.Request.Context(), userID, req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_SETTINGS",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updated": true,
		"message": "settings apply from the next cycle",
	})
}

func (s *Server) listBotTrades(c *gin.Context) {
	userID := CurrentUserID(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_LIMIT",
				"error": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	trades, err := s.DB.ListBotTradesByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"id":              t.ID,
			"event_id":        t.EventID,
			"ticker":          t.Ticker,
			"side":            t.Side,
			"notional":        t.Notional,
			"fill_qty":        t.FillQty,
			"fill_price":      t.FillPrice,
			"broker_order_id": t.BrokerOrderID,
			"profit_loss":     t.ProfitLoss,
			"status":          t.Status,
			"attempts":        t.Attempts,
			"last_error":      t.LastError,
			"created_at":      t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": out,
		"count":  len(out),
	})
}

// runCycle triggers one decision cycle immediately. Useful for testing and
// backfills; the overlap guard still applies.
func (s *Server) runCycle(c *gin.Context) {
	report, err := s.Cycles.RunCycle(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, report)
}
