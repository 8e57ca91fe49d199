package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the copy-trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Scheduler
	CycleInterval time.Duration // cadence of the copy cycle
	CycleWorkers  int           // concurrent per-user pipelines within a cycle

	// Execution retry policy
	MaxOrderAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Sizing
	MinTradableNotional float64 // brokerage minimum tradable unit, in dollars

	// Safety
	PauseAfterFailures int // consecutive terminal failures before auto-pause

	// Brokerage
	BrokerageBaseURL   string
	BrokeragePaperURL  string
	BrokerageRateLimit float64 // requests per second against the brokerage API
	UsePaperGateway    bool    // simulate fills in-process, never call out

	// Reconciliation
	ReconcileInterval time.Duration

	// Bot policy defaults (YAML)
	PolicyPath string

	// Auth / credential storage
	JWTSecret     string
	EncryptionKey string // passphrase for sealing stored brokerage credentials
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/copytrading.db")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              dbPath,
		CycleInterval:       getEnvDuration("CYCLE_INTERVAL", 30*time.Minute),
		CycleWorkers:        getEnvInt("CYCLE_WORKERS", 4),
		MaxOrderAttempts:    getEnvInt("MAX_ORDER_ATTEMPTS", 3),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
		MinTradableNotional: getEnvFloat("MIN_TRADABLE_NOTIONAL", 1.0),
		PauseAfterFailures:  getEnvInt("PAUSE_AFTER_FAILURES", 3),
		BrokerageBaseURL:    getEnv("BROKERAGE_BASE_URL", "https://api.alpaca.markets"),
		BrokeragePaperURL:   getEnv("BROKERAGE_PAPER_URL", "https://paper-api.alpaca.markets"),
		BrokerageRateLimit:  getEnvFloat("BROKERAGE_RATE_LIMIT", 3),
		UsePaperGateway:     getEnv("USE_PAPER_GATEWAY", "true") == "true",
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		PolicyPath:          getEnv("BOT_POLICY_PATH", "./config/bot_policy.yaml"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		EncryptionKey:       getEnv("CREDENTIAL_KEY", "dev-credential-key"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
