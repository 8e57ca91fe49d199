package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copytrading-core/internal/api"
	"copytrading-core/internal/bot"
	"copytrading-core/internal/events"
	"copytrading-core/internal/execution"
	"copytrading-core/internal/gateway"
	"copytrading-core/internal/monitor"
	"copytrading-core/internal/reconciliation"
	"copytrading-core/internal/scheduler"
	"copytrading-core/internal/sizing"
	"copytrading-core/pkg/brokerage"
	"copytrading-core/pkg/brokerage/alpaca"
	"copytrading-core/pkg/brokerage/paper"
	"copytrading-core/pkg/config"
	"copytrading-core/pkg/crypto"
	"copytrading-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("copytrading-core starting on port %s", cfg.Port)
	log.Printf("using database at %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("sealer init failed: %v", err)
	}

	// Gateway factory: one brokerage client per linked account. Paper mode
	// fills in-process and never calls out.
	var factory gateway.Factory
	if cfg.UsePaperGateway {
		log.Println("paper gateway enabled, orders fill in-process")
		factory = func(apiKey, apiSecret string, paperMode bool) brokerage.Gateway {
			return paper.New()
		}
	} else {
		factory = func(apiKey, apiSecret string, paperMode bool) brokerage.Gateway {
			baseURL := cfg.BrokerageBaseURL
			if paperMode {
				baseURL = cfg.BrokeragePaperURL
			}
			return alpaca.New(alpaca.Config{
				BaseURL:   baseURL,
				APIKey:    apiKey,
				APISecret: apiSecret,
				RateLimit: cfg.BrokerageRateLimit,
			})
		}
	}

	pool := gateway.NewPool(database, sealer, factory)
	pool.Start(ctx)

	// Bot defaults from the policy file, falling back to built-ins.
	policy, err := bot.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("bot policy load failed: %v", err)
	}
	log.Printf("bot defaults: following %d politicians, min notional $%.0f",
		len(policy.FollowedPoliticians), policy.MinTradeNotional)

	controller := bot.NewController(database, bus, cfg.PauseAfterFailures, policy)
	if err := controller.Load(ctx); err != nil {
		log.Fatalf("bot state load failed: %v", err)
	}

	metrics := monitor.NewMetrics()

	executor := &execution.Executor{
		DB:       database,
		Bus:      bus,
		Resolver: pool,
		Policy: execution.RetryPolicy{
			MaxAttempts: cfg.MaxOrderAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Metrics: metrics,
	}

	sched := &scheduler.Scheduler{
		DB:       database,
		Source:   database,
		Executor: executor,
		Bot:      controller,
		Sizing:   sizing.Calculator{MinTradableNotional: cfg.MinTradableNotional},
		Bus:      bus,
		Metrics:  metrics,
		Interval: cfg.CycleInterval,
		Workers:  cfg.CycleWorkers,
	}
	sched.Start(ctx)

	recon := reconciliation.NewService(database, pool, bus, cfg.ReconcileInterval)
	recon.Start(ctx)
	log.Printf("reconciliation started, polling every %s", cfg.ReconcileInterval)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	// API
	server := api.NewServer(
		bus,
		database,
		controller,
		metrics,
		sched,
		sealer,
		pool,
		factory,
		cfg.JWTSecret,
		api.SystemMeta{
			PaperGateway:  cfg.UsePaperGateway,
			CycleInterval: cfg.CycleInterval,
			Version:       buildVersion,
		},
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()

	// Give the in-flight cycle a moment to reach an event boundary.
	time.Sleep(200 * time.Millisecond)
}
