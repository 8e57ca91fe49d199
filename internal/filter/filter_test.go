package filter

import (
	"testing"
	"time"

	"copytrading-core/pkg/db"
)

func activeConfig(t *testing.T, followed []string, minNotional float64) db.BotConfig {
	t.Helper()
	cfg := db.BotConfig{
		UserID:              "u1",
		IsActive:            true,
		MinNotional:         minNotional,
		PositionFraction:    0.1,
		MaxPositionNotional: 1000,
	}
	if err := cfg.SetFollowed(followed); err != nil {
		t.Fatalf("SetFollowed: %v", err)
	}
	return cfg
}

func buyEvent(politician, ticker string, notional float64) db.TradeEvent {
	return db.TradeEvent{
		ID:          "e1",
		Politician:  politician,
		Ticker:      ticker,
		Kind:        db.KindBuy,
		Notional:    notional,
		DisclosedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate(t *testing.T) {
	cfg := activeConfig(t, []string{"Nancy Pelosi"}, 15000)

	tests := []struct {
		name       string
		event      db.TradeEvent
		config     db.BotConfig
		wantCopy   bool
		wantReason string
	}{
		{
			name:     "followed buy above threshold",
			event:    buyEvent("Nancy Pelosi", "NVDA", 50000),
			config:   cfg,
			wantCopy: true,
		},
		{
			name: "inactive bot rejects everything",
			event: buyEvent("Nancy Pelosi", "NVDA", 50000),
			config: func() db.BotConfig {
				c := activeConfig(t, []string{"Nancy Pelosi"}, 15000)
				c.IsActive = false
				return c
			}(),
			wantReason: ReasonBotInactive,
		},
		{
			name: "sell is never copied",
			event: func() db.TradeEvent {
				ev := buyEvent("Nancy Pelosi", "NVDA", 50000)
				ev.Kind = db.KindSell
				return ev
			}(),
			config:     cfg,
			wantReason: ReasonNotBuy,
		},
		{
			name: "unknown kind is never copied",
			event: func() db.TradeEvent {
				ev := buyEvent("Nancy Pelosi", "NVDA", 50000)
				ev.Kind = db.KindUnknown
				return ev
			}(),
			config:     cfg,
			wantReason: ReasonNotBuy,
		},
		{
			name:       "politician not followed",
			event:      buyEvent("Dan Crenshaw", "XOM", 50000),
			config:     cfg,
			wantReason: ReasonNotFollowed,
		},
		{
			name:       "below minimum notional",
			event:      buyEvent("Nancy Pelosi", "NVDA", 10000),
			config:     cfg,
			wantReason: ReasonBelowThreshold,
		},
		{
			name:     "exactly at threshold passes",
			event:    buyEvent("Nancy Pelosi", "NVDA", 15000),
			config:   cfg,
			wantCopy: true,
		},
		{
			name:       "empty followed list rejects all politicians",
			event:      buyEvent("Nancy Pelosi", "NVDA", 50000),
			config:     activeConfig(t, nil, 15000),
			wantReason: ReasonNotFollowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.event, tt.config)
			if got.Eligible != tt.wantCopy {
				t.Fatalf("Eligible = %v, want %v (reason %q)", got.Eligible, tt.wantCopy, got.Reason)
			}
			if got.Reason != tt.wantReason {
				t.Fatalf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

// Predicate order is part of the contract: an inactive bot wins over a
// non-followed politician, and so on down the chain.
func TestEvaluateFirstFailureWins(t *testing.T) {
	cfg := activeConfig(t, []string{"Nancy Pelosi"}, 15000)
	cfg.IsActive = false

	ev := buyEvent("Dan Crenshaw", "XOM", 100) // would also fail follow and threshold
	ev.Kind = db.KindSell

	got := Evaluate(ev, cfg)
	if got.Reason != ReasonBotInactive {
		t.Fatalf("Reason = %q, want %q", got.Reason, ReasonBotInactive)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := activeConfig(t, []string{"Nancy Pelosi"}, 15000)
	ev := buyEvent("Nancy Pelosi", "NVDA", 10000)

	first := Evaluate(ev, cfg)
	for i := 0; i < 10; i++ {
		if got := Evaluate(ev, cfg); got != first {
			t.Fatalf("verdict changed between runs: %+v vs %+v", got, first)
		}
	}
}
