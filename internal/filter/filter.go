// Package filter decides whether a disclosed trade should be copied for a
// given user. The pipeline is pure: same event and config always produce the
// same verdict and reason.
package filter

import (
	"copytrading-core/pkg/db"
)

// Rejection reasons surfaced in logs and status. Stable strings; tests and
// the audit trail depend on them.
const (
	ReasonBotInactive    = "bot inactive"
	ReasonNotBuy         = "not a buy"
	ReasonNotFollowed    = "politician not followed"
	ReasonBelowThreshold = "below minimum notional"
)

// Verdict is the outcome of evaluating one (event, config) pair.
type Verdict struct {
	Eligible bool
	Reason   string // empty when eligible
}

type predicate struct {
	reason string
	pass   func(ev db.TradeEvent, cfg db.BotConfig) bool
}

// Predicates run in fixed order; the first failure short-circuits.
var predicates = []predicate{
	{ReasonBotInactive, func(_ db.TradeEvent, cfg db.BotConfig) bool {
		return cfg.IsActive
	}},
	{ReasonNotBuy, func(ev db.TradeEvent, _ db.BotConfig) bool {
		return ev.Kind == db.KindBuy
	}},
	{ReasonNotFollowed, func(ev db.TradeEvent, cfg db.BotConfig) bool {
		for _, name := range cfg.FollowedList() {
			if name == ev.Politician {
				return true
			}
		}
		return false
	}},
	{ReasonBelowThreshold, func(ev db.TradeEvent, cfg db.BotConfig) bool {
		return ev.Notional >= cfg.MinNotional
	}},
}

// Evaluate runs the predicate pipeline.
func Evaluate(ev db.TradeEvent, cfg db.BotConfig) Verdict {
	for _, p := range predicates {
		if !p.pass(ev, cfg) {
			return Verdict{Eligible: false, Reason: p.reason}
		}
	}
	return Verdict{Eligible: true}
}
