// Package monitor tracks core throughput and latency for the metrics endpoint.
package monitor

import (
	"sync/atomic"
	"time"

	"copytrading-core/pkg/db"
)

// Metrics aggregates counters across cycles. All methods are safe for
// concurrent use by pipeline workers and tolerate a nil receiver so wiring
// metrics stays optional.
type Metrics struct {
	cyclesRun       uint64
	cyclesSkipped   uint64
	eventsEvaluated uint64
	tradesCopied    uint64
	ordersSubmitted uint64
	ordersRejected  uint64
	ordersFailed    uint64
	apiRequests     uint64
	apiErrors       uint64

	OrderLatency *LatencyHistogram
	APILatency   *LatencyHistogram
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		OrderLatency: NewLatencyHistogram(1000),
		APILatency:   NewLatencyHistogram(1000),
	}
}

func (m *Metrics) CountCycle(skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		atomic.AddUint64(&m.cyclesSkipped, 1)
		return
	}
	atomic.AddUint64(&m.cyclesRun, 1)
}

func (m *Metrics) CountEventsEvaluated(n int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.eventsEvaluated, uint64(n))
}

func (m *Metrics) CountTradeCopied() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesCopied, 1)
}

// CountOrder tallies a terminal execution outcome.
func (m *Metrics) CountOrder(status string) {
	if m == nil {
		return
	}
	switch status {
	case db.StatusSubmitted, db.StatusFilled:
		atomic.AddUint64(&m.ordersSubmitted, 1)
	case db.StatusRejected:
		atomic.AddUint64(&m.ordersRejected, 1)
	case db.StatusFailed:
		atomic.AddUint64(&m.ordersFailed, 1)
	}
}

func (m *Metrics) IncrementAPI() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.apiRequests, 1)
}

func (m *Metrics) IncrementAPIErrors() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.apiErrors, 1)
}

func (m *Metrics) ObserveAPILatency(d time.Duration) {
	if m == nil {
		return
	}
	m.APILatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveOrderLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.OrderLatency.Observe(float64(d.Milliseconds()))
}

// Snapshot is the JSON shape served by /api/metrics.
type Snapshot struct {
	CyclesRun       uint64       `json:"cycles_run"`
	CyclesSkipped   uint64       `json:"cycles_skipped"`
	EventsEvaluated uint64       `json:"events_evaluated"`
	TradesCopied    uint64       `json:"trades_copied"`
	OrdersSubmitted uint64       `json:"orders_submitted"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	OrdersFailed    uint64       `json:"orders_failed"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	OrderLatencyMs  LatencyStats `json:"order_latency_ms"`
	APILatencyMs    LatencyStats `json:"api_latency_ms"`
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		CyclesRun:       atomic.LoadUint64(&m.cyclesRun),
		CyclesSkipped:   atomic.LoadUint64(&m.cyclesSkipped),
		EventsEvaluated: atomic.LoadUint64(&m.eventsEvaluated),
		TradesCopied:    atomic.LoadUint64(&m.tradesCopied),
		OrdersSubmitted: atomic.LoadUint64(&m.ordersSubmitted),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		OrdersFailed:    atomic.LoadUint64(&m.ordersFailed),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		OrderLatencyMs:  m.OrderLatency.Stats(),
		APILatencyMs:    m.APILatency.Stats(),
	}
}
