package monitor

import (
	"sync"
	"testing"
	"time"

	"copytrading-core/pkg/db"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.CountCycle(false)
	m.CountCycle(false)
	m.CountCycle(true)
	m.CountEventsEvaluated(5)
	m.CountTradeCopied()
	m.CountOrder(db.StatusSubmitted)
	m.CountOrder(db.StatusFilled)
	m.CountOrder(db.StatusRejected)
	m.CountOrder(db.StatusFailed)
	m.ObserveOrderLatency(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.CyclesRun != 2 || snap.CyclesSkipped != 1 {
		t.Fatalf("cycles: %+v", snap)
	}
	if snap.EventsEvaluated != 5 || snap.TradesCopied != 1 {
		t.Fatalf("pipeline counters: %+v", snap)
	}
	// Filled submissions count toward submitted.
	if snap.OrdersSubmitted != 2 || snap.OrdersRejected != 1 || snap.OrdersFailed != 1 {
		t.Fatalf("order counters: %+v", snap)
	}
	if snap.OrderLatencyMs.Count != 1 {
		t.Fatalf("latency samples: %+v", snap.OrderLatencyMs)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	// A nil metrics sink must be a silent no-op everywhere.
	m.CountCycle(false)
	m.CountCycle(true)
	m.CountEventsEvaluated(3)
	m.CountTradeCopied()
	m.CountOrder(db.StatusSubmitted)
	m.ObserveOrderLatency(time.Millisecond)
	m.IncrementAPI()
	m.IncrementAPIErrors()
	m.ObserveAPILatency(time.Millisecond)

	if snap := m.Snapshot(); snap != (Snapshot{}) {
		t.Fatalf("nil snapshot = %+v, want zero value", snap)
	}
}

func TestMetricsConcurrentUse(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.CountTradeCopied()
				m.ObserveOrderLatency(time.Duration(j) * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().TradesCopied; got != 800 {
		t.Fatalf("trades copied = %d, want 800", got)
	}
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(10)

	if stats := h.Stats(); stats.Count != 0 {
		t.Fatalf("empty histogram stats: %+v", stats)
	}

	for _, v := range []float64{10, 20, 30, 40, 50} {
		h.Observe(v)
	}
	stats := h.Stats()
	if stats.Min != 10 || stats.Max != 50 || stats.Avg != 30 || stats.Count != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)

	for _, v := range []float64{1, 2, 3, 100} {
		h.Observe(v)
	}
	stats := h.Stats()
	if stats.Count != 3 {
		t.Fatalf("window size = %d, want 3", stats.Count)
	}
	if stats.Min != 2 {
		t.Fatalf("oldest sample not evicted: %+v", stats)
	}
}
