package sizing

import (
	"math"
	"testing"
)

func TestOrderNotional(t *testing.T) {
	calc := Calculator{MinTradableNotional: 1}

	tests := []struct {
		name          string
		eventNotional float64
		fraction      float64
		maxPosition   float64
		want          float64
		wantOK        bool
	}{
		{
			// $50k estimated buy, 10% fraction capped at $1000.
			name:          "cap wins",
			eventNotional: 50000,
			fraction:      0.1,
			maxPosition:   1000,
			want:          1000,
			wantOK:        true,
		},
		{
			// 10% of $8k is under the $1000 cap.
			name:          "fraction wins",
			eventNotional: 8000,
			fraction:      0.1,
			maxPosition:   1000,
			want:          800,
			wantOK:        true,
		},
		{
			name:          "fractional result floors to unit",
			eventNotional: 15555,
			fraction:      0.1,
			maxPosition:   10000,
			want:          1555,
			wantOK:        true,
		},
		{
			name:          "collapses to zero below unit",
			eventNotional: 5,
			fraction:      0.1,
			maxPosition:   1000,
			wantOK:        false,
		},
		{
			name:          "zero event notional",
			eventNotional: 0,
			fraction:      0.1,
			maxPosition:   1000,
			wantOK:        false,
		},
		{
			name:          "zero fraction",
			eventNotional: 50000,
			fraction:      0,
			maxPosition:   1000,
			wantOK:        false,
		},
		{
			name:          "zero cap",
			eventNotional: 50000,
			fraction:      0.1,
			maxPosition:   0,
			wantOK:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := calc.OrderNotional(tt.eventNotional, tt.fraction, tt.maxPosition)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Fatalf("notional = %v, want %v", got, tt.want)
			}
		})
	}
}

// The sized order never exceeds either bound and is never zero when ok.
func TestOrderNotionalBounds(t *testing.T) {
	calc := Calculator{MinTradableNotional: 1}

	notionals := []float64{1, 10, 999, 1000, 1001, 15000, 50000, 1e7}
	fractions := []float64{0.01, 0.1, 0.5, 1.0}
	caps := []float64{1, 100, 1000, 25000}

	for _, n := range notionals {
		for _, f := range fractions {
			for _, c := range caps {
				got, ok := calc.OrderNotional(n, f, c)
				if !ok {
					continue
				}
				if got <= 0 {
					t.Fatalf("OrderNotional(%v, %v, %v) = %v, must be positive", n, f, c, got)
				}
				bound := math.Min(c, f*n)
				if got > bound {
					t.Fatalf("OrderNotional(%v, %v, %v) = %v exceeds bound %v", n, f, c, got, bound)
				}
			}
		}
	}
}

func TestOrderNotionalZeroUnitSkipsFlooring(t *testing.T) {
	calc := Calculator{}

	got, ok := calc.OrderNotional(3111, 0.5, 10000)
	if !ok {
		t.Fatal("expected ok")
	}
	if got != 1555.5 {
		t.Fatalf("notional = %v, want 1555.5", got)
	}
}
