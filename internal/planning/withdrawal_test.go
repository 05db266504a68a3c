package planning

import (
	"math"
	"testing"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		in        Input
		wantQty   float64
		wantBound Bound
	}{
		{
			name:      "unbounded",
			in:        Input{Forecast: 17, Volatility: 0, PriorQty: 0, RecentAverage: 100, MaxCapacity: 100},
			wantQty:   20,
			wantBound: BoundNone,
		},
		{
			name:      "prior covers demand",
			in:        Input{Forecast: 10, Volatility: 1, PriorQty: 50, RecentAverage: 10, MaxCapacity: 100},
			wantQty:   0,
			wantBound: BoundFloor,
		},
		{
			name:      "capacity",
			in:        Input{Forecast: 170, Volatility: 0, PriorQty: 0, RecentAverage: 1000, MaxCapacity: 50},
			wantQty:   50,
			wantBound: BoundCapacity,
		},
		{
			name:      "recent average ceiling",
			in:        Input{Forecast: 170, Volatility: 10, PriorQty: 0, RecentAverage: 17, MaxCapacity: 500},
			wantQty:   40,
			wantBound: BoundCeiling,
		},
		{
			name:      "no history",
			in:        Input{MaxCapacity: 50},
			wantQty:   0,
			wantBound: BoundNone,
		},
	}

	c := NewCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Compute(tt.in)
			if math.Abs(got.Qty-tt.wantQty) > 1e-9 || got.Bound != tt.wantBound {
				t.Fatalf("want %v (%s), got %v (%s), raw %v", tt.wantQty, tt.wantBound, got.Qty, got.Bound, got.Raw)
			}
		})
	}
}

func TestCompute_StaysWithinBounds(t *testing.T) {
	c := NewCalculator()
	for forecast := 0.0; forecast <= 300; forecast += 7.5 {
		for _, vol := range []float64{0, 2, 15} {
			for _, prior := range []float64{0, 10, 80} {
				for _, avg := range []float64{0, 5, 40} {
					in := Input{Forecast: forecast, Volatility: vol, PriorQty: prior, RecentAverage: avg, MaxCapacity: 60}
					q := c.Compute(in).Qty
					upper := math.Min(in.MaxCapacity, 2*avg/c.Yield)
					if q < 0 || q > upper+1e-9 {
						t.Fatalf("%+v: qty %v outside [0, %v]", in, q, upper)
					}
				}
			}
		}
	}
}
