// Package planning turns a demand forecast into the gross kg to pull from the freezer.
package planning

import (
	"math"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
)

// SafetyMultiplier is the z-score of the safety stock (about 95% one-sided service level).
const SafetyMultiplier = 1.65

// Bound names the rule that decided the final quantity.
type Bound string

const (
	BoundNone     Bound = "none"
	BoundFloor    Bound = "floor"
	BoundCapacity Bound = "capacity"
	BoundCeiling  Bound = "recent-average"
)

type Input struct {
	Forecast      float64 // kg expected on the day the withdrawal becomes sellable
	Volatility    float64
	PriorQty      float64 // gross kg withdrawn the day before
	RecentAverage float64
	MaxCapacity   float64
}

type Withdrawal struct {
	Raw   float64
	Qty   float64
	Bound Bound
}

type Calculator struct {
	K     float64
	Yield float64
}

func NewCalculator() *Calculator {
	return &Calculator{K: SafetyMultiplier, Yield: batches.YieldFactor}
}

// Compute covers forecast demand plus the safety buffer after yield loss, minus what yesterday's
// withdrawal already puts in the pipeline. The result is floored at 0, then capped by the capacity and
// by twice the recent average demand (in gross kg).
func (c *Calculator) Compute(in Input) Withdrawal {
	raw := (in.Forecast + c.K*in.Volatility - c.Yield*in.PriorQty) / c.Yield
	w := Withdrawal{Raw: raw, Qty: raw, Bound: BoundNone}
	if math.IsNaN(raw) {
		w.Qty = 0
	}

	if w.Qty < 0 {
		w.Qty, w.Bound = 0, BoundFloor
	}
	if w.Qty > in.MaxCapacity {
		w.Qty, w.Bound = in.MaxCapacity, BoundCapacity
	}
	if ceiling := 2 * in.RecentAverage / c.Yield; w.Qty > ceiling {
		w.Qty, w.Bound = math.Max(ceiling, 0), BoundCeiling
	}
	return w
}
