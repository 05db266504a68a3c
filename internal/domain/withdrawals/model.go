package withdrawals

import (
	"errors"
	"time"
)

// ErrDuplicate is returned when a withdrawal already exists for the SKU and date.
var ErrDuplicate = errors.New("withdrawal already recorded for this sku and date")

// Record is the gross kg pulled from the freezer for one SKU on one day, with the inputs that produced it.
type Record struct {
	ID            int64
	SKU           string
	Date          time.Time
	Qty           float64 // gross kg
	Forecast      float64
	Volatility    float64
	PriorQty      float64
	RecentAverage float64
	RawQty        float64 // before clamping
	Method        string  // forecast method used
	Bound         string  // clamp that decided Qty
	CreatedAt     time.Time
}
