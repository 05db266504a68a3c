package sales

import "time"

// Record is one fulfilled sale (or one imported history row). Records are never updated.
type Record struct {
	ID        int64
	SKU       string
	Date      time.Time
	Qty       float64 // kg sold
	Requested float64 // kg asked for; above Qty when stock ran out
	CreatedAt time.Time
}

// Shortfall is the demand the stock could not cover.
func (r Record) Shortfall() float64 {
	if r.Requested <= r.Qty {
		return 0
	}
	return r.Requested - r.Qty
}
