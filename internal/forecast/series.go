package forecast

import (
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
)

// Daily resamples history into one value per calendar day, from the first sale through the day before
// asOf. Days without sales are zero; sales dated on or after asOf are ignored. The second return value is
// the number of distinct days that had at least one record.
func Daily(history []sales.Record, asOf time.Time) ([]float64, int) {
	asOf = days.Of(asOf)
	var first time.Time
	totals := make(map[time.Time]float64)
	for _, r := range history {
		d := days.Of(r.Date)
		if !d.Before(asOf) {
			continue
		}
		if first.IsZero() || d.Before(first) {
			first = d
		}
		totals[d] += r.Qty
	}
	if len(totals) == 0 {
		return nil, 0
	}

	n := days.Between(first, asOf)
	series := make([]float64, n)
	for d, qty := range totals {
		series[days.Between(first, d)] = qty
	}
	return series, len(totals)
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
