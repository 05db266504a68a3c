package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zenithfresh/thawplan/internal/allocation"
	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/flow"
	"github.com/zenithfresh/thawplan/internal/replenishment"
)

// kg rounds to grams for responses.
func kg(v float64) float64 { return decimal.NewFromFloat(v).Round(3).InexactFloat64() }

type productDTO struct {
	SKU           string  `json:"sku"`
	ShelfLifeDays int     `json:"shelf_life_days"`
	MaxCapacity   float64 `json:"max_capacity"`
}

func toProduct(p products.Product) productDTO {
	return productDTO{SKU: p.SKU, ShelfLifeDays: p.ShelfLifeDays, MaxCapacity: p.MaxCapacity}
}

type batchDTO struct {
	ID           int64   `json:"id"`
	Status       string  `json:"status"`
	Age          int     `json:"age"`
	QtyGross     float64 `json:"qty_gross"`
	QtyWithdrawn float64 `json:"qty_withdrawn"`
	QtyRemaining float64 `json:"qty_remaining"`
	WithdrawnOn  string  `json:"withdrawn_on"`
	SellableOn   string  `json:"sellable_on"`
	ExpiresOn    string  `json:"expires_on"`
}

func toBatch(b *batches.Batch) batchDTO {
	return batchDTO{
		ID:           b.ID,
		Status:       string(b.Status),
		Age:          b.Age,
		QtyGross:     kg(b.QtyGross),
		QtyWithdrawn: kg(b.QtyWithdrawn),
		QtyRemaining: kg(b.QtyRemaining),
		WithdrawnOn:  days.Format(b.WithdrawnOn),
		SellableOn:   days.Format(b.SellableOn),
		ExpiresOn:    days.Format(b.ExpiresOn),
	}
}

type summaryDTO struct {
	SKU     string     `json:"sku"`
	Batches []batchDTO `json:"batches"`
	Metrics struct {
		TotalAvailable float64        `json:"total_available"`
		TotalInitial   float64        `json:"total_initial"`
		TotalCurrent   float64        `json:"total_current"`
		Count          int            `json:"count"`
		ByStatus       map[string]int `json:"by_status"`
	} `json:"metrics"`
}

func toSummary(s batches.Summary) summaryDTO {
	out := summaryDTO{SKU: s.SKU, Batches: make([]batchDTO, 0, len(s.Batches))}
	for _, b := range s.Batches {
		out.Batches = append(out.Batches, toBatch(b))
	}
	out.Metrics.TotalAvailable = kg(s.TotalAvailable)
	out.Metrics.TotalInitial = kg(s.TotalInitial)
	out.Metrics.TotalCurrent = kg(s.TotalCurrent)
	out.Metrics.Count = s.Count
	out.Metrics.ByStatus = make(map[string]int, len(s.ByStatus))
	for st, n := range s.ByStatus {
		out.Metrics.ByStatus[string(st)] = n
	}
	return out
}

type availabilityDTO struct {
	SKU             string  `json:"sku"`
	Date            string  `json:"date"`
	Available       float64 `json:"available"`
	ThawingTomorrow float64 `json:"thawing_tomorrow"`
	MaxAge          int     `json:"max_age"`
}

type flowDTO struct {
	RunID          string  `json:"run_id"`
	SKU            string  `json:"sku"`
	Date           string  `json:"date"`
	Step           string  `json:"step"`
	Withdrawal     float64 `json:"withdrawal"`
	RawWithdrawal  float64 `json:"raw_withdrawal"`
	Bound          string  `json:"bound"`
	Available      float64 `json:"available"`
	Thawing        float64 `json:"thawing_tomorrow"`
	MaxAge         int     `json:"max_age"`
	ExpiredBatches int     `json:"expired_batches"`
	ExpiredKg      float64 `json:"expired_kg"`
	Forecast       struct {
		Demand        float64 `json:"demand"`
		Volatility    float64 `json:"volatility"`
		RecentAverage float64 `json:"recent_average"`
		Method        string  `json:"method"`
		Observations  int     `json:"observations"`
	} `json:"forecast"`
}

func toFlow(r *flow.Report) flowDTO {
	out := flowDTO{
		RunID:          r.RunID.String(),
		SKU:            r.SKU,
		Date:           days.Format(r.Date),
		Step:           string(r.Step),
		Withdrawal:     kg(r.Withdrawal.Qty),
		RawWithdrawal:  kg(r.Withdrawal.Raw),
		Bound:          string(r.Withdrawal.Bound),
		Available:      kg(r.Available),
		Thawing:        kg(r.ThawingTomorrow),
		MaxAge:         r.MaxAge,
		ExpiredBatches: len(r.Expired),
		ExpiredKg:      kg(r.ExpiredQty),
	}
	out.Forecast.Demand = kg(r.Forecast.Demand)
	out.Forecast.Volatility = kg(r.Forecast.Volatility)
	out.Forecast.RecentAverage = kg(r.Forecast.RecentAverage)
	out.Forecast.Method = string(r.Forecast.Method)
	out.Forecast.Observations = r.Forecast.Observations
	return out
}

type outcomeDTO struct {
	SKU    string   `json:"sku"`
	Report *flowDTO `json:"report,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func toOutcomes(list []replenishment.Outcome) []outcomeDTO {
	out := make([]outcomeDTO, 0, len(list))
	for _, o := range list {
		dto := outcomeDTO{SKU: o.SKU}
		if o.Report != nil {
			r := toFlow(o.Report)
			dto.Report = &r
		}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}

type saleRequest struct {
	Kg   float64 `json:"kg"`
	Date string  `json:"date"`
}

type drawDTO struct {
	BatchID int64   `json:"batch_id"`
	Qty     float64 `json:"qty"`
	Status  string  `json:"status"`
}

type saleDTO struct {
	SKU       string    `json:"sku"`
	Date      string    `json:"date"`
	Requested float64   `json:"requested"`
	Fulfilled float64   `json:"fulfilled"`
	Shortfall float64   `json:"shortfall"`
	Draws     []drawDTO `json:"draws"`
}

func toSale(sku string, date time.Time, r allocation.Result) saleDTO {
	out := saleDTO{
		SKU:       sku,
		Date:      days.Format(date),
		Requested: kg(r.Requested),
		Fulfilled: kg(r.Fulfilled),
		Shortfall: kg(r.Shortfall),
		Draws:     make([]drawDTO, 0, len(r.Draws)),
	}
	for _, d := range r.Draws {
		out.Draws = append(out.Draws, drawDTO{BatchID: d.BatchID, Qty: kg(d.Qty), Status: string(d.Status)})
	}
	return out
}

type importDTO struct {
	Imported int      `json:"imported"`
	Rejected []string `json:"rejected"`
}
