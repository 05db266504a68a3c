package sheets

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/replenishment"
)

const reportSheet = "report"

var reportHeader = []any{
	"date", "sku", "withdraw_kg", "thawing_kg", "available_kg", "max_age",
	"forecast_kg", "volatility", "method", "bound", "batches",
}

// DailyReport renders the report as an xlsx workbook, one row per product. Quantities are rounded to
// two decimals.
func DailyReport(rep *replenishment.DailyReport) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), reportSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(reportSheet, "A1", &reportHeader); err != nil {
		return nil, err
	}

	for i, row := range rep.Rows {
		var withdraw, forecast, volatility float64
		method, bound := "", ""
		if w := row.Withdrawal; w != nil {
			withdraw, forecast, volatility = w.Qty, w.Forecast, w.Volatility
			method, bound = w.Method, w.Bound
		}
		values := []any{
			days.Format(rep.Date),
			row.Product.SKU,
			round2(withdraw),
			round2(row.Stock.ThawingTomorrow),
			round2(row.Stock.Available),
			row.Stock.MaxAge,
			round2(forecast),
			round2(volatility),
			method,
			bound,
			row.Summary.Count - row.Summary.ByStatus[batches.StatusSoldOut],
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(reportSheet, "A", "B", 14)

	return f.WriteToBuffer()
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
