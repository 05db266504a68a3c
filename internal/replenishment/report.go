package replenishment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
	"github.com/zenithfresh/thawplan/internal/storage"
)

// ReportRow is one product's line of the daily report.
type ReportRow struct {
	Product    products.Product
	Withdrawal *withdrawals.Record // nil when the flow has not run
	Stock      batches.Metrics
	Summary    batches.Summary
}

type DailyReport struct {
	Date time.Time
	Rows []ReportRow
}

func (s *Service) DailyReport(ctx context.Context, date time.Time) (*DailyReport, error) {
	date = days.Of(date)
	list, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	recs, err := s.store.WithdrawalsOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("withdrawals on %s: %w", days.Format(date), err)
	}
	bySKU := make(map[string]withdrawals.Record, len(recs))
	for _, r := range recs {
		bySKU[r.SKU] = r
	}

	rep := &DailyReport{Date: date, Rows: make([]ReportRow, 0, len(list))}
	for _, p := range list {
		row := ReportRow{Product: p}
		if r, ok := bySKU[p.SKU]; ok {
			row.Withdrawal = &r
		}
		err := s.store.Atomic(ctx, p.SKU, func(ctx context.Context, tx storage.Tx) error {
			store := batches.NewStore(tx.Batches())
			var err error
			if row.Stock, err = store.Metrics(ctx, p.SKU, date); err != nil {
				return err
			}
			row.Summary, err = store.Summary(ctx, p.SKU)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("stock of %s: %w", p.SKU, err)
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep, nil
}

// ImportResult counts what ImportSales did with each row.
type ImportResult struct {
	Imported int
	Rejected []RowError
}

type RowError struct {
	Row int // 1-based position in the input
	Err error
}

// ImportSales appends historical sales so the forecaster has history to work with. Invalid rows are
// reported and skipped; valid rows of the same SKU are written in one unit of work. Spreadsheets parsed by
// package sheets never carry a zero date, but records built by other callers can.
func (s *Service) ImportSales(ctx context.Context, rows []sales.Record) (ImportResult, error) {
	var res ImportResult
	bySKU := make(map[string][]sales.Record)
	var order []string
	for i, r := range rows {
		sku, err := products.NormalizeSKU(r.SKU)
		if err != nil {
			res.Rejected = append(res.Rejected, RowError{Row: i + 1, Err: err})
			continue
		}
		if r.Qty < 0 || math.IsNaN(r.Qty) || math.IsInf(r.Qty, 0) {
			res.Rejected = append(res.Rejected, RowError{Row: i + 1, Err: fmt.Errorf("%w: %v", batches.ErrInvalidQuantity, r.Qty)})
			continue
		}
		if r.Date.IsZero() {
			res.Rejected = append(res.Rejected, RowError{Row: i + 1, Err: days.ErrInvalidDate})
			continue
		}
		if r.Requested < r.Qty {
			r.Requested = r.Qty
		}
		r.SKU, r.Date = sku, days.Of(r.Date)
		if _, ok := bySKU[sku]; !ok {
			order = append(order, sku)
		}
		bySKU[sku] = append(bySKU[sku], r)
	}

	for _, sku := range order {
		recs := bySKU[sku]
		err := func() error {
			defer s.locks.lock(sku)()
			return s.store.Atomic(ctx, sku, func(ctx context.Context, tx storage.Tx) error {
				for i := range recs {
					if err := tx.Sales().Append(ctx, &recs[i]); err != nil {
						return err
					}
				}
				return nil
			})
		}()
		if err != nil {
			return res, fmt.Errorf("import sales of %s: %w", sku, err)
		}
		res.Imported += len(recs)
	}
	s.log.Info("sales imported", "rows", len(rows), "imported", res.Imported, "rejected", len(res.Rejected))
	return res, nil
}
