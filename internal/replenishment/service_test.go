package replenishment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zenithfresh/thawplan/internal/allocation"
	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/forecast"
	"github.com/zenithfresh/thawplan/internal/infra/metrics"
	"github.com/zenithfresh/thawplan/internal/storage/memory"
)

var day0 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

type stubForecast forecast.Result

func (f stubForecast) Forecast(context.Context, []sales.Record, time.Time) forecast.Result {
	return forecast.Result(f)
}

func newService(t *testing.T) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := New(memory.New(), nil, Options{
		Parallelism: 2,
		Forecaster:  stubForecast{Demand: 34, RecentAverage: 100, Method: forecast.MethodHoltWinters},
		Metrics:     metrics.New(reg),
	})
	return svc, reg
}

func configure(t *testing.T, svc *Service, skus ...string) {
	t.Helper()
	for _, sku := range skus {
		if _, err := svc.ConfigureProduct(context.Background(), sku, 4, 200); err != nil {
			t.Fatalf("configure %s: %v", sku, err)
		}
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestConfigureProduct_Validation(t *testing.T) {
	svc, _ := newService(t)
	tests := []struct {
		name  string
		sku   string
		shelf int
		cap   float64
		want  error
	}{
		{"bad sku", "has space", 4, 10, products.ErrInvalidSKU},
		{"empty sku", "", 4, 10, products.ErrInvalidSKU},
		{"zero shelf life", "A", 0, 10, products.ErrInvalidShelfLife},
		{"zero capacity", "A", 4, 0, products.ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ConfigureProduct(context.Background(), tt.sku, tt.shelf, tt.cap); !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
	list, _ := svc.ListProducts(context.Background())
	if len(list) != 0 {
		t.Fatalf("invalid products were stored: %+v", list)
	}
}

func TestRunDailyFlow_Guards(t *testing.T) {
	svc, reg := newService(t)
	ctx := context.Background()

	if _, err := svc.RunDailyFlow(ctx, "NOPE", day0); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("want ErrUnknownProduct, got %v", err)
	}

	configure(t, svc, "A")
	rep, err := svc.RunDailyFlow(ctx, "A", day0)
	if err != nil {
		t.Fatal(err)
	}
	if !near(rep.WithdrawalQty(), 40) {
		t.Fatalf("want 40 kg withdrawn, got %v", rep.WithdrawalQty())
	}

	if _, err := svc.RunDailyFlow(ctx, "A", day0.Add(9*time.Hour)); !errors.Is(err, ErrAlreadyRan) {
		t.Fatalf("want ErrAlreadyRan, got %v", err)
	}
	sum, _ := svc.GetBatches(ctx, "A")
	if sum.Count != 1 {
		t.Fatalf("second run created a batch: %d batches", sum.Count)
	}
	if n := testutil.CollectAndCount(reg, "thawplan_flow_runs_total"); n != 1 {
		t.Fatalf("want one flow run series, got %d", n)
	}
}

func TestRecordSale_AfterThaw(t *testing.T) {
	svc, reg := newService(t)
	ctx := context.Background()
	configure(t, svc, "A")
	if _, err := svc.RunDailyFlow(ctx, "A", day0); err != nil {
		t.Fatal(err)
	}

	// still thawing
	res, err := svc.RecordSale(ctx, "A", days.Add(day0, 1), 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fulfilled != 0 || res.Shortfall != 5 {
		t.Fatalf("sold from a thawing batch: %+v", res)
	}

	day2 := days.Add(day0, 2)
	res, err = svc.RecordSale(ctx, "A", day2, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !near(res.Fulfilled, 20) {
		t.Fatalf("want 20 kg, got %+v", res)
	}
	res, _ = svc.RecordSale(ctx, "A", day2, 20)
	if !near(res.Fulfilled, 14) || !near(res.Shortfall, 6) {
		t.Fatalf("want 14 kg sold and 6 short, got %+v", res)
	}

	m, _ := svc.Availability(ctx, "A", day2)
	if m.Available != 0 {
		t.Fatalf("stock left after selling out: %+v", m)
	}
	if n := testutil.CollectAndCount(reg, "thawplan_sales_fulfilled_kg_total"); n != 1 {
		t.Fatalf("want one fulfilled series, got %d", n)
	}
}

func TestRecordSale_ExpiresBeforeAllocating(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	configure(t, svc, "A")
	if _, err := svc.RunDailyFlow(ctx, "A", day0); err != nil {
		t.Fatal(err)
	}

	// sellable on day 2, shelf life 4: the last sellable day is day 5
	res, err := svc.RecordSale(ctx, "A", days.Add(day0, 6), 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fulfilled != 0 {
		t.Fatalf("sold expired stock: %+v", res)
	}
	if sum, _ := svc.GetBatches(ctx, "A"); sum.Count != 0 {
		t.Fatalf("expired batch kept: %+v", sum.Batches)
	}
}

func TestRecordSale_InputErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	configure(t, svc, "A")

	if _, err := svc.RecordSale(ctx, "A", day0, 0); !errors.Is(err, allocation.ErrInvalidQuantity) {
		t.Fatalf("want ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.RecordSale(ctx, "bad sku!", day0, 1); !errors.Is(err, products.ErrInvalidSKU) {
		t.Fatalf("want ErrInvalidSKU, got %v", err)
	}
	res, err := svc.RecordSale(ctx, "UNKNOWN", day0, 3)
	if err != nil || res.Fulfilled != 0 || res.Shortfall != 3 {
		t.Fatalf("unknown product should fulfil nothing: %+v, %v", res, err)
	}
}

func TestRecordSale_ConcurrentSameSKU(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	configure(t, svc, "A")
	if _, err := svc.RunDailyFlow(ctx, "A", day0); err != nil {
		t.Fatal(err)
	}
	day2 := days.Add(day0, 2)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold float64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RecordSale(ctx, "A", day2, 2.5)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			sold += res.Fulfilled
			mu.Unlock()
		}()
	}
	wg.Wait()

	if !near(sold, 34) {
		t.Fatalf("want exactly the 34 kg in stock sold, got %v", sold)
	}
	sum, _ := svc.GetBatches(ctx, "A")
	if sum.ByStatus[batches.StatusSoldOut] != 1 {
		t.Fatalf("batch should be sold out: %+v", sum.ByStatus)
	}
}

func TestRunAll(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	configure(t, svc, "A", "B", "C")

	if _, err := svc.RunDailyFlow(ctx, "B", day0); err != nil {
		t.Fatal(err)
	}
	outcomes, err := svc.RunAll(ctx, day0)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("want 3 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		switch o.SKU {
		case "B":
			if !errors.Is(o.Err, ErrAlreadyRan) {
				t.Fatalf("B: want ErrAlreadyRan, got %v", o.Err)
			}
		default:
			if o.Err != nil || o.Report == nil || !near(o.Report.WithdrawalQty(), 40) {
				t.Fatalf("%s: unexpected outcome %+v", o.SKU, o)
			}
		}
	}

	rep, err := svc.DailyReport(ctx, day0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Rows) != 3 {
		t.Fatalf("want 3 report rows, got %d", len(rep.Rows))
	}
	for _, row := range rep.Rows {
		if row.Withdrawal == nil || row.Summary.Count != 1 {
			t.Fatalf("%s: incomplete report row %+v", row.Product.SKU, row)
		}
	}
}

func TestImportSales(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.ImportSales(ctx, []sales.Record{
		{SKU: "A", Date: day0, Qty: 3},
		{SKU: "A", Date: days.Add(day0, 1), Qty: 4},
		{SKU: "B", Date: day0, Qty: 1},
		{SKU: "bad sku", Date: day0, Qty: 1},
		{SKU: "A", Date: day0, Qty: -1},
		{SKU: "A", Qty: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 3 || len(res.Rejected) != 3 {
		t.Fatalf("unexpected import result %+v", res)
	}
	if res.Rejected[0].Row != 4 || !errors.Is(res.Rejected[0].Err, products.ErrInvalidSKU) {
		t.Fatalf("unexpected first rejection %+v", res.Rejected[0])
	}
}
