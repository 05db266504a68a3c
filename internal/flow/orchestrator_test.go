package flow

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
	"github.com/zenithfresh/thawplan/internal/forecast"
	"github.com/zenithfresh/thawplan/internal/planning"
	"github.com/zenithfresh/thawplan/internal/storage"
	"github.com/zenithfresh/thawplan/internal/storage/memory"
)

var today = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

type fixedForecast forecast.Result

func (f fixedForecast) Forecast(context.Context, []sales.Record, time.Time) forecast.Result {
	return forecast.Result(f)
}

// failingStore fails the n-th unit of work (1-based). With atCommit set the work runs first and is then
// rolled back, as when the commit itself fails.
type failingStore struct {
	storage.Store
	n, calls int
	err      error
	atCommit bool
}

func (s *failingStore) Atomic(ctx context.Context, sku string, fn func(context.Context, storage.Tx) error) error {
	s.calls++
	if s.calls != s.n {
		return s.Store.Atomic(ctx, sku, fn)
	}
	if !s.atCommit {
		return s.err
	}
	return s.Store.Atomic(ctx, sku, func(ctx context.Context, tx storage.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.err
	})
}

func setup(t *testing.T) (*memory.Store, *products.Product) {
	t.Helper()
	s := memory.New()
	var p *products.Product
	err := s.Atomic(context.Background(), "A", func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = tx.Products().Upsert(ctx, products.Product{SKU: "A", ShelfLifeDays: 3, MaxCapacity: 100})
		if err != nil {
			return err
		}
		store := batches.NewStore(tx.Batches())
		// sellable since three days ago: expires today
		if _, err := store.Create(ctx, p, days.Add(today, -5), 10); err != nil {
			return err
		}
		// sellable today
		if _, err := store.Create(ctx, p, days.Add(today, -2), 20); err != nil {
			return err
		}
		// sellable tomorrow
		if _, err := store.Create(ctx, p, days.Add(today, -1), 40); err != nil {
			return err
		}
		return tx.Withdrawals().Append(ctx, &withdrawals.Record{SKU: "A", Date: days.Add(today, -1), Qty: 40})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return s, p
}

func listBatches(t *testing.T, s storage.Store) []*batches.Batch {
	t.Helper()
	var out []*batches.Batch
	_ = s.Atomic(context.Background(), "A", func(ctx context.Context, tx storage.Tx) error {
		out, _ = tx.Batches().ListBySKU(ctx, "A")
		return nil
	})
	return out
}

func TestRun_FullSequence(t *testing.T) {
	s, p := setup(t)
	fc := fixedForecast{Demand: 51, Volatility: 2, RecentAverage: 50, Method: forecast.MethodHoltWinters}
	o := NewOrchestrator(s, fc, planning.NewCalculator(), nil)

	rep, err := o.Run(context.Background(), p, today)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Step != StepDone {
		t.Fatalf("want done, got %s", rep.Step)
	}
	if len(rep.Expired) != 1 || math.Abs(rep.ExpiredQty-8.5) > 1e-9 {
		t.Fatalf("unexpected expiry: %d batches, %v kg", len(rep.Expired), rep.ExpiredQty)
	}
	// (51 + 1.65*2 - 0.85*40) / 0.85
	wantQty := (51 + 3.3 - 34) / 0.85
	if math.Abs(rep.WithdrawalQty()-wantQty) > 1e-9 || rep.PriorQty != 40 {
		t.Fatalf("want withdrawal %v, got %+v", wantQty, rep.Withdrawal)
	}
	if rep.Batch == nil || rep.Batch.Status != batches.StatusThawing {
		t.Fatalf("expected a thawing batch, got %+v", rep.Batch)
	}
	if math.Abs(rep.Available-17) > 1e-9 || math.Abs(rep.ThawingTomorrow-34) > 1e-9 || rep.MaxAge != 0 {
		t.Fatalf("unexpected metrics: available %v, tomorrow %v, max age %d", rep.Available, rep.ThawingTomorrow, rep.MaxAge)
	}
	if rep.RunID.String() == "" {
		t.Fatal("missing run id")
	}

	recs, _ := s.WithdrawalsOn(context.Background(), today)
	if len(recs) != 1 || recs[0].Method != string(forecast.MethodHoltWinters) || recs[0].PriorQty != 40 {
		t.Fatalf("unexpected withdrawal record: %+v", recs)
	}
}

func TestRun_ZeroWithdrawalCreatesNoBatch(t *testing.T) {
	s, p := setup(t)
	o := NewOrchestrator(s, fixedForecast{Method: forecast.MethodInsufficientData}, planning.NewCalculator(), nil)

	rep, err := o.Run(context.Background(), p, today)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Batch != nil || rep.WithdrawalQty() != 0 {
		t.Fatalf("expected no batch, got %+v", rep.Batch)
	}
	if n := len(listBatches(t, s)); n != 2 {
		t.Fatalf("want 2 batches left after expiry, got %d", n)
	}
	recs, _ := s.WithdrawalsOn(context.Background(), today)
	if len(recs) != 1 || recs[0].Qty != 0 {
		t.Fatalf("zero withdrawal should still be recorded: %+v", recs)
	}
}

func TestRun_StepFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	tests := []struct {
		call int
		step Step
		prev Step
	}{
		{1, StepAged, StepNotStarted},
		{2, StepExpiredPurged, StepAged},
		{3, StepForecastComputed, StepExpiredPurged},
		{4, StepWithdrawal, StepForecastComputed},
		{5, StepBatchCreated, StepWithdrawal},
		{6, StepDone, StepBatchCreated},
	}
	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			mem, p := setup(t)
			before := len(listBatches(t, mem))
			s := &failingStore{Store: mem, n: tt.call, err: boom}
			o := NewOrchestrator(s, fixedForecast{Demand: 30, RecentAverage: 30}, planning.NewCalculator(), nil)

			rep, err := o.Run(context.Background(), p, today)
			var se *StepError
			if !errors.As(err, &se) || se.Step != tt.step || !errors.Is(err, boom) {
				t.Fatalf("want step error at %s, got %v", tt.step, err)
			}
			if rep.Step != tt.prev {
				t.Fatalf("want last step %s, got %s", tt.prev, rep.Step)
			}

			if tt.call > 5 {
				return
			}
			after := listBatches(t, mem)
			if len(after) > before || rep.Batch != nil {
				t.Fatalf("batch created although step %s failed: %d -> %d batches", tt.step, before, len(after))
			}
			for _, b := range after {
				if b.WithdrawnOn.Equal(today) {
					t.Fatalf("batch %d withdrawn today although step %s failed", b.ID, tt.step)
				}
			}
		})
	}
}

func TestRun_ReportKeepsOnlyCommittedSteps(t *testing.T) {
	tests := []struct {
		name string
		call int
		prev Step
		left int
	}{
		{"aging rolled back", 1, StepNotStarted, 3},
		{"expiry rolled back", 2, StepAged, 3},
		{"batch rolled back", 5, StepWithdrawal, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, p := setup(t)
			s := &failingStore{Store: mem, n: tt.call, err: errors.New("commit failed"), atCommit: true}
			o := NewOrchestrator(s, fixedForecast{Demand: 30, RecentAverage: 30}, planning.NewCalculator(), nil)

			rep, err := o.Run(context.Background(), p, today)
			if err == nil {
				t.Fatal("expected failure")
			}
			if rep.Step != tt.prev {
				t.Fatalf("want last step %s, got %s", tt.prev, rep.Step)
			}
			if tt.call <= 2 && (len(rep.Expired) != 0 || rep.ExpiredQty != 0) {
				t.Fatalf("rolled back expiry reported: %d batches, %v kg", len(rep.Expired), rep.ExpiredQty)
			}
			if tt.call == 1 && rep.Aged != 0 {
				t.Fatalf("rolled back aging reported: %d", rep.Aged)
			}
			if rep.Batch != nil {
				t.Fatalf("rolled back batch reported: %+v", rep.Batch)
			}
			if n := len(listBatches(t, mem)); n != tt.left {
				t.Fatalf("want %d batches, got %d", tt.left, n)
			}
		})
	}
}

func TestRun_AgingPrefixIsRepeatable(t *testing.T) {
	mem, p := setup(t)
	s := &failingStore{Store: mem, n: 3, err: errors.New("forecast storage down")}
	o := NewOrchestrator(s, fixedForecast{}, planning.NewCalculator(), nil)

	if _, err := o.Run(context.Background(), p, today); err == nil {
		t.Fatal("expected failure")
	}
	first := listBatches(t, mem)

	rep, err := NewOrchestrator(mem, fixedForecast{}, planning.NewCalculator(), nil).Run(context.Background(), p, today)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Aged != 0 || len(rep.Expired) != 0 {
		t.Fatalf("rerun changed aging state: aged %d, expired %d", rep.Aged, len(rep.Expired))
	}
	second := listBatches(t, mem)
	for i := range first {
		if first[i].Age != second[i].Age || first[i].Status != second[i].Status {
			t.Fatalf("batch %d changed on rerun: %+v -> %+v", first[i].ID, first[i], second[i])
		}
	}
}
