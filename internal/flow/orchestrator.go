package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
	"github.com/zenithfresh/thawplan/internal/forecast"
	"github.com/zenithfresh/thawplan/internal/planning"
	"github.com/zenithfresh/thawplan/internal/storage"
)

type Forecaster interface {
	Forecast(ctx context.Context, history []sales.Record, asOf time.Time) forecast.Result
}

// Report is what one run did and the stock picture it left behind.
type Report struct {
	RunID           uuid.UUID
	SKU             string
	Date            time.Time
	Step            Step // last state reached
	Aged            int
	Expired         []*batches.Batch
	ExpiredQty      float64
	Forecast        forecast.Result
	PriorQty        float64
	Withdrawal      planning.Withdrawal
	Batch           *batches.Batch // nil when nothing was withdrawn
	Available       float64
	ThawingTomorrow float64
	MaxAge          int
}

// WithdrawalQty is the gross kg pulled from the freezer.
func (r *Report) WithdrawalQty() float64 { return r.Withdrawal.Qty }

type Orchestrator struct {
	store      storage.Store
	forecaster Forecaster
	calc       *planning.Calculator
	log        *slog.Logger
}

func NewOrchestrator(store storage.Store, f Forecaster, calc *planning.Calculator, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{store: store, forecaster: f, calc: calc, log: log}
}

// Run advances p through every step for date. Each step is its own unit of work; the first failure stops
// the run and comes back as a *StepError together with the partial report.
//
// Aging and expiry are safe to repeat. The withdrawal is not: callers guard against a second run for the
// same product and date.
func (o *Orchestrator) Run(ctx context.Context, p *products.Product, date time.Time) (*Report, error) {
	rep := &Report{RunID: uuid.New(), SKU: p.SKU, Date: days.Of(date), Step: StepNotStarted}
	log := o.log.With("sku", p.SKU, "date", days.Format(date), "run_id", rep.RunID.String())

	steps := []struct {
		to Step
		fn func(ctx context.Context, tx storage.Tx, rep *Report) error
	}{
		{StepAged, func(ctx context.Context, tx storage.Tx, rep *Report) (err error) {
			rep.Aged, err = batches.NewStore(tx.Batches()).AdvanceAge(ctx, p, rep.Date)
			return err
		}},
		{StepExpiredPurged, func(ctx context.Context, tx storage.Tx, rep *Report) (err error) {
			rep.Expired, err = batches.NewStore(tx.Batches()).Expire(ctx, p)
			for _, b := range rep.Expired {
				rep.ExpiredQty += b.QtyRemaining
			}
			return err
		}},
		{StepForecastComputed, func(ctx context.Context, tx storage.Tx, rep *Report) error {
			history, err := tx.Sales().History(ctx, p.SKU)
			if err != nil {
				return fmt.Errorf("sales history: %w", err)
			}
			rep.Forecast = o.forecaster.Forecast(ctx, history, rep.Date)
			return nil
		}},
		{StepWithdrawal, func(ctx context.Context, tx storage.Tx, rep *Report) error {
			prior, err := tx.Withdrawals().Get(ctx, p.SKU, days.Add(rep.Date, -1))
			if err != nil {
				return fmt.Errorf("prior withdrawal: %w", err)
			}
			if prior != nil {
				rep.PriorQty = prior.Qty
			}
			rep.Withdrawal = o.calc.Compute(planning.Input{
				Forecast:      rep.Forecast.Demand,
				Volatility:    rep.Forecast.Volatility,
				PriorQty:      rep.PriorQty,
				RecentAverage: rep.Forecast.RecentAverage,
				MaxCapacity:   p.MaxCapacity,
			})
			return nil
		}},
		{StepBatchCreated, func(ctx context.Context, tx storage.Tx, rep *Report) error {
			var created *batches.Batch
			if rep.Withdrawal.Qty > batches.Epsilon {
				b, err := batches.NewStore(tx.Batches()).Create(ctx, p, rep.Date, rep.Withdrawal.Qty)
				if err != nil {
					return err
				}
				created = b
			}
			rec := &withdrawals.Record{
				SKU:           p.SKU,
				Date:          rep.Date,
				Qty:           rep.Withdrawal.Qty,
				Forecast:      rep.Forecast.Demand,
				Volatility:    rep.Forecast.Volatility,
				PriorQty:      rep.PriorQty,
				RecentAverage: rep.Forecast.RecentAverage,
				RawQty:        rep.Withdrawal.Raw,
				Method:        string(rep.Forecast.Method),
				Bound:         string(rep.Withdrawal.Bound),
			}
			if err := tx.Withdrawals().Append(ctx, rec); err != nil {
				return fmt.Errorf("append withdrawal: %w", err)
			}
			rep.Batch = created
			return nil
		}},
		{StepDone, func(ctx context.Context, tx storage.Tx, rep *Report) error {
			m, err := batches.NewStore(tx.Batches()).Metrics(ctx, p.SKU, rep.Date)
			if err != nil {
				return err
			}
			rep.Available, rep.ThawingTomorrow, rep.MaxAge = m.Available, m.ThawingTomorrow, m.MaxAge
			return nil
		}},
	}

	// A step writes into a draft that replaces the report only once its unit of work has committed.
	for _, s := range steps {
		var draft Report
		err := o.store.Atomic(ctx, p.SKU, func(ctx context.Context, tx storage.Tx) error {
			draft = *rep
			return s.fn(ctx, tx, &draft)
		})
		if err != nil {
			log.Error("daily flow step failed", "step", s.to, "err", err)
			return rep, &StepError{SKU: p.SKU, Step: s.to, Err: err}
		}
		*rep = draft
		rep.Step = s.to
		log.Debug("daily flow step", "step", s.to)
	}

	log.Info("daily flow done",
		"withdrawal", rep.Withdrawal.Qty,
		"bound", rep.Withdrawal.Bound,
		"method", rep.Forecast.Method,
		"expired_kg", rep.ExpiredQty,
		"available", rep.Available)
	return rep, nil
}
