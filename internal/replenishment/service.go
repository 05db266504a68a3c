// Package replenishment is the entry point used by the HTTP API, the Telegram bot and the scheduler.
package replenishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zenithfresh/thawplan/internal/allocation"
	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
	"github.com/zenithfresh/thawplan/internal/flow"
	"github.com/zenithfresh/thawplan/internal/forecast"
	"github.com/zenithfresh/thawplan/internal/infra/metrics"
	"github.com/zenithfresh/thawplan/internal/planning"
	"github.com/zenithfresh/thawplan/internal/storage"
)

var (
	ErrUnknownProduct = errors.New("unknown product")
	ErrAlreadyRan     = errors.New("daily flow already ran for this sku and date")
)

type Options struct {
	Parallelism int // products processed at once by RunAll
	Forecaster  flow.Forecaster
	Metrics     *metrics.Metrics
}

type Service struct {
	store       storage.Store
	orch        *flow.Orchestrator
	engine      *allocation.Engine
	metrics     *metrics.Metrics
	log         *slog.Logger
	locks       *keyedMutex
	parallelism int
}

func New(store storage.Store, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	if opts.Forecaster == nil {
		opts.Forecaster = forecast.New(forecast.DefaultConfig(), log)
	}
	return &Service{
		store:       store,
		orch:        flow.NewOrchestrator(store, opts.Forecaster, planning.NewCalculator(), log),
		engine:      allocation.NewEngine(),
		metrics:     opts.Metrics,
		log:         log,
		locks:       newKeyedMutex(),
		parallelism: opts.Parallelism,
	}
}

func (s *Service) ConfigureProduct(ctx context.Context, sku string, shelfLifeDays int, maxCapacity float64) (*products.Product, error) {
	p, err := products.New(sku, shelfLifeDays, maxCapacity)
	if err != nil {
		return nil, err
	}
	defer s.locks.lock(p.SKU)()

	var saved *products.Product
	err = s.store.Atomic(ctx, p.SKU, func(ctx context.Context, tx storage.Tx) error {
		saved, err = tx.Products().Upsert(ctx, *p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save product %s: %w", p.SKU, err)
	}
	s.log.Info("product configured", "sku", saved.SKU, "shelf_life_days", saved.ShelfLifeDays, "max_capacity", saved.MaxCapacity)
	return saved, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]products.Product, error) {
	return s.store.ListProducts(ctx)
}

// RunDailyFlow runs the daily sequence for sku once per date. A second call for the same date fails with
// ErrAlreadyRan instead of withdrawing twice.
func (s *Service) RunDailyFlow(ctx context.Context, sku string, date time.Time) (*flow.Report, error) {
	sku, err := products.NormalizeSKU(sku)
	if err != nil {
		return nil, err
	}
	date = days.Of(date)
	defer s.locks.lock(sku)()

	var p *products.Product
	err = s.store.Atomic(ctx, sku, func(ctx context.Context, tx storage.Tx) error {
		found, err := tx.Products().Get(ctx, sku)
		if err != nil || found == nil {
			return err
		}
		p = found
		prev, err := tx.Withdrawals().Get(ctx, sku, date)
		if err != nil {
			return err
		}
		if prev != nil {
			return ErrAlreadyRan
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrAlreadyRan):
		return nil, fmt.Errorf("%s on %s: %w", sku, days.Format(date), ErrAlreadyRan)
	case err != nil:
		return nil, fmt.Errorf("load product %s: %w", sku, err)
	case p == nil:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}

	rep, err := s.orch.Run(ctx, p, date)
	if rep != nil {
		s.metrics.Expired(sku, rep.ExpiredQty)
	}
	if err != nil {
		var se *flow.StepError
		if errors.As(err, &se) {
			s.metrics.FlowRun(string(se.Step), false)
		}
		if errors.Is(err, withdrawals.ErrDuplicate) {
			return rep, fmt.Errorf("%w: %w", ErrAlreadyRan, err)
		}
		return rep, err
	}
	s.metrics.FlowRun(string(rep.Step), true)
	s.metrics.Stock(sku, rep.WithdrawalQty(), rep.Available)
	return rep, nil
}

// RecordSale ages and purges the product's stock for date, then allocates requested kg against it. An
// unknown product or an empty queue fulfils nothing and is not an error.
func (s *Service) RecordSale(ctx context.Context, sku string, date time.Time, requested float64) (allocation.Result, error) {
	sku, err := products.NormalizeSKU(sku)
	if err != nil {
		return allocation.Result{}, err
	}
	if requested <= 0 || math.IsNaN(requested) || math.IsInf(requested, 0) {
		return allocation.Result{}, fmt.Errorf("%w: %v", allocation.ErrInvalidQuantity, requested)
	}
	date = days.Of(date)
	defer s.locks.lock(sku)()

	res := allocation.Result{Requested: requested, Shortfall: requested}
	var expired float64
	err = s.store.Atomic(ctx, sku, func(ctx context.Context, tx storage.Tx) error {
		p, err := tx.Products().Get(ctx, sku)
		if err != nil || p == nil {
			return err
		}
		store := batches.NewStore(tx.Batches())
		if _, err := store.AdvanceAge(ctx, p, date); err != nil {
			return fmt.Errorf("advance age: %w", err)
		}
		gone, err := store.Expire(ctx, p)
		if err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		for _, b := range gone {
			expired += b.QtyRemaining
		}
		res, err = s.engine.Allocate(ctx, tx, sku, date, requested)
		return err
	})
	if err != nil {
		return allocation.Result{}, fmt.Errorf("record sale %s: %w", sku, err)
	}

	s.metrics.Expired(sku, expired)
	s.metrics.Sale(sku, requested, res.Fulfilled)
	if res.Shortfall > batches.Epsilon {
		s.log.Warn("sale partially fulfilled", "sku", sku, "date", days.Format(date),
			"requested", requested, "fulfilled", res.Fulfilled)
	}
	return res, nil
}

func (s *Service) GetBatches(ctx context.Context, sku string) (batches.Summary, error) {
	sku, err := products.NormalizeSKU(sku)
	if err != nil {
		return batches.Summary{}, err
	}
	var sum batches.Summary
	err = s.store.Atomic(ctx, sku, func(ctx context.Context, tx storage.Tx) error {
		sum, err = batches.NewStore(tx.Batches()).Summary(ctx, sku)
		return err
	})
	return sum, err
}

func (s *Service) Availability(ctx context.Context, sku string, date time.Time) (batches.Metrics, error) {
	sku, err := products.NormalizeSKU(sku)
	if err != nil {
		return batches.Metrics{}, err
	}
	var m batches.Metrics
	err = s.store.Atomic(ctx, sku, func(ctx context.Context, tx storage.Tx) error {
		m, err = batches.NewStore(tx.Batches()).Metrics(ctx, sku, date)
		return err
	})
	return m, err
}

type Outcome struct {
	SKU    string
	Report *flow.Report
	Err    error
}

// RunAll runs the daily flow of every configured product, several at a time. Per-product failures are
// reported in the outcomes; only a failure to list the products is returned as an error.
func (s *Service) RunAll(ctx context.Context, date time.Time) ([]Outcome, error) {
	list, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	out := make([]Outcome, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, p := range list {
		g.Go(func() error {
			rep, err := s.RunDailyFlow(gctx, p.SKU, date)
			out[i] = Outcome{SKU: p.SKU, Report: rep, Err: err}
			if err != nil && !errors.Is(err, ErrAlreadyRan) {
				s.log.Error("daily flow failed", "sku", p.SKU, "date", days.Format(date), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}
