// Package allocation consumes sale requests against the sellable batch queue.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/storage"
)

var ErrInvalidQuantity = errors.New("requested quantity must be a finite number > 0")

// Draw is the kg taken from one batch.
type Draw struct {
	BatchID int64
	Qty     float64
	Status  batches.Status // after the draw
}

type Result struct {
	Requested float64
	Fulfilled float64
	Shortfall float64
	Draws     []Draw
}

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Allocate debits requested kg from the batches of sku in depletion order. Running out of stock is not an
// error: the missing kg are reported as Shortfall. Nothing is written when the request is invalid.
func (e *Engine) Allocate(ctx context.Context, tx storage.Tx, sku string, date time.Time, requested float64) (Result, error) {
	if requested <= 0 || math.IsNaN(requested) || math.IsInf(requested, 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidQuantity, requested)
	}
	store := batches.NewStore(tx.Batches())
	queue, err := store.SellableQueue(ctx, sku, date)
	if err != nil {
		return Result{}, fmt.Errorf("sellable queue: %w", err)
	}

	res := Result{Requested: requested}
	left := requested
	for _, b := range queue {
		if left <= batches.Epsilon {
			break
		}
		taken := b.Take(left)
		if taken <= 0 {
			continue
		}
		if err := store.Save(ctx, b); err != nil {
			return Result{}, fmt.Errorf("save batch %d: %w", b.ID, err)
		}
		left -= taken
		res.Fulfilled += taken
		res.Draws = append(res.Draws, Draw{BatchID: b.ID, Qty: taken, Status: b.Status})
	}
	res.Shortfall = math.Max(requested-res.Fulfilled, 0)

	if res.Fulfilled > 0 {
		rec := &sales.Record{SKU: sku, Date: days.Of(date), Qty: res.Fulfilled, Requested: requested}
		if err := tx.Sales().Append(ctx, rec); err != nil {
			return Result{}, fmt.Errorf("append sale: %w", err)
		}
	}
	return res, nil
}
