// Package storage defines the unit of work the core runs in.
package storage

import (
	"context"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
)

type Tx interface {
	Products() products.Repository
	Batches() batches.Repository
	Sales() sales.Repository
	Withdrawals() withdrawals.Repository
}

type Store interface {
	// Atomic runs fn on the data of sku; writes are discarded when fn fails.
	Atomic(ctx context.Context, sku string, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]products.Product, error)
	WithdrawalsOn(ctx context.Context, date time.Time) ([]withdrawals.Record, error)
}
