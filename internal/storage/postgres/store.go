package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
	"github.com/zenithfresh/thawplan/internal/infra/db"
	"github.com/zenithfresh/thawplan/internal/storage"
)

type Store struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

var _ storage.Store = (*Store)(nil)

// Atomic runs fn in a transaction holding a per-SKU advisory lock until commit or rollback.
func (s *Store) Atomic(ctx context.Context, sku string, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sku); err != nil {
		return fmt.Errorf("lock %s: %w", sku, err)
	}
	if err = fn(ctx, repos{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListProducts(ctx context.Context) ([]products.Product, error) {
	return products.NewRepo(s.pool).List(ctx)
}

func (s *Store) WithdrawalsOn(ctx context.Context, date time.Time) ([]withdrawals.Record, error) {
	return withdrawals.NewRepo(s.pool).ListByDate(ctx, date)
}

type repos struct{ q db.DBTX }

func (r repos) Products() products.Repository       { return products.NewRepo(r.q) }
func (r repos) Batches() batches.Repository         { return batches.NewRepo(r.q) }
func (r repos) Sales() sales.Repository             { return sales.NewRepo(r.q) }
func (r repos) Withdrawals() withdrawals.Repository { return withdrawals.NewRepo(r.q) }
