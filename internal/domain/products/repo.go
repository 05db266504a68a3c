package products

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/zenithfresh/thawplan/internal/infra/db"
)

// Repository is the persistence contract for product configuration.
type Repository interface {
	// Get returns nil, nil when the SKU is unknown.
	Get(ctx context.Context, sku string) (*Product, error)
	Upsert(ctx context.Context, p Product) (*Product, error)
	List(ctx context.Context) ([]Product, error)
}

type Repo struct{ db db.DBTX }

func NewRepo(q db.DBTX) *Repo { return &Repo{db: q} }

var _ Repository = (*Repo)(nil)

func (r *Repo) Get(ctx context.Context, sku string) (*Product, error) {
	row := r.db.QueryRow(ctx, `
		SELECT sku, shelf_life_days, max_capacity, created_at, updated_at
		FROM products WHERE sku = $1
	`, sku)
	var p Product
	if err := row.Scan(&p.SKU, &p.ShelfLifeDays, &p.MaxCapacity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) Upsert(ctx context.Context, p Product) (*Product, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO products (sku, shelf_life_days, max_capacity)
		VALUES ($1,$2,$3)
		ON CONFLICT (sku) DO UPDATE SET
		  shelf_life_days = EXCLUDED.shelf_life_days,
		  max_capacity    = EXCLUDED.max_capacity,
		  updated_at      = now()
		RETURNING sku, shelf_life_days, max_capacity, created_at, updated_at
	`, p.SKU, p.ShelfLifeDays, p.MaxCapacity)
	var out Product
	if err := row.Scan(&out.SKU, &out.ShelfLifeDays, &out.MaxCapacity, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sku, shelf_life_days, max_capacity, created_at, updated_at
		FROM products
		ORDER BY sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.ShelfLifeDays, &p.MaxCapacity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
