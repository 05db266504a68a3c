package batches

import (
	"context"

	"github.com/zenithfresh/thawplan/internal/infra/db"
)

// Repository is the persistence contract behind Store.
type Repository interface {
	// ListBySKU returns every stored batch of sku ordered by ID; an unknown SKU yields an empty slice.
	ListBySKU(ctx context.Context, sku string) ([]*Batch, error)
	// Insert stores b and fills in its ID and timestamps.
	Insert(ctx context.Context, b *Batch) error
	// Update writes the mutable fields: remaining quantity, age and status.
	Update(ctx context.Context, b *Batch) error
	Delete(ctx context.Context, ids ...int64) error
}

type Repo struct{ db db.DBTX }

func NewRepo(q db.DBTX) *Repo { return &Repo{db: q} }

var _ Repository = (*Repo)(nil)

func (r *Repo) ListBySKU(ctx context.Context, sku string) ([]*Batch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sku, qty_gross, qty_withdrawn, qty_remaining, age, status,
		       withdrawn_on, sellable_on, expires_on, created_at, updated_at
		FROM batches
		WHERE sku = $1
		ORDER BY id
	`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(
			&b.ID,
			&b.SKU,
			&b.QtyGross,
			&b.QtyWithdrawn,
			&b.QtyRemaining,
			&b.Age,
			&b.Status,
			&b.WithdrawnOn,
			&b.SellableOn,
			&b.ExpiresOn,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (r *Repo) Insert(ctx context.Context, b *Batch) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO batches (sku, qty_gross, qty_withdrawn, qty_remaining, age, status,
		                     withdrawn_on, sellable_on, expires_on)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at, updated_at
	`, b.SKU, b.QtyGross, b.QtyWithdrawn, b.QtyRemaining, b.Age, string(b.Status),
		b.WithdrawnOn, b.SellableOn, b.ExpiresOn).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (r *Repo) Update(ctx context.Context, b *Batch) error {
	return r.db.QueryRow(ctx, `
		UPDATE batches
		SET qty_remaining = $2, age = $3, status = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, b.ID, b.QtyRemaining, b.Age, string(b.Status)).
		Scan(&b.UpdatedAt)
}

func (r *Repo) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM batches WHERE id = ANY($1)`, ids)
	return err
}
