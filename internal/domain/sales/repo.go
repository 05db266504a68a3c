package sales

import (
	"context"

	"github.com/zenithfresh/thawplan/internal/infra/db"
)

type Repository interface {
	Append(ctx context.Context, r *Record) error
	// History returns every record of sku ordered by date.
	History(ctx context.Context, sku string) ([]Record, error)
}

type Repo struct{ db db.DBTX }

func NewRepo(q db.DBTX) *Repo { return &Repo{db: q} }

var _ Repository = (*Repo)(nil)

func (r *Repo) Append(ctx context.Context, rec *Record) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO sales (sku, sold_on, qty, requested)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, rec.SKU, rec.Date, rec.Qty, rec.Requested).
		Scan(&rec.ID, &rec.CreatedAt)
}

func (r *Repo) History(ctx context.Context, sku string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sku, sold_on, qty, requested, created_at
		FROM sales
		WHERE sku = $1
		ORDER BY sold_on, id
	`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SKU, &rec.Date, &rec.Qty, &rec.Requested, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
