package withdrawals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zenithfresh/thawplan/internal/infra/db"
)

type Repository interface {
	// Get returns nil, nil when nothing was withdrawn for sku on date.
	Get(ctx context.Context, sku string, date time.Time) (*Record, error)
	// Append fails with ErrDuplicate when (sku, date) already has a record.
	Append(ctx context.Context, r *Record) error
	ListByDate(ctx context.Context, date time.Time) ([]Record, error)
}

type Repo struct{ db db.DBTX }

func NewRepo(q db.DBTX) *Repo { return &Repo{db: q} }

var _ Repository = (*Repo)(nil)

const columns = `id, sku, withdrawn_on, qty, forecast, volatility, prior_qty, recent_avg, raw_qty, method, bound, created_at`

func scan(row pgx.Row, r *Record) error {
	return row.Scan(&r.ID, &r.SKU, &r.Date, &r.Qty, &r.Forecast, &r.Volatility, &r.PriorQty,
		&r.RecentAverage, &r.RawQty, &r.Method, &r.Bound, &r.CreatedAt)
}

func (r *Repo) Get(ctx context.Context, sku string, date time.Time) (*Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+columns+` FROM withdrawals WHERE sku = $1 AND withdrawn_on = $2`, sku, date)
	var rec Record
	if err := scan(row, &rec); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) Append(ctx context.Context, rec *Record) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO withdrawals (sku, withdrawn_on, qty, forecast, volatility, prior_qty, recent_avg, raw_qty, method, bound)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at
	`, rec.SKU, rec.Date, rec.Qty, rec.Forecast, rec.Volatility, rec.PriorQty, rec.RecentAverage,
		rec.RawQty, rec.Method, rec.Bound).
		Scan(&rec.ID, &rec.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *Repo) ListByDate(ctx context.Context, date time.Time) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM withdrawals WHERE withdrawn_on = $1 ORDER BY sku`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := scan(rows, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
