// Package memory is a process-local storage backend. State is partitioned per SKU; each unit of work
// runs on a copy of its partition that replaces the original only when the unit succeeds.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/domain/withdrawals"
	"github.com/zenithfresh/thawplan/internal/storage"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrOtherPartition = errors.New("sku is outside this unit of work")
)

type Store struct {
	mu    sync.Mutex // guards parts
	parts map[string]*partition

	batchSeq      atomic.Int64
	saleSeq       atomic.Int64
	withdrawalSeq atomic.Int64
	now           func() time.Time
}

type partition struct {
	mu    sync.Mutex
	state state
}

type state struct {
	product     *products.Product
	batches     []*batches.Batch
	sales       []sales.Record
	withdrawals map[time.Time]withdrawals.Record
}

func (s state) clone() state {
	c := state{
		batches:     make([]*batches.Batch, len(s.batches)),
		sales:       slices.Clone(s.sales),
		withdrawals: make(map[time.Time]withdrawals.Record, len(s.withdrawals)),
	}
	if s.product != nil {
		p := *s.product
		c.product = &p
	}
	for i, b := range s.batches {
		c.batches[i] = b.Clone()
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	return c
}

func New() *Store {
	return &Store{parts: make(map[string]*partition), now: time.Now}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) partition(sku string) *partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[sku]
	if !ok {
		p = &partition{state: state{withdrawals: make(map[time.Time]withdrawals.Record)}}
		s.parts[sku] = p
	}
	return p
}

func (s *Store) snapshot() []*partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*partition, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	return out
}

func (s *Store) Atomic(ctx context.Context, sku string, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.partition(sku)
	p.mu.Lock()
	defer p.mu.Unlock()

	work := p.state.clone()
	if err := fn(ctx, &tx{store: s, sku: sku, st: &work}); err != nil {
		return err
	}
	p.state = work
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]products.Product, error) {
	var out []products.Product
	for _, p := range s.snapshot() {
		p.mu.Lock()
		if p.state.product != nil {
			out = append(out, *p.state.product)
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) WithdrawalsOn(_ context.Context, date time.Time) ([]withdrawals.Record, error) {
	date = days.Of(date)
	var out []withdrawals.Record
	for _, p := range s.snapshot() {
		p.mu.Lock()
		if rec, ok := p.state.withdrawals[date]; ok {
			out = append(out, rec)
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// tx exposes one partition's working copy through the repository interfaces.
type tx struct {
	store *Store
	sku   string
	st    *state
}

func (t *tx) Products() products.Repository       { return productRepo{t} }
func (t *tx) Batches() batches.Repository         { return batchRepo{t} }
func (t *tx) Sales() sales.Repository             { return saleRepo{t} }
func (t *tx) Withdrawals() withdrawals.Repository { return withdrawalRepo{t} }

type productRepo struct{ *tx }

func (r productRepo) Get(_ context.Context, sku string) (*products.Product, error) {
	if sku != r.sku || r.st.product == nil {
		return nil, nil
	}
	p := *r.st.product
	return &p, nil
}

func (r productRepo) Upsert(_ context.Context, p products.Product) (*products.Product, error) {
	if p.SKU != r.sku {
		return nil, ErrOtherPartition
	}
	now := r.store.now()
	p.UpdatedAt = now
	if r.st.product != nil {
		p.CreatedAt = r.st.product.CreatedAt
	} else {
		p.CreatedAt = now
	}
	r.st.product = &p
	out := p
	return &out, nil
}

// List only sees the product of this unit of work; use Store.ListProducts for the full catalogue.
func (r productRepo) List(ctx context.Context) ([]products.Product, error) {
	p, _ := r.Get(ctx, r.sku)
	if p == nil {
		return nil, nil
	}
	return []products.Product{*p}, nil
}

type batchRepo struct{ *tx }

func (r batchRepo) ListBySKU(_ context.Context, sku string) ([]*batches.Batch, error) {
	out := []*batches.Batch{}
	if sku != r.sku {
		return out, nil
	}
	for _, b := range r.st.batches {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (r batchRepo) Insert(_ context.Context, b *batches.Batch) error {
	if b.SKU != r.sku {
		return ErrOtherPartition
	}
	b.ID = r.store.batchSeq.Add(1)
	b.CreatedAt = r.store.now()
	b.UpdatedAt = b.CreatedAt
	r.st.batches = append(r.st.batches, b.Clone())
	return nil
}

func (r batchRepo) Update(_ context.Context, b *batches.Batch) error {
	for i, it := range r.st.batches {
		if it.ID != b.ID {
			continue
		}
		b.UpdatedAt = r.store.now()
		upd := it.Clone()
		upd.QtyRemaining, upd.Age, upd.Status, upd.UpdatedAt = b.QtyRemaining, b.Age, b.Status, b.UpdatedAt
		r.st.batches[i] = upd
		return nil
	}
	return ErrNotFound
}

func (r batchRepo) Delete(_ context.Context, ids ...int64) error {
	r.st.batches = slices.DeleteFunc(r.st.batches, func(b *batches.Batch) bool {
		return slices.Contains(ids, b.ID)
	})
	return nil
}

type saleRepo struct{ *tx }

func (r saleRepo) Append(_ context.Context, rec *sales.Record) error {
	if rec.SKU != r.sku {
		return ErrOtherPartition
	}
	rec.ID = r.store.saleSeq.Add(1)
	rec.CreatedAt = r.store.now()
	rec.Date = days.Of(rec.Date)
	r.st.sales = append(r.st.sales, *rec)
	return nil
}

func (r saleRepo) History(_ context.Context, sku string) ([]sales.Record, error) {
	if sku != r.sku {
		return nil, nil
	}
	out := slices.Clone(r.st.sales)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type withdrawalRepo struct{ *tx }

func (r withdrawalRepo) Get(_ context.Context, sku string, date time.Time) (*withdrawals.Record, error) {
	if sku != r.sku {
		return nil, nil
	}
	rec, ok := r.st.withdrawals[days.Of(date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r withdrawalRepo) Append(_ context.Context, rec *withdrawals.Record) error {
	if rec.SKU != r.sku {
		return ErrOtherPartition
	}
	day := days.Of(rec.Date)
	if _, ok := r.st.withdrawals[day]; ok {
		return withdrawals.ErrDuplicate
	}
	rec.ID = r.store.withdrawalSeq.Add(1)
	rec.CreatedAt = r.store.now()
	rec.Date = day
	r.st.withdrawals[day] = *rec
	return nil
}

func (r withdrawalRepo) ListByDate(_ context.Context, date time.Time) ([]withdrawals.Record, error) {
	rec, ok := r.st.withdrawals[days.Of(date)]
	if !ok {
		return nil, nil
	}
	return []withdrawals.Record{rec}, nil
}
