package batches

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
)

// Store is bound to one unit of work and must not outlive it.
type Store struct{ repo Repository }

func NewStore(repo Repository) *Store { return &Store{repo: repo} }

type Metrics struct {
	Available       float64 // kg sellable on the as-of date
	ThawingTomorrow float64 // kg that become sellable the next day
	MaxAge          int     // oldest sellable batch, in days
}

// Summary backs the batch listing: every stored batch plus totals.
type Summary struct {
	SKU            string
	Batches        []*Batch
	TotalAvailable float64
	TotalInitial   float64
	TotalCurrent   float64
	Count          int
	ByStatus       map[Status]int
}

// Create records gross kg pulled from the freezer on withdrawnOn as a new thawing batch.
func (s *Store) Create(ctx context.Context, p *products.Product, withdrawnOn time.Time, gross float64) (*Batch, error) {
	b, err := New(p.SKU, withdrawnOn, gross)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return b, nil
}

// AdvanceAge recomputes age and status of every thawed batch as of asOf. Running it again for the same
// date changes nothing. It returns how many batches changed.
func (s *Store) AdvanceAge(ctx context.Context, p *products.Product, asOf time.Time) (int, error) {
	if p == nil {
		return 0, nil
	}
	all, err := s.repo.ListBySKU(ctx, p.SKU)
	if err != nil {
		return 0, err
	}
	asOf = days.Of(asOf)

	changed := 0
	for _, b := range all {
		if b.Status == StatusExpired || !b.Thawed(asOf) {
			continue
		}
		age := max(b.Age, days.Between(b.SellableOn, asOf))
		status := DeriveStatus(age, b.QtyRemaining, p.ShelfLifeDays, true)
		if age == b.Age && status == b.Status {
			continue
		}
		b.Age, b.Status = age, status
		if err := s.repo.Update(ctx, b); err != nil {
			return changed, fmt.Errorf("update batch %d: %w", b.ID, err)
		}
		changed++
	}
	return changed, nil
}

// Expire deletes the batches that reached the shelf life and returns them. Run it after AdvanceAge.
func (s *Store) Expire(ctx context.Context, p *products.Product) ([]*Batch, error) {
	if p == nil {
		return nil, nil
	}
	all, err := s.repo.ListBySKU(ctx, p.SKU)
	if err != nil {
		return nil, err
	}

	var expired []*Batch
	var ids []int64
	for _, b := range all {
		if b.Age < p.ShelfLifeDays {
			continue
		}
		b.Status = StatusExpired
		expired = append(expired, b)
		ids = append(ids, b.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.repo.Delete(ctx, ids...); err != nil {
		return nil, fmt.Errorf("delete expired batches: %w", err)
	}
	return expired, nil
}

// SellableQueue returns the batches a sale may draw from on asOf, in depletion order (see Less).
func (s *Store) SellableQueue(ctx context.Context, sku string, asOf time.Time) ([]*Batch, error) {
	all, err := s.repo.ListBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	queue := make([]*Batch, 0, len(all))
	for _, b := range all {
		if b.Status.Sellable() && b.Thawed(asOf) && b.QtyRemaining > Epsilon {
			queue = append(queue, b)
		}
	}
	slices.SortFunc(queue, func(a, b *Batch) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		default:
			return 0
		}
	})
	return queue, nil
}

func (s *Store) Save(ctx context.Context, b *Batch) error {
	if b.QtyRemaining < 0 || b.QtyRemaining > b.QtyWithdrawn+Epsilon {
		return fmt.Errorf("%w: batch %d remaining %.4f of %.4f", ErrInvalidQuantity, b.ID, b.QtyRemaining, b.QtyWithdrawn)
	}
	return s.repo.Update(ctx, b)
}

func (s *Store) Metrics(ctx context.Context, sku string, asOf time.Time) (Metrics, error) {
	all, err := s.repo.ListBySKU(ctx, sku)
	if err != nil {
		return Metrics{}, err
	}
	asOf = days.Of(asOf)
	tomorrow := days.Add(asOf, 1)

	var m Metrics
	for _, b := range all {
		switch {
		case b.Status.Sellable() && b.Thawed(asOf):
			m.Available += b.QtyRemaining
			m.MaxAge = max(m.MaxAge, b.Age)
		case b.Status == StatusThawing && b.SellableOn.Equal(tomorrow):
			m.ThawingTomorrow += b.QtyRemaining
		}
	}
	return m, nil
}

func (s *Store) Summary(ctx context.Context, sku string) (Summary, error) {
	all, err := s.repo.ListBySKU(ctx, sku)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{SKU: sku, Batches: all, Count: len(all), ByStatus: make(map[Status]int)}
	for _, b := range all {
		sum.ByStatus[b.Status]++
		sum.TotalInitial += b.QtyWithdrawn
		if b.Status == StatusExpired {
			continue
		}
		sum.TotalCurrent += b.QtyRemaining
		if b.Status.Sellable() {
			sum.TotalAvailable += b.QtyRemaining
		}
	}
	if sum.Batches == nil {
		sum.Batches = []*Batch{}
	}
	return sum, nil
}
