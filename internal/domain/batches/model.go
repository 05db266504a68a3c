package batches

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/days"
)

const (
	// YieldFactor is the share of frozen weight left after thaw loss.
	YieldFactor = 0.85
	// ThawDays is how long a batch thaws before it can be sold.
	ThawDays = 2
	// ShelfWindowDays is the total window from withdrawal to the printed expiry date.
	ShelfWindowDays = 4

	Epsilon = 1e-9
)

var ErrInvalidQuantity = errors.New("quantity must be a finite number >= 0")

type Status string

const (
	StatusThawing   Status = "thawing"
	StatusAvailable Status = "available"
	StatusSurplus   Status = "surplus"
	StatusExpired   Status = "expired"
	StatusSoldOut   Status = "sold-out"
)

var Statuses = []Status{StatusThawing, StatusAvailable, StatusSurplus, StatusSoldOut, StatusExpired}

func (s Status) Sellable() bool { return s == StatusAvailable || s == StatusSurplus }

// DeriveStatus is the only place a batch status is decided. Rules apply in order:
// expired by age, sold out, still thawing, last sellable day (surplus), available.
func DeriveStatus(age int, remaining float64, shelfLifeDays int, thawed bool) Status {
	switch {
	case age >= shelfLifeDays:
		return StatusExpired
	case remaining <= Epsilon:
		return StatusSoldOut
	case !thawed:
		return StatusThawing
	case age >= shelfLifeDays-1:
		return StatusSurplus
	default:
		return StatusAvailable
	}
}

// Batch is one freezer withdrawal.
type Batch struct {
	ID           int64
	SKU          string
	QtyGross     float64 // kg taken from the freezer
	QtyWithdrawn float64 // net kg after thaw loss, never changes
	QtyRemaining float64
	Age          int // days since SellableOn
	Status       Status
	WithdrawnOn  time.Time
	SellableOn   time.Time
	ExpiresOn    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New builds a thawing batch for gross kg pulled from the freezer on withdrawnOn.
func New(sku string, withdrawnOn time.Time, gross float64) (*Batch, error) {
	if gross < 0 || math.IsNaN(gross) || math.IsInf(gross, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantity, gross)
	}
	net := gross * YieldFactor
	day := days.Of(withdrawnOn)
	return &Batch{
		SKU:          sku,
		QtyGross:     gross,
		QtyWithdrawn: net,
		QtyRemaining: net,
		Status:       StatusThawing,
		WithdrawnOn:  day,
		SellableOn:   days.Add(day, ThawDays),
		ExpiresOn:    days.Add(day, ShelfWindowDays),
	}, nil
}

func (b *Batch) Thawed(asOf time.Time) bool { return !b.SellableOn.After(days.Of(asOf)) }

// Take debits up to qty kg and returns what was actually taken. An emptied batch becomes sold-out.
func (b *Batch) Take(qty float64) float64 {
	if qty <= 0 || b.QtyRemaining <= 0 {
		return 0
	}
	taken := math.Min(qty, b.QtyRemaining)
	b.QtyRemaining -= taken
	if b.QtyRemaining <= Epsilon {
		b.QtyRemaining = 0
		b.Status = StatusSoldOut
	}
	return taken
}

func (b *Batch) Clone() *Batch {
	c := *b
	return &c
}

// Less is the depletion policy for the sellable queue: surplus before available, then smallest
// remaining quantity, then lowest age, then ID so the order is total.
func Less(a, b *Batch) bool {
	if ap, bp := priority(a.Status), priority(b.Status); ap != bp {
		return ap < bp
	}
	if a.QtyRemaining != b.QtyRemaining {
		return a.QtyRemaining < b.QtyRemaining
	}
	if a.Age != b.Age {
		return a.Age < b.Age
	}
	return a.ID < b.ID
}

func priority(s Status) int {
	switch s {
	case StatusSurplus:
		return 0
	case StatusAvailable:
		return 1
	default:
		return 2
	}
}
