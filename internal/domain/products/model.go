package products

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidSKU       = errors.New("invalid sku")
	ErrInvalidShelfLife = errors.New("shelf life must be at least 1 day")
	ErrInvalidCapacity  = errors.New("max capacity must be > 0")
)

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Product is the reference data for one SKU: how long it sells after thawing and how many kg can be
// pulled from the freezer per day.
type Product struct {
	SKU           string
	ShelfLifeDays int
	MaxCapacity   float64 // kg per day
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeSKU trims s and checks it against the allowed alphabet.
func NormalizeSKU(s string) (string, error) {
	sku := strings.TrimSpace(s)
	if !skuPattern.MatchString(sku) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSKU, s)
	}
	return sku, nil
}

func New(sku string, shelfLifeDays int, maxCapacity float64) (*Product, error) {
	norm, err := NormalizeSKU(sku)
	if err != nil {
		return nil, err
	}
	if shelfLifeDays < 1 {
		return nil, ErrInvalidShelfLife
	}
	if maxCapacity <= 0 || math.IsNaN(maxCapacity) || math.IsInf(maxCapacity, 0) {
		return nil, ErrInvalidCapacity
	}
	return &Product{SKU: norm, ShelfLifeDays: shelfLifeDays, MaxCapacity: maxCapacity}, nil
}
