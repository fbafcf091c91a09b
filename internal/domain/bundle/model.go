package bundle

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

var hundred = decimal.NewFromInt(100)

// BundleDeal discounts the sum of a fixed set of test mappings when a single
// laboratory offers all of them. EndsAt nil means the deal never expires.
type BundleDeal struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	MappingIDs    []uuid.UUID     `json:"mapping_ids"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	StartsAt      time.Time       `db:"starts_at" json:"starts_at"`
	EndsAt        *time.Time      `db:"ends_at" json:"ends_at,omitempty"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// ActiveAt reports whether the deal is enabled and now falls in
// [StartsAt, EndsAt).
func (d *BundleDeal) ActiveAt(now time.Time) bool {
	if !d.IsActive || now.Before(d.StartsAt) {
		return false
	}
	return d.EndsAt == nil || now.Before(*d.EndsAt)
}

// Discounted applies the deal to sum. Percentage results are rounded half-up
// to cents; fixed amounts never take the total below zero.
func (d *BundleDeal) Discounted(sum decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	switch d.DiscountType {
	case DiscountPercentage:
		out = sum.Mul(hundred.Sub(d.DiscountValue)).Div(hundred).Round(2)
	case DiscountFixed:
		out = sum.Sub(d.DiscountValue)
	default:
		return sum
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	if out.GreaterThan(sum) {
		return sum
	}
	return out
}

// Covers reports whether every mapping of the deal is in selected.
func (d *BundleDeal) Covers(selected map[uuid.UUID]bool) bool {
	for _, id := range d.MappingIDs {
		if !selected[id] {
			return false
		}
	}
	return true
}
