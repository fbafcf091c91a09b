package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Laboratory maps to the laboratory table.
type Laboratory struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	ContactEmail *string   `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone *string   `db:"contact_phone" json:"contact_phone,omitempty"`
	Address      *string   `db:"address" json:"address,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// PriceList maps to the price_list table. At most one list per laboratory
// is active.
type PriceList struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	LaboratoryID uuid.UUID  `db:"laboratory_id" json:"laboratory_id"`
	Name         string     `db:"name" json:"name"`
	ValidFrom    time.Time  `db:"valid_from" json:"valid_from"`
	ValidUntil   *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// InEffect reports whether now falls inside the list's validity window.
func (pl *PriceList) InEffect(now time.Time) bool {
	if now.Before(pl.ValidFrom) {
		return false
	}
	return pl.ValidUntil == nil || now.Before(*pl.ValidUntil)
}

// Test maps to the lab_test table: one priced line of a price list.
type Test struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PriceListID uuid.UUID       `db:"price_list_id" json:"price_list_id"`
	Name        string          `db:"name" json:"name"`
	Code        *string         `db:"code" json:"code,omitempty"`
	Price       decimal.Decimal `db:"price" json:"price"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// TestInfo is a test together with the ownership chain a mapping entry
// needs: its laboratory and whether its price list is the active one.
type TestInfo struct {
	Test
	LaboratoryID   uuid.UUID `json:"laboratory_id"`
	LaboratoryName string    `json:"laboratory_name"`
	ListActive     bool      `json:"list_active"`
}

// ActivationResult reports what switching a laboratory's active list did
// to the mapping entries that pointed at its previous tests.
type ActivationResult struct {
	PriceListID  uuid.UUID   `json:"price_list_id"`
	LaboratoryID uuid.UUID   `json:"laboratory_id"`
	Repointed    int         `json:"repointed"`
	StaleEntries []uuid.UUID `json:"stale_entries"`
}
