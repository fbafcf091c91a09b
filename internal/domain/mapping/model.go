package mapping

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TestMapping is a lab-agnostic test concept. Entries link it to at most one
// catalog test per laboratory, in insertion order.
type TestMapping struct {
	ID             uuid.UUID `db:"id" json:"id"`
	CanonicalName  string    `db:"canonical_name" json:"canonical_name"`
	NormalizedName string    `db:"normalized_name" json:"normalized_name"`
	CreatedByID    string    `db:"created_by_id" json:"created_by_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	Entries        []Entry   `json:"entries"`
}

// EntryFor returns the mapping's entry for a laboratory. More than one entry
// for the same laboratory is reported through dup.
func (m *TestMapping) EntryFor(labID uuid.UUID) (entry *Entry, dup bool) {
	for i := range m.Entries {
		if m.Entries[i].LaboratoryID != labID {
			continue
		}
		if entry != nil {
			return entry, true
		}
		entry = &m.Entries[i]
	}
	return entry, false
}

// Entry maps to test_mapping_entry, joined with the catalog rows it points
// at. Stale is set when the referenced test is no longer on the laboratory's
// active price list.
type Entry struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	MappingID      uuid.UUID       `db:"mapping_id" json:"mapping_id"`
	TestID         uuid.UUID       `db:"test_id" json:"test_id"`
	LaboratoryID   uuid.UUID       `db:"laboratory_id" json:"laboratory_id"`
	LaboratoryName string          `json:"laboratory_name"`
	PriceListID    uuid.UUID       `json:"price_list_id"`
	TestName       string          `json:"test_name"`
	TestCode       *string         `json:"test_code,omitempty"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Stale          bool            `json:"stale"`
	Position       int             `db:"position" json:"position"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
