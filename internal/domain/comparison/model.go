package comparison

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labprice/labprice/internal/domain/bundle"
	"github.com/labprice/labprice/internal/domain/mapping"
)

// Snapshot is the consistent set of mappings and deals a comparison reads.
// At is the instant deal windows are evaluated against.
type Snapshot struct {
	At       time.Time
	Mappings map[uuid.UUID]*mapping.TestMapping
	Deals    []*bundle.BundleDeal
}

// Item is one selected test mapping, in selection order.
type Item struct {
	MappingID     uuid.UUID
	CanonicalName string
}

// AppliedBundle describes the deal chosen for a laboratory and what it saved.
type AppliedBundle struct {
	ID       uuid.UUID
	Name     string
	Discount decimal.Decimal
}

// LabRow is one laboratory's quote for the selection. RawTotal of an
// incomplete laboratory sums only the tests it offers.
type LabRow struct {
	LaboratoryID          uuid.UUID
	Name                  string
	Prices                map[uuid.UUID]decimal.Decimal
	IsComplete            bool
	MissingCanonicalNames []string
	RawTotal              decimal.Decimal
	AppliedBundle         *AppliedBundle
	FinalTotal            decimal.Decimal
}

// Result is a comparison outcome. Laboratories are sorted cheapest complete
// row first; CheapestLaboratoryID is nil when no laboratory is complete.
type Result struct {
	Items                []Item
	Laboratories         []LabRow
	CheapestLaboratoryID *uuid.UUID
}

type itemJSON struct {
	CanonicalName string `json:"canonicalName"`
	MappingID     string `json:"mappingId"`
}

type bundleJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Discount string `json:"discount"`
}

type labJSON struct {
	LaboratoryID          string            `json:"laboratoryId"`
	Name                  string            `json:"name"`
	Prices                map[string]string `json:"prices"`
	IsComplete            bool              `json:"isComplete"`
	MissingCanonicalNames []string          `json:"missingCanonicalNames"`
	RawTotal              string            `json:"rawTotal"`
	AppliedBundle         *bundleJSON       `json:"appliedBundle"`
	FinalTotal            string            `json:"finalTotal"`
}

type resultJSON struct {
	Items                []itemJSON `json:"items"`
	Laboratories         []labJSON  `json:"laboratories"`
	CheapestLaboratoryID *string    `json:"cheapestLaboratoryId"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// MarshalJSON renders money as fixed two-decimal strings. Map keys are
// sorted by encoding/json, so equal results encode to identical bytes.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Items:        make([]itemJSON, 0, len(r.Items)),
		Laboratories: make([]labJSON, 0, len(r.Laboratories)),
	}
	for _, it := range r.Items {
		out.Items = append(out.Items, itemJSON{CanonicalName: it.CanonicalName, MappingID: it.MappingID.String()})
	}
	for _, row := range r.Laboratories {
		lj := labJSON{
			LaboratoryID:          row.LaboratoryID.String(),
			Name:                  row.Name,
			Prices:                make(map[string]string, len(row.Prices)),
			IsComplete:            row.IsComplete,
			MissingCanonicalNames: row.MissingCanonicalNames,
			RawTotal:              money(row.RawTotal),
			FinalTotal:            money(row.FinalTotal),
		}
		if lj.MissingCanonicalNames == nil {
			lj.MissingCanonicalNames = []string{}
		}
		for id, p := range row.Prices {
			lj.Prices[id.String()] = money(p)
		}
		if b := row.AppliedBundle; b != nil {
			lj.AppliedBundle = &bundleJSON{ID: b.ID.String(), Name: b.Name, Discount: money(b.Discount)}
		}
		out.Laboratories = append(out.Laboratories, lj)
	}
	if r.CheapestLaboratoryID != nil {
		s := r.CheapestLaboratoryID.String()
		out.CheapestLaboratoryID = &s
	}
	return json.Marshal(out)
}
