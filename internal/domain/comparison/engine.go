package comparison

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labprice/labprice/internal/domain/bundle"
	"github.com/labprice/labprice/internal/platform/apperrors"
)

// Compare prices the selected mappings at every laboratory holding an entry
// in at least one of them. It reads nothing but snap and is deterministic.
func Compare(selected []uuid.UUID, snap Snapshot) (*Result, error) {
	if len(selected) == 0 {
		return nil, apperrors.Validation("select at least one test")
	}

	ids := make([]uuid.UUID, 0, len(selected))
	inSelection := make(map[uuid.UUID]bool, len(selected))
	for _, id := range selected {
		if !inSelection[id] {
			inSelection[id] = true
			ids = append(ids, id)
		}
	}

	var missing []string
	for _, id := range ids {
		if snap.Mappings[id] == nil {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NotFound("test mappings not found", missing...)
	}

	res := &Result{Items: make([]Item, 0, len(ids))}
	rows := make(map[uuid.UUID]*LabRow)
	for _, id := range ids {
		m := snap.Mappings[id]
		res.Items = append(res.Items, Item{MappingID: id, CanonicalName: m.CanonicalName})

		seen := make(map[uuid.UUID]bool, len(m.Entries))
		for _, e := range m.Entries {
			if seen[e.LaboratoryID] {
				return nil, apperrors.Conflict("test mapping has more than one entry for a laboratory", m.ID.String(), e.LaboratoryID.String())
			}
			seen[e.LaboratoryID] = true
			row, ok := rows[e.LaboratoryID]
			if !ok {
				row = &LabRow{
					LaboratoryID: e.LaboratoryID,
					Name:         e.LaboratoryName,
					Prices:       make(map[uuid.UUID]decimal.Decimal),
				}
				rows[e.LaboratoryID] = row
			}
			// A stale entry keeps the lab in the result but prices nothing.
			if !e.Stale {
				row.Prices[id] = e.Price
			}
		}
	}

	deals := qualifyingDeals(snap, inSelection)
	for _, row := range rows {
		row.MissingCanonicalNames = []string{}
		for _, id := range ids {
			p, ok := row.Prices[id]
			if !ok {
				row.MissingCanonicalNames = append(row.MissingCanonicalNames, snap.Mappings[id].CanonicalName)
				continue
			}
			row.RawTotal = row.RawTotal.Add(p)
		}
		row.IsComplete = len(row.MissingCanonicalNames) == 0
		row.FinalTotal = row.RawTotal
		if row.IsComplete {
			applyBestDeal(row, deals)
		}
	}

	res.Laboratories = make([]LabRow, 0, len(rows))
	for _, row := range rows {
		res.Laboratories = append(res.Laboratories, *row)
	}
	sort.Slice(res.Laboratories, func(i, j int) bool {
		return rowLess(&res.Laboratories[i], &res.Laboratories[j])
	})
	if len(res.Laboratories) > 0 && res.Laboratories[0].IsComplete {
		id := res.Laboratories[0].LaboratoryID
		res.CheapestLaboratoryID = &id
	}
	return res, nil
}

// qualifyingDeals returns the deals in effect at snap.At whose mappings are
// all selected, ordered by id.
func qualifyingDeals(snap Snapshot, selected map[uuid.UUID]bool) []*bundle.BundleDeal {
	var out []*bundle.BundleDeal
	for _, d := range snap.Deals {
		if d.ActiveAt(snap.At) && len(d.MappingIDs) > 0 && d.Covers(selected) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// applyBestDeal picks the single deal giving the lowest final total. Deals
// arrive ordered by id so the first of equal totals wins.
func applyBestDeal(row *LabRow, deals []*bundle.BundleDeal) {
	for _, d := range deals {
		covered := decimal.Zero
		offered := true
		for _, mid := range d.MappingIDs {
			p, ok := row.Prices[mid]
			if !ok {
				offered = false
				break
			}
			covered = covered.Add(p)
		}
		if !offered {
			continue
		}
		final := d.Discounted(covered).Add(row.RawTotal.Sub(covered))
		if row.AppliedBundle == nil || final.LessThan(row.FinalTotal) {
			row.FinalTotal = final
			row.AppliedBundle = &AppliedBundle{ID: d.ID, Name: d.Name}
		}
	}
	if row.AppliedBundle != nil {
		row.AppliedBundle.Discount = row.RawTotal.Sub(row.FinalTotal)
	}
}

// rowLess orders complete laboratories by final total, then incomplete ones
// by how many tests they miss. Laboratory id breaks ties.
func rowLess(a, b *LabRow) bool {
	if a.IsComplete != b.IsComplete {
		return a.IsComplete
	}
	if a.IsComplete {
		if c := a.FinalTotal.Cmp(b.FinalTotal); c != 0 {
			return c < 0
		}
	} else if len(a.MissingCanonicalNames) != len(b.MissingCanonicalNames) {
		return len(a.MissingCanonicalNames) < len(b.MissingCanonicalNames)
	}
	return a.LaboratoryID.String() < b.LaboratoryID.String()
}

// EligibleSources returns the rows that may be offered as a quotation
// source: only laboratories that offer every selected test.
func EligibleSources(r *Result) []LabRow {
	out := make([]LabRow, 0, len(r.Laboratories))
	for _, row := range r.Laboratories {
		if row.IsComplete {
			out = append(out, row)
		}
	}
	return out
}
