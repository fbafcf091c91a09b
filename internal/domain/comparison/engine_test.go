package comparison

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labprice/labprice/internal/domain/bundle"
	"github.com/labprice/labprice/internal/domain/mapping"
	"github.com/labprice/labprice/internal/platform/apperrors"
)

var (
	labA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	labB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	labC = uuid.MustParse("00000000-0000-0000-0000-00000000000c")

	cbcID   = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	lipidID = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	tshID   = uuid.MustParse("10000000-0000-0000-0000-000000000003")

	snapAt = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var labNames = map[uuid.UUID]string{labA: "Lab A", labB: "Lab B", labC: "Lab C"}

// entry is a shorthand for a priced, non-stale entry.
func entry(lab uuid.UUID, price string) mapping.Entry {
	return mapping.Entry{ID: uuid.New(), LaboratoryID: lab, LaboratoryName: labNames[lab], Price: dec(price)}
}

func stale(e mapping.Entry) mapping.Entry {
	e.Stale = true
	return e
}

func testMapping(id uuid.UUID, name string, entries ...mapping.Entry) *mapping.TestMapping {
	for i := range entries {
		entries[i].MappingID = id
	}
	return &mapping.TestMapping{ID: id, CanonicalName: name, Entries: entries}
}

func snapshot(deals []*bundle.BundleDeal, mappings ...*mapping.TestMapping) Snapshot {
	s := Snapshot{At: snapAt, Mappings: make(map[uuid.UUID]*mapping.TestMapping), Deals: deals}
	for _, m := range mappings {
		s.Mappings[m.ID] = m
	}
	return s
}

func deal(id string, typ bundle.DiscountType, value string, ids ...uuid.UUID) *bundle.BundleDeal {
	return &bundle.BundleDeal{
		ID:            uuid.MustParse(id),
		Name:          "deal " + id[len(id)-1:],
		MappingIDs:    ids,
		DiscountType:  typ,
		DiscountValue: dec(value),
		StartsAt:      snapAt.Add(-time.Hour),
		IsActive:      true,
	}
}

func rowFor(t *testing.T, r *Result, lab uuid.UUID) LabRow {
	t.Helper()
	for _, row := range r.Laboratories {
		if row.LaboratoryID == lab {
			return row
		}
	}
	t.Fatalf("no row for laboratory %s", lab)
	return LabRow{}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func TestCompare_CompleteAndIncomplete(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "9.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	require.Len(t, res.Laboratories, 2)

	a := rowFor(t, res, labA)
	assert.True(t, a.IsComplete)
	assertMoney(t, "25.00", a.RawTotal)
	assertMoney(t, "25.00", a.FinalTotal)
	assert.Nil(t, a.AppliedBundle)
	assert.Empty(t, a.MissingCanonicalNames)

	b := rowFor(t, res, labB)
	assert.False(t, b.IsComplete)
	assert.Equal(t, []string{"Lipid Panel"}, b.MissingCanonicalNames)
	assertMoney(t, "9.00", b.RawTotal)
	assert.Nil(t, b.AppliedBundle)

	require.NotNil(t, res.CheapestLaboratoryID)
	assert.Equal(t, labA, *res.CheapestLaboratoryID, "incomplete labs never win even when cheaper")
	assert.Equal(t, labA, res.Laboratories[0].LaboratoryID)
	assert.Equal(t, []Item{{cbcID, "CBC"}, {lipidID, "Lipid Panel"}}, res.Items)
}

func TestCompare_BundleDeal(t *testing.T) {
	d := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "20", cbcID, lipidID)
	snap := snapshot([]*bundle.BundleDeal{d},
		testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "9.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)

	a := rowFor(t, res, labA)
	assertMoney(t, "25.00", a.RawTotal)
	assertMoney(t, "20.00", a.FinalTotal)
	require.NotNil(t, a.AppliedBundle)
	assert.Equal(t, d.ID, a.AppliedBundle.ID)
	assertMoney(t, "5.00", a.AppliedBundle.Discount)

	assert.Nil(t, rowFor(t, res, labB).AppliedBundle, "incomplete labs get no bundle")
	assert.Equal(t, labA, *res.CheapestLaboratoryID)
}

func TestCompare_DealCoversSubsetOfSelection(t *testing.T) {
	d := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountFixed, "5", cbcID, lipidID)
	snap := snapshot([]*bundle.BundleDeal{d},
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
		testMapping(tshID, "TSH", entry(labA, "7.50")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID, tshID}, snap)
	require.NoError(t, err)

	a := rowFor(t, res, labA)
	assertMoney(t, "32.50", a.RawTotal)
	assertMoney(t, "27.50", a.FinalTotal)
}

func TestCompare_DealNotSelected(t *testing.T) {
	d := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "50", cbcID, tshID)
	snap := snapshot([]*bundle.BundleDeal{d},
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
		testMapping(tshID, "TSH", entry(labA, "7.50")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	a := rowFor(t, res, labA)
	assert.Nil(t, a.AppliedBundle)
	assertMoney(t, "25.00", a.FinalTotal)
}

func TestCompare_DealOutsideWindow(t *testing.T) {
	expired := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "20", cbcID, lipidID)
	end := snapAt
	expired.EndsAt = &end
	disabled := deal("20000000-0000-0000-0000-000000000002", bundle.DiscountPercentage, "20", cbcID, lipidID)
	disabled.IsActive = false

	snap := snapshot([]*bundle.BundleDeal{expired, disabled},
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	assert.Nil(t, rowFor(t, res, labA).AppliedBundle)
}

func TestCompare_BestSingleDeal(t *testing.T) {
	small := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "10", cbcID, lipidID)
	big := deal("20000000-0000-0000-0000-000000000002", bundle.DiscountFixed, "8", cbcID, lipidID)
	snap := snapshot([]*bundle.BundleDeal{small, big},
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	a := rowFor(t, res, labA)
	require.NotNil(t, a.AppliedBundle)
	assert.Equal(t, big.ID, a.AppliedBundle.ID, "deals are not stacked; the cheaper one wins")
	assertMoney(t, "17.00", a.FinalTotal)
}

func TestCompare_EqualDealsTieOnLowestID(t *testing.T) {
	// Both yield 20.00; listed high id first to show order does not matter.
	high := deal("20000000-0000-0000-0000-000000000009", bundle.DiscountFixed, "5", cbcID, lipidID)
	low := deal("20000000-0000-0000-0000-000000000003", bundle.DiscountPercentage, "20", cbcID, lipidID)
	snap := snapshot([]*bundle.BundleDeal{high, low},
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	a := rowFor(t, res, labA)
	require.NotNil(t, a.AppliedBundle)
	assert.Equal(t, low.ID, a.AppliedBundle.ID)
}

func TestCompare_CheapestTieOnLowestLabID(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labB, "10.00"), entry(labA, "10.00"), entry(labC, "12.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID}, snap)
	require.NoError(t, err)
	require.NotNil(t, res.CheapestLaboratoryID)
	assert.Equal(t, labA, *res.CheapestLaboratoryID)

	var order []uuid.UUID
	for _, row := range res.Laboratories {
		order = append(order, row.LaboratoryID)
	}
	assert.Equal(t, []uuid.UUID{labA, labB, labC}, order)
}

func TestCompare_RowOrder(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "30.00"), entry(labB, "5.00"), entry(labC, "1.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "30.00"), entry(labB, "5.00")),
		testMapping(tshID, "TSH", entry(labA, "30.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID, tshID}, snap)
	require.NoError(t, err)
	require.Len(t, res.Laboratories, 3)
	assert.Equal(t, labA, res.Laboratories[0].LaboratoryID, "complete rows first")
	assert.Equal(t, labB, res.Laboratories[1].LaboratoryID, "one missing")
	assert.Equal(t, labC, res.Laboratories[2].LaboratoryID, "two missing")
	assert.Equal(t, []string{"Lipid Panel", "TSH"}, res.Laboratories[2].MissingCanonicalNames)
}

func TestCompare_ExactDecimalSum(t *testing.T) {
	var mappings []*mapping.TestMapping
	var ids []uuid.UUID
	for i := 0; i < 30; i++ {
		id := uuid.New()
		ids = append(ids, id)
		mappings = append(mappings, testMapping(id, "T"+string(rune('A'+i%26)), entry(labA, "0.10")))
	}

	res, err := Compare(ids, snapshot(nil, mappings...))
	require.NoError(t, err)
	a := rowFor(t, res, labA)
	assert.True(t, a.RawTotal.Equal(dec("3")), "got %s", a.RawTotal)
	assertMoney(t, "3.00", a.FinalTotal)
}

func TestCompare_SingleTest(t *testing.T) {
	snap := snapshot(nil, testMapping(cbcID, "CBC", entry(labA, "10.00")))

	res, err := Compare([]uuid.UUID{cbcID}, snap)
	require.NoError(t, err)
	require.Len(t, res.Laboratories, 1)
	assert.True(t, res.Laboratories[0].IsComplete)
	assertMoney(t, "10.00", res.Laboratories[0].FinalTotal)
}

func TestCompare_DuplicateSelection(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)

	res, err := Compare([]uuid.UUID{lipidID, cbcID, lipidID}, snap)
	require.NoError(t, err)
	assert.Equal(t, []Item{{lipidID, "Lipid Panel"}, {cbcID, "CBC"}}, res.Items)
	assertMoney(t, "25.00", rowFor(t, res, labA).RawTotal)
}

func TestCompare_StaleEntryCountsAsMissing(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "8.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00"), stale(entry(labB, "1.00"))),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	b := rowFor(t, res, labB)
	assert.False(t, b.IsComplete)
	assert.Equal(t, []string{"Lipid Panel"}, b.MissingCanonicalNames)
	assertMoney(t, "8.00", b.RawTotal)
}

func TestCompare_StaleOnlyLabIsIncomplete(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "10.00"), stale(entry(labB, "1.00"))),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00"), stale(entry(labB, "2.00"))),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	require.Len(t, res.Laboratories, 2)
	assert.Equal(t, labA, res.Laboratories[0].LaboratoryID)

	b := res.Laboratories[1]
	assert.Equal(t, labB, b.LaboratoryID)
	assert.Equal(t, "Lab B", b.Name)
	assert.False(t, b.IsComplete)
	assert.Equal(t, []string{"CBC", "Lipid Panel"}, b.MissingCanonicalNames)
	assert.Empty(t, b.Prices)
	assertMoney(t, "0.00", b.RawTotal)
	assertMoney(t, "0.00", b.FinalTotal)
	assert.Nil(t, b.AppliedBundle)
	require.NotNil(t, res.CheapestLaboratoryID)
	assert.Equal(t, labA, *res.CheapestLaboratoryID)
}

func TestCompare_LaboratoriesAreUnionOfEntries(t *testing.T) {
	cbc := testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "9.00"), stale(entry(labC, "4.00")))
	lipid := testMapping(lipidID, "Lipid Panel", entry(labA, "15.00"), stale(entry(labB, "3.00")))
	tsh := testMapping(tshID, "TSH", stale(entry(labC, "7.00")))
	snap := snapshot([]*bundle.BundleDeal{
		deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "10", cbcID, lipidID),
	}, cbc, lipid, tsh)

	tests := []struct {
		name     string
		selected []uuid.UUID
	}{
		{"complete and incomplete", []uuid.UUID{cbcID, lipidID}},
		{"stale only", []uuid.UUID{tshID}},
		{"all mappings", []uuid.UUID{tshID, cbcID, lipidID}},
		{"repeated selection", []uuid.UUID{lipidID, lipidID, tshID}},
		{"single test", []uuid.UUID{cbcID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := make(map[uuid.UUID]bool)
			for _, id := range tt.selected {
				for _, e := range snap.Mappings[id].Entries {
					want[e.LaboratoryID] = true
				}
			}

			res, err := Compare(tt.selected, snap)
			require.NoError(t, err)

			got := make(map[uuid.UUID]bool)
			for _, row := range res.Laboratories {
				assert.False(t, got[row.LaboratoryID], "laboratory %s listed twice", row.LaboratoryID)
				got[row.LaboratoryID] = true
				if row.IsComplete {
					assert.Empty(t, row.MissingCanonicalNames)
				} else {
					assert.NotEmpty(t, row.MissingCanonicalNames)
				}
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestCompare_NoCompleteLab(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "10.00")),
		testMapping(lipidID, "Lipid Panel", entry(labB, "15.00")),
	)

	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)
	assert.Nil(t, res.CheapestLaboratoryID)
	assert.Empty(t, EligibleSources(res))

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cheapestLaboratoryId":null`)
}

func TestCompare_NoOffers(t *testing.T) {
	res, err := Compare([]uuid.UUID{cbcID}, snapshot(nil, testMapping(cbcID, "CBC")))
	require.NoError(t, err)
	assert.Empty(t, res.Laboratories)
	assert.Nil(t, res.CheapestLaboratoryID)
}

func TestCompare_EmptySelection(t *testing.T) {
	_, err := Compare(nil, snapshot(nil))
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "select at least one test")
}

func TestCompare_UnknownMapping(t *testing.T) {
	unknown := uuid.MustParse("10000000-0000-0000-0000-0000000000ff")
	snap := snapshot(nil, testMapping(cbcID, "CBC", entry(labA, "10.00")))

	res, err := Compare([]uuid.UUID{cbcID, unknown}, snap)
	assert.Nil(t, res)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{unknown.String()}, appErr.IDs)
}

func TestCompare_DuplicateLabEntry(t *testing.T) {
	snap := snapshot(nil, testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labA, "11.00")))

	_, err := Compare([]uuid.UUID{cbcID}, snap)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCompare_Deterministic(t *testing.T) {
	d := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "20", cbcID, lipidID)
	snap := snapshot([]*bundle.BundleDeal{d},
		testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "9.00"), entry(labC, "11.25")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00"), entry(labC, "13.10")),
	)
	sel := []uuid.UUID{cbcID, lipidID}

	first, err := Compare(sel, snap)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := Compare(sel, snap)
		require.NoError(t, err)
		got, err := json.Marshal(res)
		require.NoError(t, err)
		require.Equal(t, string(want), string(got))
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	d := deal("20000000-0000-0000-0000-000000000001", bundle.DiscountPercentage, "20", cbcID, lipidID)
	snap := snapshot([]*bundle.BundleDeal{d},
		testMapping(cbcID, "CBC", entry(labA, "10")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.5")),
	)
	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var doc struct {
		Items []struct {
			CanonicalName string `json:"canonicalName"`
			MappingID     string `json:"mappingId"`
		} `json:"items"`
		Laboratories []struct {
			LaboratoryID          string            `json:"laboratoryId"`
			Name                  string            `json:"name"`
			Prices                map[string]string `json:"prices"`
			IsComplete            bool              `json:"isComplete"`
			MissingCanonicalNames []string          `json:"missingCanonicalNames"`
			RawTotal              string            `json:"rawTotal"`
			AppliedBundle         *struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Discount string `json:"discount"`
			} `json:"appliedBundle"`
			FinalTotal string `json:"finalTotal"`
		} `json:"laboratories"`
		CheapestLaboratoryID *string `json:"cheapestLaboratoryId"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	require.Len(t, doc.Items, 2)
	assert.Equal(t, "CBC", doc.Items[0].CanonicalName)
	require.Len(t, doc.Laboratories, 1)
	lab := doc.Laboratories[0]
	assert.Equal(t, "Lab A", lab.Name)
	assert.Equal(t, "10.00", lab.Prices[cbcID.String()])
	assert.Equal(t, "15.50", lab.Prices[lipidID.String()])
	assert.Equal(t, "25.50", lab.RawTotal)
	assert.Equal(t, "20.40", lab.FinalTotal)
	assert.NotNil(t, lab.MissingCanonicalNames)
	require.NotNil(t, lab.AppliedBundle)
	assert.Equal(t, "5.10", lab.AppliedBundle.Discount)
	require.NotNil(t, doc.CheapestLaboratoryID)
	assert.Equal(t, labA.String(), *doc.CheapestLaboratoryID)
}

func TestEligibleSources(t *testing.T) {
	snap := snapshot(nil,
		testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "9.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)
	res, err := Compare([]uuid.UUID{cbcID, lipidID}, snap)
	require.NoError(t, err)

	sources := EligibleSources(res)
	require.Len(t, sources, 1)
	assert.Equal(t, labA, sources[0].LaboratoryID)
}
