// Package aggregate keeps category and subcategory running totals consistent
// with ledger mutations. Delta computation is pure; the storage layer applies
// the deltas inside the same transaction as the movement write.
package aggregate

import "tally/internal/core"

// View is the slice of a movement the delta computation needs. ParentID is
// the category owning SubcategoryID; the storage layer resolves it before
// asking for deltas, since incomes reach their category only through the
// subcategory.
type View struct {
	Kind          core.MovementKind
	Cents         int64
	CategoryID    int64
	SubcategoryID int64
	ParentID      int64
}

// Delta is a signed adjustment to exactly one aggregate: either a category
// total or a subcategory total.
type Delta struct {
	CategoryID    int64
	SubcategoryID int64
	Cents         int64
}

// ForCreate returns the contributions a new movement adds to its aggregates.
// Transfers touch no category totals.
func ForCreate(v View) []Delta {
	var ds []Delta
	switch v.Kind {
	case core.KindExpense:
		if v.CategoryID != 0 {
			ds = append(ds, Delta{CategoryID: v.CategoryID, Cents: v.Cents})
		}
		if v.SubcategoryID != 0 {
			ds = append(ds, Delta{SubcategoryID: v.SubcategoryID, Cents: v.Cents})
		}
	case core.KindIncome:
		if v.SubcategoryID != 0 {
			ds = append(ds, Delta{SubcategoryID: v.SubcategoryID, Cents: v.Cents})
			if v.ParentID != 0 {
				ds = append(ds, Delta{CategoryID: v.ParentID, Cents: v.Cents})
			}
		}
	}
	return ds
}

// ForDelete returns the negated contributions of an existing movement.
// A movement whose category and subcategory are both unset yields nothing.
func ForDelete(v View) []Delta {
	ds := ForCreate(v)
	for i := range ds {
		ds[i].Cents = -ds[i].Cents
	}
	return ds
}

// ForUpdate subtracts the old contribution and adds the new one. The two
// halves are kept as separate deltas even when they target the same
// aggregate, so a pure amount change and a re-categorisation go through the
// identical path.
func ForUpdate(old, new View) []Delta {
	return append(ForDelete(old), ForCreate(new)...)
}
