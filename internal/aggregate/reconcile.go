package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAggregateDrift reports that at least one stored total did not match its
// recomputed value. Totals are corrected before the error is returned; the
// error exists so callers cannot miss that drift occurred.
var ErrAggregateDrift = errors.New("aggregate drift detected")

// Scope limits reconciliation to one user's aggregates. The zero Scope
// covers every user.
type Scope struct {
	UserID int64
}

// Drift is one stored total that disagreed with the full-scan recomputation.
type Drift struct {
	CategoryID    int64
	SubcategoryID int64
	StoredCents   int64
	ExpectedCents int64
}

// Tx is the transactional view the reconciler works in. Computed totals come
// from full scans over the movement rows per the invariant definitions;
// stored totals are the maintained counters. Aggregates with no matching
// movements must still appear in the stored maps so they get reset to zero.
type Tx interface {
	StoredCategoryTotals(ctx context.Context, scope Scope) (map[int64]int64, error)
	StoredSubcategoryTotals(ctx context.Context, scope Scope) (map[int64]int64, error)
	ComputedCategoryTotals(ctx context.Context, scope Scope) (map[int64]int64, error)
	ComputedSubcategoryTotals(ctx context.Context, scope Scope) (map[int64]int64, error)
	SetCategoryTotal(ctx context.Context, id, cents int64) error
	SetSubcategoryTotal(ctx context.Context, id, cents int64) error
}

// Store runs fn inside an exclusive transaction: no live ledger writes may
// interleave with it on the same database.
type Store interface {
	Exclusive(ctx context.Context, fn func(Tx) error) error
}

// Reconciler recomputes aggregates from first principles. It is the O(n)
// fallback to the delta hot path and doubles as the correctness oracle in
// tests.
type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// ReconcileAll recomputes every aggregate in scope, corrects any that
// drifted and returns the drift list. When drift was found the returned
// error wraps ErrAggregateDrift; the correction still happened. Running it
// twice in a row yields identical totals and an empty second report.
func (r *Reconciler) ReconcileAll(ctx context.Context, scope Scope) ([]Drift, error) {
	var drifts []Drift
	err := r.store.Exclusive(ctx, func(tx Tx) error {
		catDrifts, err := reconcileKind(ctx, tx, scope, kindCategory)
		if err != nil {
			return err
		}
		subDrifts, err := reconcileKind(ctx, tx, scope, kindSubcategory)
		if err != nil {
			return err
		}
		drifts = append(catDrifts, subDrifts...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(drifts) > 0 {
		for _, d := range drifts {
			slog.WarnContext(ctx, "Aggregate drift corrected",
				"category_id", d.CategoryID,
				"subcategory_id", d.SubcategoryID,
				"stored_cents", d.StoredCents,
				"expected_cents", d.ExpectedCents)
		}
		return drifts, fmt.Errorf("%d aggregate(s) drifted: %w", len(drifts), ErrAggregateDrift)
	}
	return nil, nil
}

type aggregateKind int

const (
	kindCategory aggregateKind = iota
	kindSubcategory
)

func reconcileKind(ctx context.Context, tx Tx, scope Scope, kind aggregateKind) ([]Drift, error) {
	var (
		stored, computed map[int64]int64
		err              error
	)
	if kind == kindCategory {
		stored, err = tx.StoredCategoryTotals(ctx, scope)
	} else {
		stored, err = tx.StoredSubcategoryTotals(ctx, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("read stored totals: %w", err)
	}
	if kind == kindCategory {
		computed, err = tx.ComputedCategoryTotals(ctx, scope)
	} else {
		computed, err = tx.ComputedSubcategoryTotals(ctx, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("recompute totals: %w", err)
	}

	var drifts []Drift
	for id, storedCents := range stored {
		expected := computed[id] // zero when no movements reference it
		if expected == storedCents {
			continue
		}
		d := Drift{StoredCents: storedCents, ExpectedCents: expected}
		if kind == kindCategory {
			d.CategoryID = id
			err = tx.SetCategoryTotal(ctx, id, expected)
		} else {
			d.SubcategoryID = id
			err = tx.SetSubcategoryTotal(ctx, id, expected)
		}
		if err != nil {
			return nil, fmt.Errorf("write corrected total: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, nil
}
