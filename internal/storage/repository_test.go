package storage

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"tally/internal/aggregate"
	"tally/internal/core"
)

type fixture struct {
	repo     *SQLiteRepository
	checking int64
	savings  int64
	food     int64
	eatOut   int64 // subcategory of food
	salary   int64
	paycheck int64 // subcategory of salary
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	f := &fixture{repo: repo}
	mustID := func(id int64, err error) int64 {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		return id
	}
	f.checking = mustID(repo.CreateAccount(ctx, 1, "checking"))
	f.savings = mustID(repo.CreateAccount(ctx, 1, "savings"))
	f.food = mustID(repo.CreateCategory(ctx, 1, "Food"))
	f.eatOut = mustID(repo.CreateSubcategory(ctx, 1, f.food, "Eating out"))
	f.salary = mustID(repo.CreateCategory(ctx, 1, "Salary"))
	f.paycheck = mustID(repo.CreateSubcategory(ctx, 1, f.salary, "Paycheck"))
	return f
}

func (f *fixture) categoryTotal(t *testing.T, id int64) int64 {
	t.Helper()
	cents, err := f.repo.CategoryTotal(context.Background(), id)
	if err != nil {
		t.Fatalf("category total: %v", err)
	}
	return cents
}

func (f *fixture) subcategoryTotal(t *testing.T, id int64) int64 {
	t.Helper()
	cents, err := f.repo.SubcategoryTotal(context.Background(), id)
	if err != nil {
		t.Fatalf("subcategory total: %v", err)
	}
	return cents
}

func TestListAccountNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.repo.CreateAccount(ctx, 2, "other user's account"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	names, err := f.repo.ListAccountNames(ctx, 1)
	if err != nil {
		t.Fatalf("list account names: %v", err)
	}
	if len(names) != 2 || names[0] != "checking" || names[1] != "savings" {
		t.Errorf("names = %v, want [checking savings]", names)
	}
}

func TestCreateExpenseUpdatesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking,
		CategoryID: f.food, SubcategoryID: f.eatOut,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got := f.categoryTotal(t, f.food); got != 2500 {
		t.Errorf("food total = %d, want 2500", got)
	}
	if got := f.subcategoryTotal(t, f.eatOut); got != 2500 {
		t.Errorf("eating out total = %d, want 2500", got)
	}
}

func TestIncomeFlowsThroughSubcategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindIncome,
		Amount: core.Money{Cents: 300000}, Date: core.NewDate(2025, 3, 1),
		AccountID: f.checking, SubcategoryID: f.paycheck,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got := f.subcategoryTotal(t, f.paycheck); got != 300000 {
		t.Errorf("paycheck total = %d, want 300000", got)
	}
	if got := f.categoryTotal(t, f.salary); got != 300000 {
		t.Errorf("salary total = %d, want 300000", got)
	}
	if got := f.categoryTotal(t, f.food); got != 0 {
		t.Errorf("food total = %d, want 0", got)
	}
}

func TestTransferTouchesNoTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindTransfer,
		Amount: core.Money{Cents: 50000}, Date: core.NewDate(2025, 3, 2),
		AccountID: f.checking, ToAccountID: f.savings,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.categoryTotal(t, f.food); got != 0 {
		t.Errorf("food total = %d, want 0", got)
	}
	if got := f.categoryTotal(t, f.salary); got != 0 {
		t.Errorf("salary total = %d, want 0", got)
	}
}

func TestUpdateMovementMovesContribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.repo.CreateCategory(ctx, 1, "Transport")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	id, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking, CategoryID: f.food,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Re-categorise with the amount unchanged: old owner decrements, new
	// owner increments.
	err = f.repo.UpdateMovement(ctx, id, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "bus ticket", AccountID: f.checking, CategoryID: other,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.categoryTotal(t, f.food); got != 0 {
		t.Errorf("food total = %d, want 0", got)
	}
	if got := f.categoryTotal(t, other); got != 2500 {
		t.Errorf("transport total = %d, want 2500", got)
	}

	// Amount-only change still lands correctly.
	err = f.repo.UpdateMovement(ctx, id, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 3000}, Date: core.NewDate(2025, 3, 14),
		Description: "bus ticket", AccountID: f.checking, CategoryID: other,
	})
	if err != nil {
		t.Fatalf("update amount: %v", err)
	}
	if got := f.categoryTotal(t, other); got != 3000 {
		t.Errorf("transport total = %d, want 3000", got)
	}
}

func TestDeleteMovementSubtracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking,
		CategoryID: f.food, SubcategoryID: f.eatOut,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.repo.DeleteMovement(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.categoryTotal(t, f.food); got != 0 {
		t.Errorf("food total = %d, want 0", got)
	}
	if got := f.subcategoryTotal(t, f.eatOut); got != 0 {
		t.Errorf("eating out total = %d, want 0", got)
	}
}

func TestDeleteUncategorisedMovementIsAggregateNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 900}, Date: core.NewDate(2025, 3, 10),
		Description: "mystery", AccountID: f.checking,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.repo.DeleteMovement(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestReconcileCorrectsInjectedDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking, CategoryID: f.food,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Corrupt the counter behind the maintainer's back.
	if _, err := f.repo.db.Exec(
		"UPDATE categories SET total_cents = 999 WHERE id = ?", f.food); err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	rec := aggregate.NewReconciler(f.repo)
	drifts, err := rec.ReconcileAll(ctx, aggregate.Scope{UserID: 1})
	if !errors.Is(err, aggregate.ErrAggregateDrift) {
		t.Fatalf("expected ErrAggregateDrift, got %v", err)
	}
	if len(drifts) != 1 || drifts[0].CategoryID != f.food || drifts[0].ExpectedCents != 2500 {
		t.Fatalf("unexpected drift report %+v", drifts)
	}
	if got := f.categoryTotal(t, f.food); got != 2500 {
		t.Errorf("food total = %d, want 2500 after reconcile", got)
	}

	// Second run is clean and changes nothing.
	drifts, err = rec.ReconcileAll(ctx, aggregate.Scope{UserID: 1})
	if err != nil || len(drifts) != 0 {
		t.Fatalf("second run: drifts=%v err=%v", drifts, err)
	}
}

// TestReconcileCancelledMidRunReleasesConnection interrupts an exclusive
// transaction with context cancellation. The rollback must still happen:
// otherwise the pooled connection keeps the open transaction and every later
// reconcile fails with "cannot start a transaction within a transaction".
func TestReconcileCancelledMidRunReleasesConnection(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	err := f.repo.Exclusive(ctx, func(aggregate.Tx) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A fresh run must get a clean connection and succeed end to end.
	rec := aggregate.NewReconciler(f.repo)
	if _, err := rec.ReconcileAll(context.Background(), aggregate.Scope{UserID: 1}); err != nil {
		t.Fatalf("reconcile after cancelled run: %v", err)
	}

	// Writes must not be starved by a leaked IMMEDIATE lock either.
	_, err = f.repo.CreateMovement(context.Background(), core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking, CategoryID: f.food,
	})
	if err != nil {
		t.Fatalf("create after cancelled reconcile: %v", err)
	}
}

// TestRandomOperationsAgainstReconcileOracle drives a random sequence of
// creates, updates and deletes, then checks the delta-maintained totals by
// running the full-scan reconciler: a clean report means the hot path never
// diverged from the invariant definition.
func TestRandomOperationsAgainstReconcileOracle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	categories := []int64{f.food, 0}
	subcats := []int64{f.eatOut, 0}
	var live []int64

	for i := 0; i < 120; i++ {
		switch op := rng.Intn(4); {
		case op <= 1 || len(live) == 0: // create, biased
			cat := categories[rng.Intn(len(categories))]
			sub := int64(0)
			if cat == f.food {
				sub = subcats[rng.Intn(len(subcats))]
			}
			m := core.Movement{
				UserID: 1, Kind: core.KindExpense,
				Amount:      core.Money{Cents: int64(rng.Intn(5000) + 1)},
				Date:        core.NewDate(2025, rng.Intn(12)+1, rng.Intn(28)+1),
				Description: "op", AccountID: f.checking,
				CategoryID: cat, SubcategoryID: sub,
			}
			id, err := f.repo.CreateMovement(ctx, m)
			if err != nil {
				t.Fatalf("op %d create: %v", i, err)
			}
			live = append(live, id)
		case op == 2: // update
			id := live[rng.Intn(len(live))]
			err := f.repo.UpdateMovement(ctx, id, core.Movement{
				UserID: 1, Kind: core.KindExpense,
				Amount:      core.Money{Cents: int64(rng.Intn(5000) + 1)},
				Date:        core.NewDate(2025, rng.Intn(12)+1, rng.Intn(28)+1),
				Description: "op updated", AccountID: f.checking,
				CategoryID: categories[rng.Intn(len(categories))],
			})
			if err != nil {
				t.Fatalf("op %d update: %v", i, err)
			}
		default: // delete
			idx := rng.Intn(len(live))
			if err := f.repo.DeleteMovement(ctx, live[idx]); err != nil {
				t.Fatalf("op %d delete: %v", i, err)
			}
			live = append(live[:idx], live[idx+1:]...)
		}
	}

	rec := aggregate.NewReconciler(f.repo)
	drifts, err := rec.ReconcileAll(ctx, aggregate.Scope{UserID: 1})
	if err != nil {
		t.Fatalf("reconcile found drift after delta maintenance: %v (%+v)", err, drifts)
	}
}

func TestAnalyticsStoreQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	add := func(m core.Movement) {
		t.Helper()
		if _, err := f.repo.CreateMovement(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	add(core.Movement{UserID: 1, Kind: core.KindExpense, Amount: core.Money{Cents: 1200},
		Date: core.NewDate(2025, 3, 2), Description: "groceries", AccountID: f.checking, CategoryID: f.food})
	add(core.Movement{UserID: 1, Kind: core.KindExpense, Amount: core.Money{Cents: 800},
		Date: core.NewDate(2025, 3, 31), Description: "snacks", AccountID: f.checking, CategoryID: f.food})
	add(core.Movement{UserID: 1, Kind: core.KindExpense, Amount: core.Money{Cents: 500},
		Date: core.NewDate(2025, 4, 1), Description: "outside window", AccountID: f.checking, CategoryID: f.food})
	add(core.Movement{UserID: 1, Kind: core.KindIncome, Amount: core.Money{Cents: 300000},
		Date: core.NewDate(2025, 3, 1), AccountID: f.checking, SubcategoryID: f.paycheck})
	add(core.Movement{UserID: 1, Kind: core.KindTransfer, Amount: core.Money{Cents: 10000},
		Date: core.NewDate(2025, 3, 5), AccountID: f.checking, ToAccountID: f.savings})

	start := core.NewDate(2025, 3, 1).Time
	end := core.NewDate(2025, 4, 1).Time

	totals, err := f.repo.ExpenseTotalsByCategory(ctx, 1, start, end)
	if err != nil {
		t.Fatalf("totals by category: %v", err)
	}
	if totals["Food"] != 2000 {
		t.Errorf("Food = %d, want 2000 (half-open window)", totals["Food"])
	}

	total, err := f.repo.ExpenseTotal(ctx, 1, start, end)
	if err != nil {
		t.Fatalf("expense total: %v", err)
	}
	if total != 2000 {
		t.Errorf("expense total = %d, want 2000", total)
	}

	flows, err := f.repo.AccountFlows(ctx, 1)
	if err != nil {
		t.Fatalf("account flows: %v", err)
	}
	byName := map[string]struct{ in, out, exp, inc int64 }{}
	for _, fl := range flows {
		byName[fl.Account] = struct{ in, out, exp, inc int64 }{
			fl.TransferInCents, fl.TransferOutCents, fl.ExpenseCents, fl.IncomeCents,
		}
	}
	checking := byName["checking"]
	if checking.inc != 300000 || checking.exp != 2500 || checking.out != 10000 || checking.in != 0 {
		t.Errorf("checking flows = %+v", checking)
	}
	savings := byName["savings"]
	if savings.in != 10000 || savings.out != 0 || savings.exp != 0 || savings.inc != 0 {
		t.Errorf("savings flows = %+v", savings)
	}
}

func TestPendingSyncLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.repo.CreateMovement(ctx, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2500}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking, CategoryID: f.food,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := f.repo.ListPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id || pending[0].Version != 1 {
		t.Fatalf("pending = %+v", pending)
	}

	if err := f.repo.MarkSynced(ctx, id); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	pending, err = f.repo.ListPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending after sync, got %+v", pending)
	}

	// An update re-queues the movement with a bumped version.
	err = f.repo.UpdateMovement(ctx, id, core.Movement{
		UserID: 1, Kind: core.KindExpense,
		Amount: core.Money{Cents: 2600}, Date: core.NewDate(2025, 3, 14),
		Description: "lunch", AccountID: f.checking, CategoryID: f.food,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, err = f.repo.ListPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("pending after update = %+v", pending)
	}

	rec, err := f.repo.GetMovement(ctx, id)
	if err != nil {
		t.Fatalf("get movement: %v", err)
	}
	if rec.AccountName != "checking" || rec.CategoryName != "Food" || rec.Version != 2 {
		t.Errorf("record = account %q category %q version %d", rec.AccountName, rec.CategoryName, rec.Version)
	}
}
