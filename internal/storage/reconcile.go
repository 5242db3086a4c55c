package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"

	"tally/internal/aggregate"
)

// Exclusive implements aggregate.Store. The transaction opens with BEGIN
// IMMEDIATE so the reconciler holds the write lock for its whole run and no
// live ledger write can interleave with the full scan.
func (r *SQLiteRepository) Exclusive(ctx context.Context, fn func(aggregate.Tx) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return wrapStoreErr("reconcile connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return wrapStoreErr("begin reconcile", err)
	}

	if err := fn(&reconcileTx{conn: conn}); err != nil {
		rollback(ctx, conn)
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback(ctx, conn)
		return wrapStoreErr("commit reconcile", err)
	}
	return nil
}

// rollback must run even when ctx is already cancelled: a connection
// returned to the pool with the IMMEDIATE transaction still open would make
// every later Exclusive call fail and hold the write lock until process
// exit. If the rollback itself fails the connection is discarded instead of
// pooled.
func rollback(ctx context.Context, conn *sql.Conn) {
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
		slog.ErrorContext(ctx, "Reconcile rollback failed, discarding connection", "error", err)
		conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

type reconcileTx struct {
	conn *sql.Conn
}

func (t *reconcileTx) StoredCategoryTotals(ctx context.Context, scope aggregate.Scope) (map[int64]int64, error) {
	if scope.UserID != 0 {
		return t.totals(ctx,
			"SELECT id, total_cents FROM categories WHERE user_id = ?", scope.UserID)
	}
	return t.totals(ctx, "SELECT id, total_cents FROM categories")
}

func (t *reconcileTx) StoredSubcategoryTotals(ctx context.Context, scope aggregate.Scope) (map[int64]int64, error) {
	if scope.UserID != 0 {
		return t.totals(ctx,
			"SELECT id, total_cents FROM subcategories WHERE user_id = ?", scope.UserID)
	}
	return t.totals(ctx, "SELECT id, total_cents FROM subcategories")
}

// ComputedCategoryTotals rebuilds category totals from first principles:
// direct expenses plus incomes routed through subcategories.
func (t *reconcileTx) ComputedCategoryTotals(ctx context.Context, scope aggregate.Scope) (map[int64]int64, error) {
	expenseQuery := `
		SELECT category_id, SUM(amount_cents) FROM movements
		WHERE kind = 'expense' AND category_id IS NOT NULL`
	incomeQuery := `
		SELECT s.category_id, SUM(m.amount_cents)
		FROM movements m
		JOIN subcategories s ON s.id = m.subcategory_id
		WHERE m.kind = 'income'`

	var (
		expenses, incomes map[int64]int64
		err               error
	)
	if scope.UserID != 0 {
		expenses, err = t.totals(ctx, expenseQuery+" AND user_id = ? GROUP BY category_id", scope.UserID)
	} else {
		expenses, err = t.totals(ctx, expenseQuery+" GROUP BY category_id")
	}
	if err != nil {
		return nil, err
	}
	if scope.UserID != 0 {
		incomes, err = t.totals(ctx, incomeQuery+" AND m.user_id = ? GROUP BY s.category_id", scope.UserID)
	} else {
		incomes, err = t.totals(ctx, incomeQuery+" GROUP BY s.category_id")
	}
	if err != nil {
		return nil, err
	}

	for id, cents := range incomes {
		expenses[id] += cents
	}
	return expenses, nil
}

// ComputedSubcategoryTotals rebuilds subcategory totals: expenses and
// incomes both contribute directly.
func (t *reconcileTx) ComputedSubcategoryTotals(ctx context.Context, scope aggregate.Scope) (map[int64]int64, error) {
	query := `
		SELECT subcategory_id, SUM(amount_cents) FROM movements
		WHERE kind IN ('expense', 'income') AND subcategory_id IS NOT NULL`
	if scope.UserID != 0 {
		return t.totals(ctx, query+" AND user_id = ? GROUP BY subcategory_id", scope.UserID)
	}
	return t.totals(ctx, query+" GROUP BY subcategory_id")
}

func (t *reconcileTx) SetCategoryTotal(ctx context.Context, id, cents int64) error {
	_, err := t.conn.ExecContext(ctx,
		"UPDATE categories SET total_cents = ? WHERE id = ?", cents, id)
	return wrapStoreErr("set category total", err)
}

func (t *reconcileTx) SetSubcategoryTotal(ctx context.Context, id, cents int64) error {
	_, err := t.conn.ExecContext(ctx,
		"UPDATE subcategories SET total_cents = ? WHERE id = ?", cents, id)
	return wrapStoreErr("set subcategory total", err)
}

func (t *reconcileTx) totals(ctx context.Context, query string, args ...any) (map[int64]int64, error) {
	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("totals query", err)
	}
	defer rows.Close()

	totals := make(map[int64]int64)
	for rows.Next() {
		var id, cents int64
		if err := rows.Scan(&id, &cents); err != nil {
			return nil, wrapStoreErr("totals query", err)
		}
		totals[id] = cents
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("totals query", err)
	}
	return totals, nil
}
