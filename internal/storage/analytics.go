package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tally/internal/analytics"
	"tally/internal/core"
)

// ExpenseTotalsByCategory implements analytics.Store.
func (r *SQLiteRepository) ExpenseTotalsByCategory(ctx context.Context, userID int64, start, end time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.name, SUM(m.amount_cents)
		FROM movements m
		JOIN categories c ON c.id = m.category_id
		WHERE m.user_id = ? AND m.kind = 'expense' AND m.date >= ? AND m.date < ?
		GROUP BY c.name`,
		userID, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, wrapStoreErr("expense totals by category", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			cents int64
		)
		if err := rows.Scan(&name, &cents); err != nil {
			return nil, wrapStoreErr("expense totals by category", err)
		}
		totals[name] = cents
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("expense totals by category", err)
	}
	return totals, nil
}

// ExpenseTotal implements analytics.Store.
func (r *SQLiteRepository) ExpenseTotal(ctx context.Context, userID int64, start, end time.Time) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM movements
		WHERE user_id = ? AND kind = 'expense' AND date >= ? AND date < ?`,
		userID, start.Format(dateLayout), end.Format(dateLayout)).Scan(&cents)
	if err != nil {
		return 0, wrapStoreErr("expense total", err)
	}
	return cents, nil
}

// AccountFlows implements analytics.Store: lifetime per-account sums of
// incomes, expenses and both transfer directions.
func (r *SQLiteRepository) AccountFlows(ctx context.Context, userID int64) ([]analytics.AccountFlow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.name,
			COALESCE((SELECT SUM(amount_cents) FROM movements WHERE kind = 'income' AND account_id = a.id), 0),
			COALESCE((SELECT SUM(amount_cents) FROM movements WHERE kind = 'expense' AND account_id = a.id), 0),
			COALESCE((SELECT SUM(amount_cents) FROM movements WHERE kind = 'transfer' AND to_account_id = a.id), 0),
			COALESCE((SELECT SUM(amount_cents) FROM movements WHERE kind = 'transfer' AND account_id = a.id), 0)
		FROM accounts a
		WHERE a.user_id = ?
		ORDER BY a.id`, userID)
	if err != nil {
		return nil, wrapStoreErr("account flows", err)
	}
	defer rows.Close()

	var flows []analytics.AccountFlow
	for rows.Next() {
		var f analytics.AccountFlow
		if err := rows.Scan(&f.Account, &f.IncomeCents, &f.ExpenseCents,
			&f.TransferInCents, &f.TransferOutCents); err != nil {
			return nil, wrapStoreErr("account flows", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("account flows", err)
	}
	return flows, nil
}

// MovementRecord is a movement joined with its referenced names, as the
// export worker renders it.
type MovementRecord struct {
	core.Movement
	AccountName     string
	ToAccountName   string
	CategoryName    string
	SubcategoryName string
	Version         int64
}

// GetMovement loads one movement with resolved names.
func (r *SQLiteRepository) GetMovement(ctx context.Context, id int64) (MovementRecord, error) {
	var (
		rec      MovementRecord
		kind     string
		date     string
		toAcc    sql.NullInt64
		catID    sql.NullInt64
		subcatID sql.NullInt64
		toName   sql.NullString
		catName  sql.NullString
		subName  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.user_id, m.kind, m.amount_cents, m.date, m.description,
			m.account_id, m.to_account_id, m.category_id, m.subcategory_id, m.version,
			a.name, ta.name, c.name, s.name
		FROM movements m
		JOIN accounts a ON a.id = m.account_id
		LEFT JOIN accounts ta ON ta.id = m.to_account_id
		LEFT JOIN categories c ON c.id = m.category_id
		LEFT JOIN subcategories s ON s.id = m.subcategory_id
		WHERE m.id = ?`, id).Scan(
		&rec.ID, &rec.UserID, &kind, &rec.Amount.Cents, &date, &rec.Description,
		&rec.AccountID, &toAcc, &catID, &subcatID, &rec.Version,
		&rec.AccountName, &toName, &catName, &subName)
	if err != nil {
		return MovementRecord{}, wrapStoreErr("get movement", err)
	}
	rec.Kind = core.MovementKind(kind)
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return MovementRecord{}, fmt.Errorf("parse movement date %q: %w", date, err)
	}
	rec.Date = core.Date{Time: t}
	rec.ToAccountID = toAcc.Int64
	rec.CategoryID = catID.Int64
	rec.SubcategoryID = subcatID.Int64
	rec.ToAccountName = toName.String
	rec.CategoryName = catName.String
	rec.SubcategoryName = subName.String
	return rec, nil
}

// PendingMovement identifies a movement awaiting export.
type PendingMovement struct {
	ID      int64
	Version int64
}

// ListPendingSync returns movements that have not been exported yet,
// oldest first.
func (r *SQLiteRepository) ListPendingSync(ctx context.Context, limit int) ([]PendingMovement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, version FROM movements
		WHERE synced_at IS NULL AND sync_error = 0
		ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, wrapStoreErr("list pending sync", err)
	}
	defer rows.Close()

	var pending []PendingMovement
	for rows.Next() {
		var p PendingMovement
		if err := rows.Scan(&p.ID, &p.Version); err != nil {
			return nil, wrapStoreErr("list pending sync", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list pending sync", err)
	}
	return pending, nil
}

// MarkSynced records a successful export.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE movements SET synced_at = CURRENT_TIMESTAMP, sync_error = 0 WHERE id = ?", id)
	return wrapStoreErr("mark synced", err)
}

// MarkSyncError flags a movement whose export failed.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE movements SET sync_error = 1 WHERE id = ?", id)
	return wrapStoreErr("mark sync error", err)
}
