// Package storage persists the ledger in SQLite. Movement writes and their
// aggregate total deltas always share one transaction: if either fails,
// neither is committed.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tally/internal/aggregate"
	"tally/internal/core"
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- catalog ---

func (r *SQLiteRepository) CreateAccount(ctx context.Context, userID int64, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO accounts (user_id, name) VALUES (?, ?)", userID, name)
	if err != nil {
		return 0, wrapStoreErr("create account", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO categories (user_id, name) VALUES (?, ?)", userID, name)
	if err != nil {
		return 0, wrapStoreErr("create category", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) CreateSubcategory(ctx context.Context, userID, categoryID int64, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO subcategories (user_id, category_id, name) VALUES (?, ?, ?)",
		userID, categoryID, name)
	if err != nil {
		return 0, wrapStoreErr("create subcategory", err)
	}
	return res.LastInsertId()
}

// ListAccountNames returns the user's account names in creation order, for
// the parser's account matching.
func (r *SQLiteRepository) ListAccountNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM accounts WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, wrapStoreErr("list account names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapStoreErr("list account names", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list account names", err)
	}
	return names, nil
}

// AccountIDByName resolves an account name for a user, case-insensitively.
// Returns sql.ErrNoRows (wrapped) when the name is unknown.
func (r *SQLiteRepository) AccountIDByName(ctx context.Context, userID int64, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM accounts WHERE user_id = ? AND name = ? COLLATE NOCASE",
		userID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account %q: %w", name, err)
	}
	return id, nil
}

func (r *SQLiteRepository) CategoryIDByName(ctx context.Context, userID int64, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM categories WHERE user_id = ? AND name = ? COLLATE NOCASE",
		userID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("category %q: %w", name, err)
	}
	return id, nil
}

// SubcategoryIDByName returns the subcategory and its owning category.
func (r *SQLiteRepository) SubcategoryIDByName(ctx context.Context, userID int64, name string) (int64, int64, error) {
	var id, categoryID int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, category_id FROM subcategories WHERE user_id = ? AND name = ? COLLATE NOCASE",
		userID, name).Scan(&id, &categoryID)
	if err != nil {
		return 0, 0, fmt.Errorf("subcategory %q: %w", name, err)
	}
	return id, categoryID, nil
}

// CategoryTotal reads the maintained running total.
func (r *SQLiteRepository) CategoryTotal(ctx context.Context, id int64) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		"SELECT total_cents FROM categories WHERE id = ?", id).Scan(&cents)
	if err != nil {
		return 0, wrapStoreErr("category total", err)
	}
	return cents, nil
}

func (r *SQLiteRepository) SubcategoryTotal(ctx context.Context, id int64) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		"SELECT total_cents FROM subcategories WHERE id = ?", id).Scan(&cents)
	if err != nil {
		return 0, wrapStoreErr("subcategory total", err)
	}
	return cents, nil
}

// --- movement writes ---

// CreateMovement inserts the movement and applies its aggregate deltas in
// one transaction.
func (r *SQLiteRepository) CreateMovement(ctx context.Context, m core.Movement) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStoreErr("begin create movement", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO movements (user_id, kind, amount_cents, date, description,
			account_id, to_account_id, category_id, subcategory_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, string(m.Kind), m.Amount.Cents, m.Date.Format(dateLayout),
		m.Description, m.AccountID, nullID(m.ToAccountID),
		nullID(m.CategoryID), nullID(m.SubcategoryID))
	if err != nil {
		return 0, wrapStoreErr("insert movement", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStoreErr("insert movement", err)
	}

	view, err := movementView(ctx, tx, m)
	if err != nil {
		return 0, err
	}
	if err := applyDeltas(ctx, tx, aggregate.ForCreate(view)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapStoreErr("commit create movement", err)
	}

	slog.InfoContext(ctx, "Movement saved",
		"id", id,
		"kind", m.Kind,
		"amount_cents", m.Amount.Cents,
		"user_id", m.UserID)
	return id, nil
}

// UpdateMovement replaces a movement and shifts its aggregate contributions
// from the old targets to the new ones, all in one transaction. The row's
// version bumps and its sync state resets so the export worker picks it up
// again.
func (r *SQLiteRepository) UpdateMovement(ctx context.Context, id int64, m core.Movement) error {
	m.ID = id
	if err := m.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin update movement", err)
	}
	defer tx.Rollback()

	old, err := getMovementTx(ctx, tx, id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE movements SET kind = ?, amount_cents = ?, date = ?, description = ?,
			account_id = ?, to_account_id = ?, category_id = ?, subcategory_id = ?,
			version = version + 1, synced_at = NULL, sync_error = 0
		WHERE id = ?`,
		string(m.Kind), m.Amount.Cents, m.Date.Format(dateLayout), m.Description,
		m.AccountID, nullID(m.ToAccountID), nullID(m.CategoryID),
		nullID(m.SubcategoryID), id)
	if err != nil {
		return wrapStoreErr("update movement", err)
	}

	oldView, err := movementView(ctx, tx, old)
	if err != nil {
		return err
	}
	newView, err := movementView(ctx, tx, m)
	if err != nil {
		return err
	}
	if err := applyDeltas(ctx, tx, aggregate.ForUpdate(oldView, newView)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit update movement", err)
	}

	slog.InfoContext(ctx, "Movement updated", "id", id, "kind", m.Kind)
	return nil
}

// DeleteMovement removes the row and subtracts its contributions in one
// transaction.
func (r *SQLiteRepository) DeleteMovement(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin delete movement", err)
	}
	defer tx.Rollback()

	old, err := getMovementTx(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM movements WHERE id = ?", id); err != nil {
		return wrapStoreErr("delete movement", err)
	}

	view, err := movementView(ctx, tx, old)
	if err != nil {
		return err
	}
	if err := applyDeltas(ctx, tx, aggregate.ForDelete(view)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit delete movement", err)
	}

	slog.InfoContext(ctx, "Movement deleted", "id", id)
	return nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func getMovementTx(ctx context.Context, tx *sql.Tx, id int64) (core.Movement, error) {
	var (
		m        core.Movement
		kind     string
		date     string
		toAcc    sql.NullInt64
		catID    sql.NullInt64
		subcatID sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount_cents, date, description,
			account_id, to_account_id, category_id, subcategory_id
		FROM movements WHERE id = ?`, id).Scan(
		&m.ID, &m.UserID, &kind, &m.Amount.Cents, &date, &m.Description,
		&m.AccountID, &toAcc, &catID, &subcatID)
	if err != nil {
		return core.Movement{}, wrapStoreErr("get movement", err)
	}
	m.Kind = core.MovementKind(kind)
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return core.Movement{}, fmt.Errorf("parse movement date %q: %w", date, err)
	}
	m.Date = core.Date{Time: t}
	m.ToAccountID = toAcc.Int64
	m.CategoryID = catID.Int64
	m.SubcategoryID = subcatID.Int64
	return m, nil
}

// movementView resolves the subcategory's parent category so income deltas
// can reach it.
func movementView(ctx context.Context, tx *sql.Tx, m core.Movement) (aggregate.View, error) {
	v := aggregate.View{
		Kind:          m.Kind,
		Cents:         m.Amount.Cents,
		CategoryID:    m.CategoryID,
		SubcategoryID: m.SubcategoryID,
	}
	if m.SubcategoryID != 0 {
		err := tx.QueryRowContext(ctx,
			"SELECT category_id FROM subcategories WHERE id = ?",
			m.SubcategoryID).Scan(&v.ParentID)
		if err != nil {
			return aggregate.View{}, wrapStoreErr("resolve subcategory parent", err)
		}
	}
	return v, nil
}

// applyDeltas runs each delta as a relative update so concurrent transactions
// can never lose each other's increments.
func applyDeltas(ctx context.Context, tx *sql.Tx, deltas []aggregate.Delta) error {
	for _, d := range deltas {
		var (
			res sql.Result
			err error
		)
		if d.CategoryID != 0 {
			res, err = tx.ExecContext(ctx,
				"UPDATE categories SET total_cents = total_cents + ? WHERE id = ?",
				d.Cents, d.CategoryID)
		} else {
			res, err = tx.ExecContext(ctx,
				"UPDATE subcategories SET total_cents = total_cents + ? WHERE id = ?",
				d.Cents, d.SubcategoryID)
		}
		if err != nil {
			return wrapStoreErr("apply aggregate delta", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapStoreErr("apply aggregate delta", err)
		}
		if n == 0 {
			return &StoreError{
				Op:  "apply aggregate delta",
				Err: fmt.Errorf("aggregate row missing (category=%d subcategory=%d)", d.CategoryID, d.SubcategoryID),
			}
		}
	}
	return nil
}
