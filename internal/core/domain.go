package core

import (
	"errors"
	"strings"
	"time"
)

const (
	KindExpense  MovementKind = "expense"
	KindIncome   MovementKind = "income"
	KindTransfer MovementKind = "transfer"
)

type (
	// MovementKind discriminates the three ledger movement types.
	MovementKind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Account struct {
		ID     int64
		UserID int64
		Name   string
	}

	// Category carries a running total maintained alongside ledger writes.
	Category struct {
		ID     int64
		UserID int64
		Name   string
		Total  Money
	}

	// Subcategory belongs to exactly one Category and keeps its own total.
	Subcategory struct {
		ID         int64
		CategoryID int64
		UserID     int64
		Name       string
		Total      Money
	}

	// Movement is a single ledger entry. AccountID is the source account;
	// ToAccountID is set for transfers only. CategoryID is valid for
	// expenses; incomes link to a category only through their subcategory.
	Movement struct {
		ID            int64
		UserID        int64
		Kind          MovementKind
		Amount        Money
		Date          Date
		Description   string
		AccountID     int64
		ToAccountID   int64
		CategoryID    int64
		SubcategoryID int64
	}
)

var (
	ErrInvalidKind      = errors.New("invalid movement kind")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrMissingAccount   = errors.New("missing account")
	ErrSameAccount      = errors.New("transfer accounts must differ")
	ErrIncomeCategory   = errors.New("income may not link to a category directly")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (k MovementKind) Validate() error {
	switch k {
	case KindExpense, KindIncome, KindTransfer:
		return nil
	}
	return ErrInvalidKind
}

func (m Movement) Validate() error {
	if err := m.Kind.Validate(); err != nil {
		return err
	}
	if err := m.Amount.Validate(); err != nil {
		return err
	}
	if err := m.Date.Validate(); err != nil {
		return err
	}
	if m.AccountID == 0 {
		return ErrMissingAccount
	}
	switch m.Kind {
	case KindTransfer:
		if m.ToAccountID == 0 {
			return ErrMissingAccount
		}
		if m.ToAccountID == m.AccountID {
			return ErrSameAccount
		}
	case KindIncome:
		if m.CategoryID != 0 {
			return ErrIncomeCategory
		}
	case KindExpense:
		if len(strings.TrimSpace(m.Description)) == 0 {
			return ErrEmptyDescription
		}
		if len(m.Description) > 200 {
			return errors.New("description too long (max 200 characters)")
		}
	}
	return nil
}
