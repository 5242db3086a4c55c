// Package analytics computes spending breakdowns, trend series and account
// balances over ledger data. Every call recomputes from the store; nothing
// is cached between calls, and "today" comes only from the injected clock.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/core"
)

// Store is the read-only slice of the ledger the engine needs.
type Store interface {
	// ExpenseTotalsByCategory sums expense amounts per category name for
	// movements dated in [start, end).
	ExpenseTotalsByCategory(ctx context.Context, userID int64, start, end time.Time) (map[string]int64, error)
	// ExpenseTotal sums all expense amounts dated in [start, end).
	ExpenseTotal(ctx context.Context, userID int64, start, end time.Time) (int64, error)
	// AccountFlows returns lifetime per-account movement sums.
	AccountFlows(ctx context.Context, userID int64) ([]AccountFlow, error)
}

// AccountFlow is the raw per-account arithmetic the balance is derived from.
type AccountFlow struct {
	Account          string
	IncomeCents      int64
	ExpenseCents     int64
	TransferInCents  int64
	TransferOutCents int64
}

type CategoryAmount struct {
	Category string
	Amount   core.Money
}

// SpendingAnalysis is a per-period breakdown, largest category first.
type SpendingAnalysis struct {
	Period     Period
	Total      core.Money
	ByCategory []CategoryAmount
}

// TrendPoint carries one period's total and the fractional change versus the
// prior period. Change is nil for the first period and whenever the prior
// total is zero: the change is undefined there, never a division by zero.
type TrendPoint struct {
	Period Period
	Total  core.Money
	Change *float64
}

type TrendAnalysis struct {
	Points []TrendPoint
}

// AccountBalance is the signed balance of one account:
// incomes + incoming transfers - expenses - outgoing transfers.
type AccountBalance struct {
	Account      string
	Incomes      core.Money
	Expenses     core.Money
	TransfersIn  core.Money
	TransfersOut core.Money
	Balance      core.Money
}

// Engine answers analytics queries. Stateless per call and safe for
// concurrent use.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, now: now}
}

// SpendingBreakdown sums expenses per category for the symbolic period,
// ordered descending by amount. Ties break alphabetically for stable output.
func (e *Engine) SpendingBreakdown(ctx context.Context, userID int64, period string) (SpendingAnalysis, error) {
	p := ResolvePeriod(period, e.now())
	totals, err := e.store.ExpenseTotalsByCategory(ctx, userID, p.Start, p.End)
	if err != nil {
		return SpendingAnalysis{}, fmt.Errorf("expense totals by category: %w", err)
	}

	analysis := SpendingAnalysis{Period: p}
	for name, cents := range totals {
		analysis.ByCategory = append(analysis.ByCategory, CategoryAmount{
			Category: name,
			Amount:   core.Money{Cents: cents},
		})
		analysis.Total.Cents += cents
	}
	sort.Slice(analysis.ByCategory, func(i, j int) bool {
		a, b := analysis.ByCategory[i], analysis.ByCategory[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		return a.Category < b.Category
	})
	return analysis, nil
}

// Trend computes per-period expense totals with fractional change versus the
// prior period. Period totals are fetched concurrently; output order follows
// the input order.
func (e *Engine) Trend(ctx context.Context, userID int64, periods []Period) (TrendAnalysis, error) {
	totals := make([]int64, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range periods {
		i, p := i, p
		g.Go(func() error {
			total, err := e.store.ExpenseTotal(gctx, userID, p.Start, p.End)
			if err != nil {
				return fmt.Errorf("expense total for %s: %w", p.Name, err)
			}
			totals[i] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TrendAnalysis{}, err
	}

	points := make([]TrendPoint, len(periods))
	for i, p := range periods {
		points[i] = TrendPoint{Period: p, Total: core.Money{Cents: totals[i]}}
		if i == 0 {
			continue
		}
		prev := totals[i-1]
		if prev == 0 {
			continue // change undefined, not zero
		}
		change := float64(totals[i]-prev) / float64(prev)
		points[i].Change = &change
	}
	return TrendAnalysis{Points: points}, nil
}

// AccountBalances derives every account's signed balance from its movement
// sums.
func (e *Engine) AccountBalances(ctx context.Context, userID int64) ([]AccountBalance, error) {
	flows, err := e.store.AccountFlows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account flows: %w", err)
	}
	balances := make([]AccountBalance, len(flows))
	for i, f := range flows {
		balances[i] = AccountBalance{
			Account:      f.Account,
			Incomes:      core.Money{Cents: f.IncomeCents},
			Expenses:     core.Money{Cents: f.ExpenseCents},
			TransfersIn:  core.Money{Cents: f.TransferInCents},
			TransfersOut: core.Money{Cents: f.TransferOutCents},
			Balance: core.Money{
				Cents: f.IncomeCents + f.TransferInCents - f.ExpenseCents - f.TransferOutCents,
			},
		}
	}
	return balances, nil
}
