// Command reconcile rebuilds category and subcategory running totals from
// the movements table and reports any drift it corrected. Run it after
// restoring a backup or editing the database by hand.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/aggregate"
	"tally/internal/config"
	"tally/internal/log"
	"tally/internal/storage"
)

func main() {
	_ = godotenv.Load()

	userID := flag.Int64("user", 0, "reconcile only this user's totals (0 = all users)")
	timeout := flag.Duration("timeout", time.Minute, "abort if the full scan takes longer than this")
	flag.Parse()

	logger := log.New(log.Config{Component: log.ComponentAggregate})
	log.SetDefault(logger)

	cfg := config.Load()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger.Info("Reconciling aggregate totals", log.FieldUserID, *userID)

	rec := aggregate.NewReconciler(repo)
	drifts, err := rec.ReconcileAll(ctx, aggregate.Scope{UserID: *userID})
	switch {
	case errors.Is(err, aggregate.ErrAggregateDrift):
		for _, d := range drifts {
			logger.Warn("Corrected drifted total",
				"category_id", d.CategoryID,
				"subcategory_id", d.SubcategoryID,
				"stored_cents", d.StoredCents,
				"expected_cents", d.ExpectedCents)
		}
		logger.Info("Reconcile corrected drift", "count", len(drifts))
	case err != nil:
		logger.Error("Reconcile failed", log.FieldError, err)
		os.Exit(1)
	default:
		logger.Info("All totals consistent")
	}
}
