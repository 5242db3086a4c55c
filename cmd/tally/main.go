// Command tally is the chat-style entry point: it turns a free-text message
// into a committed ledger movement and answers analytics questions.
//
//	tally add "Add $25 for lunch at McDonald's"
//	tally breakdown "this month"
//	tally trend 6
//	tally balances
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/analytics"
	"tally/internal/config"
	"tally/internal/ledger"
	"tally/internal/log"
	"tally/internal/parse"
	"tally/internal/storage"
)

func main() {
	_ = godotenv.Load()

	userID := flag.Int64("user", 1, "ledger user")
	flag.Parse()

	logger := log.New(log.Config{Component: log.ComponentApp})
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: tally [-user id] add|breakdown|trend|balances [args]")
		os.Exit(2)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	if err := run(ctx, cfg, repo, *userID, flag.Args()); err != nil {
		logger.Error("Command failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, userID int64, args []string) error {
	switch cmd := args[0]; cmd {
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("add needs a message")
		}
		return add(ctx, cfg, repo, userID, args[1])
	case "breakdown":
		period := "this month"
		if len(args) > 1 {
			period = args[1]
		}
		return breakdown(ctx, repo, userID, period)
	case "trend":
		months := 6
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("trend needs a positive month count, got %q", args[1])
			}
			months = n
		}
		return trend(ctx, repo, userID, months)
	case "balances":
		return balances(ctx, repo, userID)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// add parses the message against the user's accounts and commits the draft
// with the configured retry policy.
func add(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, userID int64, message string) error {
	accounts, err := repo.ListAccountNames(ctx, userID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	draft, err := parse.Parse(message, parse.Context{
		UserID:         userID,
		DefaultAccount: cfg.DefaultAccount,
		Accounts:       accounts,
	})
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}

	svc := ledger.NewService(repo, newPublisher(cfg),
		ledger.WithRetry(cfg.CommitRetries, cfg.CommitBackoff))
	id, err := svc.Commit(ctx, userID, draft)
	if err != nil {
		return err
	}

	fmt.Printf("recorded %s #%d: %.2f %s %q\n",
		draft.Kind, id, draft.Amount.Units(), draft.Currency, draft.Description)
	return nil
}

// newPublisher connects to AMQP when configured. The ledger service treats a
// nil publisher as "local only", so broker downtime never blocks entry.
func newPublisher(cfg *config.Config) ledger.Publisher {
	if cfg.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		log.New(log.Config{Component: log.ComponentAMQP}).
			Warn("AMQP unavailable, movement will sync via the pending sweep", log.FieldError, err)
		return nil
	}
	return client
}

func breakdown(ctx context.Context, repo *storage.SQLiteRepository, userID int64, period string) error {
	eng := analytics.NewEngine(repo, nil)
	analysis, err := eng.SpendingBreakdown(ctx, userID, period)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s to %s): %.2f total\n",
		analysis.Period.Name,
		analysis.Period.Start.Format("2006-01-02"),
		analysis.Period.End.Format("2006-01-02"),
		analysis.Total.Units())
	for _, c := range analysis.ByCategory {
		fmt.Printf("  %-20s %10.2f\n", c.Category, c.Amount.Units())
	}
	return nil
}

func trend(ctx context.Context, repo *storage.SQLiteRepository, userID int64, months int) error {
	eng := analytics.NewEngine(repo, nil)
	result, err := eng.Trend(ctx, userID, analytics.LastMonths(time.Now(), months))
	if err != nil {
		return err
	}

	for _, p := range result.Points {
		change := "    n/a"
		if p.Change != nil {
			change = fmt.Sprintf("%+6.1f%%", *p.Change*100)
		}
		fmt.Printf("  %s %10.2f  %s\n", p.Period.Name, p.Total.Units(), change)
	}
	return nil
}

func balances(ctx context.Context, repo *storage.SQLiteRepository, userID int64) error {
	eng := analytics.NewEngine(repo, nil)
	result, err := eng.AccountBalances(ctx, userID)
	if err != nil {
		return err
	}

	for _, b := range result {
		fmt.Printf("  %-20s %10.2f\n", b.Account, b.Balance.Units())
	}
	return nil
}
