// Package ledger turns parsed drafts into committed movements. It owns
// pre-commit validation, the retry policy for lock contention, and the
// fire-and-forget sync publish after a successful write.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/parse"
	"tally/internal/storage"
)

var (
	ErrUnknownAccount  = errors.New("unknown account")
	ErrUnknownCategory = errors.New("unknown category")
	ErrNegativeAmount  = errors.New("amount must be positive")
)

// Store is the slice of the repository the service needs.
type Store interface {
	AccountIDByName(ctx context.Context, userID int64, name string) (int64, error)
	CategoryIDByName(ctx context.Context, userID int64, name string) (int64, error)
	SubcategoryIDByName(ctx context.Context, userID int64, name string) (int64, int64, error)
	CreateMovement(ctx context.Context, m core.Movement) (int64, error)
	UpdateMovement(ctx context.Context, id int64, m core.Movement) error
	DeleteMovement(ctx context.Context, id int64) error
	GetMovement(ctx context.Context, id int64) (storage.MovementRecord, error)
}

// Publisher emits sync messages after a committed write. A nil Publisher
// disables publishing.
type Publisher interface {
	PublishMovementSync(ctx context.Context, id, version int64) error
	PublishMovementDelete(ctx context.Context, id int64) error
}

type Service struct {
	store     Store
	publisher Publisher
	retries   int
	backoff   time.Duration
}

type Option func(*Service)

// WithRetry overrides the retry policy for retryable store errors.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(s *Service) {
		s.retries = retries
		s.backoff = backoff
	}
}

func NewService(store Store, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: publisher,
		retries:   3,
		backoff:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit validates a draft against the user's catalog, writes the movement
// and publishes a sync message. Publish failure never fails the commit.
func (s *Service) Commit(ctx context.Context, userID int64, draft parse.ParsedTransaction) (int64, error) {
	m, err := s.resolve(ctx, userID, draft)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withRetry(ctx, "create movement", func() error {
		var err error
		id, err = s.store.CreateMovement(ctx, m)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("commit movement: %w", err)
	}

	s.publishSync(ctx, id, 1)
	return id, nil
}

// Update replaces a committed movement with a re-resolved draft.
func (s *Service) Update(ctx context.Context, id, userID int64, draft parse.ParsedTransaction) error {
	m, err := s.resolve(ctx, userID, draft)
	if err != nil {
		return err
	}

	err = s.withRetry(ctx, "update movement", func() error {
		return s.store.UpdateMovement(ctx, id, m)
	})
	if err != nil {
		return fmt.Errorf("update movement: %w", err)
	}

	version := int64(0)
	if rec, err := s.store.GetMovement(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to read movement version after update",
			"id", id, "error", err)
	} else {
		version = rec.Version
	}
	s.publishSync(ctx, id, version)
	return nil
}

// Delete removes a movement and publishes a delete message.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.withRetry(ctx, "delete movement", func() error {
		return s.store.DeleteMovement(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete movement: %w", err)
	}

	if s.publisher == nil {
		slog.WarnContext(ctx, "Publisher not available, skipping delete message", "id", id)
		return nil
	}
	if err := s.publisher.PublishMovementDelete(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish delete message",
			"id", id, "error", err)
	}
	return nil
}

// resolve binds draft names to catalog IDs and builds a validated movement.
func (s *Service) resolve(ctx context.Context, userID int64, draft parse.ParsedTransaction) (core.Movement, error) {
	if draft.Amount.Cents <= 0 {
		return core.Movement{}, ErrNegativeAmount
	}

	m := core.Movement{
		UserID:      userID,
		Kind:        draft.Kind,
		Amount:      draft.Amount,
		Date:        draft.Date,
		Description: draft.Description,
	}

	switch draft.Kind {
	case core.KindTransfer:
		from, err := s.accountID(ctx, userID, draft.FromAccount)
		if err != nil {
			return core.Movement{}, err
		}
		to, err := s.accountID(ctx, userID, draft.ToAccount)
		if err != nil {
			return core.Movement{}, err
		}
		m.AccountID, m.ToAccountID = from, to

	case core.KindIncome:
		accountID, err := s.accountID(ctx, userID, draft.Account)
		if err != nil {
			return core.Movement{}, err
		}
		m.AccountID = accountID
		// Income routes through a subcategory; the draft's category name is
		// matched against the subcategory catalog.
		if hasCategory(draft.Category) {
			subID, _, err := s.store.SubcategoryIDByName(ctx, userID, draft.Category)
			if errors.Is(err, sql.ErrNoRows) {
				return core.Movement{}, fmt.Errorf("%w: %q", ErrUnknownCategory, draft.Category)
			}
			if err != nil {
				return core.Movement{}, fmt.Errorf("resolve subcategory: %w", err)
			}
			m.SubcategoryID = subID
		}

	default:
		accountID, err := s.accountID(ctx, userID, draft.Account)
		if err != nil {
			return core.Movement{}, err
		}
		m.AccountID = accountID
		if hasCategory(draft.Category) {
			catID, err := s.store.CategoryIDByName(ctx, userID, draft.Category)
			if errors.Is(err, sql.ErrNoRows) {
				return core.Movement{}, fmt.Errorf("%w: %q", ErrUnknownCategory, draft.Category)
			}
			if err != nil {
				return core.Movement{}, fmt.Errorf("resolve category: %w", err)
			}
			m.CategoryID = catID
		}
	}

	if err := m.Validate(); err != nil {
		return core.Movement{}, err
	}
	return m, nil
}

func (s *Service) accountID(ctx context.Context, userID int64, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: no account in draft", ErrUnknownAccount)
	}
	id, err := s.store.AccountIDByName(ctx, userID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAccount, name)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve account: %w", err)
	}
	return id, nil
}

// hasCategory reports whether the draft names a real catalog category.
// The parser's fallback label is not one.
func hasCategory(name string) bool {
	return name != "" && name != parse.Uncategorized
}

// withRetry reruns fn on retryable store errors with doubling backoff.
// Retries happen only here, above the transaction boundary, so a delta is
// never applied twice.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !storage.IsRetryable(err) || attempt >= s.retries {
			return err
		}
		slog.WarnContext(ctx, "Store busy, retrying",
			"op", op, "attempt", attempt+1, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Service) publishSync(ctx context.Context, id, version int64) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Publisher not available, skipping sync message", "id", id)
		return
	}
	if err := s.publisher.PublishMovementSync(ctx, id, version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"id", id, "error", err)
	}
}
