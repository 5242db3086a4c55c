// Package worker mirrors committed movements from SQLite into the export
// sheet, driven by AMQP messages with a polling sweep as backup.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/export"
	"tally/internal/storage"
)

// Store is the slice of the repository the worker needs.
type Store interface {
	GetMovement(ctx context.Context, id int64) (storage.MovementRecord, error)
	ListPendingSync(ctx context.Context, limit int) ([]storage.PendingMovement, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncError(ctx context.Context, id int64) error
}

type SyncWorker struct {
	store     Store
	writer    export.RowWriter
	batchSize int
}

func NewSyncWorker(store Store, writer export.RowWriter, batchSize int) *SyncWorker {
	return &SyncWorker{
		store:     store,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleMessage processes one sync message. A returned error requeues the
// delivery.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *amqp.MovementSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"op", msg.Op,
		"id", msg.ID,
		"version", msg.Version)

	switch msg.Op {
	case amqp.OpDelete:
		_, err := w.writer.Append(ctx, export.DeletedRow(msg.ID))
		if err != nil {
			return fmt.Errorf("append delete row: %w", err)
		}
		return nil
	default:
		return w.exportMovement(ctx, msg.ID)
	}
}

// ProcessPending sweeps movements the message path missed. Errors on
// individual movements are logged and skipped so one bad row cannot stall
// the sweep.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.ListPendingSync(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending movements: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending movements", "count", len(pending))

	synced := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.exportMovement(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending movement",
				"id", p.ID, "error", err)
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Pending sweep completed",
		"total", len(pending),
		"synced", synced)
	return nil
}

func (w *SyncWorker) exportMovement(ctx context.Context, id int64) error {
	rec, err := w.store.GetMovement(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted before this message was processed. The delete message
		// handles the journal entry.
		slog.WarnContext(ctx, "Movement gone before export, skipping", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get movement from storage: %w", err)
	}

	ref, err := w.writer.Append(ctx, export.RowFromRecord(rec))
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to export sheet: %w", err)
	}

	if err := w.store.MarkSynced(ctx, id); err != nil {
		// The export itself worked, so the message is still acked.
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Movement exported",
		"id", id,
		"row_ref", ref,
		"version", rec.Version)
	return nil
}
