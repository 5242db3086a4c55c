package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/export/memory"
	"tally/internal/storage"
)

type fakeStore struct {
	records map[int64]storage.MovementRecord
	pending []storage.PendingMovement
	synced  []int64
	failed  []int64
}

func (f *fakeStore) GetMovement(_ context.Context, id int64) (storage.MovementRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return storage.MovementRecord{}, fmt.Errorf("movement %d: %w", id, sql.ErrNoRows)
	}
	return rec, nil
}

func (f *fakeStore) ListPendingSync(_ context.Context, limit int) ([]storage.PendingMovement, error) {
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return f.pending[:limit], nil
}

func (f *fakeStore) MarkSynced(_ context.Context, id int64) error {
	f.synced = append(f.synced, id)
	return nil
}

func (f *fakeStore) MarkSyncError(_ context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}

func record(id int64) storage.MovementRecord {
	return storage.MovementRecord{
		Movement: core.Movement{
			ID:          id,
			UserID:      1,
			Kind:        core.KindExpense,
			Amount:      core.Money{Cents: 2500},
			Date:        core.NewDate(2025, 3, 14),
			Description: "lunch",
			AccountID:   1,
		},
		AccountName:  "checking",
		CategoryName: "Food",
		Version:      1,
	}
}

func TestHandleMessageExportsMovement(t *testing.T) {
	store := &fakeStore{records: map[int64]storage.MovementRecord{42: record(42)}}
	writer := memory.New()
	w := NewSyncWorker(store, writer, 10)

	msg := amqp.NewMovementSyncMessage(42, 1)
	if err := w.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rows := writer.Rows()
	if len(rows) != 1 {
		t.Fatalf("exported %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.ID != 42 || row.Amount != 25.0 || row.Account != "checking" || row.Category != "Food" {
		t.Errorf("row = %+v", row)
	}
	if len(store.synced) != 1 || store.synced[0] != 42 {
		t.Errorf("synced = %v", store.synced)
	}
}

func TestHandleMessageDeleteAppendsJournalRow(t *testing.T) {
	store := &fakeStore{}
	writer := memory.New()
	w := NewSyncWorker(store, writer, 10)

	if err := w.HandleMessage(context.Background(), amqp.NewMovementDeleteMessage(42)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rows := writer.Rows()
	if len(rows) != 1 || !rows[0].Deleted || rows[0].ID != 42 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestHandleMessageSkipsVanishedMovement(t *testing.T) {
	store := &fakeStore{records: map[int64]storage.MovementRecord{}}
	writer := memory.New()
	w := NewSyncWorker(store, writer, 10)

	// No error: requeueing a message for a deleted row would loop forever.
	if err := w.HandleMessage(context.Background(), amqp.NewMovementSyncMessage(99, 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(writer.Rows()) != 0 {
		t.Error("nothing should be exported")
	}
	if len(store.failed) != 0 {
		t.Error("vanished movement is not a sync error")
	}
}

func TestHandleMessageMarksWriterFailure(t *testing.T) {
	store := &fakeStore{records: map[int64]storage.MovementRecord{42: record(42)}}
	writer := memory.New()
	writer.FailWith = errors.New("sheet unavailable")
	w := NewSyncWorker(store, writer, 10)

	if err := w.HandleMessage(context.Background(), amqp.NewMovementSyncMessage(42, 1)); err == nil {
		t.Fatal("expected error so the delivery requeues")
	}
	if len(store.failed) != 1 || store.failed[0] != 42 {
		t.Errorf("failed = %v", store.failed)
	}
	if len(store.synced) != 0 {
		t.Error("must not mark synced on failure")
	}
}

func TestProcessPendingSweepsBatch(t *testing.T) {
	store := &fakeStore{
		records: map[int64]storage.MovementRecord{
			1: record(1),
			3: record(3),
		},
		pending: []storage.PendingMovement{
			{ID: 1, Version: 1},
			{ID: 2, Version: 1}, // gone from storage
			{ID: 3, Version: 1},
		},
	}
	writer := memory.New()
	w := NewSyncWorker(store, writer, 10)

	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if len(writer.Rows()) != 2 {
		t.Errorf("exported %d rows, want 2", len(writer.Rows()))
	}
	if len(store.synced) != 2 {
		t.Errorf("synced = %v", store.synced)
	}
}
