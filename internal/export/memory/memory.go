// Package memory is an in-memory row writer for tests and local runs
// without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tally/internal/export"
)

type Writer struct {
	mu   sync.Mutex
	rows []export.Row

	// FailWith, when set, makes every Append fail. Tests use it to drive
	// the worker's error path.
	FailWith error
}

var _ export.RowWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

// Append stores the row and returns a synthetic row reference.
func (w *Writer) Append(_ context.Context, row export.Row) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailWith != nil {
		return "", w.FailWith
	}
	w.rows = append(w.rows, row)
	return fmt.Sprintf("mem:%d", len(w.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (w *Writer) Rows() []export.Row {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]export.Row(nil), w.rows...)
}
