// Package export defines the outbound port for mirroring committed movements
// to an external sheet.
package export

import (
	"context"

	"tally/internal/storage"
)

// Row is one exported movement line. Deleted rows are appended too, so the
// sheet stays an append-only journal.
type Row struct {
	ID          int64
	Date        string
	Kind        string
	Description string
	Amount      float64
	Account     string
	ToAccount   string
	Category    string
	Subcategory string
	Version     int64
	Deleted     bool
}

// RowWriter is the outbound adapter port.
type RowWriter interface {
	Append(ctx context.Context, row Row) (rowRef string, err error)
}

// RowFromRecord renders a movement record as an export row. Amounts are
// exported in units because spreadsheets expect decimals, not cents.
func RowFromRecord(rec storage.MovementRecord) Row {
	return Row{
		ID:          rec.ID,
		Date:        rec.Date.Format("2006-01-02"),
		Kind:        string(rec.Kind),
		Description: rec.Description,
		Amount:      rec.Amount.Units(),
		Account:     rec.AccountName,
		ToAccount:   rec.ToAccountName,
		Category:    rec.CategoryName,
		Subcategory: rec.SubcategoryName,
		Version:     rec.Version,
	}
}

// DeletedRow marks a movement's removal in the journal.
func DeletedRow(id int64) Row {
	return Row{ID: id, Kind: "deleted", Deleted: true}
}
