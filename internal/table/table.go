// Package table defines the boundary to the remote tabular store holding the
// profile table, the worklist and the audit log.
//
// Rows are 1-based and row 1 is the header. Every mutating method is a single
// request against the backend, so a failure leaves the tab unchanged.
package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/profilesync/pkg/errors"
)

// HeaderRow is the row number of the header.
const HeaderRow = 1

// Operation names, used for logging, metrics and fault injection.
const (
	OpRead    = "read"
	OpEnsure  = "ensure_tab"
	OpInsert  = "insert_row"
	OpPromote = "promote_row"
	OpUpdate  = "update_cells"
	OpAppend  = "append_row"
	OpSort    = "sort_rows"
)

// Backend is a spreadsheet-like store reachable through a quota-constrained API.
// Implementations classify failures with pkg/errors types: quota rejections as
// ErrorTypeQuota, retryable network/server failures as ErrorTypeTransient and
// everything else as structural or internal.
type Backend interface {
	// ReadAll returns every row of tab, header included. Trailing blank cells
	// may be omitted.
	ReadAll(ctx context.Context, tab string) ([][]string, error)

	// EnsureTab creates tab with header when missing or empty. A non-empty tab
	// whose header disagrees returns a structural error.
	EnsureTab(ctx context.Context, tab string, header []string) error

	// InsertRow inserts values at row, shifting row and everything below down.
	InsertRow(ctx context.Context, tab string, row int, values []string) error

	// PromoteRow moves row from to row to (to <= from), shifting the rows in
	// between down by one, and overwrites the moved row with values.
	PromoteRow(ctx context.Context, tab string, from, to int, values []string) error

	// UpdateCells overwrites cells of row starting at the 0-based column col.
	UpdateCells(ctx context.Context, tab string, row, col int, values []string) error

	// AppendRow adds values after the last non-empty row.
	AppendRow(ctx context.Context, tab string, values []string) error

	// SortRows sorts every row below the header by the 0-based column col.
	SortRows(ctx context.Context, tab string, col int, descending bool) error
}

// CheckHeader compares an existing header row against the expected one.
// Header cells are compared case-insensitively; extra trailing blank cells are
// tolerated.
func CheckHeader(tab string, got, want []string) error {
	for len(got) > 0 && strings.TrimSpace(got[len(got)-1]) == "" {
		got = got[:len(got)-1]
	}
	if len(got) != len(want) {
		return errors.Newf(errors.ErrorTypeStructural, "tab %s header has %d columns, want %d", tab, len(got), len(want)).
			WithDetail("header", got)
	}
	for i := range want {
		if !strings.EqualFold(strings.TrimSpace(got[i]), want[i]) {
			return errors.Newf(errors.ErrorTypeStructural, "tab %s column %d is %q, want %q", tab, i+1, got[i], want[i])
		}
	}
	return nil
}

// ColumnLetter converts a 0-based column index to A1 notation (0 → A, 26 → AA).
func ColumnLetter(col int) string {
	s := ""
	for col >= 0 {
		s = string(rune('A'+col%26)) + s
		col = col/26 - 1
	}
	return s
}

// A1 returns the A1 range covering width cells of row starting at col.
func A1(tab string, row, col, width int) string {
	tab = strings.ReplaceAll(tab, "'", "''")
	if width <= 1 {
		return fmt.Sprintf("'%s'!%s%d", tab, ColumnLetter(col), row)
	}
	return fmt.Sprintf("'%s'!%s%d:%s%d", tab, ColumnLetter(col), row, ColumnLetter(col+width-1), row)
}

// Cell returns row[col] or "" when the row is short.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
