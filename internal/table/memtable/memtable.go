// Package memtable is an in-memory table.Backend. It backs tests and dry runs
// and supports fault injection per operation.
package memtable

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/errors"
)

type fault struct {
	remaining int
	err       error
}

// Table is an in-memory backend. The zero value is not usable; call New.
type Table struct {
	mu     sync.Mutex
	tabs   map[string][][]string
	faults map[string]*fault
	calls  map[string]int

	// OnMutate, when set, is called with the tab name after every successful
	// mutation while the lock is held.
	OnMutate func(tab string, rows [][]string) error
}

var _ table.Backend = (*Table)(nil)

// New returns an empty backend.
func New() *Table {
	return &Table{
		tabs:   make(map[string][][]string),
		faults: make(map[string]*fault),
		calls:  make(map[string]int),
	}
}

// Seed replaces the contents of tab.
func (t *Table) Seed(tab string, rows [][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tabs[tab] = cloneRows(rows)
}

// Rows returns a copy of tab.
func (t *Table) Rows(tab string) [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneRows(t.tabs[tab])
}

// Tabs returns the tab names in sorted order.
func (t *Table) Tabs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.tabs))
	for name := range t.tabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailNext makes the next n calls of op fail with err.
func (t *Table) FailNext(op string, n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults[op] = &fault{remaining: n, err: err}
}

// Calls returns how many times op was invoked, failures included.
func (t *Table) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// enter records the call and returns an injected fault if one is pending.
// Caller holds t.mu.
func (t *Table) enter(op string) error {
	t.calls[op]++
	if f := t.faults[op]; f != nil && f.remaining > 0 {
		f.remaining--
		return f.err
	}
	return nil
}

// snapshot copies tab when a mutation hook is installed so a failed hook can
// roll the mutation back. Caller holds t.mu.
func (t *Table) snapshot(tab string) [][]string {
	if t.OnMutate == nil {
		return nil
	}
	return cloneRows(t.tabs[tab])
}

// commit runs the mutation hook and restores before when it fails.
// Caller holds t.mu.
func (t *Table) commit(tab string, before [][]string) error {
	if t.OnMutate == nil {
		return nil
	}
	if err := t.OnMutate(tab, t.tabs[tab]); err != nil {
		if before == nil {
			delete(t.tabs, tab)
		} else {
			t.tabs[tab] = before
		}
		return err
	}
	return nil
}

// ReadAll implements table.Backend.
func (t *Table) ReadAll(_ context.Context, tab string) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpRead); err != nil {
		return nil, err
	}
	rows, ok := t.tabs[tab]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "tab %s does not exist", tab)
	}
	return cloneRows(rows), nil
}

// EnsureTab implements table.Backend.
func (t *Table) EnsureTab(_ context.Context, tab string, header []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpEnsure); err != nil {
		return err
	}
	rows := t.tabs[tab]
	if len(rows) == 0 {
		before := t.snapshot(tab)
		t.tabs[tab] = [][]string{append([]string(nil), header...)}
		return t.commit(tab, before)
	}
	return table.CheckHeader(tab, rows[0], header)
}

// InsertRow implements table.Backend.
func (t *Table) InsertRow(_ context.Context, tab string, row int, values []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpInsert); err != nil {
		return err
	}
	rows, err := t.tabRows(tab)
	if err != nil {
		return err
	}
	before := t.snapshot(tab)
	idx := row - 1
	if idx < table.HeaderRow || idx > len(rows) {
		return errors.Newf(errors.ErrorTypeStructural, "insert row %d outside tab %s (%d rows)", row, tab, len(rows))
	}
	rows = append(rows, nil)
	copy(rows[idx+1:], rows[idx:])
	rows[idx] = append([]string(nil), values...)
	t.tabs[tab] = rows
	return t.commit(tab, before)
}

// PromoteRow implements table.Backend.
func (t *Table) PromoteRow(_ context.Context, tab string, from, to int, values []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpPromote); err != nil {
		return err
	}
	rows, err := t.tabRows(tab)
	if err != nil {
		return err
	}
	if to <= table.HeaderRow || to > from || from > len(rows) {
		return errors.Newf(errors.ErrorTypeStructural, "cannot move row %d to %d in tab %s (%d rows)", from, to, tab, len(rows))
	}
	before := t.snapshot(tab)
	fi, ti := from-1, to-1
	copy(rows[ti+1:fi+1], rows[ti:fi])
	rows[ti] = append([]string(nil), values...)
	return t.commit(tab, before)
}

// UpdateCells implements table.Backend.
func (t *Table) UpdateCells(_ context.Context, tab string, row, col int, values []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpUpdate); err != nil {
		return err
	}
	rows, err := t.tabRows(tab)
	if err != nil {
		return err
	}
	if row < 1 || col < 0 {
		return errors.Newf(errors.ErrorTypeStructural, "invalid cell %d:%d", row, col)
	}
	before := t.snapshot(tab)
	for len(rows) < row {
		rows = append(rows, nil)
	}
	r := rows[row-1]
	for len(r) < col+len(values) {
		r = append(r, "")
	}
	copy(r[col:], values)
	rows[row-1] = r
	t.tabs[tab] = rows
	return t.commit(tab, before)
}

// AppendRow implements table.Backend.
func (t *Table) AppendRow(_ context.Context, tab string, values []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpAppend); err != nil {
		return err
	}
	before := t.snapshot(tab)
	t.tabs[tab] = append(t.tabs[tab], append([]string(nil), values...))
	return t.commit(tab, before)
}

// SortRows implements table.Backend. Values compare as strings; the sort is
// stable so equal keys keep their relative order.
func (t *Table) SortRows(_ context.Context, tab string, col int, descending bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter(table.OpSort); err != nil {
		return err
	}
	rows, err := t.tabRows(tab)
	if err != nil {
		return err
	}
	if len(rows) <= 2 {
		return nil
	}
	before := t.snapshot(tab)
	data := rows[1:]
	sort.SliceStable(data, func(i, j int) bool {
		a, b := table.Cell(data[i], col), table.Cell(data[j], col)
		if descending {
			return a > b
		}
		return a < b
	})
	return t.commit(tab, before)
}

func (t *Table) tabRows(tab string) ([][]string, error) {
	rows, ok := t.tabs[tab]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "tab %s does not exist", tab)
	}
	return rows, nil
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
