// Package index keeps the in-process view of which profile lives on which
// table row. It is the only code allowed to change row numbers: every
// structural mutation of the profile tab is mirrored here after the backend
// call succeeds.
package index

import (
	"sort"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// Entry is the last-known location and contents of one profile.
type Entry struct {
	Key  string
	Row  int
	Data []string
}

// Duplicate describes a key found on more than one row during Load.
type Duplicate struct {
	Key  string
	Rows []int
}

// LoadReport summarizes a Load.
type LoadReport struct {
	Rows       int
	Keys       int
	BlankKeys  int
	Duplicates []Duplicate
}

// Index maps normalized nicknames to entries. It is owned by one session and
// is not safe for concurrent use.
type Index struct {
	entries map[string]*Entry
	loaded  bool
}

// New returns an empty, unloaded index.
func New() *Index {
	return &Index{entries: make(map[string]*Entry)}
}

// Load rebuilds the index from a full snapshot of the profile tab, header
// included. A key seen on several rows resolves to the last one.
func (ix *Index) Load(rows [][]string) LoadReport {
	ix.entries = make(map[string]*Entry, len(rows))
	ix.loaded = true

	var report LoadReport
	seen := make(map[string][]int)
	for i, row := range rows {
		rowNum := i + 1
		if rowNum == table.HeaderRow {
			continue
		}
		report.Rows++

		key := profile.NormalizeKey(table.Cell(row, int(profile.KeyField)))
		if key == "" {
			report.BlankKeys++
			continue
		}
		seen[key] = append(seen[key], rowNum)
		ix.entries[key] = &Entry{Key: key, Row: rowNum, Data: padded(row)}
	}

	report.Keys = len(ix.entries)
	for key, at := range seen {
		if len(at) > 1 {
			report.Duplicates = append(report.Duplicates, Duplicate{Key: key, Rows: at})
		}
	}
	sort.Slice(report.Duplicates, func(i, j int) bool {
		return report.Duplicates[i].Key < report.Duplicates[j].Key
	})
	return report
}

// Lookup returns a copy of the entry for key. key is normalized first.
func (ix *Index) Lookup(key string) (Entry, bool) {
	e, ok := ix.entries[profile.NormalizeKey(key)]
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: e.Key, Row: e.Row, Data: append([]string(nil), e.Data...)}, true
}

// RecordInsert mirrors a physical insert at row: every entry at or below row
// shifts down by one and key is placed at row.
func (ix *Index) RecordInsert(key string, row int, data []string) {
	key = profile.NormalizeKey(key)
	for _, e := range ix.entries {
		if e.Row >= row {
			e.Row++
		}
	}
	ix.entries[key] = &Entry{Key: key, Row: row, Data: padded(data)}
}

// RecordMove mirrors moving key from row from to row to (to <= from): the
// entries in [to, from) shift down by one. It is a no-op when from == to or
// key is unknown.
func (ix *Index) RecordMove(key string, from, to int) {
	key = profile.NormalizeKey(key)
	moved, ok := ix.entries[key]
	if !ok || from == to {
		return
	}
	for _, e := range ix.entries {
		if e != moved && e.Row >= to && e.Row < from {
			e.Row++
		}
	}
	moved.Row = to
}

// RecordUpdate replaces the stored data of key.
func (ix *Index) RecordUpdate(key string, data []string) {
	if e, ok := ix.entries[profile.NormalizeKey(key)]; ok {
		e.Data = padded(data)
	}
}

// Invalidate drops every entry. The next user must Load again.
func (ix *Index) Invalidate() {
	ix.entries = make(map[string]*Entry)
	ix.loaded = false
}

// Loaded reports whether the index reflects a Load since the last
// Invalidate.
func (ix *Index) Loaded() bool { return ix.loaded }

// Len returns the number of keys.
func (ix *Index) Len() int { return len(ix.entries) }

// Rows returns key → row for every entry. Used by consistency checks.
func (ix *Index) Rows() map[string]int {
	out := make(map[string]int, len(ix.entries))
	for k, e := range ix.entries {
		out[k] = e.Row
	}
	return out
}

func padded(row []string) []string {
	out := make([]string, profile.NumFields)
	copy(out, row)
	return out
}
