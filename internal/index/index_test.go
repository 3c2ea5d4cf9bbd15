package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header() []string { return []string{"NICK NAME", "CITY"} }

func loaded(t *testing.T, nicks ...string) *Index {
	t.Helper()
	rows := [][]string{header()}
	for _, n := range nicks {
		rows = append(rows, []string{n, "city-" + n})
	}
	ix := New()
	report := ix.Load(rows)
	require.Empty(t, report.Duplicates)
	return ix
}

func TestLoad(t *testing.T) {
	ix := New()
	assert.False(t, ix.Loaded())

	report := ix.Load([][]string{
		header(),
		{"Alice", "Paris"},
		{""},
		{"bob", "Rome"},
		{"ALICE", "Lyon"},
	})

	assert.True(t, ix.Loaded())
	assert.Equal(t, 4, report.Rows)
	assert.Equal(t, 2, report.Keys)
	assert.Equal(t, 1, report.BlankKeys)
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, Duplicate{Key: "alice", Rows: []int{2, 5}}, report.Duplicates[0])

	e, ok := ix.Lookup(" alice ")
	require.True(t, ok)
	assert.Equal(t, 5, e.Row, "last row wins")
	assert.Equal(t, "Lyon", e.Data[1])
	assert.Equal(t, 2, ix.Len())
}

func TestLoad_PadsShortRows(t *testing.T) {
	ix := New()
	ix.Load([][]string{header(), {"carol"}})

	e, ok := ix.Lookup("carol")
	require.True(t, ok)
	assert.Len(t, e.Data, 21)
	assert.Equal(t, "", e.Data[20])
}

func TestLookup_ReturnsCopy(t *testing.T) {
	ix := loaded(t, "alice")
	e, _ := ix.Lookup("alice")
	e.Data[1] = "mutated"

	again, _ := ix.Lookup("alice")
	assert.Equal(t, "city-alice", again.Data[1])
}

func TestRecordInsert_ShiftsRowsAtOrBelow(t *testing.T) {
	ix := loaded(t, "alice", "bob", "carol") // rows 2, 3, 4

	ix.RecordInsert("Dave", 2, []string{"Dave"})

	assert.Equal(t, map[string]int{"dave": 2, "alice": 3, "bob": 4, "carol": 5}, ix.Rows())
}

func TestRecordMove_PromoteToTop(t *testing.T) {
	ix := loaded(t, "a", "b", "c", "alice") // alice on row 5

	ix.RecordMove("alice", 5, 2)

	assert.Equal(t, map[string]int{"alice": 2, "a": 3, "b": 4, "c": 5}, ix.Rows())
}

func TestRecordMove_RowsBelowSourceUntouched(t *testing.T) {
	ix := loaded(t, "a", "b", "c", "d") // rows 2..5

	ix.RecordMove("b", 3, 2)

	assert.Equal(t, map[string]int{"b": 2, "a": 3, "c": 4, "d": 5}, ix.Rows())
}

func TestRecordMove_NoOps(t *testing.T) {
	ix := loaded(t, "a", "b")
	before := ix.Rows()

	ix.RecordMove("a", 2, 2)
	ix.RecordMove("ghost", 3, 2)

	assert.Equal(t, before, ix.Rows())
}

func TestRecordUpdate(t *testing.T) {
	ix := loaded(t, "alice")
	ix.RecordUpdate("ALICE", []string{"alice", "Lahore"})

	e, _ := ix.Lookup("alice")
	assert.Equal(t, "Lahore", e.Data[1])
	assert.Equal(t, 2, e.Row)

	ix.RecordUpdate("nobody", []string{"nobody"})
	_, ok := ix.Lookup("nobody")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ix := loaded(t, "alice")
	ix.Invalidate()

	assert.False(t, ix.Loaded())
	assert.Zero(t, ix.Len())
	_, ok := ix.Lookup("alice")
	assert.False(t, ok)
}

func TestRowsStayUnique(t *testing.T) {
	ix := loaded(t, "a", "b", "c")
	ix.RecordInsert("d", 2, nil)
	ix.RecordMove("b", 4, 2)
	ix.RecordInsert("e", 2, nil)
	ix.RecordMove("a", 5, 2)

	seen := map[int]string{}
	for k, row := range ix.Rows() {
		prev, dup := seen[row]
		assert.False(t, dup, "row %d held by %s and %s", row, prev, k)
		seen[row] = k
	}
	assert.Equal(t, map[string]int{"a": 2, "e": 3, "b": 4, "d": 5, "c": 6}, ix.Rows())
}
