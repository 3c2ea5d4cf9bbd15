package memtable

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/errors"
)

func seeded() *Table {
	tb := New()
	tb.Seed("P", [][]string{
		{"NICK", "CITY"},
		{"a", "1"},
		{"b", "2"},
		{"c", "3"},
		{"d", "4"},
	})
	return tb
}

func nicks(rows [][]string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows[1:] {
		out = append(out, r[0])
	}
	return out
}

func TestInsertRow_ShiftsDown(t *testing.T) {
	tb := seeded()
	require.NoError(t, tb.InsertRow(context.Background(), "P", 2, []string{"new", "9"}))
	assert.Equal(t, []string{"new", "a", "b", "c", "d"}, nicks(tb.Rows("P")))

	err := tb.InsertRow(context.Background(), "P", 1, []string{"x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural), "cannot insert over the header")
}

func TestPromoteRow(t *testing.T) {
	tb := seeded()
	require.NoError(t, tb.PromoteRow(context.Background(), "P", 4, 2, []string{"c", "33"}))
	rows := tb.Rows("P")
	assert.Equal(t, []string{"c", "a", "b", "d"}, nicks(rows))
	assert.Equal(t, []string{"c", "33"}, rows[1])

	// promoting the top row just overwrites it
	require.NoError(t, tb.PromoteRow(context.Background(), "P", 2, 2, []string{"c", "34"}))
	assert.Equal(t, []string{"c", "a", "b", "d"}, nicks(tb.Rows("P")))

	err := tb.PromoteRow(context.Background(), "P", 9, 2, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
}

func TestUpdateCells_GrowsRow(t *testing.T) {
	tb := seeded()
	require.NoError(t, tb.UpdateCells(context.Background(), "P", 3, 1, []string{"x", "y", "z"}))
	assert.Equal(t, []string{"b", "x", "y", "z"}, tb.Rows("P")[2])
}

func TestSortRows_KeepsHeader(t *testing.T) {
	tb := seeded()
	require.NoError(t, tb.SortRows(context.Background(), "P", 1, true))
	rows := tb.Rows("P")
	assert.Equal(t, []string{"NICK", "CITY"}, rows[0])
	assert.Equal(t, []string{"d", "c", "b", "a"}, nicks(rows))
}

func TestEnsureTab(t *testing.T) {
	tb := New()
	ctx := context.Background()
	require.NoError(t, tb.EnsureTab(ctx, "Audit", []string{"NICK", "REASON"}))
	assert.Equal(t, [][]string{{"NICK", "REASON"}}, tb.Rows("Audit"))

	require.NoError(t, tb.EnsureTab(ctx, "Audit", []string{"NICK", "REASON"}))
	err := tb.EnsureTab(ctx, "Audit", []string{"NICK", "WHY"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
}

func TestFailNext(t *testing.T) {
	tb := seeded()
	quota := errors.New(errors.ErrorTypeQuota, "quota")
	tb.FailNext(table.OpInsert, 2, quota)

	ctx := context.Background()
	assert.ErrorIs(t, tb.InsertRow(ctx, "P", 2, []string{"x"}), quota)
	assert.ErrorIs(t, tb.InsertRow(ctx, "P", 2, []string{"x"}), quota)
	assert.NoError(t, tb.InsertRow(ctx, "P", 2, []string{"x"}))
	assert.Equal(t, 3, tb.Calls(table.OpInsert))
	assert.Len(t, tb.Rows("P"), 6, "failed calls must not mutate")
}

func TestOnMutateFailureRollsBack(t *testing.T) {
	tb := seeded()
	tb.OnMutate = func(string, [][]string) error { return fmt.Errorf("disk full") }

	err := tb.PromoteRow(context.Background(), "P", 5, 2, []string{"d", "44"})
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, nicks(tb.Rows("P")))

	require.Error(t, tb.AppendRow(context.Background(), "New", []string{"x"}))
	assert.NotContains(t, tb.Tabs(), "New")
}

func TestReadAll_MissingTab(t *testing.T) {
	_, err := New().ReadAll(context.Background(), "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
