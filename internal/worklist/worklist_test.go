package worklist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/internal/table/memtable"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"", StatusPending},
		{"   ", StatusPending},
		{"pending", StatusPending},
		{"Pending - retry", StatusPending},
		{"DONE", StatusDone},
		{"done ✓", StatusDone},
		{"Error: timeout", StatusError},
		{"errored", StatusError},
		{"in progress", StatusPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.in), "%q", tt.in)
	}
}

func seeded(t *testing.T, rows ...[]string) (*List, *memtable.Table) {
	t.Helper()
	mem := memtable.New()
	mem.Seed("RunList", append([][]string{Header}, rows...))
	return New(mem, "RunList", zaptest.NewLogger(t)), mem
}

func TestPendingKeys(t *testing.T) {
	l, _ := seeded(t,
		[]string{"alice", "done"},
		[]string{"bob", ""},
		[]string{"", "pending"},
		[]string{"Carol", "Pending", "", "search"},
		[]string{"dave", "error"},
		[]string{"BOB"},
	)

	keys, err := l.PendingKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []PendingKey{
		{Key: "bob", Nickname: "bob", Row: 3},
		{Key: "carol", Nickname: "Carol", Row: 5, Source: "search"},
	}, keys)
}

func TestBlankStatusThenDone(t *testing.T) {
	l, mem := seeded(t, []string{"bob", ""})
	ctx := context.Background()

	keys, err := l.PendingKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "bob", keys[0].Key)

	require.NoError(t, l.UpdateStatus(ctx, keys[0].Row, "Done", "new @ 2024-05-01 09:30:00"))

	row := mem.Rows("RunList")[1]
	assert.Equal(t, "done", row[ColStatus])
	assert.Equal(t, "new @ 2024-05-01 09:30:00", row[ColRemarks])

	keys, err = l.PendingKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUpdateStatus_RejectsHeader(t *testing.T) {
	l, mem := seeded(t)
	err := l.UpdateStatus(context.Background(), 1, StatusDone, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Zero(t, mem.Calls(table.OpUpdate))
}

func TestUpdateStatus_BackendFailure(t *testing.T) {
	l, mem := seeded(t, []string{"bob"})
	mem.FailNext(table.OpUpdate, 1, errors.New(errors.ErrorTypeQuota, "quota"))

	err := l.UpdateStatus(context.Background(), 2, StatusError, "boom")
	require.Error(t, err)
	assert.True(t, errors.IsQuota(err))
}

func TestEnsure(t *testing.T) {
	mem := memtable.New()
	l := New(mem, "RunList", zaptest.NewLogger(t))
	require.NoError(t, l.Ensure(context.Background()))
	assert.Equal(t, [][]string{Header}, mem.Rows("RunList"))
}

func TestPendingKeys_LogsCarryTab(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mem := memtable.New()
	mem.Seed("RunList", [][]string{Header, {"bob", ""}})
	l := New(mem, "RunList", zap.New(core))

	_, err := l.PendingKeys(logger.WithRunID(context.Background(), "run-1"))
	require.NoError(t, err)

	read := logs.FilterMessage("worklist read").All()
	require.Len(t, read, 1)
	fields := read[0].ContextMap()
	assert.Equal(t, "RunList", fields["tab"])
	assert.Equal(t, "run-1", fields["run_id"])
}
