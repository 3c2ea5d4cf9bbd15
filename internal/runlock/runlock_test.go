package runlock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/profilesync/pkg/errors"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l, err := Acquire(path, time.Hour)
	require.NoError(t, err)
	assert.True(t, Held(path, time.Hour))

	info, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)

	_, err = Acquire(path, time.Hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHeld))

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	assert.False(t, Held(path, time.Hour))

	l, err = Acquire(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquire_ReplacesStaleMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	assert.False(t, Held(path, time.Hour))
	assert.True(t, Held(path, 0))

	l, err := Acquire(path, time.Hour)
	require.NoError(t, err)
	defer l.Release()

	require.NoError(t, l.Touch())
	assert.True(t, Held(path, time.Hour))
}
