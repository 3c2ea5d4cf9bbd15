// Package testutil provides testing utilities for profilesync
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// FastConfig returns a valid memory-backend configuration whose delays are
// all at most a few milliseconds and whose run lock lives in a test temp dir.
func FastConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.Writer.OperationDelay = 0
	cfg.Writer.QuotaBackoff = time.Millisecond
	cfg.Writer.TransientDelay = time.Millisecond
	cfg.Writer.TransientMaxDelay = time.Millisecond
	cfg.Pacer.MinDelay = time.Millisecond
	cfg.Pacer.MaxDelay = 2 * time.Millisecond
	cfg.Pacer.MinDelayCap = 3 * time.Millisecond
	cfg.Pacer.MaxDelayCap = 4 * time.Millisecond
	cfg.Batch.ItemPause = 0
	cfg.Run.LockPath = filepath.Join(t.TempDir(), "run.lock")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fast config is invalid: %v", err)
	}
	return cfg
}

// ProfileRow builds a full-width profile-tab row.
func ProfileRow(nickname string, set map[profile.Field]string) []string {
	r := make([]string, profile.NumFields)
	r[profile.FieldNickname] = nickname
	for f, v := range set {
		r[f] = v
	}
	return r
}

// Keys returns the normalized nicknames of the data rows of a tab, in order.
func Keys(rows [][]string) []string {
	var out []string
	for i, r := range rows {
		if i == 0 || len(r) == 0 {
			continue
		}
		out = append(out, profile.NormalizeKey(r[0]))
	}
	return out
}
