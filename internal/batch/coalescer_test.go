package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/profilesync/internal/upsert"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeWriter advances the clock by latency per write and fails the listed
// nicknames.
type fakeWriter struct {
	clock   *fakeClock
	latency time.Duration
	fail    map[string]bool
	written []string
}

func (w *fakeWriter) Write(_ context.Context, rec profile.Record) upsert.Outcome {
	w.clock.now = w.clock.now.Add(w.latency)
	w.written = append(w.written, rec.Nickname())
	if w.fail[rec.Nickname()] {
		return upsert.Outcome{Key: rec.Key(), Status: upsert.StatusError, Err: errors.New("boom")}
	}
	return upsert.Outcome{Key: rec.Key(), Status: upsert.StatusNew, Row: 2}
}

func testConfig() config.BatchConfig {
	cfg := config.Default().Batch
	cfg.Enabled = true
	cfg.InitialSize = 4
	cfg.MinSize = 2
	cfg.MaxSize = 8
	return cfg
}

func newTestCoalescer(t *testing.T, cfg config.BatchConfig, latency time.Duration) (*Coalescer, *fakeWriter, *fakeClock, *[]time.Duration) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	w := &fakeWriter{clock: clock, latency: latency, fail: map[string]bool{}}
	c := New(w, cfg, zaptest.NewLogger(t))
	c.Now = clock.Now
	c.lastFlush = clock.now
	var pauses []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	return c, w, clock, &pauses
}

func TestAdd_FlushesAtSize(t *testing.T) {
	c, w, _, pauses := newTestCoalescer(t, testConfig(), time.Second)
	ctx := context.Background()

	for _, n := range []string{"a", "b", "c"} {
		assert.Nil(t, c.Add(ctx, profile.New(n)))
	}
	assert.Equal(t, 3, c.Pending())
	assert.Empty(t, w.written)

	res := c.Add(ctx, profile.New("d"))
	require.NotNil(t, res)
	assert.Equal(t, ReasonSize, res.Reason)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 4, res.Success)
	assert.Equal(t, []string{"a", "b", "c", "d"}, w.written)
	assert.Zero(t, c.Pending())

	// a pause between items, none before the first
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}, *pauses)
}

func TestAdd_FlushesAfterInterval(t *testing.T) {
	c, w, clock, _ := newTestCoalescer(t, testConfig(), time.Second)
	ctx := context.Background()

	assert.Nil(t, c.Add(ctx, profile.New("a")))
	clock.now = clock.now.Add(3 * time.Minute)

	res := c.Add(ctx, profile.New("b"))
	require.NotNil(t, res)
	assert.Equal(t, ReasonInterval, res.Reason)
	assert.Equal(t, []string{"a", "b"}, w.written)
}

func TestAdapt(t *testing.T) {
	tests := []struct {
		name    string
		latency time.Duration
		fail    bool
		want    int
	}{
		{"fast grows", time.Second, false, 6},
		{"slow shrinks", 12 * time.Second, false, 3},
		{"middling keeps", 5 * time.Second, false, 4},
		{"failure shrinks hard", time.Second, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w, _, _ := newTestCoalescer(t, testConfig(), tt.latency)
			if tt.fail {
				w.fail["b"] = true
			}
			for _, n := range []string{"a", "b", "c", "d"} {
				c.Add(context.Background(), profile.New(n))
			}
			assert.Equal(t, tt.want, c.Size())
		})
	}
}

func TestAdapt_ClampedToBounds(t *testing.T) {
	c, _, _, _ := newTestCoalescer(t, testConfig(), time.Millisecond)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		c.Add(ctx, profile.New("x"))
	}
	assert.Equal(t, 8, c.Size())
}

func TestFlush_CountsFailures(t *testing.T) {
	c, w, _, _ := newTestCoalescer(t, testConfig(), time.Second)
	w.fail["b"] = true
	ctx := context.Background()

	c.Add(ctx, profile.New("a"))
	c.Add(ctx, profile.New("b"))
	res := c.Flush(ctx)

	assert.Equal(t, ReasonManual, res.Reason)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 2)
	assert.Equal(t, upsert.StatusError, res.Items[1].Outcome.Status)
	assert.Equal(t, "b", res.Items[1].Record.Nickname())
}

func TestRun_DrainsOnError(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	w := &fakeWriter{clock: clock, fail: map[string]bool{}}

	res, err := Run(context.Background(), w, testConfig(), zaptest.NewLogger(t),
		func(ctx context.Context, c *Coalescer) error {
			c.sleep = func(context.Context, time.Duration) error { return nil }
			c.Add(ctx, profile.New("a"))
			c.Add(ctx, profile.New("b"))
			return errors.New("source went away")
		})

	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, w.written)
	assert.Equal(t, 2, res.Total)
}

func TestRun_DrainsOnPanic(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	w := &fakeWriter{clock: clock, fail: map[string]bool{}}

	assert.Panics(t, func() {
		_, _ = Run(context.Background(), w, testConfig(), zaptest.NewLogger(t),
			func(ctx context.Context, c *Coalescer) error {
				c.sleep = func(context.Context, time.Duration) error { return nil }
				c.Add(ctx, profile.New("a"))
				panic("interrupted")
			})
	})
	assert.Equal(t, []string{"a"}, w.written)
}

func TestRun_DrainsWhenContextCancelled(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	w := &fakeWriter{clock: clock, fail: map[string]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.ItemPause = time.Millisecond

	res, err := Run(ctx, w, cfg, zaptest.NewLogger(t),
		func(ctx context.Context, c *Coalescer) error {
			c.sleep = sleepCtx
			c.Add(ctx, profile.New("a"))
			c.Add(ctx, profile.New("b"))
			cancel()
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []string{"a", "b"}, w.written)
}
