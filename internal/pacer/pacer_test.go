package pacer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/profilesync/pkg/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestPacer(t *testing.T) (*Pacer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := New(config.Default().Pacer, zaptest.NewLogger(t))
	p.Now = clock.Now
	p.lastAdjust = clock.now
	p.Rand = func() float64 { return 0.5 }
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p, clock
}

func TestNew_StartsAtFloor(t *testing.T) {
	p, _ := newTestPacer(t)
	s := p.State()
	assert.Equal(t, 300*time.Millisecond, s.MinDelay)
	assert.Equal(t, 3*time.Second, s.MaxDelay)
	assert.Zero(t, s.RateLimitHits)
}

func TestOnRateLimited_MonotonicWidening(t *testing.T) {
	p, _ := newTestPacer(t)
	cfg := config.Default().Pacer

	prev := p.State()
	for i := 0; i < 3; i++ {
		p.OnRateLimited()
		s := p.State()
		assert.GreaterOrEqual(t, s.MinDelay, prev.MinDelay)
		assert.GreaterOrEqual(t, s.MaxDelay, prev.MaxDelay)
		assert.LessOrEqual(t, s.MinDelay, cfg.MinDelayCap)
		assert.LessOrEqual(t, s.MaxDelay, cfg.MaxDelayCap)
		assert.Equal(t, i+1, s.RateLimitHits)
		prev = s
	}

	// factors 1.25, 1.5, 1.75 with the max bound hitting its cap
	assert.Equal(t, time.Duration(float64(300*time.Millisecond)*1.25*1.5*1.75), prev.MinDelay)
	assert.Equal(t, 6*time.Second, prev.MaxDelay)
}

func TestOnRateLimited_FactorIsCapped(t *testing.T) {
	p, _ := newTestPacer(t)
	for i := 0; i < 10; i++ {
		p.OnRateLimited()
	}
	s := p.State()
	assert.Equal(t, 3*time.Second, s.MinDelay)
	assert.Equal(t, 6*time.Second, s.MaxDelay)
}

func TestOnSuccess_RelaxesOnlyAfterQuietPeriod(t *testing.T) {
	p, clock := newTestPacer(t)
	p.OnRateLimited()
	widened := p.State()

	clock.Advance(5 * time.Second)
	p.OnSuccess()
	s := p.State()
	assert.Equal(t, widened.MinDelay, s.MinDelay, "no decay inside quiet period")
	assert.Zero(t, s.RateLimitHits, "success resets the streak")

	clock.Advance(6 * time.Second)
	p.OnSuccess()
	s = p.State()
	assert.Equal(t, time.Duration(float64(widened.MinDelay)*0.95), s.MinDelay)
	assert.Equal(t, time.Duration(float64(widened.MaxDelay)*0.95), s.MaxDelay)
}

func TestOnSuccess_NeverBelowFloor(t *testing.T) {
	p, clock := newTestPacer(t)
	p.OnBatchBoundary()

	for i := 0; i < 20; i++ {
		clock.Advance(11 * time.Second)
		p.OnSuccess()
	}
	s := p.State()
	assert.Equal(t, 300*time.Millisecond, s.MinDelay)
	assert.Equal(t, 3*time.Second, s.MaxDelay)
}

func TestObserve_BatchBoundaryEveryN(t *testing.T) {
	p, _ := newTestPacer(t)
	growth := 1.1

	p.Observe(49)
	assert.Equal(t, 3*time.Second, p.State().MaxDelay)

	p.Observe(1)
	assert.Equal(t, time.Duration(float64(3*time.Second)*growth), p.State().MaxDelay)

	p.Observe(100)
	s := p.State()
	assert.Equal(t, 150, s.Processed)
	assert.Equal(t, time.Duration(float64(time.Duration(float64(time.Duration(float64(3*time.Second)*growth))*growth))*growth), s.MaxDelay)
}

func TestDelay_WithinWindow(t *testing.T) {
	p, _ := newTestPacer(t)

	p.Rand = func() float64 { return 0 }
	assert.Equal(t, 300*time.Millisecond, p.Delay())

	p.Rand = func() float64 { return 0.5 }
	assert.Equal(t, 1650*time.Millisecond, p.Delay())
}

func TestSleep_UsesDrawnDelay(t *testing.T) {
	p, _ := newTestPacer(t)
	var slept time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	d, err := p.Sleep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, d, slept)
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
