// Package pacer spaces out source fetches with a randomized delay whose
// window widens under rate-limit pressure and relaxes during quiet periods.
package pacer

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/metrics"
)

// State is a snapshot of the pacer.
type State struct {
	MinDelay      time.Duration `json:"min_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	RateLimitHits int           `json:"rate_limit_hits"`
	Processed     int           `json:"processed"`
}

// Pacer is safe for concurrent use, although a run drives it from a single
// goroutine.
type Pacer struct {
	mu         sync.Mutex
	cfg        config.PacerConfig
	min, max   time.Duration
	hits       int
	processed  int
	lastAdjust time.Time
	logger     *zap.Logger

	// Now and Rand are replaceable in tests.
	Now  func() time.Time
	Rand func() float64

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a pacer starting at the configured floor.
func New(cfg config.PacerConfig, log *zap.Logger) *Pacer {
	p := &Pacer{
		cfg:    cfg,
		min:    cfg.MinDelay,
		max:    cfg.MaxDelay,
		logger: logger.OrNop(log).With(zap.String("component", "pacer")),
		Now:    time.Now,
		Rand:   rand.Float64,
		sleep:  sleepCtx,
	}
	p.lastAdjust = p.Now()
	p.publish()
	return p
}

// OnSuccess resets the rate-limit streak and, once the quiet period has
// passed since the last adjustment, decays both bounds toward the floor.
func (p *Pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hits = 0
	now := p.Now()
	if now.Sub(p.lastAdjust) <= p.cfg.QuietPeriod {
		return
	}
	if p.min == p.cfg.MinDelay && p.max == p.cfg.MaxDelay {
		return
	}
	p.scale(p.cfg.Decay)
	p.lastAdjust = now
	p.logger.Debug("relaxed", zap.Duration("min", p.min), zap.Duration("max", p.max))
}

// OnRateLimited widens both bounds by 1 + min(hits × step, cap).
func (p *Pacer) OnRateLimited() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hits++
	factor := 1 + math.Min(float64(p.hits)*p.cfg.RateLimitStep, p.cfg.RateLimitCap)
	p.scale(factor)
	p.lastAdjust = p.Now()
	metrics.PacerRateLimits.Inc()
	p.logger.Warn("rate limited, widening delay",
		zap.Int("hits", p.hits),
		zap.Float64("factor", factor),
		zap.Duration("min", p.min),
		zap.Duration("max", p.max))
}

// OnBatchBoundary nudges both bounds up by the batch factor.
func (p *Pacer) OnBatchBoundary() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchBoundary()
}

// Observe counts n processed items and applies a batch-boundary nudge each
// time the count crosses a multiple of batch_every.
func (p *Pacer) Observe(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.processed
	p.processed += n
	every := p.cfg.BatchEvery
	if every <= 0 {
		return
	}
	for i := before/every + 1; i <= p.processed/every; i++ {
		p.batchBoundary()
	}
}

// Delay draws a uniformly random duration from the current window.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min + time.Duration(p.Rand()*float64(p.max-p.min))
}

// Sleep blocks for a fresh Delay or until ctx is done, and returns the delay
// that was drawn.
func (p *Pacer) Sleep(ctx context.Context) (time.Duration, error) {
	d := p.Delay()
	return d, p.sleep(ctx, d)
}

// State returns a snapshot.
func (p *Pacer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		MinDelay:      p.min,
		MaxDelay:      p.max,
		RateLimitHits: p.hits,
		Processed:     p.processed,
	}
}

func (p *Pacer) batchBoundary() {
	p.scale(p.cfg.BatchFactor)
	p.lastAdjust = p.Now()
	p.logger.Debug("batch boundary", zap.Int("processed", p.processed),
		zap.Duration("min", p.min), zap.Duration("max", p.max))
}

// scale multiplies both bounds by f and clamps each to [floor, cap].
// Caller holds p.mu.
func (p *Pacer) scale(f float64) {
	p.min = clamp(time.Duration(float64(p.min)*f), p.cfg.MinDelay, p.cfg.MinDelayCap)
	p.max = clamp(time.Duration(float64(p.max)*f), p.cfg.MaxDelay, p.cfg.MaxDelayCap)
	if p.max < p.min {
		p.max = p.min
	}
	p.publish()
}

func (p *Pacer) publish() {
	metrics.PacerDelay.WithLabelValues("min").Set(p.min.Seconds())
	metrics.PacerDelay.WithLabelValues("max").Set(p.max.Seconds())
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}

// sleepCtx sleeps in slices of at most 200ms so cancellation is noticed
// promptly.
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := d
		if s > step {
			s = step
		}
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}
