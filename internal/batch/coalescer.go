// Package batch groups profile writes and flushes them together, sizing the
// batch to how the backend has been behaving.
package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/upsert"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/metrics"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// Flush triggers.
const (
	ReasonSize     = "size"
	ReasonInterval = "interval"
	ReasonManual   = "manual"
	ReasonFinal    = "final"
)

const (
	growthFactor     = 1.5
	slowShrinkFactor = 0.8
	failShrinkFactor = 0.5
)

// ProfileWriter is the write side the coalescer drains into. *upsert.Engine
// satisfies it.
type ProfileWriter interface {
	Write(ctx context.Context, rec profile.Record) upsert.Outcome
}

// Item pairs a queued record with its outcome.
type Item struct {
	Record  profile.Record
	Outcome upsert.Outcome
}

// FlushResult aggregates the outcomes of one or more flushes.
type FlushResult struct {
	Reason  string
	Total   int
	Success int
	Failed  int
	// Elapsed is the time spent in writes, pauses excluded.
	Elapsed time.Duration
	Items   []Item
}

func (r *FlushResult) merge(o FlushResult) {
	r.Total += o.Total
	r.Success += o.Success
	r.Failed += o.Failed
	r.Elapsed += o.Elapsed
	r.Items = append(r.Items, o.Items...)
}

// Coalescer queues records and drains them through a ProfileWriter. It is
// driven by a single goroutine.
type Coalescer struct {
	w         ProfileWriter
	cfg       config.BatchConfig
	queue     []profile.Record
	size      int
	lastFlush time.Time
	totals    FlushResult
	logger    *zap.Logger

	// Now is replaceable in tests.
	Now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an empty coalescer whose interval clock starts now.
func New(w ProfileWriter, cfg config.BatchConfig, log *zap.Logger) *Coalescer {
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	c := &Coalescer{
		w:      w,
		cfg:    cfg,
		size:   clampSize(cfg.InitialSize, cfg.MinSize, cfg.MaxSize),
		logger: logger.OrNop(log).With(zap.String("component", "coalescer")),
		Now:    time.Now,
		sleep:  sleepCtx,
	}
	c.lastFlush = c.Now()
	metrics.BatchSize.Set(float64(c.size))
	return c
}

// Size returns the current target batch size.
func (c *Coalescer) Size() int { return c.size }

// Pending returns the number of queued records.
func (c *Coalescer) Pending() int { return len(c.queue) }

// Totals returns the aggregate of every flush so far.
func (c *Coalescer) Totals() FlushResult { return c.totals }

// Add queues rec and flushes when the queue reached the batch size or the
// flush interval has elapsed. It returns the flush result when a flush ran.
func (c *Coalescer) Add(ctx context.Context, rec profile.Record) *FlushResult {
	c.queue = append(c.queue, rec)

	reason := ""
	switch {
	case len(c.queue) >= c.size:
		reason = ReasonSize
	case c.cfg.FlushInterval > 0 && c.Now().Sub(c.lastFlush) >= c.cfg.FlushInterval:
		reason = ReasonInterval
	default:
		return nil
	}
	res := c.flush(ctx, reason)
	return &res
}

// Flush drains the queue now.
func (c *Coalescer) Flush(ctx context.Context) FlushResult {
	return c.flush(ctx, ReasonManual)
}

// Close drains whatever is queued. The drain is not cancelled by ctx.
func (c *Coalescer) Close(ctx context.Context) FlushResult {
	return c.flush(context.WithoutCancel(ctx), ReasonFinal)
}

func (c *Coalescer) flush(ctx context.Context, reason string) FlushResult {
	items := c.queue
	c.queue = nil
	c.lastFlush = c.Now()

	res := FlushResult{Reason: reason, Items: make([]Item, 0, len(items))}
	if len(items) == 0 {
		return res
	}

	for i, rec := range items {
		if i > 0 && c.cfg.ItemPause > 0 {
			// a cancelled pause only shortens the gap; the item is still written
			_ = c.sleep(ctx, c.cfg.ItemPause)
		}
		start := c.Now()
		out := c.w.Write(ctx, rec)
		res.Elapsed += c.Now().Sub(start)

		res.Total++
		if out.OK() {
			res.Success++
		} else {
			res.Failed++
		}
		res.Items = append(res.Items, Item{Record: rec, Outcome: out})
	}

	c.totals.merge(res)
	metrics.BatchFlushes.WithLabelValues(reason).Inc()
	c.adapt(res)

	c.logger.Info("batch flushed",
		zap.String("reason", reason),
		zap.Int("total", res.Total),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("next_size", c.size))
	return res
}

// adapt resizes the batch after a flush: failures shrink it hard, slow items
// shrink it moderately and fast items grow it.
func (c *Coalescer) adapt(res FlushResult) {
	if res.Total == 0 {
		return
	}
	perItem := res.Elapsed / time.Duration(res.Total)
	old := c.size

	switch {
	case res.Failed > 0:
		c.size = int(float64(c.size) * failShrinkFactor)
	case c.cfg.SlowItem > 0 && perItem >= c.cfg.SlowItem:
		c.size = int(float64(c.size) * slowShrinkFactor)
	case perItem <= c.cfg.FastItem:
		c.size = int(math.Ceil(float64(c.size) * growthFactor))
	}
	c.size = clampSize(c.size, c.cfg.MinSize, c.cfg.MaxSize)

	if c.size != old {
		metrics.BatchSize.Set(float64(c.size))
		c.logger.Debug("batch resized",
			zap.Int("old_size", old),
			zap.Int("new_size", c.size),
			zap.Duration("per_item", perItem))
	}
}

// Run hands fn a fresh coalescer and guarantees every queued record is
// flushed when fn returns, fails or panics. The result aggregates every
// flush of the run.
func Run(ctx context.Context, w ProfileWriter, cfg config.BatchConfig, log *zap.Logger,
	fn func(ctx context.Context, c *Coalescer) error) (res FlushResult, err error) {
	c := New(w, cfg, log)

	defer func() {
		r := recover()
		// The drain must not be lost to the cancellation that ended fn.
		c.Close(context.WithoutCancel(ctx))
		res = c.Totals()
		if r != nil {
			panic(r)
		}
	}()

	if err := fn(ctx, c); err != nil {
		return FlushResult{}, fmt.Errorf("batch run: %w", err)
	}
	return FlushResult{}, nil
}

func clampSize(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
