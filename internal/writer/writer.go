// Package writer funnels backend calls through one retry policy.
//
// Quota rejections back off linearly (attempt × quota_backoff). Transient
// failures back off with a short jittered exponential delay. Anything else
// fails immediately. Every success is followed by a fixed inter-operation
// pause.
//
// A call that has started is never cancelled: the retry loop runs on a
// context detached from the caller's cancellation and ends in success or
// exhaustion.
package writer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/metrics"
)

// Error classes used in logs and metrics.
const (
	classQuota     = "quota"
	classTransient = "transient"
	classFatal     = "error"
)

// jitter is the +/- fraction applied to transient delays.
const jitter = 0.25

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Writer executes backend operations with bounded retry. It also implements
// table.Backend, so the upsert engine and the worklist can be handed a Writer
// wherever they expect a backend.
type Writer struct {
	backend table.Backend
	cfg     config.WriterConfig
	logger  *zap.Logger
	tracer  trace.Tracer

	// Sleep and Rand are replaceable in tests.
	Sleep SleepFunc
	Rand  func() float64
}

var _ table.Backend = (*Writer)(nil)

// New wraps backend.
func New(backend table.Backend, cfg config.WriterConfig, log *zap.Logger) *Writer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Writer{
		backend: backend,
		cfg:     cfg,
		logger:  logger.OrNop(log).With(zap.String("component", "writer")),
		tracer:  otel.Tracer("github.com/ajitpratap0/profilesync/internal/writer"),
		Sleep:   sleepCtx,
		Rand:    rand.Float64,
	}
}

// Execute runs fn until it succeeds, fails with a non-retryable error or
// exhausts the attempt budget. The returned error carries the last failure.
func (w *Writer) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := w.tracer.Start(ctx, "writer."+op, trace.WithAttributes(attribute.String("op", op)))
	defer span.End()

	log := logger.Decorate(ctx, w.logger).With(zap.String("op", op))

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		timer := metrics.NewTimer(op)
		err := fn(ctx)
		class := classify(err)
		timer.Observe(resultLabel(err, class))

		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			if w.cfg.OperationDelay > 0 {
				_ = w.Sleep(ctx, w.cfg.OperationDelay)
			}
			return nil
		}
		lastErr = err

		if class == classFatal {
			log.Error("backend operation failed", zap.Int("attempt", attempt), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retryable")
			return err
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}

		delay := w.delay(class, attempt)
		metrics.BackendRetries.WithLabelValues(op, class).Inc()
		log.Warn("backend operation rejected, backing off",
			zap.String("class", class),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := w.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	log.Error("backend operation exhausted retries",
		zap.Int("attempts", w.cfg.MaxAttempts), zap.Error(lastErr))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return errors.Wrap(lastErr, errors.TypeOf(lastErr),
		fmt.Sprintf("%s failed after %d attempts", op, w.cfg.MaxAttempts)).
		WithDetail("attempts", w.cfg.MaxAttempts)
}

// Delay returns the backoff after a failed attempt (1-based) of the given
// error. It is zero for errors that are not retried.
func (w *Writer) Delay(err error, attempt int) time.Duration {
	class := classify(err)
	if class == classFatal {
		return 0
	}
	return w.delay(class, attempt)
}

func (w *Writer) delay(class string, attempt int) time.Duration {
	if class == classQuota {
		return time.Duration(attempt) * w.cfg.QuotaBackoff
	}

	d := float64(w.cfg.TransientDelay) * math.Pow(2, float64(attempt-1))
	if ceil := float64(w.cfg.TransientMaxDelay); ceil > 0 && d > ceil {
		d = ceil
	}
	delta := d * jitter
	d = d - delta + w.Rand()*2*delta
	return time.Duration(d)
}

func classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.IsQuota(err), errors.IsType(err, errors.ErrorTypeRateLimit):
		return classQuota
	case errors.IsTransient(err):
		return classTransient
	default:
		return classFatal
	}
}

func resultLabel(err error, class string) string {
	if err == nil {
		return "ok"
	}
	return class
}

// sleepCtx sleeps for d unless ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ReadAll implements table.Backend.
func (w *Writer) ReadAll(ctx context.Context, tab string) ([][]string, error) {
	var rows [][]string
	err := w.Execute(ctx, table.OpRead, func(ctx context.Context) error {
		var err error
		rows, err = w.backend.ReadAll(ctx, tab)
		return err
	})
	return rows, err
}

// EnsureTab implements table.Backend.
func (w *Writer) EnsureTab(ctx context.Context, tab string, header []string) error {
	return w.Execute(ctx, table.OpEnsure, func(ctx context.Context) error {
		return w.backend.EnsureTab(ctx, tab, header)
	})
}

// InsertRow implements table.Backend.
func (w *Writer) InsertRow(ctx context.Context, tab string, row int, values []string) error {
	return w.Execute(ctx, table.OpInsert, func(ctx context.Context) error {
		return w.backend.InsertRow(ctx, tab, row, values)
	})
}

// PromoteRow implements table.Backend.
func (w *Writer) PromoteRow(ctx context.Context, tab string, from, to int, values []string) error {
	return w.Execute(ctx, table.OpPromote, func(ctx context.Context) error {
		return w.backend.PromoteRow(ctx, tab, from, to, values)
	})
}

// UpdateCells implements table.Backend.
func (w *Writer) UpdateCells(ctx context.Context, tab string, row, col int, values []string) error {
	return w.Execute(ctx, table.OpUpdate, func(ctx context.Context) error {
		return w.backend.UpdateCells(ctx, tab, row, col, values)
	})
}

// AppendRow implements table.Backend.
func (w *Writer) AppendRow(ctx context.Context, tab string, values []string) error {
	return w.Execute(ctx, table.OpAppend, func(ctx context.Context) error {
		return w.backend.AppendRow(ctx, tab, values)
	})
}

// SortRows implements table.Backend.
func (w *Writer) SortRows(ctx context.Context, tab string, col int, descending bool) error {
	return w.Execute(ctx, table.OpSort, func(ctx context.Context) error {
		return w.backend.SortRows(ctx, tab, col, descending)
	})
}
