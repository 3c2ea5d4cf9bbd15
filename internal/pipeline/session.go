// Package pipeline drives one synchronization run: it reads the worklist,
// fetches and normalizes each pending profile, upserts it into the profile
// tab and writes the outcome back to the worklist.
//
// A Session owns every stateful collaborator of a run (the rate-limited
// writer, the adaptive pacer, the upsert engine and its record index). Nothing
// is shared between sessions, and a run processes one profile at a time.
//
// # Basic Usage
//
//	sess := pipeline.NewSession(cfg, backend, fetcher, logger)
//	summary, err := sess.Run(ctx)
//
// Run refuses to start while another run holds the run lock. The Scheduler
// launches runs on a fixed interval and skips ticks that find the lock held.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/batch"
	"github.com/ajitpratap0/profilesync/internal/pacer"
	"github.com/ajitpratap0/profilesync/internal/runlock"
	"github.com/ajitpratap0/profilesync/internal/source"
	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/internal/upsert"
	"github.com/ajitpratap0/profilesync/internal/worklist"
	"github.com/ajitpratap0/profilesync/internal/writer"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/metrics"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// Session is one configured pipeline. It is not safe for concurrent use; the
// run lock keeps runs from overlapping across processes too.
type Session struct {
	cfg      *config.Config
	writer   *writer.Writer
	pacer    *pacer.Pacer
	engine   *upsert.Engine
	worklist *worklist.List
	fetcher  source.Fetcher
	logger   *zap.Logger
	tracer   trace.Tracer

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewSession wires a session around backend. Every backend call made by the
// session goes through a single rate-limited writer.
func NewSession(cfg *config.Config, backend table.Backend, fetcher source.Fetcher, log *zap.Logger) *Session {
	log = logger.OrNop(log).With(zap.String("component", "pipeline"))
	w := writer.New(backend, cfg.Writer, log)
	s := &Session{
		cfg:      cfg,
		writer:   w,
		pacer:    pacer.New(cfg.Pacer, log),
		engine:   upsert.New(w, cfg.Upsert, cfg.Tabs, log),
		worklist: worklist.New(w, cfg.Tabs.Worklist, log),
		fetcher:  fetcher,
		logger:   log,
		tracer:   otel.Tracer("github.com/ajitpratap0/profilesync/internal/pipeline"),
		Now:      time.Now,
	}
	s.engine.Now = func() time.Time { return s.Now() }
	return s
}

// Writer returns the session's rate-limited writer.
func (s *Session) Writer() *writer.Writer { return s.writer }

// Engine returns the session's upsert engine.
func (s *Session) Engine() *upsert.Engine { return s.engine }

// Pacer returns the session's fetch pacer.
func (s *Session) Pacer() *pacer.Pacer { return s.pacer }

// Worklist returns the session's worklist.
func (s *Session) Worklist() *worklist.List { return s.worklist }

// run holds the per-run bookkeeping.
type run struct {
	summary *Summary
	lock    *runlock.Lock
	// queued maps keys handed to the coalescer to their worklist entry until
	// their outcome is written back.
	queued map[string]worklist.PendingKey
}

// Run processes every pending worklist entry once. Per-profile failures are
// recorded in the summary and the worklist; Run only returns an error when
// the run could not start or was interrupted before the worklist was read.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()
	log := logger.Decorate(ctx, s.logger)

	lock, err := runlock.Acquire(s.cfg.Run.LockPath, s.cfg.Run.LockTTL)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			metrics.Runs.WithLabelValues("locked").Inc()
		}
		return Summary{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	sum := newSummary(runID, s.Now())
	r := &run{summary: &sum, lock: lock, queued: make(map[string]worklist.PendingKey)}
	log.Info("run started", zap.String("lock", lock.Path()))

	keys, err := s.prepare(ctx)
	if err != nil {
		s.finish(ctx, r, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sum, err
	}
	sum.Pending = len(keys)

	if s.cfg.Batch.Enabled {
		res, berr := batch.Run(ctx, s.engine, s.cfg.Batch, s.logger,
			func(ctx context.Context, c *batch.Coalescer) error {
				return s.loop(ctx, r, keys, c)
			})
		// Records drained by the final flush still need their worklist status.
		s.settle(ctx, r, &res)
		err = berr
	} else {
		err = s.loop(ctx, r, keys, nil)
	}

	if err == nil && sum.Stopped == "" && s.cfg.Upsert.SortAfterRun && sum.Processed > 0 {
		if serr := s.engine.SortByRecency(ctx); serr != nil {
			log.Warn("recency sort failed", zap.Error(serr))
			sum.SortError = serr.Error()
		}
	}

	s.finish(ctx, r, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return sum, err
}

// prepare ensures every tab exists, rebuilds the record index and reads the
// pending worklist entries.
func (s *Session) prepare(ctx context.Context) ([]worklist.PendingKey, error) {
	if err := s.worklist.Ensure(ctx); err != nil {
		return nil, err
	}
	if err := s.engine.Load(ctx); err != nil {
		return nil, err
	}
	keys, err := s.worklist.PendingKeys(ctx)
	if err != nil {
		return nil, err
	}
	metrics.WorklistPending.Set(float64(len(keys)))
	return keys, nil
}

func (s *Session) loop(ctx context.Context, r *run, keys []worklist.PendingKey, c *batch.Coalescer) error {
	throughput := metrics.NewThroughputTracker()
	for i, pk := range keys {
		if ctx.Err() != nil {
			r.summary.Stopped = StopCanceled
			break
		}
		if limit := s.cfg.Run.MaxProfiles; limit > 0 && i >= limit {
			r.summary.Stopped = StopMaxProfiles
			break
		}

		ictx := logger.WithNickname(ctx, pk.Nickname)
		if _, err := s.pacer.Sleep(ictx); err != nil {
			r.summary.Stopped = StopCanceled
			break
		}

		if !s.process(ictx, r, pk, c) {
			r.summary.Stopped = StopCanceled
			break
		}

		r.summary.Processed++
		s.pacer.Observe(1)
		throughput.Increment(1)
		if err := r.lock.Touch(); err != nil {
			s.logger.Debug("failed to refresh run lock", zap.Error(err))
		}
	}
	throughput.GetAndReset()
	return nil
}

// process fetches, normalizes and writes one worklist entry. It reports
// false when the run was cancelled before the entry could be fetched; the
// entry is then left untouched so the next run picks it up.
func (s *Session) process(ctx context.Context, r *run, pk worklist.PendingKey, c *batch.Coalescer) bool {
	raw, err := s.fetch(ctx, pk.Nickname)
	if err != nil {
		if ctx.Err() != nil {
			logger.Decorate(ctx, s.logger).Info("fetch interrupted, entry left pending", zap.Error(err))
			return false
		}
		s.complete(ctx, r, pk, failed(pk.Key, err))
		return true
	}

	rec, reason, err := source.Normalize(raw, s.Now())
	if err != nil {
		s.complete(ctx, r, pk, failed(pk.Key, err))
		return true
	}
	if reason != "" {
		s.complete(ctx, r, pk, s.engine.Skip(ctx, pk.Nickname, reason, pk.Source))
		return true
	}
	if rec.Key() != pk.Key {
		s.complete(ctx, r, pk, failed(pk.Key, errors.Newf(errors.ErrorTypeData,
			"source returned profile %q for %q", rec.Nickname(), pk.Nickname)))
		return true
	}
	if rec.Source() == "" && pk.Source != "" {
		rec.Set(profile.FieldSource, pk.Source)
	}

	if c == nil {
		s.complete(ctx, r, pk, s.engine.Write(ctx, rec))
		return true
	}
	r.queued[pk.Key] = pk
	if res := c.Add(ctx, rec); res != nil {
		s.settle(ctx, r, res)
	}
	return true
}

// fetch retries rate-limited and transient source failures, widening the
// pacer window on every rate-limit signal.
func (s *Session) fetch(ctx context.Context, nickname string) (source.RawFields, error) {
	attempts := s.cfg.Source.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := s.fetcher.Fetch(ctx, nickname)
		if err == nil {
			s.pacer.OnSuccess()
			return raw, nil
		}
		lastErr = err

		limited := source.IsRateLimited(err)
		if !limited && !errors.IsTransient(err) {
			return source.RawFields{}, err
		}
		if attempt == attempts {
			break
		}
		if limited {
			s.pacer.OnRateLimited()
		}
		wait := retryAfter(err)
		logger.Decorate(ctx, s.logger).Warn("fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Duration("retry_after", wait),
			zap.Error(err))
		if err := sleepAtLeast(ctx, s.pacer, wait); err != nil {
			return source.RawFields{}, errors.Wrap(err, errors.ErrorTypeInternal, "fetch interrupted")
		}
	}
	return source.RawFields{}, errors.Wrap(lastErr, errors.TypeOf(lastErr),
		fmt.Sprintf("fetch %s failed after %d attempts", nickname, attempts))
}

// settle writes back the outcomes of a coalescer flush.
func (s *Session) settle(ctx context.Context, r *run, res *batch.FlushResult) {
	for _, it := range res.Items {
		key := it.Record.Key()
		pk, ok := r.queued[key]
		if !ok {
			continue
		}
		delete(r.queued, key)
		s.complete(ctx, r, pk, it.Outcome)
	}
}

// complete counts out and records it in the worklist. A worklist write
// failure leaves the entry pending for the next run.
func (s *Session) complete(ctx context.Context, r *run, pk worklist.PendingKey, out upsert.Outcome) {
	r.summary.add(out)
	if out.Status == upsert.StatusError && out.Err != nil {
		r.summary.Errors = append(r.summary.Errors, RunError{Key: pk.Key, Error: out.Err.Error()})
	}

	status, remarks := worklistStatus(out, s.Now())
	if err := s.worklist.UpdateStatus(ctx, pk.Row, status, remarks); err != nil {
		r.summary.WorklistFailures++
		logger.Decorate(ctx, s.logger).Warn("failed to update worklist status",
			zap.Int("row", pk.Row), zap.Error(err))
	}
}

func (s *Session) finish(ctx context.Context, r *run, err error) {
	sum := r.summary
	sum.close(s.Now(), s.pacer.State())

	result := "ok"
	if err != nil {
		result = "error"
		sum.Failure = err.Error()
	}
	metrics.Runs.WithLabelValues(result).Inc()
	metrics.RunDuration.Observe(sum.Duration.Seconds())

	log := logger.Decorate(ctx, s.logger)
	log.Info("run finished",
		zap.String("result", result),
		zap.Int("pending", sum.Pending),
		zap.Int("processed", sum.Processed),
		zap.Any("counts", sum.Counts),
		zap.String("stopped", sum.Stopped),
		zap.Duration("duration", sum.Duration),
		zap.Duration("pacer_min_delay", sum.Pacer.MinDelay),
		zap.Duration("pacer_max_delay", sum.Pacer.MaxDelay))

	if path := s.cfg.Run.SummaryPath; path != "" {
		if werr := sum.WriteFile(path); werr != nil {
			log.Warn("failed to write run summary", zap.String("path", path), zap.Error(werr))
		}
	}
}

func failed(key string, err error) upsert.Outcome {
	return upsert.Outcome{Key: key, Status: upsert.StatusError, Err: err}
}

// worklistStatus maps an outcome to the status and remark written back to
// the worklist, e.g. "updated @ 2024-05-01 09:30:00".
func worklistStatus(out upsert.Outcome, now time.Time) (worklist.Status, string) {
	stamp := now.Format(profile.TimeLayout)
	switch out.Status {
	case upsert.StatusError:
		msg := "unknown error"
		if out.Err != nil {
			msg = firstLine(out.Err.Error())
		}
		return worklist.StatusError, fmt.Sprintf("%s @ %s", msg, stamp)
	case upsert.StatusSkipped:
		return worklist.StatusDone, fmt.Sprintf("skipped: %s @ %s", out.Reason, stamp)
	default:
		return worklist.StatusDone, fmt.Sprintf("%s @ %s", out.Status, stamp)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxRemark = 200
	if len(s) <= maxRemark {
		return s
	}
	cut := maxRemark
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// retryAfter extracts the server-suggested wait of a rate-limit error.
func retryAfter(err error) time.Duration {
	var e *errors.Error
	if !errors.As(err, &e) {
		return 0
	}
	if d, ok := e.Details["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

// sleepAtLeast sleeps one pacer delay, extended to floor when the pacer
// delay is shorter.
func sleepAtLeast(ctx context.Context, p *pacer.Pacer, floor time.Duration) error {
	slept, err := p.Sleep(ctx)
	if err != nil || slept >= floor {
		return err
	}
	t := time.NewTimer(floor - slept)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
