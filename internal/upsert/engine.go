// Package upsert is the single write entry point for profiles. It keeps at
// most one row per nickname and promotes every written profile to the top of
// the table, so the tab reads most-recently-processed first.
//
// Backend failures never escape as errors: Write and Skip return an Outcome
// whose Status is StatusError and whose Err explains why. The record index is
// only touched after the backend confirmed the mutation.
package upsert

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/diff"
	"github.com/ajitpratap0/profilesync/internal/index"
	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/metrics"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// TimeLayout is the format of DATETIME SCRAP.
const TimeLayout = profile.TimeLayout

// AuditHeader is the header of the audit tab.
var AuditHeader = []string{"NICK NAME", "REASON", "DATETIME SCRAP", "SOURCE"}

// Engine writes profiles through a backend, normally a *writer.Writer. It is
// owned by one session and is not safe for concurrent use.
type Engine struct {
	backend  table.Backend
	index    *index.Index
	detector *diff.Detector
	cfg      config.UpsertConfig
	tabs     config.TabsConfig
	tags     map[string]string
	logger   *zap.Logger
	tracer   trace.Tracer

	// Now is replaceable in tests.
	Now func() time.Time
}

// New returns an engine with an empty index. Call Load before the first
// Write to ensure the tabs exist and to pick up tag lookups; Write alone
// lazily loads the profile tab.
func New(backend table.Backend, cfg config.UpsertConfig, tabs config.TabsConfig, log *zap.Logger) *Engine {
	if cfg.TopRow <= table.HeaderRow {
		cfg.TopRow = table.HeaderRow + 1
	}
	return &Engine{
		backend:  backend,
		index:    index.New(),
		detector: diff.New(diff.OptionsFromConfig(cfg)),
		cfg:      cfg,
		tabs:     tabs,
		tags:     make(map[string]string),
		logger:   logger.OrNop(log).With(zap.String("component", "upsert"), zap.String("tab", tabs.Profiles)),
		tracer:   otel.Tracer("github.com/ajitpratap0/profilesync/internal/upsert"),
		Now:      time.Now,
	}
}

// Index exposes the record index for inspection.
func (e *Engine) Index() *index.Index { return e.index }

// Load ensures the profile and audit tabs carry their headers, rebuilds the
// index from the profile tab and loads the optional tag lookup.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.backend.EnsureTab(ctx, e.tabs.Profiles, profile.Header()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStructural, "prepare profile tab")
	}
	if err := e.backend.EnsureTab(ctx, e.tabs.Audit, AuditHeader); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStructural, "prepare audit tab")
	}
	if err := e.reload(ctx); err != nil {
		return err
	}
	return e.loadTags(ctx)
}

func (e *Engine) reload(ctx context.Context) error {
	ctx = logger.WithTab(ctx, e.tabs.Profiles)
	log := logger.Decorate(ctx, e.logger)

	rows, err := e.backend.ReadAll(ctx, e.tabs.Profiles)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "load profile tab")
	}
	if len(rows) > 0 {
		if err := table.CheckHeader(e.tabs.Profiles, rows[0], profile.Header()); err != nil {
			return err
		}
	}

	report := e.index.Load(rows)
	for _, d := range report.Duplicates {
		log.Warn("duplicate nickname in profile tab, last row wins",
			zap.String("key", d.Key), zap.Ints("rows", d.Rows))
	}
	metrics.DuplicateKeys.Add(float64(len(report.Duplicates)))
	metrics.IndexSize.Set(float64(e.index.Len()))
	log.Info("index loaded",
		zap.Int("rows", report.Rows),
		zap.Int("keys", report.Keys),
		zap.Int("blank_keys", report.BlankKeys),
		zap.Int("duplicates", len(report.Duplicates)))
	return nil
}

func (e *Engine) loadTags(ctx context.Context) error {
	if e.tabs.Tags == "" {
		return nil
	}
	rows, err := e.backend.ReadAll(ctx, e.tabs.Tags)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		logger.Decorate(logger.WithTab(ctx, e.tabs.Tags), e.logger).Info("no tag tab, tag lookup disabled")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "load tag tab")
	}

	tags := make(map[string]string, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		key := profile.NormalizeKey(table.Cell(row, 0))
		if key != "" {
			tags[key] = strings.TrimSpace(table.Cell(row, 1))
		}
	}
	e.tags = tags
	return nil
}

// Write upserts rec and promotes its row to the top row.
func (e *Engine) Write(ctx context.Context, rec profile.Record) Outcome {
	ctx, span := e.tracer.Start(ctx, "upsert.Write",
		trace.WithAttributes(attribute.String("nickname", rec.Nickname())))
	defer span.End()
	ctx = logger.WithTab(ctx, e.tabs.Profiles)

	out := e.write(ctx, rec)

	span.SetAttributes(attribute.String("status", string(out.Status)))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	e.record(ctx, out)
	return out
}

func (e *Engine) write(ctx context.Context, rec profile.Record) Outcome {
	key := rec.Key()
	if err := rec.Validate(); err != nil {
		return errorOutcome(key, err)
	}
	if !e.index.Loaded() {
		if err := e.reload(ctx); err != nil {
			return errorOutcome(key, err)
		}
	}

	outgoing := profile.Outgoing(e.enrich(rec))
	top := e.cfg.TopRow

	entry, found := e.index.Lookup(key)
	if !found {
		res := e.detector.Compare(nil, outgoing)
		if err := e.backend.InsertRow(ctx, e.tabs.Profiles, top, res.Values); err != nil {
			return errorOutcome(key, errors.Wrap(err, errors.TypeOf(err),
				fmt.Sprintf("insert %s at row %d", key, top)))
		}
		e.index.RecordInsert(key, top, res.Values)
		return Outcome{Key: key, Status: StatusNew, Row: top}
	}

	res := e.detector.Compare(entry.Data, outgoing)
	to := top
	if entry.Row < to {
		to = entry.Row
	}
	if err := e.backend.PromoteRow(ctx, e.tabs.Profiles, entry.Row, to, res.Values); err != nil {
		return errorOutcome(key, errors.Wrap(err, errors.TypeOf(err),
			fmt.Sprintf("move %s from row %d to %d", key, entry.Row, to)).
			WithDetail("row", entry.Row))
	}
	e.index.RecordMove(key, entry.Row, to)
	e.index.RecordUpdate(key, res.Values)

	if !res.HasChanges() {
		return Outcome{Key: key, Status: StatusUnchanged, Row: to}
	}
	return Outcome{Key: key, Status: StatusUpdated, Row: to, Changed: res.ChangedNames()}
}

// Skip records a profile the source reported in a terminal state
// (suspended, unverified, not found). The skip always lands in the audit tab;
// with skipped_to_main_table the profile tab also receives a minimal row.
func (e *Engine) Skip(ctx context.Context, nickname, reason, source string) Outcome {
	ctx, span := e.tracer.Start(ctx, "upsert.Skip",
		trace.WithAttributes(attribute.String("nickname", nickname), attribute.String("reason", reason)))
	defer span.End()
	ctx = logger.WithTab(ctx, e.tabs.Audit)

	key := profile.NormalizeKey(nickname)
	out := Outcome{Key: key, Status: StatusSkipped, Reason: reason}
	if key == "" {
		out = errorOutcome(key, errors.New(errors.ErrorTypeValidation, "nickname is blank"))
		e.record(ctx, out)
		return out
	}

	stamp := e.Now().Format(TimeLayout)
	row := []string{strings.TrimSpace(nickname), reason, stamp, strings.ToUpper(strings.TrimSpace(source))}
	if err := e.backend.AppendRow(ctx, e.tabs.Audit, row); err != nil {
		out = errorOutcome(key, errors.Wrap(err, errors.TypeOf(err), "append audit row"))
	} else if e.cfg.SkippedToMainTable {
		rec := profile.New(nickname)
		rec.Set(profile.FieldStatus, reason)
		rec.Set(profile.FieldSource, source)
		rec.Set(profile.FieldScrapedAt, stamp)
		if w := e.write(ctx, rec); !w.OK() {
			out = w
		} else {
			out.Row = w.Row
		}
	}

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	e.record(ctx, out)
	return out
}

// SortByRecency sorts the profile tab by DATETIME SCRAP, newest first, and
// invalidates the index since every row number may have changed. The next
// Write reloads it.
func (e *Engine) SortByRecency(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "upsert.SortByRecency")
	defer span.End()

	err := e.backend.SortRows(ctx, e.tabs.Profiles, int(profile.FieldScrapedAt), true)
	e.index.Invalidate()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrap(err, errors.TypeOf(err), "sort profile tab")
	}
	e.logger.Info("profile tab sorted by recency")
	return nil
}

// enrich fills derived columns that the source left blank.
func (e *Engine) enrich(rec profile.Record) profile.Record {
	if rec.ScrapedAt() == "" {
		rec.Set(profile.FieldScrapedAt, e.Now().Format(TimeLayout))
	}
	if rec.Tags() == "" {
		if tag, ok := e.tags[rec.Key()]; ok {
			rec.Set(profile.FieldTags, tag)
		}
	}
	if rec.Get(profile.FieldProfileLink) == "" && e.cfg.ProfileURLBase != "" {
		rec.Set(profile.FieldProfileLink,
			strings.TrimSuffix(e.cfg.ProfileURLBase, "/")+"/"+url.PathEscape(strings.TrimSpace(rec.Nickname())))
	}
	if rec.Get(profile.FieldEligible) == "" {
		rec.Set(profile.FieldEligible, eligible(rec))
	}
	return rec
}

// eligible is "Yes" for active profiles with at least one post.
func eligible(rec profile.Record) string {
	status := strings.ToLower(strings.TrimSpace(rec.Status()))
	if status != "normal" && status != "verified" {
		return "No"
	}
	posts, err := strconv.Atoi(profile.NormalizeValue(profile.FieldPosts, rec.Posts()))
	if err != nil || posts <= 0 {
		return "No"
	}
	return "Yes"
}

func (e *Engine) record(ctx context.Context, out Outcome) {
	metrics.ProfilesUpserted.WithLabelValues(string(out.Status)).Inc()
	metrics.IndexSize.Set(float64(e.index.Len()))

	log := logger.Decorate(ctx, e.logger).With(zap.String("key", out.Key), zap.String("status", string(out.Status)))
	switch out.Status {
	case StatusError:
		log.Error("upsert failed", zap.Error(out.Err))
	case StatusUpdated:
		log.Info("profile updated", zap.Int("row", out.Row), zap.Strings("changed", out.Changed))
	case StatusSkipped:
		log.Info("profile skipped", zap.String("reason", out.Reason))
	default:
		log.Debug("profile written", zap.Int("row", out.Row))
	}
}
