// Package worklist reads the tab of nicknames awaiting processing and writes
// their status back.
//
// The tab is edited by hand, so status cells are matched loosely: anything
// containing "pending", "done" or "error" maps to that status, and a blank or
// unrecognized cell counts as pending.
package worklist

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// Status is the canonical worklist status token.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Column positions.
const (
	ColNickname = iota
	ColStatus
	ColRemarks
	ColSource
)

// Header is the worklist tab header.
var Header = []string{"NICK NAME", "STATUS", "REMARKS", "SOURCE"}

// NormalizeStatus maps a free-form status cell to its canonical token.
func NormalizeStatus(s string) Status {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return StatusPending
	case strings.Contains(v, string(StatusPending)):
		return StatusPending
	case strings.Contains(v, string(StatusDone)):
		return StatusDone
	case strings.Contains(v, string(StatusError)):
		return StatusError
	default:
		return StatusPending
	}
}

// PendingKey is one worklist entry awaiting processing.
type PendingKey struct {
	Key      string
	Nickname string
	Row      int
	Source   string
}

// List is the worklist tab.
type List struct {
	backend table.Backend
	tab     string
	logger  *zap.Logger
}

// New returns a worklist on tab.
func New(backend table.Backend, tab string, log *zap.Logger) *List {
	return &List{
		backend: backend,
		tab:     tab,
		logger:  logger.OrNop(log).With(zap.String("component", "worklist")),
	}
}

// Ensure creates the tab with its header when missing.
func (l *List) Ensure(ctx context.Context) error {
	return l.backend.EnsureTab(ctx, l.tab, Header)
}

// PendingKeys returns the pending entries in tab order. A nickname listed
// more than once is returned once, at its first row.
func (l *List) PendingKeys(ctx context.Context) ([]PendingKey, error) {
	ctx = logger.WithTab(ctx, l.tab)
	log := logger.Decorate(ctx, l.logger)

	rows, err := l.backend.ReadAll(ctx, l.tab)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "read worklist")
	}

	var out []PendingKey
	seen := make(map[string]bool)
	for i, row := range rows {
		rowNum := i + 1
		if rowNum == table.HeaderRow {
			continue
		}
		nick := strings.TrimSpace(table.Cell(row, ColNickname))
		key := profile.NormalizeKey(nick)
		if key == "" {
			continue
		}
		if NormalizeStatus(table.Cell(row, ColStatus)) != StatusPending {
			continue
		}
		if seen[key] {
			log.Warn("duplicate worklist entry ignored", zap.String("key", key), zap.Int("row", rowNum))
			continue
		}
		seen[key] = true
		out = append(out, PendingKey{
			Key:      key,
			Nickname: nick,
			Row:      rowNum,
			Source:   strings.TrimSpace(table.Cell(row, ColSource)),
		})
	}

	log.Info("worklist read", zap.Int("rows", len(rows)-1), zap.Int("pending", len(out)))
	return out, nil
}

// UpdateStatus writes the canonical status token and remarks of row.
func (l *List) UpdateStatus(ctx context.Context, row int, status Status, remarks string) error {
	if row <= table.HeaderRow {
		return errors.Newf(errors.ErrorTypeValidation, "worklist row %d is not a data row", row)
	}
	status = NormalizeStatus(string(status))
	ctx = logger.WithTab(ctx, l.tab)
	if err := l.backend.UpdateCells(ctx, l.tab, row, ColStatus, []string{string(status), remarks}); err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "update worklist status").WithDetail("row", row)
	}
	logger.Decorate(ctx, l.logger).Debug("worklist status updated",
		zap.Int("row", row), zap.String("status", string(status)))
	return nil
}
