// Package csvtable is a table.Backend over a directory of CSV files, one file
// per tab. It keeps the tabs in memory and rewrites a tab's file after every
// mutation, so offline runs behave like the remote backend.
package csvtable

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/internal/table/memtable"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
)

const ext = ".csv"

// Table is a CSV-directory backend.
type Table struct {
	*memtable.Table
	dir    string
	logger *zap.Logger
}

var _ table.Backend = (*Table)(nil)

// Open loads every <tab>.csv under dir, creating dir when missing.
func Open(dir string, log *zap.Logger) (*Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create csv dir")
	}
	t := &Table{
		Table:  memtable.New(),
		dir:    dir,
		logger: logger.OrNop(log).With(zap.String("component", "csvtable"), zap.String("dir", dir)),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "read csv dir")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		tab := strings.TrimSuffix(e.Name(), ext)
		rows, err := readFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		t.Seed(tab, rows)
		t.logger.Debug("loaded tab", zap.String("tab", tab), zap.Int("rows", len(rows)))
	}

	t.OnMutate = t.persist
	return t, nil
}

// Path returns the file backing tab.
func (t *Table) Path(tab string) string {
	return filepath.Join(t.dir, tab+ext)
}

func (t *Table) persist(tab string, rows [][]string) error {
	path := t.Path(tab)
	tmp, err := os.CreateTemp(t.dir, "."+tab+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "create temp file")
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("write %s", path))
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("close %s", path))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("replace %s", path))
	}
	return nil
}

func readFile(path string) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the configured directory listing
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "open csv tab")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructural, fmt.Sprintf("parse %s", path))
	}
	return rows, nil
}
