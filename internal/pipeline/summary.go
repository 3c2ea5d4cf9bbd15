package pipeline

import (
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/profilesync/internal/pacer"
	"github.com/ajitpratap0/profilesync/internal/upsert"
	"github.com/ajitpratap0/profilesync/pkg/errors"
)

// Reasons a run stopped before the end of the worklist.
const (
	StopCanceled    = "canceled"
	StopMaxProfiles = "max_profiles"
)

// RunError is one failed worklist entry.
type RunError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Summary reports one run.
type Summary struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`
	// Pending is the number of worklist entries found at start.
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
	// Counts holds one entry per upsert status, zeros included.
	Counts map[upsert.Status]int `json:"counts"`
	// Stopped is empty when the whole worklist was processed.
	Stopped          string      `json:"stopped,omitempty"`
	Errors           []RunError  `json:"errors,omitempty"`
	WorklistFailures int         `json:"worklist_failures,omitempty"`
	SortError        string      `json:"sort_error,omitempty"`
	Failure          string      `json:"failure,omitempty"`
	Pacer            pacer.State `json:"pacer"`
}

func newSummary(runID string, now time.Time) Summary {
	counts := make(map[upsert.Status]int, len(upsert.Statuses()))
	for _, st := range upsert.Statuses() {
		counts[st] = 0
	}
	return Summary{RunID: runID, Started: now, Counts: counts}
}

func (s *Summary) add(out upsert.Outcome) {
	s.Counts[out.Status]++
}

func (s *Summary) close(now time.Time, ps pacer.State) {
	s.Finished = now
	s.Duration = now.Sub(s.Started)
	s.Pacer = ps
}

// Succeeded is the number of entries that ended in any status but error.
func (s Summary) Succeeded() int {
	n := 0
	for st, c := range s.Counts {
		if st != upsert.StatusError {
			n += c
		}
	}
	return n
}

// WriteFile writes the summary as indented JSON, replacing path atomically.
func (s Summary) WriteFile(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode run summary")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "create summary directory")
	}
	tmp, err := os.CreateTemp(dir, ".summary-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "create summary file")
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "write summary file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "close summary file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "replace summary file")
	}
	return nil
}

// ReadSummary decodes a summary written by WriteFile.
func ReadSummary(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrap(err, errors.ErrorTypeNotFound, "read run summary")
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, errors.Wrap(err, errors.ErrorTypeData, "decode run summary")
	}
	return s, nil
}
