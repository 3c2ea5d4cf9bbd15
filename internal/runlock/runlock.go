// Package runlock guards a run with a marker file so overlapping runs, such
// as a scheduler tick firing while a manual run is in progress, skip instead
// of interleaving writes.
package runlock

import (
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/profilesync/pkg/errors"
)

// ErrHeld is returned by Acquire when a live marker exists.
var ErrHeld = errors.New(errors.ErrorTypeValidation, "run already in progress")

// Info is the marker content.
type Info struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
}

// Lock is a held marker. Release removes it.
type Lock struct {
	path string
	info Info
}

// Acquire creates the marker at path. A marker older than ttl is treated as
// left behind by a crashed run and replaced. ttl <= 0 never expires markers.
func Acquire(path string, ttl time.Duration) (*Lock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "resolve lock path")
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info := Info{PID: os.Getpid(), Started: time.Now().UTC()}
			werr := json.NewEncoder(f).Encode(info)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(abs)
				if werr == nil {
					werr = cerr
				}
				return nil, errors.Wrap(werr, errors.ErrorTypeInternal, "write lock marker")
			}
			return &Lock{path: abs, info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "create lock marker")
		}
		if !stale(abs, ttl) {
			break
		}
		_ = os.Remove(abs)
	}

	held := errors.Wrap(ErrHeld, errors.ErrorTypeValidation, "acquire "+abs)
	if info, err := Read(abs); err == nil {
		held = held.WithDetail("pid", info.PID).WithDetail("started", info.Started)
	}
	return nil, held
}

// Held reports whether a live marker exists at path.
func Held(path string, ttl time.Duration) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return !stale(path, ttl)
}

// Read decodes the marker at path.
func Read(path string) (Info, error) {
	var info Info
	b, err := os.ReadFile(path)
	if err != nil {
		return info, errors.Wrap(err, errors.ErrorTypeNotFound, "read lock marker")
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, errors.Wrap(err, errors.ErrorTypeData, "decode lock marker")
	}
	return info, nil
}

// Path returns the absolute marker path.
func (l *Lock) Path() string { return l.path }

// Info returns what was written to the marker.
func (l *Lock) Info() Info { return l.info }

// Touch refreshes the marker mtime so long runs are not mistaken for stale.
func (l *Lock) Touch() error {
	now := time.Now()
	return os.Chtimes(l.path, now, now)
}

// Release removes the marker. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeInternal, "remove lock marker")
	}
	return nil
}

func stale(path string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(fi.ModTime()) >= ttl
}
