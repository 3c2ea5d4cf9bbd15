// Package diff computes the field-level difference between the stored and
// the incoming version of a profile and builds the vector to write back.
package diff

import (
	"strings"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// Arrow separates the old and new value of an audited cell.
const Arrow = " → "

// BlankToken is written instead of an empty cell under the token policy.
const BlankToken = "BLANK"

// Options configures a Detector.
type Options struct {
	// Ignore lists fields that are written through but never count as changed.
	Ignore []profile.Field
	// PreserveIfBlank lists fields whose stored value survives a blank
	// incoming value.
	PreserveIfBlank []profile.Field
	// AuditArrows writes changed cells as "old → new".
	AuditArrows bool
	// Token, when non-empty, replaces blank outgoing cells.
	Token string
}

// DefaultOptions uses the schema's ignore and preserve sets.
func DefaultOptions() Options {
	return Options{
		Ignore:          profile.IgnoredFields(),
		PreserveIfBlank: profile.PreserveIfBlankFields(),
	}
}

// OptionsFromConfig applies the upsert policy switches to DefaultOptions.
func OptionsFromConfig(cfg config.UpsertConfig) Options {
	opts := DefaultOptions()
	opts.AuditArrows = cfg.AuditArrows
	if cfg.BlankPolicy == config.BlankToken {
		opts.Token = BlankToken
	}
	return opts
}

// Result is the outcome of a comparison.
type Result struct {
	// Values is the full outgoing vector in schema order.
	Values []string
	// Changed lists the fields that count as changed, in schema order.
	Changed []profile.Field
}

// HasChanges reports whether any field counts as changed.
func (r Result) HasChanges() bool { return len(r.Changed) > 0 }

// ChangedNames returns the column names of the changed fields.
func (r Result) ChangedNames() []string { return profile.Names(r.Changed) }

// Detector compares field vectors. It holds no state between calls.
type Detector struct {
	ignore   [profile.NumFields]bool
	preserve [profile.NumFields]bool
	arrows   bool
	token    string
}

// New returns a detector for opts.
func New(opts Options) *Detector {
	d := &Detector{arrows: opts.AuditArrows, token: opts.Token}
	for _, f := range opts.Ignore {
		if f.Valid() {
			d.ignore[f] = true
		}
	}
	for _, f := range opts.PreserveIfBlank {
		if f.Valid() {
			d.preserve[f] = true
		}
	}
	return d
}

// Compare diffs the stored vector old against the incoming vector in. Both
// may be shorter than the schema; missing cells are blank.
func (d *Detector) Compare(old, in []string) Result {
	res := Result{Values: make([]string, profile.NumFields)}

	for i := 0; i < profile.NumFields; i++ {
		f := profile.Field(i)
		prev := d.stored(cell(old, i))
		next := strings.TrimSpace(cell(in, i))
		if next == d.token && d.token != "" {
			next = ""
		}

		out := next
		switch {
		case d.ignore[f]:
		case d.preserve[f] && next == "" && prev != "":
			out = prev
		case prev != next:
			res.Changed = append(res.Changed, f)
			if d.arrows && prev != "" && next != "" {
				out = prev + Arrow + next
			}
		}

		if out == "" && d.token != "" && f != profile.KeyField {
			out = d.token
		}
		res.Values[i] = out
	}
	return res
}

// stored recovers the comparable value of a stored cell: the newest side of
// an audit arrow, with the blank token read as blank.
func (d *Detector) stored(v string) string {
	if i := strings.LastIndex(v, Arrow); i >= 0 {
		v = v[i+len(Arrow):]
	}
	v = strings.TrimSpace(v)
	if d.token != "" && v == d.token {
		return ""
	}
	return v
}

func cell(v []string, i int) string {
	if i < len(v) {
		return v[i]
	}
	return ""
}
