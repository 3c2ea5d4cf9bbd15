package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/profilesync/pkg/errors"
)

// Record is one profile as a fixed vector of string cells in schema order.
// Absent values are the empty string, never a nil sentinel. Record is a value
// type: copies are independent.
type Record struct {
	values [NumFields]string
}

// New returns a record with only the nickname set.
func New(nickname string) Record {
	var r Record
	r.values[FieldNickname] = nickname
	return r
}

// FromMap builds a record from header → value pairs. Unknown headers are
// rejected so schema drift surfaces at the boundary instead of being dropped.
func FromMap(fields map[string]string) (Record, error) {
	var r Record
	var unknown []string
	for name, v := range fields {
		f, ok := ParseField(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		r.values[f] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Record{}, errors.New(errors.ErrorTypeValidation, "unknown profile fields").
			WithDetail("fields", unknown)
	}
	return r, nil
}

// FromRow builds a record from a stored table row. Short rows are padded with
// blanks; cells past the schema are ignored.
func FromRow(row []string) Record {
	var r Record
	copy(r.values[:], row)
	return r
}

// Get returns the value of f.
func (r Record) Get(f Field) string {
	if !f.Valid() {
		return ""
	}
	return r.values[f]
}

// Set assigns the value of f.
func (r *Record) Set(f Field, v string) {
	if !f.Valid() {
		return
	}
	r.values[f] = v
}

// Values returns a copy of the cells in schema order.
func (r Record) Values() []string {
	out := make([]string, NumFields)
	copy(out, r.values[:])
	return out
}

// Map returns header → value for non-blank cells.
func (r Record) Map() map[string]string {
	m := make(map[string]string, NumFields)
	for i, v := range r.values {
		if v != "" {
			m[fieldNames[i]] = v
		}
	}
	return m
}

// Key returns the normalized natural key.
func (r Record) Key() string { return NormalizeKey(r.values[FieldNickname]) }

// Nickname returns the nickname as fetched.
func (r Record) Nickname() string { return r.values[FieldNickname] }

// City returns the CITY column.
func (r Record) City() string { return r.values[FieldCity] }

// Gender returns the GENDER column.
func (r Record) Gender() string { return r.values[FieldGender] }

// Posts returns the POSTS column.
func (r Record) Posts() string { return r.values[FieldPosts] }

// Followers returns the FOLLOWERS column.
func (r Record) Followers() string { return r.values[FieldFollowers] }

// Status returns the STATUS column.
func (r Record) Status() string { return r.values[FieldStatus] }

// Source returns the SOURCE column.
func (r Record) Source() string { return r.values[FieldSource] }

// ScrapedAt returns the DATETIME SCRAP column.
func (r Record) ScrapedAt() string { return r.values[FieldScrapedAt] }

// Tags returns the TAGS column.
func (r Record) Tags() string { return r.values[FieldTags] }

// Validate checks the record can be accepted into the table.
func (r Record) Validate() error {
	if r.Key() == "" {
		return errors.New(errors.ErrorTypeValidation, "nickname is blank")
	}
	if strings.ContainsAny(r.values[FieldNickname], "\n\r\t") {
		return errors.New(errors.ErrorTypeValidation, "nickname contains control whitespace").
			WithDetail("nickname", r.values[FieldNickname])
	}
	return nil
}

// String is a compact debug form.
func (r Record) String() string {
	return fmt.Sprintf("profile(%s)", r.values[FieldNickname])
}
