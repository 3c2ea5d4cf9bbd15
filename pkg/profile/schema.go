// Package profile defines the fixed profile schema: the ordered column list
// of the profile table, the Record value type built on it, and the per-column
// normalization applied before a record is written.
package profile

import (
	"strings"
)

// Field identifies one column of the profile table. The numeric value is the
// zero-based column index.
type Field int

// Columns in table order.
const (
	FieldNickname Field = iota
	FieldCity
	FieldGender
	FieldMarried
	FieldAge
	FieldJoined
	FieldFollowers
	FieldStatus
	FieldPosts
	FieldIntro
	FieldSource
	FieldScrapedAt
	FieldLastPost
	FieldLastPostTime
	FieldImage
	FieldProfileLink
	FieldPostURL
	FieldFriends
	FieldTags
	FieldLastLogin
	FieldEligible

	// NumFields is the column count of the profile table.
	NumFields int = iota
)

// KeyField is the natural key column.
const KeyField = FieldNickname

// TimeLayout is the format of timestamp columns. It sorts lexically in
// chronological order.
const TimeLayout = "2006-01-02 15:04:05"

var fieldNames = [NumFields]string{
	FieldNickname:     "NICK NAME",
	FieldCity:         "CITY",
	FieldGender:       "GENDER",
	FieldMarried:      "MARRIED",
	FieldAge:          "AGE",
	FieldJoined:       "JOINED",
	FieldFollowers:    "FOLLOWERS",
	FieldStatus:       "STATUS",
	FieldPosts:        "POSTS",
	FieldIntro:        "INTRO",
	FieldSource:       "SOURCE",
	FieldScrapedAt:    "DATETIME SCRAP",
	FieldLastPost:     "LAST POST",
	FieldLastPostTime: "LAST POST TIME",
	FieldImage:        "IMAGE",
	FieldProfileLink:  "PROFILE LINK",
	FieldPostURL:      "POST URL",
	FieldFriends:      "FRIEND",
	FieldTags:         "TAGS",
	FieldLastLogin:    "LAST LOGIN",
	FieldEligible:     "ELIGIBLE",
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, NumFields)
	for i, name := range fieldNames {
		m[name] = Field(i)
	}
	return m
}()

// String returns the column header.
func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return "UNKNOWN"
	}
	return fieldNames[f]
}

// Valid reports whether f is a schema column.
func (f Field) Valid() bool {
	return f >= 0 && int(f) < NumFields
}

// ParseField resolves a column header, ignoring case and surrounding space.
// Underscores are accepted in place of spaces ("nick_name").
func ParseField(name string) (Field, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", " ")
	f, ok := fieldsByName[n]
	return f, ok
}

// Header returns the header row of the profile table.
func Header() []string {
	h := make([]string, NumFields)
	copy(h, fieldNames[:])
	return h
}

// Fields returns all columns in table order.
func Fields() []Field {
	fs := make([]Field, NumFields)
	for i := range fs {
		fs[i] = Field(i)
	}
	return fs
}

// NormalizeKey returns the case-insensitive form of a natural key.
func NormalizeKey(nickname string) string {
	return strings.ToLower(strings.TrimSpace(nickname))
}

// IgnoredFields are never reported as changed: identity, scrape timestamp,
// volatile activity columns and generated links. Their new value is still
// written.
func IgnoredFields() []Field {
	return []Field{
		FieldNickname,
		FieldScrapedAt,
		FieldLastPostTime,
		FieldLastLogin,
		FieldProfileLink,
		FieldPostURL,
	}
}

// PreserveIfBlankFields keep their stored value when a fetch comes back blank.
func PreserveIfBlankFields() []Field {
	return []Field{
		FieldCity,
		FieldGender,
		FieldMarried,
		FieldAge,
		FieldJoined,
		FieldFollowers,
		FieldPosts,
		FieldIntro,
		FieldLastPost,
		FieldImage,
		FieldFriends,
	}
}

// Names maps fields to their headers.
func Names(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.String()
	}
	return out
}
