package source

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

// relativeFields hold activity times the source renders relative to now.
var relativeFields = []profile.Field{
	profile.FieldLastPostTime,
	profile.FieldLastLogin,
}

// terminalStatuses are STATUS values that mark a profile as skipped.
var terminalStatuses = map[string]string{
	"suspended":  SkipSuspended,
	"banned":     SkipSuspended,
	"unverified": SkipUnverified,
	"private":    SkipPrivate,
}

var relativePattern = regexp.MustCompile(`^(\d+|an?|one)\s*(s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days|w|week|weeks|month|months|y|year|years)\s+ago$`)

// Normalize turns a fetched profile into a record. When the profile is in a
// terminal state the returned skip reason is non-empty and the record is
// zero. Unknown field names are rejected.
func Normalize(raw RawFields, now time.Time) (profile.Record, string, error) {
	if reason := strings.ToLower(strings.TrimSpace(raw.SkipReason)); reason != "" {
		return profile.Record{}, reason, nil
	}

	cleaned := make(map[string]string, len(raw.Fields))
	for name, v := range raw.Fields {
		cleaned[name] = clean(v)
	}
	rec, err := profile.FromMap(cleaned)
	if err != nil {
		return profile.Record{}, "", err
	}
	if err := rec.Validate(); err != nil {
		return profile.Record{}, "", err
	}

	if reason, ok := terminalStatuses[strings.ToLower(rec.Status())]; ok {
		return rec, reason, nil
	}

	for _, f := range relativeFields {
		rec.Set(f, AbsoluteTime(rec.Get(f), now))
	}
	return rec, "", nil
}

// clean trims v and collapses runs of spaces on each line. Line breaks are
// kept for multi-line columns.
func clean(v string) string {
	lines := strings.Split(strings.ReplaceAll(v, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// AbsoluteTime converts expressions like "5 mins ago", "an hour ago",
// "yesterday" or "just now" to a timestamp relative to now. Anything else is
// returned unchanged.
func AbsoluteTime(v string, now time.Time) string {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "":
		return v
	case "just now", "now", "moments ago", "a moment ago":
		return now.Format(profile.TimeLayout)
	case "today":
		return now.Format(profile.TimeLayout)
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(profile.TimeLayout)
	}

	m := relativePattern.FindStringSubmatch(s)
	if m == nil {
		return v
	}
	n := 1
	if parsed, err := strconv.Atoi(m[1]); err == nil {
		n = parsed
	}

	var at time.Time
	switch unit := strings.TrimSuffix(m[2], "s"); unit {
	case "", "sec", "second":
		at = now.Add(-time.Duration(n) * time.Second)
	case "m", "min", "minute":
		at = now.Add(-time.Duration(n) * time.Minute)
	case "h", "hr", "hour":
		at = now.Add(-time.Duration(n) * time.Hour)
	case "d", "day":
		at = now.AddDate(0, 0, -n)
	case "w", "week":
		at = now.AddDate(0, 0, -7*n)
	case "month":
		at = now.AddDate(0, -n, 0)
	case "y", "year":
		at = now.AddDate(-n, 0, 0)
	default:
		return v
	}
	return at.Format(profile.TimeLayout)
}

// IsRateLimited reports whether err is a source throttling signal.
func IsRateLimited(err error) bool {
	return errors.IsType(err, errors.ErrorTypeRateLimit)
}
