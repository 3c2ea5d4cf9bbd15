package upsert

import (
	"fmt"
	"strings"
)

// Status classifies the result of one upsert call.
type Status string

const (
	StatusNew       Status = "new"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// Statuses lists every status in reporting order.
func Statuses() []Status {
	return []Status{StatusNew, StatusUpdated, StatusUnchanged, StatusSkipped, StatusError}
}

// Outcome is produced once per Write or Skip call.
type Outcome struct {
	Key    string
	Status Status
	// Row is the profile-tab row of the key after the call, 0 when unknown.
	Row int
	// Changed lists the changed column names of an updated profile.
	Changed []string
	// Reason is the skip reason of a skipped profile.
	Reason string
	// Err is set for StatusError.
	Err error
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Status != StatusError }

// String renders the outcome for logs and worklist remarks.
func (o Outcome) String() string {
	switch o.Status {
	case StatusUpdated:
		return fmt.Sprintf("%s (%s)", o.Status, strings.Join(o.Changed, ", "))
	case StatusSkipped:
		return fmt.Sprintf("%s (%s)", o.Status, o.Reason)
	case StatusError:
		if o.Err != nil {
			return fmt.Sprintf("%s: %v", o.Status, o.Err)
		}
	}
	return string(o.Status)
}

func errorOutcome(key string, err error) Outcome {
	return Outcome{Key: key, Status: StatusError, Err: err}
}
