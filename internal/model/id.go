package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID stamped with the current time.
func NewID() string {
	return NewIDAt(time.Now())
}

// NewIDAt returns a ULID stamped with t, so history and reset records sort by
// the time the engine observed them rather than the time they were written.
// A zero or pre-epoch t falls back to the current time.
func NewIDAt(t time.Time) string {
	if t.Before(time.Unix(0, 0)) {
		t = time.Now()
	}
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// IDTime returns the timestamp encoded in a ULID produced by NewID or NewIDAt.
func IDTime(id string) (time.Time, bool) {
	u, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
