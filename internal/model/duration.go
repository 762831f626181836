package model

import (
	"fmt"
	"sort"
	"time"
)

// Service duration identifiers.
const (
	Duration1h   = "1h"
	Duration1h30 = "1.5h"
	Duration2h   = "2h"
	Duration2h30 = "2.5h"
	Duration3h   = "3h"
	Duration4h   = "4h"
	Duration6h   = "6h"
	Duration8h   = "8h"
)

// serviceDurations maps each service duration id to its length in minutes.
var serviceDurations = map[string]int{
	Duration1h:   60,
	Duration1h30: 90,
	Duration2h:   120,
	Duration2h30: 150,
	Duration3h:   180,
	Duration4h:   240,
	Duration6h:   360,
	Duration8h:   480,
}

// DurationMinutes resolves a service duration id to minutes.
func DurationMinutes(id string) (int, bool) {
	m, ok := serviceDurations[id]
	return m, ok
}

// DurationHours resolves a service duration id to hours.
func DurationHours(id string) (float64, bool) {
	m, ok := serviceDurations[id]
	if !ok {
		return 0, false
	}
	return float64(m) / 60, true
}

// DurationIDs returns all known service duration ids ordered by length.
func DurationIDs() []string {
	ids := make([]string, 0, len(serviceDurations))
	for id := range serviceDurations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return serviceDurations[ids[i]] < serviceDurations[ids[j]]
	})
	return ids
}

// ClockTime is a wall clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant of this clock time on the day of ref, in ref's location.
func (c ClockTime) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, ref.Location())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
