// Package attendance turns recognized identities into time-in and time-out records under the
// closed-gate and open-gate policies.
package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
)

// Intent is the direction of a gate passage.
type Intent string

// Intent constants.
const (
	IntentArrival   Intent = "arrival"
	IntentDeparture Intent = "departure"
)

var (
	// ErrInvalidIntent is returned for intents other than arrival and departure.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrUnknownStudent is returned when the student is not on the roster or is inactive.
	ErrUnknownStudent = errors.New("unknown student")
)

// ParseIntent parses "arrival" / "departure" (case-insensitive; "time_in" and "time_out" are
// accepted as aliases).
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arrival", "time_in", "in":
		return IntentArrival, nil
	case "departure", "time_out", "out":
		return IntentDeparture, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIntent, s)
}

// Conflict is a rejected transition. Conflicts are expected outcomes, not errors.
type Conflict string

// Conflict constants.
const (
	ConflictAlreadyTimedIn  Conflict = "already_timed_in" // closed mode: the day already has an entry
	ConflictNoArrival       Conflict = "no_arrival"       // closed mode: departure without arrival
	ConflictAlreadyDeparted Conflict = "already_departed" // closed mode: second departure
	ConflictAlreadyInside   Conflict = "already_inside"   // open mode: arrival while inside
	ConflictNotInside       Conflict = "not_inside"       // open mode: departure while outside
)

// Message returns a human readable description of the conflict.
func (c Conflict) Message() string {
	switch c {
	case ConflictAlreadyTimedIn:
		return "already timed in today"
	case ConflictNoArrival:
		return "no arrival on record"
	case ConflictAlreadyDeparted:
		return "already departed"
	case ConflictAlreadyInside:
		return "already inside"
	case ConflictNotInside:
		return "not inside"
	}
	return string(c)
}

// Result is the outcome of Record.
type Result struct {
	Success   bool
	StudentID string
	Name      string
	Intent    Intent
	Mode      database.GateMode
	Status    database.AttendanceStatus // arrival status of the affected entry
	Time      *time.Time                // time of the accepted transition
	EntryID   int64
	Conflict  Conflict // set when Success is false
}

// DisplayMode selects how much of today's list is returned.
type DisplayMode string

// DisplayMode constants.
const (
	DisplayScrollable DisplayMode = "scrollable" // full list
	DisplayLatest     DisplayMode = "latest"     // most recent only
)

// ParseDisplayMode defaults to scrollable.
func ParseDisplayMode(s string) DisplayMode {
	if DisplayMode(strings.ToLower(s)) == DisplayLatest {
		return DisplayLatest
	}
	return DisplayScrollable
}

// TodayEntry is one row of the "today" arrivals or departures list.
type TodayEntry struct {
	StudentID string                    `json:"student_id"`
	Name      string                    `json:"name"`
	Time      time.Time                 `json:"time"`
	Status    database.AttendanceStatus `json:"status"`
}
