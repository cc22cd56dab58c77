package database

import (
	"fmt"
	"time"
)

// Student is a roster entry from the school registry.
type Student struct {
	ID            string
	Name          string
	EmbeddingPath string // file holding the enrolled pose vectors (may be empty)
	Active        bool
}

// EnrolledIdentity is a student together with the reference embeddings captured at enrollment.
// Embeddings is populated when the vectors live in the database; otherwise EmbeddingPath
// points at a file that the matcher reads. EmbeddingsErr is set when the stored vectors could
// not be decoded; such an identity is listed but unusable.
type EnrolledIdentity struct {
	ID            string
	Name          string
	EmbeddingPath string
	Embeddings    [][]float32
	EmbeddingsErr error
}

// Guardian is a contact notified about a student's gate events.
type Guardian struct {
	ID        int64
	StudentID string
	Name      string
	Email     string // empty if unknown
	Phone     string // empty if unknown
}

// GateMode selects the attendance policy.
type GateMode string

// GateMode constants.
const (
	GateModeClosed GateMode = "closed" // schedule-aware, one entry per student per day
	GateModeOpen   GateMode = "open"   // free re-entry, no lateness policy
)

// ParseGateMode parses a stored gate mode, defaulting to closed.
func ParseGateMode(s string) GateMode {
	if GateMode(s) == GateModeOpen {
		return GateModeOpen
	}
	return GateModeClosed
}

// ClockTime is a wall-clock time of day in the school timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" or "HH:MM:SS" (seconds are ignored).
func ParseClockTime(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("invalid clock time %q", s)
}

// On returns the instant of this clock time on the given day in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// GateConfiguration is a snapshot of the externally owned gate settings.
type GateConfiguration struct {
	Mode             GateMode
	FirstClassStart  *ClockTime // nil if not configured
	SecondClassStart *ClockTime // nil if not configured
	GraceMinutes     int
	EmailEnabled     bool
	SMSEnabled       bool
	UpdatedAt        time.Time
}

// AttendanceStatus is the computed punctuality of an arrival.
type AttendanceStatus string

// AttendanceStatus constants.
const (
	StatusOnTime  AttendanceStatus = "ON_TIME"
	StatusLate    AttendanceStatus = "LATE"
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusExcused AttendanceStatus = "EXCUSED"
)

// AttendanceEntry is one attendance row. In closed-gate mode (StudentID, Date) is unique;
// in open-gate mode a student may have several entries per day.
type AttendanceEntry struct {
	ID        int64
	StudentID string
	Date      time.Time // calendar date, midnight UTC
	TimeIn    *time.Time
	TimeOut   *time.Time
	Status    AttendanceStatus
	EmailSent bool
	SMSSent   bool
	CreatedAt time.Time
}

// Inside reports whether the entry is an open visit (arrived, not yet departed).
func (e *AttendanceEntry) Inside() bool {
	return e.TimeIn != nil && e.TimeOut == nil
}

// DateOf returns the calendar date of t (in t's location) as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
