package database

import (
	"context"
	"time"
)

// IdentityReader lists the enrolled identities the matcher loads into its cache.
type IdentityReader interface {
	// ListEnrolledIdentities returns every active student with enrollment data.
	ListEnrolledIdentities(ctx context.Context) ([]EnrolledIdentity, error)
}

// StudentReader provides roster lookups.
type StudentReader interface {
	// GetStudent returns the student, or nil if not found
	GetStudent(ctx context.Context, studentID string) (*Student, error)
}

// GuardianReader provides guardian contacts for notifications.
type GuardianReader interface {
	GetGuardians(ctx context.Context, studentID string) ([]Guardian, error)
}

// Registry is the school-records collaborator: roster, enrollment and guardians.
type Registry interface {
	IdentityReader
	StudentReader
	GuardianReader
}

// SettingsReader reads the current gate configuration.
type SettingsReader interface {
	GetConfiguration(ctx context.Context) (*GateConfiguration, error)
}

// AttendanceReader provides read access to attendance rows.
type AttendanceReader interface {
	// ListForDay returns the student's entries for a date, newest first.
	ListForDay(ctx context.Context, studentID string, date time.Time) ([]AttendanceEntry, error)
	// ListArrivals returns entries with a time-in on date, newest time-in first (limit <= 0 means all).
	ListArrivals(ctx context.Context, date time.Time, limit int) ([]AttendanceEntry, error)
	// ListDepartures returns entries with a time-out on date, newest time-out first (limit <= 0 means all).
	ListDepartures(ctx context.Context, date time.Time, limit int) ([]AttendanceEntry, error)
}

// AttendanceWriter provides conditional writes used by the recorder.
type AttendanceWriter interface {
	AttendanceReader

	// InsertArrival inserts entry unless the mode's uniqueness rule forbids it: in closed mode
	// any entry for (student, date) blocks the insert, in open mode an entry without time-out
	// does. Returns false when blocked. On success entry.ID and entry.CreatedAt are set.
	InsertArrival(ctx context.Context, entry *AttendanceEntry, mode GateMode) (bool, error)

	// SetDeparture sets the time-out of an entry that has none. Returns false if the entry
	// already has a time-out or does not exist.
	SetDeparture(ctx context.Context, entryID int64, at time.Time) (bool, error)

	// MarkNotified records which notification channels were delivered for an entry.
	MarkNotified(ctx context.Context, entryID int64, emailSent, smsSent bool) error
}
