package attendance

import "github.com/kozaktomas/gate-attendance/internal/database"

type action int

const (
	actionReject action = iota
	actionCreate
	actionClose
)

type decision struct {
	action   action
	conflict Conflict
	entry    *database.AttendanceEntry // entry to close for actionClose
}

// decide applies the state machine to the student's entries for the day (newest first).
//
// Closed:  NoRecord -arrival-> Arrived -departure-> Departed
// Open:    Outside -arrival-> Inside -departure-> Outside (re-entrant)
func decide(mode database.GateMode, intent Intent, entries []database.AttendanceEntry) decision {
	var latest *database.AttendanceEntry
	if len(entries) > 0 {
		latest = &entries[0]
	}

	if mode == database.GateModeOpen {
		inside := latest != nil && latest.Inside()
		switch intent {
		case IntentArrival:
			if inside {
				return decision{conflict: ConflictAlreadyInside}
			}
			return decision{action: actionCreate}
		default:
			if !inside {
				return decision{conflict: ConflictNotInside}
			}
			return decision{action: actionClose, entry: latest}
		}
	}

	switch intent {
	case IntentArrival:
		if latest != nil {
			return decision{conflict: ConflictAlreadyTimedIn}
		}
		return decision{action: actionCreate}
	default:
		switch {
		case latest == nil || latest.TimeIn == nil:
			return decision{conflict: ConflictNoArrival}
		case latest.TimeOut != nil:
			return decision{conflict: ConflictAlreadyDeparted}
		}
		return decision{action: actionClose, entry: latest}
	}
}

// lostRace maps a conditional write that matched no row to the conflict a serialized
// caller would have observed.
func lostRace(mode database.GateMode, intent Intent) Conflict {
	switch {
	case mode == database.GateModeOpen && intent == IntentArrival:
		return ConflictAlreadyInside
	case mode == database.GateModeOpen:
		return ConflictNotInside
	case intent == IntentArrival:
		return ConflictAlreadyTimedIn
	default:
		return ConflictAlreadyDeparted
	}
}
