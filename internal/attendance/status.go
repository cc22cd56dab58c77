package attendance

import (
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
)

// earlyArrivalWindow is how long before class start an arrival still counts for that class.
const earlyArrivalWindow = 2 * time.Hour

// ComputeStatus decides the punctuality of an arrival in closed mode. Each configured class
// start defines the window [start-2h, start+grace], both ends inclusive, compared at minute
// resolution. An arrival inside either window is ON_TIME, anything else is LATE.
// Open mode has no lateness policy and is always ON_TIME.
func ComputeStatus(arrival time.Time, cfg database.GateConfiguration, loc *time.Location) database.AttendanceStatus {
	if cfg.Mode == database.GateModeOpen {
		return database.StatusOnTime
	}
	if loc == nil {
		loc = time.Local
	}
	local := arrival.In(loc).Truncate(time.Minute)
	grace := time.Duration(max(cfg.GraceMinutes, 0)) * time.Minute

	for _, start := range []*database.ClockTime{cfg.FirstClassStart, cfg.SecondClassStart} {
		if start == nil {
			continue
		}
		at := start.On(local, loc)
		if !local.Before(at.Add(-earlyArrivalWindow)) && !local.After(at.Add(grace)) {
			return database.StatusOnTime
		}
	}
	return database.StatusLate
}
