package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/gate"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/metrics"
	"github.com/kozaktomas/gate-attendance/internal/notify"
)

// ConfigSource provides the gate configuration snapshot for one decision.
type ConfigSource interface {
	Snapshot(ctx context.Context) (database.GateConfiguration, error)
}

// GateSignal receives one trigger per accepted transition.
type GateSignal interface {
	Signal(t gate.Trigger)
}

// Notifier schedules guardian notifications without blocking.
type Notifier interface {
	Enqueue(ev notify.Event) bool
}

// Options configures a Recorder.
type Options struct {
	Location *time.Location // school timezone; the calendar date is taken in this zone
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

// Recorder applies arrival and departure events to the attendance store. Transitions are
// serialized per (student, date); unrelated students never wait on each other.
type Recorder struct {
	students database.StudentReader
	store    database.AttendanceWriter
	config   ConfigSource
	gate     GateSignal
	notifier Notifier
	locks    *keyLock
	loc      *time.Location
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewRecorder creates a recorder. gate and notifier may be nil.
func NewRecorder(students database.StudentReader, store database.AttendanceWriter, config ConfigSource,
	signal GateSignal, notifier Notifier, log *logger.Logger, opts Options) *Recorder {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Recorder{
		students: students,
		store:    store,
		config:   config,
		gate:     signal,
		notifier: notifier,
		locks:    newKeyLock(),
		loc:      opts.Location,
		now:      opts.Now,
		log:      log.With("component", "recorder"),
		metrics:  opts.Metrics,
	}
}

// Record applies intent for the student at the current time. Conflicts are reported in the
// result with a nil error; errors are reserved for unknown students and infrastructure failures.
func (r *Recorder) Record(ctx context.Context, studentID string, intent Intent) (Result, error) {
	if intent != IntentArrival && intent != IntentDeparture {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidIntent, intent)
	}

	student, err := r.students.GetStudent(ctx, studentID)
	if err != nil {
		return Result{}, fmt.Errorf("get student: %w", err)
	}
	if student == nil || !student.Active {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownStudent, studentID)
	}

	cfg, err := r.config.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("gate configuration: %w", err)
	}

	now := r.now().In(r.loc)
	date := database.DateOf(now)
	result := Result{StudentID: studentID, Name: student.Name, Intent: intent, Mode: cfg.Mode}

	entry, conflict, err := r.transition(ctx, cfg, studentID, intent, now, date)
	if err != nil {
		r.metrics.ObserveTransition(string(cfg.Mode), string(intent), "error")
		return Result{}, err
	}
	if conflict != "" {
		r.metrics.ObserveTransition(string(cfg.Mode), string(intent), string(conflict))
		r.log.Info("attendance transition rejected",
			"student_id", studentID, "intent", intent, "mode", cfg.Mode, "conflict", conflict)
		result.Conflict = conflict
		if entry != nil {
			result.Status = entry.Status
			result.EntryID = entry.ID
		}
		return result, nil
	}

	r.metrics.ObserveTransition(string(cfg.Mode), string(intent), "accepted")
	result.Success = true
	result.Status = entry.Status
	result.EntryID = entry.ID
	result.Time = &now
	r.log.Info("attendance recorded",
		"student_id", studentID, "intent", intent, "mode", cfg.Mode, "status", entry.Status, "entry_id", entry.ID)

	// Side effects run after the write has committed and the key lock is released.
	if r.gate != nil {
		r.gate.Signal(gate.Trigger{StudentID: studentID, Intent: string(intent), At: now})
	}
	if r.notifier != nil {
		r.notifier.Enqueue(notify.Event{
			EntryID:      entry.ID,
			StudentID:    studentID,
			StudentName:  student.Name,
			Intent:       string(intent),
			Status:       string(entry.Status),
			At:           now,
			EmailEnabled: cfg.EmailEnabled,
			SMSEnabled:   cfg.SMSEnabled,
		})
	}
	return result, nil
}

// transition runs the read-decide-write step under the (student, date) lock. It returns the
// affected entry on success, or a conflict together with the entry that caused it (if any).
func (r *Recorder) transition(ctx context.Context, cfg database.GateConfiguration, studentID string,
	intent Intent, now, date time.Time) (*database.AttendanceEntry, Conflict, error) {
	unlock := r.locks.Lock(studentID + "|" + date.Format(time.DateOnly))
	defer unlock()

	entries, err := r.store.ListForDay(ctx, studentID, date)
	if err != nil {
		return nil, "", fmt.Errorf("list attendance: %w", err)
	}

	d := decide(cfg.Mode, intent, entries)
	switch d.action {
	case actionCreate:
		entry := &database.AttendanceEntry{
			StudentID: studentID,
			Date:      date,
			TimeIn:    &now,
			Status:    ComputeStatus(now, cfg, r.loc),
		}
		ok, err := r.store.InsertArrival(ctx, entry, cfg.Mode)
		if err != nil {
			return nil, "", fmt.Errorf("insert arrival: %w", err)
		}
		if !ok {
			return nil, lostRace(cfg.Mode, intent), nil
		}
		return entry, "", nil

	case actionClose:
		ok, err := r.store.SetDeparture(ctx, d.entry.ID, now)
		if err != nil {
			return nil, "", fmt.Errorf("set departure: %w", err)
		}
		if !ok {
			return d.entry, lostRace(cfg.Mode, intent), nil
		}
		closed := *d.entry
		closed.TimeOut = &now
		return &closed, "", nil
	}

	var cause *database.AttendanceEntry
	if len(entries) > 0 {
		cause = &entries[0]
	}
	return cause, d.conflict, nil
}

// Today lists today's arrivals or departures, newest first. DisplayLatest returns at most one.
func (r *Recorder) Today(ctx context.Context, intent Intent, mode DisplayMode) ([]TodayEntry, error) {
	date := database.DateOf(r.now().In(r.loc))
	limit := 0
	if mode == DisplayLatest {
		limit = 1
	}

	var entries []database.AttendanceEntry
	var err error
	switch intent {
	case IntentArrival:
		entries, err = r.store.ListArrivals(ctx, date, limit)
	case IntentDeparture:
		entries, err = r.store.ListDepartures(ctx, date, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidIntent, intent)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", intent, err)
	}

	names := make(map[string]string)
	result := make([]TodayEntry, 0, len(entries))
	for _, e := range entries {
		at := e.TimeIn
		if intent == IntentDeparture {
			at = e.TimeOut
		}
		if at == nil {
			continue
		}
		name, ok := names[e.StudentID]
		if !ok {
			if s, err := r.students.GetStudent(ctx, e.StudentID); err != nil {
				r.log.Warn("failed to resolve student name", "student_id", e.StudentID, "error", err)
			} else if s != nil {
				name = s.Name
			}
			names[e.StudentID] = name
		}
		result = append(result, TodayEntry{
			StudentID: e.StudentID,
			Name:      name,
			Time:      at.In(r.loc),
			Status:    e.Status,
		})
	}
	return result, nil
}
