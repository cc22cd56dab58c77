package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/database/mock"
	"github.com/kozaktomas/gate-attendance/internal/gate"
	"github.com/kozaktomas/gate-attendance/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedConfig struct {
	mu  sync.Mutex
	cfg database.GateConfiguration
	err error
}

func (f *fixedConfig) Snapshot(ctx context.Context) (database.GateConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.err
}

func (f *fixedConfig) set(cfg database.GateConfiguration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Enqueue(ev notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(h, m int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2026, 9, 1, h, m, 0, 0, time.UTC)
}

type fixture struct {
	recorder *Recorder
	store    *mock.MockAttendanceStore
	registry *mock.MockRegistry
	config   *fixedConfig
	queue    *gate.Queue
	notifier *recordingNotifier
	clock    *testClock
}

func closedConfig() database.GateConfiguration {
	return database.GateConfiguration{
		Mode:            database.GateModeClosed,
		FirstClassStart: &database.ClockTime{Hour: 8},
		GraceMinutes:    15,
		EmailEnabled:    true,
		SMSEnabled:      false,
	}
}

func newFixture(t *testing.T, cfg database.GateConfiguration) *fixture {
	t.Helper()
	f := &fixture{
		store:    mock.NewMockAttendanceStore(),
		registry: mock.NewMockRegistry(),
		config:   &fixedConfig{cfg: cfg},
		queue:    gate.NewQueue(),
		notifier: &recordingNotifier{},
		clock:    &testClock{},
	}
	f.clock.Set(7, 55)
	for i := 1; i <= 3; i++ {
		f.registry.AddStudent(database.Student{ID: fmt.Sprintf("S%d", i), Name: fmt.Sprintf("Student %d", i), Active: true})
	}
	f.registry.AddStudent(database.Student{ID: "gone", Name: "Former Student", Active: false})

	signaler := gate.NewSignaler(f.queue, nil, nil)
	f.recorder = NewRecorder(f.registry, f.store, f.config, signaler, f.notifier, nil,
		Options{Location: time.UTC, Now: f.clock.Now})
	return f
}

func (f *fixture) record(t *testing.T, studentID string, intent Intent) Result {
	t.Helper()
	res, err := f.recorder.Record(context.Background(), studentID, intent)
	require.NoError(t, err)
	return res
}

func TestRecord_ClosedArrivalStatus(t *testing.T) {
	f := newFixture(t, closedConfig())

	f.clock.Set(8, 14)
	res := f.record(t, "S1", IntentArrival)
	assert.True(t, res.Success)
	assert.Equal(t, database.StatusOnTime, res.Status)
	require.NotNil(t, res.Time)
	assert.Equal(t, 8, res.Time.Hour())
	assert.Equal(t, 14, res.Time.Minute())

	f.clock.Set(8, 16)
	res = f.record(t, "S2", IntentArrival)
	assert.True(t, res.Success)
	assert.Equal(t, database.StatusLate, res.Status)
}

func TestRecord_ClosedDuplicateArrival(t *testing.T) {
	f := newFixture(t, closedConfig())

	f.clock.Set(8, 0)
	first := f.record(t, "S1", IntentArrival)
	require.True(t, first.Success)

	f.clock.Set(8, 1)
	second := f.record(t, "S1", IntentArrival)
	assert.False(t, second.Success)
	assert.Equal(t, ConflictAlreadyTimedIn, second.Conflict)
	assert.Equal(t, "already timed in today", second.Conflict.Message())
	assert.Equal(t, first.EntryID, second.EntryID)

	assert.Len(t, f.store.All(), 1)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 1, f.notifier.count())
}

func TestRecord_ClosedDeparture(t *testing.T) {
	f := newFixture(t, closedConfig())

	res := f.record(t, "S1", IntentDeparture)
	assert.False(t, res.Success)
	assert.Equal(t, ConflictNoArrival, res.Conflict)

	f.clock.Set(8, 30)
	arrival := f.record(t, "S1", IntentArrival)
	require.True(t, arrival.Success)
	require.Equal(t, database.StatusLate, arrival.Status)

	f.clock.Set(14, 0)
	res = f.record(t, "S1", IntentDeparture)
	assert.True(t, res.Success)
	assert.Equal(t, arrival.EntryID, res.EntryID)
	assert.Equal(t, database.StatusLate, res.Status, "departure keeps the arrival status")

	res = f.record(t, "S1", IntentDeparture)
	assert.False(t, res.Success)
	assert.Equal(t, ConflictAlreadyDeparted, res.Conflict)

	res = f.record(t, "S1", IntentArrival)
	assert.Equal(t, ConflictAlreadyTimedIn, res.Conflict)

	entries := f.store.All()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].TimeOut)
	assert.Equal(t, 14, entries[0].TimeOut.Hour())
	assert.Equal(t, 2, f.queue.Len())
}

func TestRecord_OpenModeReentry(t *testing.T) {
	cfg := closedConfig()
	cfg.Mode = database.GateModeOpen
	f := newFixture(t, cfg)

	f.clock.Set(10, 0)
	res := f.record(t, "S2", IntentArrival)
	require.True(t, res.Success)
	assert.Equal(t, database.StatusOnTime, res.Status, "open mode has no lateness policy")
	assert.Equal(t, database.GateModeOpen, res.Mode)

	res = f.record(t, "S2", IntentArrival)
	assert.Equal(t, ConflictAlreadyInside, res.Conflict)

	res = f.record(t, "S2", IntentDeparture)
	require.True(t, res.Success)

	res = f.record(t, "S2", IntentDeparture)
	assert.Equal(t, ConflictNotInside, res.Conflict)

	f.clock.Set(11, 0)
	res = f.record(t, "S2", IntentArrival)
	require.True(t, res.Success)

	assert.Len(t, f.store.All(), 2)
	assert.Equal(t, 3, f.queue.Len())
	assert.Equal(t, 3, f.notifier.count())
}

func TestRecord_ModeChangeIsPickedUpPerDecision(t *testing.T) {
	f := newFixture(t, closedConfig())

	f.clock.Set(8, 0)
	require.True(t, f.record(t, "S1", IntentArrival).Success)
	f.clock.Set(9, 0)
	require.True(t, f.record(t, "S1", IntentDeparture).Success)

	open := closedConfig()
	open.Mode = database.GateModeOpen
	f.config.set(open)

	f.clock.Set(10, 0)
	res := f.record(t, "S1", IntentArrival)
	assert.True(t, res.Success)
	assert.Len(t, f.store.All(), 2)
}

func TestRecord_NotificationEvent(t *testing.T) {
	cfg := closedConfig()
	cfg.SMSEnabled = true
	f := newFixture(t, cfg)

	res := f.record(t, "S3", IntentArrival)
	require.True(t, res.Success)

	require.Equal(t, 1, f.notifier.count())
	ev := f.notifier.events[0]
	assert.Equal(t, res.EntryID, ev.EntryID)
	assert.Equal(t, "S3", ev.StudentID)
	assert.Equal(t, "Student 3", ev.StudentName)
	assert.Equal(t, "arrival", ev.Intent)
	assert.Equal(t, "ON_TIME", ev.Status)
	assert.True(t, ev.EmailEnabled)
	assert.True(t, ev.SMSEnabled)

	triggers := f.queue.Drain()
	require.Len(t, triggers, 1)
	assert.Equal(t, "S3", triggers[0].StudentID)
	assert.Equal(t, "arrival", triggers[0].Intent)
}

func TestRecord_Errors(t *testing.T) {
	f := newFixture(t, closedConfig())
	ctx := context.Background()

	_, err := f.recorder.Record(ctx, "nobody", IntentArrival)
	assert.ErrorIs(t, err, ErrUnknownStudent)

	_, err = f.recorder.Record(ctx, "gone", IntentArrival)
	assert.ErrorIs(t, err, ErrUnknownStudent)

	_, err = f.recorder.Record(ctx, "S1", Intent("sideways"))
	assert.ErrorIs(t, err, ErrInvalidIntent)

	f.config.err = errors.New("settings table missing")
	_, err = f.recorder.Record(ctx, "S1", IntentArrival)
	assert.Error(t, err)
	f.config.err = nil

	f.store.InsertError = errors.New("disk full")
	_, err = f.recorder.Record(ctx, "S1", IntentArrival)
	assert.Error(t, err)
	f.store.InsertError = nil

	f.store.ListError = errors.New("connection reset")
	_, err = f.recorder.Record(ctx, "S1", IntentArrival)
	assert.Error(t, err)

	assert.Empty(t, f.store.All())
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 0, f.notifier.count())
}

// Concurrent arrivals for the same student must produce exactly one entry and one trigger.
func TestRecord_ConcurrentSameStudentArrival(t *testing.T) {
	for _, mode := range []database.GateMode{database.GateModeClosed, database.GateModeOpen} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := closedConfig()
			cfg.Mode = mode
			f := newFixture(t, cfg)

			const callers = 50
			var wg sync.WaitGroup
			results := make([]Result, callers)
			errs := make([]error, callers)
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i], errs[i] = f.recorder.Record(context.Background(), "S1", IntentArrival)
				}()
			}
			wg.Wait()

			successes := 0
			for i := range callers {
				require.NoError(t, errs[i])
				if results[i].Success {
					successes++
				} else {
					assert.NotEmpty(t, results[i].Conflict)
				}
			}
			assert.Equal(t, 1, successes)
			assert.Len(t, f.store.All(), 1)
			assert.Equal(t, 1, f.queue.Len())
			assert.Equal(t, 1, f.notifier.count())
		})
	}
}

func TestRecord_ConcurrentDifferentStudents(t *testing.T) {
	f := newFixture(t, closedConfig())
	for i := 4; i <= 40; i++ {
		f.registry.AddStudent(database.Student{ID: fmt.Sprintf("S%d", i), Active: true})
	}

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.recorder.Record(context.Background(), id, IntentArrival)
			assert.NoError(t, err)
			assert.True(t, res.Success, id)
		}(fmt.Sprintf("S%d", i))
	}
	wg.Wait()

	assert.Len(t, f.store.All(), 40)
	assert.Equal(t, 40, f.queue.Len())
}

// staleReadStore hides existing rows from ListForDay, as if another writer committed between
// the read and the conditional write.
type staleReadStore struct {
	*mock.MockAttendanceStore
}

func (s staleReadStore) ListForDay(ctx context.Context, studentID string, date time.Time) ([]database.AttendanceEntry, error) {
	return nil, nil
}

func TestRecord_ConditionalWriteLosesRace(t *testing.T) {
	f := newFixture(t, closedConfig())
	f.store.Seed(database.AttendanceEntry{StudentID: "S1", Date: database.DateOf(f.clock.Now())})
	recorder := NewRecorder(f.registry, staleReadStore{f.store}, f.config, nil, f.notifier, nil,
		Options{Location: time.UTC, Now: f.clock.Now})

	res, err := recorder.Record(context.Background(), "S1", IntentArrival)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ConflictAlreadyTimedIn, res.Conflict)
	assert.Len(t, f.store.All(), 1)
	assert.Equal(t, 0, f.notifier.count())
}

func TestRecord_NewDayStartsFresh(t *testing.T) {
	f := newFixture(t, closedConfig())

	require.True(t, f.record(t, "S1", IntentArrival).Success)

	f.clock.mu.Lock()
	f.clock.now = f.clock.now.Add(24 * time.Hour)
	f.clock.mu.Unlock()

	assert.True(t, f.record(t, "S1", IntentArrival).Success)
	assert.Len(t, f.store.All(), 2)
}

func TestToday(t *testing.T) {
	f := newFixture(t, closedConfig())

	f.clock.Set(7, 50)
	f.record(t, "S1", IntentArrival)
	f.clock.Set(8, 5)
	f.record(t, "S2", IntentArrival)
	f.clock.Set(8, 40)
	f.record(t, "S3", IntentArrival)
	f.clock.Set(13, 0)
	f.record(t, "S2", IntentDeparture)
	f.clock.Set(14, 0)
	f.record(t, "S1", IntentDeparture)

	ctx := context.Background()
	arrivals, err := f.recorder.Today(ctx, IntentArrival, DisplayScrollable)
	require.NoError(t, err)
	require.Len(t, arrivals, 3)
	assert.Equal(t, []string{"S3", "S2", "S1"}, []string{arrivals[0].StudentID, arrivals[1].StudentID, arrivals[2].StudentID})
	assert.Equal(t, "Student 3", arrivals[0].Name)
	assert.Equal(t, database.StatusLate, arrivals[0].Status)
	assert.Equal(t, database.StatusOnTime, arrivals[2].Status)

	latest, err := f.recorder.Today(ctx, IntentArrival, DisplayLatest)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "S3", latest[0].StudentID)

	departures, err := f.recorder.Today(ctx, IntentDeparture, DisplayScrollable)
	require.NoError(t, err)
	require.Len(t, departures, 2)
	assert.Equal(t, "S1", departures[0].StudentID)
	assert.Equal(t, 14, departures[0].Time.Hour())
	assert.Equal(t, "S2", departures[1].StudentID)

	_, err = f.recorder.Today(ctx, Intent("x"), DisplayLatest)
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestToday_Empty(t *testing.T) {
	f := newFixture(t, closedConfig())
	entries, err := f.recorder.Today(context.Background(), IntentDeparture, DisplayScrollable)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
