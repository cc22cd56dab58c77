// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
)

// MockRegistry is a mock implementation of database.Registry
type MockRegistry struct {
	mu         sync.RWMutex
	students   map[string]*database.Student
	identities []database.EnrolledIdentity
	guardians  map[string][]database.Guardian

	// Error injection
	ListIdentitiesError error
	GetStudentError     error
	GetGuardiansError   error

	// ListCalls counts ListEnrolledIdentities invocations
	ListCalls int
}

// NewMockRegistry creates a new mock registry
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		students:  make(map[string]*database.Student),
		guardians: make(map[string][]database.Guardian),
	}
}

// AddStudent adds a student to the roster
func (m *MockRegistry) AddStudent(s database.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = &s
}

// AddIdentity adds an enrolled identity (and the matching roster entry)
func (m *MockRegistry) AddIdentity(identity database.EnrolledIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
	if _, ok := m.students[identity.ID]; !ok {
		m.students[identity.ID] = &database.Student{
			ID:            identity.ID,
			Name:          identity.Name,
			EmbeddingPath: identity.EmbeddingPath,
			Active:        true,
		}
	}
}

// SetIdentities replaces the enrolled identities
func (m *MockRegistry) SetIdentities(identities []database.EnrolledIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = identities
}

// AddGuardian adds a guardian contact
func (m *MockRegistry) AddGuardian(g database.Guardian) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guardians[g.StudentID] = append(m.guardians[g.StudentID], g)
}

// ListEnrolledIdentities returns a copy of the enrolled identities
func (m *MockRegistry) ListEnrolledIdentities(ctx context.Context) ([]database.EnrolledIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListIdentitiesError != nil {
		return nil, m.ListIdentitiesError
	}
	result := make([]database.EnrolledIdentity, len(m.identities))
	copy(result, m.identities)
	return result, nil
}

// ListCallCount returns the number of ListEnrolledIdentities calls so far
func (m *MockRegistry) ListCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ListCalls
}

// GetStudent retrieves a student by ID
func (m *MockRegistry) GetStudent(ctx context.Context, studentID string) (*database.Student, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[studentID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

// GetGuardians returns the guardians of a student
func (m *MockRegistry) GetGuardians(ctx context.Context, studentID string) ([]database.Guardian, error) {
	if m.GetGuardiansError != nil {
		return nil, m.GetGuardiansError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.Guardian(nil), m.guardians[studentID]...), nil
}

// MockSettings is a mock implementation of database.SettingsReader
type MockSettings struct {
	mu     sync.RWMutex
	config database.GateConfiguration

	// Error injection
	GetError error

	// Calls counts GetConfiguration invocations
	Calls int
}

// NewMockSettings creates mock settings returning cfg
func NewMockSettings(cfg database.GateConfiguration) *MockSettings {
	return &MockSettings{config: cfg}
}

// Set replaces the configuration
func (m *MockSettings) Set(cfg database.GateConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
}

// GetConfiguration returns a copy of the configuration
func (m *MockSettings) GetConfiguration(ctx context.Context) (*database.GateConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.GetError != nil {
		return nil, m.GetError
	}
	cfg := m.config
	return &cfg, nil
}

// MockAttendanceStore is an in-memory implementation of database.AttendanceWriter.
// Conditional writes are atomic under the store mutex.
type MockAttendanceStore struct {
	mu      sync.Mutex
	entries []*database.AttendanceEntry
	nextID  int64

	// Error injection
	ListError     error
	InsertError   error
	DepartError   error
	NotifiedError error

	// Notified records MarkNotified calls by entry ID
	Notified map[int64][2]bool
}

// NewMockAttendanceStore creates an empty attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{
		nextID:   1,
		Notified: make(map[int64][2]bool),
	}
}

// Seed adds an entry directly, bypassing uniqueness checks
func (m *MockAttendanceStore) Seed(entry database.AttendanceEntry) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, &entry)
	return entry.ID
}

// All returns copies of every stored entry in insertion order
func (m *MockAttendanceStore) All() []database.AttendanceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]database.AttendanceEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, *e)
	}
	return result
}

func (m *MockAttendanceStore) forDayLocked(studentID string, date time.Time) []*database.AttendanceEntry {
	var result []*database.AttendanceEntry
	for _, e := range m.entries {
		if e.StudentID == studentID && e.Date.Equal(date) {
			result = append(result, e)
		}
	}
	return result
}

// ListForDay returns the student's entries for the date, newest first
func (m *MockAttendanceStore) ListForDay(ctx context.Context, studentID string, date time.Time) ([]database.AttendanceEntry, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	day := m.forDayLocked(studentID, date)
	result := make([]database.AttendanceEntry, 0, len(day))
	for i := len(day) - 1; i >= 0; i-- {
		result = append(result, *day[i])
	}
	return result, nil
}

func (m *MockAttendanceStore) listBy(date time.Time, limit int, pick func(*database.AttendanceEntry) *time.Time) ([]database.AttendanceEntry, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []database.AttendanceEntry
	for _, e := range m.entries {
		if e.Date.Equal(date) && pick(e) != nil {
			result = append(result, *e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return pick(&result[i]).After(*pick(&result[j]))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListArrivals returns entries with a time-in on date, newest first
func (m *MockAttendanceStore) ListArrivals(ctx context.Context, date time.Time, limit int) ([]database.AttendanceEntry, error) {
	return m.listBy(date, limit, func(e *database.AttendanceEntry) *time.Time { return e.TimeIn })
}

// ListDepartures returns entries with a time-out on date, newest first
func (m *MockAttendanceStore) ListDepartures(ctx context.Context, date time.Time, limit int) ([]database.AttendanceEntry, error) {
	return m.listBy(date, limit, func(e *database.AttendanceEntry) *time.Time { return e.TimeOut })
}

// InsertArrival inserts the entry unless blocked by the mode's uniqueness rule
func (m *MockAttendanceStore) InsertArrival(ctx context.Context, entry *database.AttendanceEntry, mode database.GateMode) (bool, error) {
	if m.InsertError != nil {
		return false, m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.forDayLocked(entry.StudentID, entry.Date) {
		if mode == database.GateModeClosed || e.TimeOut == nil {
			return false, nil
		}
	}
	entry.ID = m.nextID
	entry.CreatedAt = time.Now()
	m.nextID++
	stored := *entry
	m.entries = append(m.entries, &stored)
	return true, nil
}

// SetDeparture sets the time-out of an open entry
func (m *MockAttendanceStore) SetDeparture(ctx context.Context, entryID int64, at time.Time) (bool, error) {
	if m.DepartError != nil {
		return false, m.DepartError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == entryID {
			if e.TimeOut != nil {
				return false, nil
			}
			out := at
			e.TimeOut = &out
			return true, nil
		}
	}
	return false, nil
}

// MarkNotified records delivered channels
func (m *MockAttendanceStore) MarkNotified(ctx context.Context, entryID int64, emailSent, smsSent bool) error {
	if m.NotifiedError != nil {
		return m.NotifiedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.Notified[entryID]
	m.Notified[entryID] = [2]bool{prev[0] || emailSent, prev[1] || smsSent}
	for _, e := range m.entries {
		if e.ID == entryID {
			e.EmailSent = e.EmailSent || emailSent
			e.SMSSent = e.SMSSent || smsSent
		}
	}
	return nil
}

// NotifiedFor returns the recorded channels for an entry
func (m *MockAttendanceStore) NotifiedFor(entryID int64) (email, sms bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.Notified[entryID]
	return v[0], v[1]
}
