package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/config"
	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/database/mock"
	"github.com/kozaktomas/gate-attendance/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentMessage struct {
	recipient string
	msg       Message
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  map[string]error
	block chan struct{}
}

func (f *fakeTransport) Send(ctx context.Context, recipient string, msg Message) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[recipient]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{recipient: recipient, msg: msg})
	return nil
}

func (f *fakeTransport) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.recipient)
	}
	return out
}

type fakeMarker struct {
	mu    sync.Mutex
	marks map[int64][2]bool
}

func (f *fakeMarker) MarkNotified(ctx context.Context, entryID int64, emailSent, smsSent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marks == nil {
		f.marks = make(map[int64][2]bool)
	}
	f.marks[entryID] = [2]bool{emailSent, smsSent}
	return nil
}

func (f *fakeMarker) get(id int64) ([2]bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.marks[id]
	return v, ok
}

func newTestComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(config.Load().Messages, time.UTC)
	require.NoError(t, err)
	return c
}

func registryWithGuardians() *mock.MockRegistry {
	reg := mock.NewMockRegistry()
	reg.AddStudent(database.Student{ID: "s1", Name: "Jana Nováková", Active: true})
	reg.AddGuardian(database.Guardian{ID: 1, StudentID: "s1", Name: "Petr Novák", Email: "petr@example.com", Phone: "+420111"})
	reg.AddGuardian(database.Guardian{ID: 2, StudentID: "s1", Name: "Eva Nováková", Email: "eva@example.com"})
	return reg
}

func arrivalEvent() Event {
	return Event{
		EntryID:      7,
		StudentID:    "s1",
		StudentName:  "Jana Nováková",
		Intent:       "arrival",
		Status:       "ON_TIME",
		At:           time.Date(2026, 9, 1, 7, 55, 0, 0, time.UTC),
		EmailEnabled: true,
		SMSEnabled:   true,
	}
}

func TestDispatcher_DeliversToEveryGuardian(t *testing.T) {
	email, sms := &fakeTransport{}, &fakeTransport{}
	marker := &fakeMarker{}
	d := NewDispatcher(registryWithGuardians(), marker, newTestComposer(t),
		map[Channel]Transport{ChannelEmail: email, ChannelSMS: sms}, nil, nil, Options{Workers: 2})
	d.Start()

	require.True(t, d.Enqueue(arrivalEvent()))
	d.Stop(context.Background())

	assert.ElementsMatch(t, []string{"petr@example.com", "eva@example.com"}, email.recipients())
	assert.Equal(t, []string{"+420111"}, sms.recipients())
	flags, ok := marker.get(7)
	require.True(t, ok)
	assert.Equal(t, [2]bool{true, true}, flags)

	assert.Contains(t, email.sent[0].msg.Subject, "Jana Nováková")
	assert.Contains(t, sms.sent[0].msg.Body, "Jana Novakova")
}

func TestDispatcher_RespectsChannelToggles(t *testing.T) {
	email, sms := &fakeTransport{}, &fakeTransport{}
	marker := &fakeMarker{}
	d := NewDispatcher(registryWithGuardians(), marker, newTestComposer(t),
		map[Channel]Transport{ChannelEmail: email, ChannelSMS: sms}, nil, nil, Options{})
	d.Start()

	ev := arrivalEvent()
	ev.EmailEnabled = false
	d.Enqueue(ev)
	d.Stop(context.Background())

	assert.Empty(t, email.recipients())
	assert.Equal(t, []string{"+420111"}, sms.recipients())
	flags, _ := marker.get(7)
	assert.Equal(t, [2]bool{false, true}, flags)
}

func TestDispatcher_FailureIsIsolatedPerGuardian(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	email := &fakeTransport{fail: map[string]error{"petr@example.com": errors.New("mailbox full")}}
	marker := &fakeMarker{}
	d := NewDispatcher(registryWithGuardians(), marker, newTestComposer(t),
		map[Channel]Transport{ChannelEmail: email}, nil, m, Options{Workers: 1})
	d.Start()

	ev := arrivalEvent()
	ev.SMSEnabled = false
	d.Enqueue(ev)
	d.Stop(context.Background())

	assert.Equal(t, []string{"eva@example.com"}, email.recipients())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("email", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("email", "sent")))
	flags, _ := marker.get(7)
	assert.Equal(t, [2]bool{true, false}, flags)
}

func TestDispatcher_GuardianLookupFailure(t *testing.T) {
	reg := registryWithGuardians()
	reg.GetGuardiansError = errors.New("registry down")
	email := &fakeTransport{}
	marker := &fakeMarker{}
	d := NewDispatcher(reg, marker, newTestComposer(t), map[Channel]Transport{ChannelEmail: email}, nil, nil, Options{})
	d.Start()

	d.Enqueue(arrivalEvent())
	d.Stop(context.Background())

	assert.Empty(t, email.recipients())
	_, ok := marker.get(7)
	assert.False(t, ok)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	email := &fakeTransport{block: make(chan struct{})}
	d := NewDispatcher(registryWithGuardians(), nil, newTestComposer(t),
		map[Channel]Transport{ChannelEmail: email}, nil, m, Options{Workers: 1, QueueSize: 1})

	// Not started: the first event fills the queue, the second is dropped.
	assert.True(t, d.Enqueue(arrivalEvent()))
	assert.False(t, d.Enqueue(arrivalEvent()))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsDropped))

	d.Start()
	close(email.block)
	d.Stop(context.Background())
}

func TestDispatcher_EnqueueAfterStop(t *testing.T) {
	d := NewDispatcher(registryWithGuardians(), nil, newTestComposer(t), nil, nil, nil, Options{})
	d.Start()
	d.Stop(context.Background())
	d.Stop(context.Background())

	assert.False(t, d.Enqueue(arrivalEvent()))
}

func TestDispatcher_StopTimeoutCancelsSends(t *testing.T) {
	email := &fakeTransport{block: make(chan struct{})}
	d := NewDispatcher(registryWithGuardians(), nil, newTestComposer(t),
		map[Channel]Transport{ChannelEmail: email}, nil, nil, Options{Workers: 1})
	d.Start()
	d.Enqueue(arrivalEvent())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Stop(ctx)

	assert.Empty(t, email.recipients())
}

func TestDispatcher_AllChannelsDisabled(t *testing.T) {
	d := NewDispatcher(registryWithGuardians(), nil, newTestComposer(t), nil, nil, nil, Options{QueueSize: 1})
	ev := arrivalEvent()
	ev.EmailEnabled, ev.SMSEnabled = false, false

	// Nothing to deliver, so nothing occupies the queue.
	assert.True(t, d.Enqueue(ev))
	assert.True(t, d.Enqueue(ev))
	d.Stop(context.Background())
}
