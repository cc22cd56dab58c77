package notify

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/metrics"
)

// Dispatcher defaults.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultSendTimeout = 15 * time.Second
)

// NotifiedMarker records which channels were delivered for an attendance entry.
type NotifiedMarker interface {
	MarkNotified(ctx context.Context, entryID int64, emailSent, smsSent bool) error
}

// Options configures a Dispatcher.
type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher delivers notifications from a bounded queue with a fixed pool of workers.
// Enqueue never blocks: when the queue is full the event is dropped and logged.
// Delivery failures are logged per guardian and channel and are never retried.
type Dispatcher struct {
	guardians  database.GuardianReader
	marker     NotifiedMarker
	composer   *Composer
	transports map[Channel]Transport
	opts       Options
	log        *logger.Logger
	metrics    *metrics.Metrics

	queue  chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher. Channels without a transport are skipped silently.
// marker may be nil.
func NewDispatcher(guardians database.GuardianReader, marker NotifiedMarker, composer *Composer,
	transports map[Channel]Transport, log *logger.Logger, m *metrics.Metrics, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		guardians:  guardians,
		marker:     marker,
		composer:   composer,
		transports: transports,
		opts:       opts,
		log:        log.With("component", "notify"),
		metrics:    m,
		queue:      make(chan Event, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.Info("notification dispatcher started", "workers", d.opts.Workers, "queue", d.opts.QueueSize)
}

// Enqueue schedules ev for delivery. Returns false if the event was dropped.
func (d *Dispatcher) Enqueue(ev Event) bool {
	if !ev.EmailEnabled && !ev.SMSEnabled {
		return true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.NotificationDropped()
		d.log.Warn("notification dropped, dispatcher stopped", "student_id", ev.StudentID, "intent", ev.Intent)
		return false
	}
	select {
	case d.queue <- ev:
		d.metrics.SetNotificationQueue(len(d.queue))
		return true
	default:
		d.metrics.NotificationDropped()
		d.log.Warn("notification dropped, queue full", "student_id", ev.StudentID, "intent", ev.Intent)
		return false
	}
}

// Stop stops accepting events and waits for queued ones to be delivered. If ctx expires first,
// in-flight sends are cancelled and the remaining events are discarded.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.metrics.SetNotificationQueue(len(d.queue))
		if d.ctx.Err() != nil {
			continue
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	log := d.log.With("student_id", ev.StudentID, "intent", ev.Intent, "entry_id", ev.EntryID)

	guardians, err := d.guardians.GetGuardians(d.ctx, ev.StudentID)
	if err != nil {
		log.Error("failed to load guardians", "error", err)
		return
	}
	if len(guardians) == 0 {
		log.Debug("no guardians to notify")
		return
	}

	var emailSent, smsSent bool
	for _, g := range guardians {
		if ev.EmailEnabled && g.Email != "" && d.send(log, ev, g, ChannelEmail, g.Email) {
			emailSent = true
		}
		if ev.SMSEnabled && g.Phone != "" && d.send(log, ev, g, ChannelSMS, g.Phone) {
			smsSent = true
		}
	}

	if d.marker == nil || ev.EntryID == 0 || (!emailSent && !smsSent) {
		return
	}
	if err := d.marker.MarkNotified(d.ctx, ev.EntryID, emailSent, smsSent); err != nil {
		log.Warn("failed to record notification flags", "error", err)
	}
}

func (d *Dispatcher) send(log *logger.Logger, ev Event, g database.Guardian, channel Channel, recipient string) bool {
	transport, ok := d.transports[channel]
	if !ok || transport == nil {
		return false
	}

	msg, err := d.composer.Compose(ev, g.Name, channel)
	if err == nil {
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.SendTimeout)
		err = transport.Send(ctx, recipient, msg)
		cancel()
	}
	d.metrics.ObserveNotification(string(channel), err)
	if err != nil {
		log.Error("failed to notify guardian", "guardian_id", g.ID, "channel", channel, "error", err)
		return false
	}
	log.Debug("guardian notified", "guardian_id", g.ID, "channel", channel)
	return true
}
