package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/metrics"
)

const (
	// publishTimeout bounds a single mirror publish.
	publishTimeout = 10 * time.Second

	// Mirror publishing runs on a fixed pool; triggers beyond the buffer are not mirrored.
	mirrorWorkers    = 2
	mirrorBufferSize = 256
)

// Publisher mirrors gate triggers to an external bus.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, t Trigger) error
	Close() error
}

// Signaler enqueues gate triggers for the polling controller and mirrors them, best effort,
// to any configured publishers. The queue stays authoritative: publish failures and mirror
// overflow are logged and counted but never surface to the caller.
type Signaler struct {
	queue      *Queue
	publishers []Publisher
	log        *logger.Logger
	metrics    *metrics.Metrics

	mirror chan Trigger
	mu     sync.RWMutex // guards closed against sends on mirror
	closed bool
	wg     sync.WaitGroup
}

// NewSignaler creates a signaler around queue.
func NewSignaler(queue *Queue, log *logger.Logger, m *metrics.Metrics, publishers ...Publisher) *Signaler {
	return newSignaler(queue, log, m, mirrorWorkers, mirrorBufferSize, publishers...)
}

func newSignaler(queue *Queue, log *logger.Logger, m *metrics.Metrics, workers, buffer int, publishers ...Publisher) *Signaler {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Signaler{
		queue:      queue,
		publishers: publishers,
		log:        log.With("component", "gate"),
		metrics:    m,
	}
	if len(publishers) > 0 {
		s.mirror = make(chan Trigger, buffer)
		for range workers {
			s.wg.Add(1)
			go s.mirrorWorker()
		}
	}
	return s
}

// Queue returns the underlying trigger queue.
func (s *Signaler) Queue() *Queue {
	return s.queue
}

// Signal enqueues exactly one trigger and hands it to the mirror workers without blocking.
// Triggers without an ID get a random one so subscribers can deduplicate redeliveries.
func (s *Signaler) Signal(t Trigger) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.queue.Enqueue(t)
	s.metrics.TriggerEnqueued()

	if s.mirror == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.mirror <- t:
	default:
		for _, p := range s.publishers {
			s.metrics.PublishFailed(p.Name())
		}
		s.log.Warn("gate mirror backlog full, trigger not mirrored", "student_id", t.StudentID, "trigger_id", t.ID)
	}
}

func (s *Signaler) mirrorWorker() {
	defer s.wg.Done()
	for t := range s.mirror {
		for _, p := range s.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := p.Publish(ctx, t)
			cancel()
			if err != nil {
				s.metrics.PublishFailed(p.Name())
				s.log.Warn("failed to mirror gate trigger", "sink", p.Name(), "student_id", t.StudentID, "error", err)
			}
		}
	}
}

// Drain atomically removes every pending trigger and returns how many there were.
func (s *Signaler) Drain() int {
	n := len(s.queue.Drain())
	s.metrics.TriggersDrained(n)
	return n
}

// Close publishes the mirror backlog, stops the workers and closes the publishers. Triggers
// signalled afterwards are still queued but no longer mirrored.
func (s *Signaler) Close() {
	s.mu.Lock()
	if !s.closed && s.mirror != nil {
		close(s.mirror)
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	for _, p := range s.publishers {
		if err := p.Close(); err != nil {
			s.log.Warn("failed to close gate publisher", "sink", p.Name(), "error", err)
		}
	}
}
