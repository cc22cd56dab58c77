// Package gate holds pending physical gate-open triggers until the gate controller polls them.
package gate

import (
	"sync"
	"time"
)

// Trigger is one pending gate-open event.
type Trigger struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Intent    string    `json:"intent"`
	At        time.Time `json:"at"`
}

// Queue is a FIFO of gate triggers. Enqueue and Drain are atomic with respect to each other,
// so every trigger is delivered by exactly one Drain.
type Queue struct {
	mu    sync.Mutex
	items []Trigger
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a trigger.
func (q *Queue) Enqueue(t Trigger) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

// Drain removes and returns every pending trigger in FIFO order.
func (q *Queue) Drain() []Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	return drained
}

// Len returns the number of pending triggers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the pending triggers without removing them.
func (q *Queue) Pending() []Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Trigger(nil), q.items...)
}
