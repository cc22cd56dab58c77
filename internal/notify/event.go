// Package notify delivers guardian notifications for attendance transitions.
package notify

import "time"

// Channel is a notification delivery channel.
type Channel string

// Channel constants.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Event describes one committed attendance transition.
type Event struct {
	EntryID     int64
	StudentID   string
	StudentName string
	Intent      string // "arrival" or "departure"
	Status      string
	At          time.Time

	// Per-channel toggles taken from the gate configuration snapshot of the decision.
	EmailEnabled bool
	SMSEnabled   bool
}

// Message is a composed notification ready for a transport.
type Message struct {
	Subject string
	Body    string
}
