package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded triggers to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url with automatic reconnection.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gate-attendance"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Publish(ctx context.Context, t Trigger) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling trigger: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
