package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// MQTTPublisher publishes JSON-encoded triggers to an MQTT topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to broker (e.g. tcp://mosquitto:1883).
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Publish(ctx context.Context, t Trigger) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling trigger: %w", err)
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
