package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fleetops/core/lifecycle"
	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/internal/eventbus"
)

// Config holds the MQTT broker settings for the notifier.
type Config struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	UseTLS      bool   `json:"use_tls"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "fleetops-notifier"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "fleetops"
	}
}

// MQTTNotifier publishes lifecycle events from the bus to an MQTT broker.
// It is optional wiring: when disabled the service simply never starts it.
type MQTTNotifier struct {
	client mqtt.Client
	cfg    Config
	log    logger.Logger
}

// NewMQTTNotifier connects to the broker and returns a notifier.
func NewMQTTNotifier(cfg Config, log logger.Logger) (*MQTTNotifier, error) {
	cfg.SetDefaults()
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	return &MQTTNotifier{client: client, cfg: cfg, log: log}, nil
}

// Run pumps events from the bus to the broker until ctx is canceled. It is
// meant to run in its own goroutine.
func (n *MQTTNotifier) Run(ctx context.Context, bus eventbus.EventBus) {
	sub := bus.Subscribe(64)
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := n.publish(e); err != nil {
				n.log.Errorf("publish event: %v", err)
			}
		}
	}
}

func (n *MQTTNotifier) publish(e eventbus.Event) error {
	topic := n.topicFor(e)
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	token := n.client.Publish(topic, n.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
}

func (n *MQTTNotifier) topicFor(e eventbus.Event) string {
	switch ev := e.(type) {
	case lifecycle.TripStartedEvent:
		return fmt.Sprintf("%s/trips/%d/started", n.cfg.TopicPrefix, ev.TripID)
	case lifecycle.TripCompletedEvent:
		return fmt.Sprintf("%s/trips/%d/completed", n.cfg.TopicPrefix, ev.TripID)
	case lifecycle.TransitionSkippedEvent:
		return fmt.Sprintf("%s/trips/%d/skipped", n.cfg.TopicPrefix, ev.TripID)
	case lifecycle.BatchScheduledEvent:
		return fmt.Sprintf("%s/trips/%d/scheduled", n.cfg.TopicPrefix, ev.TripID)
	case lifecycle.EditBlockedEvent:
		return fmt.Sprintf("%s/trips/%d/edit_blocked", n.cfg.TopicPrefix, ev.TripID)
	}
	return ""
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}
