// Package mqtt bridges an MQTT broker to the alerting pipeline: events
// received on the event topic are handled by the engine and emitted alerts
// are published to the alert topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
)

const (
	disconnectQuiesce = 250 // ms
	defaultTimeout    = 10 * time.Second
)

// EventHandler runs one event through the pipeline.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev alerting.Event) ([]alert.Alert, error)
}

// pahoClient is the subset of paho.Client used here.
type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Stats counts bridge traffic.
type Stats struct {
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// Client is the MQTT bridge.
type Client struct {
	settings conf.MQTTSettings
	handler  EventHandler
	log      logger.Logger
	client   pahoClient

	mu        sync.Mutex
	connected bool

	received  atomic.Int64
	rejected  atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
}

// NewClient builds a bridge for settings. handler may be nil for a
// publish-only client.
func NewClient(settings conf.MQTTSettings, handler EventHandler, log logger.Logger) (*Client, error) {
	if settings.Broker == "" {
		return nil, errors.NewValidationError("mqtt.broker", "broker URL is required")
	}
	c := newClient(settings, handler, log)

	opts := paho.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	opts.SetConnectTimeout(c.timeout())
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	// Subscriptions do not survive a clean-session reconnect.
	opts.SetOnConnectHandler(func(paho.Client) {
		if err := c.subscribe(); err != nil {
			c.log.Error("failed to subscribe after connect", logger.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("connection to broker lost", logger.Error(err))
	})

	c.client = paho.NewClient(opts)
	return c, nil
}

func newClient(settings conf.MQTTSettings, handler EventHandler, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		settings: settings,
		handler:  handler,
		log:      log.With(logger.Component("mqtt"), logger.String("broker", settings.Broker)),
	}
}

func (c *Client) timeout() time.Duration {
	if d := c.settings.Timeout.Std(); d > 0 {
		return d
	}
	return defaultTimeout
}

// Connect connects to the broker and subscribes to the event topic.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if err := wait(ctx, c.client.Connect(), c.timeout()); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.settings.Broker, err)
	}
	c.connected = true
	c.log.Info("connected to broker",
		logger.String("event_topic", c.settings.EventTopic),
		logger.String("alert_topic", c.settings.AlertTopic))
	return nil
}

func (c *Client) subscribe() error {
	if c.handler == nil || c.settings.EventTopic == "" {
		return nil
	}
	token := c.client.Subscribe(c.settings.EventTopic, c.qos(), c.onMessage)
	if !token.WaitTimeout(c.timeout()) {
		return fmt.Errorf("subscribe to %s timed out", c.settings.EventTopic)
	}
	return token.Error()
}

func (c *Client) qos() byte {
	if c.settings.QoS < 0 || c.settings.QoS > 2 {
		return 0
	}
	return byte(c.settings.QoS)
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.client.Disconnect(disconnectQuiesce)
	c.connected = false
	c.log.Info("disconnected from broker")
}

// onMessage decodes an event and hands it to the engine. Payloads without a
// "data" object are treated as the event data itself.
func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.received.Add(1)

	ev, err := DecodeEvent(msg.Payload())
	if err != nil {
		c.rejected.Add(1)
		c.log.Warn("rejected event payload",
			logger.String("topic", msg.Topic()),
			logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()
	emitted, err := c.handler.HandleEvent(ctx, ev)
	if err != nil {
		c.log.Error("event handled with errors",
			logger.String("equipment", ev.Equipment),
			logger.Error(err))
		return
	}
	if len(emitted) > 0 {
		c.log.Debug("event emitted alerts",
			logger.String("equipment", ev.Equipment),
			logger.Int("count", len(emitted)))
	}
}

// DecodeEvent parses an MQTT event payload.
func DecodeEvent(payload []byte) (alerting.Event, error) {
	var ev alerting.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("invalid event JSON: %w", err)
	}
	if ev.Data == nil {
		var data alerting.Data
		if err := json.Unmarshal(payload, &data); err != nil {
			return ev, fmt.Errorf("invalid event JSON: %w", err)
		}
		ev.Data = data
	}
	if ev.Equipment == "" {
		if name, ok := ev.Data["equipamento"].(string); ok {
			ev.Equipment = name
		}
	}
	if len(ev.Data) == 0 {
		return ev, errors.NewValidationError("data", "event data is empty")
	}
	return ev, nil
}

// AlertTopic returns the topic alerts for a are published to. A trailing
// "/#" or "/+" in the configured topic is replaced by the equipment name.
func (c *Client) AlertTopic(a *alert.Alert) string {
	topic := c.settings.AlertTopic
	for _, wildcard := range []string{"/#", "/+"} {
		if base, ok := strings.CutSuffix(topic, wildcard); ok {
			equip := a.Equipment
			if equip == "" {
				equip = "unknown"
			}
			return base + "/" + equip
		}
	}
	return topic
}

// PublishAlert publishes a as JSON to the alert topic. It is an
// alerting.AlertHandler and does nothing when no alert topic is set.
func (c *Client) PublishAlert(a *alert.Alert) {
	if c.settings.AlertTopic == "" {
		return
	}
	if err := c.Publish(context.Background(), c.AlertTopic(a), a); err != nil {
		c.log.Warn("failed to publish alert",
			logger.String("alert_id", a.ID),
			logger.Error(err))
	}
}

// Publish marshals v and publishes it to topic.
func (c *Client) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		c.failed.Add(1)
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if !c.client.IsConnected() {
		c.failed.Add(1)
		return errors.New("not connected to broker")
	}
	if err := wait(ctx, c.client.Publish(topic, c.qos(), c.settings.Retain, payload), c.timeout()); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	c.published.Add(1)
	return nil
}

// Stats returns the traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Rejected:  c.rejected.Load(),
		Published: c.published.Load(),
		Failed:    c.failed.Load(),
	}
}

// wait blocks until token completes, ctx ends or timeout passes.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("operation timed out")
	}
}
