//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fleetpulse/alertcore/internal/conf"
)

const (
	mosquittoPort       = "1883/tcp"
	mosquittoConfigPath = "/mosquitto/config/alertcore.conf"
	mosquittoConfig     = "listener 1883\nallow_anonymous true\n"
)

// MosquittoContainer is a disposable Eclipse Mosquitto broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// MosquittoConfig selects the broker image.
type MosquittoConfig struct {
	ImageTag string
}

// DefaultMosquittoConfig returns the 2.0 image.
func DefaultMosquittoConfig() MosquittoConfig {
	return MosquittoConfig{ImageTag: "2.0"}
}

// NewMosquittoContainer starts an anonymous-access broker and waits until
// it accepts MQTT connections. A nil config uses DefaultMosquittoConfig.
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	if config == nil {
		defaultCfg := DefaultMosquittoConfig()
		config = &defaultCfg
	}

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + config.ImageTag,
		ExposedPorts: []string{mosquittoPort},
		Cmd:          []string{"mosquitto", "-c", mosquittoConfigPath},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConfig),
			ContainerFilePath: mosquittoConfigPath,
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, mosquittoPort)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	mc := &MosquittoContainer{
		container: container,
		brokerURL: "tcp://" + net.JoinHostPort(host, strconv.Itoa(mapped.Int())),
	}
	if err := retry(ctx, 5, 200*time.Millisecond, 2*time.Second, func() error {
		return mc.HealthCheck(ctx)
	}); err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("broker health check failed: %w", err)
	}
	return mc, nil
}

// BrokerURL returns the tcp:// URL of the broker.
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// Settings returns MQTT settings pointing at the broker with the given
// client ID and topics.
func (c *MosquittoContainer) Settings(clientID, eventTopic, alertTopic string) conf.MQTTSettings {
	return conf.MQTTSettings{
		Enabled:    true,
		Broker:     c.brokerURL,
		ClientID:   clientID,
		EventTopic: eventTopic,
		AlertTopic: alertTopic,
		QoS:        1,
		Timeout:    conf.Duration(10 * time.Second),
	}
}

// HealthCheck connects and disconnects a throwaway client.
func (c *MosquittoContainer) HealthCheck(ctx context.Context) error {
	client, err := c.CreateClient(ctx, "alertcore-healthcheck")
	if err != nil {
		return err
	}
	client.Disconnect(250)
	return nil
}

// CreateClient returns a raw paho client connected to the broker. The
// caller disconnects it.
func (c *MosquittoContainer) CreateClient(ctx context.Context, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.brokerURL)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return client, nil
}

// Collector gathers the payloads received on a subscription.
type Collector struct {
	mu       sync.Mutex
	messages map[string][][]byte
	notify   chan struct{}
}

// Subscribe subscribes a new client to topic and collects every message.
// The client is disconnected when ctx ends.
func (c *MosquittoContainer) Subscribe(ctx context.Context, clientID, topic string) (*Collector, error) {
	client, err := c.CreateClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	col := &Collector{messages: make(map[string][][]byte), notify: make(chan struct{}, 1)}
	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		col.mu.Lock()
		col.messages[msg.Topic()] = append(col.messages[msg.Topic()], msg.Payload())
		col.mu.Unlock()
		select {
		case col.notify <- struct{}{}:
		default:
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return col, nil
}

// Wait blocks until at least n messages arrived or timeout passes and
// returns what was collected, keyed by topic.
func (col *Collector) Wait(n int, timeout time.Duration) map[string][][]byte {
	deadline := time.After(timeout)
	for {
		snapshot, total := col.snapshot()
		if total >= n {
			return snapshot
		}
		select {
		case <-col.notify:
		case <-deadline:
			snapshot, _ = col.snapshot()
			return snapshot
		}
	}
}

func (col *Collector) snapshot() (map[string][][]byte, int) {
	col.mu.Lock()
	defer col.mu.Unlock()
	out := make(map[string][][]byte, len(col.messages))
	total := 0
	for topic, msgs := range col.messages {
		out[topic] = append([][]byte(nil), msgs...)
		total += len(msgs)
	}
	return out, total
}

// Publish sends payload to topic with a fresh client.
func (c *MosquittoContainer) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := c.CreateClient(ctx, fmt.Sprintf("alertcore-publisher-%d", time.Now().UnixNano()))
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Terminate stops and removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
