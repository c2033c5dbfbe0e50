package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePaho struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishTok paho.Token
	subscribed map[string]paho.MessageHandler
	published  []published
}

func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr == nil {
		f.connected = true
	}
	return completedToken(f.connectErr)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribed == nil {
		f.subscribed = make(map[string]paho.MessageHandler)
	}
	f.subscribed[topic] = cb
	return completedToken(nil)
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, retained, payload.([]byte)})
	if f.publishTok != nil {
		return f.publishTok
	}
	return completedToken(nil)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type recordingHandler struct {
	mu     sync.Mutex
	events []alerting.Event
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev alerting.Event) ([]alert.Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return []alert.Alert{{ID: "a1", Equipment: ev.Equipment}}, h.err
}

func testSettings() conf.MQTTSettings {
	return conf.MQTTSettings{
		Enabled:    true,
		Broker:     "tcp://broker:1883",
		ClientID:   "alertcore-test",
		EventTopic: "fleet/events",
		AlertTopic: "fleet/alerts",
		QoS:        1,
		Timeout:    conf.Duration(time.Second),
	}
}

func newTestClient(settings conf.MQTTSettings, h EventHandler, log logger.Logger) (*Client, *fakePaho) {
	fake := &fakePaho{}
	c := newClient(settings, h, log)
	c.client = fake
	return c, fake
}

func TestNewClient_RequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(conf.MQTTSettings{}, nil, nil)
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)

	c, err := NewClient(testSettings(), nil, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
}

func TestClient_ConnectAndSubscribe(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	c, fake := newTestClient(testSettings(), h, nil)

	require.NoError(t, c.Connect(t.Context()))
	require.NoError(t, c.Connect(t.Context()), "second connect is a no-op")
	assert.True(t, c.IsConnected())

	require.NoError(t, c.subscribe())
	require.Contains(t, fake.subscribed, "fleet/events")

	c.Disconnect()
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestClient_ConnectFailure(t *testing.T) {
	t.Parallel()

	c, fake := newTestClient(testSettings(), nil, nil)
	fake.connectErr = errors.New("refused")

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestClient_SubscribeSkippedWithoutHandler(t *testing.T) {
	t.Parallel()

	c, fake := newTestClient(testSettings(), nil, nil)
	require.NoError(t, c.subscribe())
	assert.Empty(t, fake.subscribed)
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   string
		wantEquip string
		wantKey   string
		wantTime  time.Time
		wantErr   bool
	}{
		{
			name:      "envelope",
			payload:   `{"equipamento":"TRK-01","timestamp":"2024-05-10T14:00:00Z","data":{"status":"parado"}}`,
			wantEquip: "TRK-01",
			wantKey:   "status",
			wantTime:  time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC),
		},
		{
			name:      "envelope with epoch millis",
			payload:   `{"equipamento":"TRK-01","timestamp":1700000000000,"data":{"status":"parado"}}`,
			wantEquip: "TRK-01",
			wantKey:   "status",
			wantTime:  time.UnixMilli(1700000000000),
		},
		{
			name:      "bare data with epoch millis",
			payload:   `{"equipamento":"T-01","status":"on","timestamp":1700000000000}`,
			wantEquip: "T-01",
			wantKey:   "status",
			wantTime:  time.UnixMilli(1700000000000),
		},
		{name: "unparseable timestamp", payload: `{"equipamento":"T-01","timestamp":"someday","data":{"status":"on"}}`, wantErr: true},
		{
			name:      "bare data",
			payload:   `{"equipamento":"TRK-02","status":"parado","time":45}`,
			wantEquip: "TRK-02",
			wantKey:   "time",
		},
		{
			name:      "equipment from data",
			payload:   `{"data":{"equipamento":"EXC-01","apontamento":"Manutenção"}}`,
			wantEquip: "EXC-01",
			wantKey:   "apontamento",
		},
		{name: "invalid json", payload: `{"equipamento":`, wantErr: true},
		{name: "empty data", payload: `{"data":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := DecodeEvent([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEquip, ev.Equipment)
			assert.Contains(t, ev.Data, tt.wantKey)
			if !tt.wantTime.IsZero() {
				assert.True(t, tt.wantTime.Equal(ev.Timestamp), "timestamp %v", ev.Timestamp)
			}
		})
	}
}

func TestClient_OnMessage(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	h := &recordingHandler{}
	c, _ := newTestClient(testSettings(), h, logger.NewZapLogger(zap.New(core)))

	c.onMessage(nil, &fakeMessage{topic: "fleet/events", payload: []byte(`{"equipamento":"TRK-01","status":"parado"}`)})
	c.onMessage(nil, &fakeMessage{topic: "fleet/events", payload: []byte(`not json`)})

	require.Len(t, h.events, 1)
	assert.Equal(t, "TRK-01", h.events[0].Equipment)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(1), stats.Rejected)
	require.Equal(t, 1, logs.FilterMessage("rejected event payload").Len())
}

func TestClient_OnMessageHandlerError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	h := &recordingHandler{err: errors.New("db down")}
	c, _ := newTestClient(testSettings(), h, logger.NewZapLogger(zap.New(core)))

	c.onMessage(nil, &fakeMessage{payload: []byte(`{"equipamento":"TRK-01","status":"parado"}`)})
	assert.Equal(t, 1, logs.FilterMessage("event handled with errors").Len())
}

func TestClient_AlertTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		topic string
		equip string
		want  string
	}{
		{name: "fixed", topic: "fleet/alerts", equip: "TRK-01", want: "fleet/alerts"},
		{name: "multi-level wildcard", topic: "fleet/alerts/#", equip: "TRK-01", want: "fleet/alerts/TRK-01"},
		{name: "single-level wildcard", topic: "fleet/alerts/+", equip: "EXC-02", want: "fleet/alerts/EXC-02"},
		{name: "missing equipment", topic: "fleet/alerts/#", want: "fleet/alerts/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testSettings()
			s.AlertTopic = tt.topic
			c, _ := newTestClient(s, nil, nil)
			assert.Equal(t, tt.want, c.AlertTopic(&alert.Alert{Equipment: tt.equip}))
		})
	}
}

func TestClient_PublishAlert(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Retain = true
	c, fake := newTestClient(s, nil, nil)

	// Not connected yet.
	c.PublishAlert(&alert.Alert{ID: "a0"})
	assert.Equal(t, int64(1), c.Stats().Failed)

	require.NoError(t, c.Connect(t.Context()))
	c.PublishAlert(&alert.Alert{ID: "a1", Equipment: "TRK-01"})

	require.Len(t, fake.published, 1)
	p := fake.published[0]
	assert.Equal(t, "fleet/alerts", p.topic)
	assert.Equal(t, byte(1), p.qos)
	assert.True(t, p.retained)

	var got alert.Alert
	require.NoError(t, json.Unmarshal(p.payload, &got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, int64(1), c.Stats().Published)
}

func TestClient_PublishAlertWithoutTopic(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.AlertTopic = ""
	c, fake := newTestClient(s, nil, nil)
	require.NoError(t, c.Connect(t.Context()))

	c.PublishAlert(&alert.Alert{ID: "a1"})
	assert.Empty(t, fake.published)
}

func TestClient_PublishCancelled(t *testing.T) {
	t.Parallel()

	c, fake := newTestClient(testSettings(), nil, nil)
	require.NoError(t, c.Connect(t.Context()))
	fake.publishTok = pendingToken()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := c.Publish(ctx, "fleet/alerts", map[string]string{"k": "v"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), c.Stats().Failed)
}
