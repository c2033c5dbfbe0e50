//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package mqtt_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/mqtt"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/testutil/containers"
)

var broker *containers.MosquittoContainer

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	broker, err = containers.NewMosquittoContainer(ctx, nil)
	if err != nil {
		panic("failed to start MQTT broker: " + err.Error())
	}

	code := m.Run()

	_ = broker.Terminate(ctx)
	os.Exit(code)
}

type eventRecorder struct {
	events chan alerting.Event
}

func (r *eventRecorder) HandleEvent(_ context.Context, ev alerting.Event) ([]alert.Alert, error) {
	select {
	case r.events <- ev:
	default:
	}
	return nil, nil
}

func connect(t *testing.T, clientID, eventTopic, alertTopic string, h mqtt.EventHandler) *mqtt.Client {
	t.Helper()

	c, err := mqtt.NewClient(broker.Settings(clientID, eventTopic, alertTopic), h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Disconnect)
	return c
}

func TestMQTTIntegration_EventIngestion(t *testing.T) {
	rec := &eventRecorder{events: make(chan alerting.Event, 1)}
	c := connect(t, "ingest", "fleet/events", "", rec)
	require.Eventually(t, c.IsConnected, 5*time.Second, 50*time.Millisecond)

	// The subscription is made by the on-connect handler.
	payload := []byte(`{"equipamento":"TRK-01","status":"parado","time":45}`)
	require.Eventually(t, func() bool {
		if err := broker.Publish(t.Context(), "fleet/events", payload); err != nil {
			return false
		}
		select {
		case ev := <-rec.events:
			assert.Equal(t, "TRK-01", ev.Equipment)
			assert.Equal(t, "parado", ev.Data["status"])
			return true
		case <-time.After(500 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 100*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().Received, int64(1))
}

func TestMQTTIntegration_AlertPublishing(t *testing.T) {
	subCtx, cancel := context.WithCancel(t.Context())
	defer cancel()
	col, err := broker.Subscribe(subCtx, "alert-collector", "fleet/alerts/#")
	require.NoError(t, err)

	c := connect(t, "publisher", "", "fleet/alerts/#", nil)

	c.PublishAlert(&alert.Alert{
		ID:        "a1",
		Equipment: "TRK-01",
		Severity:  rules.SeverityHigh,
		Message:   "TRK-01 stopped",
	})

	got := col.Wait(1, 5*time.Second)
	require.Len(t, got["fleet/alerts/TRK-01"], 1)

	var a alert.Alert
	require.NoError(t, json.Unmarshal(got["fleet/alerts/TRK-01"][0], &a))
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, rules.SeverityHigh, a.Severity)
	assert.Equal(t, int64(1), c.Stats().Published)
}

func TestMQTTIntegration_ConnectCancelled(t *testing.T) {
	c, err := mqtt.NewClient(broker.Settings("cancelled", "fleet/events", ""), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, c.Connect(ctx))
}
