//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMosquittoContainer_PublishAndCollect(t *testing.T) {
	ctx := context.Background()

	broker, err := NewMosquittoContainer(ctx, nil)
	require.NoError(t, err, "failed to start broker")
	t.Cleanup(func() { assert.NoError(t, broker.Terminate(context.Background())) })

	settings := broker.Settings("alertcore", "fleet/events", "fleet/alerts/#")
	assert.Equal(t, broker.BrokerURL(), settings.Broker)
	assert.Equal(t, 1, settings.QoS)

	subCtx, cancel := context.WithCancel(t.Context())
	defer cancel()
	col, err := broker.Subscribe(subCtx, "collector", "fleet/alerts/#")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "fleet/alerts/TRK-01", []byte(`{"id":"a1"}`)))
	require.NoError(t, broker.Publish(ctx, "fleet/alerts/TRK-02", []byte(`{"id":"a2"}`)))

	got := col.Wait(2, 5*time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, []byte(`{"id":"a1"}`), got["fleet/alerts/TRK-01"][0])
}

func TestMosquittoContainer_CreateClientCancelled(t *testing.T) {
	ctx := context.Background()

	broker, err := NewMosquittoContainer(ctx, nil)
	require.NoError(t, err, "failed to start broker")
	t.Cleanup(func() { assert.NoError(t, broker.Terminate(context.Background())) })

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = broker.CreateClient(cancelled, "cancelled")
	assert.Error(t, err)
}
