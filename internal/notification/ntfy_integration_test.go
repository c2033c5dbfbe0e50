//go:build integration

package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/notification"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/testutil/containers"
)

func TestNtfyDelivery(t *testing.T) {
	ctx := context.Background()
	server, err := containers.NewNtfyContainer(ctx)
	require.NoError(t, err, "failed to start ntfy container")
	t.Cleanup(func() { _ = server.Terminate(context.Background()) })

	tests := []struct {
		name     string
		severity rules.Severity
		message  string
		want     int
	}{
		{name: "critical alert delivered", severity: rules.SeverityCritical, message: "EXC-01 engine at 118°C", want: 1},
		{name: "low alert filtered", severity: rules.SeverityLow, message: "TRK-03 idle", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := "alertcore-" + uuid.NewString()[:8]
			n, err := notification.New(server.Settings(topic, "HIGH"), nil)
			require.NoError(t, err)

			a := &alert.Alert{
				ID:        uuid.NewString(),
				Equipment: "EXC-01",
				RuleName:  "Engine overheating",
				Severity:  tt.severity,
				Message:   tt.message,
				Status:    alert.StatusActive,
			}
			a.Timestamp.Time = time.Now()
			n.Notify(a)

			messages, err := server.PollMessages(ctx, topic)
			require.NoError(t, err)
			require.Len(t, messages, tt.want)
			if tt.want > 0 {
				assert.Contains(t, messages[0].Message, tt.message)
				assert.Equal(t, notification.Title(a), messages[0].Title)
				assert.Equal(t, int64(1), n.Stats().Sent)
			}
		})
	}
}
