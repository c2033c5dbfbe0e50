package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
)

type sentMessage struct {
	message string
	title   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	errs []error
}

func (f *fakeSender) Send(message string, params *types.Params) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	title := ""
	if params != nil {
		title = (*params)["title"]
	}
	f.sent = append(f.sent, sentMessage{message: message, title: title})
	return f.errs
}

func testAlert(sev rules.Severity) *alert.Alert {
	a := &alert.Alert{
		ID:              "a1",
		Equipment:       "TRK-01",
		EquipmentGroups: []string{"Haul"},
		RuleName:        "Long stop",
		Severity:        sev,
		Message:         "TRK-01 stopped for 45 min",
		Duration:        45,
		Status:          alert.StatusActive,
	}
	a.Timestamp.Time = time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	return a
}

func TestNew_RequiresURLs(t *testing.T) {
	t.Parallel()

	_, err := New(conf.NotifySettings{}, nil)
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = New(conf.NotifySettings{URLs: []string{"notaservice://x"}}, nil)
	require.Error(t, err)
}

func TestNotifier_ShouldNotify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		minSeverity string
		severity    rules.Severity
		status      alert.Status
		want        bool
	}{
		{name: "above minimum", minSeverity: "HIGH", severity: rules.SeverityCritical, want: true},
		{name: "at minimum", minSeverity: "high", severity: rules.SeverityHigh, want: true},
		{name: "below minimum", minSeverity: "HIGH", severity: rules.SeverityMedium, want: false},
		{name: "empty minimum forwards all", severity: rules.SeverityLow, want: true},
		{name: "resolved alerts are skipped", minSeverity: "LOW", severity: rules.SeverityCritical, status: alert.StatusResolved, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := NewWithSender(&fakeSender{}, tt.minSeverity, nil)
			a := testAlert(tt.severity)
			if tt.status != "" {
				a.Status = tt.status
			}
			assert.Equal(t, tt.want, n.ShouldNotify(a))
		})
	}
}

func TestNotifier_Notify(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := NewWithSender(sender, "HIGH", nil)

	n.Notify(testAlert(rules.SeverityHigh))
	n.Notify(testAlert(rules.SeverityLow))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "[HIGH] Long stop - TRK-01", sender.sent[0].title)
	assert.Equal(t,
		"TRK-01 stopped for 45 min\nGroups: Haul\nDuration: 45.0 min\nAt: 2024-05-10T14:00:00Z",
		sender.sent[0].message)
	assert.Equal(t, Stats{Sent: 1, Filtered: 1}, n.Stats())
}

func TestNotifier_NotifyFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	sender := &fakeSender{errs: []error{nil, errors.New("ntfy unreachable")}}
	n := NewWithSender(sender, "", logger.NewZapLogger(zap.New(core)))

	n.Notify(testAlert(rules.SeverityCritical))

	assert.Equal(t, Stats{Failed: 1}, n.Stats())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to deliver alert notification", logs.All()[0].Message)
}

func TestTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[LOW] Alert", Title(&alert.Alert{Severity: rules.SeverityLow}))
	assert.Equal(t, "[MEDIUM] Idle - EXC-02",
		Title(&alert.Alert{Severity: rules.SeverityMedium, RuleName: "Idle", Equipment: "EXC-02"}))
}

func TestMessage_Merged(t *testing.T) {
	t.Parallel()

	a := &alert.Alert{Message: "stopped", MergedCount: 3}
	assert.Equal(t, "stopped\nMerged: 3 alerts", Message(a))
}
