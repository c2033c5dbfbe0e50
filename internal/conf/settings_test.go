package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/alertcore/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, settings.Evaluator.CacheTimeout.Std())
	assert.Equal(t, 1000, settings.Evaluator.MaxCacheSize)
	assert.Equal(t, 5, settings.Evaluator.MaxDepth)
	assert.Equal(t, 50, settings.Evaluator.MaxConditions)
	assert.Equal(t, 100*time.Millisecond, settings.Evaluator.RegexTimeout.Std())
	assert.Equal(t, "hash", settings.Dedup.Strategy)
	assert.Equal(t, 5, settings.Dedup.WindowMinutes)
	assert.InDelta(t, 0.9, settings.Dedup.SimilarityThreshold, 1e-9)
	assert.Equal(t, "sqlite", settings.Datastore.Driver)
	assert.False(t, settings.MQTT.Enabled)
	assert.Equal(t, "alertcore/events", settings.MQTT.EventTopic)
	assert.Equal(t, "HIGH", settings.Notify.MinSeverity)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alertcore.yaml")
	content := `
evaluator:
  cache_timeout: 30s
  max_depth: 3
  regex_timeout: 250
dedup:
  strategy: smart
  enable_merge: true
equipment:
  groups:
    pumps: ["PUMP-*", "BOMBA"]
notify:
  urls: ["ntfy://ntfy.example.com/fleet"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ALERTCORE_DEDUP_WINDOW_MINUTES", "10")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, settings.Evaluator.CacheTimeout.Std())
	assert.Equal(t, 3, settings.Evaluator.MaxDepth)
	assert.Equal(t, 250*time.Millisecond, settings.Evaluator.RegexTimeout.Std(), "bare numbers are milliseconds")
	assert.Equal(t, "smart", settings.Dedup.Strategy)
	assert.True(t, settings.Dedup.EnableMerge)
	assert.Equal(t, 10, settings.Dedup.WindowMinutes)
	assert.Equal(t, []string{"PUMP-*", "BOMBA"}, settings.Equipment.Groups["pumps"])
	assert.Equal(t, []string{"ntfy://ntfy.example.com/fleet"}, settings.Notify.URLs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults are valid", func(*Settings) {}, ""},
		{"zero depth", func(s *Settings) { s.Evaluator.MaxDepth = 0 }, "evaluator.max_depth"},
		{"unknown strategy", func(s *Settings) { s.Dedup.Strategy = "fuzzy" }, "dedup.strategy"},
		{"threshold out of range", func(s *Settings) { s.Dedup.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"unknown driver", func(s *Settings) { s.Datastore.Driver = "postgres" }, "datastore.driver"},
		{"strategy is case insensitive", func(s *Settings) { s.Dedup.Strategy = "SMART" }, ""},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true }, "mqtt.broker"},
		{"mqtt enabled", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = "tcp://localhost:1883"
		}, ""},
		{"mqtt qos", func(s *Settings) { s.MQTT.QoS = 3 }, "mqtt.qos"},
		{"notify severity", func(s *Settings) { s.Notify.MinSeverity = "urgent" }, "notify.min_severity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
