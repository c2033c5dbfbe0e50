package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Duration
		wantErr bool
	}{
		{name: "go duration", input: `"15m"`, want: Duration(15 * time.Minute)},
		{name: "compound", input: `"1h30m"`, want: Duration(90 * time.Minute)},
		{name: "rule cooldown in millis", input: `1800000`, want: Duration(30 * time.Minute)},
		{name: "fractional millis", input: `0.5`, want: Duration(500 * time.Microsecond)},
		{name: "numeric string", input: `"100"`, want: Duration(100 * time.Millisecond)},
		{name: "null resets", input: `null`, want: 0},
		{name: "garbage", input: `"soon"`, wantErr: true},
		{name: "bool", input: `false`, wantErr: true},
		{name: "object", input: `{"minutes":5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Second)
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(EvaluatorSettings{
		CacheTimeout: Duration(time.Minute),
		RegexTimeout: Duration(100 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"cache_timeout":"1m0s"`)
	assert.Contains(t, string(out), `"regex_timeout":"100ms"`)

	var back EvaluatorSettings
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, Duration(time.Minute), back.CacheTimeout)
	assert.Equal(t, Duration(100*time.Millisecond), back.RegexTimeout)
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	var s DedupSettings
	require.NoError(t, yaml.Unmarshal([]byte("lookback: 2h\n"), &s))
	assert.Equal(t, Duration(2*time.Hour), s.Lookback)

	var ms DedupSettings
	require.NoError(t, yaml.Unmarshal([]byte("lookback: 60000\n"), &ms))
	assert.Equal(t, Duration(time.Minute), ms.Lookback)

	var bad DedupSettings
	assert.Error(t, yaml.Unmarshal([]byte("lookback: [1, 2]\n"), &bad))
	assert.Error(t, yaml.Unmarshal([]byte("lookback: later\n"), &bad))

	out, err := yaml.Marshal(DatastoreSettings{Driver: "sqlite", Retention: Duration(720 * time.Hour)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "retention: 720h0m0s")
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var out struct {
		Timeout  Duration      `mapstructure:"timeout"`
		Lookback Duration      `mapstructure:"lookback"`
		TTL      Duration      `mapstructure:"ttl"`
		Plain    time.Duration `mapstructure:"plain"`
		URLs     []string      `mapstructure:"urls"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &out,
	})
	require.NoError(t, err)

	require.NoError(t, dec.Decode(map[string]any{
		"timeout":  "10s",
		"lookback": 3600000,
		"ttl":      250.0,
		"plain":    "45s",
		"urls":     "ntfy://a/topic,ntfy://b/topic",
	}))
	assert.Equal(t, Duration(10*time.Second), out.Timeout)
	assert.Equal(t, Duration(time.Hour), out.Lookback)
	assert.Equal(t, Duration(250*time.Millisecond), out.TTL)
	assert.Equal(t, 45*time.Second, out.Plain)
	assert.Equal(t, []string{"ntfy://a/topic", "ntfy://b/topic"}, out.URLs)

	err = dec.Decode(map[string]any{"timeout": "eventually"})
	assert.Error(t, err)
}

func TestDuration_Std(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Minute, Duration(5*time.Minute).Std())
	assert.Equal(t, "5m0s", Duration(5*time.Minute).String())
}
