// Package conf loads and validates alertcore configuration.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/fleetpulse/alertcore/internal/errors"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// ALERTCORE_DEDUP_STRATEGY=smart.
const EnvPrefix = "ALERTCORE"

// Settings is the root configuration.
type Settings struct {
	Evaluator EvaluatorSettings `mapstructure:"evaluator" yaml:"evaluator" json:"evaluator"`
	Dedup     DedupSettings     `mapstructure:"dedup" yaml:"dedup" json:"dedup"`
	Equipment EquipmentSettings `mapstructure:"equipment" yaml:"equipment" json:"equipment"`
	Datastore DatastoreSettings `mapstructure:"datastore" yaml:"datastore" json:"datastore"`
	Server    ServerSettings    `mapstructure:"server" yaml:"server" json:"server"`
	Logging   LoggingSettings   `mapstructure:"logging" yaml:"logging" json:"logging"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	MQTT      MQTTSettings      `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	Notify    NotifySettings    `mapstructure:"notify" yaml:"notify" json:"notify"`
}

// EvaluatorSettings configures rule evaluation and condition tree validation.
type EvaluatorSettings struct {
	CacheTimeout         Duration `mapstructure:"cache_timeout" yaml:"cache_timeout" json:"cache_timeout"`
	MaxCacheSize         int      `mapstructure:"max_cache_size" yaml:"max_cache_size" json:"max_cache_size"`
	MaxDepth             int      `mapstructure:"max_depth" yaml:"max_depth" json:"max_depth"`
	MaxConditions        int      `mapstructure:"max_conditions" yaml:"max_conditions" json:"max_conditions"`
	AllowEmptyConditions bool     `mapstructure:"allow_empty_conditions" yaml:"allow_empty_conditions" json:"allow_empty_conditions"`
	StrictMode           bool     `mapstructure:"strict_mode" yaml:"strict_mode" json:"strict_mode"`
	RegexTimeout         Duration `mapstructure:"regex_timeout" yaml:"regex_timeout" json:"regex_timeout"`
	MinBaselineSamples   int      `mapstructure:"min_baseline_samples" yaml:"min_baseline_samples" json:"min_baseline_samples"`
}

// DedupSettings configures the alert deduplicator.
type DedupSettings struct {
	Strategy            string   `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	WindowMinutes       int      `mapstructure:"window_minutes" yaml:"window_minutes" json:"window_minutes"`
	SimilarityThreshold float64  `mapstructure:"similarity_threshold" yaml:"similarity_threshold" json:"similarity_threshold"`
	DurationTolerance   float64  `mapstructure:"duration_tolerance" yaml:"duration_tolerance" json:"duration_tolerance"`
	EnableMerge         bool     `mapstructure:"enable_merge" yaml:"enable_merge" json:"enable_merge"`
	NormalizeCacheSize  int      `mapstructure:"normalize_cache_size" yaml:"normalize_cache_size" json:"normalize_cache_size"`
	Lookback            Duration `mapstructure:"lookback" yaml:"lookback" json:"lookback"`
}

// EquipmentSettings configures the built-in equipment group classifier.
// Groups maps a group name to the name patterns of its members.
type EquipmentSettings struct {
	Groups   map[string][]string `mapstructure:"groups" yaml:"groups" json:"groups"`
	CacheTTL Duration            `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"`
}

// DatastoreSettings selects the rule and alert store.
type DatastoreSettings struct {
	Driver    string   `mapstructure:"driver" yaml:"driver" json:"driver"` // sqlite or mysql
	DSN       string   `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Retention Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Listen      string   `mapstructure:"listen" yaml:"listen" json:"listen"`
	ReadTimeout Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level       string `mapstructure:"level" yaml:"level" json:"level"`
	Format      string `mapstructure:"format" yaml:"format" json:"format"`
	Development bool   `mapstructure:"development" yaml:"development" json:"development"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN   string `mapstructure:"sentry_dsn" yaml:"sentry_dsn" json:"sentry_dsn"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// MQTTSettings configures event ingestion from and alert publishing to an
// MQTT broker.
type MQTTSettings struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker     string   `mapstructure:"broker" yaml:"broker" json:"broker"`
	ClientID   string   `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Username   string   `mapstructure:"username" yaml:"username" json:"username"`
	Password   string   `mapstructure:"password" yaml:"password" json:"-"`
	EventTopic string   `mapstructure:"event_topic" yaml:"event_topic" json:"event_topic"`
	AlertTopic string   `mapstructure:"alert_topic" yaml:"alert_topic" json:"alert_topic"`
	QoS        int      `mapstructure:"qos" yaml:"qos" json:"qos"`
	Retain     bool     `mapstructure:"retain" yaml:"retain" json:"retain"`
	Timeout    Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// NotifySettings configures alert notifications. URLs are shoutrrr service
// URLs such as ntfy://host/topic.
type NotifySettings struct {
	URLs        []string `mapstructure:"urls" yaml:"urls" json:"urls"`
	MinSeverity string   `mapstructure:"min_severity" yaml:"min_severity" json:"min_severity"`
	Timeout     Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Settings {
	return &Settings{
		Evaluator: EvaluatorSettings{
			CacheTimeout:       Duration(time.Minute),
			MaxCacheSize:       1000,
			MaxDepth:           5,
			MaxConditions:      50,
			RegexTimeout:       Duration(100 * time.Millisecond),
			MinBaselineSamples: 5,
		},
		Dedup: DedupSettings{
			Strategy:            "hash",
			WindowMinutes:       5,
			SimilarityThreshold: 0.9,
			DurationTolerance:   5,
			NormalizeCacheSize:  2048,
			Lookback:            Duration(24 * time.Hour),
		},
		Equipment: EquipmentSettings{
			CacheTTL: Duration(10 * time.Minute),
		},
		Datastore: DatastoreSettings{
			Driver:    "sqlite",
			DSN:       "alertcore.db",
			Retention: Duration(30 * 24 * time.Hour),
		},
		Server: ServerSettings{
			Listen:      ":8080",
			ReadTimeout: Duration(15 * time.Second),
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
		MQTT: MQTTSettings{
			ClientID:   "alertcore",
			EventTopic: "alertcore/events",
			QoS:        1,
			Timeout:    Duration(10 * time.Second),
		},
		Notify: NotifySettings{
			MinSeverity: "HIGH",
			Timeout:     Duration(30 * time.Second),
		},
	}
}

// setDefaults registers every default with v so environment overrides
// resolve even when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("evaluator.cache_timeout", d.Evaluator.CacheTimeout.String())
	v.SetDefault("evaluator.max_cache_size", d.Evaluator.MaxCacheSize)
	v.SetDefault("evaluator.max_depth", d.Evaluator.MaxDepth)
	v.SetDefault("evaluator.max_conditions", d.Evaluator.MaxConditions)
	v.SetDefault("evaluator.allow_empty_conditions", d.Evaluator.AllowEmptyConditions)
	v.SetDefault("evaluator.strict_mode", d.Evaluator.StrictMode)
	v.SetDefault("evaluator.regex_timeout", d.Evaluator.RegexTimeout.String())
	v.SetDefault("evaluator.min_baseline_samples", d.Evaluator.MinBaselineSamples)

	v.SetDefault("dedup.strategy", d.Dedup.Strategy)
	v.SetDefault("dedup.window_minutes", d.Dedup.WindowMinutes)
	v.SetDefault("dedup.similarity_threshold", d.Dedup.SimilarityThreshold)
	v.SetDefault("dedup.duration_tolerance", d.Dedup.DurationTolerance)
	v.SetDefault("dedup.enable_merge", d.Dedup.EnableMerge)
	v.SetDefault("dedup.normalize_cache_size", d.Dedup.NormalizeCacheSize)
	v.SetDefault("dedup.lookback", d.Dedup.Lookback.String())

	v.SetDefault("equipment.cache_ttl", d.Equipment.CacheTTL.String())

	v.SetDefault("datastore.driver", d.Datastore.Driver)
	v.SetDefault("datastore.dsn", d.Datastore.DSN)
	v.SetDefault("datastore.retention", d.Datastore.Retention.String())

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.development", d.Logging.Development)

	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "")

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.event_topic", d.MQTT.EventTopic)
	v.SetDefault("mqtt.alert_topic", "")
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.retain", d.MQTT.Retain)
	v.SetDefault("mqtt.timeout", d.MQTT.Timeout.String())

	v.SetDefault("notify.min_severity", d.Notify.MinSeverity)
	v.SetDefault("notify.timeout", d.Notify.Timeout.String())
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook()), func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

var validStrategies = map[string]struct{}{
	"hash": {}, "id": {}, "content": {}, "time": {}, "smart": {},
}

// Validate checks value ranges and enumerations.
func (s *Settings) Validate() error {
	verr := errors.NewValidationError("config")

	if s.Evaluator.MaxDepth < 1 {
		verr.Add("evaluator.max_depth must be at least 1, got %d", s.Evaluator.MaxDepth)
	}
	if s.Evaluator.MaxConditions < 1 {
		verr.Add("evaluator.max_conditions must be at least 1, got %d", s.Evaluator.MaxConditions)
	}
	if s.Evaluator.MaxCacheSize < 0 {
		verr.Add("evaluator.max_cache_size must not be negative")
	}
	if s.Evaluator.CacheTimeout < 0 {
		verr.Add("evaluator.cache_timeout must not be negative")
	}

	if _, ok := validStrategies[strings.ToLower(s.Dedup.Strategy)]; !ok {
		verr.Add("dedup.strategy %q is not one of hash, id, content, time, smart", s.Dedup.Strategy)
	}
	if s.Dedup.WindowMinutes < 1 {
		verr.Add("dedup.window_minutes must be at least 1, got %d", s.Dedup.WindowMinutes)
	}
	if s.Dedup.SimilarityThreshold < 0 || s.Dedup.SimilarityThreshold > 1 {
		verr.Add("dedup.similarity_threshold must be within [0,1], got %g", s.Dedup.SimilarityThreshold)
	}
	if s.Dedup.DurationTolerance < 0 {
		verr.Add("dedup.duration_tolerance must not be negative")
	}

	switch strings.ToLower(s.Datastore.Driver) {
	case "sqlite", "mysql":
	default:
		verr.Add("datastore.driver %q is not one of sqlite, mysql", s.Datastore.Driver)
	}

	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			verr.Add("mqtt.broker is required when mqtt is enabled")
		}
		if s.MQTT.EventTopic == "" {
			verr.Add("mqtt.event_topic is required when mqtt is enabled")
		}
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		verr.Add("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
	}

	switch strings.ToUpper(s.Notify.MinSeverity) {
	case "", "LOW", "MEDIUM", "HIGH", "CRITICAL":
	default:
		verr.Add("notify.min_severity %q is not one of LOW, MEDIUM, HIGH, CRITICAL", s.Notify.MinSeverity)
	}

	if verr.HasIssues() {
		return verr
	}
	return nil
}
