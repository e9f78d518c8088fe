package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"metricwatch/internal/models"
)

// EnvPrefix prefixes environment overrides, e.g. METRICWATCH_TICK_PERIOD
const EnvPrefix = "METRICWATCH_"

// Config holds runtime configuration for the alarm engine.
type Config struct {
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`

	// Identifier of the monitored container, matched against snapshot aliases
	Target string `koanf:"target" validate:"required"`

	Source   SourceConfig   `koanf:"source"`
	Tick     TickConfig     `koanf:"tick"`
	Metrics  []MetricConfig `koanf:"metrics" validate:"dive"`
	History  HistoryConfig  `koanf:"history"`
	Alerts   AlertsConfig   `koanf:"alerts"`
	Capacity CapacityConfig `koanf:"capacity"`
	Archive  ArchiveConfig  `koanf:"archive"`
	HTTP     HTTPConfig     `koanf:"http"`
}

// SourceConfig locates the metrics source
type SourceConfig struct {
	BaseURL      string        `koanf:"base_url" validate:"required,url"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

// TickConfig controls the evaluation cadence
type TickConfig struct {
	Period         time.Duration `koanf:"period" validate:"gt=0"`
	DefaultWindow  time.Duration `koanf:"default_window" validate:"gt=0"`
	MaxConcurrency int           `koanf:"max_concurrency" validate:"gte=1,lte=64"`
	ActionTimeout  time.Duration `koanf:"action_timeout" validate:"gt=0"`
}

// MetricConfig is one metric as written in the config file
type MetricConfig struct {
	Name       string        `koanf:"name" validate:"required"`
	Area       string        `koanf:"area" validate:"required"`
	Path       []string      `koanf:"path" validate:"required,min=1,dive,required"`
	Threshold  float64       `koanf:"threshold"`
	Comparator string        `koanf:"comparator" validate:"required"`
	Window     time.Duration `koanf:"window" validate:"gte=0"`
}

// HistoryConfig selects where observation history is persisted
type HistoryConfig struct {
	Backend string      `koanf:"backend" validate:"oneof=file redis"`
	Path    string      `koanf:"path" validate:"required_if=Backend file"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig holds the Redis history backend settings
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Key      string        `koanf:"key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AlertsConfig enables alert sinks; any combination may be set
type AlertsConfig struct {
	Slack SlackConfig `koanf:"slack"`
	Kafka KafkaConfig `koanf:"kafka"`
	NATS  NATSConfig  `koanf:"nats"`
}

// SlackConfig holds the incoming webhook address
type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`
}

// KafkaConfig holds the alarm event topic settings
type KafkaConfig struct {
	Brokers  []string       `koanf:"brokers"`
	Topic    string         `koanf:"topic"`
	Producer ProducerConfig `koanf:"producer"`
}

// ProducerConfig tunes the Kafka writer. MaxRetries is 0 by default, so an
// alarm event gets one write attempt unless retries are configured.
type ProducerConfig struct {
	WriteTimeout time.Duration `koanf:"write_timeout"`
	RequiredAcks int           `koanf:"required_acks" validate:"oneof=-1 0 1"`
	Compression  string        `koanf:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	MaxRetries   int           `koanf:"max_retries" validate:"gte=0"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// NATSConfig holds the alarm event subject settings
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject" validate:"required_with=URL"`
}

// CapacityConfig enables remediation through an Auto Scaling group
type CapacityConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Region    string   `koanf:"region"`
	GroupName string   `koanf:"group_name" validate:"required_if=Enabled true"`
	Endpoint  string   `koanf:"endpoint" validate:"omitempty,url"`
	Metrics   []string `koanf:"metrics"`
}

// ArchiveConfig enables uploading history to object storage when an alarm fires
type ArchiveConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Bucket   string `koanf:"bucket" validate:"required_if=Enabled true"`
	Key      string `koanf:"key"`
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint" validate:"omitempty,url"`
}

// HTTPConfig holds the status server settings; an empty Addr disables it
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Target:   "app",
		Source: SourceConfig{
			BaseURL:      "http://localhost:8080/api/v1.3/docker",
			Timeout:      10 * time.Second,
			MaxBodyBytes: 32 << 20,
		},
		Tick: TickConfig{
			Period:         time.Minute,
			DefaultWindow:  3 * time.Minute,
			MaxConcurrency: 4,
			ActionTimeout:  30 * time.Second,
		},
		History: HistoryConfig{
			Backend: "file",
			Path:    "metric_values.json",
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Key:     "metricwatch:history",
				Timeout: 5 * time.Second,
			},
		},
		Alerts: AlertsConfig{
			Kafka: KafkaConfig{
				Topic: "metricwatch.alarms",
				Producer: ProducerConfig{
					WriteTimeout: 10 * time.Second,
					RequiredAcks: 1,
					Compression:  "snappy",
					MaxRetries:   0,
					RetryBackoff: 100 * time.Millisecond,
				},
			},
			NATS: NATSConfig{
				Subject: "metricwatch.alarms",
			},
		},
		Capacity: CapacityConfig{
			Metrics: []string{"cpu_usage_total"},
		},
		Archive: ArchiveConfig{
			Key: "metric_values.json",
		},
		HTTP: HTTPConfig{
			Addr: ":9102",
		},
	}
}

// DefaultMetrics is used when the config lists no metrics
func DefaultMetrics() []MetricConfig {
	return []MetricConfig{
		{
			Name:       "cpu_usage_total",
			Area:       "cpu",
			Path:       []string{"usage", "total"},
			Threshold:  500,
			Comparator: string(models.GreaterThan),
			Window:     3 * time.Minute,
		},
	}
}

// Load layers defaults, the YAML file at path (optional when empty or
// missing) and METRICWATCH_ environment variables, then validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Metrics) == 0 {
		cfg.Metrics = DefaultMetrics()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps METRICWATCH_TICK_MAX_CONCURRENCY to tick.max_concurrency.
// Underscores inside a leaf key are kept, so sections are matched by prefix.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return strings.ReplaceAll(section, "_", ".") + "." + rest
		}
	}
	return key
}

// envSections is ordered longest first
var envSections = []string{
	"alerts_kafka_producer",
	"alerts_slack",
	"alerts_kafka",
	"alerts_nats",
	"history_redis",
	"capacity",
	"archive",
	"history",
	"source",
	"tick",
	"http",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the metric definitions
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Definitions(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Definitions converts the configured metrics into validated, normalized definitions
func (c *Config) Definitions() ([]models.MetricDefinition, error) {
	defs := make([]models.MetricDefinition, 0, len(c.Metrics))
	for _, m := range c.Metrics {
		def := models.MetricDefinition{
			Name:       m.Name,
			Area:       m.Area,
			Path:       append([]string(nil), m.Path...),
			Threshold:  thresholdNumber(m.Threshold),
			Comparator: models.Comparator(m.Comparator),
			Window:     m.Window,
		}
		def.Normalize(c.Tick.DefaultWindow)
		defs = append(defs, def)
	}
	if err := models.ValidateDefinitions(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// thresholdNumber keeps integral thresholds as integers so that comparisons
// against integer counters stay exact
func thresholdNumber(v float64) models.Number {
	if i, exact := models.Float(v).Int64(); exact {
		return models.Int(i)
	}
	return models.Float(v)
}

// ConfigFileFromEnv returns METRICWATCH_CONFIG or fallback
func ConfigFileFromEnv(fallback string) string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return fallback
}
