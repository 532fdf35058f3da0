// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/YaganovValera/nodestream/pkg/backoff"
	"github.com/YaganovValera/nodestream/pkg/kafka"
	"github.com/YaganovValera/nodestream/pkg/redis"
	"github.com/YaganovValera/nodestream/pkg/stream"
	"github.com/YaganovValera/nodestream/pkg/topic"
)

// -----------------------------------------------------------------------------
// Структуры
// -----------------------------------------------------------------------------

type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Stream    StreamConfig    `mapstructure:"stream"`
	Kafka     kafka.Config    `mapstructure:"kafka"`
	Redis     redis.Config    `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`

	// Backoff: ретраи создания потребителя.
	Backoff backoff.Config `mapstructure:"backoff"`
}

// StreamConfig описывает, какой поток и под какой сессией читать.
//
// Session: пусто → взять из реестра или создать новую.
// Codec  : "json" | "bytes".
type StreamConfig struct {
	Addr         string        `mapstructure:"addr"`
	Kind         string        `mapstructure:"kind"`
	Epoch        uint64        `mapstructure:"epoch"`
	Session      string        `mapstructure:"session"`
	Codec        string        `mapstructure:"codec"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ResetOnStart bool          `mapstructure:"reset_on_start"`
}

// TelemetryConfig: пустой OTLPEndpoint отключает трейсинг.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otel_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// --- HTTP ---

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
	SessionPath     string        `mapstructure:"session_path"`
}

// SessionID разбирает stream.session; пустое значение даёт нулевую сессию.
func (s StreamConfig) SessionID() (stream.SessionID, error) {
	if s.Session == "" {
		return stream.SessionID{}, nil
	}
	return stream.ParseSessionID(s.Session)
}

// Topic возвращает имя топика текущей эпохи.
func (s StreamConfig) Topic() stream.TopicName {
	return topic.EpochTopicName(s.Kind, s.Epoch)
}

// -----------------------------------------------------------------------------
// Load
// -----------------------------------------------------------------------------

func Load(path string) (*Config, error) {
	v := viper.New()

	/* ---------- 1) defaults ---------- */

	v.SetDefault("service_name", "nodestream")
	v.SetDefault("service_version", "v0.1.0")

	// Stream
	v.SetDefault("stream.addr", "localhost:9092")
	v.SetDefault("stream.kind", "events")
	v.SetDefault("stream.epoch", 0)
	v.SetDefault("stream.session", "")
	v.SetDefault("stream.codec", "json")
	v.SetDefault("stream.poll_interval", "1s")
	v.SetDefault("stream.reset_on_start", false)

	// Kafka
	v.SetDefault("kafka.version", "2.8.0")
	v.SetDefault("kafka.client_id", "nodestream")
	v.SetDefault("kafka.max_wait", "500ms")
	v.SetDefault("kafka.max_poll_records", 500)
	v.SetDefault("kafka.tracing", false)

	// Redis (пустой url → реестр сессий отключён)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "0s")
	v.SetDefault("redis.backoff.initial_interval", "200ms")
	v.SetDefault("redis.backoff.max_interval", "2s")
	v.SetDefault("redis.backoff.max_elapsed_time", "10s")

	// Telemetry
	v.SetDefault("telemetry.otel_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP
	v.SetDefault("http.port", 8095)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")
	v.SetDefault("http.session_path", "/session")

	// Backoff создания потребителя
	v.SetDefault("backoff.initial_interval", "500ms")
	v.SetDefault("backoff.max_interval", "10s")
	v.SetDefault("backoff.max_elapsed_time", "1m")
	v.SetDefault("backoff.per_attempt_timeout", "15s")

	/* ---------- 2) env ---------- */

	v.SetEnvPrefix("NODESTREAM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	/* ---------- 3) optional file ---------- */

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	/* ---------- 4) decode ---------- */

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		func(f, t reflect.Kind, data interface{}) (interface{}, error) {
			if f == reflect.String && t == reflect.Bool {
				return strconv.ParseBool(data.(string))
			}
			return data, nil
		},
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &cfg,
		DecodeHook:       decodeHook,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	/* ---------- 5) validate ---------- */

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// -----------------------------------------------------------------------------
// Validation helpers
// -----------------------------------------------------------------------------

func (c *Config) Validate() error {
	// service
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	// stream
	if c.Stream.Addr == "" {
		return fmt.Errorf("stream.addr is required")
	}
	if err := topic.ValidateKind(c.Stream.Kind); err != nil {
		return fmt.Errorf("stream.kind: %w", err)
	}
	if _, err := c.Stream.SessionID(); err != nil {
		return fmt.Errorf("stream.session: %w", err)
	}
	switch strings.ToLower(c.Stream.Codec) {
	case "json", "bytes":
	default:
		return fmt.Errorf("stream.codec must be one of [json, bytes]")
	}
	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be > 0")
	}

	// kafka
	if c.Kafka.Version == "" {
		return fmt.Errorf("kafka.version is required")
	}
	if c.Kafka.MaxWait < 0 {
		return fmt.Errorf("kafka.max_wait must be ≥ 0")
	}
	if c.Kafka.MaxPollRecords < 0 {
		return fmt.Errorf("kafka.max_poll_records must be ≥ 0")
	}

	// redis
	if c.Redis.TTL < 0 {
		return fmt.Errorf("redis.ttl must be ≥ 0")
	}

	// telemetry
	if c.Telemetry.SamplerRatio < 0 || c.Telemetry.SamplerRatio > 1 {
		return fmt.Errorf("telemetry.sampler_ratio must be between 0.0 and 1.0")
	}

	// logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	// http
	return validateHTTP(&c.HTTP)
}

func validateHTTP(h *HTTPConfig) error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
		"http.session_path": h.SessionPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Debug print
// -----------------------------------------------------------------------------

func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
