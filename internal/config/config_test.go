// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "nodestream" {
		t.Errorf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.Stream.PollInterval != time.Second {
		t.Errorf("expected poll_interval 1s, got %v", cfg.Stream.PollInterval)
	}
	if cfg.Kafka.MaxWait != 500*time.Millisecond || cfg.Kafka.MaxPollRecords != 500 {
		t.Errorf("unexpected kafka defaults %+v", cfg.Kafka)
	}
	if cfg.Redis.Backoff.MaxElapsedTime != 10*time.Second {
		t.Errorf("expected nested backoff default, got %v", cfg.Redis.Backoff.MaxElapsedTime)
	}
	if cfg.Stream.Topic() != "events-epoch-0" {
		t.Errorf("unexpected topic %s", cfg.Stream.Topic())
	}
	if sid, err := cfg.Stream.SessionID(); err != nil || !sid.IsZero() {
		t.Errorf("expected zero session, got %v, %v", sid, err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodestream.yaml")
	content := `
stream:
  addr: "broker:9092"
  kind: "blocks"
  epoch: 3
  codec: "bytes"
logging:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("NODESTREAM_STREAM_EPOCH", "7")
	t.Setenv("NODESTREAM_STREAM_RESET_ON_START", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.Addr != "broker:9092" || cfg.Stream.Codec != "bytes" || cfg.Logging.Level != "debug" {
		t.Errorf("file values not applied: %+v", cfg.Stream)
	}
	if cfg.Stream.Epoch != 7 {
		t.Errorf("expected env epoch 7, got %d", cfg.Stream.Epoch)
	}
	if !cfg.Stream.ResetOnStart {
		t.Error("expected reset_on_start from env")
	}
	if cfg.Stream.Topic() != "blocks-epoch-7" {
		t.Errorf("unexpected topic %s", cfg.Stream.Topic())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad kind", func(c *Config) { c.Stream.Kind = "bad kind" }},
		{"bad session", func(c *Config) { c.Stream.Session = "nope" }},
		{"bad codec", func(c *Config) { c.Stream.Codec = "xml" }},
		{"zero poll interval", func(c *Config) { c.Stream.PollInterval = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"bad path", func(c *Config) { c.HTTP.SessionPath = "session" }},
		{"bad ratio", func(c *Config) { c.Telemetry.SamplerRatio = 2 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
