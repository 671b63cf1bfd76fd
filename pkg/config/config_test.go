package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Window.Size != 7 {
		t.Fatalf("window.size = %d, want 7", c.Window.Size)
	}
	if !c.Window.DrainOnShutdown {
		t.Fatal("drain_on_shutdown should default to true")
	}
	if c.Publisher.Interval != 20*time.Second {
		t.Fatalf("publisher.interval = %v", c.Publisher.Interval)
	}
	if got := strings.Join(c.Publisher.Symbols, ","); got != "bitcoin,ethereum,litecoin,ripple" {
		t.Fatalf("publisher.symbols = %s", got)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: test
window:
  size: 5
  drain_on_shutdown: false
sink:
  backend: kafka
kafka:
  brokers: ["k1:9092", "k2:9092"]
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Window.Size != 5 || c.Window.DrainOnShutdown {
		t.Fatalf("window = %+v", c.Window)
	}
	if c.Window.Shards != 4 {
		t.Fatalf("unset shards should keep default, got %d", c.Window.Shards)
	}
	if len(c.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", c.Kafka.Brokers)
	}
	if c.Sink.Backend != "kafka" {
		t.Fatalf("sink.backend = %s", c.Sink.Backend)
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("SYMBOLS", "bitcoin,solana")
	t.Setenv("SINK_BACKEND", "mysql")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/coins?parseTime=true")
	t.Setenv("FORECAST_ARTIFACT", "/models/btc.json")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(c.Kafka.Brokers, ",") != "a:9092,b:9092" {
		t.Fatalf("brokers = %v", c.Kafka.Brokers)
	}
	if strings.Join(c.Publisher.Symbols, ",") != "bitcoin,solana" {
		t.Fatalf("symbols = %v", c.Publisher.Symbols)
	}
	if c.Sink.Backend != "mysql" || c.Forecast.ArtifactPath != "/models/btc.json" {
		t.Fatalf("sink=%s artifact=%s", c.Sink.Backend, c.Forecast.ArtifactPath)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero window", func(c *Config) { c.Window.Size = 0 }},
		{"no shards", func(c *Config) { c.Window.Shards = 0 }},
		{"unknown sink", func(c *Config) { c.Sink.Backend = "bigquery" }},
		{"mysql without dsn", func(c *Config) { c.Sink.Backend = "mysql" }},
		{"http forecast without url", func(c *Config) { c.Forecast.Backend = "http" }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"checkpoint without redis", func(c *Config) { c.Window.Checkpoint = true; c.Redis.Addr = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
