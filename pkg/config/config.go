package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
		Digest struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"digest"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		Topic        string   `yaml:"topic" default:"coin.observations"`
		OutputTopic  string   `yaml:"output_topic" default:"coin.predictions"`
		LogTopic     string   `yaml:"log_topic" default:"coinflow.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"coinflow-window"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"coin.observations.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	MySQL struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns" default:"10"`
		MaxIdleConns int    `yaml:"max_idle_conns" default:"5"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"coinflow:window:"`
		TTL      time.Duration `yaml:"ttl" default:"168h"`
	} `yaml:"redis"`
	Window struct {
		Size               int           `yaml:"size" default:"7"`
		Shards             int           `yaml:"shards" default:"4"`
		QueueSize          int           `yaml:"queue_size" default:"1024"`
		AllowedLateness    time.Duration `yaml:"allowed_lateness"`
		WatermarkInterval  time.Duration `yaml:"watermark_interval" default:"1s"`
		IdleTimeout        time.Duration `yaml:"idle_timeout" default:"30s"`
		DrainOnShutdown    bool          `yaml:"drain_on_shutdown" default:"true"`
		Checkpoint         bool          `yaml:"checkpoint"`
		CheckpointInterval time.Duration `yaml:"checkpoint_interval" default:"30s"`
	} `yaml:"window"`
	Forecast struct {
		Backend      string        `yaml:"backend" default:"artifact"`
		ArtifactPath string        `yaml:"artifact_path" default:"config/model.json"`
		ServiceURL   string        `yaml:"service_url"`
		Horizon      time.Duration `yaml:"horizon" default:"120h"`
		Timeout      time.Duration `yaml:"timeout" default:"3s"`
		Attempts     int           `yaml:"attempts" default:"2"`
		CacheTTL     time.Duration `yaml:"cache_ttl" default:"10m"`
		CacheSize    int           `yaml:"cache_size" default:"4096"`
	} `yaml:"forecast"`
	Sink struct {
		Backend    string        `yaml:"backend" default:"clickhouse"`
		Table      string        `yaml:"table" default:"coin_prices"`
		RetryMax   int           `yaml:"retry_max" default:"5"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
		Workers    int           `yaml:"workers" default:"8"`
		QueueSize  int           `yaml:"queue_size" default:"1024"`
	} `yaml:"sink"`
	Publisher struct {
		APIBaseURL  string        `yaml:"api_base_url" default:"https://api.coingecko.com/api/v3"`
		APIKey      string        `yaml:"api_key"`
		Symbols     []string      `yaml:"symbols" default:"[\"bitcoin\",\"ethereum\",\"litecoin\",\"ripple\"]"`
		Interval    time.Duration `yaml:"interval" default:"20s"`
		Timeout     time.Duration `yaml:"timeout" default:"10s"`
		MaxRPS      int           `yaml:"max_rps" default:"5"`
		CallsPerMin int           `yaml:"calls_per_minute" default:"30"`
		BufferSize  int           `yaml:"buffer_size" default:"256"`
	} `yaml:"publisher"`
}

// Default returns a Config holding only default values.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads a YAML configuration file over the defaults and validates it.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, then a .env file if present, and
// overrides with environment variables before validating.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Publisher.Symbols = splitList(v)
	}
	if v := os.Getenv("SINK_BACKEND"); v != "" {
		c.Sink.Backend = v
	}
	if v := os.Getenv("FORECAST_ARTIFACT"); v != "" {
		c.Forecast.ArtifactPath = v
	}
	if v := os.Getenv("FORECAST_URL"); v != "" {
		c.Forecast.ServiceURL = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.Publisher.APIKey = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required")
	}
	if c.Window.Size <= 0 {
		return fmt.Errorf("window.size must be positive, got %d", c.Window.Size)
	}
	if c.Window.Shards <= 0 {
		return fmt.Errorf("window.shards must be positive, got %d", c.Window.Shards)
	}
	if c.Window.WatermarkInterval <= 0 {
		return fmt.Errorf("window.watermark_interval must be positive")
	}
	if c.Window.Checkpoint && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when window.checkpoint is on")
	}
	switch c.Forecast.Backend {
	case "artifact":
		if c.Forecast.ArtifactPath == "" {
			return fmt.Errorf("forecast.artifact_path is required for the artifact backend")
		}
	case "http":
		if c.Forecast.ServiceURL == "" {
			return fmt.Errorf("forecast.service_url is required for the http backend")
		}
	default:
		return fmt.Errorf("forecast.backend must be 'artifact' or 'http', got '%s'", c.Forecast.Backend)
	}
	switch c.Sink.Backend {
	case "clickhouse", "kafka":
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required for the mysql sink")
		}
	default:
		return fmt.Errorf("sink.backend must be 'clickhouse', 'kafka' or 'mysql', got '%s'", c.Sink.Backend)
	}
	if c.Sink.Table == "" {
		return fmt.Errorf("sink.table is required")
	}
	if c.Sink.Workers <= 0 {
		return fmt.Errorf("sink.workers must be positive")
	}
	return nil
}

// ValidatePublisher checks the settings used by the publisher binary.
func (c *Config) ValidatePublisher() error {
	if len(c.Publisher.Symbols) == 0 {
		return fmt.Errorf("publisher.symbols cannot be empty")
	}
	if c.Publisher.Interval <= 0 {
		return fmt.Errorf("publisher.interval must be positive")
	}
	if c.Publisher.APIBaseURL == "" {
		return fmt.Errorf("publisher.api_base_url is required")
	}
	return nil
}
