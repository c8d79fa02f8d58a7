// Package config loads amlstream settings from YAML files, a .env file and
// AMLSTREAM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlstream/internal/cases"
	"github.com/Aidin1998/amlstream/internal/detection"
	redisconf "github.com/Aidin1998/amlstream/internal/redis"
	"github.com/Aidin1998/amlstream/internal/streaming"
	"github.com/Aidin1998/amlstream/internal/streaming/velocity"
	"github.com/Aidin1998/amlstream/internal/streaming/window"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
)

const EnvPrefix = "AMLSTREAM"

// Cache backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full service configuration
type Config struct {
	Environment string `mapstructure:"environment"`

	Log       LogConfig             `mapstructure:"log"`
	Server    ServerConfig          `mapstructure:"server"`
	Cache     CacheConfig           `mapstructure:"cache"`
	Redis     redisconf.Config      `mapstructure:"redis"`
	Window    window.Config         `mapstructure:"window"`
	Velocity  VelocityConfig        `mapstructure:"velocity"`
	Detection DetectionConfig       `mapstructure:"detection"`
	Risk      streaming.RiskOptions `mapstructure:"risk"`
	Processor ProcessorConfig       `mapstructure:"processor"`
	Kafka     KafkaConfig           `mapstructure:"kafka"`
	Events    EventsConfig          `mapstructure:"events"`
	Database  cases.DatabaseConfig  `mapstructure:"database"`
	Tracing   TracingConfig         `mapstructure:"tracing"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CacheConfig struct {
	Backend        string        `mapstructure:"backend" validate:"oneof=memory redis"`
	OpTimeout      time.Duration `mapstructure:"op_timeout" validate:"gt=0"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	CompressionMin int           `mapstructure:"compression_min"`
}

// PeriodConfig is the file form of a velocity period. MaxAmount is a decimal
// string so limits never pass through a float.
type PeriodConfig struct {
	Name      string        `mapstructure:"name" validate:"required"`
	Window    time.Duration `mapstructure:"window" validate:"gt=0"`
	MaxCount  int64         `mapstructure:"max_count" validate:"gt=0"`
	MaxAmount string        `mapstructure:"max_amount" validate:"required"`
}

type VelocityConfig struct {
	Periods []PeriodConfig `mapstructure:"periods" validate:"dive"`
}

type DetectionConfig struct {
	EngineThreshold float64 `mapstructure:"engine_threshold" validate:"gt=0,lte=1"`
	StreamThreshold float64 `mapstructure:"stream_threshold" validate:"gt=0,lte=1"`
}

type ProcessorConfig struct {
	SLA          time.Duration `mapstructure:"sla" validate:"gt=0"`
	CaseTimeout  time.Duration `mapstructure:"case_timeout" validate:"gt=0"`
	BatchWorkers int           `mapstructure:"batch_workers" validate:"gt=0"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	EventsTopic string   `mapstructure:"events_topic"`
	IngestTopic string   `mapstructure:"ingest_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

type EventsConfig struct {
	RedisStream    bool          `mapstructure:"redis_stream"`
	StreamPrefix   string        `mapstructure:"stream_prefix"`
	StreamMaxLen   int64         `mapstructure:"stream_max_len"`
	WebhookURL     string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Metrics     bool   `mapstructure:"metrics"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads .env, then every existing file in paths in order, then the
// environment. Missing files are skipped.
func Load(logger *zap.Logger, paths ...string) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, apperrors.Config.Explain("load %s", path).Wrap(err)
		}
		loaded = append(loaded, path)
	}
	if len(loaded) == 0 {
		logger.Info("No configuration files found, using defaults and environment variables")
	} else {
		logger.Info("Loaded configuration files", zap.Strings("files", loaded))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Config.Explain("unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.op_timeout", streaming.DefaultCacheTimeout)
	v.SetDefault("cache.key_prefix", "amlstream:")
	v.SetDefault("cache.compression_min", 4096)

	rc := redisconf.DefaultConfig()
	v.SetDefault("redis.addr", rc.Addr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", rc.DB)
	v.SetDefault("redis.pool_size", rc.PoolSize)
	v.SetDefault("redis.min_idle_conns", rc.MinIdleConns)
	v.SetDefault("redis.conn_max_lifetime", rc.ConnMaxLifetime)
	v.SetDefault("redis.conn_max_idle_time", rc.ConnMaxIdleTime)
	v.SetDefault("redis.pool_timeout", rc.PoolTimeout)
	v.SetDefault("redis.max_retries", rc.MaxRetries)
	v.SetDefault("redis.min_retry_backoff", rc.MinRetryBackoff)
	v.SetDefault("redis.max_retry_backoff", rc.MaxRetryBackoff)
	v.SetDefault("redis.dial_timeout", rc.DialTimeout)
	v.SetDefault("redis.read_timeout", rc.ReadTimeout)
	v.SetDefault("redis.write_timeout", rc.WriteTimeout)
	v.SetDefault("redis.enable_cluster", false)
	v.SetDefault("redis.cluster_addrs", []string{})

	v.SetDefault("window.size", window.DefaultSize)
	v.SetDefault("window.span", window.DefaultSpan)

	periods := make([]map[string]interface{}, 0, 3)
	for _, p := range velocity.DefaultPeriods() {
		periods = append(periods, map[string]interface{}{
			"name":       p.Name,
			"window":     p.Window,
			"max_count":  p.MaxCount,
			"max_amount": p.MaxAmount.String(),
		})
	}
	v.SetDefault("velocity.periods", periods)

	v.SetDefault("detection.engine_threshold", detection.DefaultConfidenceThreshold)
	v.SetDefault("detection.stream_threshold", streaming.DefaultPatternThreshold)

	v.SetDefault("risk.escalation_threshold", streaming.DefaultEscalationThreshold)
	v.SetDefault("risk.high_risk_registry_size", streaming.DefaultRegistrySize)
	v.SetDefault("risk.snapshot_ttl", streaming.DefaultSnapshotTTL)

	v.SetDefault("processor.sla", streaming.DefaultSLA)
	v.SetDefault("processor.case_timeout", streaming.DefaultCaseTimeout)
	v.SetDefault("processor.batch_workers", streaming.DefaultBatchWorkers)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "amlstream.events")
	v.SetDefault("kafka.ingest_topic", "amlstream.transactions")
	v.SetDefault("kafka.group_id", "amlstream")

	v.SetDefault("events.redis_stream", false)
	v.SetDefault("events.stream_prefix", "amlstream.events.")
	v.SetDefault("events.stream_max_len", 10000)
	v.SetDefault("events.webhook_url", "")
	v.SetDefault("events.webhook_timeout", 5*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:amlstream.db?cache=shared")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.metrics", false)
	v.SetDefault("tracing.service_name", "amlstream")
}

// Validate checks struct constraints and that velocity limits parse
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperrors.Config.Explain("validation failed").Wrap(err)
	}
	if c.Cache.Backend == BackendRedis && !c.Redis.EnableCluster && c.Redis.Addr == "" {
		return apperrors.Config.Explain("redis backend requires redis.addr")
	}
	if _, err := c.Velocity.ToPeriods(); err != nil {
		return err
	}
	return nil
}

// ToPeriods converts the configured periods. An empty list selects the
// defaults.
func (v VelocityConfig) ToPeriods() ([]velocity.Period, error) {
	if len(v.Periods) == 0 {
		return velocity.DefaultPeriods(), nil
	}
	out := make([]velocity.Period, 0, len(v.Periods))
	seen := make(map[string]bool, len(v.Periods))
	for _, pc := range v.Periods {
		if seen[pc.Name] {
			return nil, apperrors.Config.Explain("duplicate velocity period %q", pc.Name)
		}
		seen[pc.Name] = true

		amount, err := decimal.NewFromString(pc.MaxAmount)
		if err != nil {
			return nil, apperrors.Config.Explain("velocity period %q max_amount", pc.Name).Wrap(err)
		}
		if !amount.IsPositive() {
			return nil, apperrors.Config.Explain("velocity period %q max_amount must be positive", pc.Name)
		}
		out = append(out, velocity.Period{
			Name:      pc.Name,
			Window:    pc.Window,
			MaxCount:  pc.MaxCount,
			MaxAmount: amount,
		})
	}
	return out, nil
}

// String summarises the effective settings without secrets
func (c *Config) String() string {
	return fmt.Sprintf("env=%s cache=%s window=%d/%s kafka=%t db=%s",
		c.Environment, c.Cache.Backend, c.Window.Size, c.Window.Span, c.Kafka.Enabled, c.Database.Driver)
}
