package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings for the shared TTL store
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`

	PoolSize        int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout" yaml:"pool_timeout"`

	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// Cluster mode for sharded deployments
	EnableCluster bool     `mapstructure:"enable_cluster" yaml:"enable_cluster"`
	ClusterAddrs  []string `mapstructure:"cluster_addrs" yaml:"cluster_addrs"`
}

// DefaultConfig returns settings sized for per-transaction lookups under a
// 100ms budget
func DefaultConfig() *Config {
	return &Config{
		Addr: "localhost:6379",

		PoolSize:        50,
		MinIdleConns:    10,
		ConnMaxLifetime: 24 * time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
		PoolTimeout:     time.Second,

		MaxRetries:      1,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 64 * time.Millisecond,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
	}
}

// NewClient connects to Redis and verifies the connection with PING
func NewClient(ctx context.Context, config *Config, logger *zap.SugaredLogger) (redis.UniversalClient, error) {
	var rdb redis.UniversalClient

	if config.EnableCluster {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    config.ClusterAddrs,
			Password: config.Password,

			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.ConnMaxLifetime,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			PoolTimeout:     config.PoolTimeout,

			MaxRetries:      config.MaxRetries,
			MinRetryBackoff: config.MinRetryBackoff,
			MaxRetryBackoff: config.MaxRetryBackoff,

			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,

			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.ConnMaxLifetime,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			PoolTimeout:     config.PoolTimeout,

			MaxRetries:      config.MaxRetries,
			MinRetryBackoff: config.MinRetryBackoff,
			MaxRetryBackoff: config.MaxRetryBackoff,

			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("Redis client connected",
		"addr", config.Addr,
		"db", config.DB,
		"pool_size", config.PoolSize,
		"cluster_mode", config.EnableCluster,
	)

	return rdb, nil
}
