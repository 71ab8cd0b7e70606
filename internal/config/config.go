// Package config loads the rule engine's configuration from an optional
// YAML file plus environment variables:
// a typed struct with mapstructure tags, viper defaults, and an env prefix.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment     string                `mapstructure:"environment"`
	Debug           bool                  `mapstructure:"debug"`
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Kafka           KafkaConfig           `mapstructure:"kafka"`
	RuleCache       RuleCacheConfig       `mapstructure:"rule_cache"`
	ConflictDetector ConflictDetectorConfig `mapstructure:"conflict_detector"`
	Notification    NotificationConfig   `mapstructure:"notification"`
	Scheduler       SchedulerConfig       `mapstructure:"scheduler"`
	Logging         LoggingConfig         `mapstructure:"logging"`
}

type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
	WSPort   int `mapstructure:"ws_port"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Enabled  bool   `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	GroupID     string   `mapstructure:"group_id"`
	EventsTopic string   `mapstructure:"events_topic"`
	Enabled     bool     `mapstructure:"enabled"`
}

type RuleCacheConfig struct {
	LocalTTL  time.Duration `mapstructure:"local_ttl"`
	RemoteTTL time.Duration `mapstructure:"remote_ttl"`
}

type ConflictDetectorConfig struct {
	HashCacheTTL time.Duration `mapstructure:"hash_cache_ttl"`
}

type NotificationConfig struct {
	Email   ChannelConfig `mapstructure:"email"`
	SMS     ChannelConfig `mapstructure:"sms"`
	Webhook ChannelConfig `mapstructure:"webhook"`
}

type ChannelConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

type SchedulerConfig struct {
	RuleCacheRefreshCron string `mapstructure:"rule_cache_refresh_cron"`
	ConflictSweepCron    string `mapstructure:"conflict_sweep_cron"`
	StatsSnapshotCron    string `mapstructure:"stats_snapshot_cron"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Load reads config.yaml from the working directory or /etc/ruleengine (if
// present), applies environment overrides prefixed RULEENGINE_, and falls
// back to setDefaults for anything unset. A missing config file is not an
// error — env vars and defaults alone are enough to run.
func Load() (Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/ruleengine")

	setDefaults()

	viper.SetEnvPrefix("RULEENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	viper.SetDefault("server.http_port", 8090)
	viper.SetDefault("server.ws_port", 8091)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "ruleengine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://internal/db/migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "rule-engine")
	viper.SetDefault("kafka.events_topic", "events")
	viper.SetDefault("kafka.enabled", false)

	viper.SetDefault("rule_cache.local_ttl", "60s")
	viper.SetDefault("rule_cache.remote_ttl", "300s")

	viper.SetDefault("conflict_detector.hash_cache_ttl", "30s")

	viper.SetDefault("notification.email.enabled", false)
	viper.SetDefault("notification.email.max_retries", 3)
	viper.SetDefault("notification.email.retry_delay", "10s")
	viper.SetDefault("notification.email.timeout", "30s")
	viper.SetDefault("notification.email.rate_limit_per_min", 60)

	viper.SetDefault("notification.sms.enabled", false)
	viper.SetDefault("notification.sms.max_retries", 3)
	viper.SetDefault("notification.sms.retry_delay", "10s")
	viper.SetDefault("notification.sms.timeout", "30s")
	viper.SetDefault("notification.sms.rate_limit_per_min", 10)

	viper.SetDefault("notification.webhook.enabled", true)
	viper.SetDefault("notification.webhook.max_retries", 3)
	viper.SetDefault("notification.webhook.retry_delay", "5s")
	viper.SetDefault("notification.webhook.timeout", "10s")
	viper.SetDefault("notification.webhook.rate_limit_per_min", 120)

	viper.SetDefault("scheduler.rule_cache_refresh_cron", "@every 1m")
	viper.SetDefault("scheduler.conflict_sweep_cron", "@every 5m")
	viper.SetDefault("scheduler.stats_snapshot_cron", "@every 1m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// DSN renders the Postgres connection string used to open the pool.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode,
	)
}
