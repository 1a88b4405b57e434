package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. ECONSULT_DATABASE_HOST.
const EnvPrefix = "ECONSULT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `mapstructure:"database" envconfig:"DATABASE"`
	JWT       JWTConfig       `mapstructure:"jwt" envconfig:"JWT"`
	Redis     RedisConfig     `mapstructure:"redis" envconfig:"REDIS"`
	Outbox    OutboxConfig    `mapstructure:"outbox" envconfig:"OUTBOX"`
	Intake    IntakeConfig    `mapstructure:"intake" envconfig:"INTAKE"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" envconfig:"RATE_LIMIT"`
	SMTP      SMTPConfig      `mapstructure:"smtp" envconfig:"SMTP"`
	Log       LogConfig       `mapstructure:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" envconfig:"PORT"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	Mode           string        `mapstructure:"mode" envconfig:"MODE"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host" envconfig:"HOST"`
	Port         int    `mapstructure:"port" envconfig:"PORT"`
	User         string `mapstructure:"user" envconfig:"USER"`
	Password     string `mapstructure:"password" envconfig:"PASSWORD"`
	Name         string `mapstructure:"name" envconfig:"NAME"`
	SSLMode      string `mapstructure:"sslmode" envconfig:"SSLMODE"`
	MaxOpenConns int    `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret" envconfig:"SECRET"`
	Issuer   string        `mapstructure:"issuer" envconfig:"ISSUER"`
	Audience string        `mapstructure:"audience" envconfig:"AUDIENCE"`
	TTL      time.Duration `mapstructure:"ttl" envconfig:"TTL"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" envconfig:"URL"`
	MaxRetries   int           `mapstructure:"max_retries" envconfig:"MAX_RETRIES"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"POOL_SIZE"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`
	// Stream settings for event delivery. Notifier replicas share ConsumerGroup.
	StreamMaxLen  int64         `mapstructure:"stream_max_len" envconfig:"STREAM_MAX_LEN"`
	ConsumerGroup string        `mapstructure:"consumer_group" envconfig:"CONSUMER_GROUP"`
	ClaimIdle     time.Duration `mapstructure:"claim_idle" envconfig:"CLAIM_IDLE"`
	MaxDeliveries int64         `mapstructure:"max_deliveries" envconfig:"MAX_DELIVERIES"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size" envconfig:"BATCH_SIZE"`
	PollInterval    time.Duration `mapstructure:"poll_interval" envconfig:"POLL_INTERVAL"`
	RetryAttempts   int           `mapstructure:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" envconfig:"RETRY_DELAY"`
	MaxRetries      int           `mapstructure:"max_retries" envconfig:"MAX_RETRIES"`
	Retention       time.Duration `mapstructure:"retention" envconfig:"RETENTION"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" envconfig:"CLEANUP_INTERVAL"`
}

type IntakeConfig struct {
	DraftTTL      time.Duration `mapstructure:"draft_ttl" envconfig:"DRAFT_TTL"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout" envconfig:"SUBMIT_TIMEOUT"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" envconfig:"ENABLED"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
	Burst             int     `mapstructure:"burst" envconfig:"BURST"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" envconfig:"HOST"`
	Port     int    `mapstructure:"port" envconfig:"PORT"`
	Username string `mapstructure:"username" envconfig:"USERNAME"`
	Password string `mapstructure:"password" envconfig:"PASSWORD"`
	From     string `mapstructure:"from" envconfig:"FROM"`
}

// Enabled reports whether confirmation emails can be sent.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL"`
	Pretty bool   `mapstructure:"pretty" envconfig:"PRETTY"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "econsult")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("jwt.issuer", "econsult")
	v.SetDefault("jwt.ttl", time.Hour)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("redis.consumer_group", "notifier")
	v.SetDefault("redis.claim_idle", 30*time.Second)
	v.SetDefault("redis.max_deliveries", 5)

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 500*time.Millisecond)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)

	v.SetDefault("intake.draft_ttl", 2*time.Hour)
	v.SetDefault("intake.sweep_interval", 10*time.Minute)
	v.SetDefault("intake.submit_timeout", 10*time.Second)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@econsult.local")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the usual locations, falling back to defaults when no
// file exists, then applies ECONSULT_* environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.JWT.Secret == "":
		return errors.New("jwt.secret is required")
	case c.Server.Port <= 0:
		return errors.New("server.port must be positive")
	case c.Intake.DraftTTL <= 0:
		return errors.New("intake.draft_ttl must be positive")
	case c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0:
		return errors.New("outbox.batch_size and outbox.poll_interval must be positive")
	case c.Outbox.RetryAttempts <= 0 || c.Outbox.RetryDelay <= 0:
		return errors.New("outbox.retry_attempts and outbox.retry_delay must be positive")
	}
	return nil
}
