package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/billing-api/internal/email"
	"github.com/jwalitptl/billing-api/internal/router"
	"github.com/jwalitptl/billing-api/pkg/messaging/redis"
	"github.com/jwalitptl/billing-api/pkg/worker"
)

// EnvPrefix prefixes every environment override, e.g. BILLING_DATABASE_DSN.
const EnvPrefix = "BILLING"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" envconfig:"PORT"`
	Mode           string        `mapstructure:"mode" envconfig:"MODE"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
}

// DatabaseConfig selects the ledger store. Driver is memory, postgres or
// sqlite; DSN wins over the discrete postgres fields when set.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" envconfig:"DRIVER"`
	DSN             string        `mapstructure:"dsn" envconfig:"DSN"`
	Host            string        `mapstructure:"host" envconfig:"HOST"`
	Port            int           `mapstructure:"port" envconfig:"PORT"`
	User            string        `mapstructure:"user" envconfig:"USER"`
	Password        string        `mapstructure:"password" envconfig:"PASSWORD"`
	Name            string        `mapstructure:"name" envconfig:"NAME"`
	SSLMode         string        `mapstructure:"sslmode" envconfig:"SSLMODE"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start" envconfig:"MIGRATE_ON_START"`
}

type RedisConfig struct {
	URL            string        `mapstructure:"url" envconfig:"URL"`
	MaxRetries     int           `mapstructure:"max_retries" envconfig:"MAX_RETRIES"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	PoolSize       int           `mapstructure:"pool_size" envconfig:"POOL_SIZE"`
	MinIdleConns   int           `mapstructure:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout" envconfig:"BREAKER_TIMEOUT"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size" envconfig:"BATCH_SIZE"`
	PollInterval time.Duration `mapstructure:"poll_interval" envconfig:"POLL_INTERVAL"`
	MaxAttempts  int           `mapstructure:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" envconfig:"RETRY_DELAY"`
	Channel      string        `mapstructure:"channel" envconfig:"CHANNEL"`
	Retention    time.Duration `mapstructure:"retention" envconfig:"RETENTION"`
}

type AuthConfig struct {
	Enabled  bool          `mapstructure:"enabled" envconfig:"ENABLED"`
	Secret   string        `mapstructure:"secret" envconfig:"SECRET"`
	Issuer   string        `mapstructure:"issuer" envconfig:"ISSUER"`
	TokenTTL time.Duration `mapstructure:"token_ttl" envconfig:"TOKEN_TTL"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
	Burst             int     `mapstructure:"burst" envconfig:"BURST"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// AlertsConfig is the SMTP relay for stock warning mails. An empty host
// disables alerts.
type AlertsConfig struct {
	SMTPHost string   `mapstructure:"smtp_host" envconfig:"SMTP_HOST"`
	SMTPPort int      `mapstructure:"smtp_port" envconfig:"SMTP_PORT"`
	Username string   `mapstructure:"username" envconfig:"USERNAME"`
	Password string   `mapstructure:"password" envconfig:"PASSWORD"`
	From     string   `mapstructure:"from" envconfig:"FROM"`
	To       []string `mapstructure:"to" envconfig:"TO"`
}

type BillingConfig struct {
	FeeCacheTTL time.Duration `mapstructure:"fee_cache_ttl" envconfig:"FEE_CACHE_TTL"`
}

type AuditConfig struct {
	RetentionDays   int           `mapstructure:"retention_days" envconfig:"RETENTION_DAYS"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" envconfig:"CLEANUP_INTERVAL"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" envconfig:"LEVEL"`
	Console bool   `mapstructure:"console" envconfig:"CONSOLE"`
}

// LoadConfig reads config.yml from the usual locations (or path when
// given), then applies .env and BILLING_* environment overrides. A missing
// config file is not an error; defaults cover every key.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")           // current directory
		v.AddConfigPath("./config")    // config subdirectory
		v.AddConfigPath("/app")        // container root directory
		v.AddConfigPath("/app/config") // container config directory
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 20*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "billing")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.breaker_timeout", 30*time.Second)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.retry_delay", 10*time.Second)
	v.SetDefault("outbox.retention", 24*time.Hour)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "billing-api")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("security.allowed_origins", []string{"*"})

	v.SetDefault("alerts.smtp_port", 587)

	v.SetDefault("billing.fee_cache_ttl", time.Minute)

	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.cleanup_interval", 24*time.Hour)

	v.SetDefault("log.level", "info")
}

func applyEnv(c *Config) error {
	sections := []struct {
		prefix string
		target interface{}
	}{
		{"SERVER", &c.Server},
		{"DATABASE", &c.Database},
		{"REDIS", &c.Redis},
		{"OUTBOX", &c.Outbox},
		{"AUTH", &c.Auth},
		{"RATE_LIMIT", &c.RateLimit},
		{"SECURITY", &c.Security},
		{"ALERTS", &c.Alerts},
		{"BILLING", &c.Billing},
		{"AUDIT", &c.Audit},
		{"LOG", &c.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.prefix, s.target); err != nil {
			return fmt.Errorf("failed to apply %s_%s environment: %w", EnvPrefix, s.prefix, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for sqlite")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}

// PostgresDSN returns the connection string for the postgres driver.
func (c *DatabaseConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Add conversion methods to convert config types
func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:    c.BatchSize,
		PollInterval: c.PollInterval,
		MaxAttempts:  c.MaxAttempts,
		RetryDelay:   c.RetryDelay,
		Channel:      c.Channel,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:            c.URL,
		MaxRetries:     c.MaxRetries,
		RetryBackoff:   c.RetryBackoff,
		PoolSize:       c.PoolSize,
		MinIdleConns:   c.MinIdleConns,
		BreakerTimeout: c.BreakerTimeout,
	}
}

func (c *AlertsConfig) ToEmailConfig() email.Config {
	return email.Config{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		To:       c.To,
	}
}

func (c *Config) ToRouterConfig() router.Config {
	return router.Config{
		RateLimit:      c.RateLimit.RequestsPerSecond,
		RateBurst:      c.RateLimit.Burst,
		CORSOrigins:    c.Security.AllowedOrigins,
		RequestTimeout: c.Server.RequestTimeout,
		MaxBodyBytes:   c.Server.MaxBodyBytes,
		Mode:           c.Server.Mode,
	}
}
