package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TRANSFER"

// Config is the process-wide configuration, built once at startup and passed
// into constructors.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Transfer    TransferConfig    `mapstructure:"transfer"`
	Lock        LockConfig        `mapstructure:"lock"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Job         JobConfig         `mapstructure:"job"`
	Log         LogConfig         `mapstructure:"log"`
	Memory      MemoryConfig      `mapstructure:"memory"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`

	// AuthMaxOpenConns sizes the separate pool that password checks use while
	// an account transaction holds its own connection.
	AuthMaxOpenConns int           `mapstructure:"auth_max_open_conns"`
	LockWaitTimeout  time.Duration `mapstructure:"lock_wait_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransferResult string `mapstructure:"transfer_result"`
}

const (
	StrategyPessimistic = "pessimistic"
	StrategyOptimistic  = "optimistic"
)

type TransferConfig struct {
	Strategy       string      `mapstructure:"strategy"`
	AllowOverdraft bool        `mapstructure:"allow_overdraft"`
	Retry          RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

const (
	LockProviderRedis   = "redis"
	LockProviderRedsync = "redsync"
)

type LockConfig struct {
	Provider      string        `mapstructure:"provider"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	HoldTimeout   time.Duration `mapstructure:"hold_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	LockDuration time.Duration `mapstructure:"lock_duration"`
	BcryptCost   int           `mapstructure:"bcrypt_cost"`
}

type JobConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatch     int           `mapstructure:"outbox_batch"`
	OutboxMaxRetry  int           `mapstructure:"outbox_max_retry"`
	LockoutInterval time.Duration `mapstructure:"lockout_interval"`
	LockoutBatch    int           `mapstructure:"lockout_batch"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MemoryConfig seeds the in-process store used by the memory driver.
type MemoryConfig struct {
	Seed []SeedAccount `mapstructure:"seed"`
}

type SeedAccount struct {
	AccountID  int64  `mapstructure:"account_id"`
	CustomerID int64  `mapstructure:"customer_id"`
	Balance    int64  `mapstructure:"balance"`
	Password   string `mapstructure:"password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auth_max_open_conns", 10)
	v.SetDefault("database.lock_wait_timeout", 3*time.Second)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.transfer_result", "transfer_result")

	v.SetDefault("transfer.strategy", StrategyPessimistic)
	v.SetDefault("transfer.allow_overdraft", true)
	v.SetDefault("transfer.retry.max_attempts", 5)
	v.SetDefault("transfer.retry.base_delay", 100*time.Millisecond)
	v.SetDefault("transfer.retry.max_delay", 2*time.Second)

	v.SetDefault("lock.provider", LockProviderRedis)
	v.SetDefault("lock.wait_timeout", 3*time.Second)
	v.SetDefault("lock.hold_timeout", 10*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)

	v.SetDefault("idempotency.ttl", 300*time.Second)

	v.SetDefault("auth.max_failures", 5)
	v.SetDefault("auth.lock_duration", 15*time.Minute)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("job.outbox_interval", 100*time.Millisecond)
	v.SetDefault("job.outbox_batch", 100)
	v.SetDefault("job.outbox_max_retry", 5)
	v.SetDefault("job.lockout_interval", 30*time.Second)
	v.SetDefault("job.lockout_batch", 100)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads the YAML file at configPath. A .env file next to the
// working directory is loaded first so TRANSFER_* variables can override keys.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}

	switch c.Transfer.Strategy {
	case StrategyPessimistic, StrategyOptimistic:
	default:
		return fmt.Errorf("config: unknown transfer strategy %q", c.Transfer.Strategy)
	}

	switch c.Lock.Provider {
	case LockProviderRedis, LockProviderRedsync:
	default:
		return fmt.Errorf("config: unknown lock provider %q", c.Lock.Provider)
	}

	if c.Database.Driver != DriverMemory && c.Database.AuthMaxOpenConns < 1 {
		return errors.New("config: database.auth_max_open_conns must be at least 1")
	}
	if c.Transfer.Retry.MaxAttempts < 1 {
		return errors.New("config: transfer.retry.max_attempts must be at least 1")
	}
	if c.Transfer.Retry.BaseDelay <= 0 {
		return errors.New("config: transfer.retry.base_delay must be positive")
	}
	if c.Lock.WaitTimeout <= 0 || c.Lock.HoldTimeout <= 0 {
		return errors.New("config: lock timeouts must be positive")
	}
	if c.Idempotency.TTL <= 0 {
		return errors.New("config: idempotency.ttl must be positive")
	}
	if c.Auth.MaxFailures < 1 || c.Auth.LockDuration <= 0 {
		return errors.New("config: auth lockout policy must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.brokers required when kafka is enabled")
	}
	return nil
}
