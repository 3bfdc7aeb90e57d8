package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
}

type AppConfig struct {
	Env string `mapstructure:"env"` // development, staging, production
}

// IsProduction reports whether the engine runs against real money.
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Env, "production")
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"` // empty = notifications go to the log only
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// GatewayConfig configures the Razorpay REST client.
type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	KeyID         string        `mapstructure:"key_id"`
	KeySecret     string        `mapstructure:"key_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Currency      string        `mapstructure:"currency"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type PaymentsConfig struct {
	AllowDummy bool `mapstructure:"allow_dummy"`
}

// ReconcileConfig drives the payment verification retry loop.
type ReconcileConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int64         `mapstructure:"batch_size"`
	// LeaseTimeout hides a claimed task from other workers until it is acked.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SETTLE_.
// Nested keys use underscore: SETTLE_DATABASE_HOST, SETTLE_GATEWAY_KEY_ID, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "settlement-engine")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "settlement-engine")
	v.SetDefault("gateway.base_url", "https://api.razorpay.com")
	v.SetDefault("gateway.key_id", "")
	v.SetDefault("gateway.key_secret", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.currency", "INR")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("payments.allow_dummy", false)
	v.SetDefault("reconcile.max_attempts", 5)
	v.SetDefault("reconcile.base_delay", "30s")
	v.SetDefault("reconcile.max_delay", "30m")
	v.SetDefault("reconcile.poll_interval", "1s")
	v.SetDefault("reconcile.batch_size", 20)
	v.SetDefault("reconcile.lease_timeout", "2m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SETTLE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SETTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Test credits never reach production wallets.
	if cfg.App.IsProduction() {
		cfg.Payments.AllowDummy = false
	}
	if cfg.Reconcile.MaxAttempts < 1 {
		cfg.Reconcile.MaxAttempts = 1
	}

	return &cfg, nil
}
