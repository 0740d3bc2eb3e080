package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full service configuration. Values come from defaults,
// an optional config file, and TRADEGUARD_* environment variables, in that
// order of precedence.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Events   EventsConfig   `mapstructure:"events"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Verifier VerifierConfig `mapstructure:"verifier"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BreakerConfig struct {
	// SchedulerInterval is how often the cooldown scheduler wakes up to
	// auto-reset breakers whose cooldown has elapsed.
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
}

type LedgerConfig struct {
	// Backend selects the idempotency store: "sqlite" shares the service
	// database, "redis" uses native TTL expiry.
	Backend       string        `mapstructure:"backend"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

type EventsConfig struct {
	// Publisher selects the breaker event sink: "log" or "kafka".
	Publisher    string   `mapstructure:"publisher"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type SignalsConfig struct {
	// FeedURL is the websocket endpoint streaming risk signals. Empty
	// disables the intake worker; signals can still arrive over HTTP.
	FeedURL string `mapstructure:"feed_url"`
}

type VerifierConfig struct {
	// AdapterTimeout bounds the exchange status query so a slow exchange
	// cannot stall the submission path.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"`
}

// Load builds the configuration from defaults, tradeguard.yaml (if present
// in the working directory or /etc/tradeguard), and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("database.dsn", "tradeguard.db?_busy_timeout=5000")
	v.SetDefault("auth.jwt_secret", "tradeguard-secret-key")
	v.SetDefault("breaker.scheduler_interval", 30*time.Second)
	v.SetDefault("ledger.backend", "sqlite")
	v.SetDefault("ledger.default_ttl", 24*time.Hour)
	v.SetDefault("ledger.sweep_interval", 5*time.Minute)
	v.SetDefault("ledger.redis_addr", "localhost:6379")
	v.SetDefault("ledger.redis_password", "")
	v.SetDefault("ledger.redis_db", 0)
	v.SetDefault("events.publisher", "log")
	v.SetDefault("events.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka_topic", "breaker-events")
	v.SetDefault("signals.feed_url", "")
	v.SetDefault("verifier.adapter_timeout", 5*time.Second)

	v.SetConfigName("tradeguard")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tradeguard")

	v.SetEnvPrefix("TRADEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; anything else is a real problem.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
