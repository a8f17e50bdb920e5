package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is loaded once at startup and handed to every constructor.
// Nothing below internal/handler reads the process environment directly.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	ThriveCart ThriveCartConfig `mapstructure:"thrivecart"`
	Fanbases   FanbasesConfig   `mapstructure:"fanbases"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Tiers      TiersConfig      `mapstructure:"tiers"`
	Business   BusinessConfig   `mapstructure:"business"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug | release | test
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres | sqlite
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type ThriveCartConfig struct {
	Secret string `mapstructure:"secret"`
}

type FanbasesConfig struct {
	APIKey              string `mapstructure:"api_key"`
	BaseURL             string `mapstructure:"base_url"`
	WebhookSecret       string `mapstructure:"webhook_secret"`
	RequireVerification bool   `mapstructure:"require_verification"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
}

func (c FanbasesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// TierConfig is the static configuration behind a subscription tier.
type TierConfig struct {
	Name           string `mapstructure:"name"`
	MonthlyCredits int64  `mapstructure:"monthly_credits"`
	PriceCents     int64  `mapstructure:"price_cents"`
}

type TiersConfig struct {
	Tier1 TierConfig `mapstructure:"tier1"`
	Tier2 TierConfig `mapstructure:"tier2"`
}

// Lookup returns the tier config for a tier identifier such as "tier1".
func (t TiersConfig) Lookup(tier string) (TierConfig, bool) {
	switch tier {
	case "tier1":
		return t.Tier1, true
	case "tier2":
		return t.Tier2, true
	}
	return TierConfig{}, false
}

type BusinessConfig struct {
	CheckoutTimeoutMinutes int `mapstructure:"checkout_timeout_minutes"`
	MaxRetryCount          int `mapstructure:"max_retry_count"`
	LockTTLSeconds         int `mapstructure:"lock_ttl_seconds"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Default returns the configuration used when neither file nor environment
// provide a value. Tests start from here.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, Mode: "release"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Driver: "postgres", Port: 5432, MaxOpenConns: 50, MaxIdleConns: 10},
		Redis:    RedisConfig{Port: 6379},
		Kafka:    KafkaConfig{Topic: KafkaTopicConfig{LedgerEvents: "ledger_events"}},
		Fanbases: FanbasesConfig{BaseURL: "https://api.fanbases.com/v1", TimeoutSeconds: 10},
		Tiers: TiersConfig{
			Tier1: TierConfig{Name: "Starter", MonthlyCredits: 10000, PriceCents: 2900},
			Tier2: TierConfig{Name: "Pro", MonthlyCredits: 40000, PriceCents: 9900},
		},
		Business:  BusinessConfig{CheckoutTimeoutMinutes: 60, MaxRetryCount: 5, LockTTLSeconds: 30},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 20},
	}
}

// LoadConfig reads the YAML file at configPath (optional) and overlays the
// process environment, e.g. THRIVECART_SECRET or DATABASE_DSN.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// env lists arrive as one comma separated string
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if cfg.Database.Driver == "" {
		return nil, errors.New("database.driver is required")
	}
	return cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.ledger_events", d.Kafka.Topic.LedgerEvents)

	v.SetDefault("thrivecart.secret", "")

	v.SetDefault("fanbases.api_key", "")
	v.SetDefault("fanbases.base_url", d.Fanbases.BaseURL)
	v.SetDefault("fanbases.webhook_secret", "")
	v.SetDefault("fanbases.require_verification", false)
	v.SetDefault("fanbases.timeout_seconds", d.Fanbases.TimeoutSeconds)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("tiers.tier1.name", d.Tiers.Tier1.Name)
	v.SetDefault("tiers.tier1.monthly_credits", d.Tiers.Tier1.MonthlyCredits)
	v.SetDefault("tiers.tier1.price_cents", d.Tiers.Tier1.PriceCents)
	v.SetDefault("tiers.tier2.name", d.Tiers.Tier2.Name)
	v.SetDefault("tiers.tier2.monthly_credits", d.Tiers.Tier2.MonthlyCredits)
	v.SetDefault("tiers.tier2.price_cents", d.Tiers.Tier2.PriceCents)

	v.SetDefault("business.checkout_timeout_minutes", d.Business.CheckoutTimeoutMinutes)
	v.SetDefault("business.max_retry_count", d.Business.MaxRetryCount)
	v.SetDefault("business.lock_ttl_seconds", d.Business.LockTTLSeconds)

	v.SetDefault("ratelimit.rps", d.RateLimit.RPS)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)
}
