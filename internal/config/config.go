package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the treasury service reads at startup.
type Config struct {
	Env      string
	Port     string
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	RabbitMQ RabbitMQConfig
	Treasury TreasuryConfig
	Jobs     JobsConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// TreasuryConfig carries the limits of the ledger and closing engine.
type TreasuryConfig struct {
	MaxTopupAmount  string
	KeyHashCost     int
	ClosingCacheTTL time.Duration
	Timezone        string
}

// JobsConfig controls the background sweeps.
type JobsConfig struct {
	KeySweepSchedule    string
	PurgeSchedule       string
	PurgeEnabled        bool
	PurgeCutoffAge      time.Duration
	PurgeBatchSize      int
	PurgeMaxBatchesTick int
}

type LogConfig struct {
	Level  string
	Format string
}

var envBindings = map[string]string{
	"env":                         "APP_ENV",
	"port":                        "PORT",
	"database.host":               "DATABASE_HOST",
	"database.port":               "DATABASE_PORT",
	"database.user":               "DATABASE_USER",
	"database.password":           "DATABASE_PASSWORD",
	"database.name":               "DATABASE_NAME",
	"database.ssl_mode":           "DATABASE_SSL_MODE",
	"database.auto_migrate":       "DATABASE_AUTO_MIGRATE",
	"redis.host":                  "REDIS_HOST",
	"redis.port":                  "REDIS_PORT",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"jwt.secret_key":              "JWT_SECRET_KEY",
	"jwt.expiry_hours":            "JWT_EXPIRY_HOURS",
	"argon2.time":                 "ARGON2_TIME",
	"argon2.memory":               "ARGON2_MEMORY",
	"argon2.threads":              "ARGON2_THREADS",
	"argon2.key_length":           "ARGON2_KEY_LENGTH",
	"argon2.salt_length":          "ARGON2_SALT_LENGTH",
	"rabbitmq.url":                "RABBITMQ_URL",
	"rabbitmq.exchange":           "RABBITMQ_EXCHANGE",
	"treasury.max_topup_amount":   "TREASURY_MAX_TOPUP_AMOUNT",
	"treasury.key_hash_cost":      "TREASURY_KEY_HASH_COST",
	"treasury.closing_cache_ttl":  "TREASURY_CLOSING_CACHE_TTL",
	"treasury.timezone":           "TREASURY_TIMEZONE",
	"jobs.key_sweep_schedule":     "KEY_SWEEP_SCHEDULE",
	"jobs.purge_schedule":         "PURGE_SCHEDULE",
	"jobs.purge_enabled":          "PURGE_ENABLED",
	"jobs.purge_cutoff_age":       "PURGE_CUTOFF_AGE",
	"jobs.purge_batch_size":       "PURGE_BATCH_SIZE",
	"jobs.purge_max_batches_tick": "PURGE_MAX_BATCHES_PER_TICK",
	"log.level":                   "LOG_LEVEL",
	"log.format":                  "LOG_FORMAT",
}

func setDefaults() {
	viper.SetDefault("env", "production")
	viper.SetDefault("port", "8080")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "fleet_treasury")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)
	viper.SetDefault("database.auto_migrate", true)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("jwt.expiry_hours", 24)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("rabbitmq.exchange", "treasury.events")

	viper.SetDefault("treasury.max_topup_amount", "5000.00")
	viper.SetDefault("treasury.key_hash_cost", 10)
	viper.SetDefault("treasury.closing_cache_ttl", 10*time.Minute)
	viper.SetDefault("treasury.timezone", "America/Bogota")

	viper.SetDefault("jobs.key_sweep_schedule", "@every 1m")
	viper.SetDefault("jobs.purge_schedule", "30 3 * * *")
	viper.SetDefault("jobs.purge_enabled", false)
	viper.SetDefault("jobs.purge_cutoff_age", 365*24*time.Hour)
	viper.SetDefault("jobs.purge_batch_size", 500)
	viper.SetDefault("jobs.purge_max_batches_tick", 20)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
}

// Load reads the optional .env file and the environment into a Config.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	setDefaults()

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	// A missing .env is fine, the environment is enough.
	_ = viper.ReadInConfig()

	cfg := &Config{
		Env:  viper.GetString("env"),
		Port: viper.GetString("port"),
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     viper.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey:   viper.GetString("jwt.secret_key"),
			ExpiryHours: viper.GetInt("jwt.expiry_hours"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      viper.GetString("rabbitmq.url"),
			Exchange: viper.GetString("rabbitmq.exchange"),
		},
		Treasury: TreasuryConfig{
			MaxTopupAmount:  viper.GetString("treasury.max_topup_amount"),
			KeyHashCost:     viper.GetInt("treasury.key_hash_cost"),
			ClosingCacheTTL: viper.GetDuration("treasury.closing_cache_ttl"),
			Timezone:        viper.GetString("treasury.timezone"),
		},
		Jobs: JobsConfig{
			KeySweepSchedule:    viper.GetString("jobs.key_sweep_schedule"),
			PurgeSchedule:       viper.GetString("jobs.purge_schedule"),
			PurgeEnabled:        viper.GetBool("jobs.purge_enabled"),
			PurgeCutoffAge:      viper.GetDuration("jobs.purge_cutoff_age"),
			PurgeBatchSize:      viper.GetInt("jobs.purge_batch_size"),
			PurgeMaxBatchesTick: viper.GetInt("jobs.purge_max_batches_tick"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.JWT.SecretKey) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if _, err := time.LoadLocation(c.Treasury.Timezone); err != nil {
		return fmt.Errorf("invalid TREASURY_TIMEZONE %q: %w", c.Treasury.Timezone, err)
	}
	if c.Jobs.PurgeBatchSize <= 0 {
		return fmt.Errorf("PURGE_BATCH_SIZE must be positive")
	}
	return nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Location returns the business timezone used to compute closing days.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Treasury.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
