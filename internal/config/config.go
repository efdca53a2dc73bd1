// Package config loads the recognized configuration surface via
// viper + godotenv, struct-tag validated.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ridgeline/meterbill/internal/validator"
)

type Configuration struct {
	Monitor      MonitorConfig      `validate:"required"`
	Credential   CredentialConfig   `validate:"required"`
	RatePlan     UpstreamConfig     `validate:"required"`
	Subscription UpstreamConfig     `validate:"required"`
	EventStore   EventStoreConfig   `validate:"required"`
	Notifier     UpstreamConfig     `validate:"required"`
	Postgres     PostgresConfig     `validate:"required"`
	ClickHouse   ClickHouseConfig   `validate:"required"`
	Logging      LoggingConfig      `validate:"required"`
	Temporal     TemporalConfig     `validate:"omitempty"`
	Cache        CacheConfig        `validate:"omitempty"`
}

// MonitorConfig governs the billing-period monitor's cadence.
type MonitorConfig struct {
	Cadence         time.Duration `mapstructure:"cadence" validate:"required" default:"10m"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"required" default:"10s"`
	WorkerPoolSize  int           `mapstructure:"worker_pool_size" validate:"required" default:"8"`
}

// CredentialConfig governs the service-credential issuer.
type CredentialConfig struct {
	Secret string        `mapstructure:"secret" validate:"required"`
	Issuer string        `mapstructure:"issuer" validate:"required" default:"metering-service"`
	TTL    time.Duration `mapstructure:"ttl" validate:"required" default:"2h"`
}

// UpstreamConfig is shared by the rate-plan, subscription, and notifier
// collaborators: a base URL plus a per-call timeout.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" validate:"required" default:"10s"`
	MaxResponseMB     int64         `mapstructure:"max_response_mb" default:"4"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" default:"20"`
}

type EventStoreConfig struct {
	Table       string        `mapstructure:"table" validate:"required" default:"ingestion_event"`
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"required" default:"10s"`
}

type ClickHouseConfig struct {
	Address  string `mapstructure:"address" validate:"required"`
	TLS      bool   `mapstructure:"tls"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host" validate:"required"`
	Port                   int    `mapstructure:"port" validate:"required"`
	User                   string `mapstructure:"user" validate:"required"`
	Password               string `mapstructure:"password" validate:"required"`
	DBName                 string `mapstructure:"dbname" validate:"required"`
	SSLMode                string `mapstructure:"sslmode" validate:"required"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" default:"10"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" default:"60"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required" default:"info"`
}

type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	TaskQueue string `mapstructure:"task_queue" default:"billing-period-monitor"`
	Namespace string `mapstructure:"namespace" default:"default"`
	Enabled   bool   `mapstructure:"enabled"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" default:"true"`
	TTL     time.Duration `mapstructure:"ttl" default:"5m"`
}

// NewConfig loads .env, reads config.yaml from ./internal/config or
// ./config, decodes it and validates the result. The `default` struct
// tags above are not applied: a field tagged validate:"required" must be
// supplied explicitly, and any other unset field keeps its zero value.
func NewConfig() (*Configuration, error) {
	v := viper.New()

	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("METERBILL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := validator.ValidateRequest(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
