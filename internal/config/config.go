// README: Config loader with env defaults for HTTP, DB, Redis, auth, maps and dispatch settings.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

const (
	AuthProviderJWT      = "jwt"
	AuthProviderFirebase = "firebase"
)

type HTTPConfig struct {
	Addr string `env:"ADDR" envDefault:":8080"`
}

// DBConfig selects the Postgres stores; an empty DSN keeps everything in memory.
type DBConfig struct {
	DSN string `env:"DSN"`
}

// RedisConfig selects the Redis settings store and event publisher when Addr is set.
type RedisConfig struct {
	Addr    string `env:"ADDR"`
	Channel string `env:"CHANNEL" envDefault:"yisong:order-events"`
}

type AuthConfig struct {
	Provider  string `env:"PROVIDER" envDefault:"jwt"`
	JWTSecret string `env:"JWT_SECRET"`
}

// WebhookConfig guards partner callbacks; an empty secret leaves them open (local development).
type WebhookConfig struct {
	Secret string `env:"SECRET"`
}

type FirebaseConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	PushEnabled     bool   `env:"PUSH_ENABLED" envDefault:"false"`
}

type MapsConfig struct {
	APIKey string `env:"API_KEY"`
}

// DispatchConfig controls quoting deadlines and the carrier simulator.
type DispatchConfig struct {
	Timezone        string        `env:"TIMEZONE" envDefault:"Asia/Shanghai"`
	QuoteTimeout    time.Duration `env:"QUOTE_TIMEOUT" envDefault:"10s"`
	SimulateCarrier bool          `env:"SIMULATE_CARRIER" envDefault:"true"`
	SimAcceptRate   float64       `env:"SIM_ACCEPT_RATE" envDefault:"0.7"`
	SimAcceptAfter  time.Duration `env:"SIM_ACCEPT_AFTER" envDefault:"5s"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"yisong-api"`
}

type Config struct {
	HTTP      HTTPConfig      `envPrefix:"YISONG_HTTP_"`
	DB        DBConfig        `envPrefix:"YISONG_DB_"`
	Redis     RedisConfig     `envPrefix:"YISONG_REDIS_"`
	Auth      AuthConfig      `envPrefix:"YISONG_AUTH_"`
	Webhook   WebhookConfig   `envPrefix:"YISONG_WEBHOOK_"`
	Firebase  FirebaseConfig  `envPrefix:"YISONG_FIREBASE_"`
	Maps      MapsConfig      `envPrefix:"YISONG_MAPS_"`
	Dispatch  DispatchConfig  `envPrefix:"YISONG_DISPATCH_"`
	Telemetry TelemetryConfig `envPrefix:"YISONG_OTEL_"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Auth.Provider {
	case AuthProviderJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("YISONG_AUTH_JWT_SECRET is required for the jwt auth provider")
		}
	case AuthProviderFirebase:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("YISONG_FIREBASE_PROJECT_ID is required for the firebase auth provider")
		}
	default:
		return fmt.Errorf("unknown auth provider %q", c.Auth.Provider)
	}
	if c.Firebase.PushEnabled && c.Firebase.ProjectID == "" {
		return fmt.Errorf("YISONG_FIREBASE_PROJECT_ID is required when push is enabled")
	}
	if c.Dispatch.SimAcceptRate < 0 || c.Dispatch.SimAcceptRate > 1 {
		return fmt.Errorf("YISONG_DISPATCH_SIM_ACCEPT_RATE must be within [0,1], got %v", c.Dispatch.SimAcceptRate)
	}
	if _, err := time.LoadLocation(c.Dispatch.Timezone); err != nil {
		return fmt.Errorf("YISONG_DISPATCH_TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the merchant-local timezone used for time-of-day dispatch windows.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Dispatch.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
