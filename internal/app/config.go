package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kryptonit/mes-backend/internal/data/db"
	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
	"github.com/kryptonit/mes-backend/internal/realtime/bus"
	"github.com/kryptonit/mes-backend/internal/services"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":5000"`
	LogMode  string `env:"LOG_MODE" envDefault:"development"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Version  string `env:"APP_VERSION" envDefault:"dev"`

	DBDriver         string `env:"DB_DRIVER" envDefault:"postgres"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresName     string `env:"POSTGRES_NAME" envDefault:"mes"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"mes.db"`

	AuthMode          string        `env:"AUTH_MODE" envDefault:"local"`
	SecretKey         string        `env:"SECRET_KEY"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"5h"`
	KeycloakIssuer    string        `env:"KEYCLOAK_ISSUER"`
	KeycloakAudience  string        `env:"KEYCLOAK_AUDIENCE"`
	KeycloakPublicKey string        `env:"KEYCLOAK_PUBLIC_KEY"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisChannel    string        `env:"REDIS_CHANNEL" envDefault:"mes:events"`
	AbilityCacheTTL time.Duration `env:"ABILITY_CACHE_TTL" envDefault:"5m"`

	ReleaseExpiredInterval time.Duration `env:"RELEASE_EXPIRED_RESERVATIONS_INTERVAL" envDefault:"60s"`
	ReservationTTL         time.Duration `env:"RESERVATION_DEFAULT_TTL" envDefault:"15m"`
	SessionStaleAfter      time.Duration `env:"SESSION_STALE_AFTER" envDefault:"12h"`
	SessionSweepInterval   time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`

	StorageMode          string `env:"STORAGE_MODE" envDefault:"local"`
	StorageLocalDir      string `env:"STORAGE_LOCAL_DIR" envDefault:"uploads"`
	GCSBucket            string `env:"GCS_BUCKET"`
	StorageEmulatorHost  string `env:"STORAGE_EMULATOR_HOST"`
	StoragePublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsAddr    string `env:"METRICS_ADDR"`

	OtelEnabled      bool    `env:"OTEL_ENABLED"`
	OtelSamplerRatio float64 `env:"OTEL_SAMPLER_RATIO" envDefault:"1"`
	OtelEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelInsecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE"`

	RBACMatrixPath string `env:"RBAC_MATRIX_PATH"`
}

// LoadConfig reads the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	c.StorageMode = strings.ToLower(strings.TrimSpace(c.StorageMode))
	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DBDriverPostgres, DBDriverSQLite:
	default:
		return fmt.Errorf("invalid DB_DRIVER=%q (allowed: %q, %q)", c.DBDriver, DBDriverPostgres, DBDriverSQLite)
	}
	switch c.AuthMode {
	case services.AuthModeLocal, services.AuthModeKeycloak, services.AuthModeAuto:
	default:
		return fmt.Errorf("invalid AUTH_MODE=%q", c.AuthMode)
	}
	if c.AuthMode != services.AuthModeKeycloak && strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("SECRET_KEY is required when AUTH_MODE=%q", c.AuthMode)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_DEFAULT_TTL must be positive")
	}
	return nil
}

func (c Config) Postgres() db.PostgresConfig {
	return db.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPassword,
		Name:     c.PostgresName,
		SSLMode:  c.PostgresSSLMode,
	}
}

func (c Config) Auth() services.AuthConfig {
	return services.AuthConfig{
		Mode:              c.AuthMode,
		SecretKey:         c.SecretKey,
		AccessTTL:         c.AccessTokenTTL,
		KeycloakIssuer:    c.KeycloakIssuer,
		KeycloakAudience:  c.KeycloakAudience,
		KeycloakPublicKey: c.KeycloakPublicKey,
	}
}

func (c Config) Storage() storage.Config {
	return storage.Config{
		Mode:          storage.Mode(c.StorageMode),
		LocalDir:      strings.TrimSpace(c.StorageLocalDir),
		Bucket:        strings.TrimSpace(c.GCSBucket),
		EmulatorHost:  strings.TrimSpace(c.StorageEmulatorHost),
		PublicBaseURL: strings.TrimSpace(c.StoragePublicBaseURL),
	}
}

func (c Config) Bus() bus.Config {
	return bus.Config{RedisAddr: strings.TrimSpace(c.RedisAddr), RedisChannel: c.RedisChannel}
}

func (c Config) Otel() observability.OtelConfig {
	return observability.OtelConfig{
		Enabled:      c.OtelEnabled,
		ServiceName:  serviceName,
		Environment:  c.AppEnv,
		Version:      c.Version,
		SamplerRatio: c.OtelSamplerRatio,
		Endpoint:     c.OtelEndpoint,
		Insecure:     c.OtelInsecure,
	}
}
