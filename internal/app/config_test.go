package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kryptonit/mes-backend/internal/platform/storage"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SECRET_KEY", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":5000", cfg.HTTPAddr)
	require.Equal(t, DBDriverPostgres, cfg.DBDriver)
	require.Equal(t, 5*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, time.Minute, cfg.ReleaseExpiredInterval)
	require.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	require.Equal(t, 12*time.Hour, cfg.SessionStaleAfter)
	require.Equal(t, storage.ModeLocal, cfg.Storage().Mode)
	require.Empty(t, cfg.CORSOrigins)
	require.Equal(t, "", cfg.Bus().RedisAddr)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("DB_DRIVER", " SQLite ")
	t.Setenv("SQLITE_PATH", ":memory:")
	t.Setenv("CORS_ORIGINS", "http://a.local, ,http://b.local")
	t.Setenv("RESERVATION_DEFAULT_TTL", "90s")
	t.Setenv("STORAGE_MODE", "gcs_emulator")
	t.Setenv("GCS_BUCKET", " mes ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, DBDriverSQLite, cfg.DBDriver)
	require.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSOrigins)
	require.Equal(t, 90*time.Second, cfg.ReservationTTL)
	require.Equal(t, storage.ModeGCSEmulator, cfg.Storage().Mode)
	require.Equal(t, "mes", cfg.Storage().Bucket)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":   {},
		"bad driver":       {"SECRET_KEY": "x", "DB_DRIVER": "mysql"},
		"bad auth mode":    {"SECRET_KEY": "x", "AUTH_MODE": "ldap"},
		"bad duration":     {"SECRET_KEY": "x", "ACCESS_TOKEN_TTL": "soon"},
		"zero reserve ttl": {"SECRET_KEY": "x", "RESERVATION_DEFAULT_TTL": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SECRET_KEY", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestKeycloakModeNeedsNoSecret(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	t.Setenv("AUTH_MODE", "keycloak")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "keycloak", cfg.Auth().Mode)
}
