package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	clearTrustcoreEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "trustcore", cfg.JWTIssuer)
	require.Equal(t, 10, cfg.JWTClockSkewSec)
	require.Equal(t, 3600, cfg.JWTExpirationSec)
	require.Equal(t, 5, cfg.MaxDevicesPerUser)
	require.Equal(t, 60*time.Second, cfg.AuthzCacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	clearTrustcoreEnv(t)
	t.Setenv("JWT_ISSUER", "custom-issuer")
	t.Setenv("JWT_CLOCK_SKEW_SEC", "60")
	t.Setenv("MAX_DEVICES_PER_USER", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "custom-issuer", cfg.JWTIssuer)
	require.Equal(t, 60, cfg.JWTClockSkewSec)
	require.Equal(t, 3, cfg.MaxDevicesPerUser)
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearTrustcoreEnv(t)
	t.Setenv("MAX_DEVICES_PER_USER", "0")

	_, err := Load()
	require.Error(t, err)
}

func clearTrustcoreEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "SERVER_ADDR", "JWT_ISSUER", "JWT_AUDIENCE",
		"JWT_CLOCK_SKEW_SEC", "JWT_EXPIRATION_SEC", "JWT_REFRESH_EXPIRATION_SEC",
		"JWKS_KEY_ROTATION_INTERVAL_HOURS", "VAULT_KV_MOUNT", "SA_EMAIL", "SA_PWD",
		"API_KEY", "AUTHZ_CACHE_TTL_MS", "AUTHZ_MAX_CACHE_SIZE",
		"MAX_DEVICES_PER_USER", "KEY_VALIDITY_DAYS", "HKDF_INFO", "HKDF_OUTPUT_LENGTH",
	} {
		os.Unsetenv(key)
	}
}
