// Package config loads the trust core's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-driven setting the trust core consumes.
type Config struct {
	// Database / server
	DatabaseURL string
	ServerAddr  string

	// Token Engine (C3)
	JWTIssuer           string
	JWTAudience         string
	JWTClockSkewSec     int
	JWTExpirationSec    int
	JWTRefreshExpireSec int

	// Key Ring (C1)
	JWKSRotationIntervalHours int
	VaultKVMount              string

	// Identity Store (C10)
	SuperAdminEmail    string
	SuperAdminPassword string

	// API key guard (§6)
	APIKey string

	// Permission Resolver (C5)
	AuthzCacheTTL     time.Duration
	AuthzMaxCacheSize int

	// Device Key Exchange (C7)
	MaxDevicesPerUser int
	KeyValidityDays   int
	HKDFInfo          string
	HKDFOutputLength  int
}

// Load reads Config from the process environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "file::memory:?cache=shared"),
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),

		JWTIssuer:           getEnv("JWT_ISSUER", "trustcore"),
		JWTAudience:         getEnv("JWT_AUDIENCE", "trustcore-clients"),
		JWTClockSkewSec:     getEnvInt("JWT_CLOCK_SKEW_SEC", 10),
		JWTExpirationSec:    getEnvInt("JWT_EXPIRATION_SEC", 3600),
		JWTRefreshExpireSec: getEnvInt("JWT_REFRESH_EXPIRATION_SEC", 30*24*3600),

		JWKSRotationIntervalHours: getEnvInt("JWKS_KEY_ROTATION_INTERVAL_HOURS", 24*30),
		VaultKVMount:              getEnv("VAULT_KV_MOUNT", "secret"),

		SuperAdminEmail:    getEnv("SA_EMAIL", ""),
		SuperAdminPassword: getEnv("SA_PWD", ""),

		APIKey: getEnv("API_KEY", ""),

		AuthzCacheTTL:     time.Duration(getEnvInt("AUTHZ_CACHE_TTL_MS", 60_000)) * time.Millisecond,
		AuthzMaxCacheSize: getEnvInt("AUTHZ_MAX_CACHE_SIZE", 10_000),

		MaxDevicesPerUser: getEnvInt("MAX_DEVICES_PER_USER", 5),
		KeyValidityDays:   getEnvInt("KEY_VALIDITY_DAYS", 90),
		HKDFInfo:          getEnv("HKDF_INFO", "trustcore-device-channel-v1"),
		HKDFOutputLength:  getEnvInt("HKDF_OUTPUT_LENGTH", 32),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTIssuer == "" {
		return fmt.Errorf("config: JWT_ISSUER must not be empty")
	}
	if c.JWTAudience == "" {
		return fmt.Errorf("config: JWT_AUDIENCE must not be empty")
	}
	if c.MaxDevicesPerUser <= 0 {
		return fmt.Errorf("config: MAX_DEVICES_PER_USER must be positive")
	}
	if c.HKDFOutputLength <= 0 {
		return fmt.Errorf("config: HKDF_OUTPUT_LENGTH must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
