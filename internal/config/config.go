// Package config loads the enricher configuration from environment variables.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Append logs to this file instead of stdout
//
// Service Account (catalog access):
//   - GOOGLE_CLIENT_EMAIL: Service account email (required)
//   - GOOGLE_PRIVATE_KEY: PEM private key, literal \n allowed (required)
//   - GOOGLE_PRIVATE_KEY_ID: Key id placed in the assertion header
//   - OAUTH_TOKEN_URL, OAUTH_AUDIENCE, OAUTH_SCOPE: Google defaults
//
// Upstreams:
//   - PROFILES_SPACE_ID, PROFILES_ACCESS_TOKEN: Profile API space and token (required)
//   - PROFILES_BASE_URL: Profile API (default: https://profiles.segment.com)
//   - CATALOG_BASE_URL: Document collection URL; built from GCP_PROJECT_ID and
//     CATALOG_COLLECTION (default: Products) when empty
//   - EXCHANGE_RATE_URL: Exchange-rate service (default: https://api.exchangeratesapi.io/latest)
//   - TARGET_CURRENCY: Reporting currency (default: DKK)
//   - COLLECTION_URL: Tracking API (default: https://api.segment.io/v1/track)
//   - COLLECTION_API_KEY: Tracking API write key (required)
//   - UPSTREAM_TIMEOUT: Per-request timeout (default: 10s)
//   - CATALOG_CONCURRENCY: Parallel catalog lookups per event, 0 for unbounded (default: 8)
//   - RATE_CACHE_TTL: How long exchange rates are reused, 0 disables (default: 15m)
//   - BREAKER_ENABLED: Fail fast on failing upstreams (default: true)
//   - LEGACY_SINGLE_PRODUCT_MARGIN: Use the string margin rule for single-product events (default: false)
//
// Redis Configuration (optional, shares tokens and rates between instances):
//   - REDIS_ADDRESS: Redis server address, empty disables Redis
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - TOKEN_ENCRYPTION_KEY: Encrypts tokens written to Redis when set
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"track-enricher/internal/catalog"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/currency"
	"track-enricher/internal/forwarder"
	"track-enricher/internal/oauth2"
	"track-enricher/internal/profiles"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Config holds all configuration values. Numeric and duration values are
// kept as strings until Validate has checked them.
type Config struct {
	Port     string
	LogLevel string
	LogFile  string

	ClientEmail  string
	PrivateKey   string
	PrivateKeyID string
	TokenURL     string
	Audience     string
	Scope        string

	ProfilesSpaceID     string
	ProfilesAccessToken string
	ProfilesBaseURL     string

	CatalogBaseURL    string
	GCPProjectID      string
	CatalogCollection string

	ExchangeRateURL string
	TargetCurrency  string

	CollectionURL    string
	CollectionAPIKey string

	UpstreamTimeout    string
	CatalogConcurrency string
	RateCacheTTL       string
	BreakerEnabled     bool
	LegacyMargin       bool

	RedisAddress       string
	RedisPassword      string
	RedisDB            string
	RedisPoolSize      string
	TokenEncryptionKey string
}

// Load reads the configuration from the environment. It does not validate.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		ClientEmail:  getEnv("GOOGLE_CLIENT_EMAIL", ""),
		PrivateKey:   getEnv("GOOGLE_PRIVATE_KEY", ""),
		PrivateKeyID: getEnv("GOOGLE_PRIVATE_KEY_ID", ""),
		TokenURL:     getEnv("OAUTH_TOKEN_URL", oauth2.DefaultTokenURL),
		Audience:     getEnv("OAUTH_AUDIENCE", oauth2.DefaultAudience),
		Scope:        getEnv("OAUTH_SCOPE", oauth2.DefaultScope),

		ProfilesSpaceID:     getEnv("PROFILES_SPACE_ID", ""),
		ProfilesAccessToken: getEnv("PROFILES_ACCESS_TOKEN", ""),
		ProfilesBaseURL:     getEnv("PROFILES_BASE_URL", profiles.DefaultBaseURL),

		CatalogBaseURL:    getEnv("CATALOG_BASE_URL", ""),
		GCPProjectID:      getEnv("GCP_PROJECT_ID", ""),
		CatalogCollection: getEnv("CATALOG_COLLECTION", catalog.DefaultCollection),

		ExchangeRateURL: getEnv("EXCHANGE_RATE_URL", currency.DefaultRatesURL),
		TargetCurrency:  getEnv("TARGET_CURRENCY", currency.DefaultTargetCurrency),

		CollectionURL:    getEnv("COLLECTION_URL", forwarder.DefaultCollectionURL),
		CollectionAPIKey: getEnv("COLLECTION_API_KEY", ""),

		UpstreamTimeout:    getEnv("UPSTREAM_TIMEOUT", "10s"),
		CatalogConcurrency: getEnv("CATALOG_CONCURRENCY", "8"),
		RateCacheTTL:       getEnv("RATE_CACHE_TTL", "15m"),
		BreakerEnabled:     getBoolEnv("BREAKER_ENABLED", true),
		LegacyMargin:       getBoolEnv("LEGACY_SINGLE_PRODUCT_MARGIN", false),

		RedisAddress:       getEnv("REDIS_ADDRESS", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnv("REDIS_DB", "0"),
		RedisPoolSize:      getEnv("REDIS_POOL_SIZE", "10"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv falls back to defaultValue when the variable is unset or not a
// strconv.ParseBool value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required credentials and value ranges.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"GOOGLE_CLIENT_EMAIL", c.ClientEmail},
		{"GOOGLE_PRIVATE_KEY", c.PrivateKey},
		{"PROFILES_SPACE_ID", c.ProfilesSpaceID},
		{"PROFILES_ACCESS_TOKEN", c.ProfilesAccessToken},
		{"COLLECTION_API_KEY", c.CollectionAPIKey},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.ConfigError(fmt.Sprintf("%s environment variable is required", r.name))
		}
	}

	if c.CatalogBaseURL == "" && c.GCPProjectID == "" {
		return errors.ConfigError("CATALOG_BASE_URL or GCP_PROJECT_ID is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return errors.ConfigError("PORT must be a valid port number between 1 and 65535")
	}

	if !currencyCode.MatchString(c.TargetCurrency) {
		return errors.ConfigError("TARGET_CURRENCY must be a three-letter uppercase ISO 4217 code")
	}

	if d, err := time.ParseDuration(c.UpstreamTimeout); err != nil || d <= 0 {
		return errors.ConfigError("UPSTREAM_TIMEOUT must be a positive duration (e.g., '10s')")
	}
	if d, err := time.ParseDuration(c.RateCacheTTL); err != nil || d < 0 {
		return errors.ConfigError("RATE_CACHE_TTL must be a non-negative duration (e.g., '15m', '0s')")
	}
	if n, err := strconv.Atoi(c.CatalogConcurrency); err != nil || n < 0 {
		return errors.ConfigError("CATALOG_CONCURRENCY must be zero or a positive number")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return errors.ConfigError("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return errors.ConfigError("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.TokenEncryptionKey != "" && len(c.TokenEncryptionKey) < 16 {
		return errors.ConfigError("TOKEN_ENCRYPTION_KEY must be at least 16 characters when provided")
	}

	return nil
}

// Timeout returns UPSTREAM_TIMEOUT, or 10s if it does not parse.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.UpstreamTimeout, 10*time.Second)
}

// RateTTL returns RATE_CACHE_TTL, or 0 if it does not parse.
func (c *Config) RateTTL() time.Duration {
	return parseDuration(c.RateCacheTTL, 0)
}

// Concurrency returns CATALOG_CONCURRENCY, or 0 if it does not parse.
func (c *Config) Concurrency() int {
	n, _ := strconv.Atoi(c.CatalogConcurrency)
	return n
}

// CatalogURL returns the document collection URL.
func (c *Config) CatalogURL() string {
	if c.CatalogBaseURL != "" {
		return c.CatalogBaseURL
	}
	return catalog.FirestoreURL(c.GCPProjectID, c.CatalogCollection)
}

// RedisDBNumber returns REDIS_DB as an int
func (c *Config) RedisDBNumber() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

// RedisPool returns REDIS_POOL_SIZE as an int
func (c *Config) RedisPool() int {
	n, _ := strconv.Atoi(c.RedisPoolSize)
	return n
}

// Settings returns the per-invocation credentials.
func (c *Config) Settings() Settings {
	return Settings{
		ServiceAccount: oauth2.ServiceAccount{
			ClientEmail:  c.ClientEmail,
			PrivateKey:   c.PrivateKey,
			PrivateKeyID: c.PrivateKeyID,
		},
		ProfilesSpaceID:     c.ProfilesSpaceID,
		ProfilesAccessToken: c.ProfilesAccessToken,
		CollectionAPIKey:    c.CollectionAPIKey,
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Settings are the credentials one enrichment run needs.
type Settings struct {
	ServiceAccount      oauth2.ServiceAccount
	ProfilesSpaceID     string
	ProfilesAccessToken string
	CollectionAPIKey    string
}
