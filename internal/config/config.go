// Package config loads runtime settings from an optional TOML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Session storage backends.
const (
	SessionBackendMemory   = "memory"
	SessionBackendDynamoDB = "dynamodb"
	SessionBackendRedis    = "redis"
)

// Secret resolution backends.
const (
	SecretBackendEnv = "env"
	SecretBackendSSM = "ssm"
	SecretBackendKMS = "kms"
)

// Config captures the runtime configuration for the photo frame server.
type Config struct {
	Port        int
	DevMode     bool
	LogLevel    string
	FrontendURL string

	GoogleClientID    string
	GoogleRedirectURI string

	// Secrets are looked up by name through a secret.Resolver.
	SecretBackend      string
	KMSKeyID           string
	SessionSecretParam string
	ClientSecretParam  string
	AdminPasswordParam string
	SessionMaxAge      time.Duration

	SessionBackend string
	SessionsTable  string
	RedisAddr      string
	RedisDB        int

	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration
	MediaItemCacheTTL  time.Duration

	UpstreamTimeout time.Duration
	PickerBaseURL   string
	LibraryBaseURL  string
	RevokeURL       string

	PickerPollInterval  time.Duration
	PickerTimeout       time.Duration
	PickerSweepInterval time.Duration
	PickerRetention     time.Duration

	PhotosRateLimit float64
	PhotosRateBurst int
	LoginRateLimit  int
}

// fileConfig mirrors Config for TOML decoding. Durations are strings such as "5m".
type fileConfig struct {
	Port        *int    `toml:"port"`
	DevMode     *bool   `toml:"dev_mode"`
	LogLevel    *string `toml:"log_level"`
	FrontendURL *string `toml:"frontend_url"`

	Google struct {
		ClientID    *string `toml:"client_id"`
		RedirectURI *string `toml:"redirect_uri"`
	} `toml:"google"`

	Secrets struct {
		Backend            *string `toml:"backend"`
		KMSKeyID           *string `toml:"kms_key_id"`
		SessionSecretParam *string `toml:"session_secret_param"`
		ClientSecretParam  *string `toml:"client_secret_param"`
		AdminPasswordParam *string `toml:"admin_password_param"`
	} `toml:"secrets"`

	Session struct {
		Backend   *string `toml:"backend"`
		MaxAge    *string `toml:"max_age"`
		Table     *string `toml:"table"`
		RedisAddr *string `toml:"redis_addr"`
		RedisDB   *int    `toml:"redis_db"`
	} `toml:"session"`

	Cache struct {
		TTL           *string `toml:"ttl"`
		MaxEntries    *int    `toml:"max_entries"`
		SweepInterval *string `toml:"sweep_interval"`
		MediaItemTTL  *string `toml:"media_item_ttl"`
	} `toml:"cache"`

	Upstream struct {
		Timeout        *string  `toml:"timeout"`
		PickerBaseURL  *string  `toml:"picker_base_url"`
		LibraryBaseURL *string  `toml:"library_base_url"`
		RevokeURL      *string  `toml:"revoke_url"`
		RateLimit      *float64 `toml:"rate_limit"`
		RateBurst      *int     `toml:"rate_burst"`
	} `toml:"upstream"`

	Picker struct {
		PollInterval  *string `toml:"poll_interval"`
		Timeout       *string `toml:"timeout"`
		SweepInterval *string `toml:"sweep_interval"`
		Retention     *string `toml:"retention"`
	} `toml:"picker"`

	LoginRateLimit *int `toml:"login_rate_limit"`
}

// Default returns the built-in configuration used before any overrides.
func Default() Config {
	return Config{
		Port:        8080,
		LogLevel:    "info",
		FrontendURL: "http://localhost:3000",

		GoogleRedirectURI: "http://localhost:8080/api/admin/google-photos/callback",

		SecretBackend:      SecretBackendEnv,
		SessionSecretParam: "/photoframe/session-secret",
		ClientSecretParam:  "/photoframe/google-client-secret",
		AdminPasswordParam: "/photoframe/admin-password",
		SessionMaxAge:      24 * time.Hour,

		SessionBackend: SessionBackendMemory,
		SessionsTable:  "PhotoFrameSessions",
		RedisAddr:      "localhost:6379",

		CacheTTL:           5 * time.Minute,
		CacheMaxEntries:    1000,
		CacheSweepInterval: 10 * time.Minute,
		MediaItemCacheTTL:  30 * time.Minute,

		UpstreamTimeout: 30 * time.Second,
		PickerBaseURL:   "https://photospicker.googleapis.com/v1",
		LibraryBaseURL:  "https://photoslibrary.googleapis.com/v1",
		RevokeURL:       "https://oauth2.googleapis.com/revoke",

		PickerPollInterval:  5 * time.Second,
		PickerTimeout:       5 * time.Minute,
		PickerSweepInterval: 30 * time.Second,
		PickerRetention:     10 * time.Minute,

		PhotosRateLimit: 10,
		PhotosRateBurst: 5,
		LoginRateLimit:  5,
	}
}

// Load reads the TOML file named by PHOTOFRAME_CONFIG (if any) and then applies
// environment variable overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("PHOTOFRAME_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getInt("PORT", cfg.Port)
	cfg.DevMode = getBool("DEV_MODE", cfg.DevMode)
	cfg.LogLevel = getString("LOG_LEVEL", cfg.LogLevel)
	cfg.FrontendURL = getString("FRONTEND_URL", cfg.FrontendURL)

	cfg.GoogleClientID = getString("GOOGLE_CLIENT_ID", cfg.GoogleClientID)
	cfg.GoogleRedirectURI = getString("GOOGLE_REDIRECT_URI", cfg.GoogleRedirectURI)

	cfg.SecretBackend = getString("SECRET_BACKEND", cfg.SecretBackend)
	cfg.KMSKeyID = getString("KMS_KEY_ID", cfg.KMSKeyID)
	cfg.SessionSecretParam = getString("SESSION_SECRET_PARAM", cfg.SessionSecretParam)
	cfg.ClientSecretParam = getString("GOOGLE_CLIENT_SECRET_PARAM", cfg.ClientSecretParam)
	cfg.AdminPasswordParam = getString("ADMIN_PASSWORD_PARAM", cfg.AdminPasswordParam)
	cfg.SessionMaxAge = getDuration("SESSION_MAX_AGE", cfg.SessionMaxAge)

	cfg.SessionBackend = getString("SESSION_BACKEND", cfg.SessionBackend)
	cfg.SessionsTable = getString("SESSIONS_TABLE", cfg.SessionsTable)
	cfg.RedisAddr = getString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = getInt("REDIS_DB", cfg.RedisDB)

	cfg.CacheTTL = getDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.CacheMaxEntries = getInt("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.CacheSweepInterval = getDuration("CACHE_SWEEP_INTERVAL", cfg.CacheSweepInterval)
	cfg.MediaItemCacheTTL = getDuration("MEDIA_ITEM_CACHE_TTL", cfg.MediaItemCacheTTL)

	cfg.UpstreamTimeout = getDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	cfg.PickerBaseURL = getString("PICKER_BASE_URL", cfg.PickerBaseURL)
	cfg.LibraryBaseURL = getString("LIBRARY_BASE_URL", cfg.LibraryBaseURL)
	cfg.RevokeURL = getString("GOOGLE_REVOKE_URL", cfg.RevokeURL)

	cfg.PickerPollInterval = getDuration("PICKER_POLL_INTERVAL", cfg.PickerPollInterval)
	cfg.PickerTimeout = getDuration("PICKER_TIMEOUT", cfg.PickerTimeout)
	cfg.PickerSweepInterval = getDuration("PICKER_SWEEP_INTERVAL", cfg.PickerSweepInterval)
	cfg.PickerRetention = getDuration("PICKER_RETENTION", cfg.PickerRetention)

	cfg.PhotosRateLimit = getFloat("PHOTOS_RATE_LIMIT", cfg.PhotosRateLimit)
	cfg.PhotosRateBurst = getInt("PHOTOS_RATE_BURST", cfg.PhotosRateBurst)
	cfg.LoginRateLimit = getInt("LOGIN_RATE_LIMIT", cfg.LoginRateLimit)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendDynamoDB, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	switch c.SecretBackend {
	case SecretBackendEnv, SecretBackendSSM, SecretBackendKMS:
	default:
		return fmt.Errorf("unknown secret backend %q", c.SecretBackend)
	}
	if c.SecretBackend == SecretBackendKMS && c.KMSKeyID == "" {
		return fmt.Errorf("KMS_KEY_ID is required for the kms secret backend")
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.CacheMaxEntries)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.Port, fc.Port)
	setBool(&c.DevMode, fc.DevMode)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.FrontendURL, fc.FrontendURL)

	setString(&c.GoogleClientID, fc.Google.ClientID)
	setString(&c.GoogleRedirectURI, fc.Google.RedirectURI)

	setString(&c.SecretBackend, fc.Secrets.Backend)
	setString(&c.KMSKeyID, fc.Secrets.KMSKeyID)
	setString(&c.SessionSecretParam, fc.Secrets.SessionSecretParam)
	setString(&c.ClientSecretParam, fc.Secrets.ClientSecretParam)
	setString(&c.AdminPasswordParam, fc.Secrets.AdminPasswordParam)

	setString(&c.SessionBackend, fc.Session.Backend)
	setString(&c.SessionsTable, fc.Session.Table)
	setString(&c.RedisAddr, fc.Session.RedisAddr)
	setInt(&c.RedisDB, fc.Session.RedisDB)

	setInt(&c.CacheMaxEntries, fc.Cache.MaxEntries)

	setString(&c.PickerBaseURL, fc.Upstream.PickerBaseURL)
	setString(&c.LibraryBaseURL, fc.Upstream.LibraryBaseURL)
	setString(&c.RevokeURL, fc.Upstream.RevokeURL)
	if fc.Upstream.RateLimit != nil {
		c.PhotosRateLimit = *fc.Upstream.RateLimit
	}
	setInt(&c.PhotosRateBurst, fc.Upstream.RateBurst)
	setInt(&c.LoginRateLimit, fc.LoginRateLimit)

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"session.max_age", fc.Session.MaxAge, &c.SessionMaxAge},
		{"cache.ttl", fc.Cache.TTL, &c.CacheTTL},
		{"cache.sweep_interval", fc.Cache.SweepInterval, &c.CacheSweepInterval},
		{"cache.media_item_ttl", fc.Cache.MediaItemTTL, &c.MediaItemCacheTTL},
		{"upstream.timeout", fc.Upstream.Timeout, &c.UpstreamTimeout},
		{"picker.poll_interval", fc.Picker.PollInterval, &c.PickerPollInterval},
		{"picker.timeout", fc.Picker.Timeout, &c.PickerTimeout},
		{"picker.sweep_interval", fc.Picker.SweepInterval, &c.PickerSweepInterval},
		{"picker.retention", fc.Picker.Retention, &c.PickerRetention},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
