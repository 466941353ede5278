package authapi

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrConfig is returned for invalid gateway configuration.
var ErrConfig = errors.New("authapi: invalid config")

// Locales understood by the user-facing error messages.
const (
	LocaleEN = "en"
	LocaleRU = "ru"
)

// Config controls how the client reaches the REST API.
type Config struct {
	// BaseURL is the API origin, e.g. "http://localhost:3000".
	BaseURL string `yaml:"base_url"`

	// HTTPTimeout bounds a single HTTP exchange. Zero means no timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Locale selects the language of user-facing error messages.
	Locale string `yaml:"locale"`

	// UserAgent is sent on every request.
	UserAgent string `yaml:"user_agent"`

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// DefaultConfig returns the configuration used for local development.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:3000",
		Locale:           LocaleEN,
		UserAgent:        "chatline/1.0",
		MaxResponseBytes: 4 << 20, // 4 MiB
	}
}

// LoadConfigFromEnv loads the gateway config from environment variables with safe defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = envString("CHATLINE_API_URL", cfg.BaseURL)
	cfg.HTTPTimeout = envDuration("CHATLINE_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.Locale = strings.ToLower(envString("CHATLINE_LOCALE", cfg.Locale))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the base URL, the locale and the limits.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Host == "" {
		return ErrConfig
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrConfig
	}
	switch c.Locale {
	case LocaleEN, LocaleRU:
	default:
		return ErrConfig
	}
	if c.HTTPTimeout < 0 || c.MaxResponseBytes <= 0 {
		return ErrConfig
	}
	return nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
