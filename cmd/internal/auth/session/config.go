package session

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Backend names a TokenStore implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config defines where and how the credential is persisted.
//
// The credential is a single opaque string stored under StorageKey in the
// selected backend.
type Config struct {
	// StorageKey is the well-known key the credential is stored under.
	StorageKey string `yaml:"storage_key"`

	// Backend selects the TokenStore implementation.
	Backend Backend `yaml:"backend"`

	// FilePath is used by the file backend.
	FilePath string `yaml:"file_path"`

	// SealKey, when set, seals the file-persisted credential at rest.
	SealKey string `yaml:"seal_key"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	DatabaseURL    string `yaml:"database_url"`
	PostgresSchema string `yaml:"postgres_schema"`
}

// DefaultConfig returns a configuration suitable for a single-user workstation.
func DefaultConfig() Config {
	return Config{
		StorageKey:     "accessToken",
		Backend:        BackendFile,
		FilePath:       defaultTokenFile(),
		RedisAddr:      "127.0.0.1:6379",
		RedisPrefix:    "chatline:",
		PostgresSchema: "chatline",
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return ".chatline-token"
	}
	return filepath.Join(dir, "chatline", "token")
}

// ApplyEnv overrides c with any CHATLINE_* variables that are set.
//
// Recognized:
//   - CHATLINE_STORAGE_KEY
//   - CHATLINE_TOKEN_STORE (memory | file | redis | postgres)
//   - CHATLINE_TOKEN_FILE
//   - CHATLINE_TOKEN_SEAL_KEY
//   - CHATLINE_REDIS_ADDR, CHATLINE_REDIS_PASSWORD, CHATLINE_REDIS_DB, CHATLINE_REDIS_PREFIX
//   - CHATLINE_DATABASE_URL, CHATLINE_POSTGRES_SCHEMA
//
// Returns ErrConfig if a value cannot be parsed.
func (c *Config) ApplyEnv() error {
	if v := envTrim("CHATLINE_STORAGE_KEY"); v != "" {
		c.StorageKey = v
	}
	if v := envTrim("CHATLINE_TOKEN_STORE"); v != "" {
		c.Backend = Backend(strings.ToLower(v))
	}
	if v := envTrim("CHATLINE_TOKEN_FILE"); v != "" {
		c.FilePath = v
	}
	if v := envTrim("CHATLINE_TOKEN_SEAL_KEY"); v != "" {
		c.SealKey = v
	}
	if v := envTrim("CHATLINE_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := envTrim("CHATLINE_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := envTrim("CHATLINE_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ErrConfig
		}
		c.RedisDB = n
	}
	if v := envTrim("CHATLINE_REDIS_PREFIX"); v != "" {
		c.RedisPrefix = v
	}
	if v := envTrim("CHATLINE_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := envTrim("CHATLINE_POSTGRES_SCHEMA"); v != "" {
		c.PostgresSchema = v
	}
	return nil
}

// Validate enforces backend-specific requirements.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StorageKey) == "" {
		return ErrConfig
	}
	switch c.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.FilePath) == "" {
			return ErrConfig
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return ErrConfig
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" || !isValidPGIdent(c.PostgresSchema) {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv returns DefaultConfig overridden by the environment.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
