package app

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	authapi "chatline/cmd/internal/auth/api"
	"chatline/cmd/internal/auth/session"
	"chatline/cmd/internal/realtime"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration.
//
// Precedence: defaults, then the YAML file named by CHATLINE_CONFIG_FILE,
// then CHATLINE_* environment variables.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// HTTPAddr enables the status surface when non-empty.
	HTTPAddr          string        `yaml:"http_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	DBMaxConns int32 `yaml:"db_max_conns"`

	// If true, the file token store must be sealed with CHATLINE_TOKEN_SEAL_KEY.
	RequireSealedToken bool `yaml:"require_sealed_token"`

	API     authapi.Config   `yaml:"api"`
	Session session.Config   `yaml:"session"`
	Channel realtime.Options `yaml:"channel"`

	// Username and Password, when both set, sign in if no persisted session can be restored.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Watch lists the user ids whose presence is requested after each handshake.
	Watch []int64 `yaml:"watch"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		DBMaxConns:        4,
		API:               authapi.DefaultConfig(),
		Session:           session.DefaultConfig(),
		Channel:           realtime.DefaultOptions(),
	}
}

// LoadConfig builds the runtime configuration and validates it.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("CHATLINE_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands ${VAR} and ${VAR:default}.
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
}

func (c *Config) applyEnv() error {
	c.LogLevel = EnvString("CHATLINE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = strings.ToLower(EnvString("CHATLINE_LOG_FORMAT", c.LogFormat))
	c.HTTPAddr = EnvString("CHATLINE_HTTP_ADDR", c.HTTPAddr)
	c.ReadHeaderTimeout = EnvDuration("CHATLINE_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ShutdownTimeout = EnvDuration("CHATLINE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.DBMaxConns = EnvInt32("CHATLINE_DB_MAX_CONNS", c.DBMaxConns)
	c.RequireSealedToken = EnvBool("CHATLINE_REQUIRE_SEALED_TOKEN", c.RequireSealedToken)

	c.API.BaseURL = EnvString("CHATLINE_API_URL", c.API.BaseURL)
	c.API.HTTPTimeout = EnvDuration("CHATLINE_HTTP_TIMEOUT", c.API.HTTPTimeout)
	c.API.Locale = strings.ToLower(EnvString("CHATLINE_LOCALE", c.API.Locale))

	if err := c.Session.ApplyEnv(); err != nil {
		return err
	}

	c.Channel.URL = EnvString("CHATLINE_WS_URL", c.Channel.URL)
	c.Channel.HeartbeatInterval = EnvDuration("CHATLINE_HEARTBEAT_INTERVAL", c.Channel.HeartbeatInterval)
	c.Channel.PongTimeout = EnvDuration("CHATLINE_HEARTBEAT_TIMEOUT", c.Channel.PongTimeout)
	c.Channel.ReconnectRetries = EnvInt("CHATLINE_RECONNECT_RETRIES", c.Channel.ReconnectRetries)
	c.Channel.ReconnectDelay = EnvDuration("CHATLINE_RECONNECT_DELAY", c.Channel.ReconnectDelay)
	c.Channel.RequestLimit = EnvInt("CHATLINE_REQUEST_LIMIT", c.Channel.RequestLimit)

	c.Username = EnvString("CHATLINE_USERNAME", c.Username)
	c.Password = EnvString("CHATLINE_PASSWORD", c.Password)

	watch, err := EnvIDs("CHATLINE_WATCH", c.Watch)
	if err != nil {
		return err
	}
	c.Watch = watch
	return nil
}

// Validate checks every section and wraps the first failure in ErrConfig.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("%w: api: %w", ErrConfig, err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrConfig, err)
	}
	if err := c.Channel.Validate(); err != nil {
		return fmt.Errorf("%w: channel: %w", ErrConfig, err)
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("%w: username and password must be set together", ErrConfig)
	}
	for _, id := range c.Watch {
		if id <= 0 {
			return fmt.Errorf("%w: watch id %d", ErrConfig, id)
		}
	}
	return nil
}
