package session

import (
	"testing"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("CHATLINE_TOKEN_STORE", "")
	t.Setenv("CHATLINE_STORAGE_KEY", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageKey != "accessToken" {
		t.Fatalf("storage key mismatch: %q", cfg.StorageKey)
	}
	if cfg.Backend != BackendFile {
		t.Fatalf("backend mismatch: %q", cfg.Backend)
	}
	if cfg.FilePath == "" {
		t.Fatalf("expected default file path")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHATLINE_STORAGE_KEY", "token")
	t.Setenv("CHATLINE_TOKEN_STORE", "REDIS")
	t.Setenv("CHATLINE_REDIS_ADDR", "cache:6380")
	t.Setenv("CHATLINE_REDIS_DB", "4")
	t.Setenv("CHATLINE_REDIS_PREFIX", "test:")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageKey != "token" {
		t.Fatalf("storage key mismatch: %q", cfg.StorageKey)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("backend mismatch: %q", cfg.Backend)
	}
	if cfg.RedisAddr != "cache:6380" || cfg.RedisDB != 4 || cfg.RedisPrefix != "test:" {
		t.Fatalf("redis settings mismatch: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad redis db", env: map[string]string{"CHATLINE_REDIS_DB": "-1"}},
		{name: "unknown backend", env: map[string]string{"CHATLINE_TOKEN_STORE": "etcd"}},
		{name: "postgres without url", env: map[string]string{"CHATLINE_TOKEN_STORE": "postgres", "CHATLINE_DATABASE_URL": ""}},
		{name: "postgres bad schema", env: map[string]string{
			"CHATLINE_TOKEN_STORE":     "postgres",
			"CHATLINE_DATABASE_URL":    "postgres://localhost/chat",
			"CHATLINE_POSTGRES_SCHEMA": "bad-schema;",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfigFromEnv()
			if err != ErrConfig {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}
