package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", " sk-env ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.LLMAPIKey != "sk-env" {
		t.Fatalf("expected trimmed key, got %q", cfg.LLMAPIKey)
	}
	if cfg.LLMModel != "deepseek-chat" || cfg.StorageBackend != StorageFile || cfg.ContextWindow != 20 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.LLMStream {
		t.Fatalf("expected streaming enabled by default")
	}
}

func TestLoadConfig_KeyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("sk-file\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.LLMAPIKey != "sk-file" {
		t.Fatalf("expected key from file, got %q", cfg.LLMAPIKey)
	}
}

func TestLoadConfig_UnreadableKeyFile(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY_FILE", filepath.Join(t.TempDir(), "missing"))

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unreadable key file")
	}
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY_FILE", "")

	if _, err := LoadConfig(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			LLMAPIKey:              "k",
			StorageBackend:         StorageFile,
			PromptPricePerMTok:     "0.27",
			CompletionPricePerMTok: "1.10",
		}
	}

	cases := map[string]func(c *Config){
		"postgres without url": func(c *Config) { c.StorageBackend = StoragePostgres },
		"redis without addr":   func(c *Config) { c.StorageBackend = StorageRedis },
		"unknown backend":      func(c *Config) { c.StorageBackend = "s3" },
		"negative window":      func(c *Config) { c.ContextWindow = -1 },
		"bad price":            func(c *Config) { c.PromptPricePerMTok = "barato" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	c := base()
	c.StorageBackend = " Redis "
	c.RedisAddr = "localhost:6379"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if c.StorageBackend != StorageRedis {
		t.Fatalf("expected normalized backend, got %q", c.StorageBackend)
	}
}
