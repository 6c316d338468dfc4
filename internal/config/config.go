package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

var ErrMissingCredentials = errors.New("missing DeepSeek API key: set DEEPSEEK_API_KEY or DEEPSEEK_API_KEY_FILE")

// Config centraliza la configuración del cliente.
type Config struct {
	LLMAPIKey     string        `env:"DEEPSEEK_API_KEY"`
	LLMAPIKeyFile string        `env:"DEEPSEEK_API_KEY_FILE,file"`
	LLMBaseURL    string        `env:"DEEPSEEK_BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	LLMModel      string        `env:"DEEPSEEK_MODEL" envDefault:"deepseek-chat"`
	SystemPrompt  string        `env:"LLM_SYSTEM_PROMPT"`
	LLMTimeout    time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	LLMStream     bool          `env:"LLM_STREAM" envDefault:"true"`
	ContextWindow int           `env:"CONTEXT_WINDOW" envDefault:"20"`

	StorageBackend   string `env:"STORAGE_BACKEND" envDefault:"file"`
	ConversationsDir string `env:"CONVERSATIONS_DIR" envDefault:"conversations"`
	DatabaseURL      string `env:"DATABASE_URL"`
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`

	HTTPAddr        string        `env:"HTTP_ADDR"`
	HTTPTokenSecret string        `env:"HTTP_TOKEN_SECRET"`
	HTTPTokenTTL    time.Duration `env:"HTTP_TOKEN_TTL" envDefault:"12h"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
	LogFile  string `env:"LOG_FILE"`

	PromptPricePerMTok     string `env:"PROMPT_PRICE_PER_MTOK" envDefault:"0.27"`
	CompletionPricePerMTok string `env:"COMPLETION_PRICE_PER_MTOK" envDefault:"1.10"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate resuelve la credencial y revisa combinaciones inválidas.
func (c *Config) Validate() error {
	c.LLMAPIKey = strings.TrimSpace(c.LLMAPIKey)
	if c.LLMAPIKey == "" {
		c.LLMAPIKey = strings.TrimSpace(c.LLMAPIKeyFile)
	}
	if c.LLMAPIKey == "" {
		return ErrMissingCredentials
	}

	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	switch c.StorageBackend {
	case StorageFile:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORAGE_BACKEND=postgres requires DATABASE_URL")
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("STORAGE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.ContextWindow < 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be >= 0, got %d", c.ContextWindow)
	}
	if _, _, err := c.Prices(); err != nil {
		return err
	}
	return nil
}

// Prices devuelve el precio por millón de tokens de prompt y de respuesta.
func (c *Config) Prices() (decimal.Decimal, decimal.Decimal, error) {
	prompt, err := decimal.NewFromString(strings.TrimSpace(c.PromptPricePerMTok))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("PROMPT_PRICE_PER_MTOK: %w", err)
	}
	completion, err := decimal.NewFromString(strings.TrimSpace(c.CompletionPricePerMTok))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("COMPLETION_PRICE_PER_MTOK: %w", err)
	}
	return prompt, completion, nil
}
