// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendDynamo = "dynamo"
)

// Config is the full runtime configuration. Every binary loads the same
// struct and uses the parts it needs.
type Config struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL"`

	LogLevel  string `env:"GEMINI_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Port string `env:"PORT" envDefault:"8080"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	ChatTable     string `env:"CHAT_TABLE"`
	AnalysisTable string `env:"ANALYSIS_TABLE"`
	MediaBucket   string `env:"MEDIA_BUCKET"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"insight:chat:"`

	SSMAPIKeyParam string `env:"SSM_API_KEY_PARAM" envDefault:"/image-insight/gemini-api-key"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	// OriginVerifySecret, when set, must arrive in the x-origin-verify header
	// of every Lambda request (injected by the CDN in front of the function).
	OriginVerifySecret string `env:"ORIGIN_VERIFY_SECRET"`

	PreviewMaxDimension int   `env:"PREVIEW_MAX_DIMENSION" envDefault:"1024"`
	MaxUploadBytes      int64 `env:"MAX_UPLOAD_BYTES" envDefault:"20971520"`
}

// Load reads envFiles (default ".env") when present, then parses the
// environment. Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		log.Debug().Str("file", f).Msg("Loaded environment file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendMemory:
	case BackendDynamo:
		if c.ChatTable == "" || c.AnalysisTable == "" {
			return fmt.Errorf("STORE_BACKEND=dynamo requires CHAT_TABLE and ANALYSIS_TABLE")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want memory or dynamo)", c.StoreBackend)
	}

	if c.PreviewMaxDimension < 0 {
		return fmt.Errorf("PREVIEW_MAX_DIMENSION must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// UsesDynamo reports whether persistence goes to DynamoDB.
func (c *Config) UsesDynamo() bool {
	return c.StoreBackend == BackendDynamo
}
