package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	EncryptionKey     string `mapstructure:"ENCRYPTION_KEY"`
	EncryptionKeyFile string `mapstructure:"ENCRYPTION_KEY_FILE"`
	BlindIndexKey     string `mapstructure:"BLIND_INDEX_KEY"`

	JWTSecret       string `mapstructure:"JWT_SECRET"`
	TokenTTLMinutes int    `mapstructure:"TOKEN_TTL_MINUTES"`

	LLMEnabled        bool   `mapstructure:"LLM_ENABLED"`
	LLMBaseURL        string `mapstructure:"LLM_BASE_URL"`
	LLMModel          string `mapstructure:"LLM_MODEL"`
	LLMTimeoutSeconds int    `mapstructure:"LLM_TIMEOUT_SECONDS"`
	LLMMaxTokens      int    `mapstructure:"LLM_MAX_TOKENS"`

	AnalysisWorkers    int    `mapstructure:"ANALYSIS_WORKERS"`
	AnalysisQueueDepth int    `mapstructure:"ANALYSIS_QUEUE_DEPTH"`
	VocabularyFile     string `mapstructure:"SYMPTOM_VOCABULARY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ENCRYPTION_KEY_FILE", "intake.key")
	v.SetDefault("TOKEN_TTL_MINUTES", 24*60)
	v.SetDefault("LLM_ENABLED", true)
	v.SetDefault("LLM_BASE_URL", "http://localhost:8080")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 30)
	v.SetDefault("LLM_MAX_TOKENS", 256)
	v.SetDefault("ANALYSIS_WORKERS", 4)
	v.SetDefault("ANALYSIS_QUEUE_DEPTH", 64)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("ENCRYPTION_KEY")
	v.BindEnv("ENCRYPTION_KEY_FILE")
	v.BindEnv("BLIND_INDEX_KEY")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("TOKEN_TTL_MINUTES")
	v.BindEnv("LLM_ENABLED")
	v.BindEnv("LLM_BASE_URL")
	v.BindEnv("LLM_MODEL")
	v.BindEnv("LLM_TIMEOUT_SECONDS")
	v.BindEnv("LLM_MAX_TOKENS")
	v.BindEnv("ANALYSIS_WORKERS")
	v.BindEnv("ANALYSIS_QUEUE_DEPTH")
	v.BindEnv("SYMPTOM_VOCABULARY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Field encryption may be disabled and tokens use a dev secret.")
		log.Println("WARNING: Set ENV=production with ENCRYPTION_KEY and JWT_SECRET set.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TokenTTL returns the configured access-token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// LLMTimeout returns the configured backend round-trip timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. In production an
// explicit ENCRYPTION_KEY and JWT_SECRET are required; any configured key
// must be a valid 64-character hex string (32 bytes decoded).
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}

	for name, key := range map[string]string{
		"ENCRYPTION_KEY":  c.EncryptionKey,
		"BLIND_INDEX_KEY": c.BlindIndexKey,
	} {
		if key == "" {
			continue
		}
		raw, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("%s is not valid hex: %w", name, err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("%s must be 32 bytes (64 hex chars), got %d bytes", name, len(raw))
		}
	}

	if c.LLMEnabled && c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required when LLM_ENABLED is true")
	}

	return nil
}
