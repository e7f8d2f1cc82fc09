package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/rehab/wardshell/internal/platform/auth"
)

type Config struct {
	Env          string        `mapstructure:"ENV"`
	LogLevel     string        `mapstructure:"LOG_LEVEL"`
	BackendURL   string        `mapstructure:"BACKEND_URL"`
	IPCAddr      string        `mapstructure:"IPC_ADDR"`
	IPCSecret    string        `mapstructure:"IPC_SECRET"`
	IPCTokenTTL  time.Duration `mapstructure:"IPC_TOKEN_TTL"`
	IPCBodyLimit string        `mapstructure:"IPC_BODY_LIMIT"`
	IPCTokenFile string        `mapstructure:"IPC_TOKEN_FILE"`
}

// DefaultTokenFile is where a running host publishes the renderer's session token.
func DefaultTokenFile() string {
	return filepath.Join(os.TempDir(), "ward-shell", "ipc.token")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BACKEND_URL", "http://127.0.0.1:8000")
	v.SetDefault("IPC_ADDR", "127.0.0.1:8765")
	v.SetDefault("IPC_TOKEN_TTL", "15m")
	v.SetDefault("IPC_BODY_LIMIT", "2M")
	v.SetDefault("IPC_TOKEN_FILE", DefaultTokenFile())

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("BACKEND_URL")
	v.BindEnv("IPC_ADDR")
	v.BindEnv("IPC_SECRET")
	v.BindEnv("IPC_TOKEN_TTL")
	v.BindEnv("IPC_BODY_LIMIT")
	v.BindEnv("IPC_TOKEN_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level returns the zerolog level for LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the settings every mode needs. The IPC secret is checked
// separately by ValidateIPC and ValidateDial because only the IPC modes use them.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL must be http or https, got %q", c.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("BACKEND_URL has no host: %q", c.BackendURL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	return nil
}

// ValidateIPC checks the settings the host needs to serve the IPC endpoint
// and sign session tokens.
func (c *Config) ValidateIPC() error {
	if c.IPCAddr == "" {
		return fmt.Errorf("IPC_ADDR is required")
	}
	if len(c.IPCSecret) < auth.MinSecretLen {
		return fmt.Errorf("IPC_SECRET must be at least %d bytes, got %d", auth.MinSecretLen, len(c.IPCSecret))
	}
	if c.IPCTokenTTL <= 0 {
		return fmt.Errorf("IPC_TOKEN_TTL must be positive, got %s", c.IPCTokenTTL)
	}
	if c.IPCTokenFile == "" {
		return fmt.Errorf("IPC_TOKEN_FILE is required")
	}
	return nil
}

// ValidateDial checks the settings a renderer needs to reach a running host.
// The renderer never holds IPC_SECRET; it reads the token the host published.
func (c *Config) ValidateDial() error {
	if c.IPCAddr == "" {
		return fmt.Errorf("IPC_ADDR is required")
	}
	if c.IPCTokenFile == "" {
		return fmt.Errorf("IPC_TOKEN_FILE is required")
	}
	return nil
}
