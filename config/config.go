// Package config loads voxdrop settings from defaults, an optional config
// file, a local .env and VOXDROP_-prefixed environment variables, in
// increasing order of precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvConfigPath names the env var holding the config file path.
const EnvConfigPath = "VOXDROP_CONFIG"

type Config struct {
	DataDir  string `mapstructure:"data_dir" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogPath  string `mapstructure:"log_path"`

	Account       AccountConfig       `mapstructure:"account"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Store         StoreConfig         `mapstructure:"store"`
	Library       LibraryConfig       `mapstructure:"library"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Invite        InviteConfig        `mapstructure:"invite"`
	Server        ServerConfig        `mapstructure:"server"`
}

type AccountConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type AudioConfig struct {
	Device string `mapstructure:"device"`
}

type StoreConfig struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=memory sqlite postgres"`
	DSN         string        `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	ChunkSize   int           `mapstructure:"chunk_size" validate:"min=1024"`
	SyncTimeout time.Duration `mapstructure:"sync_timeout" validate:"min=1ms"`
	SyncDelay   time.Duration `mapstructure:"sync_delay" validate:"min=0"`
}

type LibraryConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=store redis"`
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB   int    `mapstructure:"redis_db" validate:"min=0"`
}

type TranscriptionConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=none http groq openai"`
	URL        string        `mapstructure:"url" validate:"required_if=Provider http"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Language   string        `mapstructure:"language"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"min=1ms"`
	AutoOnView bool          `mapstructure:"auto_on_view"`
}

type InviteConfig struct {
	Secret  string        `mapstructure:"secret"`
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	TTL     time.Duration `mapstructure:"ttl" validate:"min=0"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "voxdrop")
	}
	return ".voxdrop"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_path", "")

	v.SetDefault("account__id", "")
	v.SetDefault("account__name", "")

	v.SetDefault("audio__device", "")

	v.SetDefault("store__backend", "sqlite")
	v.SetDefault("store__dsn", "")
	v.SetDefault("store__chunk_size", 100*1024)
	v.SetDefault("store__sync_timeout", "30s")
	v.SetDefault("store__sync_delay", "0s")

	v.SetDefault("library__backend", "store")
	v.SetDefault("library__redis_addr", "")
	v.SetDefault("library__redis_db", 0)

	v.SetDefault("transcription__provider", "none")
	v.SetDefault("transcription__url", "")
	v.SetDefault("transcription__api_key", "")
	v.SetDefault("transcription__model", "")
	v.SetDefault("transcription__language", "")
	v.SetDefault("transcription__timeout", "60s")
	v.SetDefault("transcription__auto_on_view", true)

	v.SetDefault("invite__secret", "")
	v.SetDefault("invite__base_url", "http://localhost:8080")
	v.SetDefault("invite__ttl", "0s")

	v.SetDefault("server__addr", ":8080")
}

// Load reads the configuration. path may be empty, in which case
// VOXDROP_CONFIG is consulted; no file at all is fine.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefaults(v)
	v.SetEnvPrefix("VOXDROP")
	v.AutomaticEnv()
	// Provider-native key names work too, the way the CLI always read them.
	v.BindEnv("transcription__api_key", "VOXDROP_TRANSCRIPTION__API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.finish()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.Transcription.Provider = strings.ToLower(c.Transcription.Provider)
	if c.Store.Backend == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.DataDir, "voxdrop.db")
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Transcription.Provider {
	case "groq", "openai":
		if c.Transcription.APIKey == "" {
			return fmt.Errorf("invalid config: transcription provider %s needs an api key", c.Transcription.Provider)
		}
	}
	return nil
}

const secretFile = "invite_secret"

// InviteSecret returns the configured secret, or one generated once and kept
// in the data dir so links stay valid across runs.
func (c *Config) InviteSecret() ([]byte, error) {
	if c.Invite.Secret != "" {
		return []byte(c.Invite.Secret), nil
	}
	path := filepath.Join(c.DataDir, secretFile)
	if data, err := os.ReadFile(path); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return []byte(s), nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading invite secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	secret := hex.EncodeToString(buf)
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing invite secret: %w", err)
	}
	return []byte(secret), nil
}
