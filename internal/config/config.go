package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the configuration shared by all binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Backend  BackendConfig  `yaml:"backend" mapstructure:"backend"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	View     ViewConfig     `yaml:"view" mapstructure:"view"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Seed     SeedConfig     `yaml:"seed" mapstructure:"seed"`
	Client   ClientConfig   `yaml:"client" mapstructure:"client"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// BackendConfig selects the task store. Driver is memory, sqlite or postgres.
type BackendConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// AuthConfig signs tokens and gates /login. LoginKey is shared with trusted
// front-ends; OpenLogin lets anyone register a new uid.
type AuthConfig struct {
	Secret    string        `yaml:"secret" mapstructure:"secret"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	LoginKey  string        `yaml:"login_key" mapstructure:"login_key"`
	OpenLogin bool          `yaml:"open_login" mapstructure:"open_login"`
}

type ViewConfig struct {
	AllIncludesCompleted bool `yaml:"all_includes_completed" mapstructure:"all_includes_completed"`
	Optimistic           bool `yaml:"optimistic" mapstructure:"optimistic"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// TelegramConfig configures the bot. A chat's session is closed after
// IdleTimeout without messages; 0 disables eviction.
type TelegramConfig struct {
	Token       string        `yaml:"token" mapstructure:"token"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// SeedConfig points at a YAML list of tasks given to new users.
type SeedConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ClientConfig is used by the CLI to reach a server.
type ClientConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

const envPrefix = "TODOSYNC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("backend.driver", "sqlite")
	v.SetDefault("backend.dsn", "./data/todosync.db")
	v.SetDefault("auth.ttl", 24*time.Hour)
	v.SetDefault("auth.login_key", "")
	v.SetDefault("auth.open_login", false)
	v.SetDefault("view.all_includes_completed", true)
	v.SetDefault("view.optimistic", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.idle_timeout", 30*time.Minute)
	v.SetDefault("client.base_url", "http://localhost:8080")
}

// Load reads path (optional) and applies TODOSYNC_* environment overrides,
// e.g. TODOSYNC_BACKEND_DRIVER=postgres.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown backend driver %q", c.Backend.Driver)
	}
	if c.Telegram.IdleTimeout < 0 {
		return fmt.Errorf("telegram.idle_timeout must not be negative")
	}
	if c.Backend.Driver != "memory" && c.Backend.DSN == "" {
		return fmt.Errorf("backend.dsn is required for driver %s", c.Backend.Driver)
	}
	return nil
}
