package relay

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/logger"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Source SourceConfig `yaml:"source"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	MaxConnections int      `yaml:"max_connections"`
	SendBuffer     int      `yaml:"send_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// SourceConfig selects where events come from: "mock", "redis" or "none".
type SourceConfig struct {
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
	Seed     int           `yaml:"seed"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 100,
			SendBuffer:     64,
		},
		Auth: AuthConfig{
			Issuer:   "livesync-relay",
			TokenTTL: 12 * time.Hour,
		},
		Source: SourceConfig{
			Mode:     "mock",
			Interval: 2 * time.Second,
			Seed:     12,
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "storefront:events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Issuer returns the token issuer for auth.secret. Without a secret it
// returns nil and the relay accepts every connection.
func (c *Config) Issuer() (*auth.Issuer, error) {
	if c.Auth.Secret == "" {
		return nil, nil
	}
	return auth.NewIssuer(c.Auth.Secret, c.Auth.Issuer, c.Auth.TokenTTL)
}

// LoggerConfig adapts the log section for logger.New.
func (c *Config) LoggerConfig() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.Output = c.Log.Output
	return lc
}
