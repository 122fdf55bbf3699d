// Package config loads the dashboard configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/logger"
	"github.com/storefront/livesync/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g. LIVESYNC_AUTH_TOKEN.
const EnvPrefix = "LIVESYNC"

// Config holds the dashboard configuration
type Config struct {
	Relay     RelayConfig
	Auth      AuthConfig
	Log       LogConfig
	Views     ViewsConfig
	Transport TransportConfig
	API       APIConfig
	Metrics   MetricsConfig

	// ConfigFile is the file that was read, if any.
	ConfigFile string
}

// RelayConfig locates the relay.
type RelayConfig struct {
	SocketURLs []string // tried in order
	APIURL     string
}

// AuthConfig is the session the dashboard starts with. An empty token starts
// logged out. With Secret set the dashboard signs its own tokens, which lets
// the login and rotate keys work against a development relay.
type AuthConfig struct {
	Token    string
	UserID   string
	Email    string
	Role     string
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string // file path; the terminal belongs to the UI
}

// ViewsConfig sizes the reconciled lists.
type ViewsConfig struct {
	PageSize  int
	MaxLen    int
	MarkerTTL time.Duration
}

// TransportConfig mirrors transport.Options.
type TransportConfig struct {
	Timeout              time.Duration
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// APIConfig throttles refetches.
type APIConfig struct {
	RateLimit float64 // requests per second, 0 disables
	Burst     int
}

// MetricsConfig exposes the client's collectors. Empty Listen disables it.
type MetricsConfig struct {
	Listen string
}

// Load reads configuration with this precedence (highest first):
//  1. LIVESYNC_* environment variables, including those set by .env files
//  2. the config file (path, or livesync.yaml in . or ~/.config/livesync)
//  3. built-in defaults
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("livesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "livesync"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Relay: RelayConfig{
			SocketURLs: splitList(v.GetStringSlice("relay.socket_urls")),
			APIURL:     v.GetString("relay.api_url"),
		},
		Auth: AuthConfig{
			Token:    v.GetString("auth.token"),
			UserID:   v.GetString("auth.user_id"),
			Email:    v.GetString("auth.email"),
			Role:     v.GetString("auth.role"),
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Views: ViewsConfig{
			PageSize:  v.GetInt("views.page_size"),
			MaxLen:    v.GetInt("views.max_len"),
			MarkerTTL: v.GetDuration("views.marker_ttl"),
		},
		Transport: TransportConfig{
			Timeout:              v.GetDuration("transport.timeout"),
			Reconnection:         v.GetBool("transport.reconnection"),
			ReconnectionAttempts: v.GetInt("transport.reconnection_attempts"),
			ReconnectionDelay:    v.GetDuration("transport.reconnection_delay"),
			ReconnectionDelayMax: v.GetDuration("transport.reconnection_delay_max"),
			PingInterval:         v.GetDuration("transport.ping_interval"),
			PongTimeout:          v.GetDuration("transport.pong_timeout"),
		},
		API: APIConfig{
			RateLimit: v.GetFloat64("api.rate_limit"),
			Burst:     v.GetInt("api.burst"),
		},
		Metrics: MetricsConfig{
			Listen: v.GetString("metrics.listen"),
		},
		ConfigFile: v.ConfigFileUsed(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := transport.DefaultOptions()

	v.SetDefault("relay.socket_urls", []string{"ws://127.0.0.1:8080/ws"})
	v.SetDefault("relay.api_url", "http://127.0.0.1:8080")
	v.SetDefault("auth.user_id", "admin")
	v.SetDefault("auth.role", "admin")
	v.SetDefault("auth.issuer", "livesync-relay")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "livesync-dashboard.log")
	v.SetDefault("views.page_size", 20)
	v.SetDefault("views.max_len", 100)
	v.SetDefault("views.marker_ttl", 2*time.Second)
	v.SetDefault("transport.timeout", d.Timeout)
	v.SetDefault("transport.reconnection", d.Reconnection)
	v.SetDefault("transport.reconnection_attempts", d.ReconnectionAttempts)
	v.SetDefault("transport.reconnection_delay", d.ReconnectionDelay)
	v.SetDefault("transport.reconnection_delay_max", d.ReconnectionDelayMax)
	v.SetDefault("transport.ping_interval", d.PingInterval)
	v.SetDefault("transport.pong_timeout", d.PongTimeout)
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.burst", 5)
}

// loadEnvFiles loads .env then .env.local. Variables already present in the
// environment are not overridden.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// splitList accepts yaml lists as well as comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	if len(c.Relay.SocketURLs) == 0 {
		return errors.New("config: relay.socket_urls must not be empty")
	}
	for _, u := range c.Relay.SocketURLs {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("config: socket url %q must use ws or wss", u)
		}
	}
	if c.Relay.APIURL == "" {
		return errors.New("config: relay.api_url is required")
	}
	if c.Views.PageSize <= 0 {
		return fmt.Errorf("config: views.page_size must be positive, got %d", c.Views.PageSize)
	}
	if c.Transport.ReconnectionDelayMax < c.Transport.ReconnectionDelay {
		return errors.New("config: transport.reconnection_delay_max is below reconnection_delay")
	}
	return nil
}

// Session returns the configured session, or nil when no token is set.
func (c *Config) Session() *auth.Session {
	if c.Auth.Token == "" {
		return nil
	}
	return &auth.Session{UserID: c.Auth.UserID, Email: c.Auth.Email, Role: c.Auth.Role}
}

// Identity is the session the login key starts. Unlike Session it does not
// depend on a token being configured.
func (c *Config) Identity() auth.Session {
	return auth.Session{UserID: c.Auth.UserID, Email: c.Auth.Email, Role: c.Auth.Role}
}

// Signer returns an issuer for auth.secret, or nil when no secret is set.
func (c *Config) Signer() (*auth.Issuer, error) {
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

// TransportOptions adapts the transport section for transport.NewDialer.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Endpoints:            append([]string(nil), c.Relay.SocketURLs...),
		Timeout:              c.Transport.Timeout,
		Reconnection:         c.Transport.Reconnection,
		ReconnectionAttempts: c.Transport.ReconnectionAttempts,
		ReconnectionDelay:    c.Transport.ReconnectionDelay,
		ReconnectionDelayMax: c.Transport.ReconnectionDelayMax,
		PingInterval:         c.Transport.PingInterval,
		PongTimeout:          c.Transport.PongTimeout,
	}
}
