// Package config loads client settings from a .env file, an optional
// config file in the data directory, and HUDDLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable of the client.
type Config struct {
	// APIURL is the REST API base URL.
	APIURL string `mapstructure:"api_url"`
	// SocketURL is the realtime endpoint. Derived from APIURL when empty.
	SocketURL string `mapstructure:"socket_url"`
	// DataDir holds the session database and the log file.
	DataDir string `mapstructure:"data_dir"`

	Session  SessionConfig  `mapstructure:"session"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
}

// SessionConfig tunes token renewal.
type SessionConfig struct {
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	RenewBuffer    time.Duration `mapstructure:"renew_buffer"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// RealtimeConfig tunes the realtime channel.
type RealtimeConfig struct {
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// SessionPath is the bbolt file holding the persisted session.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.db")
}

// LogPath is where the client writes its log.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "huddle.log")
}

// Load reads .env (if present), then the config file and environment.
// Environment variables win over the config file, which wins over defaults.
func Load() (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return load(viper.New(), filepath.Join(home, ".huddle"))
}

func load(v *viper.Viper, defaultDataDir string) (*Config, error) {
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_url", "http://localhost:5000")
	v.SetDefault("socket_url", "")
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("session.refresh_timeout", 10*time.Second)
	v.SetDefault("session.renew_buffer", 5*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("realtime.dial_timeout", 10*time.Second)
	v.SetDefault("realtime.max_reconnect_attempts", 3)
	v.SetDefault("realtime.reconnect_delay", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString("data_dir"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: HUDDLE_API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	if c.SocketURL == "" {
		c.SocketURL = SocketURLFor(u)
	}
	if s, err := url.Parse(c.SocketURL); err != nil || (s.Scheme != "ws" && s.Scheme != "wss") {
		return fmt.Errorf("config: HUDDLE_SOCKET_URL must be a ws(s) URL, got %q", c.SocketURL)
	}
	if c.DataDir == "" {
		return errors.New("config: HUDDLE_DATA_DIR must be set")
	}
	if c.Session.RefreshTimeout <= 0 || c.Session.RenewBuffer <= 0 || c.Session.SweepInterval <= 0 {
		return errors.New("config: session durations must be positive")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return errors.New("config: HUDDLE_REALTIME_MAX_RECONNECT_ATTEMPTS must not be negative")
	}
	return nil
}

// SocketURLFor derives the realtime endpoint from the API base URL.
func SocketURLFor(api *url.URL) string {
	s := *api
	if s.Scheme == "https" {
		s.Scheme = "wss"
	} else {
		s.Scheme = "ws"
	}
	s.Path = strings.TrimRight(s.Path, "/") + "/ws"
	return s.String()
}
