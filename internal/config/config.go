// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BackendConfig struct {
	URL             string        `yaml:"url" envconfig:"BACKEND_URL"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"BACKEND_TIMEOUT"`
	ConcurrentLimit int           `yaml:"concurrent_limit" envconfig:"BACKEND_CONCURRENT_LIMIT"` // max concurrent backend calls
}

type BotConfig struct {
	Token         string        `yaml:"token" envconfig:"BOT_TOKEN"`
	MiniAppURL    string        `yaml:"mini_app_url" envconfig:"MINI_APP_URL"`
	Launcher      bool          `yaml:"launcher" envconfig:"BOT_LAUNCHER"` // run the /start polling bot
	Workers       int           `yaml:"workers" envconfig:"BOT_WORKERS"`   // polling workers
	CommandLimit  int           `yaml:"command_limit" envconfig:"BOT_COMMAND_LIMIT"` // per user and command, per window
	CommandWindow time.Duration `yaml:"command_window" envconfig:"BOT_COMMAND_WINDOW"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" envconfig:"HTTP_PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"HTTP_REQUEST_TIMEOUT"`
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" envconfig:"LOG_FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" envconfig:"LOG_SAMPLING"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string `yaml:"url" envconfig:"REDIS_URL"` // empty disables the invalidation bus
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Channel  string `yaml:"channel" envconfig:"REDIS_CHANNEL"`
	// KeyPrefix namespaces rate limit keys.
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

type SessionConfig struct {
	Secret         string        `yaml:"secret" envconfig:"SESSION_SECRET"`
	TTL            time.Duration `yaml:"ttl" envconfig:"SESSION_TTL"`
	IdleTTL        time.Duration `yaml:"idle_ttl" envconfig:"SESSION_IDLE_TTL"`
	SweepInterval  time.Duration `yaml:"sweep_interval" envconfig:"SESSION_SWEEP_INTERVAL"`
	InitDataMaxAge time.Duration `yaml:"init_data_max_age" envconfig:"INIT_DATA_MAX_AGE"`
	StaleTime      time.Duration `yaml:"stale_time" envconfig:"QUERY_STALE_TIME"`
}

type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Bot     BotConfig     `yaml:"bot"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Load reads path (a missing file is allowed), overlays the environment and
// applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and performs minimal validation.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 15 * time.Second
	}
	if cfg.Backend.ConcurrentLimit <= 0 {
		cfg.Backend.ConcurrentLimit = 32
	}
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 4
	}
	if cfg.Bot.CommandLimit <= 0 {
		cfg.Bot.CommandLimit = 20
	}
	if cfg.Bot.CommandWindow <= 0 {
		cfg.Bot.CommandWindow = time.Minute
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "miniapp:invalidate"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "miniapp"
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = 24 * time.Hour
	}
	if cfg.Session.IdleTTL <= 0 {
		cfg.Session.IdleTTL = 30 * time.Minute
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = time.Minute
	}
	if cfg.Session.InitDataMaxAge <= 0 {
		cfg.Session.InitDataMaxAge = 24 * time.Hour
	}
	if cfg.Session.StaleTime < 0 {
		cfg.Session.StaleTime = 0
	}

	// Minimal validation
	backend := strings.TrimSpace(cfg.Backend.URL)
	if backend == "" {
		return errors.New("backend.url is required")
	}
	if backend != "memory://" {
		u, err := url.Parse(backend)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend.url %q must be an http(s) URL", cfg.Backend.URL)
		}
	}
	cfg.Backend.URL = backend
	if cfg.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	if cfg.Bot.Launcher && cfg.Bot.MiniAppURL == "" {
		return errors.New("bot.mini_app_url is required when bot.launcher is enabled")
	}
	if len(cfg.Session.Secret) < 16 {
		return errors.New("session.secret must be at least 16 bytes")
	}
	return nil
}
