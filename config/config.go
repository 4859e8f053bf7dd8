package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL     = "https://www.moodle.tum.de"
	DefaultSSOBaseURL  = "https://login.tum.de"
	DefaultProviderID  = "https://tumidp.lrz.de/idp/shibboleth"
	DefaultPollEvery   = 300 * time.Second
	DefaultReqTimeout  = 30 * time.Second
	DefaultLoginTries  = 3
	DefaultServerAddr  = ":8080"
	DefaultStreamName  = "poodle:changes"
	DefaultRedisPrefix = "poodle"
)

// Config holds all configuration for the watcher
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// PortalConfig describes the course portal and the SSO in front of it.
type PortalConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SSOBaseURL     string        `mapstructure:"sso_base_url"`
	ProviderID     string        `mapstructure:"provider_id"`
	LoginTarget    string        `mapstructure:"login_target"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LoginAttempts  int           `mapstructure:"login_attempts"`
}

// Normalize fills in the defaults for an unset portal section.
func (p PortalConfig) Normalize() PortalConfig {
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	p.SSOBaseURL = strings.TrimRight(strings.TrimSpace(p.SSOBaseURL), "/")
	if p.SSOBaseURL == "" {
		p.SSOBaseURL = DefaultSSOBaseURL
	}
	if strings.TrimSpace(p.ProviderID) == "" {
		p.ProviderID = DefaultProviderID
	}
	if strings.TrimSpace(p.LoginTarget) == "" {
		p.LoginTarget = p.BaseURL + "/auth/shibboleth/index.php"
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = DefaultReqTimeout
	}
	if p.LoginAttempts <= 0 {
		p.LoginAttempts = DefaultLoginTries
	}
	return p
}

func (p PortalConfig) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("portal.username required")
	}
	if p.Password == "" {
		return fmt.Errorf("portal.password required")
	}
	for name, raw := range map[string]string{"portal.base_url": p.BaseURL, "portal.sso_base_url": p.SSOBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	return nil
}

// PollerConfig controls how often watched resources are swept. A cron
// schedule, when set, takes precedence over the fixed interval.
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Schedule string        `mapstructure:"schedule"`
}

func (p PollerConfig) Normalize() PollerConfig {
	if p.Interval <= 0 {
		p.Interval = DefaultPollEvery
	}
	p.Schedule = strings.TrimSpace(p.Schedule)
	return p
}

func (p PollerConfig) Validate() error {
	if p.Schedule == "" {
		return nil
	}
	if _, err := cronexpr.Parse(p.Schedule); err != nil {
		return fmt.Errorf("poller.schedule: %w", err)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case "memory":
		return nil
	case "redis":
		return s.Redis.Validate()
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend must be one of memory, redis, postgres; got %q", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string, built from the parts when no url is set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String()
}

// NotifierConfig selects where change events go. Responses are optional
// footer lines; one is picked at random per event.
type NotifierConfig struct {
	Log          bool     `mapstructure:"log"`
	Stream       string   `mapstructure:"stream"`
	StreamMaxLen int64    `mapstructure:"stream_max_len"`
	Responses    []string `mapstructure:"responses"`
}

func (n NotifierConfig) Normalize() NotifierConfig {
	n.Stream = strings.TrimSpace(n.Stream)
	if n.StreamMaxLen < 0 {
		n.StreamMaxLen = 0
	}
	var kept []string
	for _, r := range n.Responses {
		if r = strings.TrimSpace(r); r != "" {
			kept = append(kept, r)
		}
	}
	n.Responses = kept
	return n
}

// ServerConfig contains HTTP server and auth settings. An empty address
// disables the API.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) != "" && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required when server.address is set")
	}
	return nil
}

// TelemetryConfig toggles the prometheus collectors.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks every section and the cross-section rules.
func (c *Config) Validate() error {
	if err := c.Portal.Validate(); err != nil {
		return err
	}
	if err := c.Poller.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Notifier.Stream != "" {
		if err := c.Storage.Redis.Validate(); err != nil {
			return fmt.Errorf("notifier.stream needs redis: %w", err)
		}
	}
	return c.Server.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("portal.base_url", DefaultBaseURL)
	v.SetDefault("portal.sso_base_url", DefaultSSOBaseURL)
	v.SetDefault("portal.provider_id", DefaultProviderID)
	v.SetDefault("portal.login_target", "")
	v.SetDefault("portal.username", "")
	v.SetDefault("portal.password", "")
	v.SetDefault("portal.request_timeout", DefaultReqTimeout)
	v.SetDefault("portal.login_attempts", DefaultLoginTries)
	v.SetDefault("poller.interval", DefaultPollEvery)
	v.SetDefault("poller.schedule", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.redis.key_prefix", DefaultRedisPrefix)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("notifier.log", true)
	v.SetDefault("notifier.stream", "")
	v.SetDefault("notifier.stream_max_len", 10000)
	v.SetDefault("server.address", DefaultServerAddr)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("telemetry.enabled", true)
}

// Load reads config.json (or the file at path), applies POODLE_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("POODLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (POODLE_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Without an explicit path, defaults plus environment are enough.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Portal = cfg.Portal.Normalize()
	cfg.Poller = cfg.Poller.Normalize()
	cfg.Notifier = cfg.Notifier.Normalize()
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics when it is unusable.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
