// Package config provides YAML-based configuration loading for the tracker.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the top-level tracker configuration, loaded from tracker.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Digest   DigestConfig   `yaml:"digest"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	Gzip           *bool         `yaml:"gzip"`
}

// DatabaseConfig holds connection settings for the session store.
type DatabaseConfig struct {
	Driver          string            `yaml:"driver"`
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	User            string            `yaml:"user"`
	Password        string            `yaml:"password"`
	Name            string            `yaml:"name"`
	Path            string            `yaml:"path"`
	Params          map[string]string `yaml:"params"`
	MaxOpenConns    int               `yaml:"max_open_conns"`
	MaxIdleConns    int               `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `yaml:"conn_max_lifetime"`
	ConnectRetries  int               `yaml:"connect_retries"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DigestConfig configures the scheduled leaderboard digest. The digest only
// runs when at least one destination is configured.
type DigestConfig struct {
	Schedule         string `yaml:"schedule"`
	Limit            int    `yaml:"limit"`
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	DiscordBotToken  string `yaml:"discord_bot_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// Enabled reports whether a schedule and at least one destination are set.
func (d DigestConfig) Enabled() bool {
	return d.Schedule != "" && (d.SlackWebhookURL != "" || d.DiscordBotToken != "")
}

// GzipEnabled reports whether response compression is on (default true).
func (s ServerConfig) GzipEnabled() bool {
	return s.Gzip == nil || *s.Gzip
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns a validated Config with every default applied, used when
// no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// envRef matches ${VAR}. A bare $ is left alone so passwords and URLs
// containing one survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// Parse unmarshals YAML bytes into a validated Config. ${VAR} references are
// expanded from the environment first so secrets can stay out of the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	d := &c.Database
	d.Driver = strings.ToLower(d.Driver)
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}
	switch d.Driver {
	case DriverMySQL:
		if d.Port == 0 {
			d.Port = 3306
		}
	case DriverPostgres:
		if d.Port == 0 {
			d.Port = 5432
		}
	case DriverSQLite:
		if d.Path == "" {
			d.Path = "tracker.db"
		}
	}
	if d.Driver != DriverSQLite {
		if d.Host == "" {
			d.Host = "127.0.0.1"
		}
		if d.Name == "" {
			d.Name = "autonomy_tracker"
		}
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = 25
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = 5
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = 5 * time.Minute
	}
	if d.ConnectRetries == 0 {
		d.ConnectRetries = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = "0 9 * * *"
	}
	if c.Digest.Limit == 0 {
		c.Digest.Limit = 5
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, "server.request_timeout must not be negative")
	}
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres:
		if c.Database.User == "" {
			errs = append(errs, "database.user is required for "+c.Database.Driver)
		}
	case DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of trace, debug, info, warn, error", c.Log.Level))
	}
	if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("digest.schedule %q is not a 5-field cron expression", c.Digest.Schedule))
	}
	if c.Digest.Limit < 0 {
		errs = append(errs, "digest.limit must not be negative")
	}
	if c.Digest.DiscordBotToken != "" && c.Digest.DiscordChannelID == "" {
		errs = append(errs, "digest.discord_channel_id is required when discord_bot_token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
