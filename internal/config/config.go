// Package config loads and validates gradewatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // scheduler.timezone must resolve in minimal images

	"github.com/spf13/viper"

	"github.com/JakeFAU/gradewatch/internal/scheduler"
	"github.com/JakeFAU/gradewatch/internal/snapshot"
)

// EnvPrefix is prepended to every environment override, e.g.
// GRADEWATCH_SCHEDULER_CONCURRENCY=3.
const EnvPrefix = "GRADEWATCH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Portal    PortalConfig     `mapstructure:"portal"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Storage   StorageConfig    `mapstructure:"storage"`
	HashIndex HashIndexConfig  `mapstructure:"hash_index"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Server    ServerConfig     `mapstructure:"server"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Instances []InstanceConfig `mapstructure:"instances"`
}

// PortalConfig locates the SSO and the grade portal.
type PortalConfig struct {
	LoginURL      string `mapstructure:"login_url"`
	ServiceURL    string `mapstructure:"service_url"`
	SessionCookie string `mapstructure:"session_cookie"`
	UserAgent     string `mapstructure:"user_agent"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// RateLimitConfig throttles requests per upstream host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// SchedulerConfig drives the recurring cycles.
type SchedulerConfig struct {
	ScrapeCron      string `mapstructure:"scrape_cron"`
	RecoveryCron    string `mapstructure:"recovery_cron"`
	Timezone        string `mapstructure:"timezone"`
	Concurrency     int    `mapstructure:"concurrency"`
	SkipOverlapping bool   `mapstructure:"skip_overlapping"`
	RunOnStart      bool   `mapstructure:"run_on_start"`
}

// StorageConfig selects where snapshots live.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// HashIndexConfig selects where snapshot hashes live.
type HashIndexConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// NotifyConfig selects the notification sinks.
type NotifyConfig struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Database DatabaseConfig `mapstructure:"database"`
}

// DiscordConfig toggles webhook delivery.
type DiscordConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DatabaseConfig controls the grade history table.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// InstanceConfig describes one monitored account.
type InstanceConfig struct {
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// PasswordEnv names an environment variable read when Password is empty.
	PasswordEnv string `mapstructure:"password_env"`
	Webhook     string `mapstructure:"webhook"`
	PingPrefix  string `mapstructure:"ping_prefix"`
	Terms       []int  `mapstructure:"terms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Cloud Run and friends inject PORT.
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
		cfg.Server.Port = port
	}
	for i := range cfg.Instances {
		inst := &cfg.Instances[i]
		if inst.Password == "" && inst.PasswordEnv != "" {
			inst.Password = os.Getenv(inst.PasswordEnv)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.session_cookie", "PHPSESSID")
	v.SetDefault("portal.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 5)
	v.SetDefault("scheduler.scrape_cron", "*/5 * * * *")
	v.SetDefault("scheduler.recovery_cron", "*/15 * * * *")
	v.SetDefault("scheduler.timezone", "Europe/Paris")
	v.SetDefault("scheduler.concurrency", 5)
	v.SetDefault("scheduler.skip_overlapping", true)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "database")
	v.SetDefault("hash_index.backend", "blob")
	v.SetDefault("hash_index.redis.addr", "localhost:6379")
	v.SetDefault("hash_index.redis.key", "gradewatch:snapshot:hashes")
	v.SetDefault("notify.dry_run", false)
	v.SetDefault("notify.discord.enabled", true)
	v.SetDefault("notify.database.table", "grade_events")
	v.SetDefault("notify.database.max_conns", 4)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Portal.LoginURL == "" {
		errs = append(errs, fmt.Errorf("portal.login_url is required"))
	}
	if c.Portal.ServiceURL == "" {
		errs = append(errs, fmt.Errorf("portal.service_url is required"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout_seconds must be > 0"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must be > 0"))
	}
	if err := scheduler.ValidateSpec(c.Scheduler.ScrapeCron); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.scrape_cron: %w", err))
	}
	if err := scheduler.ValidateSpec(c.Scheduler.RecoveryCron); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.recovery_cron: %w", err))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.BaseDir == "" {
			errs = append(errs, fmt.Errorf("storage.local.base_dir is required for the local backend"))
		}
	case "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, memory, gcs", c.Storage.Backend))
	}
	switch c.HashIndex.Backend {
	case "blob":
	case "redis":
		if c.HashIndex.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("hash_index.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("hash_index.backend %q is not one of blob, redis", c.HashIndex.Backend))
	}
	if c.Notify.PubSub.TopicName != "" && c.Notify.PubSub.ProjectID == "" {
		errs = append(errs, fmt.Errorf("notify.pubsub.project_id is required when a topic is set"))
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0"))
	}

	if len(c.Instances) == 0 {
		errs = append(errs, fmt.Errorf("at least one instance is required"))
	}
	seen := make(map[string]struct{}, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Name == "" {
			errs = append(errs, fmt.Errorf("instances[%d].name is required", i))
			continue
		}
		if err := snapshot.ValidateInstanceName(inst.Name); err != nil {
			errs = append(errs, fmt.Errorf("instances[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[inst.Name]; dup {
			errs = append(errs, fmt.Errorf("instances[%d]: duplicate name %q", i, inst.Name))
		}
		seen[inst.Name] = struct{}{}
		if inst.Username == "" || inst.Password == "" {
			errs = append(errs, fmt.Errorf("instance %q: username and password are required", inst.Name))
		}
		if c.Notify.Discord.Enabled && !c.Notify.DryRun && inst.Webhook == "" {
			errs = append(errs, fmt.Errorf("instance %q: webhook is required when discord is enabled", inst.Name))
		}
	}
	return errors.Join(errs...)
}

// HTTPTimeout converts the configured timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
