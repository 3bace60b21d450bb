// Package config loads and validates all runtime configuration for the
// health monitor.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// The monitor runs without any persistent backend: leave SUPABASE_URL unset
// and declare targets under the "targets" key in config.yaml to use the
// in-process history store.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/check-cx/internal/check"
)

// Poll interval bounds. Values outside the window are clamped, not rejected,
// so a bad env var cannot take the monitor down.
const (
	MinPollInterval = 15 * time.Second
	MaxPollInterval = 600 * time.Second
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 3000.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// PollInterval is the background refresh cadence, clamped to
	// [MinPollInterval, MaxPollInterval]. Default: 60s.
	PollInterval time.Duration

	// CheckTimeout is the overall deadline for one probe. Default: 45s.
	CheckTimeout time.Duration

	// PingTimeout is the deadline for the transport-level endpoint ping.
	// Default: 8s.
	PingTimeout time.Duration

	// OfficialPollInterval is the vendor status-page poll cadence,
	// independent of PollInterval. Default: 5m, minimum 1m.
	OfficialPollInterval time.Duration

	// Supabase holds the persistent-store credentials. Required only when
	// Store.Mode is "supabase".
	Supabase SupabaseConfig

	// Redis holds the connection URL for the Redis-backed history store.
	// Required only when Store.Mode is "redis".
	Redis RedisConfig

	// Store selects the history/config backend.
	Store StoreConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default).
	CORSOrigins []string

	// RateLimitRPM caps dashboard API requests per minute across replicas.
	// Requires Store.Mode "redis". 0 disables the limit (default).
	RateLimitRPM int

	// Targets declares monitored endpoints in config.yaml. Used as the config
	// repository when the store mode is not "supabase" (in supabase mode the
	// check_configs table is authoritative).
	Targets []TargetConfig
}

// SupabaseConfig holds Supabase (PostgREST) connection configuration.
type SupabaseConfig struct {
	// URL is the project base URL, e.g. "https://xyz.supabase.co".
	URL string
	// AnonKey is the anon/publishable API key.
	AnonKey string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// StoreConfig selects the history-store backend.
type StoreConfig struct {
	// Mode selects the backend:
	//   "supabase" — PostgREST-backed store (requires SUPABASE_URL + key).
	//   "redis"    — Redis ZSET rings (requires REDIS_URL).
	//   "memory"   — in-process store; history does not survive restarts.
	// Default: "supabase" when SUPABASE_URL is set, "memory" otherwise.
	Mode string
}

// TargetConfig is one monitored endpoint declared in config.yaml.
type TargetConfig struct {
	ID             string            `mapstructure:"id"`
	Name           string            `mapstructure:"name"`
	Type           string            `mapstructure:"type"`
	Endpoint       string            `mapstructure:"endpoint"`
	Model          string            `mapstructure:"model"`
	APIKey         string            `mapstructure:"api_key"`
	Enabled        *bool             `mapstructure:"enabled"`
	IsMaintenance  bool              `mapstructure:"is_maintenance"`
	RequestHeaders map[string]string `mapstructure:"request_headers"`
	Metadata       map[string]any    `mapstructure:"metadata"`
	GroupName      string            `mapstructure:"group_name"`
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 3000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CHECK_POLL_INTERVAL_SECONDS", 60)
	v.SetDefault("CHECK_TIMEOUT_SECONDS", 45)
	v.SetDefault("PING_TIMEOUT_SECONDS", 8)
	v.SetDefault("OFFICIAL_STATUS_POLL_MINUTES", 5)
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("RATE_LIMIT_RPM", 0)

	var targets []TargetConfig
	if err := v.UnmarshalKey("targets", &targets); err != nil {
		return nil, fmt.Errorf("config: parse targets: %w", err)
	}

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		PollInterval:         clampPollInterval(time.Duration(v.GetInt("CHECK_POLL_INTERVAL_SECONDS")) * time.Second),
		CheckTimeout:         time.Duration(v.GetInt("CHECK_TIMEOUT_SECONDS")) * time.Second,
		PingTimeout:          time.Duration(v.GetInt("PING_TIMEOUT_SECONDS")) * time.Second,
		OfficialPollInterval: time.Duration(v.GetInt("OFFICIAL_STATUS_POLL_MINUTES")) * time.Minute,

		Supabase: SupabaseConfig{
			URL:     strings.TrimRight(v.GetString("SUPABASE_URL"), "/"),
			AnonKey: v.GetString("SUPABASE_ANON_KEY"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Store: StoreConfig{Mode: strings.ToLower(v.GetString("STORE_MODE"))},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),

		RateLimitRPM: v.GetInt("RATE_LIMIT_RPM"),

		Targets: targets,
	}

	if cfg.Store.Mode == "" {
		if cfg.Supabase.URL != "" {
			cfg.Store.Mode = "supabase"
		} else {
			cfg.Store.Mode = "memory"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	switch c.Store.Mode {
	case "supabase":
		if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
			return fmt.Errorf(
				"config: SUPABASE_URL and SUPABASE_ANON_KEY are required when STORE_MODE=supabase; " +
					"set STORE_MODE=memory to run without a persistent store",
			)
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("config: REDIS_URL is required when STORE_MODE=redis")
		}
	case "memory":
	default:
		return fmt.Errorf(
			"config: invalid STORE_MODE %q; must be one of: supabase, redis, memory",
			c.Store.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.CheckTimeout <= 0 {
		return fmt.Errorf("config: CHECK_TIMEOUT_SECONDS must be positive")
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("config: PING_TIMEOUT_SECONDS must be positive")
	}
	if c.OfficialPollInterval < time.Minute {
		return fmt.Errorf("config: OFFICIAL_STATUS_POLL_MINUTES must be ≥ 1")
	}

	for i, t := range c.Targets {
		if t.ID == "" {
			return fmt.Errorf("config: targets[%d]: id is required", i)
		}
		switch check.ProviderType(t.Type) {
		case check.ProviderOpenAI, check.ProviderGemini, check.ProviderAnthropic:
		default:
			return fmt.Errorf("config: targets[%d]: unknown type %q", i, t.Type)
		}
	}

	return nil
}

// PollIntervalMs returns the poll interval in integer milliseconds, the unit
// used on the wire.
func (c *Config) PollIntervalMs() int64 {
	return c.PollInterval.Milliseconds()
}

// PollIntervalLabel renders the interval for the dashboard header:
// whole minutes as "N 分钟", anything else as "N 秒".
func (c *Config) PollIntervalLabel() string {
	secs := int64(c.PollInterval / time.Second)
	if secs >= 60 && secs%60 == 0 {
		return fmt.Sprintf("%d 分钟", secs/60)
	}
	return fmt.Sprintf("%d 秒", secs)
}

// EnabledTargets converts the yaml target list to provider configs, skipping
// entries with enabled: false. Output is stable-ordered by id, matching the
// supabase repository contract.
func (c *Config) EnabledTargets() []check.ProviderConfig {
	out := make([]check.ProviderConfig, 0, len(c.Targets))
	for _, t := range c.Targets {
		if t.Enabled != nil && !*t.Enabled {
			continue
		}
		out = append(out, check.ProviderConfig{
			ID:             t.ID,
			Name:           t.Name,
			Type:           check.ProviderType(t.Type),
			Endpoint:       t.Endpoint,
			Model:          t.Model,
			APIKey:         t.APIKey,
			IsMaintenance:  t.IsMaintenance,
			RequestHeaders: t.RequestHeaders,
			Metadata:       t.Metadata,
			GroupName:      t.GroupName,
		})
	}
	sortConfigsByID(out)
	return out
}

func sortConfigsByID(cfgs []check.ProviderConfig) {
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].ID < cfgs[j].ID })
}

func clampPollInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
