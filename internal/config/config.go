package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"

	kitconfig "github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	DB       DBConfig       `toml:"database"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Filters  FiltersConfig  `toml:"filters"`
	IPFilter IPFilterConfig `toml:"ip_filter"`
	URNs     URNConfig      `toml:"urn_blacklist"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := string(text)
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", v)
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogConfig struct {
	Level           LogLevel            `toml:"level"`
	RejectionLevels map[string]LogLevel `toml:"rejection_levels"`
	// RejectionRate caps rejection log lines per second. 0 logs every rejection.
	RejectionRate  float64 `toml:"rejection_rate"`
	RejectionBurst int     `toml:"rejection_burst"`
	// File sends logs to a rotated file instead of stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type DBConfig struct {
	// Path of the ban store. Empty disables it.
	Path string `toml:"path"`
}

type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type FiltersConfig struct {
	Duplicates  kitconfig.DuplicateFilterConfig  `toml:"duplicates"`
	HashQueries kitconfig.HashQueryFilterConfig  `toml:"hash_queries"`
	Anomaly     kitconfig.AnomalyFilterConfig    `toml:"anomaly"`
	Repetitive  kitconfig.RepetitiveFilterConfig `toml:"repetitive"`
	Keywords    kitconfig.KeywordFilterConfig    `toml:"keywords"`
	// WatchedKeywords applies only to replies for searches registered with the
	// watch command, such as "what's new" browses.
	WatchedKeywords kitconfig.KeywordFilterConfig `toml:"watched_keywords"`
}

type IPFilterConfig struct {
	Blocked         []string      `toml:"blocked"`
	Allowed         []string      `toml:"allowed"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
	Workers         int           `toml:"workers"`

	Hostile HostileFilterConfig `toml:"hostile"`
	Private PrivateFilterConfig `toml:"private"`
	Geo     GeoFilterConfig     `toml:"geo"`
}

type HostileFilterConfig struct {
	Enabled bool     `toml:"enabled"`
	Blocked []string `toml:"blocked"`
	// UpdateSource names the feed the supplement file was downloaded from.
	UpdateSource   string `toml:"update_source"`
	SupplementPath string `toml:"supplement_path"`
}

type PrivateFilterConfig struct {
	// Enabled restricts traffic to private and loopback addresses.
	Enabled bool `toml:"enabled"`
}

type GeoFilterConfig struct {
	Enabled          bool          `toml:"enabled"`
	DatabasePath     string        `toml:"database_path"`
	AllowedCountries []string      `toml:"allowed_countries"`
	BlockedCountries []string      `toml:"blocked_countries"`
	CacheSize        int           `toml:"cache_size"`
	CacheTTL         time.Duration `toml:"cache_ttl"`
}

// URNConfig is the SHA1 URN blacklist applied to queries and replies.
type URNConfig struct {
	Enabled bool     `toml:"enabled"`
	Blocked []string `toml:"blocked"`
	// Path of a downloaded list, one URN per line. Read once it exists.
	Path string `toml:"path"`
}

func findCommonElements(slice1, slice2 []string) []string {
	set := make(map[string]struct{})
	var common []string

	for _, item := range slice1 {
		set[strings.ToUpper(item)] = struct{}{}
	}

	for _, item := range slice2 {
		if _, found := set[strings.ToUpper(item)]; found {
			common = append(common, item)
		}
	}
	return common
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      InfoLevel,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Filters: FiltersConfig{
			Duplicates: kitconfig.DuplicateFilterConfig{Enabled: true},
			Anomaly: kitconfig.AnomalyFilterConfig{
				Enabled:   true,
				Capacity:  kitconfig.DefaultAnomalyCapacity,
				Threshold: kitconfig.DefaultAnomalyThreshold,
			},
		},
		IPFilter: IPFilterConfig{
			RefreshInterval: time.Hour,
			Workers:         2,
			Hostile:         HostileFilterConfig{Enabled: true},
			Geo: GeoFilterConfig{
				CacheSize: 4096,
				CacheTTL:  10 * time.Minute,
			},
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

func (c *Config) validate() error {
	// --- [log] ---
	if c.Log.RejectionRate < 0 {
		return errors.New("log.rejection_rate must not be negative")
	}
	if c.Log.RejectionRate > 0 && c.Log.RejectionBurst <= 0 {
		return errors.New("log.rejection_burst must be > 0 when log.rejection_rate is set")
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB <= 0 {
			return errors.New("log.max_size_mb must be > 0 when log.file is set")
		}
		if c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
			return errors.New("log.max_backups and log.max_age_days must not be negative")
		}
	}

	// --- [filters] ---

	// [filters.anomaly]
	an := c.Filters.Anomaly
	if an.Enabled {
		if an.Capacity <= 0 {
			return errors.New("filters.anomaly.capacity must be > 0")
		}
		if an.Threshold <= 0 || an.Threshold > 1 {
			return errors.New("filters.anomaly.threshold must be in (0.0, 1.0]")
		}
	}

	// [filters.repetitive]
	if c.Filters.Repetitive.Capacity < 0 {
		return errors.New("filters.repetitive.capacity must not be negative (0 disables the filter)")
	}

	// [filters.keywords]
	kw := c.Filters.Keywords
	if kw.Enabled && len(kw.Words) == 0 && len(kw.Regexps) == 0 {
		return errors.New("filters.keywords: words or regexps must not be empty when enabled")
	}

	// [filters.watched_keywords]
	wk := c.Filters.WatchedKeywords
	if wk.Enabled && len(wk.Words) == 0 && len(wk.Regexps) == 0 {
		return errors.New("filters.watched_keywords: words or regexps must not be empty when enabled")
	}

	// --- [ip_filter] ---
	ipf := c.IPFilter
	if ipf.RefreshInterval < 0 {
		return errors.New("ip_filter.refresh_interval must not be negative (0 disables periodic refresh)")
	}
	if ipf.Workers <= 0 {
		return errors.New("ip_filter.workers must be > 0")
	}

	// [ip_filter.geo]
	geo := ipf.Geo
	if geo.Enabled {
		if geo.DatabasePath == "" {
			return errors.New("ip_filter.geo.database_path must be set when enabled")
		}
		if geo.CacheSize < 0 {
			return errors.New("ip_filter.geo.cache_size must not be negative")
		}
		if geo.CacheSize > 0 && geo.CacheTTL <= 0 {
			return errors.New("ip_filter.geo.cache_ttl must be a positive duration when caching")
		}
		for _, code := range append(append([]string(nil), geo.AllowedCountries...), geo.BlockedCountries...) {
			if len(code) != 2 {
				return fmt.Errorf("ip_filter.geo: %q is not a two-letter country code", code)
			}
		}
		if common := findCommonElements(geo.AllowedCountries, geo.BlockedCountries); len(common) > 0 {
			return fmt.Errorf("ip_filter.geo.allowed_countries and blocked_countries must not contain common codes: %v", common)
		}
	}

	// --- [urn_blacklist] ---
	if c.URNs.Enabled {
		if len(c.URNs.Blocked) == 0 && c.URNs.Path == "" {
			return errors.New("urn_blacklist: blocked or path must be set when enabled")
		}
		for _, urn := range c.URNs.Blocked {
			if _, ok := message.NormalizeSHA1URN(urn); !ok {
				return fmt.Errorf("urn_blacklist.blocked: %q is not a SHA1 URN", urn)
			}
		}
	}

	return nil
}

// Load reads the TOML file at path over the defaults and validates the result.
// With useDefaults a missing file yields the defaults instead of an error.
func Load(path string, useDefaults bool) (*Config, bool, error) {
	cfg := defaultConfig()
	defaultsUsed := false

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if useDefaults {
				defaultsUsed = true
				if err := cfg.validate(); err != nil {
					return nil, true, err
				}
				return cfg, defaultsUsed, nil
			}
			return nil, false, fmt.Errorf("config file not found at %s", path)
		}
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, defaultsUsed, nil
}

// Provider publishes the current configuration to background readers.
type Provider struct {
	current atomic.Pointer[Config]
}

func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

func (p *Provider) Current() *Config { return p.current.Load() }

// Store replaces the published configuration. The previous value is never modified.
func (p *Provider) Store(cfg *Config) { p.current.Store(cfg) }
