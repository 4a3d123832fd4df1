// Package config loads hyperfetch's typed configuration from a TOML file
// overlaid with environment variables, using viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hyperfetch/internal/mapper"
)

// MappingRule mirrors mapper.RuleConfig in a form viper can unmarshal
// directly from TOML/env without importing regexp at the config layer.
type MappingRule struct {
	Name         string   `mapstructure:"name"`
	Pattern      string   `mapstructure:"pattern"`
	Replacements []string `mapstructure:"replacements"`
	Regions      []string `mapstructure:"regions"`
	Priority     int      `mapstructure:"priority"`
	Enabled      bool     `mapstructure:"enabled"`
}

// Config is the complete, validated configuration surface described by the
// core spec's configuration table, plus the ambient settings (logging,
// storage, bandwidth, API) that a full deployment needs.
type Config struct {
	Region string `mapstructure:"region"`

	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads"`

	ChunkSize    int64 `mapstructure:"chunk_size"`
	MinChunkSize int64 `mapstructure:"min_chunk_size"`
	MaxChunkSize int64 `mapstructure:"max_chunk_size"`

	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`

	AdaptiveChunking bool `mapstructure:"adaptive_chunking"`

	URLMappingRules []MappingRule `mapstructure:"url_mapping_rules"`

	UserAgent string `mapstructure:"user_agent"`
	VerifySSL bool   `mapstructure:"verify_ssl"`

	MaxCacheEntries int           `mapstructure:"max_cache_entries"`
	URLCacheTTL     time.Duration `mapstructure:"url_cache_ttl"`

	// Ambient settings not named by the core spec's configuration table.
	DatabasePath   string        `mapstructure:"database_path"`
	DownloadDir    string        `mapstructure:"download_dir"`
	CacheDir       string        `mapstructure:"cache_dir"`
	LogDir         string        `mapstructure:"log_dir"`
	LogLevel       string        `mapstructure:"log_level"`
	BandwidthLimit int64         `mapstructure:"bandwidth_limit_bps"`
	APIEnabled     bool          `mapstructure:"api_enabled"`
	APIAddr        string        `mapstructure:"api_addr"`
	SpeedTestOnBoot bool         `mapstructure:"speedtest_on_boot"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

// Defaults mirrors the core spec's stated defaults plus sane ambient ones.
func Defaults() Config {
	return Config{
		Region:                 "global",
		MaxConcurrentDownloads: 8,
		ChunkSize:              1 << 20,       // 1 MiB
		MinChunkSize:           256 << 10,     // 256 KiB
		MaxChunkSize:           10 << 20,      // 10 MiB
		Timeout:                10 * time.Second,
		RetryAttempts:          3,
		AdaptiveChunking:       true,
		UserAgent:              "hyperfetch/1.0 (+https://github.com/hyperfetch)",
		VerifySSL:              true,
		MaxCacheEntries:        1000,
		URLCacheTTL:            10 * time.Minute,
		DatabasePath:           "hyperfetch.db",
		DownloadDir:            ".",
		CacheDir:               "cache",
		LogDir:                 "logs",
		LogLevel:               "info",
		APIEnabled:             false,
		APIAddr:                "127.0.0.1:4444",
		SpeedTestOnBoot:        false,
		ProbeTimeout:           10 * time.Second,
	}
}

// Load reads configPath (a TOML file; may not exist) overlaid with
// HYPERFETCH_-prefixed environment variables, falling back to Defaults for
// anything unset.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix("hyperfetch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("region", d.Region)
	v.SetDefault("max_concurrent_downloads", d.MaxConcurrentDownloads)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("min_chunk_size", d.MinChunkSize)
	v.SetDefault("max_chunk_size", d.MaxChunkSize)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("adaptive_chunking", d.AdaptiveChunking)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("verify_ssl", d.VerifySSL)
	v.SetDefault("max_cache_entries", d.MaxCacheEntries)
	v.SetDefault("url_cache_ttl", d.URLCacheTTL)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("download_dir", d.DownloadDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("api_enabled", d.APIEnabled)
	v.SetDefault("api_addr", d.APIAddr)
	v.SetDefault("speedtest_on_boot", d.SpeedTestOnBoot)
	v.SetDefault("probe_timeout", d.ProbeTimeout)
}

// Validate rejects configurations that would violate core invariants
// (N_max/min/max chunk size ordering, etc.) before the scheduler ever sees
// them.
func (c Config) Validate() error {
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("config: max_concurrent_downloads must be >= 1")
	}
	if c.MinChunkSize <= 0 || c.MaxChunkSize <= 0 || c.MinChunkSize > c.MaxChunkSize {
		return fmt.Errorf("config: min_chunk_size/max_chunk_size out of order")
	}
	if c.ChunkSize < c.MinChunkSize || c.ChunkSize > c.MaxChunkSize {
		return fmt.Errorf("config: chunk_size must lie within [min_chunk_size, max_chunk_size]")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("config: retry_attempts must be >= 0")
	}
	if c.MaxCacheEntries < 1 {
		return fmt.Errorf("config: max_cache_entries must be >= 1")
	}
	return nil
}

// MapperRuleConfigs converts the loaded URLMappingRules into the form
// mapper.New expects.
func (c Config) MapperRuleConfigs() []mapper.RuleConfig {
	out := make([]mapper.RuleConfig, 0, len(c.URLMappingRules))
	for _, r := range c.URLMappingRules {
		regions := make([]mapper.Region, 0, len(r.Regions))
		for _, rg := range r.Regions {
			regions = append(regions, mapper.Region(rg))
		}
		out = append(out, mapper.RuleConfig{
			Name:         r.Name,
			Pattern:      r.Pattern,
			Replacements: r.Replacements,
			Regions:      regions,
			Priority:     r.Priority,
			Enabled:      r.Enabled,
		})
	}
	return out
}

// MapperConfig converts the loaded cache bounds into mapper.Config.
func (c Config) MapperConfig() mapper.Config {
	return mapper.Config{
		MaxCacheEntries: c.MaxCacheEntries,
		CacheTTL:        c.URLCacheTTL,
	}
}
