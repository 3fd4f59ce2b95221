// Package config loads CLI and daemon configuration.
//
// Sources, lowest to highest precedence: built-in defaults, the
// workspace config file at .lore/config.yaml, and LORE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lorekit/lore/internal/repo"
)

// ConfigDir is the workspace directory holding the config file, the
// cache database and the daemon log.
const ConfigDir = ".lore"

// Config is the resolved configuration tree.
type Config struct {
	Repo struct {
		// Path is the knowledge repository root.
		Path string `mapstructure:"path"`
		// Remote is the git URL shared by the team. Empty means
		// local-only.
		Remote string `mapstructure:"remote"`
	} `mapstructure:"repo"`

	DB struct {
		// Path is the SQLite cache file.
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Lock struct {
		StaleTimeout time.Duration `mapstructure:"stale_timeout"`
		MaxAttempts  int           `mapstructure:"max_attempts"`
	} `mapstructure:"lock"`

	Git struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"git"`

	Watch struct {
		Interval time.Duration `mapstructure:"interval"`
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`

	Scrub struct {
		RulesFile string `mapstructure:"rules_file"`
	} `mapstructure:"scrub"`

	Digest struct {
		Enabled bool   `mapstructure:"enabled"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"digest"`

	Log struct {
		File      string `mapstructure:"file"`
		MaxSizeMB int    `mapstructure:"max_size_mb"`
	} `mapstructure:"log"`
}

// Load resolves configuration for a workspace rooted at workDir. A
// missing config file is not an error; defaults and environment
// variables still apply.
func Load(workDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v, workDir)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(workDir, ConfigDir))

	v.SetEnvPrefix("LORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadDefault resolves configuration for the current working
// directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return Load(cwd)
}

func setDefaults(v *viper.Viper, workDir string) {
	v.SetDefault("repo.path", filepath.Join(workDir, ConfigDir, "knowledge-repo"))
	v.SetDefault("repo.remote", "")
	v.SetDefault("db.path", filepath.Join(workDir, ConfigDir, "cache.db"))
	v.SetDefault("lock.stale_timeout", 10*time.Second)
	v.SetDefault("lock.max_attempts", 50)
	v.SetDefault("git.timeout", 30*time.Second)
	v.SetDefault("watch.interval", 5*time.Minute)
	v.SetDefault("watch.debounce", 500*time.Millisecond)
	v.SetDefault("scrub.rules_file", "")
	v.SetDefault("digest.enabled", false)
	v.SetDefault("digest.api_key", "")
	v.SetDefault("log.file", filepath.Join(workDir, ConfigDir, "watch.log"))
	v.SetDefault("log.max_size_mb", 10)
}

// RepoOptions maps the configured knobs onto repository adapter
// options.
func (c *Config) RepoOptions() repo.Options {
	opts := repo.DefaultOptions(c.Repo.Path)
	if c.Lock.StaleTimeout > 0 {
		opts.LockStaleTimeout = c.Lock.StaleTimeout
	}
	if c.Lock.MaxAttempts > 0 {
		opts.LockMaxAttempts = c.Lock.MaxAttempts
	}
	if c.Git.Timeout > 0 {
		opts.CommandTimeout = c.Git.Timeout
	}
	return opts
}
