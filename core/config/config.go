// Package config loads envolve settings from defaults, an optional YAML file,
// ENVOLVE_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/adalundhe/envolve/core/storage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ENVOLVE"

type Config struct {
	Home              string        `mapstructure:"home" yaml:"home" validate:"required"`
	EnvFile           string        `mapstructure:"env_file" yaml:"env_file" validate:"required,basename"`
	HistoryFile       string        `mapstructure:"history_file" yaml:"history_file" validate:"required,basename,nefield=EnvFile"`
	LegacyHistoryFile string        `mapstructure:"legacy_history_file" yaml:"legacy_history_file" validate:"omitempty,basename,nefield=HistoryFile"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout" validate:"gt=0"`
	Log               LogConfig     `mapstructure:"log" yaml:"log"`
	Watch             WatchConfig   `mapstructure:"watch" yaml:"watch"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-" yaml:"-"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" validate:"gt=0"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"gt=0"`
	Exclude  []string      `mapstructure:"exclude" yaml:"exclude"`
}

// FlagBindings maps command-line flag names to config keys.
var FlagBindings = map[string]string{
	"home":      "home",
	"log-level": "log.level",
	"log-file":  "log.file",
}

// LoadOptions controls where Load looks for settings.
type LoadOptions struct {
	// File is an explicit config file. It must exist when set.
	File string

	// Dirs supplies the default home, config file and log file.
	Dirs *storage.Dirs

	// Flags are bound through FlagBindings. Only flags the user set override
	// lower layers.
	Flags *pflag.FlagSet
}

func setDefaults(v *viper.Viper, dirs *storage.Dirs) {
	v.SetDefault("home", dirs.Home)
	v.SetDefault("env_file", ".env")
	v.SetDefault("history_file", ".version.jsonl")
	v.SetDefault("legacy_history_file", ".version.json")
	v.SetDefault("lock_timeout", 5*time.Second)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", dirs.LogFile())
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("watch.debounce", 200*time.Millisecond)
	v.SetDefault("watch.exclude", []string{".git", "node_modules", "*.tmp-*"})
}

// Default returns the configuration Load produces with no file, environment
// or flags.
func Default(dirs *storage.Dirs) *Config {
	v := viper.New()
	setDefaults(v, dirs)
	cfg := &Config{}
	// Defaults are well-formed; a decode failure here is a programming error.
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("decode default config: %v", err))
	}
	return cfg
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	dirs := opts.Dirs
	if dirs == nil {
		resolved, err := storage.Resolve()
		if err != nil {
			return nil, err
		}
		dirs = resolved
	}

	v := viper.New()
	setDefaults(v, dirs)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source, err := readConfigFile(v, opts.File, dirs.ConfigFile())
	if err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		for name, key := range FlagBindings {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Source = source

	if cfg.Home, err = storage.ExpandHome(cfg.Home); err != nil {
		return nil, err
	}
	if cfg.Log.File, err = storage.ExpandHome(cfg.Log.File); err != nil {
		return nil, err
	}

	if err := NewValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, explicit, fallback string) (string, error) {
	path := explicit
	if path == "" {
		if _, err := os.Stat(fallback); errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		path = fallback
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config %s: %w", path, err)
	}
	return path, nil
}
