// Package config resolves photoman settings from flags, PHOTOMAN_* env
// vars and an optional YAML file, through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "PHOTOMAN"
	appName   = "photoman"
)

// Keys
const (
	KeyCacheDir            = "cache_dir"
	KeyDBPath              = "db_path"
	KeyCredentials         = "credentials"
	KeyToken               = "token"
	KeyExtractor           = "extractor"
	KeyExiv2Path           = "exiv2_path"
	KeyRawKinds            = "raw_kinds"
	KeyPrefetchConcurrency = "prefetch_concurrency"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyMetricsAddr         = "metrics_addr"
	KeySweepOnStart        = "sweep_on_start"
)

// Config is the resolved configuration.
type Config struct {
	CacheDir            string
	DBPath              string
	Credentials         string
	Token               string
	Extractor           string
	Exiv2Path           string
	RawKinds            []string
	PrefetchConcurrency int
	LogLevel            string
	LogFormat           string
	MetricsAddr         string
	SweepOnStart        bool
}

// ContentDir is where materialized files live.
func (c *Config) ContentDir() string {
	return filepath.Join(c.CacheDir, "cache")
}

// LockPath is the process lock guarding the durable store.
func (c *Config) LockPath() string {
	return filepath.Join(c.CacheDir, ".lock")
}

// SetDefaults registers defaults and env binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyCacheDir, DefaultCacheDir())
	v.SetDefault(KeyExtractor, "exiv2")
	v.SetDefault(KeyExiv2Path, "exiv2")
	v.SetDefault(KeyRawKinds, []string{"image/x-nikon-nef"})
	v.SetDefault(KeyPrefetchConcurrency, 4)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeySweepOnStart, true)
}

// ReadFile loads path, or config.yaml from the XDG config dir when path is
// empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		CacheDir:            v.GetString(KeyCacheDir),
		DBPath:              v.GetString(KeyDBPath),
		Credentials:         v.GetString(KeyCredentials),
		Token:               v.GetString(KeyToken),
		Extractor:           v.GetString(KeyExtractor),
		Exiv2Path:           v.GetString(KeyExiv2Path),
		RawKinds:            v.GetStringSlice(KeyRawKinds),
		PrefetchConcurrency: v.GetInt(KeyPrefetchConcurrency),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
		MetricsAddr:         v.GetString(KeyMetricsAddr),
		SweepOnStart:        v.GetBool(KeySweepOnStart),
	}

	if c.CacheDir == "" {
		return nil, errors.New("cache_dir must not be empty")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.CacheDir, "index.db")
	}
	if c.Credentials == "" {
		c.Credentials = filepath.Join(Dir(), "credentials.json")
	}
	if c.Token == "" {
		c.Token = filepath.Join(Dir(), "token.json")
	}
	switch c.Extractor {
	case "exiv2", "exif":
	default:
		return nil, fmt.Errorf("extractor must be exiv2 or exif, got %q", c.Extractor)
	}
	if c.PrefetchConcurrency < 1 {
		return nil, fmt.Errorf("prefetch_concurrency must be positive, got %d", c.PrefetchConcurrency)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return nil, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return c, nil
}

// Dir is the XDG config directory for photoman.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appName)
	}
	return "." + appName
}

// DefaultCacheDir is the XDG data directory for photoman.
func DefaultCacheDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appName)
	}
	return "." + appName
}
