package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/Phonesync/internal/domain"
)

// EnvPrefix is the prefix of environment overrides, e.g. PHONESYNC_SOURCE_DIR
const EnvPrefix = "PHONESYNC"

// DefaultTargetDir is the device directory used when none is configured
const DefaultTargetDir = "/storage/self/primary/Cinematography/syncPhotos"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "phonesync"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".phonesync"))
	}

	return paths
}

// DefaultDataDir returns the directory holding phonesync's own state
func DefaultDataDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "phonesync")
	}
	return ".phonesync"
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	v.SetDefault("source_dir", filepath.Join(dataDir, "photos"))
	v.SetDefault("target_dir", DefaultTargetDir)
	v.SetDefault("data_dir", dataDir)

	v.SetDefault("sync.mode", "")
	v.SetDefault("sync.ignore", []string{"**/.DS_Store", "**/Thumbs.db", "**/.*.swp"})
	v.SetDefault("sync.skip_empty", true)
	v.SetDefault("sync.max_file_size", "1GiB")

	v.SetDefault("transfer.assumed_rate", "10MiB")
	v.SetDefault("transfer.verify", false)
	v.SetDefault("transfer.checksum", "sha256")

	v.SetDefault("bridge.adb_path", "adb")
	v.SetDefault("bridge.timeout", "0s")
	v.SetDefault("bridge.retries", 0)

	v.SetDefault("convert.quality", 95)
	v.SetDefault("convert.remove_original", false)
	v.SetDefault("convert.tools", []string{"heif-convert", "magick"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)
}

// New returns a viper instance with defaults and environment overrides
// registered but no file read yet
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and parses a configuration file
// If path is empty, searches default locations for config.yaml; a missing
// file in the default locations is not an error and defaults apply
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadInto(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadInto reads the config file at path (or the default locations) into v
func ReadInto(v *viper.Viper, path string) error {
	if path != "" {
		// Use specific file; unlike the search paths it must exist
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
			}
			return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
		v.SetConfigFile(path)
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return nil
}

// Decode unmarshals v into a Config, expands paths and validates the result
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	// Only an explicitly set value pre-answers the conversion prompt
	if !v.IsSet("convert.enabled") {
		cfg.Convert.Enabled = nil
	}

	cfg.SourceDir = ExpandPath(cfg.SourceDir)
	cfg.DataDir = ExpandPath(cfg.DataDir)
	if cfg.Log.File != "" {
		cfg.Log.File = ExpandPath(cfg.Log.File)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return Decode(v)
}
