package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/Ning0612/Phonesync/internal/core/checksum"
	"github.com/Ning0612/Phonesync/internal/domain"
)

// Config represents the complete configuration for phonesync
type Config struct {
	// SourceDir is the desktop directory whose files are pushed
	SourceDir string `mapstructure:"source_dir" yaml:"source_dir"`

	// TargetDir is the directory on the device receiving the files
	TargetDir string `mapstructure:"target_dir" yaml:"target_dir"`

	// DataDir holds the watermark, history database and lock file
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Bridge   BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Convert  ConvertConfig  `mapstructure:"convert" yaml:"convert"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// SyncConfig controls file selection
type SyncConfig struct {
	// Mode is the default sync mode ("all" or "incremental"); empty means ask
	Mode string `mapstructure:"mode" yaml:"mode"`

	// Ignore holds doublestar patterns excluded from enumeration
	Ignore []string `mapstructure:"ignore" yaml:"ignore"`

	// SkipEmpty skips zero-byte files
	SkipEmpty bool `mapstructure:"skip_empty" yaml:"skip_empty"`

	// MaxFileSize skips larger files, e.g. "1GiB"; empty or "0" disables
	MaxFileSize string `mapstructure:"max_file_size" yaml:"max_file_size"`
}

// TransferConfig controls planning
type TransferConfig struct {
	// AssumedRate is the per-second rate used for the ETA, e.g. "10MiB"
	AssumedRate string `mapstructure:"assumed_rate" yaml:"assumed_rate"`

	// Verify compares every pushed file with its source by checksum
	Verify   bool   `mapstructure:"verify" yaml:"verify"`
	Checksum string `mapstructure:"checksum" yaml:"checksum"`
}

// BridgeConfig configures the adb subprocess
type BridgeConfig struct {
	AdbPath string        `mapstructure:"adb_path" yaml:"adb_path"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries int           `mapstructure:"retries" yaml:"retries"`
}

// ConvertConfig configures HEIC to JPEG conversion
type ConvertConfig struct {
	// Enabled is the default answer of the conversion prompt; nil means ask
	Enabled        *bool    `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Quality        int      `mapstructure:"quality" yaml:"quality"`
	RemoveOriginal bool     `mapstructure:"remove_original" yaml:"remove_original"`
	Tools          []string `mapstructure:"tools" yaml:"tools"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("%w: source_dir cannot be empty", domain.ErrConfigInvalid)
	}
	if c.TargetDir == "" {
		return fmt.Errorf("%w: target_dir cannot be empty", domain.ErrConfigInvalid)
	}
	if !strings.HasPrefix(c.TargetDir, "/") {
		return fmt.Errorf("%w: target_dir must be an absolute device path: %s", domain.ErrConfigInvalid, c.TargetDir)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", domain.ErrConfigInvalid)
	}

	if c.Sync.Mode != "" {
		if _, err := domain.ParseSyncMode(c.Sync.Mode); err != nil {
			return fmt.Errorf("%w: sync.mode: %v", domain.ErrConfigInvalid, err)
		}
	}
	if _, err := c.MaxFileSizeBytes(); err != nil {
		return err
	}
	rate, err := c.AssumedRateBytes()
	if err != nil {
		return err
	}
	if rate <= 0 {
		return fmt.Errorf("%w: transfer.assumed_rate must be positive", domain.ErrConfigInvalid)
	}

	if c.Transfer.Verify && !checksum.IsSupported(checksum.Algorithm(c.Transfer.Checksum)) {
		return fmt.Errorf("%w: transfer.checksum must be md5 or sha256, got %q", domain.ErrConfigInvalid, c.Transfer.Checksum)
	}

	if c.Bridge.AdbPath == "" {
		return fmt.Errorf("%w: bridge.adb_path cannot be empty", domain.ErrConfigInvalid)
	}
	if c.Bridge.Retries < 0 {
		return fmt.Errorf("%w: bridge.retries cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Bridge.Timeout < 0 {
		return fmt.Errorf("%w: bridge.timeout cannot be negative", domain.ErrConfigInvalid)
	}

	if c.Convert.Quality < 1 || c.Convert.Quality > 100 {
		return fmt.Errorf("%w: convert.quality must be between 1 and 100, got %d",
			domain.ErrConfigInvalid, c.Convert.Quality)
	}
	for _, tool := range c.Convert.Tools {
		if tool == "" {
			return fmt.Errorf("%w: convert.tools contains an empty entry", domain.ErrConfigInvalid)
		}
	}

	return nil
}

// MaxFileSizeBytes parses Sync.MaxFileSize; 0 means unlimited
func (c *Config) MaxFileSizeBytes() (int64, error) {
	return parseSize("sync.max_file_size", c.Sync.MaxFileSize)
}

// AssumedRateBytes parses Transfer.AssumedRate into bytes per second
func (c *Config) AssumedRateBytes() (int64, error) {
	return parseSize("transfer.assumed_rate", strings.TrimSuffix(c.Transfer.AssumedRate, "/s"))
}

// WatermarkPath returns the path of the last-sync timestamp file
func (c *Config) WatermarkPath() string {
	return filepath.Join(c.DataDir, "last_sync_time.txt")
}

// LogFilePath returns the configured log file, defaulting into DataDir
func (c *Config) LogFilePath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "logs", "phonesync.log")
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

func parseSize(key, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, key, err)
	}
	return int64(n), nil
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	// Expand ~ to home directory
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
