package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Upload   UploadConfig   `toml:"upload"`
	Playback PlaybackConfig `toml:"playback"`
	Library  LibraryConfig  `toml:"library"`
	Quota    QuotaConfig    `toml:"quota"`
	Logging  LoggingConfig  `toml:"logging"`
}

// StorageConfig contains local storage paths
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	SnapshotPath string `toml:"snapshot_path"`
	HandleDir    string `toml:"handle_dir"`
}

// UploadConfig contains upload validation limits
type UploadConfig struct {
	MaxFileSizeMB    int64    `toml:"max_file_size_mb"`
	SupportedFormats []string `toml:"supported_formats"`
	AllowedTypes     []string `toml:"allowed_types"`
}

// PlaybackConfig contains playback session timing settings
type PlaybackConfig struct {
	ProbeTimeoutSeconds int `toml:"probe_timeout_seconds"`
	ReadyTimeoutSeconds int `toml:"ready_timeout_seconds"`
	PersistDebounceMS   int `toml:"persist_debounce_ms"`
	RestoreMaxAgeHours  int `toml:"restore_max_age_hours"`
}

// LibraryConfig contains media library configuration
type LibraryConfig struct {
	SeedDefaultPlaylists bool `toml:"seed_default_playlists"`
}

// QuotaConfig contains storage quota estimation settings
type QuotaConfig struct {
	EstimateTTLSeconds int `toml:"estimate_ttl_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: "./serenade.db",
			SnapshotPath: "./player-state.json",
			HandleDir:    "", // empty means a per-process temp directory
		},
		Upload: UploadConfig{
			MaxFileSizeMB:    15,
			SupportedFormats: []string{".mp3", ".m4a", ".wav", ".flac"},
			AllowedTypes: []string{
				"audio/mpeg", "audio/mp3",
				"audio/mp4", "audio/x-m4a",
				"audio/wav", "audio/x-wav",
				"audio/flac",
			},
		},
		Playback: PlaybackConfig{
			ProbeTimeoutSeconds: 5,
			ReadyTimeoutSeconds: 10,
			PersistDebounceMS:   500,
			RestoreMaxAgeHours:  24,
		},
		Library: LibraryConfig{
			SeedDefaultPlaylists: true,
		},
		Quota: QuotaConfig{
			EstimateTTLSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	// Load from file
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# Serenade Configuration
# This file contains all configuration options for the serenade music library
# and playback session. Edit the values below to customize behavior.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate storage config
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Storage.SnapshotPath == "" {
		return fmt.Errorf("snapshot path cannot be empty")
	}

	// Validate upload config
	if c.Upload.MaxFileSizeMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MiB")
	}
	if len(c.Upload.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("at least one allowed MIME type must be specified")
	}

	// Validate playback config
	if c.Playback.ProbeTimeoutSeconds < 1 {
		return fmt.Errorf("probe timeout must be at least 1 second")
	}
	if c.Playback.ReadyTimeoutSeconds < 1 {
		return fmt.Errorf("ready timeout must be at least 1 second")
	}
	if c.Playback.PersistDebounceMS < 0 {
		return fmt.Errorf("persist debounce must not be negative")
	}
	if c.Playback.RestoreMaxAgeHours < 1 {
		return fmt.Errorf("restore max age must be at least 1 hour")
	}

	// Validate quota config
	if c.Quota.EstimateTTLSeconds < 0 {
		return fmt.Errorf("quota estimate TTL must not be negative")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// MaxFileSizeBytes returns the upload size ceiling in bytes
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Upload.MaxFileSizeMB * 1024 * 1024
}

// IsFormatSupported checks if an audio file extension is supported
func (c *Config) IsFormatSupported(ext string) bool {
	for _, supported := range c.Upload.SupportedFormats {
		if supported == ext {
			return true
		}
	}
	return false
}

// IsTypeAllowed checks if a declared MIME type is on the allow-list
func (c *Config) IsTypeAllowed(mimeType string) bool {
	for _, allowed := range c.Upload.AllowedTypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}
