package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Denoise DenoiseConfig `mapstructure:"denoise"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Interop InteropConfig `mapstructure:"interop"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type DeviceConfig struct {
	Kind    string `mapstructure:"kind"`
	Ordinal int    `mapstructure:"ordinal"`
}

type DenoiseConfig struct {
	Blend  float32 `mapstructure:"blend"`
	Model  string  `mapstructure:"model"`
	Guides string  `mapstructure:"guides"`
	PoolMB int     `mapstructure:"pool_mb"`
}

// FilterConfig tunes the host reference engine
type FilterConfig struct {
	Radius       int     `mapstructure:"radius"`
	SigmaSpatial float32 `mapstructure:"sigma_spatial"`
	SigmaColor   float32 `mapstructure:"sigma_color"`
	SigmaAlbedo  float32 `mapstructure:"sigma_albedo"`
	SigmaNormal  float32 `mapstructure:"sigma_normal"`
}

type InteropConfig struct {
	Mode       string `mapstructure:"mode"`
	StrictSize bool   `mapstructure:"strict_size"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	fluctusDir := filepath.Join(home, ".fluctus")

	return &Config{
		Device: DeviceConfig{
			Kind:    "auto",
			Ordinal: 0,
		},
		Denoise: DenoiseConfig{
			Blend:  0,
			Model:  "hdr",
			Guides: "albedo",
			PoolMB: 256,
		},
		Filter: FilterConfig{
			Radius:       3,
			SigmaSpatial: 2.0,
			SigmaColor:   0.35,
			SigmaAlbedo:  0.1,
			SigmaNormal:  0.2,
		},
		Interop: InteropConfig{
			Mode:       "auto",
			StrictSize: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    filepath.Join(fluctusDir, "fluctus.log"),
			Console: true,
		},
	}
}

// Load loads configuration from file, environment, and defaults
func Load(cfgFile string) (*Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadWatched loads the configuration like Load and keeps watching the
// config file. onChange receives every subsequent valid revision; invalid
// revisions are reported through onError and otherwise ignored.
func LoadWatched(cfgFile string, onChange func(*Config), onError func(error)) (*Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			next, err := decode(v)
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("reloading %s: %w", e.Name, err))
				}
				return
			}
			onChange(next)
		})
		v.WatchConfig()
	}

	return cfg, nil
}

func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v, DefaultConfig())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("finding home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".fluctus"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FLUCTUS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is okay, use defaults
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validDevices := []string{"auto", "cpu", "gpu", "cuda"}
	if !contains(validDevices, c.Device.Kind) {
		return fmt.Errorf("device.kind must be one of: %v", validDevices)
	}
	if c.Device.Ordinal < 0 {
		return errors.New("device.ordinal must not be negative")
	}

	if c.Denoise.Blend < 0.0 || c.Denoise.Blend > 1.0 {
		return errors.New("denoise.blend must be between 0.0 and 1.0")
	}

	validModels := []string{"hdr", "ldr"}
	if !contains(validModels, c.Denoise.Model) {
		return fmt.Errorf("denoise.model must be one of: %v", validModels)
	}

	validGuides := []string{"none", "albedo", "albedo_normal"}
	if !contains(validGuides, c.Denoise.Guides) {
		return fmt.Errorf("denoise.guides must be one of: %v", validGuides)
	}

	if c.Denoise.PoolMB < 0 {
		return errors.New("denoise.pool_mb must not be negative")
	}

	if c.Filter.Radius < 1 || c.Filter.Radius > 16 {
		return errors.New("filter.radius must be between 1 and 16")
	}
	if c.Filter.SigmaSpatial <= 0 || c.Filter.SigmaColor <= 0 ||
		c.Filter.SigmaAlbedo <= 0 || c.Filter.SigmaNormal <= 0 {
		return errors.New("filter sigmas must be positive")
	}

	validModes := []string{"auto", "zero_copy", "staging"}
	if !contains(validModes, c.Interop.Mode) {
		return fmt.Errorf("interop.mode must be one of: %v", validModes)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Logging.File = expandPath(c.Logging.File)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device.kind", cfg.Device.Kind)
	v.SetDefault("device.ordinal", cfg.Device.Ordinal)

	v.SetDefault("denoise.blend", cfg.Denoise.Blend)
	v.SetDefault("denoise.model", cfg.Denoise.Model)
	v.SetDefault("denoise.guides", cfg.Denoise.Guides)
	v.SetDefault("denoise.pool_mb", cfg.Denoise.PoolMB)

	v.SetDefault("filter.radius", cfg.Filter.Radius)
	v.SetDefault("filter.sigma_spatial", cfg.Filter.SigmaSpatial)
	v.SetDefault("filter.sigma_color", cfg.Filter.SigmaColor)
	v.SetDefault("filter.sigma_albedo", cfg.Filter.SigmaAlbedo)
	v.SetDefault("filter.sigma_normal", cfg.Filter.SigmaNormal)

	v.SetDefault("interop.mode", cfg.Interop.Mode)
	v.SetDefault("interop.strict_size", cfg.Interop.StrictSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}
