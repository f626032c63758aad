package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Normalize NormalizeConfig `mapstructure:"normalize" json:"normalize"`
	Brush     BrushConfig     `mapstructure:"brush" json:"brush"`
	Mask      MaskConfig      `mapstructure:"mask" json:"mask"`
	Inference InferenceConfig `mapstructure:"inference" json:"inference"`
	Persist   PersistConfig   `mapstructure:"persist" json:"persist"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics"`
}

// NormalizeConfig holds configuration for the image normalization pipeline
type NormalizeConfig struct {
	MaxDimension     int           `mapstructure:"max_dimension" json:"max_dimension"`
	Quality          int           `mapstructure:"quality" json:"quality"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	ConfirmThreshold int64         `mapstructure:"confirm_threshold" json:"confirm_threshold"`
	RejectedFormats  []string      `mapstructure:"rejected_formats" json:"rejected_formats"`
}

// BrushConfig holds the initial brush settings
type BrushConfig struct {
	Width float64 `mapstructure:"width" json:"width"`
	Color string  `mapstructure:"color" json:"color"`
	Mode  string  `mapstructure:"mode" json:"mode"`
}

// MaskConfig holds configuration for mask export
type MaskConfig struct {
	Format string `mapstructure:"format" json:"format"`
}

// InferenceConfig holds configuration for the segmentation collaborator
type InferenceConfig struct {
	Backend string        `mapstructure:"backend" json:"backend"`
	URL     string        `mapstructure:"url" json:"url"`
	Path    string        `mapstructure:"path" json:"path"`
	Model   string        `mapstructure:"model" json:"model"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// PersistConfig holds configuration for the mask persistence collaborator
type PersistConfig struct {
	URL   string `mapstructure:"url" json:"url"`
	Model string `mapstructure:"model" json:"model"`
	Type  string `mapstructure:"type" json:"type"`
}

// LoggingConfig selects slog level and handler
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// MetricsConfig controls the prometheus textfile dump
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" json:"textfile"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Normalize: NormalizeConfig{
			MaxDimension:     800,
			Quality:          85,
			Timeout:          30 * time.Second,
			ConfirmThreshold: 10 << 20,
			RejectedFormats:  []string{"heic", "heif", "avif", "tiff", "pdf"},
		},
		Brush: BrushConfig{
			Width: 10,
			Color: "#FFFFFF",
			Mode:  "freehand",
		},
		Mask: MaskConfig{
			Format: "png",
		},
		Inference: InferenceConfig{
			Backend: "http",
			URL:     "http://localhost:8000",
			Path:    "/parking/segment",
			Model:   "qwen2.5vl",
			Timeout: 5 * time.Minute,
		},
		Persist: PersistConfig{
			URL:   "http://localhost:8000",
			Model: "unet",
			Type:  "haircut",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults registers every field of Default() with v so that
// environment overrides work for keys absent from the config file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("normalize.max_dimension", d.Normalize.MaxDimension)
	v.SetDefault("normalize.quality", d.Normalize.Quality)
	v.SetDefault("normalize.timeout", d.Normalize.Timeout)
	v.SetDefault("normalize.confirm_threshold", d.Normalize.ConfirmThreshold)
	v.SetDefault("normalize.rejected_formats", d.Normalize.RejectedFormats)
	v.SetDefault("brush.width", d.Brush.Width)
	v.SetDefault("brush.color", d.Brush.Color)
	v.SetDefault("brush.mode", d.Brush.Mode)
	v.SetDefault("mask.format", d.Mask.Format)
	v.SetDefault("inference.backend", d.Inference.Backend)
	v.SetDefault("inference.url", d.Inference.URL)
	v.SetDefault("inference.path", d.Inference.Path)
	v.SetDefault("inference.model", d.Inference.Model)
	v.SetDefault("inference.timeout", d.Inference.Timeout)
	v.SetDefault("persist.url", d.Persist.URL)
	v.SetDefault("persist.model", d.Persist.Model)
	v.SetDefault("persist.type", d.Persist.Type)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// GEOMASK_NORMALIZE_TIMEOUT -> normalize.timeout
	v.SetEnvPrefix("GEOMASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from an optional file plus GEOMASK_* environment
// variables. An empty filename searches ./config.{yaml,json} and the
// user config directory, and is fine if nothing is found.
func Load(filename string) (*Config, error) {
	v := newViper()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(GetConfigPath()))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is empty")
	}
	return Load(filename)
}

// SaveToFile saves configuration to a file; the extension picks the format
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("normalize", map[string]any{
		"max_dimension":     c.Normalize.MaxDimension,
		"quality":           c.Normalize.Quality,
		"timeout":           c.Normalize.Timeout.String(),
		"confirm_threshold": c.Normalize.ConfirmThreshold,
		"rejected_formats":  c.Normalize.RejectedFormats,
	})
	v.Set("brush", map[string]any{
		"width": c.Brush.Width,
		"color": c.Brush.Color,
		"mode":  c.Brush.Mode,
	})
	v.Set("mask", map[string]any{"format": c.Mask.Format})
	v.Set("inference", map[string]any{
		"backend": c.Inference.Backend,
		"url":     c.Inference.URL,
		"path":    c.Inference.Path,
		"model":   c.Inference.Model,
		"timeout": c.Inference.Timeout.String(),
	})
	v.Set("persist", map[string]any{
		"url":   c.Persist.URL,
		"model": c.Persist.Model,
		"type":  c.Persist.Type,
	})
	v.Set("logging", map[string]any{
		"level":  c.Logging.Level,
		"format": c.Logging.Format,
	})
	v.Set("metrics", map[string]any{"textfile": c.Metrics.Textfile})

	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []string

	if c.Normalize.MaxDimension < 1 {
		errs = append(errs, "normalize.max_dimension must be positive")
	}
	if c.Normalize.Quality < 1 || c.Normalize.Quality > 100 {
		errs = append(errs, "normalize.quality must be between 1 and 100")
	}
	if c.Normalize.Timeout <= 0 {
		errs = append(errs, "normalize.timeout must be positive")
	}
	if c.Normalize.ConfirmThreshold < 0 {
		errs = append(errs, "normalize.confirm_threshold cannot be negative")
	}
	if c.Brush.Width < 1 || c.Brush.Width > 50 {
		errs = append(errs, "brush.width must be between 1 and 50")
	}
	switch strings.ToLower(c.Brush.Mode) {
	case "freehand", "straight":
	default:
		errs = append(errs, fmt.Sprintf("brush.mode must be freehand or straight, got %q", c.Brush.Mode))
	}
	switch strings.ToLower(c.Mask.Format) {
	case "png", "webp":
	default:
		errs = append(errs, fmt.Sprintf("mask.format must be png or webp, got %q", c.Mask.Format))
	}
	switch strings.ToLower(c.Inference.Backend) {
	case "http", "ollama", "llamacpp":
	default:
		errs = append(errs, fmt.Sprintf("inference.backend must be http, ollama or llamacpp, got %q", c.Inference.Backend))
	}
	if c.Inference.URL == "" {
		errs = append(errs, "inference.url is required")
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, "inference.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "geomask", "config.yaml")
}
