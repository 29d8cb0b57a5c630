package config

import (
	"errors"
	"fmt"
	"image/color"
	"imgmerge/internal/core/domain"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Server  Server
	Storage Storage
	Cleanup Cleanup
	Merge   Merge
	Fetch   Fetch
	Log     Log
}

type Server struct {
	Port            int
	PublicURL       string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

type Storage struct {
	UploadDir string
	OutputDir string
}

type Cleanup struct {
	MaxAge   time.Duration
	Interval time.Duration
}

type Merge struct {
	DefaultHeight  int
	MinHeight      int
	MaxHeight      int
	JPEGQuality    int
	MaxInputPixels int64
	Background     color.NRGBA
}

type Fetch struct {
	Timeout  time.Duration
	MaxBytes int64
}

type Log struct {
	Level zerolog.Level
}

// SetDefaults registers every known key on v, so environment overrides work without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.output_dir", "outputs")
	v.SetDefault("cleanup.max_age", "24h")
	v.SetDefault("cleanup.interval", "1h")
	v.SetDefault("merge.default_height", 1200)
	v.SetDefault("merge.min_height", 100)
	v.SetDefault("merge.max_height", 5000)
	v.SetDefault("merge.jpeg_quality", 100)
	v.SetDefault("merge.max_input_pixels", domain.DefaultMaxInputPixels)
	v.SetDefault("merge.background", "#ffffff")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_bytes", 25<<20)
	v.SetDefault("log.level", "info")
}

// Load reads config.toml from the given search paths if present and applies IMGMERGE_* environment overrides.
// A bare PORT variable, as set by most hosting platforms, overrides server.port.
func Load(v *viper.Viper, paths ...string) (*Config, error) {
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("imgmerge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "IMGMERGE_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds and validates a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Port:           v.GetInt("server.port"),
			PublicURL:      v.GetString("server.public_url"),
			MaxUploadBytes: v.GetInt64("server.max_upload_mb") << 20,
		},
		Storage: Storage{
			UploadDir: v.GetString("storage.upload_dir"),
			OutputDir: v.GetString("storage.output_dir"),
		},
		Merge: Merge{
			DefaultHeight:  v.GetInt("merge.default_height"),
			MinHeight:      v.GetInt("merge.min_height"),
			MaxHeight:      v.GetInt("merge.max_height"),
			JPEGQuality:    v.GetInt("merge.jpeg_quality"),
			MaxInputPixels: v.GetInt64("merge.max_input_pixels"),
		},
		Fetch: Fetch{
			MaxBytes: v.GetInt64("fetch.max_bytes"),
		},
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"server.shutdown_timeout", &cfg.Server.ShutdownTimeout},
		{"cleanup.max_age", &cfg.Cleanup.MaxAge},
		{"cleanup.interval", &cfg.Cleanup.Interval},
		{"fetch.timeout", &cfg.Fetch.Timeout},
	}
	for _, d := range durations {
		*d.dst, err = time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s in config: %w", d.key, err)
		}
	}

	cfg.Merge.Background, err = ParseHexColor(v.GetString("merge.background"))
	if err != nil {
		return nil, fmt.Errorf("invalid merge.background in config: %w", err)
	}

	switch v.GetString("log.level") {
	case "debug":
		cfg.Log.Level = zerolog.DebugLevel
	case "warn":
		cfg.Log.Level = zerolog.WarnLevel
	case "error":
		cfg.Log.Level = zerolog.ErrorLevel
	default:
		cfg.Log.Level = zerolog.InfoLevel
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	case c.Merge.MinHeight < 1 || c.Merge.MinHeight > c.Merge.MaxHeight:
		return fmt.Errorf("merge.min_height must be between 1 and merge.max_height, got %d", c.Merge.MinHeight)
	case c.Merge.DefaultHeight < c.Merge.MinHeight || c.Merge.DefaultHeight > c.Merge.MaxHeight:
		return fmt.Errorf("merge.default_height must be between %d and %d, got %d",
			c.Merge.MinHeight, c.Merge.MaxHeight, c.Merge.DefaultHeight)
	case c.Storage.UploadDir == "" || c.Storage.OutputDir == "":
		return errors.New("storage directories must not be empty")
	case c.Merge.MaxInputPixels < 1:
		return errors.New("merge.max_input_pixels must be positive")
	case c.Fetch.MaxBytes < 1:
		return errors.New("fetch.max_bytes must be positive")
	}

	return nil
}

// ParseHexColor parses #rgb or #rrggbb (the # is optional) into an opaque colour.
func ParseHexColor(s string) (color.NRGBA, error) {
	c := color.NRGBA{A: 255}
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")

	var err error
	if strings.Trim(hex, "0123456789abcdefABCDEF") != "" {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: not hexadecimal", s)
	}

	switch len(hex) {
	case 6:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 3:
		_, err = fmt.Sscanf(hex, "%1x%1x%1x", &c.R, &c.G, &c.B)
		c.R *= 17
		c.G *= 17
		c.B *= 17
	default:
		err = fmt.Errorf("expected #rgb or #rrggbb, got %q", s)
	}

	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}

	return c, nil
}
