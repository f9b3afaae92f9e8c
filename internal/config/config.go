// Package config loads allinone settings from defaults, an optional .env
// file, an optional YAML file and ALLINONE_* environment variables, in that
// order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"allinone/internal/intake"
	"allinone/internal/staged"
)

const envPrefix = "ALLINONE_"

type Config struct {
	Intake     IntakeConfig     `yaml:"intake"`
	Processing ProcessingConfig `yaml:"processing"`
	Usage      UsageConfig      `yaml:"usage"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
}

type IntakeConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	MaxFiles    int   `yaml:"max_files"`
}

type ProcessingConfig struct {
	MinDuration time.Duration `yaml:"min_duration"`
	Tick        time.Duration `yaml:"tick"`
	NoDelay     bool          `yaml:"no_delay"`
	Jobs        int           `yaml:"jobs"`
}

type UsageConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Locale   string        `yaml:"locale"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type FFmpegConfig struct {
	Path string `yaml:"path"`
}

func LoadDefaults() *Config {
	return &Config{
		Intake: IntakeConfig{
			MaxFileSize: intake.DefaultMaxFileSize,
			MaxFiles:    intake.DefaultMaxFiles,
		},
		Processing: ProcessingConfig{
			MinDuration: staged.DefaultMinDuration,
			Tick:        staged.DefaultTick,
			Jobs:        4,
		},
		Usage: UsageConfig{
			Locale:  "en",
			Timeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration. A missing envFile is ignored; a missing
// YAML path is an error. Either may be empty.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := LoadDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Intake.MaxFileSize <= 0 {
		return fmt.Errorf("intake.max_file_size must be positive")
	}
	if c.Intake.MaxFiles < 1 {
		return fmt.Errorf("intake.max_files must be at least 1")
	}
	if c.Processing.MinDuration < 0 {
		return fmt.Errorf("processing.min_duration must not be negative")
	}
	if c.Processing.Jobs < 1 {
		return fmt.Errorf("processing.jobs must be at least 1")
	}
	if c.Usage.Enabled && c.Usage.Endpoint == "" {
		return fmt.Errorf("usage.endpoint is required when usage tracking is enabled")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

// StagedConfig maps the processing section onto a controller configuration
// with the given stages.
func (c *Config) StagedConfig(stages []staged.Stage) staged.Config {
	sc := staged.Config{
		Stages:      stages,
		MinDuration: c.Processing.MinDuration,
		Tick:        c.Processing.Tick,
		Locale:      c.Usage.Locale,
	}
	if c.Processing.NoDelay {
		sc = staged.NoDelay(sc)
	}
	return sc
}

func (c *Config) AdmitConfig(multiple bool) intake.AdmitConfig {
	return intake.AdmitConfig{
		Multiple:    multiple,
		MaxFiles:    c.Intake.MaxFiles,
		MaxFileSize: c.Intake.MaxFileSize,
	}
}

func applyEnvOverrides(cfg *Config) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("invalid %s%s: %w", envPrefix, key, perr)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("invalid %s%s: %w", envPrefix, key, perr)
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("invalid %s%s: %w", envPrefix, key, perr)
				return
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "MAX_FILE_SIZE"); ok && v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid %sMAX_FILE_SIZE: %w", envPrefix, perr)
		}
		cfg.Intake.MaxFileSize = n
	}
	num("MAX_FILES", &cfg.Intake.MaxFiles)
	dur("MIN_DURATION", &cfg.Processing.MinDuration)
	flag("NO_DELAY", &cfg.Processing.NoDelay)
	num("JOBS", &cfg.Processing.Jobs)
	flag("USAGE_ENABLED", &cfg.Usage.Enabled)
	str("USAGE_ENDPOINT", &cfg.Usage.Endpoint)
	str("LOCALE", &cfg.Usage.Locale)
	str("ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("FFMPEG_PATH", &cfg.FFmpeg.Path)
	return err
}
