// Package config loads uploader settings from an optional YAML file and the
// environment. Environment values override the file; CLI flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRootDir       = "./sample"
	DefaultTableName     = "device_test"
	DefaultBucketName    = "devicetest"
	DefaultMaxImageBytes = 50 << 20
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = time.Second
	DefaultPresignTTL    = 7 * 24 * time.Hour

	URLModePublic  = "public"
	URLModePresign = "presign"
)

type Config struct {
	RootDir       string      `yaml:"root_dir"`
	TableName     string      `yaml:"table_name"`
	BucketName    string      `yaml:"bucket_name"`
	MaxImageBytes int64       `yaml:"max_image_bytes"`
	Retry         RetryConfig `yaml:"retry"`

	DatabaseURL    string        `yaml:"database_url"`
	Migrate        bool          `yaml:"migrate"`
	NATSURL        string        `yaml:"nats_url"`
	PushgatewayURL string        `yaml:"pushgateway_url"`
	URLMode        string        `yaml:"url_mode"`
	PresignTTL     time.Duration `yaml:"presign_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		RootDir:       DefaultRootDir,
		TableName:     DefaultTableName,
		BucketName:    DefaultBucketName,
		MaxImageBytes: DefaultMaxImageBytes,
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
		},
		URLMode:    URLModePublic,
		PresignTTL: DefaultPresignTTL,
		LogLevel:   "info",
		LogFormat:  "json",
	}
}

// Load reads path (when non-empty) over the defaults, then applies environment
// overrides. The result is not validated; call Validate once flags are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var err error
	cfg.RootDir = getEnv("DEVUP_ROOT_DIR", cfg.RootDir)
	cfg.TableName = getEnv("DEVUP_TABLE", cfg.TableName)
	cfg.BucketName = getEnv("DEVUP_BUCKET", cfg.BucketName)
	if cfg.MaxImageBytes, err = getEnvInt64("DEVUP_MAX_IMAGE_BYTES", cfg.MaxImageBytes); err != nil {
		return Config{}, err
	}
	if cfg.Retry.MaxAttempts, err = getEnvInt("DEVUP_RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Retry.BaseDelay, err = getEnvDuration("DEVUP_RETRY_BASE_DELAY", cfg.Retry.BaseDelay); err != nil {
		return Config{}, err
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Migrate = getEnvBool("DEVUP_MIGRATE", cfg.Migrate)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.PushgatewayURL = getEnv("PUSHGATEWAY_URL", cfg.PushgatewayURL)
	cfg.URLMode = getEnv("DEVUP_URL_MODE", cfg.URLMode)
	if cfg.PresignTTL, err = getEnvDuration("DEVUP_PRESIGN_TTL", cfg.PresignTTL); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// Validate checks the settings needed by every run.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RootDir) == "" {
		return errors.New("root directory cannot be empty")
	}
	if strings.TrimSpace(c.TableName) == "" {
		return errors.New("table name cannot be empty")
	}
	if strings.TrimSpace(c.BucketName) == "" {
		return errors.New("bucket name cannot be empty")
	}
	if c.MaxImageBytes <= 0 {
		return errors.New("max image bytes must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry base delay must be > 0")
	}
	switch c.URLMode {
	case URLModePublic:
	case URLModePresign:
		if c.PresignTTL <= 0 {
			return errors.New("presign ttl must be > 0")
		}
	default:
		return fmt.Errorf("unknown url mode %q (want %s or %s)", c.URLMode, URLModePublic, URLModePresign)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}

func getEnvInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
