package config

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults
const (
	DefaultBaseURL          = "http://localhost:8001/api"
	DefaultRequestTimeout   = 120 * time.Second
	DefaultHealthTimeout    = 10 * time.Second
	DefaultMaxImageSize     = 5 * 1024 * 1024
	DefaultUploadField      = "image"
	DefaultProgressInterval = time.Second
	DefaultExpectedDuration = 60 * time.Second
)

// DefaultAcceptedTypes are the media types the service analyzes.
var DefaultAcceptedTypes = []string{"image/jpeg", "image/png"}

// Config holds all application configuration
type Config struct {
	// Remote analysis service
	BaseURL        string        `mapstructure:"base-url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request-timeout" validate:"gt=0"`
	HealthTimeout  time.Duration `mapstructure:"health-timeout" validate:"gt=0"`
	UploadField    string        `mapstructure:"upload-field" validate:"required"`

	// Image limits
	MaxImageSize  int64    `mapstructure:"max-image-size" validate:"gt=0"`
	AcceptedTypes []string `mapstructure:"accepted-types" validate:"min=1,dive,required"`

	// Progress estimation
	ProgressInterval time.Duration `mapstructure:"progress-interval" validate:"gt=0"`
	ExpectedDuration time.Duration `mapstructure:"expected-duration" validate:"gtefield=ProgressInterval"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path" validate:"required"`
	FSMDBPath  string `mapstructure:"fsm-db-path" validate:"required"`

	// S3 image source
	S3Bucket    string `mapstructure:"s3-bucket"`
	S3Region    string `mapstructure:"s3-region" validate:"required"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	// Observability
	LogLevel    string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	MetricsAddr string `mapstructure:"metrics-addr" validate:"omitempty,hostname_port"`
}

// Load reads configuration from .env, environment, config file, and defaults
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	// Set defaults
	viper.SetDefault("base-url", DefaultBaseURL)
	viper.SetDefault("request-timeout", DefaultRequestTimeout)
	viper.SetDefault("health-timeout", DefaultHealthTimeout)
	viper.SetDefault("upload-field", DefaultUploadField)
	viper.SetDefault("max-image-size", DefaultMaxImageSize)
	viper.SetDefault("accepted-types", DefaultAcceptedTypes)
	viper.SetDefault("progress-interval", DefaultProgressInterval)
	viper.SetDefault("expected-duration", DefaultExpectedDuration)
	viper.SetDefault("sqlite-path", ".artifacts/attempts.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("metrics-addr", "")

	// Environment variables (will be SCALP_BASE_URL, etc.)
	viper.SetEnvPrefix("SCALP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.scalp-analyzer")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

var (
	vOnce sync.Once
	v     *validator.Validate
)

func structValidator() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())

		// report config keys rather than Go field names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("mapstructure")
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
	})
	return v
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s cannot be empty", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be positive", fe.Field())
	case "gtefield":
		return fmt.Sprintf("%s must not be shorter than progress-interval", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// SlogLevel maps log-level onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
