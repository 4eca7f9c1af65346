package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the configuration.
//
// With no arguments a .env file in the working directory is loaded if it
// exists. Files named explicitly must exist. Dotenv values never override
// variables already present in the environment.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{Type: ErrDotenv, Message: "failed to parse .env", Err: err}
		}
	} else if err := godotenv.Load(dotenvFiles...); err != nil {
		return nil, &ConfigError{Type: ErrDotenv, Message: "failed to load dotenv files", Err: err}
	}

	// The empty prefix "" means envconfig will use the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()
	if cfg.Replay.UserAgent == "" {
		cfg.Replay.UserAgent = cfg.Build.UserAgent()
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the struct validation rules. The CLI calls it again after
// applying flag overrides.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}
