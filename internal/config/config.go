// Package config defines the runtime configuration of notifyreplay.
//
// Values are resolved from the OS environment, falling back to a .env file in
// the working directory, and are validated once at startup. Command-line
// flags of the CLI override the loaded values afterwards.
package config

import (
	"time"
)

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified by library code.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"notifyreplay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Replay        ReplayConfig
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ReplayConfig holds the settings of a replay run.
type ReplayConfig struct {
	PacingInterval time.Duration `envconfig:"REPLAY_PACING_INTERVAL" default:"2s" validate:"gte=0"`
	HTTPTimeout    time.Duration `envconfig:"REPLAY_HTTP_TIMEOUT" default:"30s" validate:"gt=0"`
	// UserAgent defaults to notifyreplay/<version> when unset.
	UserAgent    string `envconfig:"REPLAY_USER_AGENT"`
	ErrorPolicy  string `envconfig:"REPLAY_ERROR_POLICY" default:"fail_fast" validate:"oneof=fail_fast skip"`
	AuditLogPath string `envconfig:"REPLAY_AUDIT_LOG" default:"./notification_sender.log" validate:"required"`
	MaxRedirects int    `envconfig:"REPLAY_MAX_REDIRECTS" default:"3" validate:"gte=0"`

	// MaxRetries of 0 posts every notification exactly once.
	MaxRetries int `envconfig:"REPLAY_MAX_RETRIES" default:"0" validate:"gte=0,lte=5"`
	// BreakerThreshold opts into a per-destination circuit breaker that stops
	// posting to a host after this many consecutive failures. The breaker is
	// scoped to one run. Zero (the default) posts every admitted notification.
	BreakerThreshold uint32 `envconfig:"REPLAY_BREAKER_THRESHOLD" default:"0"`

	BlockPrivateNetworks bool  `envconfig:"REPLAY_BLOCK_PRIVATE_NETWORKS" default:"false"`
	MaxArchiveBytes      int64 `envconfig:"REPLAY_MAX_ARCHIVE_BYTES" default:"536870912" validate:"gt=0"`

	// Destination is the target used by the Lambda entrypoint when the event
	// does not name one.
	Destination string `envconfig:"REPLAY_DESTINATION" validate:"omitempty,url"`
}

// ServerConfig holds settings of the replay HTTP service.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// APIKeyHash is the bcrypt hash of the key accepted in X-API-Key.
	APIKeyHash   SecretString  `envconfig:"REPLAY_API_KEY_HASH"`
	MaxBodyBytes int64         `envconfig:"REPLAY_MAX_BODY_BYTES" default:"33554432" validate:"gt=0"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
}

// DatabaseConfig configures the optional delivery ledger. An empty URL
// disables it.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns       int           `envconfig:"DB_MAX_CONNS" default:"4"`
	AcquireTimeout time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// FailureQueueURL receives undelivered notifications. Empty disables export.
	FailureQueueURL string `envconfig:"REPLAY_FAILURE_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"NotifyReplay"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrDotenv indicates an explicitly named .env file could not be read.
	ErrDotenv ConfigErrorType = "DOTENV_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
