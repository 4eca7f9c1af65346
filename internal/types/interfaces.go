package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Sleeper blocks the caller for a duration. The dispatcher paces deliveries
// through it so tests can observe pacing without waiting.
type Sleeper interface {
	Sleep(d time.Duration)
}

// RealSleeper implements Sleeper with time.Sleep.
type RealSleeper struct{}

// Sleep pauses the current goroutine for at least d.
func (RealSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Logger defines the structured logging interface used throughout the module.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// AttemptRecorder persists dispatch attempts outside the audit log.
// Implemented by the Postgres ledger; failures are logged by the caller and
// never abort a run.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
}

// FailureSink receives envelopes whose delivery did not succeed so they can be
// re-driven later.
type FailureSink interface {
	PublishFailure(ctx context.Context, env *NotificationEnvelope, attempt DeliveryAttempt) error
}

// ReplayMetrics records per-attempt telemetry for a replay run.
type ReplayMetrics interface {
	RecordAttempt(ctx context.Context, result MetricResult, latency time.Duration)
	RecordDuplicate(ctx context.Context)
}
