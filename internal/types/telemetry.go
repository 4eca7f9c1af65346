package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricReplayAttempt   = "ReplayAttempt"
	MetricReplayLatency   = "ReplayLatency"
	MetricReplayDuplicate = "ReplayDuplicate"

	// Dimension Keys
	DimResult = "Result"

	// Metric Namespace
	MetricNamespace = "NotifyReplay"
)

// MetricResult is the Result dimension value of a replay attempt.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricDryRun  MetricResult = "dry_run"
	MetricNotSent MetricResult = "not_sent"
)
