// Package telemetry publishes replay metrics to CloudWatch.
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"notifyreplay/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ types.ReplayMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements types.ReplayMetrics.
//
// Metrics emitted:
//   - ReplayAttempt: Dims {Result}, on every dispatched notification
//   - ReplayLatency: Dims {Result}, request duration of sent notifications
//   - ReplayDuplicate: no dims, on every suppressed duplicate
//
// Publishing failures are logged and swallowed; telemetry never affects a run.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates metrics publishing under namespace. An empty
// namespace selects types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordAttempt emits ReplayAttempt and, for real sends, ReplayLatency in a
// single PutMetricData call.
func (m *CloudWatchMetrics) RecordAttempt(ctx context.Context, result types.MetricResult, latency time.Duration) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimResult),
			Value: aws.String(string(result)),
		},
	}

	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricReplayAttempt),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	}
	if result != types.MetricDryRun && result != types.MetricNotSent {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricReplayLatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		})
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record replay attempt metric",
			"error", err.Error(),
			"result", string(result),
			"latency_ms", latency.Milliseconds(),
		)
	}
}

// RecordDuplicate emits ReplayDuplicate.
func (m *CloudWatchMetrics) RecordDuplicate(ctx context.Context) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricReplayDuplicate),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record duplicate metric", "error", err.Error())
	}
}
