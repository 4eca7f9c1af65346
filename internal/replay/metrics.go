package replay

import (
	"context"
	"time"

	"notifyreplay/internal/types"
)

// NopMetrics discards all telemetry.
type NopMetrics struct{}

var _ types.ReplayMetrics = NopMetrics{}

func (NopMetrics) RecordAttempt(context.Context, types.MetricResult, time.Duration) {}
func (NopMetrics) RecordDuplicate(context.Context)                                  {}
