package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/audit"
	"notifyreplay/internal/types"
)

// ErrorPolicy decides what a record-level failure does to the run.
type ErrorPolicy string

const (
	// PolicyFailFast aborts the run on the first bad record. Default.
	PolicyFailFast ErrorPolicy = "fail_fast"
	// PolicySkip logs the bad record and continues with the next one.
	PolicySkip ErrorPolicy = "skip"
)

// ParseErrorPolicy maps a config value to an ErrorPolicy. Empty means
// PolicyFailFast.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", PolicyFailFast:
		return PolicyFailFast, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown error policy %q (want %s or %s)", s, PolicyFailFast, PolicySkip)
	}
}

// RecordError ties a record-level failure to the position of the hit in the
// archive.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// EngineConfig holds the per-run settings of the Engine.
type EngineConfig struct {
	// Destination overrides the URL recovered from each log record.
	Destination string
	Policy      ErrorPolicy
}

// Engine replays an archive: each hit is parsed, extracted, classified,
// passed through the deduplication gate and dispatched, strictly in archive
// order on the calling goroutine.
type Engine struct {
	extractor  NotificationExtractor
	classifier Classifier
	dispatcher *Dispatcher
	audit      *audit.Log
	logger     types.Logger
	policy     ErrorPolicy
	metrics    types.ReplayMetrics
	clock      types.Clock
	newRunID   func() string
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithExtractor swaps the matching strategy used on free-text messages.
func WithExtractor(x NotificationExtractor) EngineOption {
	return func(e *Engine) { e.extractor = x }
}

// WithEngineMetrics records duplicate suppression telemetry.
func WithEngineMetrics(m types.ReplayMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineClock overrides the clock used for run timestamps.
func WithEngineClock(c types.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) { e.newRunID = fn }
}

// NewEngine wires an Engine around dispatcher.
func NewEngine(dispatcher *Dispatcher, auditLog *audit.Log, logger types.Logger, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("engine: dispatcher is nil")
	}
	if auditLog == nil {
		return nil, fmt.Errorf("engine: audit log is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("engine: logger is nil")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyFailFast
	}

	e := &Engine{
		extractor:  MarkerExtractor{},
		classifier: Classifier{Destination: cfg.Destination},
		dispatcher: dispatcher,
		audit:      auditLog,
		logger:     logger,
		policy:     policy,
		metrics:    NopMetrics{},
		clock:      types.RealClock{},
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Prepare runs the pure part of the pipeline on one hit: record parsing,
// extraction and classification.
func (e *Engine) Prepare(hit *fastjson.Value) (*types.NotificationEnvelope, error) {
	msg, err := ParseRecord(hit)
	if err != nil {
		return nil, err
	}
	raw, err := e.extractor.Extract(msg.Message)
	if err != nil {
		return nil, err
	}
	return e.classifier.Classify(raw)
}

// Run replays hits in order with a fresh SentSet. Under PolicyFailFast the
// first record error stops the run and is returned as a *RecordError along
// with the summary so far. Delivery failures never stop the run.
// Cancellation of ctx is honoured between records only.
func (e *Engine) Run(ctx context.Context, hits []*fastjson.Value) (types.RunSummary, error) {
	summary := types.RunSummary{
		RunID:     e.newRunID(),
		StartedAt: e.clock.Now(),
	}
	ctx = types.WithRunID(ctx, summary.RunID)
	logger := e.logger.With("run_id", summary.RunID)
	dedup := NewDeduplicator(nil)
	e.dispatcher.beginRun()

	logger.Info("replay started", "records", len(hits), "policy", string(e.policy))

	finish := func(err error) (types.RunSummary, error) {
		summary.FinishedAt = e.clock.Now()
		logger.Info("replay finished",
			"records", summary.Records,
			"dispatched", summary.Dispatched,
			"delivered", summary.Delivered,
			"failed", summary.Failed,
			"duplicates", summary.Duplicates,
			"skipped", summary.Skipped,
			"not_sent", summary.NotSent,
			"unique_payloads", dedup.Sent().Len(),
		)
		return summary, err
	}

	for i, hit := range hits {
		if err := ctx.Err(); err != nil {
			logger.Warn("replay cancelled", "next_record", i)
			return finish(types.NewAppError(types.ErrCodeRunCancelled,
				fmt.Sprintf("run cancelled before record %d", i), err))
		}
		summary.Records++

		env, err := e.Prepare(hit)
		if err != nil {
			recErr := &RecordError{Index: i, Err: err}
			e.audit.RecordError(i, err)
			logger.Error("record rejected", "record", i, "code", string(errorCode(err)), "error", err.Error())
			if e.policy == PolicySkip {
				summary.Skipped++
				continue
			}
			return finish(recErr)
		}

		if !dedup.ShouldSend(env.SerializedPayload) {
			e.audit.Duplicate(env.ObjectID)
			e.metrics.RecordDuplicate(ctx)
			summary.Duplicates++
			continue
		}

		attempt := e.dispatcher.Dispatch(ctx, env)
		summary.Dispatched++
		switch attempt.Outcome {
		case types.OutcomeDelivered:
			summary.Delivered++
		case types.OutcomeFailed:
			summary.Failed++
		case types.OutcomeNotSent:
			summary.NotSent++
		}
	}

	return finish(nil)
}

func errorCode(err error) types.ErrorCode {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return types.ErrCodeInternalUnexpected
}
