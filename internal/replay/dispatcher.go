package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"notifyreplay/internal/audit"
	"notifyreplay/internal/types"
)

// DefaultPacingInterval is the pause after every admitted send.
const DefaultPacingInterval = 2 * time.Second

// maxResponseBodyRead limits how much of a response body is drained before
// the connection is released.
const maxResponseBodyRead = 4096

// transportOwnedHeaders are recovered from the log but recomputed by the HTTP
// transport for the new request.
var transportOwnedHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// HTTPDoer executes one HTTP request. *external.BaseClient and *http.Client
// both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// breakerResetter is implemented by clients that keep circuit breaker state
// across requests. It is reset at the start of every run.
type breakerResetter interface {
	ResetBreakers()
}

// DispatcherConfig holds the delivery settings of a run.
type DispatcherConfig struct {
	PacingInterval time.Duration
	RequestTimeout time.Duration
	DryRun         bool
}

// Dispatcher posts admitted envelopes one at a time and writes the audit
// trail for each attempt.
type Dispatcher struct {
	client   HTTPDoer
	audit    *audit.Log
	logger   types.Logger
	cfg      DispatcherConfig
	sleeper  types.Sleeper
	clock    types.Clock
	newID    func() string
	recorder types.AttemptRecorder
	failures types.FailureSink
	metrics  types.ReplayMetrics
}

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSleeper overrides the pacing sleeper.
func WithSleeper(s types.Sleeper) DispatcherOption {
	return func(d *Dispatcher) { d.sleeper = s }
}

// WithClock overrides the clock used for attempt timestamps and latency.
func WithClock(c types.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(fn func() string) DispatcherOption {
	return func(d *Dispatcher) { d.newID = fn }
}

// WithAttemptRecorder persists every attempt, e.g. to the Postgres ledger.
func WithAttemptRecorder(r types.AttemptRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithFailureSink exports envelopes whose delivery failed.
func WithFailureSink(s types.FailureSink) DispatcherOption {
	return func(d *Dispatcher) { d.failures = s }
}

// WithMetrics records per-attempt telemetry.
func WithMetrics(m types.ReplayMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a Dispatcher. client, auditLog and logger are required.
func NewDispatcher(client HTTPDoer, auditLog *audit.Log, logger types.Logger, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if client == nil && !cfg.DryRun {
		return nil, fmt.Errorf("dispatcher: http client is nil")
	}
	if auditLog == nil {
		return nil, fmt.Errorf("dispatcher: audit log is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("dispatcher: logger is nil")
	}
	if cfg.PacingInterval < 0 {
		return nil, fmt.Errorf("dispatcher: pacing interval must not be negative")
	}

	d := &Dispatcher{
		client:  client,
		audit:   auditLog,
		logger:  logger,
		cfg:     cfg,
		sleeper: types.RealSleeper{},
		clock:   types.RealClock{},
		newID:   uuid.NewString,
		metrics: NopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// beginRun clears per-run client state.
func (d *Dispatcher) beginRun() {
	if r, ok := d.client.(breakerResetter); ok {
		r.ResetBreakers()
	}
}

// Dispatch delivers one admitted envelope and then waits the pacing interval.
// Delivery failures are audited and returned in the attempt, never as an
// error. An envelope refused by an open circuit breaker was never posted: it
// is audited as not sent, exported like a failure and not paced. The request runs on a context detached from ctx cancellation so an
// in-flight call is not cut short; only RequestTimeout bounds it.
func (d *Dispatcher) Dispatch(ctx context.Context, env *types.NotificationEnvelope) types.DeliveryAttempt {
	correlationID := d.newID()
	attempt := types.DeliveryAttempt{
		CorrelationID: correlationID,
		RunID:         types.GetRunID(ctx),
		Event:         env.Event,
		ObjectID:      env.ObjectID,
		Destination:   env.URL,
		AttemptedAt:   d.clock.Now(),
	}

	d.audit.Payload(correlationID, env.SerializedPayload)

	if d.cfg.DryRun {
		d.audit.DryRun(correlationID)
		attempt.Outcome = types.OutcomeDryRun
		d.metrics.RecordAttempt(ctx, types.MetricDryRun, 0)
		d.record(ctx, attempt)
		return attempt
	}

	statusCode, response, err := d.post(ctx, env)
	attempt.Latency = d.clock.Now().Sub(attempt.AttemptedAt)
	attempt.StatusCode = statusCode

	if isCircuitOpen(err) {
		attempt.Outcome = types.OutcomeNotSent
		attempt.Error = err.Error()
		d.audit.NotSent(correlationID, fmt.Sprintf("circuit breaker open for %s", hostOf(env.URL)))
		d.exportFailure(ctx, env, attempt)
		d.metrics.RecordAttempt(ctx, types.MetricNotSent, 0)
		d.record(ctx, attempt)
		return attempt
	}

	switch {
	case err != nil:
		attempt.Outcome = types.OutcomeFailed
		attempt.Error = err.Error()
		d.audit.NotDelivered(correlationID, fmt.Sprintf("<error: %v>", err))
	case statusCode == http.StatusOK:
		attempt.Outcome = types.OutcomeDelivered
		d.audit.Delivered(correlationID, response)
	default:
		attempt.Outcome = types.OutcomeFailed
		attempt.Error = types.UpstreamStatusError(statusCode).Error()
		d.audit.NotDelivered(correlationID, response)
	}

	result := types.MetricSuccess
	if attempt.Outcome != types.OutcomeDelivered {
		result = types.MetricFailed
		d.exportFailure(ctx, env, attempt)
	}
	d.metrics.RecordAttempt(ctx, result, attempt.Latency)
	d.record(ctx, attempt)

	d.sleeper.Sleep(d.cfg.PacingInterval)
	return attempt
}

// post sends the envelope and returns the status code and the audit
// rendering of the response.
func (d *Dispatcher) post(ctx context.Context, env *types.NotificationEnvelope) (int, string, error) {
	reqCtx := context.WithoutCancel(ctx)
	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, d.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, env.URL, bytes.NewReader(env.SerializedPayload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	for _, h := range env.Headers {
		if transportOwnedHeaders[http.CanonicalHeaderKey(h.Key)] {
			continue
		}
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyRead))

	return resp.StatusCode, FormatResponse(resp), nil
}

func isCircuitOpen(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeUpstreamCircuitOpen
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// FormatResponse renders a response the way the audit trail shows it.
func FormatResponse(resp *http.Response) string {
	return fmt.Sprintf("<Response [%d]>", resp.StatusCode)
}

func (d *Dispatcher) record(ctx context.Context, attempt types.DeliveryAttempt) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Warn("failed to record delivery attempt",
			"correlation_id", attempt.CorrelationID,
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) exportFailure(ctx context.Context, env *types.NotificationEnvelope, attempt types.DeliveryAttempt) {
	if d.failures == nil {
		return
	}
	if err := d.failures.PublishFailure(ctx, env, attempt); err != nil {
		d.logger.Warn("failed to export undelivered notification",
			"correlation_id", attempt.CorrelationID,
			"object_id", env.ObjectID,
			"error", err.Error(),
		)
	}
}
