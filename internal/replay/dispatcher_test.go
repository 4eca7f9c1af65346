package replay

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/types"
)

func testEnvelope(url string, headers types.Headers) *types.NotificationEnvelope {
	body := fastjson.MustParse(`{"id":"pay1","status":"succeeded"}`)
	return &types.NotificationEnvelope{
		URL:               url,
		SourceURL:         url,
		Headers:           headers,
		Body:              body,
		ObjectID:          "pay1",
		Event:             "payment.succeeded",
		SerializedPayload: MarshalEnvelope("payment.succeeded", body),
	}
}

func newTestDispatcher(t *testing.T, client HTTPDoer, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, *recordingSleeper, *bytes.Buffer) {
	t.Helper()
	auditLog, buf := bufferAudit()
	sleeper := &recordingSleeper{}
	base := []DispatcherOption{
		WithSleeper(sleeper),
		WithClock(fixedClock{t: testTime}),
		WithIDGenerator(sequentialIDs("corr")),
	}
	d, err := NewDispatcher(client, auditLog, nopLogger{}, cfg, append(base, opts...)...)
	require.NoError(t, err)
	return d, sleeper, buf
}

func TestNewDispatcher_Validation(t *testing.T) {
	auditLog, _ := bufferAudit()

	_, err := NewDispatcher(nil, auditLog, nopLogger{}, DispatcherConfig{})
	assert.Error(t, err)

	_, err = NewDispatcher(&stubDoer{}, nil, nopLogger{}, DispatcherConfig{})
	assert.Error(t, err)

	_, err = NewDispatcher(&stubDoer{}, auditLog, nil, DispatcherConfig{})
	assert.Error(t, err)

	_, err = NewDispatcher(&stubDoer{}, auditLog, nopLogger{}, DispatcherConfig{PacingInterval: -time.Second})
	assert.Error(t, err)

	_, err = NewDispatcher(nil, auditLog, nopLogger{}, DispatcherConfig{DryRun: true})
	assert.NoError(t, err, "a dry run needs no client")
}

func TestDispatch_Delivered(t *testing.T) {
	var gotBody, gotContentType, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotContentType = r.Header.Get("Content-Type")
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, sleeper, buf := newTestDispatcher(t, server.Client(), DispatcherConfig{PacingInterval: 2 * time.Second})
	env := testEnvelope(server.URL+"/notify", types.Headers{{Key: "Content-Type", Value: "application/json"}})

	attempt := d.Dispatch(types.WithRunID(t.Context(), "run-1"), env)

	assert.Equal(t, types.OutcomeDelivered, attempt.Outcome)
	assert.Equal(t, http.StatusOK, attempt.StatusCode)
	assert.Equal(t, "corr-1", attempt.CorrelationID)
	assert.Equal(t, "run-1", attempt.RunID)
	assert.Equal(t, "payment.succeeded", attempt.Event)
	assert.Equal(t, "pay1", attempt.ObjectID)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, string(env.SerializedPayload), gotBody)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.Calls())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Equal(t, "[14:07:09,42] [INFO] [corr-1] Notification body:", lines[0])
	assert.Equal(t, "[14:07:09,42] [INFO] [corr-1] Notification was successfully sended. Response: <Response [200]>",
		lines[len(lines)-1])
}

func TestDispatch_NonOKIsNotDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := &recordingSink{}
	metrics := &recordingMetrics{}
	d, sleeper, buf := newTestDispatcher(t, server.Client(), DispatcherConfig{PacingInterval: time.Second},
		WithFailureSink(sink), WithMetrics(metrics))

	attempt := d.Dispatch(t.Context(), testEnvelope(server.URL, nil))

	assert.Equal(t, types.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, http.StatusAccepted, attempt.StatusCode)
	assert.Equal(t, "upstream_rejected: destination answered 202", attempt.Error)
	assert.Contains(t, buf.String(), "[WARNING] [corr-1] Notification was not successfully sended. Response: <Response [202]>")
	assert.Equal(t, []string{"payment.succeeded"}, sink.events)
	assert.Equal(t, []types.MetricResult{types.MetricFailed}, metrics.results)
	assert.Len(t, sleeper.Calls(), 1)
}

func TestDispatch_TransportErrorContinues(t *testing.T) {
	client := &stubDoer{err: errors.New("connection refused")}
	d, sleeper, buf := newTestDispatcher(t, client, DispatcherConfig{PacingInterval: time.Second})

	attempt := d.Dispatch(t.Context(), testEnvelope("https://merchant.example.com/notify", nil))

	assert.Equal(t, types.OutcomeFailed, attempt.Outcome)
	assert.Zero(t, attempt.StatusCode)
	assert.Equal(t, "connection refused", attempt.Error)
	assert.Contains(t, buf.String(), "Notification was not successfully sended. Response: <error: connection refused>")
	assert.Len(t, sleeper.Calls(), 1, "failed attempts are paced too")
}

func TestDispatch_OpenBreakerIsNotSent(t *testing.T) {
	client := &stubDoer{err: types.NewAppError(types.ErrCodeUpstreamCircuitOpen, "circuit breaker is open; request was not sent", nil)}
	sink := &recordingSink{}
	metrics := &recordingMetrics{}
	d, sleeper, buf := newTestDispatcher(t, client, DispatcherConfig{PacingInterval: time.Second},
		WithFailureSink(sink), WithMetrics(metrics))

	attempt := d.Dispatch(t.Context(), testEnvelope("https://merchant.example.com/notify", nil))

	assert.Equal(t, types.OutcomeNotSent, attempt.Outcome)
	assert.Contains(t, attempt.Error, "upstream_circuit_open")
	assert.Contains(t, buf.String(), "[WARNING] [corr-1] Notification was not sent: circuit breaker open for merchant.example.com")
	assert.NotContains(t, buf.String(), "not successfully sended")
	assert.Equal(t, []string{"payment.succeeded"}, sink.events, "unsent envelopes are exported for a re-drive")
	assert.Equal(t, []types.MetricResult{types.MetricNotSent}, metrics.results)
	assert.Empty(t, sleeper.Calls(), "nothing was posted, so nothing is paced")
}

func TestDispatch_DropsTransportOwnedHeaders(t *testing.T) {
	client := &stubDoer{status: http.StatusOK}
	d, _, _ := newTestDispatcher(t, client, DispatcherConfig{})

	d.Dispatch(t.Context(), testEnvelope("https://merchant.example.com/notify", types.Headers{
		{Key: "Host", Value: "old.example.com"},
		{Key: "content-length", Value: "17"},
		{Key: "Connection", Value: "keep-alive"},
		{Key: "Authorization", Value: "Basic abc"},
		{Key: "X-Shop-Id", Value: "7781"},
	}))

	require.Equal(t, 1, client.Count())
	h := client.requests[0].Header
	assert.Empty(t, h.Get("Host"))
	assert.Empty(t, h.Get("Content-Length"))
	assert.Empty(t, h.Get("Connection"))
	assert.Equal(t, "Basic abc", h.Get("Authorization"))
	assert.Equal(t, "7781", h.Get("X-Shop-Id"))
}

func TestDispatch_DryRun(t *testing.T) {
	client := &stubDoer{status: http.StatusOK}
	recorder := &recordingRecorder{}
	metrics := &recordingMetrics{}
	d, sleeper, buf := newTestDispatcher(t, client, DispatcherConfig{PacingInterval: 2 * time.Second, DryRun: true},
		WithAttemptRecorder(recorder), WithMetrics(metrics))

	attempt := d.Dispatch(t.Context(), testEnvelope("https://merchant.example.com/notify", nil))

	assert.Equal(t, types.OutcomeDryRun, attempt.Outcome)
	assert.Zero(t, client.Count())
	assert.Empty(t, sleeper.Calls(), "dry runs are not paced")
	assert.Contains(t, buf.String(), "Notification body:")
	assert.Contains(t, buf.String(), "[corr-1] Dry run: notification was not sent.")
	assert.Len(t, recorder.attempts, 1)
	assert.Equal(t, []types.MetricResult{types.MetricDryRun}, metrics.results)
}

func TestDispatch_RecorderFailureIsNotFatal(t *testing.T) {
	client := &stubDoer{status: http.StatusOK}
	recorder := &recordingRecorder{err: errors.New("db down")}
	sink := &recordingSink{}
	d, _, _ := newTestDispatcher(t, client, DispatcherConfig{}, WithAttemptRecorder(recorder), WithFailureSink(sink))

	attempt := d.Dispatch(t.Context(), testEnvelope("https://merchant.example.com/notify", nil))

	assert.Equal(t, types.OutcomeDelivered, attempt.Outcome)
	assert.Len(t, recorder.attempts, 1)
	assert.Empty(t, sink.events, "delivered notifications are not exported")
}

func TestDispatch_RequestSurvivesCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, _, _ := newTestDispatcher(t, server.Client(), DispatcherConfig{RequestTimeout: 5 * time.Second})
	ctx, cancel := contextCancelled(t)
	defer cancel()

	attempt := d.Dispatch(ctx, testEnvelope(server.URL, nil))

	assert.Equal(t, types.OutcomeDelivered, attempt.Outcome)
}

func TestFormatResponse(t *testing.T) {
	assert.Equal(t, "<Response [404]>", FormatResponse(&http.Response{StatusCode: 404}))
}
