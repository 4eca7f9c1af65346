package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/audit"
	"notifyreplay/internal/types"
)

// nopLogger satisfies types.Logger and drops everything.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

// recordingSleeper counts pacing pauses instead of sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *recordingSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
}

func (s *recordingSleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testTime = time.Date(2024, 3, 5, 14, 7, 9, 42_000_000, time.UTC)

// sequentialIDs returns "corr-1", "corr-2", ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// logMessage renders a free-text message in the collector's format.
func logMessage(url, object string, headers ...string) string {
	return fmt.Sprintf("Sending notification: method=POST, url=%s, object=%s, headers=[%s], attempt=1",
		url, object, joinHeaders(headers))
}

func joinHeaders(headers []string) string {
	var buf bytes.Buffer
	for i, h := range headers {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(h)
	}
	return buf.String()
}

// messageFields returns a complete _source.message with text as its message.
func messageFields(text string) map[string]any {
	return map[string]any{
		"traceid":   "5f1c2a",
		"level":     "INFO",
		"paymentid": "2d8e-pay",
		"name":      "NotificationSender",
		"methodid":  "bank_card",
		"shopid":    "shop-7781",
		"thread":    "http-nio-8080-exec-3",
		"message":   text,
	}
}

// hitValue wraps fields as an archive hit.
func hitValue(t *testing.T, fields map[string]any) *fastjson.Value {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"_index":  "notifications-2024.03.05",
		"_source": map[string]any{"message": fields},
	})
	require.NoError(t, err)
	v, err := fastjson.ParseBytes(raw)
	require.NoError(t, err)
	return v
}

// notificationHit builds a well-formed hit carrying body.
func notificationHit(t *testing.T, url, body string, headers ...string) *fastjson.Value {
	t.Helper()
	return hitValue(t, messageFields(logMessage(url, body, headers...)))
}

// bufferAudit returns an audit log writing into the returned buffer.
func bufferAudit() (*audit.Log, *bytes.Buffer) {
	var buf bytes.Buffer
	return audit.New(&buf, fixedClock{t: testTime}), &buf
}

// stubDoer records requests and answers with a fixed status or error.
type stubDoer struct {
	mu       sync.Mutex
	status   int
	err      error
	requests []*http.Request
	bodies   []string
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var body bytes.Buffer
	if req.Body != nil {
		_, _ = body.ReadFrom(req.Body)
	}
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body.String())
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: d.status,
		Body:       http.NoBody,
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (d *stubDoer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// recordingMetrics captures telemetry calls.
type recordingMetrics struct {
	mu         sync.Mutex
	results    []types.MetricResult
	duplicates int
}

func (m *recordingMetrics) RecordAttempt(_ context.Context, r types.MetricResult, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

func (m *recordingMetrics) RecordDuplicate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

type recordingRecorder struct {
	attempts []types.DeliveryAttempt
	err      error
}

func (r *recordingRecorder) RecordAttempt(_ context.Context, a types.DeliveryAttempt) error {
	r.attempts = append(r.attempts, a)
	return r.err
}

type recordingSink struct {
	events []string
	err    error
}

func (s *recordingSink) PublishFailure(_ context.Context, env *types.NotificationEnvelope, _ types.DeliveryAttempt) error {
	s.events = append(s.events, env.Event)
	return s.err
}

// contextCancelled returns a context that is already cancelled.
func contextCancelled(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	return ctx, cancel
}
