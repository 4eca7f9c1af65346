package replay

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/external"
	"notifyreplay/internal/types"
)

const merchantURL = "https://merchant.example.com/notify"

type engineFixture struct {
	engine  *Engine
	client  *stubDoer
	sleeper *recordingSleeper
	audit   *bytes.Buffer
	metrics *recordingMetrics
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	auditLog, buf := bufferAudit()
	client := &stubDoer{status: http.StatusOK}
	sleeper := &recordingSleeper{}
	metrics := &recordingMetrics{}

	d, err := NewDispatcher(client, auditLog, nopLogger{}, DispatcherConfig{PacingInterval: DefaultPacingInterval},
		WithSleeper(sleeper),
		WithClock(fixedClock{t: testTime}),
		WithIDGenerator(sequentialIDs("corr")),
	)
	require.NoError(t, err)

	e, err := NewEngine(d, auditLog, nopLogger{}, cfg,
		WithEngineClock(fixedClock{t: testTime}),
		WithRunIDGenerator(func() string { return "run-1" }),
		WithEngineMetrics(metrics),
	)
	require.NoError(t, err)

	return &engineFixture{engine: e, client: client, sleeper: sleeper, audit: buf, metrics: metrics}
}

func TestNewEngine_Validation(t *testing.T) {
	auditLog, _ := bufferAudit()
	d, err := NewDispatcher(&stubDoer{}, auditLog, nopLogger{}, DispatcherConfig{})
	require.NoError(t, err)

	_, err = NewEngine(nil, auditLog, nopLogger{}, EngineConfig{})
	assert.Error(t, err)
	_, err = NewEngine(d, nil, nopLogger{}, EngineConfig{})
	assert.Error(t, err)
	_, err = NewEngine(d, auditLog, nil, EngineConfig{})
	assert.Error(t, err)

	e, err := NewEngine(d, auditLog, nopLogger{}, EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, PolicyFailFast, e.policy)
}

func TestParseErrorPolicy(t *testing.T) {
	p, err := ParseErrorPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFailFast, p)

	p, err = ParseErrorPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	_, err = ParseErrorPolicy("lenient")
	assert.Error(t, err)
}

func TestEngine_DuplicateIsSentOnce(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	body := `{"id":"pay1","status":"waiting_for_capture"}`
	hits := []*fastjson.Value{
		notificationHit(t, merchantURL, body, "Content-Type: application/json"),
		notificationHit(t, merchantURL, body, "Content-Type: application/json"),
	}

	summary, err := f.engine.Run(t.Context(), hits)
	require.NoError(t, err)

	assert.Equal(t, 1, f.client.Count())
	assert.Equal(t, []time.Duration{2 * time.Second}, f.sleeper.Calls())
	assert.Equal(t, types.RunSummary{
		RunID:      "run-1",
		Records:    2,
		Dispatched: 1,
		Delivered:  1,
		Duplicates: 1,
		StartedAt:  testTime,
		FinishedAt: testTime,
	}, summary)
	assert.Equal(t, 1, f.metrics.duplicates)

	log := f.audit.String()
	assert.Equal(t, 1, strings.Count(log, "Notification body:"))
	assert.Contains(t, log, "[14:07:09,42] [INFO] Notification for ID [pay1] was already sended. Continue.\n")
	assert.Equal(t, string(MarshalEnvelope("payment.waiting_for_capture", fastjson.MustParse(body))), f.client.bodies[0])
}

func TestEngine_DistinctPayloadsAllSent(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	hits := []*fastjson.Value{
		notificationHit(t, merchantURL, `{"id":"pay1","status":"pending"}`),
		notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`),
		notificationHit(t, merchantURL, `{"id":"ref1","status":"succeeded","payment_id":"pay1"}`),
		notificationHit(t, merchantURL, `{"id":"pay1","status":"pending"}`),
	}

	summary, err := f.engine.Run(t.Context(), hits)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Dispatched)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Len(t, f.sleeper.Calls(), 3)
	assert.Contains(t, f.client.bodies[2], `"event" : "refund.succeeded"`)
}

func TestEngine_FailFastOnMissingShopID(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	bad := messageFields(logMessage(merchantURL, `{"id":"pay2","status":"succeeded"}`))
	delete(bad, "shopid")
	hits := []*fastjson.Value{
		notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`),
		hitValue(t, bad),
		notificationHit(t, merchantURL, `{"id":"pay3","status":"succeeded"}`),
	}

	summary, err := f.engine.Run(t.Context(), hits)

	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 1, recErr.Index)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeMalformedRecord, appErr.Code)

	assert.Equal(t, 1, f.client.Count(), "records after the bad one are not processed")
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Contains(t, f.audit.String(), "[ERROR] Record #1:")
	assert.NotContains(t, f.audit.String(), "pay3")
}

func TestEngine_SkipPolicyContinues(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{Policy: PolicySkip})
	hits := []*fastjson.Value{
		notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`),
		notificationHit(t, merchantURL, `{"id":"pay2"}`),
		notificationHit(t, merchantURL, `{"id":"pay3","status":"succeeded"}`),
	}

	summary, err := f.engine.Run(t.Context(), hits)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Records)
	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, f.audit.String(), "Record #1:")
}

func TestEngine_DeliveryFailureIsNotFatal(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.client.status = http.StatusInternalServerError
	hits := []*fastjson.Value{
		notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`),
		notificationHit(t, merchantURL, `{"id":"pay2","status":"succeeded"}`),
	}

	summary, err := f.engine.Run(t.Context(), hits)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, strings.Count(f.audit.String(), "<Response [500]>"))
}

func TestEngine_BreakerIsScopedToRun(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := external.NewBaseClient(server.Client(),
		external.BreakerSettings{Name: "destination", ConsecutiveFailures: 2},
		external.DefaultRetryPolicy(), "")
	auditLog, buf := bufferAudit()
	sleeper := &recordingSleeper{}
	d, err := NewDispatcher(client, auditLog, nopLogger{}, DispatcherConfig{PacingInterval: DefaultPacingInterval},
		WithSleeper(sleeper), WithClock(fixedClock{t: testTime}), WithIDGenerator(sequentialIDs("corr")))
	require.NoError(t, err)
	e, err := NewEngine(d, auditLog, nopLogger{}, EngineConfig{})
	require.NoError(t, err)

	hits := make([]*fastjson.Value, 0, 6)
	for i := range 6 {
		hits = append(hits, notificationHit(t, server.URL+"/notify", fmt.Sprintf(`{"id":"pay%d","status":"succeeded"}`, i)))
	}

	summary, err := e.Run(t.Context(), hits)
	require.NoError(t, err)

	assert.Equal(t, int32(3), posts.Load())
	assert.Equal(t, 6, summary.Dispatched)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 3, summary.NotSent)
	assert.Len(t, sleeper.Calls(), 3)
	assert.Equal(t, 3, strings.Count(buf.String(), "Notification was not sent: circuit breaker open for "))

	// The open breaker of the first run does not block the next one.
	_, err = e.Run(t.Context(), hits[:1])
	require.NoError(t, err)
	assert.Equal(t, int32(4), posts.Load())
}

func TestEngine_DestinationOverride(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{Destination: "https://staging.example.com/hook"})
	hits := []*fastjson.Value{notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`)}

	_, err := f.engine.Run(t.Context(), hits)
	require.NoError(t, err)

	require.Equal(t, 1, f.client.Count())
	assert.Equal(t, "https://staging.example.com/hook", f.client.requests[0].URL.String())
}

func TestEngine_CancelledBeforeFirstRecord(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx, cancel := contextCancelled(t)
	defer cancel()

	summary, err := f.engine.Run(ctx, []*fastjson.Value{
		notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`),
	})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeRunCancelled, appErr.Code)
	assert.Zero(t, summary.Records)
	assert.Zero(t, f.client.Count())
}

func TestEngine_FreshSentSetPerRun(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	hits := []*fastjson.Value{notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`)}

	_, err := f.engine.Run(t.Context(), hits)
	require.NoError(t, err)
	_, err = f.engine.Run(t.Context(), hits)
	require.NoError(t, err)

	assert.Equal(t, 2, f.client.Count())
}

func TestEngine_Prepare(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	env, err := f.engine.Prepare(notificationHit(t, merchantURL, `{"id":"pay1","status":"succeeded"}`, "X-Shop: 1"))
	require.NoError(t, err)

	assert.Equal(t, merchantURL, env.URL)
	assert.Equal(t, "payment.succeeded", env.Event)
	v, ok := env.Headers.Get("X-Shop")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
