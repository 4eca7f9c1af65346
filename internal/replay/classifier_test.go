package replay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/types"
)

func TestClassifyEvent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"payment", `{"status":"succeeded"}`, "payment.succeeded"},
		{"refund", `{"status":"succeeded","payment_id":"x"}`, "refund.succeeded"},
		{"null payment_id is a payment", `{"status":"canceled","payment_id":null}`, "payment.canceled"},
		{"numeric payment_id is a refund", `{"payment_id":17,"status":"pending"}`, "refund.pending"},
		{"waiting for capture", `{"id":"pay1","status":"waiting_for_capture"}`, "payment.waiting_for_capture"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyEvent(fastjson.MustParse(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyEvent_Status(t *testing.T) {
	for _, body := range []string{`{"id":"pay1"}`, `{"status":3}`, `{"status":null}`} {
		t.Run(body, func(t *testing.T) {
			_, err := ClassifyEvent(fastjson.MustParse(body))

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeClassificationFailed, appErr.Code)
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	raw := types.RawNotification{
		URL:         "https://merchant.example.com/notify",
		Body:        `{"id":"ref9","status":"succeeded","payment_id":"pay1"}`,
		HeaderLines: []string{"Content-Type: application/json", "X-Shop: 7781"},
	}

	env, err := Classifier{}.Classify(raw)
	require.NoError(t, err)

	assert.Equal(t, "https://merchant.example.com/notify", env.URL)
	assert.Equal(t, "https://merchant.example.com/notify", env.SourceURL)
	assert.Equal(t, "refund.succeeded", env.Event)
	assert.Equal(t, "ref9", env.ObjectID)
	assert.Equal(t, types.Headers{
		{Key: "Content-Type", Value: "application/json"},
		{Key: "X-Shop", Value: "7781"},
	}, env.Headers)
	assert.Equal(t, MarshalEnvelope("refund.succeeded", env.Body), env.SerializedPayload)
}

func TestClassifier_DestinationOverride(t *testing.T) {
	raw := types.RawNotification{
		URL:  "https://merchant.example.com/notify",
		Body: `{"id":"pay1","status":"succeeded"}`,
	}

	env, err := Classifier{Destination: "https://staging.example.com/hook"}.Classify(raw)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com/hook", env.URL)
	assert.Equal(t, "https://merchant.example.com/notify", env.SourceURL)
}

func TestClassifier_ErrorOrder(t *testing.T) {
	tests := []struct {
		name string
		raw  types.RawNotification
		code types.ErrorCode
	}{
		{
			name: "invalid JSON",
			raw:  types.RawNotification{Body: `{"status":`, HeaderLines: []string{"bad"}},
			code: types.ErrCodeBodyDecodeFailed,
		},
		{
			name: "JSON array",
			raw:  types.RawNotification{Body: `[1,2]`},
			code: types.ErrCodeBodyDecodeFailed,
		},
		{
			name: "missing status beats bad header",
			raw:  types.RawNotification{Body: `{"id":"x"}`, HeaderLines: []string{"bad"}},
			code: types.ErrCodeClassificationFailed,
		},
		{
			name: "bad header",
			raw:  types.RawNotification{Body: `{"status":"succeeded"}`, HeaderLines: []string{"bad"}},
			code: types.ErrCodeHeaderFormatInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classifier{}.Classify(tt.raw)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestObjectID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"id":"pay1"}`, "pay1"},
		{`{"id":12345}`, "12345"},
		{`{"id":true}`, "true"},
		{`{"id":null}`, ""},
		{`{"status":"x"}`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, objectID(fastjson.MustParse(tt.body)), tt.body)
	}
}
