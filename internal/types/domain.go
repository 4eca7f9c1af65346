package types

import (
	"time"

	"github.com/valyala/fastjson"
)

// LogMessage is the payload of one archived log hit (_source.message).
// All eight fields are required in a well-formed hit.
type LogMessage struct {
	TraceID   string `json:"traceid"`
	Level     string `json:"level"`
	PaymentID string `json:"paymentid"`
	Name      string `json:"name"`
	MethodID  string `json:"methodid"`
	ShopID    string `json:"shopid"`
	Thread    string `json:"thread"`
	Message   string `json:"message"`
}

// RawNotification is the outbound call recovered from LogMessage.Message
// before any decoding.
type RawNotification struct {
	URL         string
	Body        string
	HeaderLines []string
}

// Header is a single outbound HTTP header.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Headers is an ordered header mapping. Keys are unique; the original order
// of first appearance is preserved.
type Headers []Header

// Set assigns value to key. An existing key keeps its position and takes the
// new value; a new key is appended.
func (h *Headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Key: key, Value: value})
}

// Get returns the value for key and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	for _, hdr := range h {
		if hdr.Key == key {
			return hdr.Value, true
		}
	}
	return "", false
}

// NotificationEnvelope is the reconstructed, sendable notification.
// SerializedPayload is both the deduplication key and the literal request body.
type NotificationEnvelope struct {
	URL               string
	SourceURL         string
	Headers           Headers
	Body              *fastjson.Value
	ObjectID          string
	Event             string
	SerializedPayload []byte
}

// DeliveryOutcome is the result of one dispatch attempt.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeFailed    DeliveryOutcome = "failed"
	OutcomeDryRun    DeliveryOutcome = "dry_run"
	// OutcomeNotSent marks an admitted envelope that was never posted because
	// the destination's circuit breaker was open.
	OutcomeNotSent DeliveryOutcome = "not_sent"
)

// DeliveryAttempt records one dispatch of an admitted envelope.
type DeliveryAttempt struct {
	CorrelationID string          `json:"correlation_id"`
	RunID         string          `json:"run_id"`
	Event         string          `json:"event"`
	ObjectID      string          `json:"object_id"`
	Destination   string          `json:"destination"`
	StatusCode    int             `json:"status_code,omitempty"`
	Outcome       DeliveryOutcome `json:"outcome"`
	Error         string          `json:"error,omitempty"`
	AttemptedAt   time.Time       `json:"attempted_at"`
	Latency       time.Duration   `json:"latency"`
}

// RunSummary aggregates the outcome of one replay run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Records    int       `json:"records"`
	Dispatched int       `json:"dispatched"`
	Delivered  int       `json:"delivered"`
	Failed     int       `json:"failed"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
	NotSent    int       `json:"not_sent"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
