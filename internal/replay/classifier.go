package replay

import (
	"fmt"
	"strconv"

	"github.com/valyala/fastjson"

	"notifyreplay/internal/types"
)

// Event kinds. A refund payload is recognised by its reference to the parent
// payment; payment payloads carry no such field.
const (
	EventKindPayment = "payment"
	EventKindRefund  = "refund"
)

// Classifier turns a RawNotification into a sendable envelope.
type Classifier struct {
	// Destination, when set, replaces the URL recovered from the log as the
	// delivery target. The recovered URL stays available as SourceURL.
	Destination string
}

// Classify decodes the body, derives the event and builds the envelope with
// its canonical payload. Checks run in order: body decoding, classification,
// header format.
func (c Classifier) Classify(raw types.RawNotification) (*types.NotificationEnvelope, error) {
	body, err := fastjson.Parse(raw.Body)
	if err != nil {
		return nil, types.BodyDecodeError(err)
	}
	if body.Type() != fastjson.TypeObject {
		return nil, types.BodyDecodeError(fmt.Errorf("body is a JSON %s, not an object", body.Type()))
	}

	event, err := ClassifyEvent(body)
	if err != nil {
		return nil, err
	}

	headers, err := ParseHeaders(raw.HeaderLines)
	if err != nil {
		return nil, err
	}

	target := raw.URL
	if c.Destination != "" {
		target = c.Destination
	}

	return &types.NotificationEnvelope{
		URL:               target,
		SourceURL:         raw.URL,
		Headers:           headers,
		Body:              body,
		ObjectID:          objectID(body),
		Event:             event,
		SerializedPayload: MarshalEnvelope(event, body),
	}, nil
}

// ClassifyEvent returns "refund.<status>" when the body has a non-null
// payment_id and "payment.<status>" otherwise. A missing or non-string status
// is a ClassificationError.
func ClassifyEvent(body *fastjson.Value) (string, error) {
	status := body.Get("status")
	if status == nil {
		return "", types.ClassificationError("body has no status field")
	}
	s, err := status.StringBytes()
	if err != nil {
		return "", types.ClassificationError(fmt.Sprintf("status must be a string, got %s", status.Type()))
	}

	kind := EventKindPayment
	if ref := body.Get("payment_id"); ref != nil && ref.Type() != fastjson.TypeNull {
		kind = EventKindRefund
	}
	return kind + "." + string(s), nil
}

// objectID renders the body's id for audit messages. Absent ids render empty.
func objectID(body *fastjson.Value) string {
	id := body.Get("id")
	if id == nil {
		return ""
	}
	switch id.Type() {
	case fastjson.TypeString:
		b, _ := id.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		return string(id.MarshalTo(nil))
	case fastjson.TypeTrue, fastjson.TypeFalse:
		return strconv.FormatBool(id.Type() == fastjson.TypeTrue)
	default:
		return ""
	}
}
