// Package replay implements the log-derived notification replay engine: it
// turns archived log hits into notification envelopes, classifies them as
// payment or refund events, suppresses duplicates within a run and redelivers
// the rest one at a time with a fixed pacing interval.
package replay

import (
	"fmt"

	"github.com/valyala/fastjson"

	"notifyreplay/internal/types"
)

// Archive keys of the eight LogMessage fields inside _source.message.
const (
	fieldTraceID   = "traceid"
	fieldLevel     = "level"
	fieldPaymentID = "paymentid"
	fieldName      = "name"
	fieldMethodID  = "methodid"
	fieldShopID    = "shopid"
	fieldThread    = "thread"
	fieldMessage   = "message"
)

// ParseRecord extracts _source.message from one archive hit and populates a
// LogMessage. Any missing or non-string field yields a MalformedRecordError.
func ParseRecord(hit *fastjson.Value) (types.LogMessage, error) {
	if hit == nil || hit.Type() != fastjson.TypeObject {
		return types.LogMessage{}, types.MalformedRecordError("_source", fmt.Errorf("hit is not an object"))
	}

	source := hit.Get("_source")
	if source == nil || source.Type() != fastjson.TypeObject {
		return types.LogMessage{}, types.MalformedRecordError("_source", nil)
	}

	msg := source.Get("message")
	if msg == nil || msg.Type() != fastjson.TypeObject {
		return types.LogMessage{}, types.MalformedRecordError("_source.message", nil)
	}

	var lm types.LogMessage
	fields := []struct {
		key string
		dst *string
	}{
		{fieldTraceID, &lm.TraceID},
		{fieldLevel, &lm.Level},
		{fieldPaymentID, &lm.PaymentID},
		{fieldName, &lm.Name},
		{fieldMethodID, &lm.MethodID},
		{fieldShopID, &lm.ShopID},
		{fieldThread, &lm.Thread},
		{fieldMessage, &lm.Message},
	}
	for _, f := range fields {
		v := msg.Get(f.key)
		if v == nil {
			return types.LogMessage{}, types.MalformedRecordError(f.key, nil)
		}
		b, err := v.StringBytes()
		if err != nil {
			return types.LogMessage{}, types.MalformedRecordError(f.key, err)
		}
		*f.dst = string(b)
	}

	return lm, nil
}
