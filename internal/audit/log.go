package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"notifyreplay/internal/types"
)

// Log is the audit sink shared by every component of a run. Appends are
// ordered by call order.
type Log struct {
	handler slog.Handler
	clock   types.Clock
	closer  io.Closer
}

// New returns a Log that writes to w.
func New(w io.Writer, clock types.Clock) *Log {
	if clock == nil {
		clock = localClock{}
	}
	return &Log{handler: NewLineHandler(w, slog.LevelInfo), clock: clock}
}

// OpenFile opens (or creates) path in append mode and returns a Log writing
// to it. When mirror is non-nil every line is also written there.
func OpenFile(path string, mirror io.Writer) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	var w io.Writer = f
	if mirror != nil {
		w = io.MultiWriter(f, mirror)
	}
	l := New(w, nil)
	l.closer = f
	return l, nil
}

// Close releases the underlying file, if any.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Log) write(level slog.Level, correlationID, msg string) {
	r := slog.NewRecord(l.clock.Now(), level, msg, 0)
	if correlationID != "" {
		r.AddAttrs(slog.String(CorrelationKey, correlationID))
	}
	// Audit writes are best effort: a full disk must not stop deliveries
	// that are already in flight.
	_ = l.handler.Handle(context.Background(), r)
}

// Payload writes the pre-send dump of an outbound notification body.
func (l *Log) Payload(correlationID string, payload []byte) {
	l.write(slog.LevelInfo, correlationID, "Notification body:\n"+string(payload))
}

// Delivered records a 200 response.
func (l *Log) Delivered(correlationID, response string) {
	l.write(slog.LevelInfo, correlationID, "Notification was successfully sended. Response: "+response)
}

// NotDelivered records a non-200 response or a transport failure.
func (l *Log) NotDelivered(correlationID, response string) {
	l.write(slog.LevelWarn, correlationID, "Notification was not successfully sended. Response: "+response)
}

// NotSent records an admitted payload that was not posted because the
// destination's circuit breaker was open.
func (l *Log) NotSent(correlationID, reason string) {
	l.write(slog.LevelWarn, correlationID, "Notification was not sent: "+reason)
}

// Duplicate records a payload suppressed by the deduplicator.
func (l *Log) Duplicate(objectID string) {
	l.write(slog.LevelInfo, "", fmt.Sprintf("Notification for ID [%s] was already sended. Continue.", objectID))
}

// DryRun records an admitted payload that was not sent because the run is a
// dry run.
func (l *Log) DryRun(correlationID string) {
	l.write(slog.LevelInfo, correlationID, "Dry run: notification was not sent.")
}

// RecordError records a per-record failure.
func (l *Log) RecordError(index int, err error) {
	l.write(slog.LevelError, "", fmt.Sprintf("Record #%d: %v", index, err))
}

// localClock stamps audit lines in the operator's local time.
type localClock struct{}

func (localClock) Now() time.Time { return time.Now() }
