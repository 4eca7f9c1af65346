// Package audit implements the append-only audit trail of a replay run.
//
// Lines keep the notification_sender.log format that operators already grep:
//
//	[15:04:05,123] [INFO] [<correlation-id>] Notification was successfully sended. Response: <Response [200]>
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// CorrelationKey is the slog attribute rendered as the "[<id>] " prefix.
const CorrelationKey = "correlation_id"

// LineHandler is a slog.Handler that renders records in the audit line
// format. Attributes other than CorrelationKey are ignored.
type LineHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
}

var _ slog.Handler = (*LineHandler)(nil)

// NewLineHandler writes audit lines to w for records at or above level.
func NewLineHandler(w io.Writer, level slog.Leveler) *LineHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LineHandler{mu: &sync.Mutex{}, w: w, level: level}
}

// Enabled implements slog.Handler.
func (h *LineHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	correlationID := ""
	for _, a := range h.attrs {
		if a.Key == CorrelationKey {
			correlationID = a.Value.String()
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == CorrelationKey {
			correlationID = a.Value.String()
		}
		return true
	})

	t := r.Time
	line := fmt.Sprintf("[%s,%d] [%s] ", t.Format("15:04:05"), t.Nanosecond()/1e6, levelName(r.Level))
	if correlationID != "" {
		line += "[" + correlationID + "] "
	}
	line += r.Message + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

// WithAttrs implements slog.Handler.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LineHandler{mu: h.mu, w: h.w, level: h.level, attrs: merged}
}

// WithGroup implements slog.Handler. Groups carry no meaning in audit lines.
func (h *LineHandler) WithGroup(string) slog.Handler { return h }

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
