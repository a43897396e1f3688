package observe

import (
	"context"
	"log/slog"
)

// LogSink writes diagnostics as structured log records.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs every event at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

func (s *LogSink) Emit(ctx context.Context, event Event) error {
	attrs := make([]slog.Attr, 0, len(event.Attrs)+2)
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	for k, v := range event.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(ctx, s.level, string(event.Type), attrs...)
	return nil
}
