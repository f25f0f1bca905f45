package notification

import (
	"context"
	"log/slog"
)

// LogSink surfaces alerts as log records, for deployments without a push
// provider.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, title, body string) error {
	s.log.Info("Notification", "title", title, "body", body)
	return nil
}
