package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes notifications to the log. It stands in for delivery when
// no broker is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log} }

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, n Notification) error {
	l.log.Info("notification",
		zap.String("event", string(n.Event)),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("appointment_id", n.AppointmentID.String()),
		zap.String("status", string(n.Status)),
	)
	return nil
}
