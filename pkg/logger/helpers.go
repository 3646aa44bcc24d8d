package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogBatchWritten records a committed batch
func LogBatchWritten(l Logger, batch, items int, name string, elapsed time.Duration) {
	l.WithFields(map[string]interface{}{
		"batch":    batch,
		"items":    items,
		"artifact": name,
		"duration": elapsed,
	}).Info("Batch written")
}

// LogRetry records a failed attempt that will be retried after delay
func LogRetry(l Logger, op string, attempt, maxAttempts int, delay time.Duration, err error) {
	l.WithError(err).WithFields(map[string]interface{}{
		"op":           op,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"delay":        delay,
	}).Warn("Retrying after failure")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, fields map[string]interface{}) {
	l = l.WithField("component", component)
	if len(fields) > 0 {
		l = l.WithFields(fields)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}

func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
