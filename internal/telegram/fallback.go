package telegram

import (
	"context"

	"github.com/rewired-gh/breakwatch/internal/logger"
)

// LogNotifier writes messages to the log instead of Telegram.
// Used when Telegram is disabled.
type LogNotifier struct{}

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Send logs the alert text.
func (LogNotifier) Send(_ context.Context, text string) error {
	logger.Info("Notification: %s", text)
	return nil
}

// SendError logs the cycle error.
func (LogNotifier) SendError(_ context.Context, cycleErr error) error {
	logger.Warn("Monitoring error: %v", cycleErr)
	return nil
}

// SendRecovery logs the recovery.
func (LogNotifier) SendRecovery(_ context.Context, failureCount int) error {
	logger.Info("Monitoring recovered after %d consecutive failure(s)", failureCount)
	return nil
}
