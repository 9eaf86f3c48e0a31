package notify

import (
	"context"
	"log"
)

// LogNotifier writes notifications to the process log. It is the always
// available channel: the session registers it unconditionally so every novel
// alert leaves a trace even when desktop and webhook delivery are absent.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a log notifier. A nil logger means the process
// default.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Name returns "log".
func (l *LogNotifier) Name() string {
	return "log"
}

// Send writes one line per notification.
func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	l.logger.Printf("[notify] %s alert %s (%s): %s", n.Scope, n.Title, n.Severity, n.Body)
	return nil
}

// Close is a no-op for the log notifier.
func (l *LogNotifier) Close() error {
	return nil
}
