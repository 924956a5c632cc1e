// Package notify delivers password reset instructions to users.
package notify

import (
	"context"
	"log/slog"

	"github.com/docsage/docsage/internal/log"
)

// Notifier delivers a password reset token to an account's email.
type Notifier interface {
	SendReset(ctx context.Context, email, resetToken string) error
}

// LogNotifier writes reset notifications to the log instead of
// sending mail. It is the default delivery mechanism until an SMTP
// sender is configured.
type LogNotifier struct {
	logger log.Logger
}

// NewLogNotifier creates a log-backed notifier. A nil logger falls
// back to slog.Default().
func NewLogNotifier(logger log.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendReset logs the reset token for the operator to relay. The token
// is logged deliberately; there is no other delivery channel yet.
func (n *LogNotifier) SendReset(ctx context.Context, email, resetToken string) error {
	n.logger.InfoContext(ctx, "password reset requested",
		"email", email,
		"reset_token", resetToken,
	)
	return nil
}
