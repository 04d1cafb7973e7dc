// Package notify is the notification collaborator: fire-and-forget
// delivery with a boolean outcome. Failures are logged by callers and
// never escalate.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers one message to one user. The returned bool reports
// whether delivery succeeded; callers must treat false as a logged
// shrug, not an error.
type Notifier interface {
	Send(ctx context.Context, userID, title, body, correlationID string) bool
}

// Log is a Notifier that only writes the message to the log. It is the
// default sink and the one used in tests.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Send(_ context.Context, userID, title, body, correlationID string) bool {
	l.Logger.Info().
		Str("user_id", userID).
		Str("title", title).
		Str("body", body).
		Str("correlation_id", correlationID).
		Msg("notification")
	return true
}
