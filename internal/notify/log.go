package notify

import (
	"context"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
)

// LogMailer renders emails and writes them to the log instead of sending them.
type LogMailer struct{}

// NewLogMailer creates a LogMailer.
func NewLogMailer() *LogMailer { return &LogMailer{} }

func (LogMailer) SendTemplate(_ context.Context, kind domain.NotificationKind, recipient string, data map[string]interface{}) error {
	subject, body, err := Render(kind, data)
	if err != nil {
		return err
	}
	logging.Info().
		Str("kind", string(kind)).
		Str("recipient", recipient).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email rendered (log mailer)")
	return nil
}
