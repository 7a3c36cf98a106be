// Package notify renders lifecycle emails and hands them to a delivery backend.
package notify

import (
	"context"
	"errors"
	"net"
	"net/textproto"

	"github.com/supportly/backend/internal/domain"
)

// Mailer delivers a rendered lifecycle email.
type Mailer interface {
	SendTemplate(ctx context.Context, kind domain.NotificationKind, recipient string, data map[string]interface{}) error
}

// ErrPermanent marks a delivery failure that will not succeed on retry.
var ErrPermanent = errors.New("permanent delivery failure")

// IsTransient reports whether a failed delivery is worth queueing for retry.
// Network errors, timeouts, SMTP 4xx replies and broker errors are transient;
// SMTP 5xx replies, rendering errors and anything wrapping ErrPermanent are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 400 && tpErr.Code < 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return false
	}
	return true
}
