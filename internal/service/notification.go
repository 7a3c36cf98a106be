package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
	"github.com/supportly/backend/internal/notify"
)

// NotificationDispatcher sends lifecycle emails. A transient delivery failure is
// queued in the outbox for the OutboxWorker instead of blocking the caller.
type NotificationDispatcher struct {
	mailer  notify.Mailer
	users   UserDirectory
	prefs   PreferenceStore
	outbox  OutboxStore
	timeout time.Duration
	baseURL string
	now     func() time.Time
}

// NewNotificationDispatcher creates a NotificationDispatcher.
func NewNotificationDispatcher(mailer notify.Mailer, users UserDirectory, prefs PreferenceStore, outbox OutboxStore, timeout time.Duration, appBaseURL string) *NotificationDispatcher {
	return &NotificationDispatcher{
		mailer:  mailer,
		users:   users,
		prefs:   prefs,
		outbox:  outbox,
		timeout: timeout,
		baseURL: strings.TrimRight(appBaseURL, "/"),
		now:     time.Now,
	}
}

// Send delivers n and reports the immediate outcome. It never returns an error:
// failures are carried in the result.
func (d *NotificationDispatcher) Send(ctx context.Context, n domain.Notification) *domain.NotificationResult {
	res := &domain.NotificationResult{Kind: n.Kind}

	muted, err := d.prefs.NotificationsMuted(ctx, n.SupporterID, n.CreatorID)
	if err != nil {
		logging.Warn().Err(err).Str("supporter_id", n.SupporterID).Msg("notification preference lookup failed")
	}
	if muted {
		res.Suppressed = true
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "suppressed").Inc()
		return res
	}

	supporter, err := d.users.FindByID(ctx, n.SupporterID)
	if err != nil {
		res.Error = fmt.Sprintf("failed to resolve recipient: %v", err)
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "failed").Inc()
		return res
	}
	if supporter == nil || supporter.Email == "" {
		res.Error = "no email address on file for supporter"
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "failed").Inc()
		return res
	}

	data := d.templateData(ctx, n, supporter)
	err = d.Deliver(ctx, n.Kind, supporter.Email, data)
	if err == nil {
		res.Sent = true
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "sent").Inc()
		return res
	}

	res.Error = err.Error()
	if !notify.IsTransient(err) {
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "failed").Inc()
		return res
	}

	id, qerr := d.outbox.EnqueueNotification(ctx, &domain.OutboxMessage{
		Kind:          n.Kind,
		Recipient:     supporter.Email,
		Data:          data,
		Status:        domain.OutboxPending,
		NextAttemptAt: d.now().Add(RetryDelay(1)),
		CreatedAt:     d.now(),
	})
	if qerr != nil {
		res.Error = fmt.Sprintf("%s; enqueue failed: %v", res.Error, qerr)
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "failed").Inc()
		return res
	}
	res.Queued = true
	metrics.NotificationsSent.WithLabelValues(string(n.Kind), "direct", "queued").Inc()
	logging.Info().Int64("outbox_id", id).Str("kind", string(n.Kind)).Msg("notification queued for retry")
	return res
}

// Deliver hands one rendered email to the mailer, bounded by the dispatcher's timeout.
func (d *NotificationDispatcher) Deliver(ctx context.Context, kind domain.NotificationKind, recipient string, data map[string]interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()
	err := d.mailer.SendTemplate(callCtx, kind, recipient, data)
	metrics.ExternalCallDuration.WithLabelValues("mail", string(kind)).Observe(time.Since(start).Seconds())
	return err
}

func (d *NotificationDispatcher) templateData(ctx context.Context, n domain.Notification, supporter *domain.User) map[string]interface{} {
	data := make(map[string]interface{}, len(n.Data)+4)
	for k, v := range n.Data {
		data[k] = v
	}
	data["supporterName"] = displayName(supporter)
	if _, ok := data["creatorName"]; !ok {
		data["creatorName"] = n.CreatorID
		if creator, err := d.users.FindByID(ctx, n.CreatorID); err == nil && creator != nil {
			data["creatorName"] = displayName(creator)
		}
	}
	if d.baseURL != "" {
		data["manageURL"] = fmt.Sprintf("%s/creators/%s/membership", d.baseURL, n.CreatorID)
	}
	return data
}

func displayName(u *domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
