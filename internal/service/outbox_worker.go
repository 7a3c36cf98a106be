package service

import (
	"context"
	"time"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
	"github.com/supportly/backend/internal/notify"
)

const maxRetryDelay = 10 * time.Minute

// RetryDelay returns the wait before delivery attempt number attempt+1:
// 2^attempt seconds, capped at ten minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 10 {
		return maxRetryDelay
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// OutboxWorkerConfig tunes the outbox poll loop.
type OutboxWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Lease        time.Duration
}

// OutboxWorker redelivers queued notifications until they succeed or run out of attempts.
type OutboxWorker struct {
	outbox     OutboxStore
	dispatcher *NotificationDispatcher
	cfg        OutboxWorkerConfig
	now        func() time.Time
}

// NewOutboxWorker creates an OutboxWorker.
func NewOutboxWorker(outbox OutboxStore, dispatcher *NotificationDispatcher, cfg OutboxWorkerConfig) *OutboxWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return &OutboxWorker{outbox: outbox, dispatcher: dispatcher, cfg: cfg, now: time.Now}
}

// Serve polls the outbox until ctx is cancelled.
func (w *OutboxWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			logging.Error().Err(err).Msg("outbox poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// String names the worker in supervisor logs.
func (w *OutboxWorker) String() string { return "outbox-worker" }

// RunOnce claims one batch of due messages and tries each. It returns how many were delivered.
func (w *OutboxWorker) RunOnce(ctx context.Context) (int, error) {
	msgs, err := w.outbox.ClaimDueNotifications(ctx, w.now(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if w.deliver(ctx, msg) {
			delivered++
		}
	}
	return delivered, nil
}

func (w *OutboxWorker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	err := w.dispatcher.Deliver(ctx, msg.Kind, msg.Recipient, msg.Data)
	if err == nil {
		if merr := w.outbox.MarkNotificationSent(ctx, msg.ID, w.now()); merr != nil {
			logging.Error().Err(merr).Int64("outbox_id", msg.ID).Msg("failed to mark notification sent")
		}
		metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "outbox", "sent").Inc()
		return true
	}

	attempt := msg.Attempts + 1
	dead := attempt >= w.cfg.MaxAttempts || !notify.IsTransient(err)
	next := w.now().Add(RetryDelay(attempt))
	if merr := w.outbox.MarkNotificationFailed(ctx, msg.ID, next, err.Error(), dead); merr != nil {
		logging.Error().Err(merr).Int64("outbox_id", msg.ID).Msg("failed to record notification failure")
	}

	outcome := "retry"
	if dead {
		outcome = "dead"
	}
	metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "outbox", outcome).Inc()
	logging.Warn().Err(err).
		Int64("outbox_id", msg.ID).
		Int("attempt", attempt).
		Bool("dead", dead).
		Msg("notification redelivery failed")
	return false
}
