package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportly/backend/internal/domain"
)

// OutboxRepository is the durable queue for notifications that could not be delivered inline.
type OutboxRepository struct {
	db *pgxpool.Pool
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// EnqueueNotification queues a message for delivery at or after its NextAttemptAt.
func (r *OutboxRepository) EnqueueNotification(ctx context.Context, msg *domain.OutboxMessage) (int64, error) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode outbox data: %w", err)
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO notification_outbox (kind, recipient, data, attempts, status, last_error, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		RETURNING id`,
		msg.Kind, msg.Recipient, data, msg.Attempts, msg.LastError, msg.NextAttemptAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return id, nil
}

// ClaimDueNotifications leases up to limit pending messages that are due at now.
// A leased message is invisible to other workers until lease elapses.
func (r *OutboxRepository) ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxMessage, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE notification_outbox o
		SET locked_until = $2, updated_at = $1
		WHERE o.id IN (
			SELECT id FROM notification_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
				AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY next_attempt_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING o.id, o.kind, o.recipient, o.data, o.attempts, o.status, o.last_error, o.next_attempt_at, o.created_at`,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		var data []byte
		if err := rows.Scan(&m.ID, &m.Kind, &m.Recipient, &data, &m.Attempts, &m.Status, &m.LastError, &m.NextAttemptAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &m.Data); err != nil {
				return nil, fmt.Errorf("failed to decode outbox data: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkNotificationSent records a successful delivery.
func (r *OutboxRepository) MarkNotificationSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'sent', attempts = attempts + 1, locked_until = NULL, last_error = '', updated_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed records a failed attempt. The message is retried at next
// unless dead is set.
func (r *OutboxRepository) MarkNotificationFailed(ctx context.Context, id int64, next time.Time, lastErr string, dead bool) error {
	status := domain.OutboxPending
	if dead {
		status = domain.OutboxDead
	}
	_, err := r.db.Exec(ctx, `
		UPDATE notification_outbox
		SET status = $2, attempts = attempts + 1, last_error = $3, next_attempt_at = $4,
			locked_until = NULL, updated_at = NOW()
		WHERE id = $1`, id, status, lastErr, next)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// CountNotifications returns the number of outbox rows per status.
func (r *OutboxRepository) CountNotifications(ctx context.Context) (map[domain.OutboxStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM notification_outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutboxStatus]int)
	for rows.Next() {
		var status domain.OutboxStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan notification count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
