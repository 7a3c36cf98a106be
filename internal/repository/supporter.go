package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/supportly/backend/internal/domain"
)

func findSupporter(ctx context.Context, q querier, supporterID, creatorID string, lock bool) (*domain.Supporter, error) {
	query := `
		SELECT supporter_id, creator_id, tier_level, active, amount::float8, updated_at
		FROM supporters WHERE supporter_id = $1 AND creator_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var s domain.Supporter
	err := q.QueryRow(ctx, query, supporterID, creatorID).Scan(
		&s.SupporterID, &s.CreatorID, &s.TierLevel, &s.Active, &s.Amount, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find supporter: %w", err)
	}
	return &s, nil
}

// deactivateSupporter clears the entitlement flag unless another active subscription
// still covers the pair. It reports whether the flag was set before.
func deactivateSupporter(ctx context.Context, q querier, supporterID, creatorID string, at time.Time) (bool, error) {
	s, err := findSupporter(ctx, q, supporterID, creatorID, true)
	if err != nil || s == nil {
		return false, err
	}
	_, err = q.Exec(ctx, `
		UPDATE supporters SET active = FALSE, updated_at = $3
		WHERE supporter_id = $1 AND creator_id = $2 AND active
		AND NOT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE supporter_id = $1 AND creator_id = $2 AND status = 'active'
		)`,
		supporterID, creatorID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate supporter: %w", err)
	}
	return s.Active, nil
}

// FindSupporter returns the entitlement record for the pair, or nil.
func (r *SubscriptionRepository) FindSupporter(ctx context.Context, supporterID, creatorID string) (*domain.Supporter, error) {
	return findSupporter(ctx, r.db, supporterID, creatorID, false)
}

// DeactivateSupporter clears the pair's entitlement when no active subscription covers it.
// Used to repair a supporter record that outlived its subscription.
func (r *SubscriptionRepository) DeactivateSupporter(ctx context.Context, supporterID, creatorID string, at time.Time) (bool, error) {
	var wasActive bool
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		wasActive, err = deactivateSupporter(ctx, tx, supporterID, creatorID, at)
		return err
	})
	if err != nil {
		return false, err
	}
	return wasActive, nil
}

// CountActiveSupporters returns the number of pairs currently entitled.
func (r *SubscriptionRepository) CountActiveSupporters(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM supporters WHERE active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count supporters: %w", err)
	}
	return n, nil
}

// SetNotificationsMuted stores the pair's lifecycle email preference.
func (r *SubscriptionRepository) SetNotificationsMuted(ctx context.Context, supporterID, creatorID string, muted bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_preferences (supporter_id, creator_id, muted, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (supporter_id, creator_id) DO UPDATE
		SET muted = EXCLUDED.muted, updated_at = NOW()`,
		supporterID, creatorID, muted,
	)
	if err != nil {
		return fmt.Errorf("failed to set notification preference: %w", err)
	}
	return nil
}

// NotificationsMuted reports whether the pair opted out of lifecycle emails.
func (r *SubscriptionRepository) NotificationsMuted(ctx context.Context, supporterID, creatorID string) (bool, error) {
	var muted bool
	err := r.db.QueryRow(ctx,
		`SELECT muted FROM notification_preferences WHERE supporter_id = $1 AND creator_id = $2`,
		supporterID, creatorID,
	).Scan(&muted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read notification preference: %w", err)
	}
	return muted, nil
}
