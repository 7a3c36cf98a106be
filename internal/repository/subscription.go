package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportly/backend/internal/domain"
)

// maxCommitAttempts bounds the retries of a payment commit that lost a race.
const maxCommitAttempts = 3

const subscriptionColumns = `
	s.id, s.supporter_id, s.creator_id, s.tier_level, s.amount::float8, s.currency, s.gateway,
	s.external_subscription_id, s.status, s.current_period_start, s.current_period_end,
	s.auto_renew, s.renewal_count, s.cancelled_at, s.cancel_reason, s.created_at, s.updated_at,
	s.version,
	COALESCE((
		SELECT jsonb_object_agg(r.threshold_days::text, r.sent_at)
		FROM subscription_reminders r
		WHERE r.subscription_id = s.id AND r.period_end = s.current_period_end
	), '{}'::jsonb)`

// SubscriptionRepository is the PostgreSQL store of record for subscriptions,
// supporter entitlements, transactions and notification preferences.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var reminders []byte
	err := row.Scan(
		&sub.ID, &sub.SupporterID, &sub.CreatorID, &sub.TierLevel, &sub.Amount, &sub.Currency, &sub.Gateway,
		&sub.ExternalSubscriptionID, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.AutoRenew, &sub.RenewalCount, &sub.CancelledAt, &sub.CancelReason, &sub.CreatedAt, &sub.UpdatedAt,
		&sub.Version, &reminders,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeReminders(reminders, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func decodeReminders(raw []byte, sub *domain.Subscription) error {
	if len(raw) == 0 {
		return nil
	}
	var byKey map[string]time.Time
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return fmt.Errorf("failed to decode reminders: %w", err)
	}
	if len(byKey) == 0 {
		return nil
	}
	sub.RemindersSent = make(map[int]time.Time, len(byKey))
	for k, v := range byKey {
		threshold, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("failed to decode reminder threshold %q: %w", k, err)
		}
		sub.RemindersSent[threshold] = v
	}
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	defer rows.Close()
	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// GetSubscription returns a subscription by ID, or nil when it does not exist.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return findSubscription(ctx, r.db, `SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, id)
}

// LatestSubscription returns the most recent subscription for the pair, active ones first.
func (r *SubscriptionRepository) LatestSubscription(ctx context.Context, supporterID, creatorID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		WHERE s.supporter_id = $1 AND s.creator_id = $2
		ORDER BY (s.status = 'active') DESC, s.created_at DESC
		LIMIT 1`
	return findSubscription(ctx, r.db, query, supporterID, creatorID)
}

func findActive(ctx context.Context, q querier, supporterID, creatorID string, lock bool) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		WHERE s.supporter_id = $1 AND s.creator_id = $2 AND s.status = 'active'`
	if lock {
		query += ` FOR UPDATE OF s`
	}
	return findSubscription(ctx, q, query, supporterID, creatorID)
}

func findSubscription(ctx context.Context, q querier, query string, args ...any) (*domain.Subscription, error) {
	sub, err := scanSubscription(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptionsByStatus pages through subscriptions with the given status ordered by ID.
// Pass the last ID of the previous page as afterID.
func (r *SubscriptionRepository) ListSubscriptionsByStatus(ctx context.Context, status domain.SubscriptionStatus, afterID string, limit int) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		WHERE s.status = $1 AND s.id > $2
		ORDER BY s.id
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, status, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListExpiringBetween returns active subscriptions whose period ends in [from, to).
func (r *SubscriptionRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		WHERE s.status = 'active' AND s.current_period_end >= $1 AND s.current_period_end < $2
		ORDER BY s.current_period_end`
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// CountSubscriptionsByStatus returns the number of subscriptions per stored status.
func (r *SubscriptionRepository) CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SubscriptionStatus]int)
	for rows.Next() {
		var status domain.SubscriptionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CommitPayment records a confirmed payment: the transaction is completed, the pair's
// subscription is created, renewed or superseded, and the supporter entitlement is
// activated, all in one database transaction. A key that is already completed is
// reported back with Replayed set and nothing is written.
func (r *SubscriptionRepository) CommitPayment(ctx context.Context, p domain.PaymentCommit) (*domain.PaymentCommitResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		res, err := r.commitPaymentOnce(ctx, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrVersionConflict) && !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to commit payment %s after %d attempts: %w", p.TransactionKey, maxCommitAttempts, lastErr)
}

func (r *SubscriptionRepository) commitPaymentOnce(ctx context.Context, p domain.PaymentCommit) (*domain.PaymentCommitResult, error) {
	var res *domain.PaymentCommitResult
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// Make sure a row exists so concurrent deliveries of the same key serialize on its lock.
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (key, supporter_id, creator_id, tier_level, amount, currency, gateway, external_ref, recurring, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $10)
			ON CONFLICT (key) DO NOTHING`,
			p.TransactionKey, p.SupporterID, p.CreatorID, p.TierLevel, p.Amount, p.Currency,
			p.Gateway, p.ExternalRef, p.AutoRenew, p.At,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		txn, err := findTransaction(ctx, tx, p.TransactionKey, true)
		if err != nil {
			return err
		}
		if txn.Status == domain.TransactionCompleted {
			res = &domain.PaymentCommitResult{Replayed: true, Transaction: *txn}
			if txn.SubscriptionID != nil {
				sub, err := findSubscription(ctx, tx, `SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, *txn.SubscriptionID)
				if err != nil {
					return err
				}
				if sub != nil {
					res.Subscription = *sub
				}
			}
			return nil
		}

		active, err := findActive(ctx, tx, p.SupporterID, p.CreatorID, true)
		if err != nil {
			return err
		}
		supporter, err := findSupporter(ctx, tx, p.SupporterID, p.CreatorID, true)
		if err != nil {
			return err
		}

		plan := domain.PlanRenewal(active, p, uuid.NewString())
		switch plan.Kind {
		case domain.RenewalRenewed:
			if err := updateRenewed(ctx, tx, &plan.Next, active.Version); err != nil {
				return err
			}
			plan.Next.Version = active.Version + 1
		case domain.RenewalSuperseded:
			if err := endSubscription(ctx, tx, plan.Superseded, domain.StatusCancelled, p.At, domain.SupersededReason); err != nil {
				return err
			}
			fallthrough
		default:
			if err := insertSubscription(ctx, tx, &plan.Next); err != nil {
				return err
			}
			plan.Next.Version = 1
		}

		_, err = tx.Exec(ctx, `
			UPDATE transactions
			SET status = 'completed', subscription_id = $2, tier_level = $3, amount = $4,
				external_ref = COALESCE(NULLIF($5, ''), external_ref), raw_payload = $6, updated_at = $7
			WHERE key = $1`,
			p.TransactionKey, plan.Next.ID, p.TierLevel, p.Amount, p.ExternalRef, p.RawPayload, p.At,
		)
		if err != nil {
			return fmt.Errorf("failed to complete transaction: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO supporters (supporter_id, creator_id, tier_level, active, amount, updated_at)
			VALUES ($1, $2, $3, TRUE, $4, $5)
			ON CONFLICT (supporter_id, creator_id) DO UPDATE
			SET tier_level = EXCLUDED.tier_level, active = TRUE, amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
			p.SupporterID, p.CreatorID, p.TierLevel, p.Amount, p.At,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert supporter: %w", err)
		}

		subID := plan.Next.ID
		txn.SubscriptionID = &subID
		txn.Status = domain.TransactionCompleted
		txn.TierLevel = p.TierLevel
		txn.Amount = p.Amount
		txn.UpdatedAt = p.At
		if p.ExternalRef != "" {
			txn.ExternalRef = p.ExternalRef
		}

		res = &domain.PaymentCommitResult{
			Transaction:        *txn,
			Subscription:       plan.Next,
			Kind:               plan.Kind,
			PreviousTier:       plan.PreviousTier,
			SupporterWasActive: supporter != nil && supporter.Active,
			Superseded:         plan.Superseded,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func insertSubscription(ctx context.Context, q querier, sub *domain.Subscription) error {
	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (id, supporter_id, creator_id, tier_level, amount, currency, gateway,
			external_subscription_id, status, current_period_start, current_period_end, auto_renew,
			renewal_count, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)`,
		sub.ID, sub.SupporterID, sub.CreatorID, sub.TierLevel, sub.Amount, sub.Currency, sub.Gateway,
		sub.ExternalSubscriptionID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.AutoRenew,
		sub.RenewalCount, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func updateRenewed(ctx context.Context, q querier, sub *domain.Subscription, version int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions
		SET current_period_start = $3, current_period_end = $4, renewal_count = $5, amount = $6,
			currency = $7, gateway = $8, external_subscription_id = $9, auto_renew = $10,
			updated_at = $11, version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'active'`,
		sub.ID, version, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.RenewalCount, sub.Amount,
		sub.Currency, sub.Gateway, sub.ExternalSubscriptionID, sub.AutoRenew, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to renew subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func endSubscription(ctx context.Context, q querier, sub *domain.Subscription, status domain.SubscriptionStatus, at time.Time, reason string) error {
	var cancelledAt *time.Time
	if status == domain.StatusCancelled {
		cancelledAt = &at
	}
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions
		SET status = $3, cancelled_at = COALESCE($4, cancelled_at), cancel_reason = $5,
			updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'active'`,
		sub.ID, sub.Version, status, cancelledAt, reason, at,
	)
	if err != nil {
		return fmt.Errorf("failed to end subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// EndSubscription moves an active subscription to cancelled or expired and deactivates
// the pair's supporter entitlement in the same transaction. It reports whether the
// supporter was active before. ErrVersionConflict means the row changed since it was read.
func (r *SubscriptionRepository) EndSubscription(ctx context.Context, sub *domain.Subscription, status domain.SubscriptionStatus, at time.Time, reason string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot end subscription with status %q", status)
	}
	var wasActive bool
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := endSubscription(ctx, tx, sub, status, at, reason); err != nil {
			return err
		}
		var err error
		wasActive, err = deactivateSupporter(ctx, tx, sub.SupporterID, sub.CreatorID, at)
		return err
	})
	if err != nil {
		return false, err
	}
	return wasActive, nil
}

// ClaimReminder records that the reminder for threshold days is being sent for the
// subscription's current period. Only the first caller for a given period gets true.
func (r *SubscriptionRepository) ClaimReminder(ctx context.Context, subscriptionID string, periodEnd time.Time, threshold int, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO subscription_reminders (subscription_id, period_end, threshold_days, sent_at)
		SELECT s.id, $2, $3, $4
		FROM subscriptions s
		WHERE s.id = $1 AND s.status = 'active' AND s.current_period_end = $2
		ON CONFLICT DO NOTHING`,
		subscriptionID, periodEnd, threshold, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
