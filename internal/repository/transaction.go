package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/supportly/backend/internal/domain"
)

func findTransaction(ctx context.Context, q querier, key string, lock bool) (*domain.Transaction, error) {
	query := `
		SELECT key, supporter_id, creator_id, subscription_id, tier_level, amount::float8, currency,
			gateway, external_ref, recurring, status, raw_payload, created_at, updated_at
		FROM transactions WHERE key = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t domain.Transaction
	err := q.QueryRow(ctx, query, key).Scan(
		&t.Key, &t.SupporterID, &t.CreatorID, &t.SubscriptionID, &t.TierLevel, &t.Amount, &t.Currency,
		&t.Gateway, &t.ExternalRef, &t.Recurring, &t.Status, &t.RawPayload, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &t, nil
}

// CreatePendingTransaction records a payment attempt before the supporter is sent to the gateway.
func (r *SubscriptionRepository) CreatePendingTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (key, supporter_id, creator_id, tier_level, amount, currency, gateway,
			external_ref, recurring, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $10)`,
		t.Key, t.SupporterID, t.CreatorID, t.TierLevel, t.Amount, t.Currency, t.Gateway,
		t.ExternalRef, t.Recurring, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict("transaction key already used")
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransaction returns the transaction for key, or nil.
func (r *SubscriptionRepository) GetTransaction(ctx context.Context, key string) (*domain.Transaction, error) {
	return findTransaction(ctx, r.db, key, false)
}

// FailTransaction marks a pending transaction failed. Completed transactions are left alone.
func (r *SubscriptionRepository) FailTransaction(ctx context.Context, key, rawPayload string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = 'failed', raw_payload = $2, updated_at = NOW()
		WHERE key = $1 AND status = 'pending'`,
		key, rawPayload,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	return nil
}

// SumCompletedAmount returns the total amount of completed transactions.
func (r *SubscriptionRepository) SumCompletedAmount(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::float8 FROM transactions WHERE status = 'completed'`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}
