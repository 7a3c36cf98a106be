package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportly/backend/internal/domain"
)

// OutcomeRepository stores the result of each confirmed payment so that duplicate
// deliveries of the same transaction key can be answered without side effects.
type OutcomeRepository struct {
	db *pgxpool.Pool
}

// NewOutcomeRepository creates a new OutcomeRepository.
func NewOutcomeRepository(db *pgxpool.Pool) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// GetOutcome retrieves the stored result for a transaction key.
func (r *OutcomeRepository) GetOutcome(ctx context.Context, key string) (*domain.ConfirmPaymentResult, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT result FROM lifecycle_outcomes WHERE transaction_key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // not recorded yet
		}
		return nil, fmt.Errorf("failed to read lifecycle outcome: %w", err)
	}
	var res domain.ConfirmPaymentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode lifecycle outcome: %w", err)
	}
	return &res, nil
}

// SaveOutcome inserts or updates the result for a transaction key.
func (r *OutcomeRepository) SaveOutcome(ctx context.Context, key string, res *domain.ConfirmPaymentResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode lifecycle outcome: %w", err)
	}
	query := `
		INSERT INTO lifecycle_outcomes (transaction_key, result, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (transaction_key) DO UPDATE
		SET result = EXCLUDED.result, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, key, raw); err != nil {
		return fmt.Errorf("failed to save lifecycle outcome: %w", err)
	}
	return nil
}
