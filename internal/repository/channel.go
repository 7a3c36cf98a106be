package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportly/backend/internal/domain"
)

// ChannelRepository holds the creator's tier-gated community channels.
type ChannelRepository struct {
	db *pgxpool.Pool
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// ListCreatorChannels returns the creator's channels, lowest tier first.
func (r *ChannelRepository) ListCreatorChannels(ctx context.Context, creatorID string) ([]domain.CommunityChannel, error) {
	query := `
		SELECT id, creator_id, name, external_id, min_tier
		FROM community_channels WHERE creator_id = $1
		ORDER BY min_tier, name`
	rows, err := r.db.Query(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []domain.CommunityChannel
	for rows.Next() {
		var c domain.CommunityChannel
		if err := rows.Scan(&c.ID, &c.CreatorID, &c.Name, &c.ExternalID, &c.MinTier); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// SetChannelExternalID records the chat-side ID of a channel created on demand.
func (r *ChannelRepository) SetChannelExternalID(ctx context.Context, channelID, externalID string) error {
	query := `UPDATE community_channels SET external_id = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, channelID, externalID)
	if err != nil {
		return fmt.Errorf("failed to set channel external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("channel not found")
	}
	return nil
}

// UpsertChannel inserts a channel or updates its name, external ID and tier gate.
func (r *ChannelRepository) UpsertChannel(ctx context.Context, c *domain.CommunityChannel) error {
	query := `
		INSERT INTO community_channels (id, creator_id, name, external_id, min_tier)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, external_id = EXCLUDED.external_id, min_tier = EXCLUDED.min_tier`
	_, err := r.db.Exec(ctx, query, c.ID, c.CreatorID, c.Name, c.ExternalID, c.MinTier)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}
