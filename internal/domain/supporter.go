package domain

import "time"

// Supporter is the denormalized entitlement flag for a (supporter, creator) pair.
// Active gates tier-gated content and must track the pair's active subscription.
type Supporter struct {
	SupporterID string    `json:"supporterId"`
	CreatorID   string    `json:"creatorId"`
	TierLevel   int       `json:"tierLevel"`
	Active      bool      `json:"active"`
	Amount      float64   `json:"amount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
