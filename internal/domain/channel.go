package domain

import "sort"

// CommunityChannel is a creator's chat channel gated by a minimum tier.
type CommunityChannel struct {
	ID         string `json:"id"`
	CreatorID  string `json:"creatorId"`
	Name       string `json:"name"`
	ExternalID string `json:"externalId,omitempty"`
	MinTier    int    `json:"minTier"`
}

// EligibleFor reports whether a supporter at tier may join the channel.
func (c CommunityChannel) EligibleFor(tier int) bool {
	return c.MinTier <= tier
}

// TierOverview groups a creator's channels under the tier that unlocks them.
type TierOverview struct {
	Level    int                `json:"level"`
	Channels []CommunityChannel `json:"channels"`
}

// GroupChannelsByTier returns one overview per distinct minimum tier, lowest first.
func GroupChannelsByTier(channels []CommunityChannel) []TierOverview {
	byTier := make(map[int][]CommunityChannel)
	for _, c := range channels {
		byTier[c.MinTier] = append(byTier[c.MinTier], c)
	}
	levels := make([]int, 0, len(byTier))
	for level := range byTier {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	out := make([]TierOverview, 0, len(levels))
	for _, level := range levels {
		out = append(out, TierOverview{Level: level, Channels: byTier[level]})
	}
	return out
}
