package domain

import (
	"math"
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscription.
// Only active, expired and cancelled are stored; expiring_soon is derived.
type SubscriptionStatus string

const (
	StatusActive       SubscriptionStatus = "active"
	StatusExpiringSoon SubscriptionStatus = "expiring_soon"
	StatusExpired      SubscriptionStatus = "expired"
	StatusCancelled    SubscriptionStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition applies.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// Subscription represents one supporter's paid relationship to one creator at one tier.
type Subscription struct {
	ID                     string             `json:"id"`
	SupporterID            string             `json:"supporterId"`
	CreatorID              string             `json:"creatorId"`
	TierLevel              int                `json:"tierLevel"`
	Amount                 float64            `json:"amount"`
	Currency               string             `json:"currency"`
	Gateway                string             `json:"gateway"`
	ExternalSubscriptionID *string            `json:"externalSubscriptionId,omitempty"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time          `json:"currentPeriodEnd"`
	AutoRenew              bool               `json:"autoRenew"`
	RenewalCount           int                `json:"renewalCount"`
	CancelledAt            *time.Time         `json:"cancelledAt,omitempty"`
	CancelReason           string             `json:"cancelReason,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`

	// RemindersSent holds the reminders already delivered for the current period,
	// keyed by threshold in days.
	RemindersSent map[int]time.Time `json:"remindersSent,omitempty"`

	// Version guards conditional updates (optimistic concurrency).
	Version int64 `json:"-"`
}

// DaysUntilExpiry returns floor((currentPeriodEnd - now) / 1 day).
func (s *Subscription) DaysUntilExpiry(now time.Time) int {
	return int(math.Floor(s.CurrentPeriodEnd.Sub(now).Hours() / 24))
}

// DerivedStatus returns the status as shown to callers: an active subscription whose
// period ends within window days is reported as expiring_soon.
func (s *Subscription) DerivedStatus(now time.Time, window int) SubscriptionStatus {
	if s.Status != StatusActive {
		return s.Status
	}
	if s.DaysUntilExpiry(now) <= window {
		return StatusExpiringSoon
	}
	return StatusActive
}

// ReminderSent reports whether the reminder for the given threshold went out this period.
func (s *Subscription) ReminderSent(threshold int) bool {
	_, ok := s.RemindersSent[threshold]
	return ok
}

// HasExternalSubscription reports whether the gateway holds a recurring subscription for this row.
func (s *Subscription) HasExternalSubscription() bool {
	return s.ExternalSubscriptionID != nil && *s.ExternalSubscriptionID != ""
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.ExternalSubscriptionID != nil {
		v := *s.ExternalSubscriptionID
		c.ExternalSubscriptionID = &v
	}
	if s.CancelledAt != nil {
		v := *s.CancelledAt
		c.CancelledAt = &v
	}
	if s.RemindersSent != nil {
		c.RemindersSent = make(map[int]time.Time, len(s.RemindersSent))
		for k, v := range s.RemindersSent {
			c.RemindersSent[k] = v
		}
	}
	return &c
}

// SubscriptionView is the API response for a subscription, with the derived status applied.
type SubscriptionView struct {
	Subscription
	DisplayStatus   SubscriptionStatus `json:"displayStatus"`
	DaysUntilExpiry int                `json:"daysUntilExpiry"`
}

// NewSubscriptionView builds the API view at the given instant.
func NewSubscriptionView(s *Subscription, now time.Time, window int) *SubscriptionView {
	return &SubscriptionView{
		Subscription:    *s,
		DisplayStatus:   s.DerivedStatus(now, window),
		DaysUntilExpiry: s.DaysUntilExpiry(now),
	}
}
