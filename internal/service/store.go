package service

import (
	"context"
	"time"

	"github.com/supportly/backend/internal/domain"
)

// LifecycleStore is the store of record the lifecycle transitions run against.
// Implemented by repository.SubscriptionRepository and memory.Store.
type LifecycleStore interface {
	CommitPayment(ctx context.Context, p domain.PaymentCommit) (*domain.PaymentCommitResult, error)
	EndSubscription(ctx context.Context, sub *domain.Subscription, status domain.SubscriptionStatus, at time.Time, reason string) (bool, error)
	ClaimReminder(ctx context.Context, subscriptionID string, periodEnd time.Time, threshold int, at time.Time) (bool, error)

	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	LatestSubscription(ctx context.Context, supporterID, creatorID string) (*domain.Subscription, error)
	ListSubscriptionsByStatus(ctx context.Context, status domain.SubscriptionStatus, afterID string, limit int) ([]domain.Subscription, error)

	FindSupporter(ctx context.Context, supporterID, creatorID string) (*domain.Supporter, error)
	DeactivateSupporter(ctx context.Context, supporterID, creatorID string, at time.Time) (bool, error)
	SetNotificationsMuted(ctx context.Context, supporterID, creatorID string, muted bool) error

	CreatePendingTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransaction(ctx context.Context, key string) (*domain.Transaction, error)
	FailTransaction(ctx context.Context, key, rawPayload string) error
}

// OutcomeStore keeps confirmPayment results for replay.
type OutcomeStore interface {
	GetOutcome(ctx context.Context, key string) (*domain.ConfirmPaymentResult, error)
	SaveOutcome(ctx context.Context, key string, res *domain.ConfirmPaymentResult) error
}

// ChannelDirectory lists a creator's tier-gated channels and records the chat-side
// ID of channels created on demand.
type ChannelDirectory interface {
	ListCreatorChannels(ctx context.Context, creatorID string) ([]domain.CommunityChannel, error)
	SetChannelExternalID(ctx context.Context, channelID, externalID string) error
}

// UserDirectory resolves user contact details.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// PreferenceStore answers whether a pair opted out of lifecycle emails.
type PreferenceStore interface {
	NotificationsMuted(ctx context.Context, supporterID, creatorID string) (bool, error)
}

// OutboxStore is the durable retry queue for notifications.
type OutboxStore interface {
	EnqueueNotification(ctx context.Context, msg *domain.OutboxMessage) (int64, error)
	ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxMessage, error)
	MarkNotificationSent(ctx context.Context, id int64, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id int64, next time.Time, lastErr string, dead bool) error
}

// StatsStore backs the admin overview.
type StatsStore interface {
	CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error)
	CountActiveSupporters(ctx context.Context) (int, error)
	SumCompletedAmount(ctx context.Context) (float64, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error)
}

// MembershipSyncer reconciles community channel membership.
type MembershipSyncer interface {
	SyncSupporterToChannels(ctx context.Context, supporterID, creatorID string, tier, previousTier int) *domain.MembershipResult
	RemoveSupporterFromChannels(ctx context.Context, supporterID, creatorID string) *domain.MembershipResult
}

// Notifier sends a lifecycle email and reports the immediate outcome.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification) *domain.NotificationResult
}
