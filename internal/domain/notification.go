package domain

import "time"

// NotificationKind identifies a lifecycle email template.
type NotificationKind string

const (
	NotifyWelcome         NotificationKind = "welcome"
	NotifyRenewal         NotificationKind = "renewal"
	NotifyRenewalReminder NotificationKind = "renewal_reminder"
	NotifyExpired         NotificationKind = "expired"
	NotifyCancellation    NotificationKind = "cancellation"
)

// Notification is a lifecycle email addressed to a supporter about a creator.
type Notification struct {
	Kind           NotificationKind       `json:"kind"`
	SupporterID    string                 `json:"supporterId"`
	CreatorID      string                 `json:"creatorId"`
	SubscriptionID string                 `json:"subscriptionId,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// OutboxStatus is the delivery state of a queued notification.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxMessage is a notification waiting for asynchronous delivery.
type OutboxMessage struct {
	ID            int64                  `json:"id"`
	Kind          NotificationKind       `json:"kind"`
	Recipient     string                 `json:"recipient"`
	Data          map[string]interface{} `json:"data"`
	Attempts      int                    `json:"attempts"`
	Status        OutboxStatus           `json:"status"`
	LastError     string                 `json:"lastError,omitempty"`
	NextAttemptAt time.Time              `json:"nextAttemptAt"`
	CreatedAt     time.Time              `json:"createdAt"`
}
