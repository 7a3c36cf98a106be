package domain

import "time"

// ChannelFailure records a channel add/remove that still failed after retries.
type ChannelFailure struct {
	ChannelID string `json:"channelId"`
	Channel   string `json:"channel"`
	Op        string `json:"op"`
	Error     string `json:"error"`
}

// MembershipResult reports a community membership reconciliation.
// Partial success is a normal outcome: Failed lists what did not converge.
type MembershipResult struct {
	AddedTo       []string         `json:"addedTo"`
	AlreadyMember []string         `json:"alreadyMember,omitempty"`
	RemovedFrom   []string         `json:"removedFrom"`
	Failed        []ChannelFailure `json:"failed,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// OK reports whether every channel operation converged.
func (r *MembershipResult) OK() bool {
	return r != nil && r.Error == "" && len(r.Failed) == 0
}

// NotificationResult reports the immediate outcome of a lifecycle email.
type NotificationResult struct {
	Kind       NotificationKind `json:"kind"`
	Sent       bool             `json:"sent"`
	Queued     bool             `json:"queued"`
	Suppressed bool             `json:"suppressed"`
	Error      string           `json:"error,omitempty"`
}

// OK reports whether the email was delivered, queued for retry or deliberately skipped.
func (r *NotificationResult) OK() bool {
	return r != nil && (r.Sent || r.Queued || r.Suppressed)
}

// ConfirmPaymentResult is returned by the payment confirmation transition.
// Success reflects the billing fact only; side-effect failures are in Warnings.
type ConfirmPaymentResult struct {
	Success        bool                `json:"success"`
	TransactionKey string              `json:"transactionKey"`
	SubscriptionID string              `json:"subscriptionId"`
	Transition     RenewalKind         `json:"transition,omitempty"`
	TierLevel      int                 `json:"tierLevel"`
	PeriodEnd      time.Time           `json:"periodEnd"`
	Replayed       bool                `json:"replayed"`
	Membership     *MembershipResult   `json:"membershipResult,omitempty"`
	Notification   *NotificationResult `json:"notificationResult,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
}

// CancelOptions selects which side effects a cancellation performs.
type CancelOptions struct {
	CancelGatewaySubscription bool   `json:"cancelGatewaySubscription"`
	RemoveFromChannels        bool   `json:"removeFromChannels"`
	DisableEmailNotifications bool   `json:"disableEmailNotifications"`
	Reason                    string `json:"reason" validate:"max=500"`
}

// CancelResult is returned by the cancellation transition.
// Success is false only when the authoritative state change failed.
type CancelResult struct {
	Success               bool                `json:"success"`
	SupporterWasActive    bool                `json:"supporterWasActive"`
	SubscriptionCancelled bool                `json:"subscriptionCancelled"`
	SubscriptionID        string              `json:"subscriptionId,omitempty"`
	GatewayCancelled      bool                `json:"gatewayCancelled"`
	ChannelsRemovedFrom   []string            `json:"channelsRemovedFrom"`
	Membership            *MembershipResult   `json:"membershipResult,omitempty"`
	Notification          *NotificationResult `json:"notificationResult,omitempty"`
	Warnings              []string            `json:"warnings,omitempty"`
	Error                 string              `json:"error,omitempty"`
}

// Sweep actions.
const (
	SweepExpired  = "expired"
	SweepReminder = "reminder"
	SweepSkipped  = "skipped"
)

// SweepDetail describes what the sweep did with one subscription.
type SweepDetail struct {
	SubscriptionID  string   `json:"subscriptionId"`
	SupporterID     string   `json:"supporterId"`
	CreatorID       string   `json:"creatorId"`
	DaysUntilExpiry int      `json:"daysUntilExpiry"`
	Action          string   `json:"action"`
	Threshold       int      `json:"threshold,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// SweepError records a subscription the sweep could not process.
type SweepError struct {
	SubscriptionID string `json:"subscriptionId"`
	Error          string `json:"error"`
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Checked       int           `json:"checked"`
	RemindersSent int           `json:"remindersSent"`
	Expired       int           `json:"expired"`
	Details       []SweepDetail `json:"details"`
	Errors        []SweepError  `json:"errors"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
}
