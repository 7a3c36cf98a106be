package domain

import "time"

// BillingCycle is the length of one paid period.
type BillingCycle struct {
	Months int
	Days   int
}

// MonthlyCycle is the default billing cycle.
var MonthlyCycle = BillingCycle{Months: 1}

// Add returns t advanced by one cycle.
func (c BillingCycle) Add(t time.Time) time.Time {
	if c.Months == 0 && c.Days == 0 {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, c.Months, c.Days)
}

// PaymentCommit carries everything the store needs to apply a confirmed payment.
type PaymentCommit struct {
	TransactionKey         string
	SupporterID            string
	CreatorID              string
	TierLevel              int
	Amount                 float64
	Currency               string
	Gateway                string
	ExternalRef            string
	ExternalSubscriptionID string
	RawPayload             string
	AutoRenew              bool
	At                     time.Time
	Cycle                  BillingCycle
}

// RenewalKind describes which subscription transition a payment caused.
type RenewalKind string

const (
	RenewalCreated    RenewalKind = "created"
	RenewalRenewed    RenewalKind = "renewed"
	RenewalSuperseded RenewalKind = "superseded"
)

// SupersededReason is stamped on a subscription replaced by a payment at another tier.
const SupersededReason = "superseded"

// RenewalPlan is the write set for a confirmed payment.
type RenewalPlan struct {
	Kind RenewalKind
	// Next is inserted when Kind is created or superseded, updated in place when renewed.
	Next Subscription
	// Superseded is the prior active row to end, set only when Kind is superseded.
	Superseded   *Subscription
	PreviousTier int
}

// PlanRenewal decides how a confirmed payment applies to the pair's current active
// subscription. Same tier extends the period by one cycle; a different tier supersedes
// the old row with a fresh period; no active row creates one.
func PlanRenewal(active *Subscription, p PaymentCommit, newID string) RenewalPlan {
	var extSub *string
	if p.ExternalSubscriptionID != "" {
		v := p.ExternalSubscriptionID
		extSub = &v
	}

	if active != nil && active.Status == StatusActive && active.TierLevel == p.TierLevel {
		next := *active.Clone()
		base := next.CurrentPeriodEnd
		if base.Before(p.At) {
			base = p.At
		}
		next.CurrentPeriodStart = base
		next.CurrentPeriodEnd = p.Cycle.Add(base)
		next.RenewalCount++
		next.Amount = p.Amount
		if p.Currency != "" {
			next.Currency = p.Currency
		}
		if extSub != nil {
			next.ExternalSubscriptionID = extSub
		}
		next.Gateway = p.Gateway
		next.AutoRenew = p.AutoRenew
		next.RemindersSent = nil
		next.UpdatedAt = p.At
		return RenewalPlan{Kind: RenewalRenewed, Next: next, PreviousTier: active.TierLevel}
	}

	next := Subscription{
		ID:                     newID,
		SupporterID:            p.SupporterID,
		CreatorID:              p.CreatorID,
		TierLevel:              p.TierLevel,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		Gateway:                p.Gateway,
		ExternalSubscriptionID: extSub,
		Status:                 StatusActive,
		CurrentPeriodStart:     p.At,
		CurrentPeriodEnd:       p.Cycle.Add(p.At),
		AutoRenew:              p.AutoRenew,
		CreatedAt:              p.At,
		UpdatedAt:              p.At,
	}

	if active != nil && active.Status == StatusActive {
		old := active.Clone()
		at := p.At
		old.Status = StatusCancelled
		old.CancelledAt = &at
		old.CancelReason = SupersededReason
		old.UpdatedAt = p.At
		return RenewalPlan{Kind: RenewalSuperseded, Next: next, Superseded: old, PreviousTier: active.TierLevel}
	}

	return RenewalPlan{Kind: RenewalCreated, Next: next}
}

// PaymentCommitResult is what the store reports after applying a payment.
type PaymentCommitResult struct {
	Replayed           bool
	Transaction        Transaction
	Subscription       Subscription
	Kind               RenewalKind
	PreviousTier       int
	SupporterWasActive bool
	// Superseded is the row this payment replaced, set only when Kind is superseded.
	Superseded *Subscription
}
