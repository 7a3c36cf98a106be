// Package memory is an in-process implementation of the subscription store.
// It keeps the same transactional guarantees as the PostgreSQL store by holding
// one lock for the whole of each write.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/repository"
)

type pairKey struct {
	supporterID string
	creatorID   string
}

type reminderKey struct {
	subscriptionID string
	periodEnd      int64
	threshold      int
}

// Store holds subscriptions, supporters, transactions, channels, preferences,
// the notification outbox and replayable outcomes.
type Store struct {
	mu sync.Mutex

	subscriptions map[string]*domain.Subscription
	supporters    map[pairKey]*domain.Supporter
	transactions  map[string]*domain.Transaction
	reminders     map[reminderKey]time.Time
	muted         map[pairKey]bool
	channels      map[string]*domain.CommunityChannel
	outbox        []*outboxRow
	outcomes      map[string][]byte
	nextOutboxID  int64
}

type outboxRow struct {
	msg         domain.OutboxMessage
	lockedUntil time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		subscriptions: make(map[string]*domain.Subscription),
		supporters:    make(map[pairKey]*domain.Supporter),
		transactions:  make(map[string]*domain.Transaction),
		reminders:     make(map[reminderKey]time.Time),
		muted:         make(map[pairKey]bool),
		channels:      make(map[string]*domain.CommunityChannel),
		outcomes:      make(map[string][]byte),
	}
}

// withReminders returns a copy of sub carrying the reminders of its current period.
func (s *Store) withReminders(sub *domain.Subscription) *domain.Subscription {
	c := sub.Clone()
	c.RemindersSent = nil
	for k, at := range s.reminders {
		if k.subscriptionID == sub.ID && k.periodEnd == sub.CurrentPeriodEnd.UnixNano() {
			if c.RemindersSent == nil {
				c.RemindersSent = make(map[int]time.Time)
			}
			c.RemindersSent[k.threshold] = at
		}
	}
	return c
}

func (s *Store) activeFor(supporterID, creatorID string) *domain.Subscription {
	for _, sub := range s.subscriptions {
		if sub.SupporterID == supporterID && sub.CreatorID == creatorID && sub.Status == domain.StatusActive {
			return sub
		}
	}
	return nil
}

// GetSubscription returns a subscription by ID, or nil.
func (s *Store) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return s.withReminders(sub), nil
}

// LatestSubscription returns the pair's active subscription, or else its most recent one.
func (s *Store) LatestSubscription(_ context.Context, supporterID, creatorID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub := s.activeFor(supporterID, creatorID); sub != nil {
		return s.withReminders(sub), nil
	}
	var latest *domain.Subscription
	for _, sub := range s.subscriptions {
		if sub.SupporterID != supporterID || sub.CreatorID != creatorID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, nil
	}
	return s.withReminders(latest), nil
}

// ListSubscriptionsByStatus pages through subscriptions with status ordered by ID.
func (s *Store) ListSubscriptionsByStatus(_ context.Context, status domain.SubscriptionStatus, afterID string, limit int) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == status && sub.ID > afterID {
			out = append(out, *s.withReminders(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpiringBetween returns active subscriptions whose period ends in [from, to).
func (s *Store) ListExpiringBetween(_ context.Context, from, to time.Time) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range s.subscriptions {
		end := sub.CurrentPeriodEnd
		if sub.Status == domain.StatusActive && !end.Before(from) && end.Before(to) {
			out = append(out, *s.withReminders(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd) })
	return out, nil
}

// CountSubscriptionsByStatus returns the number of subscriptions per stored status.
func (s *Store) CountSubscriptionsByStatus(_ context.Context) (map[domain.SubscriptionStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.SubscriptionStatus]int)
	for _, sub := range s.subscriptions {
		counts[sub.Status]++
	}
	return counts, nil
}

// CommitPayment applies a confirmed payment atomically.
func (s *Store) CommitPayment(_ context.Context, p domain.PaymentCommit) (*domain.PaymentCommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[p.TransactionKey]
	if ok && txn.Status == domain.TransactionCompleted {
		res := &domain.PaymentCommitResult{Replayed: true, Transaction: *txn}
		if txn.SubscriptionID != nil {
			if sub, ok := s.subscriptions[*txn.SubscriptionID]; ok {
				res.Subscription = *s.withReminders(sub)
			}
		}
		return res, nil
	}

	var active *domain.Subscription
	if a := s.activeFor(p.SupporterID, p.CreatorID); a != nil {
		active = a.Clone()
	}
	pair := pairKey{p.SupporterID, p.CreatorID}
	supporter := s.supporters[pair]
	wasActive := supporter != nil && supporter.Active

	plan := domain.PlanRenewal(active, p, uuid.NewString())
	switch plan.Kind {
	case domain.RenewalRenewed:
		plan.Next.Version = active.Version + 1
	case domain.RenewalSuperseded:
		old := plan.Superseded.Clone()
		old.Version++
		s.subscriptions[old.ID] = old
		plan.Next.Version = 1
	default:
		plan.Next.Version = 1
	}
	next := plan.Next.Clone()
	next.RemindersSent = nil
	s.subscriptions[next.ID] = next

	if !ok {
		txn = &domain.Transaction{
			Key:         p.TransactionKey,
			SupporterID: p.SupporterID,
			CreatorID:   p.CreatorID,
			Currency:    p.Currency,
			Gateway:     p.Gateway,
			Recurring:   p.AutoRenew,
			CreatedAt:   p.At,
		}
		s.transactions[p.TransactionKey] = txn
	}
	subID := next.ID
	txn.SubscriptionID = &subID
	txn.Status = domain.TransactionCompleted
	txn.TierLevel = p.TierLevel
	txn.Amount = p.Amount
	txn.RawPayload = p.RawPayload
	txn.UpdatedAt = p.At
	if p.ExternalRef != "" {
		txn.ExternalRef = p.ExternalRef
	}

	s.supporters[pair] = &domain.Supporter{
		SupporterID: p.SupporterID,
		CreatorID:   p.CreatorID,
		TierLevel:   p.TierLevel,
		Active:      true,
		Amount:      p.Amount,
		UpdatedAt:   p.At,
	}

	return &domain.PaymentCommitResult{
		Transaction:        *txn,
		Subscription:       *next,
		Kind:               plan.Kind,
		PreviousTier:       plan.PreviousTier,
		SupporterWasActive: wasActive,
		Superseded:         plan.Superseded,
	}, nil
}

// EndSubscription moves an active subscription to a terminal status and deactivates
// the pair's supporter record.
func (s *Store) EndSubscription(_ context.Context, sub *domain.Subscription, status domain.SubscriptionStatus, at time.Time, reason string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot end subscription with status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subscriptions[sub.ID]
	if !ok || cur.Status != domain.StatusActive || cur.Version != sub.Version {
		return false, repository.ErrVersionConflict
	}
	cur.Status = status
	cur.CancelReason = reason
	cur.UpdatedAt = at
	cur.Version++
	if status == domain.StatusCancelled {
		t := at
		cur.CancelledAt = &t
	}
	return s.deactivateLocked(sub.SupporterID, sub.CreatorID, at), nil
}

func (s *Store) deactivateLocked(supporterID, creatorID string, at time.Time) bool {
	sup, ok := s.supporters[pairKey{supporterID, creatorID}]
	if !ok {
		return false
	}
	wasActive := sup.Active
	if wasActive && s.activeFor(supporterID, creatorID) == nil {
		sup.Active = false
		sup.UpdatedAt = at
	}
	return wasActive
}

// ClaimReminder records the reminder for threshold in the subscription's current period.
// Only the first caller gets true.
func (s *Store) ClaimReminder(_ context.Context, subscriptionID string, periodEnd time.Time, threshold int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok || sub.Status != domain.StatusActive || !sub.CurrentPeriodEnd.Equal(periodEnd) {
		return false, nil
	}
	key := reminderKey{subscriptionID, periodEnd.UnixNano(), threshold}
	if _, done := s.reminders[key]; done {
		return false, nil
	}
	s.reminders[key] = at
	return true, nil
}

// FindSupporter returns the pair's entitlement record, or nil.
func (s *Store) FindSupporter(_ context.Context, supporterID, creatorID string) (*domain.Supporter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.supporters[pairKey{supporterID, creatorID}]
	if !ok {
		return nil, nil
	}
	c := *sup
	return &c, nil
}

// PutSupporter stores an entitlement record as is.
func (s *Store) PutSupporter(sup domain.Supporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supporters[pairKey{sup.SupporterID, sup.CreatorID}] = &sup
}

// PutSubscription stores a subscription as is, for seeding.
func (s *Store) PutSubscription(sub domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Version == 0 {
		sub.Version = 1
	}
	s.subscriptions[sub.ID] = sub.Clone()
}

// DeactivateSupporter clears the pair's entitlement when no active subscription covers it.
func (s *Store) DeactivateSupporter(_ context.Context, supporterID, creatorID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(supporterID, creatorID, at), nil
}

// CountActiveSupporters returns the number of entitled pairs.
func (s *Store) CountActiveSupporters(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sup := range s.supporters {
		if sup.Active {
			n++
		}
	}
	return n, nil
}

// SetNotificationsMuted stores the pair's email preference.
func (s *Store) SetNotificationsMuted(_ context.Context, supporterID, creatorID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[pairKey{supporterID, creatorID}] = muted
	return nil
}

// NotificationsMuted reports whether the pair opted out of lifecycle emails.
func (s *Store) NotificationsMuted(_ context.Context, supporterID, creatorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted[pairKey{supporterID, creatorID}], nil
}

// CreatePendingTransaction records a payment attempt.
func (s *Store) CreatePendingTransaction(_ context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[t.Key]; ok {
		return domain.ErrConflict("transaction key already used")
	}
	c := *t
	c.Status = domain.TransactionPending
	c.UpdatedAt = c.CreatedAt
	s.transactions[t.Key] = &c
	return nil
}

// GetTransaction returns the transaction for key, or nil.
func (s *Store) GetTransaction(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[key]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// FailTransaction marks a pending transaction failed.
func (s *Store) FailTransaction(_ context.Context, key, rawPayload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transactions[key]; ok && t.Status == domain.TransactionPending {
		t.Status = domain.TransactionFailed
		t.RawPayload = rawPayload
		t.UpdatedAt = time.Now()
	}
	return nil
}

// SumCompletedAmount totals completed transactions.
func (s *Store) SumCompletedAmount(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, t := range s.transactions {
		if t.Status == domain.TransactionCompleted {
			total += t.Amount
		}
	}
	return total, nil
}
