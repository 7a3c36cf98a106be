package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
	"github.com/supportly/backend/internal/repository"
	"github.com/supportly/backend/pkg/payment"
	"golang.org/x/sync/errgroup"
)

const (
	maxTransitionAttempts = 3
	defaultSweepPageSize  = 200
	expiredReason         = "billing period ended"
	periodEndLayout       = "2 January 2006"
)

// GatewayResolver selects a payment adapter by its stored identifier.
type GatewayResolver interface {
	Get(name string) (payment.Gateway, error)
}

// PayloadSealer encrypts raw gateway payloads before they are stored with their transaction.
type PayloadSealer interface {
	Seal(txnKey string, payload []byte) (string, error)
}

// LifecycleConfig holds the lifecycle rules.
type LifecycleConfig struct {
	Cycle domain.BillingCycle
	// ReminderDays are the reminder thresholds in days before expiry.
	ReminderDays           []int
	ExpiringSoonDays       int
	SweepConcurrency       int
	SweepPageSize          int
	RemoveChannelsOnExpiry bool
	ExternalCallTimeout    time.Duration
}

// PaymentConfirmation is a verified payment ready to be applied.
type PaymentConfirmation struct {
	TransactionKey         string
	SupporterID            string
	CreatorID              string
	TierLevel              int
	Amount                 float64
	Currency               string
	Gateway                string
	ExternalRef            string
	ExternalSubscriptionID string
	Recurring              bool
	RawPayload             []byte
}

// ConfirmationFromVerification builds the confirmation for a verified gateway callback.
func ConfirmationFromVerification(gateway string, v payment.Verification, raw []byte) PaymentConfirmation {
	pc := PaymentConfirmation{
		TransactionKey:         v.TransactionKey,
		Amount:                 v.Amount,
		Currency:               v.Currency,
		Gateway:                gateway,
		ExternalRef:            v.ExternalRef,
		ExternalSubscriptionID: v.ExternalSubscriptionID,
		RawPayload:             raw,
	}
	if v.Expected != nil {
		pc.SupporterID = v.Expected.SupporterID
		pc.CreatorID = v.Expected.CreatorID
		pc.TierLevel = v.Expected.TierLevel
		pc.Recurring = v.Expected.Recurring
		if pc.Currency == "" {
			pc.Currency = v.Expected.Currency
		}
	}
	return pc
}

// LifecycleService runs the subscription lifecycle transitions. Each transition commits
// the authoritative store change first and then fans out to membership sync and
// notifications, whose failures are reported in the result rather than returned.
type LifecycleService struct {
	store      LifecycleStore
	outcomes   OutcomeStore
	gateways   GatewayResolver
	membership MembershipSyncer
	notifier   Notifier
	sealer     PayloadSealer
	cfg        LifecycleConfig
	now        func() time.Time
}

// NewLifecycleService creates a LifecycleService. sealer may be nil, in which case raw
// gateway payloads are not persisted.
func NewLifecycleService(
	store LifecycleStore,
	outcomes OutcomeStore,
	gateways GatewayResolver,
	membership MembershipSyncer,
	notifier Notifier,
	sealer PayloadSealer,
	cfg LifecycleConfig,
) *LifecycleService {
	if cfg.Cycle == (domain.BillingCycle{}) {
		cfg.Cycle = domain.MonthlyCycle
	}
	if len(cfg.ReminderDays) == 0 {
		cfg.ReminderDays = []int{2, 1}
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	if cfg.SweepPageSize <= 0 {
		cfg.SweepPageSize = defaultSweepPageSize
	}
	if cfg.ExternalCallTimeout <= 0 {
		cfg.ExternalCallTimeout = 10 * time.Second
	}
	return &LifecycleService{
		store:      store,
		outcomes:   outcomes,
		gateways:   gateways,
		membership: membership,
		notifier:   notifier,
		sealer:     sealer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Expectation returns what was recorded for a transaction key before its callback
// arrived. It is the lookup gateway adapters verify callbacks against.
func (s *LifecycleService) Expectation(ctx context.Context, key string) (*payment.Expected, error) {
	txn, err := s.store.GetTransaction(ctx, key)
	if err != nil || txn == nil {
		return nil, err
	}
	return &payment.Expected{
		SupporterID: txn.SupporterID,
		CreatorID:   txn.CreatorID,
		TierLevel:   txn.TierLevel,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Recurring:   txn.Recurring,
	}, nil
}

func (s *LifecycleService) seal(key string, raw []byte) string {
	if s.sealer == nil || len(raw) == 0 {
		return ""
	}
	sealed, err := s.sealer.Seal(key, raw)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to seal gateway payload, storing none")
		return ""
	}
	return sealed
}

// RejectPayment marks a pending transaction failed after the gateway reported a
// definitive payment failure.
func (s *LifecycleService) RejectPayment(ctx context.Context, gateway, key string, raw []byte) error {
	if err := s.store.FailTransaction(ctx, key, s.seal(key, raw)); err != nil {
		return domain.ErrInternal("failed to record payment failure", err)
	}
	metrics.PaymentConfirmations.WithLabelValues(gateway, "failed").Inc()
	logging.Info().
		Str("event", "payment_failed").
		Str("gateway", gateway).
		Str("transaction_key", key).
		Msg("payment failed at gateway")
	return nil
}

func validateConfirmation(pc PaymentConfirmation) error {
	switch {
	case pc.TransactionKey == "":
		return domain.ErrBadRequest("transaction key is required")
	case pc.SupporterID == "" || pc.CreatorID == "":
		return domain.ErrBadRequest("supporter and creator are required")
	case pc.TierLevel < 1:
		return domain.ErrBadRequest("tier level must be at least 1")
	case pc.Amount <= 0:
		return domain.ErrBadRequest("amount must be positive")
	case pc.Gateway == "":
		return domain.ErrBadRequest("gateway is required")
	}
	return nil
}

// ConfirmPayment applies a verified payment. A transaction key that already completed
// returns the first call's result with Replayed set and changes nothing. An error is
// returned only for bad input or when the store commit failed.
func (s *LifecycleService) ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (*domain.ConfirmPaymentResult, error) {
	if err := validateConfirmation(pc); err != nil {
		return nil, err
	}

	prior, err := s.outcomes.GetOutcome(ctx, pc.TransactionKey)
	if err != nil {
		logging.Warn().Err(err).Str("transaction_key", pc.TransactionKey).Msg("outcome lookup failed")
	}
	if prior != nil {
		prior.Replayed = true
		metrics.PaymentConfirmations.WithLabelValues(pc.Gateway, "replayed").Inc()
		return prior, nil
	}

	now := s.now()
	commit, err := s.store.CommitPayment(ctx, domain.PaymentCommit{
		TransactionKey:         pc.TransactionKey,
		SupporterID:            pc.SupporterID,
		CreatorID:              pc.CreatorID,
		TierLevel:              pc.TierLevel,
		Amount:                 pc.Amount,
		Currency:               pc.Currency,
		Gateway:                pc.Gateway,
		ExternalRef:            pc.ExternalRef,
		ExternalSubscriptionID: pc.ExternalSubscriptionID,
		RawPayload:             s.seal(pc.TransactionKey, pc.RawPayload),
		AutoRenew:              pc.Recurring,
		At:                     now,
		Cycle:                  s.cfg.Cycle,
	})
	if err != nil {
		metrics.PaymentConfirmations.WithLabelValues(pc.Gateway, "error").Inc()
		return nil, domain.ErrInternal("failed to record payment", err)
	}

	sub := commit.Subscription
	res := &domain.ConfirmPaymentResult{
		Success:        true,
		TransactionKey: pc.TransactionKey,
		SubscriptionID: sub.ID,
		Transition:     commit.Kind,
		TierLevel:      sub.TierLevel,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Replayed:       commit.Replayed,
	}

	if commit.Replayed {
		// Completed earlier but its outcome was never saved. Membership sync converges,
		// so it is repeated; the email is not.
		metrics.PaymentConfirmations.WithLabelValues(pc.Gateway, "replayed").Inc()
		if sub.ID != "" && sub.Status == domain.StatusActive {
			res.Membership = s.membership.SyncSupporterToChannels(ctx, sub.SupporterID, sub.CreatorID, sub.TierLevel, 0)
			res.Warnings = append(res.Warnings, membershipWarnings(res.Membership)...)
		}
		return res, nil
	}

	metrics.PaymentConfirmations.WithLabelValues(pc.Gateway, "committed").Inc()
	metrics.LifecycleTransitions.WithLabelValues(string(commit.Kind)).Inc()

	previousTier := 0
	if commit.Kind == domain.RenewalSuperseded {
		previousTier = commit.PreviousTier
		if w := s.cancelSupersededRecurring(ctx, commit.Superseded, pc.ExternalSubscriptionID); w != "" {
			res.Warnings = append(res.Warnings, w)
		}
	}

	res.Membership = s.membership.SyncSupporterToChannels(ctx, pc.SupporterID, pc.CreatorID, sub.TierLevel, previousTier)
	res.Warnings = append(res.Warnings, membershipWarnings(res.Membership)...)

	if commit.Kind == domain.RenewalCreated {
		// An opt-out belongs to the subscription it was set on.
		if err := s.store.SetNotificationsMuted(ctx, pc.SupporterID, pc.CreatorID, false); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("clearing email opt-out failed: %v", err))
		}
	}

	kind := domain.NotifyWelcome
	if commit.Kind == domain.RenewalRenewed {
		kind = domain.NotifyRenewal
	}
	res.Notification = s.notifier.Send(ctx, domain.Notification{
		Kind:           kind,
		SupporterID:    pc.SupporterID,
		CreatorID:      pc.CreatorID,
		SubscriptionID: sub.ID,
		Data: map[string]interface{}{
			"tierLevel": sub.TierLevel,
			"periodEnd": sub.CurrentPeriodEnd.Format(periodEndLayout),
			"channels":  grantedChannels(res.Membership),
		},
	})
	res.Warnings = append(res.Warnings, notificationWarnings(res.Notification)...)

	if err := s.outcomes.SaveOutcome(ctx, pc.TransactionKey, res); err != nil {
		logging.Warn().Err(err).Str("transaction_key", pc.TransactionKey).Msg("failed to save payment outcome")
	}

	logging.Info().
		Str("event", "payment_confirmed").
		Str("transition", string(commit.Kind)).
		Str("gateway", pc.Gateway).
		Str("supporter_id", pc.SupporterID).
		Str("creator_id", pc.CreatorID).
		Str("subscription_id", sub.ID).
		Int("tier", sub.TierLevel).
		Strs("warnings", res.Warnings).
		Msg("payment confirmed")
	return res, nil
}

// cancelSupersededRecurring stops the gateway-side recurring charge of a subscription
// that a payment at another tier just replaced.
func (s *LifecycleService) cancelSupersededRecurring(ctx context.Context, old *domain.Subscription, replacementExternalID string) string {
	if old == nil || !old.HasExternalSubscription() || *old.ExternalSubscriptionID == replacementExternalID {
		return ""
	}
	if err := s.cancelRecurring(ctx, old.Gateway, *old.ExternalSubscriptionID); err != nil {
		metrics.SideEffectFailures.WithLabelValues("gateway").Inc()
		return fmt.Sprintf("stopping superseded recurring charge failed: %v", err)
	}
	return ""
}

// CurrentSubscription returns the pair's latest subscription with its derived status, or nil.
func (s *LifecycleService) CurrentSubscription(ctx context.Context, supporterID, creatorID string) (*domain.SubscriptionView, error) {
	sub, err := s.store.LatestSubscription(ctx, supporterID, creatorID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub == nil {
		return nil, nil
	}
	return domain.NewSubscriptionView(sub, s.now(), s.expiringSoonDays()), nil
}

// Entitlement returns the pair's supporter record, or nil.
func (s *LifecycleService) Entitlement(ctx context.Context, supporterID, creatorID string) (*domain.Supporter, error) {
	sup, err := s.store.FindSupporter(ctx, supporterID, creatorID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load entitlement", err)
	}
	return sup, nil
}

func (s *LifecycleService) expiringSoonDays() int {
	if s.cfg.ExpiringSoonDays > 0 {
		return s.cfg.ExpiringSoonDays
	}
	return s.cfg.ReminderDays[0]
}

// Cancel ends the pair's active subscription and runs the requested side effects.
// Success is false only when the store change failed. Cancelling a pair with nothing
// active succeeds with SubscriptionCancelled false.
func (s *LifecycleService) Cancel(ctx context.Context, supporterID, creatorID string, opts domain.CancelOptions) (*domain.CancelResult, error) {
	if supporterID == "" || creatorID == "" {
		return nil, domain.ErrBadRequest("supporter and creator are required")
	}
	res := &domain.CancelResult{ChannelsRemovedFrom: []string{}}
	now := s.now()
	reason := opts.Reason
	if reason == "" {
		reason = "cancelled by supporter"
	}

	var sub *domain.Subscription
	for attempt := 1; ; attempt++ {
		var err error
		sub, err = s.store.LatestSubscription(ctx, supporterID, creatorID)
		if err != nil {
			res.Error = fmt.Sprintf("failed to load subscription: %v", err)
			return res, nil
		}

		if sub == nil || sub.Status != domain.StatusActive {
			// Nothing to end. Still bring the entitlement flag in line.
			wasActive, err := s.store.DeactivateSupporter(ctx, supporterID, creatorID, now)
			if err != nil {
				res.Error = fmt.Sprintf("failed to deactivate supporter: %v", err)
				return res, nil
			}
			res.SupporterWasActive = wasActive
			break
		}

		wasActive, err := s.store.EndSubscription(ctx, sub, domain.StatusCancelled, now, reason)
		if errors.Is(err, repository.ErrVersionConflict) && attempt < maxTransitionAttempts {
			continue
		}
		if err != nil {
			res.Error = fmt.Sprintf("failed to cancel subscription: %v", err)
			return res, nil
		}
		res.SubscriptionCancelled = true
		res.SupporterWasActive = wasActive
		break
	}
	res.Success = true
	if sub != nil {
		res.SubscriptionID = sub.ID
	}

	if res.SubscriptionCancelled {
		metrics.LifecycleTransitions.WithLabelValues("cancelled").Inc()
		if opts.CancelGatewaySubscription && sub.HasExternalSubscription() {
			if err := s.cancelRecurring(ctx, sub.Gateway, *sub.ExternalSubscriptionID); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("gateway cancellation failed: %v", err))
				metrics.SideEffectFailures.WithLabelValues("gateway").Inc()
			} else {
				res.GatewayCancelled = true
			}
		}
	}

	if opts.RemoveFromChannels {
		res.Membership = s.membership.RemoveSupporterFromChannels(ctx, supporterID, creatorID)
		res.ChannelsRemovedFrom = append(res.ChannelsRemovedFrom, res.Membership.RemovedFrom...)
		res.Warnings = append(res.Warnings, membershipWarnings(res.Membership)...)
	}

	if res.SubscriptionCancelled && !opts.DisableEmailNotifications {
		res.Notification = s.notifier.Send(ctx, domain.Notification{
			Kind:           domain.NotifyCancellation,
			SupporterID:    supporterID,
			CreatorID:      creatorID,
			SubscriptionID: sub.ID,
			Data: map[string]interface{}{
				"tierLevel": sub.TierLevel,
				"periodEnd": sub.CurrentPeriodEnd.Format(periodEndLayout),
				"reason":    opts.Reason,
			},
		})
		res.Warnings = append(res.Warnings, notificationWarnings(res.Notification)...)
	}

	if opts.DisableEmailNotifications {
		if err := s.store.SetNotificationsMuted(ctx, supporterID, creatorID, true); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to disable notifications: %v", err))
			metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		}
	}

	logging.Info().
		Str("event", "subscription_cancelled").
		Str("supporter_id", supporterID).
		Str("creator_id", creatorID).
		Str("subscription_id", res.SubscriptionID).
		Bool("cancelled", res.SubscriptionCancelled).
		Bool("gateway_cancelled", res.GatewayCancelled).
		Strs("warnings", res.Warnings).
		Msg("cancel processed")
	return res, nil
}

func (s *LifecycleService) cancelRecurring(ctx context.Context, gatewayName, externalID string) error {
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	start := time.Now()
	err = gw.CancelRecurring(callCtx, externalID)
	metrics.ExternalCallDuration.WithLabelValues(gatewayName, "cancel_recurring").Observe(time.Since(start).Seconds())
	return err
}

// reminderThreshold returns the most urgent reminder threshold that days has reached:
// the smallest configured t with t >= days.
func (s *LifecycleService) reminderThreshold(days int) (int, bool) {
	best, found := 0, false
	for _, t := range s.cfg.ReminderDays {
		if t >= days && (!found || t < best) {
			best, found = t, true
		}
	}
	return best, found
}

// SweepExpirations expires every active subscription whose period has ended and sends
// the due renewal reminders. Subscriptions are processed independently with bounded
// concurrency; a failure on one is recorded in Errors and the sweep carries on.
// An error is returned only when the active set could not be listed.
func (s *LifecycleService) SweepExpirations(ctx context.Context, now time.Time) (*domain.SweepResult, error) {
	start := time.Now()
	res := &domain.SweepResult{
		Details:   []domain.SweepDetail{},
		Errors:    []domain.SweepError{},
		StartedAt: now,
	}
	defer func() {
		metrics.SweepRuns.Inc()
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var mu sync.Mutex
	afterID := ""
	for {
		page, err := s.store.ListSubscriptionsByStatus(ctx, domain.StatusActive, afterID, s.cfg.SweepPageSize)
		if err != nil {
			res.FinishedAt = s.now()
			return res, fmt.Errorf("failed to list active subscriptions: %w", err)
		}
		if len(page) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.SweepConcurrency)
		for i := range page {
			sub := page[i]
			g.Go(func() error {
				detail, err := s.sweepOne(ctx, &sub, now)
				mu.Lock()
				defer mu.Unlock()
				res.Checked++
				if err != nil {
					res.Errors = append(res.Errors, domain.SweepError{SubscriptionID: sub.ID, Error: err.Error()})
					metrics.SweepActions.WithLabelValues("error").Inc()
					return nil
				}
				metrics.SweepActions.WithLabelValues(detail.Action).Inc()
				switch detail.Action {
				case domain.SweepExpired:
					res.Expired++
				case domain.SweepReminder:
					res.RemindersSent++
				}
				if detail.Action != domain.SweepSkipped {
					res.Details = append(res.Details, detail)
				}
				return nil
			})
		}
		_ = g.Wait()

		afterID = page[len(page)-1].ID
		if len(page) < s.cfg.SweepPageSize || ctx.Err() != nil {
			break
		}
	}

	res.FinishedAt = s.now()
	logging.Info().
		Str("event", "expiry_sweep").
		Int("checked", res.Checked).
		Int("reminders_sent", res.RemindersSent).
		Int("expired", res.Expired).
		Int("errors", len(res.Errors)).
		Dur("took", time.Since(start)).
		Msg("expiry sweep finished")
	return res, nil
}

func (s *LifecycleService) sweepOne(ctx context.Context, sub *domain.Subscription, now time.Time) (domain.SweepDetail, error) {
	for attempt := 1; ; attempt++ {
		detail := domain.SweepDetail{
			SubscriptionID:  sub.ID,
			SupporterID:     sub.SupporterID,
			CreatorID:       sub.CreatorID,
			DaysUntilExpiry: sub.DaysUntilExpiry(now),
			Action:          domain.SweepSkipped,
		}

		if detail.DaysUntilExpiry > 0 {
			return s.remind(ctx, sub, now, detail)
		}

		err := s.expire(ctx, sub, now, &detail)
		if !errors.Is(err, repository.ErrVersionConflict) {
			return detail, err
		}
		if attempt >= maxTransitionAttempts {
			return detail, fmt.Errorf("subscription changed concurrently: %w", err)
		}
		fresh, gerr := s.store.GetSubscription(ctx, sub.ID)
		if gerr != nil {
			return detail, gerr
		}
		if fresh == nil || fresh.Status != domain.StatusActive {
			return detail, nil
		}
		sub = fresh
	}
}

func (s *LifecycleService) expire(ctx context.Context, sub *domain.Subscription, now time.Time, detail *domain.SweepDetail) error {
	if _, err := s.store.EndSubscription(ctx, sub, domain.StatusExpired, now, expiredReason); err != nil {
		return err
	}
	detail.Action = domain.SweepExpired
	metrics.LifecycleTransitions.WithLabelValues("expired").Inc()

	if s.cfg.RemoveChannelsOnExpiry {
		m := s.membership.RemoveSupporterFromChannels(ctx, sub.SupporterID, sub.CreatorID)
		detail.Warnings = append(detail.Warnings, membershipWarnings(m)...)
	}

	n := s.notifier.Send(ctx, domain.Notification{
		Kind:           domain.NotifyExpired,
		SupporterID:    sub.SupporterID,
		CreatorID:      sub.CreatorID,
		SubscriptionID: sub.ID,
		Data: map[string]interface{}{
			"tierLevel": sub.TierLevel,
			"periodEnd": sub.CurrentPeriodEnd.Format(periodEndLayout),
		},
	})
	detail.Warnings = append(detail.Warnings, notificationWarnings(n)...)

	logging.Info().
		Str("event", "subscription_expired").
		Str("supporter_id", sub.SupporterID).
		Str("creator_id", sub.CreatorID).
		Str("subscription_id", sub.ID).
		Strs("warnings", detail.Warnings).
		Msg("subscription expired")
	return nil
}

// remind sends the reminder for the most urgent threshold reached, once per period.
// The threshold is claimed in the store before the email goes out.
func (s *LifecycleService) remind(ctx context.Context, sub *domain.Subscription, now time.Time, detail domain.SweepDetail) (domain.SweepDetail, error) {
	threshold, ok := s.reminderThreshold(detail.DaysUntilExpiry)
	if !ok || sub.ReminderSent(threshold) {
		return detail, nil
	}
	claimed, err := s.store.ClaimReminder(ctx, sub.ID, sub.CurrentPeriodEnd, threshold, now)
	if err != nil {
		return detail, err
	}
	if !claimed {
		return detail, nil
	}

	detail.Action = domain.SweepReminder
	detail.Threshold = threshold
	n := s.notifier.Send(ctx, domain.Notification{
		Kind:           domain.NotifyRenewalReminder,
		SupporterID:    sub.SupporterID,
		CreatorID:      sub.CreatorID,
		SubscriptionID: sub.ID,
		Data: map[string]interface{}{
			"tierLevel":     sub.TierLevel,
			"periodEnd":     sub.CurrentPeriodEnd.Format(periodEndLayout),
			"daysRemaining": detail.DaysUntilExpiry,
		},
	})
	detail.Warnings = append(detail.Warnings, notificationWarnings(n)...)
	return detail, nil
}

func membershipWarnings(m *domain.MembershipResult) []string {
	if m == nil || m.OK() {
		return nil
	}
	var out []string
	if m.Error != "" {
		out = append(out, "membership sync: "+m.Error)
	}
	for _, f := range m.Failed {
		out = append(out, fmt.Sprintf("membership %s %s failed: %s", f.Op, f.Channel, f.Error))
	}
	return out
}

func notificationWarnings(n *domain.NotificationResult) []string {
	if n == nil || n.Error == "" {
		return nil
	}
	if n.Queued {
		return []string{fmt.Sprintf("%s email queued for retry: %s", n.Kind, n.Error)}
	}
	metrics.SideEffectFailures.WithLabelValues("notification").Inc()
	return []string{fmt.Sprintf("%s email failed: %s", n.Kind, n.Error)}
}

func grantedChannels(m *domain.MembershipResult) []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.AddedTo)+len(m.AlreadyMember))
	out = append(out, m.AddedTo...)
	return append(out, m.AlreadyMember...)
}
