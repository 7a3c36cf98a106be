package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/pkg/crypto"
)

// Stats is the admin overview of the subscription book.
type Stats struct {
	Subscriptions    map[domain.SubscriptionStatus]int `json:"subscriptions"`
	ActiveSupporters int                               `json:"activeSupporters"`
	Users            int                               `json:"users"`
	Revenue          float64                           `json:"revenue"`
	Outbox           map[domain.OutboxStatus]int       `json:"outbox,omitempty"`
}

// UserCounter counts registered users.
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// OutboxCounter counts outbox messages by delivery status.
type OutboxCounter interface {
	CountNotifications(ctx context.Context) (map[domain.OutboxStatus]int, error)
}

// TransactionReader loads a payment transaction by key.
type TransactionReader interface {
	GetTransaction(ctx context.Context, key string) (*domain.Transaction, error)
}

// PayloadOpener decrypts a gateway payload sealed for a transaction.
type PayloadOpener interface {
	Open(txnKey, stored string) ([]byte, error)
}

// AdminService serves read-only operational views.
type AdminService struct {
	stats  StatsStore
	users  UserCounter
	outbox OutboxCounter
	txns   TransactionReader
	opener PayloadOpener
	window int
	now    func() time.Time
}

// NewAdminService creates a new AdminService. expiringSoonDays sets the derived
// expiring_soon window used in listings. opener may be nil when payloads are not sealed.
func NewAdminService(stats StatsStore, users UserCounter, outbox OutboxCounter, txns TransactionReader, opener PayloadOpener, expiringSoonDays int) *AdminService {
	return &AdminService{
		stats:  stats,
		users:  users,
		outbox: outbox,
		txns:   txns,
		opener: opener,
		window: expiringSoonDays,
		now:    time.Now,
	}
}

// Stats returns subscription counts, active supporters and settled revenue.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	subs, err := s.stats.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count subscriptions", err)
	}
	supporters, err := s.stats.CountActiveSupporters(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count supporters", err)
	}
	users, err := s.users.Count(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count users", err)
	}
	revenue, err := s.stats.SumCompletedAmount(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to sum revenue", err)
	}
	out := &Stats{Subscriptions: subs, ActiveSupporters: supporters, Users: users, Revenue: revenue}
	if s.outbox != nil {
		if out.Outbox, err = s.outbox.CountNotifications(ctx); err != nil {
			return nil, domain.ErrInternal("failed to count outbox", err)
		}
	}
	return out, nil
}

// DefaultWindow is the expiring-soon window in days.
func (s *AdminService) DefaultWindow() int { return s.window }

// Expiring lists active subscriptions whose period ends within the next days days,
// soonest first.
func (s *AdminService) Expiring(ctx context.Context, days int) ([]*domain.SubscriptionView, error) {
	if days < 1 {
		return nil, domain.ErrBadRequest("days must be at least 1")
	}
	now := s.now()
	subs, err := s.stats.ListExpiringBetween(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, domain.ErrInternal("failed to list expiring subscriptions", err)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CurrentPeriodEnd.Before(subs[j].CurrentPeriodEnd) })
	views := make([]*domain.SubscriptionView, 0, len(subs))
	for i := range subs {
		views = append(views, domain.NewSubscriptionView(&subs[i], now, s.window))
	}
	return views, nil
}

// TransactionAudit returns the transaction with its gateway payload opened. A payload
// that cannot be opened is reported on the audit rather than failing the lookup.
func (s *AdminService) TransactionAudit(ctx context.Context, key string) (*domain.TransactionAudit, error) {
	txn, err := s.txns.GetTransaction(ctx, key)
	if err != nil {
		return nil, domain.ErrInternal("failed to load transaction", err)
	}
	if txn == nil {
		return nil, domain.ErrNotFound("transaction not found")
	}

	audit := &domain.TransactionAudit{Transaction: *txn}
	if txn.RawPayload == "" {
		return audit, nil
	}
	if s.opener == nil {
		audit.PayloadError = "payload sealing is not configured"
		return audit, nil
	}
	plain, err := s.opener.Open(key, txn.RawPayload)
	switch {
	case errors.Is(err, crypto.ErrNotSealed):
		audit.PayloadError = "payload is not sealed"
	case err != nil:
		logging.Warn().Err(err).Str("transaction_key", key).Msg("failed to open gateway payload")
		audit.PayloadError = "payload could not be opened"
	case !json.Valid(plain):
		audit.PayloadError = "payload is not JSON"
	default:
		audit.Payload = plain
	}
	return audit, nil
}
