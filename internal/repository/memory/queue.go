package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/supportly/backend/internal/domain"
)

// ListCreatorChannels returns the creator's channels, lowest tier first.
func (s *Store) ListCreatorChannels(_ context.Context, creatorID string) ([]domain.CommunityChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CommunityChannel
	for _, c := range s.channels {
		if c.CreatorID == creatorID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinTier != out[j].MinTier {
			return out[i].MinTier < out[j].MinTier
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpsertChannel inserts or replaces a channel.
func (s *Store) UpsertChannel(_ context.Context, c *domain.CommunityChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.channels[c.ID] = &cp
	return nil
}

// SetChannelExternalID records the chat-side ID of a channel created on demand.
func (s *Store) SetChannelExternalID(_ context.Context, channelID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[channelID]
	if !ok {
		return domain.ErrNotFound("channel not found")
	}
	c.ExternalID = externalID
	return nil
}

// EnqueueNotification queues a message for delivery at or after its NextAttemptAt.
func (s *Store) EnqueueNotification(_ context.Context, msg *domain.OutboxMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOutboxID++
	m := *msg
	m.ID = s.nextOutboxID
	m.Status = domain.OutboxPending
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.outbox = append(s.outbox, &outboxRow{msg: m})
	return m.ID, nil
}

// ClaimDueNotifications leases up to limit due messages.
func (s *Store) ClaimDueNotifications(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxMessage
	for _, row := range s.outbox {
		if len(out) >= limit {
			break
		}
		if row.msg.Status != domain.OutboxPending || row.msg.NextAttemptAt.After(now) || row.lockedUntil.After(now) {
			continue
		}
		row.lockedUntil = now.Add(lease)
		out = append(out, row.msg)
	}
	return out, nil
}

func (s *Store) findOutbox(id int64) *outboxRow {
	for _, row := range s.outbox {
		if row.msg.ID == id {
			return row
		}
	}
	return nil
}

// MarkNotificationSent records a successful delivery.
func (s *Store) MarkNotificationSent(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.findOutbox(id); row != nil {
		row.msg.Status = domain.OutboxSent
		row.msg.Attempts++
		row.msg.LastError = ""
		row.lockedUntil = time.Time{}
	}
	return nil
}

// MarkNotificationFailed records a failed attempt.
func (s *Store) MarkNotificationFailed(_ context.Context, id int64, next time.Time, lastErr string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.findOutbox(id); row != nil {
		row.msg.Attempts++
		row.msg.LastError = lastErr
		row.msg.NextAttemptAt = next
		row.lockedUntil = time.Time{}
		if dead {
			row.msg.Status = domain.OutboxDead
		}
	}
	return nil
}

// CountNotifications returns the number of outbox messages per status.
func (s *Store) CountNotifications(_ context.Context) (map[domain.OutboxStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.OutboxStatus]int)
	for _, row := range s.outbox {
		counts[row.msg.Status]++
	}
	return counts, nil
}

// Outbox returns a snapshot of every queued message.
func (s *Store) Outbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		out = append(out, row.msg)
	}
	return out
}

// GetOutcome returns the stored result for a transaction key, or nil.
func (s *Store) GetOutcome(_ context.Context, key string) (*domain.ConfirmPaymentResult, error) {
	s.mu.Lock()
	raw, ok := s.outcomes[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var res domain.ConfirmPaymentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveOutcome stores the result for a transaction key.
func (s *Store) SaveOutcome(_ context.Context, key string, res *domain.ConfirmPaymentResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.outcomes[key] = raw
	s.mu.Unlock()
	return nil
}

// UserStore is an in-memory user directory.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]domain.User)}
}

// Upsert stores a user.
func (u *UserStore) Upsert(_ context.Context, user *domain.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.ID] = *user
	return nil
}

// FindByID returns a user by ID, or nil.
func (u *UserStore) FindByID(_ context.Context, id string) (*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// Count returns the number of users.
func (u *UserStore) Count(_ context.Context) (int, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.users), nil
}
