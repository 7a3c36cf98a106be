package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/supportly/backend/internal/chat"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
)

// RetryPolicy bounds the retries of a single channel add or remove.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

// DefaultRetryPolicy is three attempts with a 200ms, doubling backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 200 * time.Millisecond}

// MembershipService reconciles a supporter's channel membership with their tier.
type MembershipService struct {
	chat     chat.Service
	channels ChannelDirectory
	timeout  time.Duration
	retry    RetryPolicy
}

// NewMembershipService creates a MembershipService. Every chat call is bounded by timeout.
func NewMembershipService(c chat.Service, channels ChannelDirectory, timeout time.Duration, retry RetryPolicy) *MembershipService {
	if retry.Attempts < 1 {
		retry = DefaultRetryPolicy
	}
	return &MembershipService{chat: c, channels: channels, timeout: timeout, retry: retry}
}

func (s *MembershipService) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := fn(callCtx)
	metrics.ExternalCallDuration.WithLabelValues("chat", op).Observe(time.Since(start).Seconds())
	return err
}

// withRetry runs fn up to the policy's attempts. Permanent errors and an open
// breaker stop early.
func (s *MembershipService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.Initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retry.Attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := s.call(ctx, op, fn)
		if err != nil && chat.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// resolveChannel returns the chat-side ID of ch, creating the channel when it has none
// yet and recording the new ID in the directory.
func (s *MembershipService) resolveChannel(ctx context.Context, ch domain.CommunityChannel) (string, error) {
	if ch.ExternalID != "" {
		return ch.ExternalID, nil
	}
	var id string
	err := s.call(ctx, "create_channel", func(ctx context.Context) error {
		var err error
		id, err = s.chat.CreateOrGetChannel(ctx, ch.ID, ch.CreatorID, ch.Name)
		return err
	})
	if err != nil {
		return "", err
	}
	// CreateOrGetChannel is keyed by our channel ID, so a lost write is recovered
	// on the next resolve.
	if err := s.channels.SetChannelExternalID(ctx, ch.ID, id); err != nil {
		logging.Warn().Err(err).Str("channel", ch.ID).Msg("failed to record chat channel id")
	}
	return id, nil
}

// members reads the channel's current members. A failed read yields an empty set:
// adding a present member is harmless, skipping a missing one is not.
func (s *MembershipService) members(ctx context.Context, channelID string) (map[string]bool, bool) {
	var list []string
	err := s.call(ctx, "list_members", func(ctx context.Context) error {
		var err error
		list, err = s.chat.ListMembers(ctx, channelID)
		return err
	})
	if err != nil {
		logging.Warn().Err(err).Str("channel", channelID).Msg("membership read failed, assuming empty")
		return map[string]bool{}, false
	}
	set := make(map[string]bool, len(list))
	for _, m := range list {
		set[m] = true
	}
	return set, true
}

// SyncSupporterToChannels adds the supporter to every channel their tier unlocks.
// When tier is lower than previousTier, channels only the previous tier unlocked are
// left as well. A raise in tier never removes anything.
func (s *MembershipService) SyncSupporterToChannels(ctx context.Context, supporterID, creatorID string, tier, previousTier int) *domain.MembershipResult {
	res := &domain.MembershipResult{AddedTo: []string{}, RemovedFrom: []string{}}

	channels, err := s.channels.ListCreatorChannels(ctx, creatorID)
	if err != nil {
		res.Error = fmt.Sprintf("failed to list channels: %v", err)
		metrics.SideEffectFailures.WithLabelValues("membership").Inc()
		return res
	}
	if len(channels) == 0 {
		return res
	}

	if err := s.call(ctx, "ensure_user", func(ctx context.Context) error {
		return s.chat.EnsureUser(ctx, supporterID, supporterID)
	}); err != nil {
		logging.Warn().Err(err).Str("supporter_id", supporterID).Msg("chat user ensure failed")
	}

	downgrade := previousTier > tier
	for _, ch := range channels {
		eligible := ch.EligibleFor(tier)
		lost := downgrade && !eligible && ch.EligibleFor(previousTier)
		if !eligible && !lost {
			continue
		}

		op := "add"
		if lost {
			op = "remove"
		}
		channelID, err := s.resolveChannel(ctx, ch)
		if err != nil {
			res.Failed = append(res.Failed, domain.ChannelFailure{ChannelID: ch.ID, Channel: ch.Name, Op: op, Error: err.Error()})
			continue
		}
		current, known := s.members(ctx, channelID)

		if eligible {
			if current[supporterID] {
				res.AlreadyMember = append(res.AlreadyMember, ch.Name)
				continue
			}
			err := s.withRetry(ctx, "add_members", func(ctx context.Context) error {
				return s.chat.AddMembers(ctx, channelID, []string{supporterID})
			})
			if err != nil {
				res.Failed = append(res.Failed, domain.ChannelFailure{ChannelID: ch.ID, Channel: ch.Name, Op: op, Error: err.Error()})
				continue
			}
			res.AddedTo = append(res.AddedTo, ch.Name)
			s.announce(ctx, channelID, supporterID)
			continue
		}

		if known && !current[supporterID] {
			continue
		}
		err = s.withRetry(ctx, "remove_members", func(ctx context.Context) error {
			return s.chat.RemoveMembers(ctx, channelID, []string{supporterID})
		})
		if err != nil {
			res.Failed = append(res.Failed, domain.ChannelFailure{ChannelID: ch.ID, Channel: ch.Name, Op: op, Error: err.Error()})
			continue
		}
		res.RemovedFrom = append(res.RemovedFrom, ch.Name)
	}

	if !res.OK() {
		metrics.SideEffectFailures.WithLabelValues("membership").Inc()
	}
	return res
}

// RemoveSupporterFromChannels removes the supporter from all of the creator's channels.
func (s *MembershipService) RemoveSupporterFromChannels(ctx context.Context, supporterID, creatorID string) *domain.MembershipResult {
	res := &domain.MembershipResult{AddedTo: []string{}, RemovedFrom: []string{}}

	channels, err := s.channels.ListCreatorChannels(ctx, creatorID)
	if err != nil {
		res.Error = fmt.Sprintf("failed to list channels: %v", err)
		metrics.SideEffectFailures.WithLabelValues("membership").Inc()
		return res
	}

	for _, ch := range channels {
		channelID, err := s.resolveChannel(ctx, ch)
		if err != nil {
			res.Failed = append(res.Failed, domain.ChannelFailure{ChannelID: ch.ID, Channel: ch.Name, Op: "remove", Error: err.Error()})
			continue
		}
		current, known := s.members(ctx, channelID)
		if known && !current[supporterID] {
			continue
		}
		err = s.withRetry(ctx, "remove_members", func(ctx context.Context) error {
			return s.chat.RemoveMembers(ctx, channelID, []string{supporterID})
		})
		if err != nil {
			res.Failed = append(res.Failed, domain.ChannelFailure{ChannelID: ch.ID, Channel: ch.Name, Op: "remove", Error: err.Error()})
			continue
		}
		res.RemovedFrom = append(res.RemovedFrom, ch.Name)
	}

	if !res.OK() {
		metrics.SideEffectFailures.WithLabelValues("membership").Inc()
	}
	return res
}

func (s *MembershipService) announce(ctx context.Context, channelID, supporterID string) {
	err := s.call(ctx, "system_message", func(ctx context.Context) error {
		return s.chat.SendSystemMessage(ctx, channelID, fmt.Sprintf("%s joined the channel", supporterID))
	})
	if err != nil {
		logging.Warn().Err(err).Str("channel", channelID).Msg("join announcement failed")
	}
}
