package service

import (
	"context"
	"testing"
	"time"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/repository/memory"
)

type failingDirectory struct{}

func (failingDirectory) ListCreatorChannels(context.Context, string) ([]domain.CommunityChannel, error) {
	return nil, errBoom
}

func (failingDirectory) SetChannelExternalID(context.Context, string, string) error {
	return errBoom
}

func newTestMembership(c *fakeChat, dir ChannelDirectory) *MembershipService {
	return NewMembershipService(c, dir, time.Second, RetryPolicy{Attempts: 3, Initial: time.Millisecond})
}

func TestSync_ReadFailureAssumesEmpty(t *testing.T) {
	h := newHarness(t)
	h.chat.addMember("ext-general", testSupporter)
	h.chat.listErr = errBoom

	res := h.membership.SyncSupporterToChannels(h.ctx, testSupporter, testCreator, 1, 0)

	if !res.OK() || len(res.AddedTo) != 1 || res.AddedTo[0] != "general" {
		t.Errorf("result = %+v", res)
	}
	if h.chat.addCalls["ext-general"] != 1 {
		t.Errorf("add calls = %d", h.chat.addCalls["ext-general"])
	}
}

func TestSync_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.chat.addErr = func(_ string, call int) error {
		if call < 3 {
			return errUnavailable
		}
		return nil
	}

	res := h.membership.SyncSupporterToChannels(h.ctx, testSupporter, testCreator, 1, 0)

	if !res.OK() || len(res.AddedTo) != 1 {
		t.Errorf("result = %+v", res)
	}
	if h.chat.addCalls["ext-general"] != 3 {
		t.Errorf("add calls = %d, want 3", h.chat.addCalls["ext-general"])
	}
}

func TestSync_PermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.chat.addErr = func(channelID string, _ int) error {
		if channelID == "ext-vip" {
			return errPermanentChat("add_members")
		}
		return nil
	}

	res := h.membership.SyncSupporterToChannels(h.ctx, testSupporter, testCreator, 2, 0)

	if h.chat.addCalls["ext-vip"] != 1 {
		t.Errorf("add calls = %d, want 1", h.chat.addCalls["ext-vip"])
	}
	if len(res.AddedTo) != 1 || len(res.Failed) != 1 || res.Failed[0].Channel != "vip" || res.Failed[0].Op != "add" {
		t.Errorf("result = %+v", res)
	}
}

func TestSync_CreatesMissingChannel(t *testing.T) {
	store := memory.NewStore()
	_ = store.UpsertChannel(context.Background(), &domain.CommunityChannel{ID: "fresh", CreatorID: testCreator, Name: "fresh", MinTier: 1})
	c := newFakeChat()

	res := newTestMembership(c, store).SyncSupporterToChannels(context.Background(), testSupporter, testCreator, 1, 0)

	if !res.OK() || c.created["fresh"] != "ext-fresh" || !c.isMember("ext-fresh", testSupporter) {
		t.Errorf("result = %+v, created = %v", res, c.created)
	}
	if len(c.messages) != 1 {
		t.Errorf("join announcements = %v", c.messages)
	}
	channels, _ := store.ListCreatorChannels(context.Background(), testCreator)
	if len(channels) != 1 || channels[0].ExternalID != "ext-fresh" {
		t.Errorf("stored channels = %+v", channels)
	}
}

func TestSyncThenRemove_CreatedChannel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.UpsertChannel(ctx, &domain.CommunityChannel{ID: "fresh", CreatorID: testCreator, Name: "fresh", MinTier: 1})
	c := newFakeChat()
	m := newTestMembership(c, store)

	if res := m.SyncSupporterToChannels(ctx, testSupporter, testCreator, 1, 0); !res.OK() || len(res.AddedTo) != 1 {
		t.Fatalf("sync = %+v", res)
	}
	res := m.RemoveSupporterFromChannels(ctx, testSupporter, testCreator)
	if !res.OK() || len(res.RemovedFrom) != 1 || res.RemovedFrom[0] != "fresh" {
		t.Errorf("remove = %+v", res)
	}
	if c.isMember("ext-fresh", testSupporter) {
		t.Error("supporter still in channel after removal")
	}
}

func TestRemove_UnrecordedChannelIsResolved(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.UpsertChannel(ctx, &domain.CommunityChannel{ID: "lost", CreatorID: testCreator, Name: "lost", MinTier: 1})
	c := newFakeChat()
	// Created in chat earlier but the ID write never landed.
	c.addMember("ext-lost", testSupporter)

	res := newTestMembership(c, store).RemoveSupporterFromChannels(ctx, testSupporter, testCreator)

	if !res.OK() || len(res.RemovedFrom) != 1 || c.isMember("ext-lost", testSupporter) {
		t.Errorf("result = %+v", res)
	}
}

func TestSync_ChannelListFailure(t *testing.T) {
	res := newTestMembership(newFakeChat(), failingDirectory{}).SyncSupporterToChannels(context.Background(), testSupporter, testCreator, 1, 0)
	if res.OK() || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestRemove_SkipsNonMembers(t *testing.T) {
	h := newHarness(t)
	_ = h.store.UpsertChannel(h.ctx, &domain.CommunityChannel{ID: "draft", CreatorID: testCreator, Name: "draft", MinTier: 1})
	h.chat.addMember("ext-general", testSupporter)

	res := h.membership.RemoveSupporterFromChannels(h.ctx, testSupporter, testCreator)

	if !res.OK() || len(res.RemovedFrom) != 1 || res.RemovedFrom[0] != "general" {
		t.Errorf("result = %+v", res)
	}
	if h.chat.rmCalls["ext-vip"] != 0 || h.chat.rmCalls["ext-draft"] != 0 {
		t.Error("removed from a channel the supporter was not in")
	}
}

func TestRemove_FailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.chat.addMember("ext-general", testSupporter)
	h.chat.rmErr = func(string, int) error { return errUnavailable }

	res := h.membership.RemoveSupporterFromChannels(h.ctx, testSupporter, testCreator)

	if res.OK() || len(res.Failed) != 1 || res.Failed[0].Op != "remove" {
		t.Errorf("result = %+v", res)
	}
	if h.chat.rmCalls["ext-general"] != 3 {
		t.Errorf("remove calls = %d", h.chat.rmCalls["ext-general"])
	}
}
