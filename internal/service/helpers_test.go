package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/supportly/backend/internal/chat"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/repository/memory"
	"github.com/supportly/backend/pkg/payment"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	testSupporter = "sup-1"
	testCreator   = "cre-1"
)

// fakeChat is an in-memory chat service. Errors can be injected per operation.
type fakeChat struct {
	mu       sync.Mutex
	members  map[string]map[string]bool
	created  map[string]string
	listErr  error
	addErr   func(channelID string, call int) error
	rmErr    func(channelID string, call int) error
	addCalls map[string]int
	rmCalls  map[string]int
	messages []string
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		members:  make(map[string]map[string]bool),
		created:  make(map[string]string),
		addCalls: make(map[string]int),
		rmCalls:  make(map[string]int),
	}
}

func (f *fakeChat) EnsureUser(context.Context, string, string) error { return nil }

func (f *fakeChat) CreateOrGetChannel(_ context.Context, channelID, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ext := "ext-" + channelID
	f.created[channelID] = ext
	return ext, nil
}

func (f *fakeChat) ListMembers(_ context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []string
	for m := range f.members[channelID] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeChat) AddMembers(_ context.Context, channelID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls[channelID]++
	if f.addErr != nil {
		if err := f.addErr(channelID, f.addCalls[channelID]); err != nil {
			return err
		}
	}
	if f.members[channelID] == nil {
		f.members[channelID] = make(map[string]bool)
	}
	for _, id := range userIDs {
		f.members[channelID][id] = true
	}
	return nil
}

func (f *fakeChat) RemoveMembers(_ context.Context, channelID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rmCalls[channelID]++
	if f.rmErr != nil {
		if err := f.rmErr(channelID, f.rmCalls[channelID]); err != nil {
			return err
		}
	}
	for _, id := range userIDs {
		delete(f.members[channelID], id)
	}
	return nil
}

func (f *fakeChat) SendSystemMessage(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, channelID+": "+text)
	return nil
}

func (f *fakeChat) Ping(context.Context) error { return nil }

func (f *fakeChat) isMember(channelID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[channelID][userID]
}

func (f *fakeChat) addMember(channelID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[channelID] == nil {
		f.members[channelID] = make(map[string]bool)
	}
	f.members[channelID][userID] = true
}

type sentMail struct {
	Kind      domain.NotificationKind
	Recipient string
	Data      map[string]interface{}
}

// fakeMailer records deliveries. err, when set, decides the outcome of each send.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  func(kind domain.NotificationKind) error
}

func (m *fakeMailer) SendTemplate(_ context.Context, kind domain.NotificationKind, recipient string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		if err := m.err(kind); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, sentMail{Kind: kind, Recipient: recipient, Data: data})
	return nil
}

func (m *fakeMailer) count(kind domain.NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// fakeGateway records recurring cancellations.
type fakeGateway struct {
	name        string
	mu          sync.Mutex
	cancelled   []string
	cancelErr   error
	block       bool
	initiateErr error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) InitiatePayment(_ context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &payment.Checkout{PaymentURL: "https://pay.example/" + req.OrderID, ExternalRef: "ref-" + req.OrderID}, nil
}

func (g *fakeGateway) Verify(context.Context, payment.Callback, payment.ExpectFunc) payment.Verification {
	return payment.Verification{Reason: "not used"}
}

func (g *fakeGateway) CancelRecurring(ctx context.Context, externalID string) error {
	if g.block {
		<-ctx.Done()
		return ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, externalID)
	return nil
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	store      *memory.Store
	users      *memory.UserStore
	chat       *fakeChat
	mailer     *fakeMailer
	gateway    *fakeGateway
	membership *MembershipService
	dispatcher *NotificationDispatcher
	svc        *LifecycleService
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewStore())
}

func newHarnessWithStore(t *testing.T, store *memory.Store) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		users:   memory.NewUserStore(),
		chat:    newFakeChat(),
		mailer:  &fakeMailer{},
		gateway: &fakeGateway{name: payment.Midtrans},
		now:     testNow,
	}
	for _, ch := range []domain.CommunityChannel{
		{ID: "general", CreatorID: testCreator, Name: "general", ExternalID: "ext-general", MinTier: 1},
		{ID: "vip", CreatorID: testCreator, Name: "vip", ExternalID: "ext-vip", MinTier: 2},
		{ID: "inner", CreatorID: testCreator, Name: "inner-circle", ExternalID: "ext-inner", MinTier: 3},
	} {
		c := ch
		if err := store.UpsertChannel(h.ctx, &c); err != nil {
			t.Fatalf("UpsertChannel: %v", err)
		}
	}
	_ = h.users.Upsert(h.ctx, &domain.User{ID: testSupporter, Email: "sup@example.com", Name: "Sam"})
	_ = h.users.Upsert(h.ctx, &domain.User{ID: testCreator, Email: "cre@example.com", Name: "Cleo"})

	h.membership = NewMembershipService(h.chat, store, time.Second, RetryPolicy{Attempts: 3, Initial: time.Millisecond})
	h.dispatcher = NewNotificationDispatcher(h.mailer, h.users, store, store, time.Second, "https://app.example")
	h.dispatcher.now = h.clock
	h.svc = NewLifecycleService(store, store, payment.NewRegistry(h.gateway, payment.NewManual()), h.membership, h.dispatcher, nil, LifecycleConfig{
		Cycle:                  domain.MonthlyCycle,
		ReminderDays:           []int{2, 1},
		SweepConcurrency:       4,
		SweepPageSize:          2,
		RemoveChannelsOnExpiry: true,
		ExternalCallTimeout:    50 * time.Millisecond,
	})
	h.svc.now = h.clock
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) confirm(key string, tier int, amount float64) *domain.ConfirmPaymentResult {
	h.t.Helper()
	res, err := h.svc.ConfirmPayment(h.ctx, PaymentConfirmation{
		TransactionKey: key,
		SupporterID:    testSupporter,
		CreatorID:      testCreator,
		TierLevel:      tier,
		Amount:         amount,
		Currency:       "IDR",
		Gateway:        payment.Midtrans,
	})
	if err != nil {
		h.t.Fatalf("ConfirmPayment(%s): %v", key, err)
	}
	return res
}

func (h *harness) activeCount() int {
	h.t.Helper()
	subs, err := h.store.ListSubscriptionsByStatus(h.ctx, domain.StatusActive, "", 1000)
	if err != nil {
		h.t.Fatalf("ListSubscriptionsByStatus: %v", err)
	}
	n := 0
	for _, s := range subs {
		if s.SupporterID == testSupporter && s.CreatorID == testCreator {
			n++
		}
	}
	return n
}

// checkEntitlement fails the test when the supporter flag disagrees with the
// subscription rows.
func (h *harness) checkEntitlement() {
	h.t.Helper()
	sup, err := h.store.FindSupporter(h.ctx, testSupporter, testCreator)
	if err != nil {
		h.t.Fatalf("FindSupporter: %v", err)
	}
	active := h.activeCount()
	if active > 1 {
		h.t.Fatalf("%d active subscriptions for one pair", active)
	}
	flag := sup != nil && sup.Active
	if flag != (active == 1) {
		h.t.Fatalf("supporter.active = %v but %d active subscriptions", flag, active)
	}
}

var errUnavailable = &chat.APIError{Op: "add_members", StatusCode: 503, Body: "unavailable"}

func errPermanentChat(op string) error {
	return &chat.APIError{Op: op, StatusCode: 400, Body: "bad request"}
}

var errBoom = errors.New("boom")

func key(i int) string { return fmt.Sprintf("txn-%d", i) }
