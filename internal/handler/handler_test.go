package handler_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/handler"
	"github.com/supportly/backend/internal/middleware"
	"github.com/supportly/backend/internal/repository/memory"
	"github.com/supportly/backend/internal/service"
	"github.com/supportly/backend/pkg/crypto"
	"github.com/supportly/backend/pkg/payment"
)

const (
	jwtSecret  = "test-secret"
	cronSecret = "cron-secret"
	supporter  = "sup-1"
	creator    = "cre-1"
)

// testGateway authenticates callbacks by a fixed header and reads a minimal body.
type testGateway struct{}

func (testGateway) Name() string { return payment.Midtrans }

func (testGateway) InitiatePayment(_ context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	return &payment.Checkout{PaymentURL: "https://pay.example/" + req.OrderID, ExternalRef: "ref-" + req.OrderID}, nil
}

func (testGateway) Verify(ctx context.Context, cb payment.Callback, expect payment.ExpectFunc) payment.Verification {
	if cb.Header.Get("X-Signature") != "valid" {
		return payment.Verification{Reason: "invalid signature"}
	}
	var body struct {
		OrderID string  `json:"order_id"`
		Status  string  `json:"status"`
		Amount  float64 `json:"gross_amount"`
	}
	if err := json.Unmarshal(cb.Body, &body); err != nil {
		return payment.Verification{Reason: "malformed body"}
	}
	v := payment.Verification{TransactionKey: body.OrderID, Amount: body.Amount, Status: body.Status}
	switch body.Status {
	case "pending":
		v.Ignored = true
		return v
	case "deny":
		v.Failed = true
		return v
	}
	exp, err := expect(ctx, body.OrderID)
	if err != nil {
		v.Retryable = true
		v.Reason = err.Error()
		return v
	}
	if exp == nil {
		v.Reason = "unknown transaction"
		return v
	}
	v.Expected = exp
	v.Verified = payment.AmountMatches(exp.Amount, body.Amount)
	if !v.Verified {
		v.Reason = "amount mismatch"
	}
	return v
}

func (testGateway) CancelRecurring(context.Context, string) error { return nil }

type stubMembership struct{}

func (stubMembership) SyncSupporterToChannels(context.Context, string, string, int, int) *domain.MembershipResult {
	return &domain.MembershipResult{AddedTo: []string{"general"}}
}

func (stubMembership) RemoveSupporterFromChannels(context.Context, string, string) *domain.MembershipResult {
	return &domain.MembershipResult{RemovedFrom: []string{"general"}}
}

type stubNotifier struct{}

func (stubNotifier) Send(_ context.Context, n domain.Notification) *domain.NotificationResult {
	return &domain.NotificationResult{Kind: n.Kind, Sent: true}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type env struct {
	t      *testing.T
	store  *memory.Store
	auth   *service.AuthService
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	users := memory.NewUserStore()
	for _, ch := range []domain.CommunityChannel{
		{ID: "general", CreatorID: creator, Name: "general", ExternalID: "ext-general", MinTier: 1},
		{ID: "vip", CreatorID: creator, Name: "vip", ExternalID: "ext-vip", MinTier: 2},
	} {
		c := ch
		if err := store.UpsertChannel(ctx, &c); err != nil {
			t.Fatalf("UpsertChannel: %v", err)
		}
	}

	sealer, err := crypto.NewPayloadSealer("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewPayloadSealer: %v", err)
	}
	gateways := payment.NewRegistry(testGateway{}, payment.NewManual())
	lifecycle := service.NewLifecycleService(store, store, gateways, stubMembership{}, stubNotifier{}, sealer, service.LifecycleConfig{
		Cycle:        domain.MonthlyCycle,
		ReminderDays: []int{2, 1},
	})
	checkout := service.NewCheckoutService(store, gateways, lifecycle, "https://app.example", time.Second)
	auth := service.NewAuthService(jwtSecret, users)
	admin := service.NewAdminService(store, users, store, store, sealer, 2)
	scheduler, err := service.NewExpiryScheduler(lifecycle, "0 3 * * *")
	if err != nil {
		t.Fatalf("NewExpiryScheduler: %v", err)
	}

	paymentH := handler.NewPaymentHandler(checkout, auth)
	webhookH := handler.NewWebhookHandler(gateways, lifecycle)
	subH := handler.NewSubscriptionHandler(lifecycle)
	tiersH := handler.NewTiersHandler(store)
	cronH := handler.NewCronHandler(scheduler)
	adminH := handler.NewAdminHandler(admin, checkout)
	authH := handler.NewAuthHandler(auth)

	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Post("/api/payments/callback/{gateway}", webhookH.GatewayCallback)
	r.Get("/api/creators/{creatorID}/tiers", tiersH.List)
	r.With(middleware.CronSecret(cronSecret)).Post("/api/cron/expirations", cronH.Expirations)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(auth))
		r.Get("/api/me", authH.Me)
		r.Post("/api/checkout", paymentH.CreateCheckout)
		r.Get("/api/subscriptions/{creatorID}", subH.Current)
		r.Get("/api/subscriptions/{creatorID}/entitlement", subH.Entitlement)
		r.Post("/api/subscriptions/{creatorID}/cancel", subH.Cancel)
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.AdminOnly)
			r.Get("/stats", adminH.GetStats)
			r.Get("/subscriptions/expiring", adminH.Expiring)
			r.Post("/payments/simulate", adminH.Simulate)
			r.Get("/transactions/{key}", adminH.Transaction)
		})
	})

	return &env{t: t, store: store, auth: auth, router: r}
}

func (e *env) token(sub, role string) string {
	e.t.Helper()
	tok, err := e.auth.IssueToken(domain.JWTClaims{Sub: sub, Email: sub + "@example.com", Name: sub, Role: role}, time.Hour)
	if err != nil {
		e.t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func (e *env) do(method, path, token string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) pending(key string, amount float64) {
	e.t.Helper()
	now := time.Now()
	err := e.store.CreatePendingTransaction(context.Background(), &domain.Transaction{
		Key: key, SupporterID: supporter, CreatorID: creator, TierLevel: 1,
		Amount: amount, Currency: "IDR", Gateway: payment.Midtrans,
		Status: domain.TransactionPending, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		e.t.Fatalf("CreatePendingTransaction: %v", err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

var signed = map[string]string{"X-Signature": "valid"}

func TestGatewayCallback_ConfirmsOnceAndReplays(t *testing.T) {
	e := newEnv(t)
	e.pending("order-1", 50000)
	body := map[string]interface{}{"order_id": "order-1", "status": "settlement", "gross_amount": 50000}

	rec := e.do(http.MethodPost, "/api/payments/callback/midtrans", "", body, signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var first domain.ConfirmPaymentResult
	decode(t, rec, &first)
	if !first.Success || first.Transition != domain.RenewalCreated || first.Replayed {
		t.Fatalf("unexpected first result: %+v", first)
	}

	rec = e.do(http.MethodPost, "/api/payments/callback/midtrans", "", body, signed)
	var second domain.ConfirmPaymentResult
	decode(t, rec, &second)
	if !second.Replayed || second.SubscriptionID != first.SubscriptionID {
		t.Fatalf("redelivery should replay the first result, got %+v", second)
	}
}

func TestGatewayCallback_Rejections(t *testing.T) {
	e := newEnv(t)
	e.pending("order-2", 50000)

	tests := []struct {
		name   string
		path   string
		body   map[string]interface{}
		header map[string]string
		want   int
	}{
		{"bad signature", "/api/payments/callback/midtrans", map[string]interface{}{"order_id": "order-2", "status": "settlement", "gross_amount": 50000}, nil, http.StatusBadRequest},
		{"amount mismatch", "/api/payments/callback/midtrans", map[string]interface{}{"order_id": "order-2", "status": "settlement", "gross_amount": 1}, signed, http.StatusBadRequest},
		{"unknown key", "/api/payments/callback/midtrans", map[string]interface{}{"order_id": "nope", "status": "settlement", "gross_amount": 50000}, signed, http.StatusBadRequest},
		{"pending is acknowledged", "/api/payments/callback/midtrans", map[string]interface{}{"order_id": "order-2", "status": "pending", "gross_amount": 50000}, signed, http.StatusOK},
		{"manual is not public", "/api/payments/callback/manual", map[string]interface{}{"transaction_key": "order-2"}, nil, http.StatusNotFound},
		{"unknown gateway", "/api/payments/callback/paypal", map[string]interface{}{}, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, tt.path, "", tt.body, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	sup, _ := e.store.FindSupporter(context.Background(), supporter, creator)
	if sup != nil && sup.Active {
		t.Fatal("rejected callbacks must not grant entitlement")
	}
}

func TestGatewayCallback_FailureMarksTransaction(t *testing.T) {
	e := newEnv(t)
	e.pending("order-3", 50000)

	rec := e.do(http.MethodPost, "/api/payments/callback/midtrans", "",
		map[string]interface{}{"order_id": "order-3", "status": "deny", "gross_amount": 50000}, signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	txn, err := e.store.GetTransaction(context.Background(), "order-3")
	if err != nil || txn == nil {
		t.Fatalf("GetTransaction: %v, %v", txn, err)
	}
	if txn.Status != domain.TransactionFailed {
		t.Errorf("status = %s, want failed", txn.Status)
	}
}

func TestGatewayCallback_FailureWithoutKeyIsIgnored(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/payments/callback/midtrans", "",
		map[string]interface{}{"status": "deny", "gross_amount": 50000}, signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	decode(t, rec, &got)
	if got["status"] != "ignored" {
		t.Errorf("body = %v", got)
	}
}

func TestAdminTransactionAudit(t *testing.T) {
	e := newEnv(t)
	e.pending("order-4", 50000)
	body := map[string]interface{}{"order_id": "order-4", "status": "settlement", "gross_amount": 50000}
	if rec := e.do(http.MethodPost, "/api/payments/callback/midtrans", "", body, signed); rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d", rec.Code)
	}

	txn, _ := e.store.GetTransaction(context.Background(), "order-4")
	if txn == nil || txn.RawPayload == "" || bytes.Contains([]byte(txn.RawPayload), []byte("order-4")) {
		t.Fatalf("stored payload should be sealed, got %+v", txn)
	}

	admin := e.token("root", "admin")
	rec := e.do(http.MethodGet, "/api/admin/transactions/order-4", admin, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var audit struct {
		Key     string `json:"key"`
		Status  string `json:"status"`
		Payload struct {
			OrderID string `json:"order_id"`
		} `json:"payload"`
		PayloadError string `json:"payloadError"`
	}
	decode(t, rec, &audit)
	if audit.Status != "completed" || audit.Payload.OrderID != "order-4" || audit.PayloadError != "" {
		t.Errorf("audit = %+v", audit)
	}

	if rec := e.do(http.MethodGet, "/api/admin/transactions/missing", admin, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/api/admin/transactions/order-4", e.token(supporter, "user"), nil, nil); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d", rec.Code)
	}
}

func TestCheckout(t *testing.T) {
	e := newEnv(t)
	req := map[string]interface{}{"creatorId": creator, "tierLevel": 1, "amount": 50000, "gateway": "midtrans"}

	if rec := e.do(http.MethodPost, "/api/checkout", "", req, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec := e.do(http.MethodPost, "/api/checkout", e.token(supporter, "user"), req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	decode(t, rec, &resp)
	if resp.TransactionKey == "" || resp.PaymentURL == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	txn, _ := e.store.GetTransaction(context.Background(), resp.TransactionKey)
	if txn == nil || txn.Status != domain.TransactionPending {
		t.Fatalf("checkout must record a pending transaction, got %+v", txn)
	}

	invalid := map[string]interface{}{"creatorId": creator, "tierLevel": 0, "amount": 50000, "gateway": "midtrans"}
	if rec := e.do(http.MethodPost, "/api/checkout", e.token(supporter, "user"), invalid, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid: status = %d", rec.Code)
	}
	self := map[string]interface{}{"creatorId": supporter, "tierLevel": 1, "amount": 50000, "gateway": "midtrans"}
	if rec := e.do(http.MethodPost, "/api/checkout", e.token(supporter, "user"), self, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("self: status = %d", rec.Code)
	}
}

func TestSubscriptionLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	admin := e.token("admin-1", "admin")
	user := e.token(supporter, "user")

	sim := map[string]interface{}{"supporterId": supporter, "creatorId": creator, "tierLevel": 2, "amount": 100000}
	if rec := e.do(http.MethodPost, "/api/admin/payments/simulate", user, sim, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin simulate: status = %d", rec.Code)
	}
	if rec := e.do(http.MethodPost, "/api/admin/payments/simulate", admin, sim, nil); rec.Code != http.StatusOK {
		t.Fatalf("simulate: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec := e.do(http.MethodGet, "/api/subscriptions/"+creator, user, nil, nil)
	var view domain.SubscriptionView
	decode(t, rec, &view)
	if view.DisplayStatus != domain.StatusActive || view.TierLevel != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}

	rec = e.do(http.MethodGet, "/api/subscriptions/"+creator+"/entitlement", user, nil, nil)
	var sup domain.Supporter
	decode(t, rec, &sup)
	if !sup.Active {
		t.Fatalf("expected active entitlement, got %+v", sup)
	}

	rec = e.do(http.MethodPost, "/api/subscriptions/"+creator+"/cancel", user,
		map[string]interface{}{"removeFromChannels": true, "reason": "moving on"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var cancelled domain.CancelResult
	decode(t, rec, &cancelled)
	if !cancelled.Success || !cancelled.SubscriptionCancelled || len(cancelled.ChannelsRemovedFrom) != 1 {
		t.Fatalf("unexpected cancel result: %+v", cancelled)
	}

	rec = e.do(http.MethodPost, "/api/subscriptions/"+creator+"/cancel", user, nil, nil)
	decode(t, rec, &cancelled)
	if !cancelled.Success || cancelled.SubscriptionCancelled {
		t.Fatalf("second cancel should be a no-op, got %+v", cancelled)
	}

	rec = e.do(http.MethodGet, "/api/admin/stats", admin, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
}

func TestCurrentSubscription_None(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/subscriptions/"+creator, e.token(supporter, "user"), nil, nil)
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "none" {
		t.Fatalf("body = %v", body)
	}
}

func TestTiers(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/creators/"+creator+"/tiers", "", nil, nil)
	var tiers []domain.TierOverview
	decode(t, rec, &tiers)
	if len(tiers) != 2 || tiers[0].Level != 1 || tiers[1].Level != 2 {
		t.Fatalf("unexpected tiers: %+v", tiers)
	}
}

func TestCronExpirations(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(http.MethodPost, "/api/cron/expirations", "", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: status = %d", rec.Code)
	}
	if rec := e.do(http.MethodPost, "/api/cron/expirations", "", nil, map[string]string{middleware.CronSecretHeader: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
	rec := e.do(http.MethodPost, "/api/cron/expirations", "", nil, map[string]string{middleware.CronSecretHeader: cronSecret})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res domain.SweepResult
	decode(t, rec, &res)
	if res.Checked != 0 {
		t.Errorf("checked = %d on an empty store", res.Checked)
	}
}

func TestMe_RemembersUser(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/me", e.token(supporter, "user"), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/api/me", "not-a-token", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		db   handler.Pinger
		chat handler.Pinger
		want int
	}{
		{"all up", pinger{}, pinger{}, http.StatusOK},
		{"memory store", nil, pinger{}, http.StatusOK},
		{"chat down is not fatal", pinger{}, pinger{err: errors.New("down")}, http.StatusOK},
		{"db down", pinger{err: errors.New("down")}, pinger{}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.NewHealthHandler(tt.db, tt.chat).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestError_MapsAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	handler.Error(rec, domain.ErrConflict("busy"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.Error(rec, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
