package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
	"github.com/supportly/backend/pkg/payment"
)

// CheckoutService starts payments and records the pending transaction each gateway
// callback is later verified against.
type CheckoutService struct {
	store     LifecycleStore
	gateways  GatewayResolver
	lifecycle *LifecycleService
	validate  *validator.Validate
	baseURL   string
	timeout   time.Duration
	now       func() time.Time
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(store LifecycleStore, gateways GatewayResolver, lifecycle *LifecycleService, appBaseURL string, timeout time.Duration) *CheckoutService {
	return &CheckoutService{
		store:     store,
		gateways:  gateways,
		lifecycle: lifecycle,
		validate:  validator.New(),
		baseURL:   strings.TrimRight(appBaseURL, "/"),
		timeout:   timeout,
		now:       time.Now,
	}
}

func defaultCurrency(gateway string) string {
	if gateway == payment.Stripe {
		return "USD"
	}
	return "IDR"
}

// CreateCheckout records a pending transaction and returns the gateway's payment page.
func (s *CheckoutService) CreateCheckout(ctx context.Context, caller *domain.JWTClaims, req *domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if caller == nil || caller.Sub == "" {
		return nil, domain.ErrUnauthorized("missing caller identity")
	}
	if caller.Sub == req.CreatorID {
		return nil, domain.ErrBadRequest("cannot subscribe to yourself")
	}
	gw, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, domain.ErrBadRequest(err.Error())
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = defaultCurrency(req.Gateway)
	}

	now := s.now()
	txn := &domain.Transaction{
		Key:         uuid.NewString(),
		SupporterID: caller.Sub,
		CreatorID:   req.CreatorID,
		TierLevel:   req.TierLevel,
		Amount:      req.Amount,
		Currency:    currency,
		Gateway:     gw.Name(),
		Recurring:   req.Recurring,
		Status:      domain.TransactionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePendingTransaction(ctx, txn); err != nil {
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrInternal("failed to record transaction", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	checkout, err := gw.InitiatePayment(callCtx, payment.CheckoutRequest{
		OrderID:     txn.Key,
		SupporterID: caller.Sub,
		CreatorID:   req.CreatorID,
		Email:       caller.Email,
		Description: fmt.Sprintf("Tier %d membership", req.TierLevel),
		TierLevel:   req.TierLevel,
		Amount:      req.Amount,
		Currency:    currency,
		Recurring:   req.Recurring,
		SuccessURL:  fmt.Sprintf("%s/creators/%s/membership?checkout=success", s.baseURL, req.CreatorID),
		CancelURL:   fmt.Sprintf("%s/creators/%s/membership?checkout=cancelled", s.baseURL, req.CreatorID),
	})
	metrics.ExternalCallDuration.WithLabelValues(gw.Name(), "initiate_payment").Observe(time.Since(start).Seconds())
	if err != nil {
		if ferr := s.store.FailTransaction(ctx, txn.Key, ""); ferr != nil {
			logging.Warn().Err(ferr).Str("transaction_key", txn.Key).Msg("failed to mark abandoned checkout")
		}
		return nil, domain.ErrInternal("payment gateway unavailable", err)
	}

	logging.Info().
		Str("event", "checkout_started").
		Str("gateway", gw.Name()).
		Str("transaction_key", txn.Key).
		Str("supporter_id", caller.Sub).
		Str("creator_id", req.CreatorID).
		Msg("checkout started")

	return &domain.CheckoutResponse{
		TransactionKey: txn.Key,
		PaymentURL:     checkout.PaymentURL,
		Gateway:        gw.Name(),
	}, nil
}

// SimulatePayment records a direct payment through the manual gateway, as an admin
// would for a bank transfer settled outside any gateway.
func (s *CheckoutService) SimulatePayment(ctx context.Context, req *domain.SimulatePaymentRequest) (*domain.ConfirmPaymentResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	gw, err := s.gateways.Get(payment.Manual)
	if err != nil {
		return nil, domain.ErrInternal("manual gateway not configured", err)
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = defaultCurrency(payment.Manual)
	}

	now := s.now()
	txn := &domain.Transaction{
		Key:         uuid.NewString(),
		SupporterID: req.SupporterID,
		CreatorID:   req.CreatorID,
		TierLevel:   req.TierLevel,
		Amount:      req.Amount,
		Currency:    currency,
		Gateway:     payment.Manual,
		Status:      domain.TransactionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePendingTransaction(ctx, txn); err != nil {
		return nil, domain.ErrInternal("failed to record transaction", err)
	}

	body, err := json.Marshal(map[string]string{"transaction_key": txn.Key})
	if err != nil {
		return nil, domain.ErrInternal("failed to encode payment", err)
	}
	v := gw.Verify(ctx, payment.Callback{Body: body}, s.lifecycle.Expectation)
	if !v.Verified {
		return nil, domain.ErrInternal("manual payment rejected: "+v.Reason, nil)
	}
	return s.lifecycle.ConfirmPayment(ctx, ConfirmationFromVerification(payment.Manual, v, body))
}
