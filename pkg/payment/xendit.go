package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// XenditConfig configures the Xendit adapter.
type XenditConfig struct {
	SecretKey string
	// CallbackToken is the verification token Xendit sends in x-callback-token.
	CallbackToken string
	Options
}

// XenditGateway creates Xendit invoices and verifies invoice callbacks.
type XenditGateway struct {
	callbackToken string
	api           *apiClient
}

// NewXendit creates a Xendit adapter.
func NewXendit(cfg XenditConfig) *XenditGateway {
	return &XenditGateway{
		callbackToken: cfg.CallbackToken,
		api:           newAPIClient(Xendit, cfg.Options, func(r *http.Request) { r.SetBasicAuth(cfg.SecretKey, "") }),
	}
}

func (g *XenditGateway) Name() string { return Xendit }

// InitiatePayment creates an invoice and returns its hosted URL.
func (g *XenditGateway) InitiatePayment(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	payload := map[string]interface{}{
		"external_id": req.OrderID,
		"amount":      req.Amount,
		"payer_email": req.Email,
		"description": req.Description,
		"metadata": map[string]interface{}{
			"supporter_id": req.SupporterID,
			"creator_id":   req.CreatorID,
			"tier_level":   req.TierLevel,
		},
	}
	if req.Currency != "" {
		payload["currency"] = req.Currency
	}
	if req.SuccessURL != "" {
		payload["success_redirect_url"] = req.SuccessURL
	}
	if req.CancelURL != "" {
		payload["failure_redirect_url"] = req.CancelURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("xendit: failed to encode invoice: %w", err)
	}

	data, err := g.api.do(ctx, http.MethodPost, "/v2/invoices", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var resp struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoice_url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("xendit: failed to decode invoice: %w", err)
	}
	if resp.InvoiceURL == "" {
		return nil, fmt.Errorf("xendit: invoice response has no invoice_url")
	}
	return &Checkout{PaymentURL: resp.InvoiceURL, ExternalRef: resp.ID}, nil
}

type xenditInvoiceCallback struct {
	ID                 string  `json:"id"`
	ExternalID         string  `json:"external_id"`
	Status             string  `json:"status"`
	Amount             float64 `json:"amount"`
	PaidAmount         float64 `json:"paid_amount"`
	Currency           string  `json:"currency"`
	RecurringPaymentID string  `json:"recurring_payment_id"`
}

// Verify checks the x-callback-token header and settles on PAID or SETTLED.
func (g *XenditGateway) Verify(ctx context.Context, cb Callback, expect ExpectFunc) Verification {
	token := cb.Header.Get("x-callback-token")
	if g.callbackToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(g.callbackToken)) != 1 {
		return Verification{Reason: "invalid callback token"}
	}

	var n xenditInvoiceCallback
	if err := json.Unmarshal(cb.Body, &n); err != nil {
		return Verification{Reason: "malformed callback body"}
	}

	v := Verification{
		TransactionKey:         n.ExternalID,
		ExternalRef:            n.ID,
		ExternalSubscriptionID: n.RecurringPaymentID,
		Currency:               n.Currency,
		Status:                 n.Status,
	}
	switch n.Status {
	case "PAID", "SETTLED":
	case "EXPIRED":
		v.Failed = true
		v.Reason = "invoice expired"
		return v
	default:
		v.Ignored = true
		v.Reason = "invoice not paid: " + n.Status
		return v
	}

	v.Amount = n.PaidAmount
	if v.Amount == 0 {
		v.Amount = n.Amount
	}
	return resolve(ctx, expect, v)
}

// CancelRecurring stops a Xendit recurring payment.
func (g *XenditGateway) CancelRecurring(ctx context.Context, externalID string) error {
	_, err := g.api.do(ctx, http.MethodPost, "/recurring_payments/"+externalID+"/stop!", "application/json", nil)
	return err
}
