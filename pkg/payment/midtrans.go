package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// MidtransConfig configures the Midtrans adapter.
type MidtransConfig struct {
	ServerKey string
	// SnapURL hosts the checkout (Snap) API; Options.BaseURL hosts the core API.
	SnapURL string
	Options
}

// MidtransGateway talks to Midtrans Snap for checkout and the core API for subscriptions.
type MidtransGateway struct {
	serverKey string
	core      *apiClient
	snap      *apiClient
}

// NewMidtrans creates a Midtrans adapter.
func NewMidtrans(cfg MidtransConfig) *MidtransGateway {
	auth := func(r *http.Request) { r.SetBasicAuth(cfg.ServerKey, "") }
	snapOpts := cfg.Options
	snapOpts.BaseURL = cfg.SnapURL
	return &MidtransGateway{
		serverKey: cfg.ServerKey,
		core:      newAPIClient(Midtrans, cfg.Options, auth),
		snap:      newAPIClient(Midtrans, snapOpts, auth),
	}
}

func (g *MidtransGateway) Name() string { return Midtrans }

// InitiatePayment creates a Snap transaction and returns its redirect URL.
func (g *MidtransGateway) InitiatePayment(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	gross := int64(math.Round(req.Amount))
	payload := map[string]interface{}{
		"transaction_details": map[string]interface{}{
			"order_id":     req.OrderID,
			"gross_amount": gross,
		},
		"item_details": []map[string]interface{}{{
			"id":       fmt.Sprintf("tier-%d", req.TierLevel),
			"price":    gross,
			"quantity": 1,
			"name":     req.Description,
		}},
		"customer_details": map[string]interface{}{
			"email": req.Email,
		},
		"custom_field1": req.SupporterID,
		"custom_field2": req.CreatorID,
	}
	if req.SuccessURL != "" {
		payload["callbacks"] = map[string]string{"finish": req.SuccessURL}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("midtrans: failed to encode checkout: %w", err)
	}

	data, err := g.snap.do(ctx, http.MethodPost, "/snap/v1/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Token       string `json:"token"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("midtrans: failed to decode checkout: %w", err)
	}
	if resp.RedirectURL == "" {
		return nil, fmt.Errorf("midtrans: checkout response has no redirect_url")
	}
	return &Checkout{PaymentURL: resp.RedirectURL, ExternalRef: resp.Token}, nil
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
	Currency          string `json:"currency"`
	SubscriptionID    string `json:"subscription_id"`
}

// Signature computes the Midtrans notification signature for the given fields.
func (g *MidtransGateway) Signature(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + g.serverKey))
	return hex.EncodeToString(sum[:])
}

// Verify checks the SHA-512 signature_key and settles on settlement, or capture with
// an accepted fraud status.
func (g *MidtransGateway) Verify(ctx context.Context, cb Callback, expect ExpectFunc) Verification {
	var n midtransNotification
	if err := json.Unmarshal(cb.Body, &n); err != nil {
		return Verification{Reason: "malformed notification body"}
	}

	want := g.Signature(n.OrderID, n.StatusCode, n.GrossAmount)
	if subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) != 1 {
		return Verification{Reason: "invalid signature"}
	}

	v := Verification{
		TransactionKey:         n.OrderID,
		ExternalRef:            n.TransactionID,
		ExternalSubscriptionID: n.SubscriptionID,
		Currency:               n.Currency,
		Status:                 n.TransactionStatus,
	}
	switch n.TransactionStatus {
	case "settlement":
	case "capture":
		if n.FraudStatus != "accept" {
			v.Ignored = true
			v.Reason = "capture awaiting fraud review: " + n.FraudStatus
			return v
		}
	case "deny", "cancel", "expire", "failure":
		v.Failed = true
		v.Reason = "payment " + n.TransactionStatus
		return v
	default:
		v.Ignored = true
		v.Reason = "payment not settled: " + n.TransactionStatus
		return v
	}

	amount, err := strconv.ParseFloat(n.GrossAmount, 64)
	if err != nil {
		v.Reason = "malformed gross_amount"
		return v
	}
	v.Amount = amount
	return resolve(ctx, expect, v)
}

// CancelRecurring disables a Midtrans subscription.
func (g *MidtransGateway) CancelRecurring(ctx context.Context, externalID string) error {
	_, err := g.core.do(ctx, http.MethodPost, "/v1/subscriptions/"+externalID+"/disable", "application/json", nil)
	return err
}
