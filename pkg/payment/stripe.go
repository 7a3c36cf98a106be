package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// stripeTolerance bounds the age of a signed webhook.
const stripeTolerance = 5 * time.Minute

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Options
}

// StripeGateway creates Checkout Sessions and verifies signed webhook events.
type StripeGateway struct {
	webhookSecret string
	api           *apiClient
	now           func() time.Time
}

// NewStripe creates a Stripe adapter.
func NewStripe(cfg StripeConfig) *StripeGateway {
	return &StripeGateway{
		webhookSecret: cfg.WebhookSecret,
		api:           newAPIClient(Stripe, cfg.Options, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cfg.SecretKey) }),
		now:           time.Now,
	}
}

func (g *StripeGateway) Name() string { return Stripe }

func toMinor(amount float64) int64 { return int64(math.Round(amount * 100)) }

func fromMinor(amount int64) float64 { return float64(amount) / 100 }

// InitiatePayment creates a Checkout Session, in subscription mode when recurring.
func (g *StripeGateway) InitiatePayment(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "idr"
	}
	form := url.Values{}
	form.Set("client_reference_id", req.OrderID)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("customer_email", req.Email)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(toMinor(req.Amount), 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	if req.Recurring {
		form.Set("mode", "subscription")
		form.Set("line_items[0][price_data][recurring][interval]", "month")
		form.Set("subscription_data[metadata][order_id]", req.OrderID)
	} else {
		form.Set("mode", "payment")
	}

	data, err := g.api.do(ctx, http.MethodPost, "/v1/checkout/sessions", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("stripe: failed to decode session: %w", err)
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("stripe: session response has no url")
	}
	return &Checkout{PaymentURL: resp.URL, ExternalRef: resp.ID}, nil
}

// Sign returns a Stripe-Signature header value for payload at t.
func (g *StripeGateway) Sign(payload []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (g *StripeGateway) verifySignature(header string, payload []byte) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("missing timestamp or v1 signature")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp")
	}
	age := g.now().Sub(time.Unix(sec, 0))
	if age > stripeTolerance || age < -stripeTolerance {
		return fmt.Errorf("timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentStatus     string            `json:"payment_status"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID                  string `json:"id"`
	AmountPaid          int64  `json:"amount_paid"`
	Currency            string `json:"currency"`
	Subscription        string `json:"subscription"`
	BillingReason       string `json:"billing_reason"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

// Verify checks the Stripe-Signature header and handles checkout.session.completed
// and recurring invoice.paid events. A recurring invoice is confirmed under its own
// key, with the expectation taken from the order that started the subscription.
func (g *StripeGateway) Verify(ctx context.Context, cb Callback, expect ExpectFunc) Verification {
	if g.webhookSecret == "" {
		return Verification{Reason: "webhook secret not configured"}
	}
	if err := g.verifySignature(cb.Header.Get("Stripe-Signature"), cb.Body); err != nil {
		return Verification{Reason: "invalid signature: " + err.Error()}
	}

	var ev stripeEvent
	if err := json.Unmarshal(cb.Body, &ev); err != nil {
		return Verification{Reason: "malformed event body"}
	}

	switch ev.Type {
	case "checkout.session.completed":
		var s stripeCheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
			return Verification{Reason: "malformed checkout session"}
		}
		key := s.ClientReferenceID
		if key == "" {
			key = s.Metadata["order_id"]
		}
		v := Verification{
			TransactionKey:         key,
			ExternalRef:            s.ID,
			ExternalSubscriptionID: s.Subscription,
			Amount:                 fromMinor(s.AmountTotal),
			Currency:               s.Currency,
			Status:                 s.PaymentStatus,
		}
		if s.PaymentStatus != "paid" {
			v.Ignored = true
			v.Reason = "session not paid: " + s.PaymentStatus
			return v
		}
		return resolve(ctx, expect, v)

	case "invoice.paid":
		var inv stripeInvoice
		if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
			return Verification{Reason: "malformed invoice"}
		}
		v := Verification{
			TransactionKey:         "stripe_" + inv.ID,
			ExternalRef:            inv.ID,
			ExternalSubscriptionID: inv.Subscription,
			Amount:                 fromMinor(inv.AmountPaid),
			Currency:               inv.Currency,
			Status:                 "paid",
		}
		if inv.BillingReason == "subscription_create" {
			v.Ignored = true
			v.Reason = "first invoice is confirmed by checkout.session.completed"
			return v
		}
		origin := inv.SubscriptionDetails.Metadata["order_id"]
		if origin == "" {
			v.Reason = "invoice carries no originating order"
			return v
		}
		originExpect := func(ctx context.Context, _ string) (*Expected, error) {
			return expect(ctx, origin)
		}
		return resolve(ctx, originExpect, v)

	case "checkout.session.expired":
		var s stripeCheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
			return Verification{Reason: "malformed checkout session"}
		}
		key := s.ClientReferenceID
		if key == "" {
			key = s.Metadata["order_id"]
		}
		if key == "" {
			return Verification{Ignored: true, Status: ev.Type, Reason: "expired session carries no order"}
		}
		return Verification{Failed: true, TransactionKey: key, ExternalRef: s.ID, Status: ev.Type, Reason: ev.Type}

	case "invoice.payment_failed":
		// Stripe retries the invoice itself. A first payment that never succeeds ends
		// in checkout.session.expired, a renewal that never succeeds lapses at period end.
		var inv stripeInvoice
		_ = json.Unmarshal(ev.Data.Object, &inv)
		return Verification{Ignored: true, ExternalRef: inv.ID, Status: ev.Type, Reason: "invoice payment failed, awaiting gateway retry"}

	default:
		return Verification{Ignored: true, Status: ev.Type, Reason: "unhandled event " + ev.Type}
	}
}

// CancelRecurring cancels a Stripe subscription immediately.
func (g *StripeGateway) CancelRecurring(ctx context.Context, externalID string) error {
	_, err := g.api.do(ctx, http.MethodDelete, "/v1/subscriptions/"+externalID, "", nil)
	return err
}
