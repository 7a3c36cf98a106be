package payment

import (
	"context"

	"github.com/goccy/go-json"
)

// ManualGateway records payments taken outside any gateway, such as admin-entered
// transfers. It has no hosted checkout and nothing to cancel remotely.
type ManualGateway struct{}

// NewManual creates the manual adapter.
func NewManual() *ManualGateway { return &ManualGateway{} }

func (g *ManualGateway) Name() string { return Manual }

func (g *ManualGateway) InitiatePayment(context.Context, CheckoutRequest) (*Checkout, error) {
	return nil, ErrUnsupported
}

// Verify accepts a body of {"transaction_key": "..."} and settles at the recorded amount.
// The callback route must only be reachable by trusted callers for this gateway.
func (g *ManualGateway) Verify(ctx context.Context, cb Callback, expect ExpectFunc) Verification {
	var body struct {
		TransactionKey string `json:"transaction_key"`
	}
	if err := json.Unmarshal(cb.Body, &body); err != nil {
		return Verification{Reason: "malformed body"}
	}
	exp, err := expect(ctx, body.TransactionKey)
	if err != nil {
		return Verification{Retryable: true, Reason: "transaction lookup failed: " + err.Error()}
	}
	if exp == nil {
		return Verification{TransactionKey: body.TransactionKey, Reason: "unknown transaction " + body.TransactionKey}
	}
	return Verification{
		Verified:       true,
		TransactionKey: body.TransactionKey,
		Amount:         exp.Amount,
		Currency:       exp.Currency,
		Status:         "manual",
		Expected:       exp,
	}
}

func (g *ManualGateway) CancelRecurring(context.Context, string) error { return nil }
