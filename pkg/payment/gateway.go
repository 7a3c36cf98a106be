// Package payment adapts external payment gateways to a single checkout and
// callback verification contract.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
)

// Gateway identifiers as stored on transactions and subscriptions.
const (
	Midtrans = "midtrans"
	Xendit   = "xendit"
	Stripe   = "stripe"
	Manual   = "manual"
)

// ErrUnknownGateway is returned by the registry for an unregistered identifier.
var ErrUnknownGateway = errors.New("unknown payment gateway")

// ErrUnsupported is returned when a gateway does not offer an operation.
var ErrUnsupported = errors.New("operation not supported by gateway")

// CheckoutRequest describes a payment the supporter is about to make.
type CheckoutRequest struct {
	OrderID     string
	SupporterID string
	CreatorID   string
	Email       string
	Description string
	TierLevel   int
	Amount      float64
	Currency    string
	Recurring   bool
	SuccessURL  string
	CancelURL   string
}

// Checkout is where the supporter completes the payment.
type Checkout struct {
	PaymentURL  string
	ExternalRef string
}

// Callback is a raw server-to-server notification from a gateway.
type Callback struct {
	Header http.Header
	Body   []byte
}

// Expected is what the platform recorded for a transaction before the gateway called back.
type Expected struct {
	SupporterID string
	CreatorID   string
	TierLevel   int
	Amount      float64
	Currency    string
	Recurring   bool
}

// ExpectFunc looks up the recorded transaction for a key; nil, nil means unknown.
type ExpectFunc func(ctx context.Context, transactionKey string) (*Expected, error)

// Verification is the outcome of checking a callback. It is never an error:
// a callback that cannot be trusted or does not settle a payment has Verified false
// and a Reason.
type Verification struct {
	Verified bool
	// Failed is set when the gateway reported a definitive payment failure.
	Failed bool
	// Ignored is set for authentic notifications that carry no final outcome.
	Ignored bool
	// Retryable is set when verification could not complete for a local reason.
	Retryable bool
	Reason    string

	TransactionKey         string
	ExternalRef            string
	ExternalSubscriptionID string
	Amount                 float64
	Currency               string
	Status                 string
	Expected               *Expected
}

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Name() string
	InitiatePayment(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	Verify(ctx context.Context, cb Callback, expect ExpectFunc) Verification
	CancelRecurring(ctx context.Context, externalID string) error
}

// amountEpsilon tolerates rounding in gateway-reported decimal amounts.
const amountEpsilon = 0.01

// AmountMatches reports whether a gateway-reported amount equals the expected one.
func AmountMatches(expected, reported float64) bool {
	return math.Abs(expected-reported) < amountEpsilon
}

// resolve completes v against the recorded transaction: the key must be known and
// the reported amount and currency must match what was recorded.
func resolve(ctx context.Context, expect ExpectFunc, v Verification) Verification {
	if v.TransactionKey == "" {
		v.Reason = "callback carries no transaction key"
		return v
	}
	exp, err := expect(ctx, v.TransactionKey)
	if err != nil {
		v.Retryable = true
		v.Reason = fmt.Sprintf("transaction lookup failed: %v", err)
		return v
	}
	if exp == nil {
		v.Reason = "unknown transaction " + v.TransactionKey
		return v
	}
	v.Expected = exp
	if !AmountMatches(exp.Amount, v.Amount) {
		v.Reason = fmt.Sprintf("amount mismatch: expected %.2f, got %.2f", exp.Amount, v.Amount)
		return v
	}
	if exp.Currency != "" && v.Currency != "" && !strings.EqualFold(exp.Currency, v.Currency) {
		v.Reason = fmt.Sprintf("currency mismatch: expected %s, got %s", exp.Currency, v.Currency)
		return v
	}
	v.Verified = true
	return v
}

// Registry selects an adapter by gateway identifier.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates a registry holding gws.
func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gws))}
	for _, g := range gws {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return g, nil
}

// Names lists the registered identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
