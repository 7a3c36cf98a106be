package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// TransactionStatus is the settlement state of a payment attempt.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is a single payment attempt keyed by a caller-supplied idempotency key.
type Transaction struct {
	Key            string            `json:"key"`
	SupporterID    string            `json:"supporterId"`
	CreatorID      string            `json:"creatorId"`
	SubscriptionID *string           `json:"subscriptionId,omitempty"`
	TierLevel      int               `json:"tierLevel"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	Gateway        string            `json:"gateway"`
	ExternalRef    string            `json:"externalRef,omitempty"`
	Recurring      bool              `json:"recurring"`
	Status         TransactionStatus `json:"status"`
	RawPayload     string            `json:"-"` // encrypted
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// TransactionAudit is a transaction with its stored gateway payload opened for review.
// PayloadError is set when the payload exists but could not be opened.
type TransactionAudit struct {
	Transaction
	Payload      json.RawMessage `json:"payload,omitempty"`
	PayloadError string          `json:"payloadError,omitempty"`
}

// CheckoutRequest is the validated input for starting a payment.
type CheckoutRequest struct {
	CreatorID string  `json:"creatorId" validate:"required,min=1,max=64"`
	TierLevel int     `json:"tierLevel" validate:"required,min=1,max=100"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Currency  string  `json:"currency" validate:"omitempty,len=3"`
	Gateway   string  `json:"gateway" validate:"required,oneof=midtrans xendit stripe"`
	Recurring bool    `json:"recurring"`
}

// CheckoutResponse returns the URL to redirect the supporter to for payment.
type CheckoutResponse struct {
	TransactionKey string `json:"transactionKey"`
	PaymentURL     string `json:"paymentUrl"`
	Gateway        string `json:"gateway"`
}

// SimulatePaymentRequest is the admin-only input for recording a direct payment.
type SimulatePaymentRequest struct {
	SupporterID string  `json:"supporterId" validate:"required"`
	CreatorID   string  `json:"creatorId" validate:"required"`
	TierLevel   int     `json:"tierLevel" validate:"required,min=1,max=100"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"omitempty,len=3"`
}
