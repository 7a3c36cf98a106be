package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
	"github.com/supportly/backend/internal/service"
	"github.com/supportly/backend/pkg/payment"
)

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	gateways  service.GatewayResolver
	lifecycle *service.LifecycleService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(gateways service.GatewayResolver, lifecycle *service.LifecycleService) *WebhookHandler {
	return &WebhookHandler{gateways: gateways, lifecycle: lifecycle}
}

// GatewayCallback handles POST /api/payments/callback/{gateway}.
//
// Verified settlements are applied through the orchestrator. Definitive failures
// mark the pending transaction failed and are acknowledged so the gateway stops
// retrying. Anything that cannot be authenticated is rejected with 400.
func (h *WebhookHandler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "gateway"))
	// Manual payments are admin-only and never arrive from outside.
	if name == payment.Manual {
		JSON(w, http.StatusNotFound, map[string]string{"error": "unknown gateway"})
		return
	}
	gw, err := h.gateways.Get(name)
	if err != nil {
		JSON(w, http.StatusNotFound, map[string]string{"error": "unknown gateway"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	v := gw.Verify(r.Context(), payment.Callback{Header: r.Header, Body: body}, h.lifecycle.Expectation)
	log := logging.With().Str("gateway", gw.Name()).Str("transaction_key", v.TransactionKey).Logger()

	switch {
	case v.Verified:
		res, err := h.lifecycle.ConfirmPayment(r.Context(), service.ConfirmationFromVerification(gw.Name(), v, body))
		if err != nil {
			Error(w, err)
			return
		}
		JSON(w, http.StatusOK, res)
	case v.Failed && v.TransactionKey == "":
		log.Warn().Str("status", v.Status).Msg("failure notification carries no transaction key")
		JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case v.Failed:
		if err := h.lifecycle.RejectPayment(r.Context(), gw.Name(), v.TransactionKey, body); err != nil {
			Error(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]string{"status": "failed"})
	case v.Ignored:
		log.Debug().Str("status", v.Status).Msg("ignoring gateway notification")
		JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case v.Retryable:
		log.Warn().Str("reason", v.Reason).Msg("gateway callback deferred")
		JSON(w, http.StatusServiceUnavailable, map[string]string{"error": v.Reason})
	default:
		metrics.PaymentConfirmations.WithLabelValues(gw.Name(), "rejected").Inc()
		log.Warn().Str("reason", v.Reason).Msg("gateway callback rejected")
		JSON(w, http.StatusBadRequest, map[string]string{"error": v.Reason})
	}
}
