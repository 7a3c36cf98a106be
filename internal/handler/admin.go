package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/service"
)

type AdminHandler struct {
	admin    *service.AdminService
	checkout *service.CheckoutService
}

func NewAdminHandler(admin *service.AdminService, checkout *service.CheckoutService) *AdminHandler {
	return &AdminHandler{admin: admin, checkout: checkout}
}

// GetStats returns system-wide subscription metrics.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// Expiring handles GET /api/admin/subscriptions/expiring?days=N.
func (h *AdminHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days := h.admin.DefaultWindow()
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			Error(w, domain.ErrBadRequest("days must be an integer"))
			return
		}
		days = n
	}
	views, err := h.admin.Expiring(r.Context(), days)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, views)
}

// Simulate handles POST /api/admin/payments/simulate.
func (h *AdminHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req domain.SimulatePaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	res, err := h.checkout.SimulatePayment(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Transaction handles GET /api/admin/transactions/{key}.
func (h *AdminHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	audit, err := h.admin.TransactionAudit(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, audit)
}
