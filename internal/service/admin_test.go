package service

import (
	"testing"
	"time"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/pkg/crypto"
)

func TestAdmin_StatsAndExpiring(t *testing.T) {
	h := newHarness(t)
	paid := h.confirm("txn-1", 2, 500)
	admin := NewAdminService(h.store, h.users, h.store, h.store, nil, 2)
	admin.now = h.clock

	stats, err := admin.Stats(h.ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Subscriptions["active"] != 1 || stats.ActiveSupporters != 1 || stats.Users != 2 || stats.Revenue != 500 {
		t.Errorf("stats = %+v", stats)
	}

	h.now = paid.PeriodEnd.Add(-36 * time.Hour)
	views, err := admin.Expiring(h.ctx, 3)
	if err != nil {
		t.Fatalf("Expiring: %v", err)
	}
	if len(views) != 1 || views[0].DisplayStatus != "expiring_soon" || views[0].DaysUntilExpiry != 1 {
		t.Errorf("views = %+v", views)
	}

	if _, err := admin.Expiring(h.ctx, 0); err == nil {
		t.Error("expected error for days=0")
	}
}

func TestAdmin_TransactionAudit(t *testing.T) {
	h := newHarness(t)
	sealer, err := crypto.NewPayloadSealer("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewPayloadSealer: %v", err)
	}
	admin := NewAdminService(h.store, h.users, h.store, h.store, sealer, 2)

	failed := func(key, stored string) {
		t.Helper()
		err := h.store.CreatePendingTransaction(h.ctx, &domain.Transaction{
			Key: key, SupporterID: testSupporter, CreatorID: testCreator, TierLevel: 1,
			Amount: 100, Currency: "IDR", Gateway: "midtrans", Status: domain.TransactionPending,
		})
		if err != nil {
			t.Fatalf("CreatePendingTransaction: %v", err)
		}
		if err := h.store.FailTransaction(h.ctx, key, stored); err != nil {
			t.Fatalf("FailTransaction: %v", err)
		}
	}
	good, _ := sealer.Seal("txn-good", []byte(`{"transaction_status":"deny"}`))
	moved, _ := sealer.Seal("txn-other", []byte(`{"transaction_status":"deny"}`))
	failed("txn-good", good)
	failed("txn-moved", moved)
	failed("txn-plain", `{"transaction_status":"deny"}`)
	failed("txn-empty", "")

	tests := []struct {
		key         string
		wantPayload bool
		wantError   bool
	}{
		{"txn-good", true, false},
		{"txn-moved", false, true},
		{"txn-plain", false, true},
		{"txn-empty", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			audit, err := admin.TransactionAudit(h.ctx, tt.key)
			if err != nil {
				t.Fatalf("TransactionAudit: %v", err)
			}
			if (len(audit.Payload) > 0) != tt.wantPayload || (audit.PayloadError != "") != tt.wantError {
				t.Errorf("audit = %+v", audit)
			}
			if audit.Status != domain.TransactionFailed {
				t.Errorf("status = %s", audit.Status)
			}
		})
	}

	_, err = admin.TransactionAudit(h.ctx, "missing")
	if appErr, ok := domain.AsAppError(err); !ok || appErr.Code != 404 {
		t.Errorf("missing: err = %v", err)
	}
}
