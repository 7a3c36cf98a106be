package domain

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func commit(tier int) PaymentCommit {
	return PaymentCommit{
		TransactionKey: "tx-1",
		SupporterID:    "sup-1",
		CreatorID:      "cre-1",
		TierLevel:      tier,
		Amount:         500,
		Currency:       "IDR",
		Gateway:        "midtrans",
		At:             testNow,
		Cycle:          MonthlyCycle,
	}
}

func TestPlanRenewal_CreatesWhenNoActive(t *testing.T) {
	plan := PlanRenewal(nil, commit(2), "sub-new")

	if plan.Kind != RenewalCreated {
		t.Fatalf("expected created, got %s", plan.Kind)
	}
	if plan.Next.ID != "sub-new" || plan.Next.Status != StatusActive {
		t.Fatalf("unexpected next row: %+v", plan.Next)
	}
	want := testNow.AddDate(0, 1, 0)
	if !plan.Next.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected period end %s, got %s", want, plan.Next.CurrentPeriodEnd)
	}
	if plan.Superseded != nil {
		t.Fatal("expected no superseded row")
	}
}

func TestPlanRenewal_ExtendsSameTierFromPeriodEnd(t *testing.T) {
	end := testNow.Add(5 * 24 * time.Hour)
	active := &Subscription{
		ID: "sub-1", TierLevel: 2, Status: StatusActive,
		CurrentPeriodStart: end.AddDate(0, -1, 0), CurrentPeriodEnd: end,
		RenewalCount: 3, Version: 7,
		RemindersSent: map[int]time.Time{2: testNow},
	}

	plan := PlanRenewal(active, commit(2), "unused")

	if plan.Kind != RenewalRenewed {
		t.Fatalf("expected renewed, got %s", plan.Kind)
	}
	if plan.Next.ID != "sub-1" {
		t.Fatalf("renewal must keep the row id, got %s", plan.Next.ID)
	}
	if !plan.Next.CurrentPeriodEnd.Equal(end.AddDate(0, 1, 0)) {
		t.Fatalf("expected period extended from old end, got %s", plan.Next.CurrentPeriodEnd)
	}
	if plan.Next.RenewalCount != 4 {
		t.Fatalf("expected renewal count 4, got %d", plan.Next.RenewalCount)
	}
	if len(plan.Next.RemindersSent) != 0 {
		t.Fatal("expected reminders reset for the new period")
	}
	if active.RenewalCount != 3 {
		t.Fatal("planning must not mutate the stored row")
	}
}

func TestPlanRenewal_LapsedPeriodExtendsFromNow(t *testing.T) {
	active := &Subscription{
		ID: "sub-1", TierLevel: 1, Status: StatusActive,
		CurrentPeriodEnd: testNow.Add(-48 * time.Hour),
	}

	plan := PlanRenewal(active, commit(1), "unused")

	if !plan.Next.CurrentPeriodEnd.Equal(testNow.AddDate(0, 1, 0)) {
		t.Fatalf("expected period from now, got %s", plan.Next.CurrentPeriodEnd)
	}
}

func TestPlanRenewal_SupersedesOnTierChange(t *testing.T) {
	active := &Subscription{
		ID: "sub-1", TierLevel: 3, Status: StatusActive,
		CurrentPeriodEnd: testNow.Add(10 * 24 * time.Hour),
	}

	plan := PlanRenewal(active, commit(1), "sub-2")

	if plan.Kind != RenewalSuperseded {
		t.Fatalf("expected superseded, got %s", plan.Kind)
	}
	if plan.Superseded == nil || plan.Superseded.Status != StatusCancelled {
		t.Fatalf("expected old row cancelled, got %+v", plan.Superseded)
	}
	if plan.Superseded.CancelReason != SupersededReason {
		t.Fatalf("expected reason %q, got %q", SupersededReason, plan.Superseded.CancelReason)
	}
	if plan.PreviousTier != 3 || plan.Next.TierLevel != 1 {
		t.Fatalf("unexpected tiers: previous=%d next=%d", plan.PreviousTier, plan.Next.TierLevel)
	}
}

func TestPlanRenewal_ExternalSubscriptionID(t *testing.T) {
	p := commit(1)
	p.ExternalSubscriptionID = "ext-9"

	plan := PlanRenewal(nil, p, "sub-1")

	if !plan.Next.HasExternalSubscription() || *plan.Next.ExternalSubscriptionID != "ext-9" {
		t.Fatalf("expected external subscription id, got %+v", plan.Next.ExternalSubscriptionID)
	}
}
