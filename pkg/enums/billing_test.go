package enums

import "testing"

func TestParseSubscriptionStatus(t *testing.T) {
	cases := map[string]SubscriptionStatus{
		"active":     SubscriptionStatusActive,
		" Trialing ": SubscriptionStatusTrialing,
		"PAST_DUE":   SubscriptionStatusPastDue,
		"cancelled":  SubscriptionStatusCanceled,
	}
	for raw, want := range cases {
		got, err := ParseSubscriptionStatus(raw)
		if err != nil || got != want {
			t.Fatalf("ParseSubscriptionStatus(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseSubscriptionStatus("paused"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestSubscriptionEntitlement(t *testing.T) {
	if !SubscriptionStatusPastDue.Entitles() {
		t.Fatalf("past due keeps the plan")
	}
	if SubscriptionStatusCanceled.Entitles() {
		t.Fatalf("canceled must not entitle")
	}
	if !BillingIntervalMonthly.IsValid() || BillingInterval("EVERY_30_DAYS").IsValid() {
		t.Fatalf("unexpected interval validity")
	}
}
