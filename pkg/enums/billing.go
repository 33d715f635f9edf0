package enums

import (
	"fmt"
	"strings"
)

// PlanStatus controls whether a catalogue tier can still be assigned.
type PlanStatus string

const (
	PlanStatusActive     PlanStatus = "active"
	PlanStatusDeprecated PlanStatus = "deprecated"
	PlanStatusHidden     PlanStatus = "hidden"
)

// BillingInterval is how often a tier is charged.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

func (p PlanStatus) IsValid() bool {
	switch p {
	case PlanStatusActive, PlanStatusDeprecated, PlanStatusHidden:
		return true
	}
	return false
}

func (b BillingInterval) IsValid() bool {
	return b == BillingIntervalMonthly || b == BillingIntervalAnnual
}

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// Entitles reports whether the subscription still grants its plan. Past-due
// merchants keep their tier until the provider cancels.
func (s SubscriptionStatus) Entitles() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing || s == SubscriptionStatusPastDue
}

// ParseSubscriptionStatus accepts provider spellings case-insensitively.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(strings.ToLower(strings.TrimSpace(value)))
	if s == "cancelled" {
		s = SubscriptionStatusCanceled
	}
	if !s.IsValid() {
		return "", fmt.Errorf("invalid subscription status %q", value)
	}
	return s, nil
}
