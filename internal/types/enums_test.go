package types

import "testing"

func TestPlanTier_Rank(t *testing.T) {
	ordered := []PlanTier{PlanFree, PlanBasic, PlanPro, PlanExpert}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("expected %s to outrank %s", ordered[i], ordered[i-1])
		}
	}
	if PlanTier("platinum").Rank() != -1 {
		t.Errorf("expected unknown tier rank -1, got %d", PlanTier("platinum").Rank())
	}
}

func TestPlanTier_IsPaid(t *testing.T) {
	cases := map[PlanTier]bool{
		PlanFree:             false,
		PlanBasic:            true,
		PlanPro:              true,
		PlanExpert:           true,
		PlanTier("platinum"): false,
	}
	for tier, want := range cases {
		if got := tier.IsPaid(); got != want {
			t.Errorf("%s: expected IsPaid=%v, got %v", tier, want, got)
		}
	}
}

func TestBillingAction_Valid(t *testing.T) {
	for _, action := range []BillingAction{ActionSubscribe, ActionUpgradeKeepInstrument, ActionUpgradeChangeInstrument} {
		if !action.Valid() {
			t.Errorf("expected %s to be valid", action)
		}
	}
	for _, action := range []BillingAction{"", "downgrade", "cancel"} {
		if action.Valid() {
			t.Errorf("expected %q to be invalid", action)
		}
	}
}

func TestUserRole_HasAtLeast(t *testing.T) {
	cases := []struct {
		role UserRole
		min  UserRole
		want bool
	}{
		{RoleOwner, RoleMember, true},
		{RoleOwner, RoleAdmin, true},
		{RoleOwner, RoleOwner, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleOwner, false},
		{RoleMember, RoleAdmin, false},
		{RoleMember, RoleMember, true},
	}
	for _, tc := range cases {
		if got := tc.role.HasAtLeast(tc.min); got != tc.want {
			t.Errorf("%s.HasAtLeast(%s): expected %v, got %v", tc.role, tc.min, tc.want, got)
		}
	}
}

func TestMapGatewaySubscriptionStatus(t *testing.T) {
	cases := map[string]PlanStatus{
		"active":             PlanStatusActive,
		"trialing":           PlanStatusActive,
		"past_due":           PlanStatusActive,
		"canceled":           PlanStatusCanceled,
		"incomplete_expired": PlanStatusExpired,
		"unpaid":             PlanStatusExpired,
		"incomplete":         PlanStatusInactive,
		"paused":             PlanStatusInactive,
		"":                   PlanStatusInactive,
	}
	for gateway, want := range cases {
		if got := MapGatewaySubscriptionStatus(gateway); got != want {
			t.Errorf("%q: expected %s, got %s", gateway, want, got)
		}
	}
}
