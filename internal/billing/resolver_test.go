package billing

import (
	"testing"

	"brokerdesk/internal/types"
)

func actionPtr(a types.BillingAction) *types.BillingAction {
	return &a
}

func TestResolveAction_NoSubscriptionDefaultsToSubscribe(t *testing.T) {
	profile := &types.BillingProfile{
		UserID:   "user_1",
		PlanTier: types.PlanFree,
	}

	action, err := ResolveAction(profile, "price_pro", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != types.ActionSubscribe {
		t.Errorf("expected action %q, got %q", types.ActionSubscribe, action)
	}
}

func TestResolveAction_SubscriberDefaultsToUpgradeKeep(t *testing.T) {
	profile := &types.BillingProfile{
		UserID:                "user_1",
		GatewaySubscriptionID: "sub_1",
		PlanTier:              types.PlanBasic,
	}

	action, err := ResolveAction(profile, "price_pro", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != types.ActionUpgradeKeepInstrument {
		t.Errorf("expected action %q, got %q", types.ActionUpgradeKeepInstrument, action)
	}
}

func TestResolveAction_ExplicitActionHonored(t *testing.T) {
	profile := &types.BillingProfile{
		UserID:                "user_1",
		GatewaySubscriptionID: "sub_1",
		PlanTier:              types.PlanBasic,
	}

	action, err := ResolveAction(profile, "price_pro", actionPtr(types.ActionUpgradeChangeInstrument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != types.ActionUpgradeChangeInstrument {
		t.Errorf("expected action %q, got %q", types.ActionUpgradeChangeInstrument, action)
	}
}

func TestResolveAction_ExplicitUpgradeWithoutSubscription(t *testing.T) {
	profile := &types.BillingProfile{
		UserID:   "user_1",
		PlanTier: types.PlanFree,
	}

	for _, explicit := range []types.BillingAction{
		types.ActionUpgradeKeepInstrument,
		types.ActionUpgradeChangeInstrument,
	} {
		_, err := ResolveAction(profile, "price_pro", actionPtr(explicit))
		if err == nil {
			t.Errorf("expected error for explicit %q without subscription", explicit)
			continue
		}
		assertAppErrorCode(t, err, types.ErrCodeBillingInvalidAction)
	}
}

func TestResolveAction_ExplicitSubscribeWithSubscription(t *testing.T) {
	profile := &types.BillingProfile{
		UserID:                "user_1",
		GatewaySubscriptionID: "sub_1",
		PlanTier:              types.PlanBasic,
	}

	_, err := ResolveAction(profile, "price_pro", actionPtr(types.ActionSubscribe))
	if err == nil {
		t.Fatal("expected an error")
	}
	assertAppErrorCode(t, err, types.ErrCodeBillingInvalidAction)
}

func TestResolveAction_UnknownExplicitAction(t *testing.T) {
	profile := &types.BillingProfile{
		UserID:   "user_1",
		PlanTier: types.PlanFree,
	}

	unknown := types.BillingAction("downgrade")
	_, err := ResolveAction(profile, "price_pro", &unknown)
	if err == nil {
		t.Fatal("expected an error")
	}
	assertAppErrorCode(t, err, types.ErrCodeBillingInvalidAction)
}
