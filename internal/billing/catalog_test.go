package billing

import (
	"testing"

	"brokerdesk/internal/types"
)

func TestNewCatalog_RequiresAllPaidTiers(t *testing.T) {
	_, err := NewCatalog(map[string]types.PlanTier{
		"price_basic": types.PlanBasic,
		"price_pro":   types.PlanPro,
		// expert missing
	})
	if err == nil {
		t.Fatal("expected an error for a missing paid tier")
	}
}

func TestNewCatalog_RejectsEmptyPriceID(t *testing.T) {
	_, err := NewCatalog(map[string]types.PlanTier{
		"":             types.PlanBasic,
		"price_pro":    types.PlanPro,
		"price_expert": types.PlanExpert,
	})
	if err == nil {
		t.Fatal("expected an error for an empty price id")
	}
}

func TestNewCatalog_RejectsNonPaidTier(t *testing.T) {
	_, err := NewCatalog(map[string]types.PlanTier{
		"price_free":   types.PlanFree,
		"price_basic":  types.PlanBasic,
		"price_pro":    types.PlanPro,
		"price_expert": types.PlanExpert,
	})
	if err == nil {
		t.Fatal("expected an error for a price mapped to a non-paid tier")
	}
}

func TestCatalog_ResolveTier(t *testing.T) {
	catalog := mustCatalog(t)

	tier, err := catalog.ResolveTier("price_pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier != types.PlanPro {
		t.Errorf("expected tier %q, got %q", types.PlanPro, tier)
	}
}

func TestCatalog_ResolveTier_Unknown(t *testing.T) {
	catalog := mustCatalog(t)

	_, err := catalog.ResolveTier("price_retired")
	if err == nil {
		t.Fatal("expected an error")
	}
	assertAppErrorCode(t, err, types.ErrCodeBillingUnknownPrice)
}

func TestCatalog_PriceFor(t *testing.T) {
	catalog := mustCatalog(t)

	priceID, ok := catalog.PriceFor(types.PlanExpert)
	if !ok {
		t.Fatal("expected a price id for the expert tier")
	}
	if priceID != "price_expert" {
		t.Errorf("expected price id %q, got %q", "price_expert", priceID)
	}

	if _, ok := catalog.PriceFor(types.PlanFree); ok {
		t.Error("expected no price id for the free tier")
	}
}
