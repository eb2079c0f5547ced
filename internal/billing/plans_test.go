package billing

import (
	"testing"

	"brokerdesk/internal/types"
)

func TestStaticPlanRegistry_GetLimits(t *testing.T) {
	registry := NewStaticPlanRegistry()

	free := registry.GetLimits(types.PlanFree)
	if free.MaxListings != 3 || free.AllowContractTemplates {
		t.Errorf("unexpected free limits %+v", free)
	}

	pro := registry.GetLimits(types.PlanPro)
	if pro.MaxListings != 60 || !pro.AllowFeaturedListings {
		t.Errorf("unexpected pro limits %+v", pro)
	}

	// Expert is unlimited: zero means no limit.
	expert := registry.GetLimits(types.PlanExpert)
	if expert.MaxListings != 0 || expert.MaxPhotosPerListing != 0 {
		t.Errorf("unexpected expert limits %+v", expert)
	}
	if !expert.AllowFeaturedListings || !expert.AllowContractTemplates {
		t.Errorf("expected expert to allow all features, got %+v", expert)
	}
}

func TestStaticPlanRegistry_GetLimits_UnknownTierFallsBackToFree(t *testing.T) {
	registry := NewStaticPlanRegistry()

	limits := registry.GetLimits(types.PlanTier("platinum"))
	if limits != registry.GetLimits(types.PlanFree) {
		t.Errorf("expected free limits for unknown tier, got %+v", limits)
	}
}

func TestPlanTier_Ordering(t *testing.T) {
	ordered := []types.PlanTier{types.PlanFree, types.PlanBasic, types.PlanPro, types.PlanExpert}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("expected %q to rank above %q", ordered[i], ordered[i-1])
		}
	}
	if types.PlanTier("platinum").Rank() != -1 {
		t.Error("expected unknown tier to rank below free")
	}
}
