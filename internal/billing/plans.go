package billing

import "brokerdesk/internal/types"

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (Free) limits
	// to fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
// It implements PlanRegistry and is the standard implementation for production use.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults defines the hardcoded plan limits.
//
//	| Plan   | Listings | Photos/Listing | Featured | Contract Templates |
//	|--------|----------|----------------|----------|--------------------|
//	| Free   | 3        | 8              | No       | No                 |
//	| Basic  | 15       | 20             | No       | Yes                |
//	| Pro    | 60       | 40             | Yes      | Yes                |
//	| Expert | 0 (unltd)| 0 (unltd)      | Yes      | Yes                |
//
// Expert uses 0 to represent "unlimited" -- enforcement code must treat 0 as no limit.
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxListings:            3,
		MaxPhotosPerListing:    8,
		AllowFeaturedListings:  false,
		AllowContractTemplates: false,
	},
	types.PlanBasic: {
		MaxListings:            15,
		MaxPhotosPerListing:    20,
		AllowFeaturedListings:  false,
		AllowContractTemplates: true,
	},
	types.PlanPro: {
		MaxListings:            60,
		MaxPhotosPerListing:    40,
		AllowFeaturedListings:  true,
		AllowContractTemplates: true,
	},
	types.PlanExpert: {
		MaxListings:            0, // Unlimited -- enforcement treats 0 as no limit
		MaxPhotosPerListing:    0, // Unlimited -- enforcement treats 0 as no limit
		AllowFeaturedListings:  true,
		AllowContractTemplates: true,
	},
}

// freeLimits is cached to avoid map lookups on the fallback path.
var freeLimits = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// limits table. This is the standard production implementation; no database
// or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the Free tier limits as a safe default.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return freeLimits
}
