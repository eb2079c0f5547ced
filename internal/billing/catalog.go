// Package billing contains the subscription lifecycle domain logic: the plan
// catalog, the action resolver, and the transition executor.
package billing

import (
	"fmt"

	"brokerdesk/internal/types"
)

// Catalog maps opaque gateway price identifiers to internal plan tiers.
// It is a pure, static lookup built once at startup from configuration;
// unknown price ids fail loudly, because silently mis-tiering a paying
// customer is a correctness bug, not a recoverable condition.
type Catalog struct {
	priceToTier map[string]types.PlanTier
	tierToPrice map[types.PlanTier]string
}

// NewCatalog builds a Catalog from a price-id-to-tier table.
// Returns an error at construction time if any paid tier has no mapped price
// id, so a misconfigured price table can never reach request handling.
func NewCatalog(table map[string]types.PlanTier) (*Catalog, error) {
	c := &Catalog{
		priceToTier: make(map[string]types.PlanTier, len(table)),
		tierToPrice: make(map[types.PlanTier]string, len(table)),
	}
	for priceID, tier := range table {
		if priceID == "" {
			return nil, fmt.Errorf("catalog: empty price id for tier %q", tier)
		}
		if !tier.IsPaid() {
			return nil, fmt.Errorf("catalog: price %q maps to non-paid tier %q", priceID, tier)
		}
		c.priceToTier[priceID] = tier
		c.tierToPrice[tier] = priceID
	}

	for _, tier := range []types.PlanTier{types.PlanBasic, types.PlanPro, types.PlanExpert} {
		if _, ok := c.tierToPrice[tier]; !ok {
			return nil, fmt.Errorf("catalog: paid tier %q has no mapped price id", tier)
		}
	}

	return c, nil
}

// ResolveTier returns the internal plan tier for a gateway price id.
// Unknown price ids fail with billing_unknown_price; the catalog never
// silently defaults.
func (c *Catalog) ResolveTier(priceID string) (types.PlanTier, error) {
	if tier, ok := c.priceToTier[priceID]; ok {
		return tier, nil
	}
	return "", types.NewAppErrorWithDetails(
		types.ErrCodeBillingUnknownPrice,
		"unknown price id",
		nil,
		map[string]any{"price_id": priceID},
	)
}

// PriceFor returns the gateway price id for a paid tier.
func (c *Catalog) PriceFor(tier types.PlanTier) (string, bool) {
	priceID, ok := c.tierToPrice[tier]
	return priceID, ok
}
