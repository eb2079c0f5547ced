package types

import "time"

// User represents an authenticated broker account. Identity is owned by the
// auth collaborator; billing only ever reads it, except for the webhook
// bootstrap path which may create one when a checkout originates outside the
// authenticated product.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name,omitempty" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         UserRole  `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// BillingProfile is the local record of a user's billing state, kept
// eventually consistent with the payment gateway. One row per user, created
// lazily on first billing interaction or first webhook for that e-mail.
//
// Invariants:
//   - GatewaySubscriptionID non-empty implies GatewayCustomerID non-empty.
//   - PlanStatusActive with no GatewaySubscriptionID is valid only for
//     manually granted plans and never carries a CurrentPeriodEnd.
type BillingProfile struct {
	UserID                string     `json:"user_id" db:"user_id"`
	GatewayCustomerID     string     `json:"-" db:"gateway_customer_id"`
	GatewaySubscriptionID string     `json:"gateway_subscription_id,omitempty" db:"gateway_subscription_id"`
	PlanTier              PlanTier   `json:"plan_tier" db:"plan_tier"`
	PlanStatus            PlanStatus `json:"plan_status" db:"plan_status"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	SubscriptionCreatedAt *time.Time `json:"subscription_created_at,omitempty" db:"subscription_created_at"`
	LastPaymentAt         *time.Time `json:"last_payment_at,omitempty" db:"last_payment_at"`
	CardLast4             string     `json:"card_last4,omitempty" db:"card_last4"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// HasSubscription reports whether the profile has a gateway-managed
// subscription lifecycle (active or past).
func (p *BillingProfile) HasSubscription() bool {
	return p != nil && p.GatewaySubscriptionID != ""
}

// BillingProfilePatch is a partial update applied atomically by the store.
// Nil fields are left unchanged (per-field last-write-wins). CurrentPeriodEnd
// is additionally guarded: the store never moves it backward.
type BillingProfilePatch struct {
	GatewayCustomerID     *string
	GatewaySubscriptionID *string
	PlanTier              *PlanTier
	PlanStatus            *PlanStatus
	CurrentPeriodEnd      *time.Time
	SubscriptionCreatedAt *time.Time
	LastPaymentAt         *time.Time
	CardLast4             *string
}

// SubscriptionSnapshot is the gateway's live view of a subscription, reduced
// to the fields the executor and reconciler need.
type SubscriptionSnapshot struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	ItemID           string
	CurrentPeriodEnd time.Time
	CreatedAt        time.Time
	LatestInvoiceID  string
}

// RedirectURLs carries the server-controlled success/cancel targets for a
// hosted checkout or setup session. Always constructed from configuration,
// never from client input.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// PlanLimits bounds feature access for a tier. Zero means unlimited;
// enforcement code must treat zero as no limit.
type PlanLimits struct {
	MaxListings            int  `json:"max_listings"`
	MaxPhotosPerListing    int  `json:"max_photos_per_listing"`
	AllowFeaturedListings  bool `json:"allow_featured_listings"`
	AllowContractTemplates bool `json:"allow_contract_templates"`
}

// MapGatewaySubscriptionStatus converts a gateway subscription status string
// into the local PlanStatus enum. Statuses the gateway considers billable map
// to active; terminal statuses map to canceled or expired; everything else is
// inactive until a payment confirms it.
func MapGatewaySubscriptionStatus(status string) PlanStatus {
	switch status {
	case "active", "trialing", "past_due":
		return PlanStatusActive
	case "canceled":
		return PlanStatusCanceled
	case "incomplete_expired", "unpaid":
		return PlanStatusExpired
	default:
		return PlanStatusInactive
	}
}
