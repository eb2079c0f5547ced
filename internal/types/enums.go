package types

// PlanTier identifies the billing plan a broker account is on.
// Tiers are ordered by capacity.
type PlanTier string

const (
	PlanFree   PlanTier = "free"
	PlanBasic  PlanTier = "basic"
	PlanPro    PlanTier = "pro"
	PlanExpert PlanTier = "expert"
)

// tierRanks orders tiers by capacity. Unknown tiers rank below free so that
// comparisons against them never grant access.
var tierRanks = map[PlanTier]int{
	PlanFree:   0,
	PlanBasic:  1,
	PlanPro:    2,
	PlanExpert: 3,
}

// Rank returns the capacity ordering of the tier. Higher means more capacity.
// Unknown tiers return -1.
func (t PlanTier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// IsPaid reports whether the tier is a paid plan.
func (t PlanTier) IsPaid() bool {
	return t.Rank() > tierRanks[PlanFree]
}

// PlanStatus is the local lifecycle state of a billing profile.
type PlanStatus string

const (
	PlanStatusInactive PlanStatus = "inactive"
	PlanStatusActive   PlanStatus = "active"
	PlanStatusCanceled PlanStatus = "canceled"
	PlanStatusExpired  PlanStatus = "expired"
)

// BillingAction identifies which transition flow a plan-change request maps to.
// It is computed by the resolver and never persisted.
type BillingAction string

const (
	ActionSubscribe               BillingAction = "subscribe"
	ActionUpgradeKeepInstrument   BillingAction = "upgrade_keep_instrument"
	ActionUpgradeChangeInstrument BillingAction = "upgrade_change_instrument"
)

// Valid reports whether the action is one of the three known transition flows.
func (a BillingAction) Valid() bool {
	switch a {
	case ActionSubscribe, ActionUpgradeKeepInstrument, ActionUpgradeChangeInstrument:
		return true
	}
	return false
}

// UserRole defines authorization levels within a brokerage account.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
)

// roleRanks orders roles for minimum-role checks: Owner > Admin > Member.
var roleRanks = map[UserRole]int{
	RoleMember: 0,
	RoleAdmin:  1,
	RoleOwner:  2,
}

// HasAtLeast reports whether the role meets or exceeds the given minimum role.
func (r UserRole) HasAtLeast(min UserRole) bool {
	return roleRanks[r] >= roleRanks[min]
}

// CheckoutMode selects the kind of hosted gateway session to create.
type CheckoutMode string

const (
	// CheckoutModeSubscription charges the customer and starts a subscription.
	CheckoutModeSubscription CheckoutMode = "subscription"
	// CheckoutModeSetup collects a new payment instrument without charging it.
	CheckoutModeSetup CheckoutMode = "setup"
)
