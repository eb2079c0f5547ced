package billing

import (
	"context"
	"log/slog"

	"brokerdesk/internal/types"
)

// Metadata keys attached to hosted gateway sessions so that asynchronous
// webhook events can be correlated back to internal state.
const (
	MetadataUserID         = "user_id"
	MetadataPlan           = "plan"
	MetadataTargetPriceID  = "target_price_id"
	MetadataSubscriptionID = "subscription_id"
)

// Flow tells the caller how a transition completed.
type Flow string

const (
	// FlowCheckout means the caller must redirect the user to a hosted
	// gateway page; local state is updated later by the webhook reconciler.
	FlowCheckout Flow = "CHECKOUT"
	// FlowUpgradeKeep means the transition completed synchronously in place.
	FlowUpgradeKeep Flow = "UPGRADE_KEEP"
)

// TransitionResult is the outcome of a billing transition.
type TransitionResult struct {
	Flow           Flow           `json:"flow"`
	RedirectURL    string         `json:"url,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	PlanTier       types.PlanTier `json:"plan,omitempty"`
}

// GatewayClient is the subset of the payment gateway adapter the executor
// needs. Defined locally so the executor can be tested without a live
// gateway (the concrete implementation lives in internal/external).
type GatewayClient interface {
	// EnsureCustomer returns the gateway customer id for the user, creating
	// one (and transparently replacing a stale cached id) as needed.
	EnsureCustomer(ctx context.Context, userID string, email string) (customerID string, err error)

	// CreateCheckoutSession creates a hosted checkout (subscription mode) or
	// setup (instrument collection) session and returns its redirect URL.
	CreateCheckoutSession(
		ctx context.Context,
		customerID string,
		priceID string,
		mode types.CheckoutMode,
		metadata map[string]string,
		urls types.RedirectURLs,
	) (redirectURL string, sessionID string, err error)

	// RetrieveSubscription returns the gateway's live view of a subscription.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error)

	// SwapSubscriptionPrice changes the billable line item's price in place.
	SwapSubscriptionPrice(
		ctx context.Context,
		subscriptionID string,
		itemID string,
		priceID string,
		prorate bool,
	) (updatedSubscriptionID string, err error)
}

// ProfileStore is the subset of the billing profile repository the executor
// mutates on synchronous transitions.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*types.BillingProfile, error)
	Upsert(ctx context.Context, userID string, patch types.BillingProfilePatch) error
}

// Executor implements the three billing transition flows against the gateway
// adapter and the profile store.
//
// State machine:
//
//	NoSubscription --SUBSCRIBE--> PendingCheckout --webhook--> Active
//	Active --UPGRADE_KEEP_INSTRUMENT--> Active (synchronous, new tier)
//	Active --UPGRADE_CHANGE_INSTRUMENT--> PendingSetup --webhook--> Active
//
// Any gateway failure aborts the transition before any local mutation; the
// caller receives a structured error and the profile is left exactly as it was.
type Executor struct {
	gateway  GatewayClient
	profiles ProfileStore
	catalog  *Catalog
	logger   *slog.Logger
}

// NewExecutor creates a transition executor with explicit dependencies.
// Lifecycle of the gateway client is owned by the process bootstrap, not by
// module-level globals.
func NewExecutor(gateway GatewayClient, profiles ProfileStore, catalog *Catalog, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		gateway:  gateway,
		profiles: profiles,
		catalog:  catalog,
		logger:   logger,
	}
}

// Subscribe starts a new subscription via hosted checkout.
//
// The session is tagged with the internal user id so the later
// checkout-completed webhook can correlate it. No local state is mutated:
// the profile stays inactive until the webhook confirms payment, so abandoned
// or unpaid checkouts never grant access.
func (e *Executor) Subscribe(
	ctx context.Context,
	actor types.Actor,
	priceID string,
	urls types.RedirectURLs,
) (*TransitionResult, error) {
	tier, err := e.catalog.ResolveTier(priceID)
	if err != nil {
		return nil, err
	}

	customerID, err := e.gateway.EnsureCustomer(ctx, actor.UserID, actor.Email)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		MetadataUserID: actor.UserID,
		MetadataPlan:   string(tier),
	}

	redirectURL, sessionID, err := e.gateway.CreateCheckoutSession(
		ctx, customerID, priceID, types.CheckoutModeSubscription, metadata, urls,
	)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "checkout session created",
		slog.String("user_id", actor.UserID),
		slog.String("session_id", sessionID),
		slog.String("plan_tier", string(tier)),
	)

	return &TransitionResult{
		Flow:        FlowCheckout,
		RedirectURL: redirectURL,
		PlanTier:    tier,
	}, nil
}

// UpgradeKeepInstrument swaps the subscription's price in place, charging the
// existing payment instrument with proration.
//
// The local tier is updated synchronously on success so the UI reflects the
// change without waiting for a webhook; the invoice webhook that follows must
// be (and is) idempotent against the already-applied tier.
func (e *Executor) UpgradeKeepInstrument(
	ctx context.Context,
	actor types.Actor,
	priceID string,
) (*TransitionResult, error) {
	tier, err := e.catalog.ResolveTier(priceID)
	if err != nil {
		return nil, err
	}

	profile, err := e.profiles.GetByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !profile.HasSubscription() {
		return nil, types.NewAppError(
			types.ErrCodeBillingNoActiveSubscription,
			"no active subscription to upgrade",
			nil,
		)
	}

	subID, err := e.swapAndRecord(ctx, actor.UserID, profile.GatewaySubscriptionID, priceID, tier)
	if err != nil {
		return nil, err
	}

	return &TransitionResult{
		Flow:           FlowUpgradeKeep,
		SubscriptionID: subID,
		PlanTier:       tier,
	}, nil
}

// UpgradeChangeInstrument starts an upgrade that first collects a new payment
// instrument via a hosted setup session (no charge). The session carries the
// target price and subscription id as metadata; the price swap itself runs
// only after the setup-completed confirmation, never before, so an
// unconfirmed instrument is never charged.
func (e *Executor) UpgradeChangeInstrument(
	ctx context.Context,
	actor types.Actor,
	priceID string,
	urls types.RedirectURLs,
) (*TransitionResult, error) {
	tier, err := e.catalog.ResolveTier(priceID)
	if err != nil {
		return nil, err
	}

	profile, err := e.profiles.GetByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !profile.HasSubscription() {
		return nil, types.NewAppError(
			types.ErrCodeBillingNoActiveSubscription,
			"no active subscription to upgrade",
			nil,
		)
	}

	customerID, err := e.gateway.EnsureCustomer(ctx, actor.UserID, actor.Email)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		MetadataUserID:         actor.UserID,
		MetadataTargetPriceID:  priceID,
		MetadataSubscriptionID: profile.GatewaySubscriptionID,
	}

	redirectURL, sessionID, err := e.gateway.CreateCheckoutSession(
		ctx, customerID, priceID, types.CheckoutModeSetup, metadata, urls,
	)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "setup session created",
		slog.String("user_id", actor.UserID),
		slog.String("session_id", sessionID),
		slog.String("subscription_id", profile.GatewaySubscriptionID),
		slog.String("target_plan_tier", string(tier)),
	)

	return &TransitionResult{
		Flow:        FlowCheckout,
		RedirectURL: redirectURL,
		PlanTier:    tier,
	}, nil
}

// CompleteInstrumentChange finishes an UPGRADE_CHANGE_INSTRUMENT flow once a
// setup session completes: with the new default instrument active at the
// gateway, it re-runs the same swap logic as UpgradeKeepInstrument using the
// metadata carried by the session.
func (e *Executor) CompleteInstrumentChange(
	ctx context.Context,
	userID string,
	subscriptionID string,
	priceID string,
) error {
	tier, err := e.catalog.ResolveTier(priceID)
	if err != nil {
		return err
	}

	_, err = e.swapAndRecord(ctx, userID, subscriptionID, priceID, tier)
	return err
}

// swapAndRecord performs the gateway price swap and then synchronously
// records the new tier locally. The gateway call precedes any local write;
// on gateway failure the profile is untouched.
func (e *Executor) swapAndRecord(
	ctx context.Context,
	userID string,
	subscriptionID string,
	priceID string,
	tier types.PlanTier,
) (string, error) {
	snapshot, err := e.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}

	updatedID, err := e.gateway.SwapSubscriptionPrice(ctx, snapshot.ID, snapshot.ItemID, priceID, true)
	if err != nil {
		return "", err
	}

	status := types.PlanStatusActive
	patch := types.BillingProfilePatch{
		PlanTier:   &tier,
		PlanStatus: &status,
	}
	if err := e.profiles.Upsert(ctx, userID, patch); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "subscription price swapped",
		slog.String("user_id", userID),
		slog.String("subscription_id", updatedID),
		slog.String("plan_tier", string(tier)),
	)

	return updatedID, nil
}
