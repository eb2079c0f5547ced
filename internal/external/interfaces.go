package external

import (
	"context"

	"brokerdesk/internal/types"
)

// GatewayService abstracts interactions with the payment gateway (Stripe).
// Implementations translate between domain types and the vendor's REST API.
type GatewayService interface {
	// EnsureCustomer returns the gateway customer id for the user, creating a
	// new customer when none exists or the cached id no longer resolves.
	EnsureCustomer(ctx context.Context, userID string, email string) (string, error)

	// CreateCheckoutSession generates a hosted session URL. In subscription
	// mode the session carries a line item for priceID; in setup mode it only
	// collects a payment instrument.
	CreateCheckoutSession(
		ctx context.Context,
		customerID string,
		priceID string,
		mode types.CheckoutMode,
		metadata map[string]string,
		urls types.RedirectURLs,
	) (redirectURL string, sessionID string, err error)

	// RetrieveSubscription fetches the gateway's live view of a subscription.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error)

	// SwapSubscriptionPrice replaces the subscription item's price in place.
	SwapSubscriptionPrice(
		ctx context.Context,
		subscriptionID string,
		itemID string,
		priceID string,
		prorate bool,
	) (string, error)

	// RetrievePaymentInstrumentLast4 returns the card last4 behind a payment
	// intent, or "" when the gateway exposes none.
	RetrievePaymentInstrumentLast4(ctx context.Context, paymentIntentID string) (string, error)
}

// WebhookVerifier abstracts gateway webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Gateway event type constants prevent magic strings in webhook handlers.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventInvoicePaymentSucceed = "invoice.payment_succeeded"
)
