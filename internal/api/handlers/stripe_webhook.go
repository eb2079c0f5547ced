// The webhook handler is NOT behind bearer auth; it is called directly by
// the payment gateway. Security comes from verifying the Stripe-Signature
// header (HMAC-SHA256 with timestamp tolerance).
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"brokerdesk/internal/billing"
	"brokerdesk/internal/core"
	"brokerdesk/internal/external"
	"brokerdesk/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a gateway webhook
// payload (64 KB). Payloads are typically small; the limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// --- Interfaces for webhook handler dependencies ---

// WebhookUserRepo resolves and bootstraps users during reconciliation.
// A checkout can originate outside the authenticated product (e.g. a payment
// link), so the webhook may see an e-mail with no account behind it yet.
type WebhookUserRepo interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	Create(ctx context.Context, user *types.User) error
}

// WebhookProfileStore applies reconciled billing state. Upsert is atomic and
// keeps current_period_end monotonic, which makes event replays idempotent.
// GetByUserID backs the stale-invoice guard: invoices never write through a
// profile that has no gateway subscription behind it.
type WebhookProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*types.BillingProfile, error)
	Upsert(ctx context.Context, userID string, patch types.BillingProfilePatch) error
}

// SubscriptionReader fetches live gateway state during invoice
// reconciliation. The invoice payload alone is never trusted for plan state.
type SubscriptionReader interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error)
	RetrievePaymentInstrumentLast4(ctx context.Context, paymentIntentID string) (string, error)
}

// InstrumentChangeCompleter finishes a pending instrument-change upgrade once
// the setup session confirms the new payment method.
type InstrumentChangeCompleter interface {
	CompleteInstrumentChange(ctx context.Context, userID string, subscriptionID string, priceID string) error
}

// --- Stripe Webhook Handler ---

// StripeWebhookHandler reconciles asynchronous gateway events into local
// billing state. It is unauthenticated (no bearer token) but verifies the
// provider signature on every request.
//
// Response contract: 401 for bad signatures, 2xx for processed or permanently
// unprocessable events, 5xx only for transient failures so the gateway
// retries delivery.
type StripeWebhookHandler struct {
	verifier  external.WebhookVerifier
	users     WebhookUserRepo
	profiles  WebhookProfileStore
	gateway   SubscriptionReader
	completer InstrumentChangeCompleter
	catalog   *billing.Catalog
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates the handler with the provided dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	users WebhookUserRepo,
	profiles WebhookProfileStore,
	gateway SubscriptionReader,
	completer InstrumentChangeCompleter,
	catalog *billing.Catalog,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		users:     users,
		profiles:  profiles,
		gateway:   gateway,
		completer: completer,
		catalog:   catalog,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Separate from
// BillingHandler.RegisterRoutes because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming gateway webhook events.
//
//  1. Reads the body with a size limit.
//  2. Verifies the Stripe-Signature header; rejects with 401 on failure.
//  3. Decodes the event once into a typed variant.
//  4. Reconciles local state for the variants it understands.
//  5. Acknowledges with 200, or returns 5xx on transient failures so the
//     gateway redelivers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	event, err := decodeWebhookEvent(payload)
	if err != nil {
		// Signature was valid, so this is the gateway sending a shape we do
		// not parse; redelivery cannot help.
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event",
			"error", err,
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.InfoContext(r.Context(), "processing gateway webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.reconcile(r.Context(), event); err != nil {
		if isTransientWebhookError(err) {
			h.logger.ErrorContext(r.Context(), "webhook reconciliation failed, requesting redelivery",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}

		// Permanent failure: acknowledge so the gateway stops retrying, keep
		// the full error in the logs for investigation.
		h.logger.ErrorContext(r.Context(), "webhook event permanently unprocessable",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

// reconcile dispatches the decoded event to the matching reconciliation path.
func (h *StripeWebhookHandler) reconcile(ctx context.Context, event *webhookEvent) error {
	switch {
	case event.Checkout != nil:
		if event.Checkout.Mode == string(types.CheckoutModeSetup) {
			return h.reconcileSetupCompleted(ctx, event)
		}
		return h.reconcileCheckoutCompleted(ctx, event)

	case event.Invoice != nil:
		return h.reconcileInvoicePaid(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// reconcileCheckoutCompleted confirms a new subscription after the hosted
// checkout flow finishes. This is the moment the profile becomes active;
// nothing was written when the session was created.
func (h *StripeWebhookHandler) reconcileCheckoutCompleted(ctx context.Context, event *webhookEvent) error {
	session := event.Checkout

	userID := session.Metadata[billing.MetadataUserID]
	if userID == "" {
		// Checkout originated outside the product; bootstrap an account from
		// the e-mail the customer gave the gateway.
		email := session.CustomerEmail
		if email == "" {
			email = session.CustomerDetails.Email
		}
		if email == "" {
			return types.NewAppError(
				types.ErrCodeValidationMissingField,
				"checkout session carries neither user_id metadata nor a customer e-mail",
				nil,
			)
		}

		user, err := h.resolveOrBootstrapUser(ctx, email)
		if err != nil {
			return err
		}
		userID = user.ID
	}

	tier, err := h.resolveCheckoutTier(ctx, session)
	if err != nil {
		return err
	}

	status := types.PlanStatusActive
	eventTime := event.timestamp()
	patch := types.BillingProfilePatch{
		PlanTier:              &tier,
		PlanStatus:            &status,
		SubscriptionCreatedAt: &eventTime,
	}
	if session.Customer != "" {
		patch.GatewayCustomerID = &session.Customer
	}
	if session.Subscription != "" {
		patch.GatewaySubscriptionID = &session.Subscription
	}

	if err := h.profiles.Upsert(ctx, userID, patch); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "checkout completed, subscription activated",
		"event_id", event.ID,
		"user_id", userID,
		"subscription_id", session.Subscription,
		"plan_tier", string(tier),
	)

	return nil
}

// resolveCheckoutTier maps the purchased price to a plan tier. Sessions the
// executor created tag the tier in metadata as a fast path; a checkout from a
// payment link or any other external origin carries no metadata, so the
// purchased price is read from the live subscription and resolved through the
// catalog.
func (h *StripeWebhookHandler) resolveCheckoutTier(ctx context.Context, session *checkoutSessionEvent) (types.PlanTier, error) {
	if tagged := types.PlanTier(session.Metadata[billing.MetadataPlan]); tagged.IsPaid() {
		return tagged, nil
	}

	if session.Subscription == "" {
		return "", types.NewAppError(
			types.ErrCodeValidationMissingField,
			"checkout session carries neither a plan tag nor a subscription",
			nil,
		)
	}

	snapshot, err := h.gateway.RetrieveSubscription(ctx, session.Subscription)
	if err != nil {
		return "", err
	}
	return h.catalog.ResolveTier(snapshot.PriceID)
}

// reconcileSetupCompleted finishes an instrument-change upgrade: the setup
// session confirmed the new payment method, so the deferred price swap runs
// now using the metadata the executor attached to the session.
func (h *StripeWebhookHandler) reconcileSetupCompleted(ctx context.Context, event *webhookEvent) error {
	session := event.Checkout

	userID := session.Metadata[billing.MetadataUserID]
	subscriptionID := session.Metadata[billing.MetadataSubscriptionID]
	priceID := session.Metadata[billing.MetadataTargetPriceID]
	if userID == "" || subscriptionID == "" || priceID == "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"setup session is missing instrument-change metadata",
			nil,
			map[string]any{
				"has_user_id":         userID != "",
				"has_subscription_id": subscriptionID != "",
				"has_target_price_id": priceID != "",
			},
		)
	}

	if err := h.completer.CompleteInstrumentChange(ctx, userID, subscriptionID, priceID); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "instrument change completed, price swapped",
		"event_id", event.ID,
		"user_id", userID,
		"subscription_id", subscriptionID,
	)

	return nil
}

// reconcileInvoicePaid records a successful payment. Local plan state is
// refreshed from the gateway's live subscription rather than the invoice
// payload, then applied through the monotonic upsert so replayed or
// out-of-order deliveries cannot move the period end backward.
func (h *StripeWebhookHandler) reconcileInvoicePaid(ctx context.Context, event *webhookEvent) error {
	invoice := event.Invoice

	if invoice.Subscription == "" {
		// One-off invoice with no subscription lifecycle behind it.
		h.logger.InfoContext(ctx, "ignoring invoice without subscription",
			"event_id", event.ID,
		)
		return nil
	}

	email := invoice.CustomerEmail
	if email == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"invoice carries no customer e-mail",
			nil,
		)
	}

	// Invoices never create accounts; checkout completion is the only path
	// that bootstraps a user.
	user, err := h.users.GetByEmail(ctx, email)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			h.logger.InfoContext(ctx, "ignoring invoice for unknown billing e-mail",
				"event_id", event.ID,
			)
			return nil
		}
		return err
	}

	ignore, err := h.invoiceOutsideLifecycle(ctx, user.ID)
	if err != nil {
		return err
	}
	if ignore {
		h.logger.InfoContext(ctx, "ignoring invoice for profile without gateway subscription",
			"event_id", event.ID,
			"user_id", user.ID,
		)
		return nil
	}

	snapshot, err := h.gateway.RetrieveSubscription(ctx, invoice.Subscription)
	if err != nil {
		return err
	}

	tier, err := h.catalog.ResolveTier(snapshot.PriceID)
	if err != nil {
		return err
	}

	status := types.MapGatewaySubscriptionStatus(snapshot.Status)
	paidAt := event.timestamp()
	patch := types.BillingProfilePatch{
		GatewaySubscriptionID: &snapshot.ID,
		PlanTier:              &tier,
		PlanStatus:            &status,
		LastPaymentAt:         &paidAt,
	}
	if snapshot.CustomerID != "" {
		patch.GatewayCustomerID = &snapshot.CustomerID
	}
	if !snapshot.CurrentPeriodEnd.IsZero() {
		periodEnd := snapshot.CurrentPeriodEnd
		patch.CurrentPeriodEnd = &periodEnd
	}
	if !snapshot.CreatedAt.IsZero() {
		createdAt := snapshot.CreatedAt
		patch.SubscriptionCreatedAt = &createdAt
	}

	// Card last4 is display data only; a failure here never blocks the
	// payment record.
	if invoice.PaymentIntent != "" {
		last4, l4Err := h.gateway.RetrievePaymentInstrumentLast4(ctx, invoice.PaymentIntent)
		if l4Err != nil {
			h.logger.WarnContext(ctx, "failed to resolve card last4",
				"event_id", event.ID,
				"payment_intent", invoice.PaymentIntent,
				"error", l4Err,
			)
		} else if last4 != "" {
			patch.CardLast4 = &last4
		}
	}

	if err := h.profiles.Upsert(ctx, user.ID, patch); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "invoice payment reconciled",
		"event_id", event.ID,
		"user_id", user.ID,
		"subscription_id", snapshot.ID,
		"plan_tier", string(tier),
		"plan_status", string(status),
	)

	return nil
}

// invoiceOutsideLifecycle reports whether an invoice arrived for a profile
// that never entered the gateway lifecycle: no subscription id and the
// default free tier (or no profile row at all). Such invoices are noise from
// a decommissioned or foreign integration; writing through them would
// resurrect billing state this service does not own.
func (h *StripeWebhookHandler) invoiceOutsideLifecycle(ctx context.Context, userID string) (bool, error) {
	profile, err := h.profiles.GetByUserID(ctx, userID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundBillingProfile {
			return true, nil
		}
		return false, err
	}
	return !profile.HasSubscription() && profile.PlanTier == types.PlanFree, nil
}

// resolveOrBootstrapUser finds the user behind a billing e-mail, creating a
// placeholder account when none exists. The generated credential is random
// and unusable until a password reset; the account exists so billing state
// has an owner.
func (h *StripeWebhookHandler) resolveOrBootstrapUser(ctx context.Context, email string) (*types.User, error) {
	user, err := h.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeBillingAccountBootstrap,
			"failed to generate bootstrap credential",
			err,
		)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeBillingAccountBootstrap,
			"failed to hash bootstrap credential",
			err,
		)
	}

	user = &types.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         types.RoleMember,
	}
	if err := h.users.Create(ctx, user); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeBillingAccountBootstrap,
			"failed to bootstrap user for billing event",
			err,
		)
	}

	h.logger.InfoContext(ctx, "bootstrapped user from billing event",
		"user_id", user.ID,
	)

	return user, nil
}

// isTransientWebhookError reports whether redelivery could succeed. Database
// and upstream failures are transient; malformed or unknown payload content
// is not.
func isTransientWebhookError(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		// Unclassified errors get the retry; dropping an event is worse than
		// a duplicate delivery against idempotent reconciliation.
		return true
	}

	switch appErr.Code {
	case types.ErrCodeBillingUnknownPrice,
		types.ErrCodeValidationMissingField,
		types.ErrCodeBillingInvalidAction,
		types.ErrCodeBillingNoActiveSubscription:
		return false
	case types.ErrCodePaymentDeclined:
		// Redelivery replays the same charge against the same card; nothing
		// changes until the user supplies a working instrument.
		return false
	}
	return true
}

// --- Gateway Event Parsing ---

// webhookEvent is a decoded gateway event. Exactly one of the variant fields
// is non-nil for event types this service reconciles; all nil means the type
// is acknowledged and ignored. The full stripe.Event type is deliberately not
// imported; decoding only the needed fields keeps the handler decoupled from
// the vendor SDK and easy to test.
type webhookEvent struct {
	ID      string
	Type    string
	Created int64

	Checkout *checkoutSessionEvent
	Invoice  *invoiceEvent
}

// checkoutSessionEvent carries the fields used from a
// checkout.session.completed payload (both subscription and setup modes).
type checkoutSessionEvent struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Customer        string            `json:"customer"`
	CustomerEmail   string            `json:"customer_email"`
	Subscription    string            `json:"subscription"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// invoiceEvent carries the fields used from an invoice.payment_succeeded
// payload.
type invoiceEvent struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
}

// rawWebhookEvent is the envelope shape shared by all gateway events.
type rawWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// decodeWebhookEvent parses the payload once and attaches the typed variant
// matching the event type.
func decodeWebhookEvent(payload []byte) (*webhookEvent, error) {
	var raw rawWebhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	event := &webhookEvent{
		ID:      raw.ID,
		Type:    raw.Type,
		Created: raw.Created,
	}

	switch raw.Type {
	case external.EventCheckoutCompleted:
		var session checkoutSessionEvent
		if err := json.Unmarshal(raw.Data.Object, &session); err != nil {
			return nil, err
		}
		event.Checkout = &session

	case external.EventInvoicePaymentSucceed:
		var invoice invoiceEvent
		if err := json.Unmarshal(raw.Data.Object, &invoice); err != nil {
			return nil, err
		}
		event.Invoice = &invoice
	}

	return event, nil
}

// timestamp returns the event's created time.
func (e *webhookEvent) timestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}
