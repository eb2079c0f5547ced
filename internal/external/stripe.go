package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brokerdesk/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// ProfileBillingLookup provides the minimal profile access StripeClient needs
// to cache gateway customer ids locally. Keeping this interface narrow avoids
// pulling in the full BillingProfileRepository.
type ProfileBillingLookup interface {
	// GetGatewayCustomerID returns the cached customer id for the user, or ""
	// when the user has no cached id yet.
	GetGatewayCustomerID(ctx context.Context, userID string) (string, error)

	// SetGatewayCustomerID caches the customer id for the user.
	SetGatewayCustomerID(ctx context.Context, userID string, customerID string) error

	// ClearGatewayCustomerID drops a cached customer id that no longer
	// resolves at the gateway.
	ClearGatewayCustomerID(ctx context.Context, userID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements GatewayService by making direct HTTP calls to the
// Stripe REST API through BaseClient. This routes every request through the
// shared resilience layer (circuit breaker, retries, error mapping) and makes
// testing with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	profiles  ProfileBillingLookup
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout bounds
// each individual attempt; retries are handled by the base client.
func NewStripeClient(
	httpClient *http.Client,
	profiles ProfileBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"BrokerDesk/1.0",
	)

	return NewStripeClientWithBase(base, profiles, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful for tests that need to control retry and breaker
// behavior.
func NewStripeClientWithBase(
	base *BaseClient,
	profiles ProfileBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		profiles:  profiles,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// GatewayService Implementation
// ---------------------------------------------------------------------------

// EnsureCustomer returns a usable Stripe customer id for the user.
//
// A cached id is reused after confirming it still resolves at the gateway; a
// cached id that returns 404 or points at a deleted customer is cleared and a
// fresh customer is created in its place, so a purged upstream account heals
// without manual intervention. The fresh id is cached before returning.
func (s *StripeClient) EnsureCustomer(ctx context.Context, userID string, email string) (string, error) {
	cachedID, err := s.profiles.GetGatewayCustomerID(ctx, userID)
	if err != nil {
		return "", err
	}

	if cachedID != "" {
		customer, verifyErr := s.retrieveCustomer(ctx, cachedID)
		switch {
		case verifyErr == nil && !customer.Deleted:
			return cachedID, nil
		case verifyErr == nil || isUpstreamNotFound(verifyErr):
			// Deleted or unknown at the gateway; drop the stale id and recreate.
			s.logger.WarnContext(ctx, "cached gateway customer no longer resolves, recreating",
				slog.String("user_id", userID),
				slog.String("customer_id", cachedID),
			)
			if clearErr := s.profiles.ClearGatewayCustomerID(ctx, userID); clearErr != nil {
				return "", clearErr
			}
		default:
			return "", verifyErr
		}
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[user_id]", userID)

	resp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapGatewayError("EnsureCustomer.create", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	if err := s.profiles.SetGatewayCustomerID(ctx, userID, customer.ID); err != nil {
		return "", err
	}

	return customer.ID, nil
}

// retrieveCustomer fetches a single customer by id.
func (s *StripeClient) retrieveCustomer(ctx context.Context, customerID string) (*stripeCustomer, error) {
	resp, err := s.doGet(ctx, "/v1/customers/"+customerID, nil)
	if err != nil {
		return nil, s.wrapGatewayError("EnsureCustomer.verify", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "EnsureCustomer.verify")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer response",
			err,
		)
	}
	return &customer, nil
}

// CreateCheckoutSession generates a hosted Stripe session.
//
// Subscription mode carries a single line item for priceID; setup mode omits
// line items and only collects a payment instrument. All metadata entries are
// attached verbatim for webhook correlation.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	customerID string,
	priceID string,
	mode types.CheckoutMode,
	metadata map[string]string,
	urls types.RedirectURLs,
) (string, string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", string(mode))
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	for k, v := range metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	if mode == types.CheckoutModeSubscription {
		params.Set("line_items[0][price]", priceID)
		params.Set("line_items[0][quantity]", "1")
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapGatewayError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// RetrieveSubscription fetches the gateway's live view of a subscription and
// maps it to a domain snapshot.
func (s *StripeClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error) {
	resp, err := s.doGet(ctx, "/v1/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, s.wrapGatewayError("RetrieveSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "RetrieveSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription response",
			err,
		)
	}

	return mapStripeSubscription(&sub), nil
}

// SwapSubscriptionPrice updates the subscription's single billable item to
// the new price. Proration invoices the tier difference immediately;
// payment_behavior=error_if_incomplete makes a declined charge surface as a
// synchronous error instead of leaving the subscription in an incomplete
// state.
func (s *StripeClient) SwapSubscriptionPrice(
	ctx context.Context,
	subscriptionID string,
	itemID string,
	priceID string,
	prorate bool,
) (string, error) {
	params := url.Values{}
	params.Set("items[0][id]", itemID)
	params.Set("items[0][price]", priceID)
	params.Set("payment_behavior", "error_if_incomplete")
	if prorate {
		params.Set("proration_behavior", "create_prorations")
	} else {
		params.Set("proration_behavior", "none")
	}

	resp, err := s.doPost(ctx, "/v1/subscriptions/"+subscriptionID, params)
	if err != nil {
		return "", s.wrapGatewayError("SwapSubscriptionPrice", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "SwapSubscriptionPrice")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription update response",
			err,
		)
	}

	return sub.ID, nil
}

// RetrievePaymentInstrumentLast4 returns the card last4 behind a payment
// intent via an expanded payment_method. Returns "" when the gateway exposes
// no card details; callers treat the value as best-effort display data.
func (s *StripeClient) RetrievePaymentInstrumentLast4(ctx context.Context, paymentIntentID string) (string, error) {
	params := url.Values{}
	params.Set("expand[]", "payment_method")

	resp, err := s.doGet(ctx, "/v1/payment_intents/"+paymentIntentID, params)
	if err != nil {
		return "", s.wrapGatewayError("RetrievePaymentInstrumentLast4", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "RetrievePaymentInstrumentLast4")
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment intent response",
			err,
		)
	}

	if intent.PaymentMethod == nil || intent.PaymentMethod.Card == nil {
		return "", nil
	}
	return intent.PaymentMethod.Card.Last4, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	case statusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeUpstreamNotFound,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapGatewayError wraps a BaseClient transport error with operation context.
func (s *StripeClient) wrapGatewayError(operation string, err error) error {
	// AppErrors from BaseClient (breaker open, retries exhausted) already
	// carry the right upstream code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamGateway,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// isUpstreamNotFound reports whether err is a mapped 404 from the gateway.
func isUpstreamNotFound(err error) bool {
	appErr, ok := err.(*types.AppError)
	return ok && appErr.Code == types.ErrCodeUpstreamNotFound
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Deleted  bool              `json:"deleted"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID               string                  `json:"id"`
	Customer         string                  `json:"customer"`
	Status           string                  `json:"status"`
	Created          int64                   `json:"created"`
	CurrentPeriodEnd int64                   `json:"current_period_end"`
	LatestInvoice    string                  `json:"latest_invoice"`
	Items            stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	ID    string      `json:"id"`
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripePaymentIntent struct {
	ID            string                  `json:"id"`
	PaymentMethod *stripePaymentMethodRef `json:"payment_method"`
}

type stripePaymentMethodRef struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Card *stripeCardInfo `json:"card"`
}

type stripeCardInfo struct {
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	Brand    string `json:"brand"`
}

// mapStripeSubscription converts a Stripe subscription into a domain snapshot.
func mapStripeSubscription(sub *stripeSubscription) *types.SubscriptionSnapshot {
	snapshot := &types.SubscriptionSnapshot{
		ID:              sub.ID,
		CustomerID:      sub.Customer,
		Status:          sub.Status,
		LatestInvoiceID: sub.LatestInvoice,
	}

	if sub.Created > 0 {
		snapshot.CreatedAt = time.Unix(sub.Created, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		snapshot.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if len(sub.Items.Data) > 0 {
		snapshot.ItemID = sub.Items.Data[0].ID
		snapshot.PriceID = sub.Items.Data[0].Price.ID
	}

	return snapshot
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification, which checks the HMAC-SHA256 signature and the
// timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

// Compile-time assertions.
var (
	_ GatewayService  = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
