// Package handlers contains the HTTP handler implementations for the
// BrokerDesk billing API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/billing"
	"brokerdesk/internal/core"
	"brokerdesk/internal/types"
)

// --- Service Interfaces ---

// TransitionExecutor runs billing transition flows. Mirrors the concrete
// billing.Executor methods relevant to this handler.
type TransitionExecutor interface {
	Subscribe(ctx context.Context, actor types.Actor, priceID string, urls types.RedirectURLs) (*billing.TransitionResult, error)
	UpgradeKeepInstrument(ctx context.Context, actor types.Actor, priceID string) (*billing.TransitionResult, error)
	UpgradeChangeInstrument(ctx context.Context, actor types.Actor, priceID string, urls types.RedirectURLs) (*billing.TransitionResult, error)
}

// BillingProfileRepo defines the data access contract for profile reads and
// administrative grants used by the billing handler.
type BillingProfileRepo interface {
	GetByUserID(ctx context.Context, userID string) (*types.BillingProfile, error)
	GrantManualPlan(ctx context.Context, userID string, tier types.PlanTier) error
}

// --- Request/Response Models ---

// PlanChangeRequest is the body for POST /v1/billing/plan-change. The action
// is optional; when omitted the server resolves it from current state.
type PlanChangeRequest struct {
	PriceID string               `json:"price_id" validate:"required"`
	Action  *types.BillingAction `json:"action,omitempty"`
}

// GrantPlanRequest is the body for POST /v1/billing/grant (admin only).
type GrantPlanRequest struct {
	UserID   string         `json:"user_id" validate:"required"`
	PlanTier types.PlanTier `json:"plan_tier" validate:"required,oneof=free basic pro expert"`
}

// BillingProfileDTO is the client-safe view of a billing profile, enriched
// with the feature limits of the current tier.
type BillingProfileDTO struct {
	PlanTier         types.PlanTier   `json:"plan_tier"`
	PlanStatus       types.PlanStatus `json:"plan_status"`
	HasSubscription  bool             `json:"has_subscription"`
	CurrentPeriodEnd *string          `json:"current_period_end,omitempty"`
	CardLast4        string           `json:"card_last4,omitempty"`
	Limits           types.PlanLimits `json:"limits"`
}

// --- Handler ---

// BillingHandler exposes the plan-change, profile and grant endpoints.
type BillingHandler struct {
	executor     TransitionExecutor
	profiles     BillingProfileRepo
	plans        billing.PlanRegistry
	dashboardURL string
	requireAdmin func(http.Handler) http.Handler
	validator    *core.Validator
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
// requireAdmin guards the grant endpoint; it typically comes from
// Server.RequireRole(types.RoleAdmin).
func NewBillingHandler(
	executor TransitionExecutor,
	profiles BillingProfileRepo,
	plans billing.PlanRegistry,
	dashboardURL string,
	requireAdmin func(http.Handler) http.Handler,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		executor:     executor,
		profiles:     profiles,
		plans:        plans,
		dashboardURL: strings.TrimSuffix(dashboardURL, "/"),
		requireAdmin: requireAdmin,
		validator:    v,
		logger:       l,
	}
}

// RegisterRoutes mounts the billing endpoints under /billing.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/plan-change", h.HandlePlanChange)
		r.Get("/profile", h.HandleGetProfile)
		if h.requireAdmin != nil {
			r.With(h.requireAdmin).Post("/grant", h.HandleGrantPlan)
		} else {
			r.Post("/grant", h.HandleGrantPlan)
		}
	})
}

// HandlePlanChange processes POST /v1/billing/plan-change.
//
// The target plan is identified purely by price id; the server resolves the
// transition flow from current profile state unless the client pinned one
// explicitly. Redirect URLs are always server-controlled.
func (h *BillingHandler) HandlePlanChange(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req PlanChangeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	profile, err := h.loadOrDefaultProfile(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	action, err := billing.ResolveAction(profile, req.PriceID, req.Action)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	urls := h.redirectURLs()

	var result *billing.TransitionResult
	switch action {
	case types.ActionSubscribe:
		result, err = h.executor.Subscribe(r.Context(), actor, req.PriceID, urls)
	case types.ActionUpgradeKeepInstrument:
		result, err = h.executor.UpgradeKeepInstrument(r.Context(), actor, req.PriceID)
	case types.ActionUpgradeChangeInstrument:
		result, err = h.executor.UpgradeChangeInstrument(r.Context(), actor, req.PriceID, urls)
	default:
		err = types.NewAppError(types.ErrCodeBillingInvalidAction, "unresolvable billing action", nil)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "plan change processed",
		slog.String("user_id", actor.UserID),
		slog.String("action", string(action)),
		slog.String("flow", string(result.Flow)),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// HandleGetProfile processes GET /v1/billing/profile. Users without a stored
// profile row are reported on the free tier; the row is created lazily on
// first billing interaction.
func (h *BillingHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	profile, err := h.loadOrDefaultProfile(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	dto := BillingProfileDTO{
		PlanTier:        profile.PlanTier,
		PlanStatus:      profile.PlanStatus,
		HasSubscription: profile.HasSubscription(),
		CardLast4:       profile.CardLast4,
		Limits:          h.plans.GetLimits(profile.PlanTier),
	}
	if profile.CurrentPeriodEnd != nil {
		formatted := profile.CurrentPeriodEnd.UTC().Format("2006-01-02T15:04:05Z07:00")
		dto.CurrentPeriodEnd = &formatted
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: dto})
}

// HandleGrantPlan processes POST /v1/billing/grant. Admin only: applies a
// manual plan override outside the gateway lifecycle, e.g. for partner or
// support accounts.
func (h *BillingHandler) HandleGrantPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req GrantPlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.profiles.GrantManualPlan(r.Context(), req.UserID, req.PlanTier); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual plan granted",
		slog.String("granted_by", actor.UserID),
		slog.String("user_id", req.UserID),
		slog.String("plan_tier", string(req.PlanTier)),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"user_id":     req.UserID,
		"plan_tier":   req.PlanTier,
		"plan_status": types.PlanStatusActive,
	}})
}

// loadOrDefaultProfile returns the stored profile, or an in-memory free-tier
// default when the row does not exist yet.
func (h *BillingHandler) loadOrDefaultProfile(ctx context.Context, userID string) (*types.BillingProfile, error) {
	profile, err := h.profiles.GetByUserID(ctx, userID)
	if err == nil {
		return profile, nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundBillingProfile {
		return &types.BillingProfile{
			UserID:     userID,
			PlanTier:   types.PlanFree,
			PlanStatus: types.PlanStatusInactive,
		}, nil
	}
	return nil, err
}

// redirectURLs builds the hosted-session redirect targets from the configured
// dashboard base URL. Never derived from client input.
func (h *BillingHandler) redirectURLs() types.RedirectURLs {
	return types.RedirectURLs{
		Success: h.dashboardURL + "/settings/billing?checkout=success",
		Cancel:  h.dashboardURL + "/settings/billing?checkout=cancelled",
	}
}
