package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// BillingProfileRepository manages the local billing state record.
//
// Key invariants:
//   - Upsert is a single atomic INSERT .. ON CONFLICT statement; concurrent
//     webhook deliveries and user-initiated upgrades for the same user are
//     serialized at the row level, never read-then-written in application code.
//   - current_period_end is monotonic: a late-arriving duplicate or
//     out-of-order invoice event can never move it backward.
type BillingProfileRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewBillingProfileRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewBillingProfileRepository(db DBTX, logger *slog.Logger) *BillingProfileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingProfileRepository{db: db, logger: logger}
}

// profileColumns defines the standard set of columns selected for profile
// queries. Used consistently across all query methods to avoid column drift.
const profileColumns = `p.user_id, p.gateway_customer_id, p.gateway_subscription_id,
	p.plan_tier, p.plan_status, p.current_period_end, p.subscription_created_at,
	p.last_payment_at, p.card_last4, p.created_at, p.updated_at`

// scanProfile scans a single billing profile row into a types.BillingProfile.
// The columns must match the order defined in profileColumns.
func scanProfile(row pgx.Row) (*types.BillingProfile, error) {
	var p types.BillingProfile
	var (
		customerID     *string
		subscriptionID *string
		cardLast4      *string
	)
	err := row.Scan(
		&p.UserID,
		&customerID,
		&subscriptionID,
		&p.PlanTier,
		&p.PlanStatus,
		&p.CurrentPeriodEnd,
		&p.SubscriptionCreatedAt,
		&p.LastPaymentAt,
		&cardLast4,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID != nil {
		p.GatewayCustomerID = *customerID
	}
	if subscriptionID != nil {
		p.GatewaySubscriptionID = *subscriptionID
	}
	if cardLast4 != nil {
		p.CardLast4 = *cardLast4
	}
	return &p, nil
}

// GetByUserID retrieves the billing profile for the given user.
// Returns ErrCodeNotFoundBillingProfile if none exists yet (profiles are
// created lazily).
func (r *BillingProfileRepository) GetByUserID(ctx context.Context, userID string) (*types.BillingProfile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+profileColumns+`
		 FROM billing_profiles p
		 WHERE p.user_id = $1`,
		userID,
	)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundBillingProfile, "billing profile not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve billing profile", err)
	}
	return p, nil
}

// Upsert applies a partial update to the user's profile in a single atomic
// statement, creating the row with free-tier defaults if it does not exist.
//
// Semantics:
//   - Nil patch fields leave the stored value unchanged (per-field
//     last-write-wins for the fields that are set).
//   - current_period_end only ever moves forward; an older value in the patch
//     is silently ignored (idempotent no-op for stale webhook replays).
func (r *BillingProfileRepository) Upsert(ctx context.Context, userID string, patch types.BillingProfilePatch) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_profiles (
		     user_id, gateway_customer_id, gateway_subscription_id,
		     plan_tier, plan_status, current_period_end,
		     subscription_created_at, last_payment_at, card_last4,
		     created_at, updated_at
		 ) VALUES (
		     $1, $2, $3,
		     COALESCE($4, 'free'), COALESCE($5, 'inactive'), $6,
		     $7, $8, $9,
		     NOW(), NOW()
		 )
		 ON CONFLICT (user_id) DO UPDATE SET
		     gateway_customer_id     = COALESCE(EXCLUDED.gateway_customer_id, billing_profiles.gateway_customer_id),
		     gateway_subscription_id = COALESCE(EXCLUDED.gateway_subscription_id, billing_profiles.gateway_subscription_id),
		     plan_tier               = COALESCE($4, billing_profiles.plan_tier),
		     plan_status             = COALESCE($5, billing_profiles.plan_status),
		     current_period_end      = CASE
		         WHEN EXCLUDED.current_period_end IS NULL
		             THEN billing_profiles.current_period_end
		         WHEN billing_profiles.current_period_end IS NULL
		             OR EXCLUDED.current_period_end > billing_profiles.current_period_end
		             THEN EXCLUDED.current_period_end
		         ELSE billing_profiles.current_period_end
		     END,
		     subscription_created_at = COALESCE(EXCLUDED.subscription_created_at, billing_profiles.subscription_created_at),
		     last_payment_at         = COALESCE(EXCLUDED.last_payment_at, billing_profiles.last_payment_at),
		     card_last4              = COALESCE(EXCLUDED.card_last4, billing_profiles.card_last4),
		     updated_at              = NOW()`,
		userID,
		patch.GatewayCustomerID,
		patch.GatewaySubscriptionID,
		patch.PlanTier,
		patch.PlanStatus,
		patch.CurrentPeriodEnd,
		patch.SubscriptionCreatedAt,
		patch.LastPaymentAt,
		patch.CardLast4,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert billing profile", err)
	}

	return nil
}

// CreateDefault ensures a free-tier profile row exists for the user.
// Called at account creation; a no-op if the row already exists.
func (r *BillingProfileRepository) CreateDefault(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_profiles (user_id, plan_tier, plan_status, created_at, updated_at)
		 VALUES ($1, 'free', 'inactive', NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create default billing profile", err)
	}
	return nil
}

// GetGatewayCustomerID returns the cached gateway customer id for the user,
// or empty string when none is cached. A missing profile row also returns
// empty; the adapter creates the customer and caches the id via
// SetGatewayCustomerID.
func (r *BillingProfileRepository) GetGatewayCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID *string
	err := r.db.QueryRow(ctx,
		`SELECT gateway_customer_id FROM billing_profiles WHERE user_id = $1`,
		userID,
	).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to read gateway customer id", err)
	}
	if customerID == nil {
		return "", nil
	}
	return *customerID, nil
}

// SetGatewayCustomerID caches the gateway customer id on the profile,
// creating the row with free-tier defaults if needed.
func (r *BillingProfileRepository) SetGatewayCustomerID(ctx context.Context, userID string, customerID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_profiles (user_id, gateway_customer_id, plan_tier, plan_status, created_at, updated_at)
		 VALUES ($1, $2, 'free', 'inactive', NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		     gateway_customer_id = EXCLUDED.gateway_customer_id,
		     updated_at          = NOW()`,
		userID,
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cache gateway customer id", err)
	}
	return nil
}

// ClearGatewayCustomerID drops a cached customer id the gateway reported as
// missing. Part of the adapter's self-healing path, not an error condition.
func (r *BillingProfileRepository) ClearGatewayCustomerID(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE billing_profiles
		 SET gateway_customer_id = NULL,
		     updated_at          = NOW()
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear gateway customer id", err)
	}
	return nil
}

// GrantManualPlan applies an administrative plan override: the tier becomes
// active with no gateway subscription and no period end. This is the only
// path that may produce an active profile without a subscription id.
func (r *BillingProfileRepository) GrantManualPlan(ctx context.Context, userID string, tier types.PlanTier) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_profiles (user_id, plan_tier, plan_status, created_at, updated_at)
		 VALUES ($1, $2, 'active', NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		     plan_tier               = EXCLUDED.plan_tier,
		     plan_status             = 'active',
		     gateway_subscription_id = NULL,
		     current_period_end      = NULL,
		     updated_at              = NOW()`,
		userID,
		tier,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to grant manual plan", err)
	}

	r.logger.Info("manual plan granted",
		slog.String("user_id", userID),
		slog.String("plan_tier", string(tier)),
	)

	return nil
}
