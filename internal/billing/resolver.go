package billing

import "brokerdesk/internal/types"

// ResolveAction decides which transition flow applies for a plan-change
// request. It is pure and deterministic: the same profile, price and explicit
// action always produce the same result, which keeps it unit-testable without
// a live gateway.
//
// Rules:
//  1. An explicit action is honored, but must be internally consistent:
//     upgrades require an existing gateway subscription.
//  2. Without an explicit action: no subscription means subscribe; an
//     existing subscription defaults to an in-place upgrade keeping the
//     current payment instrument.
func ResolveAction(profile *types.BillingProfile, priceID string, explicit *types.BillingAction) (types.BillingAction, error) {
	hasSub := profile.HasSubscription()

	if explicit != nil {
		action := *explicit
		if !action.Valid() {
			return "", types.NewAppErrorWithDetails(
				types.ErrCodeBillingInvalidAction,
				"unknown billing action",
				nil,
				map[string]any{"action": string(action)},
			)
		}

		switch action {
		case types.ActionUpgradeKeepInstrument, types.ActionUpgradeChangeInstrument:
			if !hasSub {
				return "", types.NewAppError(
					types.ErrCodeBillingInvalidAction,
					"upgrade requested but no gateway subscription exists",
					nil,
				)
			}
		case types.ActionSubscribe:
			if hasSub {
				return "", types.NewAppError(
					types.ErrCodeBillingInvalidAction,
					"subscribe requested but a gateway subscription already exists",
					nil,
				)
			}
		}
		return action, nil
	}

	if !hasSub {
		return types.ActionSubscribe, nil
	}
	return types.ActionUpgradeKeepInstrument, nil
}
