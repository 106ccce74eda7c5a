package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/entitlements"
)

// EntitlementSynchronizer projects subscription state onto the account's
// storage quota. It is the only writer of account entitlements.
type EntitlementSynchronizer struct {
	repo Repository
}

func NewEntitlementSynchronizer(repo Repository) *EntitlementSynchronizer {
	return &EntitlementSynchronizer{repo: repo}
}

// Sync writes the effective plan for tier and status. Shrinking the quota below
// current usage is allowed; enforcement happens in the storage layer.
func (e *EntitlementSynchronizer) Sync(ctx context.Context, accountID uint, tier, status string, now time.Time) (entitlements.Plan, error) {
	plan := entitlements.EffectivePlan(tier, status)
	if err := e.repo.UpdateAccountEntitlement(ctx, accountID, string(plan), entitlements.StorageQuotaBytes(plan), now); err != nil {
		return plan, err
	}
	return plan, nil
}
