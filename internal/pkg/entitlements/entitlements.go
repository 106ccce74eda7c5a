package entitlements

import (
	"strings"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
)

type Plan string

const (
	PlanFree     Plan = models.TierFree
	PlanLite     Plan = models.TierLite
	PlanStandard Plan = models.TierStandard
	PlanPro      Plan = models.TierPro
	PlanAddon    Plan = models.TierAddon
)

const (
	gib = int64(1) << 30
	tib = int64(1) << 40
)

var storageQuota = map[Plan]int64{
	PlanFree:     5 * gib,
	PlanLite:     50 * gib,
	PlanStandard: 200 * gib,
	PlanPro:      2 * tib,
	PlanAddon:    100 * gib,
}

// ParsePlan normalizes a tier label. Unknown labels return false.
func ParsePlan(raw string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := storageQuota[p]
	return p, ok
}

// StorageQuotaBytes returns the storage ceiling for a plan; unknown plans get the free quota.
func StorageQuotaBytes(plan Plan) int64 {
	if q, ok := storageQuota[plan]; ok {
		return q
	}
	return storageQuota[PlanFree]
}

// EffectivePlan projects a subscription tier and status onto the plan the account is entitled to.
// Trial, active and grace keep the paid tier; every terminal status falls back to free.
func EffectivePlan(tier, status string) Plan {
	switch status {
	case models.SubscriptionStatusTrial, models.SubscriptionStatusActive, models.SubscriptionStatusGrace:
		if p, ok := ParsePlan(tier); ok {
			return p
		}
		return PlanFree
	default:
		return PlanFree
	}
}
