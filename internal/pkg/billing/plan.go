package billing

import (
	"strings"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/entitlements"
)

// Catalog maps provider product ids to subscription tiers.
type Catalog interface {
	ResolveTier(productID string) (string, bool)
}

// StaticCatalog is a fixed product id → tier table loaded from configuration.
type StaticCatalog map[string]string

// NewStaticCatalog copies mapping, dropping entries whose tier is not a paid tier.
func NewStaticCatalog(mapping map[string]string) StaticCatalog {
	c := make(StaticCatalog, len(mapping))
	for productID, tier := range mapping {
		productID = strings.TrimSpace(productID)
		plan, ok := entitlements.ParsePlan(tier)
		if productID == "" || !ok || plan == entitlements.PlanFree {
			continue
		}
		c[productID] = string(plan)
	}
	return c
}

func (c StaticCatalog) ResolveTier(productID string) (string, bool) {
	tier, ok := c[strings.TrimSpace(productID)]
	return tier, ok
}

func tierRank(tier string) int {
	switch tier {
	case models.TierPro:
		return 4
	case models.TierStandard:
		return 3
	case models.TierAddon:
		return 2
	case models.TierLite:
		return 1
	default:
		return 0
	}
}

// bestSubscription picks the highest tier among entitling subscriptions.
func bestSubscription(subs []models.Subscription) *models.Subscription {
	var best *models.Subscription
	for i := range subs {
		s := &subs[i]
		if s.IsTerminal() {
			continue
		}
		if best == nil || tierRank(s.Tier) > tierRank(best.Tier) ||
			(tierRank(s.Tier) == tierRank(best.Tier) && s.ExpiresAt.After(best.ExpiresAt)) {
			best = s
		}
	}
	return best
}
