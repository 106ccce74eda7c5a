package models

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription tiers sold through the billing provider.
const (
	TierFree     = "free"
	TierLite     = "lite"
	TierStandard = "standard"
	TierPro      = "pro"
	TierAddon    = "addon"
)

const (
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusGrace     = "grace"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusRevoked   = "revoked"
)

// Subscription is one billing relationship, keyed by the provider's original
// transaction id. Rows are only ever status-terminated, never deleted.
type Subscription struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	OriginalTransactionID string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_original_tx" json:"original_transaction_id"`
	AccountID             uint           `gorm:"not null;index:idx_subscriptions_account_status,priority:1" json:"account_id"`
	ProductID             string         `gorm:"type:varchar(191);not null" json:"product_id"`
	Tier                  string         `gorm:"type:varchar(20);not null" json:"tier"`
	Status                string         `gorm:"type:varchar(20);not null;index:idx_subscriptions_account_status,priority:2" json:"status"`
	IsTrialPeriod         bool           `gorm:"default:false" json:"is_trial_period"`
	AutoRenewStatus       bool           `gorm:"not null" json:"auto_renew_status"`
	Environment           string         `gorm:"type:varchar(20);default:''" json:"environment"`
	StartedAt             time.Time      `json:"started_at"`
	ExpiresAt             time.Time      `gorm:"index" json:"expires_at"`
	GracePeriodEndsAt     *time.Time     `gorm:"default:null" json:"grace_period_ends_at,omitempty"`
	DeletionScheduledAt   *time.Time     `gorm:"default:null" json:"deletion_scheduled_at,omitempty"`
	CanceledAt            *time.Time     `gorm:"default:null" json:"canceled_at,omitempty"`
	LastNotificationUUID  string         `gorm:"type:varchar(64);default:''" json:"last_notification_uuid"`
	RawTransaction        datatypes.JSON `json:"raw_transaction,omitempty"`
	Version               uint           `gorm:"not null;default:1" json:"version"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// IsTerminalStatus reports whether status ends the subscription's entitlement.
func IsTerminalStatus(status string) bool {
	switch status {
	case SubscriptionStatusExpired, SubscriptionStatusCancelled, SubscriptionStatusRevoked:
		return true
	default:
		return false
	}
}

// NonTerminalStatuses lists the statuses that still grant the paid tier.
func NonTerminalStatuses() []string {
	return []string{SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusGrace}
}

// IsTerminal reports whether the subscription is in a terminal status.
func (s *Subscription) IsTerminal() bool {
	return s != nil && IsTerminalStatus(s.Status)
}
