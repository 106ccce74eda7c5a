package models

import "time"

// AccountEntitlement is the slice of the account record owned by the entitlement
// synchronizer: the storage quota ceiling and the tier label.
type AccountEntitlement struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	AccountID             uint       `gorm:"not null;uniqueIndex" json:"account_id"`
	AppAccountToken       *string    `gorm:"type:varchar(64);uniqueIndex" json:"app_account_token,omitempty"`
	Tier                  string     `gorm:"type:varchar(20);not null;default:'free'" json:"tier"`
	StorageQuotaBytes     int64      `gorm:"not null;default:0" json:"storage_quota_bytes"`
	LastEntitlementSyncAt *time.Time `gorm:"default:null" json:"last_entitlement_sync_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
