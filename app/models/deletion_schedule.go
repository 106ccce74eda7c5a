package models

import "time"

const (
	DeletionTypeGraceExpire = "grace_expire"
	DeletionTypeRevoke      = "revoke"
	DeletionTypeRefund      = "refund"
)

const (
	DeletionStatusScheduled = "scheduled"
	DeletionStatusCancelled = "cancelled"
	DeletionStatusCompleted = "completed"
)

// DeletionSchedule instructs the external sweeper to purge an account's data.
// ActiveKey mirrors AccountID while the row is scheduled and is NULL otherwise;
// its unique index keeps at most one active schedule per account.
type DeletionSchedule struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;index" json:"account_id"`
	ActiveKey    *uint     `gorm:"uniqueIndex" json:"-"`
	ScheduledFor time.Time `gorm:"not null;index" json:"scheduled_for"`
	DeletionType string    `gorm:"type:varchar(20);not null" json:"deletion_type"`
	Status       string    `gorm:"type:varchar(20);not null;default:'scheduled'" json:"status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
