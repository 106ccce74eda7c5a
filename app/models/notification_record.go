package models

import "time"

const (
	ProcessingStatusSuccess = "success"
	ProcessingStatusFailed  = "failed"
)

// NotificationRecord is the append-only audit entry for one inbound provider
// notification. Only the processing outcome is corrected after insert.
type NotificationRecord struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	NotificationUUID      string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"notification_uuid"`
	NotificationType      string    `gorm:"type:varchar(64);not null;default:'';index" json:"notification_type"`
	Subtype               string    `gorm:"type:varchar(64);default:''" json:"subtype"`
	OriginalTransactionID string    `gorm:"type:varchar(191);default:'';index" json:"original_transaction_id"`
	RawPayload            string    `gorm:"type:longtext" json:"raw_payload"`
	ProcessingStatus      string    `gorm:"type:varchar(16);not null;index:idx_notification_records_status_received,priority:1" json:"processing_status"`
	ErrorMessage          *string   `gorm:"type:text" json:"error_message,omitempty"`
	ReceivedAt            time.Time `gorm:"not null;index;index:idx_notification_records_status_received,priority:2" json:"received_at"`
}
