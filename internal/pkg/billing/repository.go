package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
)

// NotificationStats aggregates audit records for the health report.
type NotificationStats struct {
	Total              int64
	Failed             int64
	LastNotificationAt *time.Time
}

// Repository provides DB operations used by the billing service.
type Repository interface {
	// Transaction runs fn against a repository bound to one DB transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	GetSubscriptionByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*models.Subscription, error)
	ListNonTerminalSubscriptions(ctx context.Context, accountID uint) ([]models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	CompareAndSwapSubscription(ctx context.Context, sub *models.Subscription, expectedVersion uint) (bool, error)
	ExpireOtherSubscriptions(ctx context.Context, accountID uint, keepOriginalTransactionID string, now time.Time) (int64, error)

	GetAccountByTransactionID(ctx context.Context, originalTransactionID string) (*models.AccountEntitlement, error)
	GetAccountByAppAccountToken(ctx context.Context, token string) (*models.AccountEntitlement, error)
	UpdateAccountEntitlement(ctx context.Context, accountID uint, tier string, quotaBytes int64, syncedAt time.Time) error

	InsertDeletionSchedule(ctx context.Context, schedule *models.DeletionSchedule) (bool, error)
	GetActiveDeletionSchedule(ctx context.Context, accountID uint) (*models.DeletionSchedule, error)
	CancelPendingDeletion(ctx context.Context, accountID uint, now time.Time) (int64, error)

	AppendNotificationAudit(ctx context.Context, record *models.NotificationRecord) error
	FindNotificationRecord(ctx context.Context, notificationUUID string) (*models.NotificationRecord, error)
	NotificationStats(ctx context.Context, since time.Time) (NotificationStats, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetSubscriptionByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("original_transaction_id = ?", originalTransactionID).First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) ListNonTerminalSubscriptions(ctx context.Context, accountID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status IN ?", accountID, models.NonTerminalStatuses()).
		Find(&subs).Error
	return subs, err
}

// UpsertSubscription inserts sub or overwrites the row with the same original
// transaction id, bumping its version. sub is reloaded afterwards.
func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	row := *sub
	row.ID = 0
	if row.Version == 0 {
		row.Version = 1
	}
	assignments := clause.AssignmentColumns([]string{
		"account_id",
		"product_id",
		"tier",
		"status",
		"is_trial_period",
		"auto_renew_status",
		"environment",
		"started_at",
		"expires_at",
		"grace_period_ends_at",
		"deletion_scheduled_at",
		"canceled_at",
		"last_notification_uuid",
		"raw_transaction",
		"updated_at",
	})
	assignments = append(assignments, clause.Assignment{
		Column: clause.Column{Name: "version"},
		Value:  gorm.Expr("version + 1"),
	})
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "original_transaction_id"}},
		DoUpdates: assignments,
	}).Create(&row).Error; err != nil {
		return err
	}

	// Ensure ID and version are populated after upsert.
	return r.db.WithContext(ctx).Where("original_transaction_id = ?", sub.OriginalTransactionID).First(sub).Error
}

// CompareAndSwapSubscription writes sub only if the stored version still equals
// expectedVersion. It reports false when another writer got there first.
func (r *gormRepository) CompareAndSwapSubscription(ctx context.Context, sub *models.Subscription, expectedVersion uint) (bool, error) {
	updates := map[string]interface{}{
		"product_id":             sub.ProductID,
		"tier":                   sub.Tier,
		"status":                 sub.Status,
		"is_trial_period":        sub.IsTrialPeriod,
		"auto_renew_status":      sub.AutoRenewStatus,
		"environment":            sub.Environment,
		"started_at":             sub.StartedAt,
		"expires_at":             sub.ExpiresAt,
		"grace_period_ends_at":   sub.GracePeriodEndsAt,
		"deletion_scheduled_at":  sub.DeletionScheduledAt,
		"canceled_at":            sub.CanceledAt,
		"last_notification_uuid": sub.LastNotificationUUID,
		"raw_transaction":        sub.RawTransaction,
		"version":                expectedVersion + 1,
		"updated_at":             sub.UpdatedAt,
	}
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	sub.Version = expectedVersion + 1
	return true, nil
}

func (r *gormRepository) ExpireOtherSubscriptions(ctx context.Context, accountID uint, keepOriginalTransactionID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("account_id = ? AND original_transaction_id <> ? AND status IN ?", accountID, keepOriginalTransactionID, models.NonTerminalStatuses()).
		Updates(map[string]interface{}{
			"status":               models.SubscriptionStatusExpired,
			"grace_period_ends_at": gorm.Expr("NULL"),
			"version":              gorm.Expr("version + 1"),
			"updated_at":           now,
		})
	return res.RowsAffected, res.Error
}

// GetAccountByTransactionID resolves the account owning the subscription with
// the given original transaction id.
func (r *gormRepository) GetAccountByTransactionID(ctx context.Context, originalTransactionID string) (*models.AccountEntitlement, error) {
	var account models.AccountEntitlement
	err := r.db.WithContext(ctx).
		Joins("JOIN subscriptions ON subscriptions.account_id = account_entitlements.account_id").
		Where("subscriptions.original_transaction_id = ?", originalTransactionID).
		First(&account).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByAppAccountToken(ctx context.Context, token string) (*models.AccountEntitlement, error) {
	var account models.AccountEntitlement
	err := r.db.WithContext(ctx).Where("app_account_token = ?", token).First(&account).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *gormRepository) UpdateAccountEntitlement(ctx context.Context, accountID uint, tier string, quotaBytes int64, syncedAt time.Time) error {
	row := &models.AccountEntitlement{
		AccountID:             accountID,
		Tier:                  tier,
		StorageQuotaBytes:     quotaBytes,
		LastEntitlementSyncAt: &syncedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier",
			"storage_quota_bytes",
			"last_entitlement_sync_at",
			"updated_at",
		}),
	}).Create(row).Error
}

// InsertDeletionSchedule inserts schedule unless the account already has an
// active one. It reports whether a row was created.
func (r *gormRepository) InsertDeletionSchedule(ctx context.Context, schedule *models.DeletionSchedule) (bool, error) {
	if schedule.Status == "" {
		schedule.Status = models.DeletionStatusScheduled
	}
	if schedule.Status == models.DeletionStatusScheduled && schedule.ActiveKey == nil {
		key := schedule.AccountID
		schedule.ActiveKey = &key
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "active_key"}},
		DoNothing: true,
	}).Create(schedule)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetActiveDeletionSchedule(ctx context.Context, accountID uint) (*models.DeletionSchedule, error) {
	var schedule models.DeletionSchedule
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, models.DeletionStatusScheduled).
		First(&schedule).Error
	if err != nil {
		return nil, translate(err)
	}
	return &schedule, nil
}

func (r *gormRepository) CancelPendingDeletion(ctx context.Context, accountID uint, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.DeletionSchedule{}).
		Where("account_id = ? AND status = ?", accountID, models.DeletionStatusScheduled).
		Updates(map[string]interface{}{
			"status":     models.DeletionStatusCancelled,
			"active_key": gorm.Expr("NULL"),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// AppendNotificationAudit inserts record keyed by its notification UUID. A
// repeated UUID only updates the processing outcome.
func (r *gormRepository) AppendNotificationAudit(ctx context.Context, record *models.NotificationRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notification_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"processing_status", "error_message"}),
	}).Create(record).Error
}

func (r *gormRepository) FindNotificationRecord(ctx context.Context, notificationUUID string) (*models.NotificationRecord, error) {
	var record models.NotificationRecord
	err := r.db.WithContext(ctx).Where("notification_uuid = ?", notificationUUID).First(&record).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

func (r *gormRepository) NotificationStats(ctx context.Context, since time.Time) (NotificationStats, error) {
	var stats NotificationStats
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.NotificationRecord{}).
		Where("received_at >= ?", since).
		Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.NotificationRecord{}).
		Where("received_at >= ? AND processing_status = ?", since, models.ProcessingStatusFailed).
		Count(&stats.Failed).Error; err != nil {
		return stats, err
	}

	var last models.NotificationRecord
	err := db.Order("received_at DESC").Limit(1).Take(&last).Error
	switch {
	case err == nil:
		stats.LastNotificationAt = &last.ReceivedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return stats, err
	}
	return stats, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
