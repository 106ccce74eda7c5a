package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

const (
	healthWindow           = 24 * time.Hour
	healthDegradedBelowPct = 95.0
	maxErrorMessageLength  = 1000
)

// HealthReport summarizes notification processing over the trailing window.
type HealthReport struct {
	Status              string     `json:"status"`
	TotalNotifications  int64      `json:"totalNotifications"`
	FailedNotifications int64      `json:"failedNotifications"`
	SuccessRate         float64    `json:"successRate"`
	LastNotificationAt  *time.Time `json:"lastNotificationAt"`
	Error               string     `json:"error,omitempty"`
}

// AuditLog writes one record per decoded envelope and reports processing health.
type AuditLog struct {
	repo Repository
	now  func() time.Time
}

func NewAuditLog(repo Repository, now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{repo: repo, now: now}
}

// Entry identifies the notification being audited.
type Entry struct {
	NotificationUUID      string
	NotificationType      string
	Subtype               string
	OriginalTransactionID string
	RawPayload            string
	ReceivedAt            time.Time
}

// Record appends the audit entry with status derived from procErr.
func (a *AuditLog) Record(ctx context.Context, entry Entry, procErr error) (*models.NotificationRecord, error) {
	record := &models.NotificationRecord{
		NotificationUUID:      entry.NotificationUUID,
		NotificationType:      entry.NotificationType,
		Subtype:               entry.Subtype,
		OriginalTransactionID: entry.OriginalTransactionID,
		RawPayload:            entry.RawPayload,
		ProcessingStatus:      models.ProcessingStatusSuccess,
		ReceivedAt:            entry.ReceivedAt,
	}
	if record.NotificationUUID == "" {
		record.NotificationUUID = payloadKey(entry.RawPayload)
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = a.now()
	}
	if procErr != nil {
		msg := truncateMessage(procErr.Error(), maxErrorMessageLength)
		record.ProcessingStatus = models.ProcessingStatusFailed
		record.ErrorMessage = &msg
	}
	if err := a.repo.AppendNotificationAudit(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Health computes the processing health over the last 24 hours.
func (a *AuditLog) Health(ctx context.Context) HealthReport {
	stats, err := a.repo.NotificationStats(ctx, a.now().Add(-healthWindow))
	if err != nil {
		return HealthReport{Status: HealthUnhealthy, Error: err.Error()}
	}
	report := HealthReport{
		Status:              HealthHealthy,
		TotalNotifications:  stats.Total,
		FailedNotifications: stats.Failed,
		SuccessRate:         100,
		LastNotificationAt:  stats.LastNotificationAt,
	}
	if stats.Total > 0 {
		rate := float64(stats.Total-stats.Failed) / float64(stats.Total) * 100
		if rate < healthDegradedBelowPct {
			report.Status = HealthDegraded
		}
		// Rounded for display only.
		report.SuccessRate = math.Round(rate*100) / 100
	}
	return report
}

// truncateMessage cuts msg to at most limit bytes without splitting a rune.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// payloadKey identifies envelopes that never yielded a notification UUID.
func payloadKey(payload string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(payload)))
	return "hash:" + hex.EncodeToString(sum[:])
}
