package billing

import (
	"strings"
	"time"
)

// Notification types handled by the state machine.
const (
	NotificationSubscribed             = "SUBSCRIBED"
	NotificationDidRenew               = "DID_RENEW"
	NotificationDidFailToRenew         = "DID_FAIL_TO_RENEW"
	NotificationExpired                = "EXPIRED"
	NotificationGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	NotificationDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	NotificationRefund                 = "REFUND"
	NotificationRevoke                 = "REVOKE"
)

const (
	SubtypeAutoRenewEnabled  = "AUTO_RENEW_ENABLED"
	SubtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
)

const (
	offerTypeIntroductory  = 1
	offerDiscountFreeTrial = "FREE_TRIAL"
	autoRenewOn            = 1
)

// Notification is the decoded provider envelope.
type Notification struct {
	NotificationType string           `json:"notificationType" validate:"required"`
	Subtype          string           `json:"subtype"`
	NotificationUUID string           `json:"notificationUUID" validate:"required"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`

	Transaction *TransactionInfo `json:"-"`
	Renewal     *RenewalInfo     `json:"-"`
	// RawPayload is the signed envelope as received.
	RawPayload string `json:"-"`
}

type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// TransactionInfo is the decoded signedTransactionInfo. Dates are unix milliseconds.
type TransactionInfo struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId" validate:"required"`
	ProductID             string `json:"productId" validate:"required"`
	BundleID              string `json:"bundleId"`
	PurchaseDate          int64  `json:"purchaseDate" validate:"required,gt=0"`
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate"`
	ExpiresDate           int64  `json:"expiresDate" validate:"gte=0"`
	OfferType             int    `json:"offerType"`
	OfferDiscountType     string `json:"offerDiscountType"`
	AppAccountToken       string `json:"appAccountToken" validate:"omitempty,uuid"`
	Environment           string `json:"environment"`
	RevocationDate        int64  `json:"revocationDate"`
	RevocationReason      *int   `json:"revocationReason,omitempty"`
	Type                  string `json:"type"`
}

// RenewalInfo is the decoded signedRenewalInfo.
type RenewalInfo struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId"`
	ProductID              string `json:"productId"`
	AutoRenewStatus        int    `json:"autoRenewStatus"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate"`
	SignedDate             int64  `json:"signedDate"`
}

func (t *TransactionInfo) PurchaseTime() time.Time {
	return millisToTime(t.PurchaseDate)
}

func (t *TransactionInfo) ExpiresTime() time.Time {
	return millisToTime(t.ExpiresDate)
}

// IsFreeTrial reports whether the transaction is an introductory free-trial offer.
func (t *TransactionInfo) IsFreeTrial() bool {
	if t.OfferType != offerTypeIntroductory {
		return false
	}
	d := strings.ToUpper(strings.TrimSpace(t.OfferDiscountType))
	return d == "" || d == offerDiscountFreeTrial
}

// OriginalTransactionID returns the subscription key the notification refers to.
func (n *Notification) OriginalTransactionID() string {
	if n == nil {
		return ""
	}
	if n.Transaction != nil && n.Transaction.OriginalTransactionID != "" {
		return n.Transaction.OriginalTransactionID
	}
	if n.Renewal != nil {
		return n.Renewal.OriginalTransactionID
	}
	return ""
}

func (n *Notification) Environment() string {
	if n.Transaction != nil && n.Transaction.Environment != "" {
		return n.Transaction.Environment
	}
	return n.Data.Environment
}

// Result outcomes reported to callers and to the metrics sink.
const (
	OutcomeProcessed        = "processed"
	OutcomeUnchanged        = "unchanged"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeRejected         = "rejected"
	OutcomeInvalidPayload   = "invalid_payload"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeError            = "error"
)

// ProcessingResult describes how an acknowledged notification was handled.
type ProcessingResult struct {
	NotificationUUID      string
	NotificationType      string
	OriginalTransactionID string
	Outcome               string
	// RejectionCode is set when Outcome is OutcomeRejected.
	RejectionCode string
	Message       string
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
