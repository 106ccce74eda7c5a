package billing

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Decoder turns a verified envelope into a Notification, including the nested
// signed transaction and renewal documents.
type Decoder struct {
	verifier *Verifier
	validate *validator.Validate
}

func NewDecoder(verifier *Verifier) *Decoder {
	return &Decoder{verifier: verifier, validate: validator.New()}
}

// Decode returns a DecodeError when the envelope is structurally unusable. On
// nested decode failures the partially decoded notification is returned with
// the error so the caller can still audit it under its UUID.
func (d *Decoder) Decode(signedPayload string) (*Notification, error) {
	n := &Notification{RawPayload: signedPayload}
	if err := d.verifier.DecodeClaims(signedPayload, n); err != nil {
		return nil, &DecodeError{Reason: "undecodable envelope", Err: err}
	}
	n.NotificationType = strings.ToUpper(strings.TrimSpace(n.NotificationType))
	n.Subtype = strings.ToUpper(strings.TrimSpace(n.Subtype))
	if err := d.validate.Struct(n); err != nil {
		return n, &DecodeError{Reason: "envelope missing required fields", Err: err}
	}

	if raw := strings.TrimSpace(n.Data.SignedTransactionInfo); raw != "" {
		tx := &TransactionInfo{}
		if err := d.verifier.DecodeClaims(raw, tx); err != nil {
			return n, &DecodeError{Reason: "undecodable signedTransactionInfo", Err: err}
		}
		if err := d.validate.Struct(tx); err != nil {
			return n, &DecodeError{Reason: "invalid signedTransactionInfo", Err: err}
		}
		if tx.BundleID != "" && n.Data.BundleID != "" && tx.BundleID != n.Data.BundleID {
			return n, &DecodeError{Reason: "transaction bundleId does not match envelope"}
		}
		n.Transaction = tx
	}

	if raw := strings.TrimSpace(n.Data.SignedRenewalInfo); raw != "" {
		ri := &RenewalInfo{}
		if err := d.verifier.DecodeClaims(raw, ri); err != nil {
			return n, &DecodeError{Reason: "undecodable signedRenewalInfo", Err: err}
		}
		n.Renewal = ri
	}

	if n.Transaction == nil && requiresTransaction(n.NotificationType) && !renewalOnly(n) {
		return n, &DecodeError{Reason: "signedTransactionInfo is required for " + n.NotificationType}
	}
	return n, nil
}

// requiresTransaction reports whether the state machine needs transaction info
// for type. Unknown types are acknowledged without it.
func requiresTransaction(notificationType string) bool {
	_, ok := transitionTable[notificationType]
	return ok
}

// renewalOnly reports whether n can be applied from its renewal info alone.
func renewalOnly(n *Notification) bool {
	return n.NotificationType == NotificationDidChangeRenewalStatus &&
		n.Renewal != nil && n.Renewal.OriginalTransactionID != ""
}
