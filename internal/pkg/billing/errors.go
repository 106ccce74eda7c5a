package billing

import (
	"errors"
	"fmt"
)

// Business rejection codes. A rejected notification is acknowledged to the
// provider and audited as failed; retrying it would not change the outcome.
const (
	CodeUnknownProduct       = "UNKNOWN_PRODUCT"
	CodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	CodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
)

// CodeInvalidPayload marks envelopes that verified but could not be decoded.
const CodeInvalidPayload = "INVALID_PAYLOAD"

var (
	// ErrNotFound is returned by the repository when a lookup matches no row.
	ErrNotFound = errors.New("billing: record not found")
	// ErrConcurrentUpdate signals a lost compare-and-set on a subscription row.
	ErrConcurrentUpdate = errors.New("billing: concurrent subscription update")
	// ErrUnhandledType is returned for notification types without a transition.
	ErrUnhandledType = errors.New("billing: unhandled notification type")
)

// Rejection is a business-level refusal to apply a notification.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return r.Code
	}
	return r.Code + ": " + r.Message
}

func reject(code, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection when it carries one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// VerificationError is returned when an envelope fails signature verification.
// Such envelopes are never audited.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "signature verification failed: " + e.Reason
}

// DecodeError is returned when a verified envelope does not carry a usable
// notification.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return CodeInvalidPayload + ": " + e.Reason + ": " + e.Err.Error()
	}
	return CodeInvalidPayload + ": " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
