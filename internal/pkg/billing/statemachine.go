package billing

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
)

// Policy holds the time horizons applied by transitions.
type Policy struct {
	GracePeriod     time.Duration
	DeletionHorizon time.Duration
}

// DeletionRequest asks the deletion scheduler for a schedule.
type DeletionRequest struct {
	Type string
	When time.Time
}

// Transition is the computed next state of one subscription.
type Transition struct {
	Subscription *models.Subscription
	Changed      bool
	Deletion     *DeletionRequest
	// Reactivated marks transitions that return the account to a paid status;
	// a pending deletion for the account must be cancelled.
	Reactivated bool
}

// TransitionFunc computes the next state without touching storage. current is
// nil only for SUBSCRIBED.
type TransitionFunc func(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error)

var transitionTable = map[string]TransitionFunc{
	NotificationSubscribed:             applySubscribed,
	NotificationDidRenew:               applyDidRenew,
	NotificationDidFailToRenew:         applyDidFailToRenew,
	NotificationExpired:                applyExpired,
	NotificationGracePeriodExpired:     applyGracePeriodExpired,
	NotificationDidChangeRenewalStatus: applyRenewalStatusChange,
	NotificationRefund:                 applyRefund,
	NotificationRevoke:                 applyRevoke,
}

// StateMachine applies notifications to subscriptions.
type StateMachine struct {
	catalog Catalog
	policy  Policy
}

func NewStateMachine(catalog Catalog, policy Policy) *StateMachine {
	if policy.GracePeriod <= 0 {
		policy.GracePeriod = DefaultGracePeriod
	}
	if policy.DeletionHorizon <= 0 {
		policy.DeletionHorizon = DefaultDeletionHorizon
	}
	return &StateMachine{catalog: catalog, policy: policy}
}

// Handles reports whether a transition is registered for notificationType.
func (m *StateMachine) Handles(notificationType string) bool {
	_, ok := transitionTable[notificationType]
	return ok
}

// Apply computes the transition of current under n. It returns
// ErrUnhandledType for unregistered types and a *Rejection for business
// refusals.
func (m *StateMachine) Apply(current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	fn, ok := transitionTable[n.NotificationType]
	if !ok {
		return nil, ErrUnhandledType
	}
	if current == nil && n.NotificationType != NotificationSubscribed {
		return nil, reject(CodeSubscriptionNotFound, "no subscription for original transaction %q", n.OriginalTransactionID())
	}
	t, err := fn(m, current, n, now)
	if err != nil {
		return nil, err
	}
	t.Changed = !sameState(current, t.Subscription)
	if t.Changed {
		t.Subscription.UpdatedAt = now
		t.Subscription.LastNotificationUUID = n.NotificationUUID
	}
	return t, nil
}

func applySubscribed(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	tx := n.Transaction
	tier, ok := m.catalog.ResolveTier(tx.ProductID)
	if !ok {
		return nil, reject(CodeUnknownProduct, "product %q is not mapped to a tier", tx.ProductID)
	}

	next := &models.Subscription{OriginalTransactionID: tx.OriginalTransactionID, Version: 1}
	if current != nil {
		next = clone(current)
	}
	next.ProductID = tx.ProductID
	next.Tier = tier
	next.Status = models.SubscriptionStatusActive
	next.IsTrialPeriod = tx.IsFreeTrial()
	if next.IsTrialPeriod {
		next.Status = models.SubscriptionStatusTrial
	}
	next.StartedAt = tx.PurchaseTime()
	expires := tx.ExpiresTime()
	// A redelivered SUBSCRIBED must not roll back an expiry a renewal already advanced.
	if current != nil && !current.IsTerminal() && current.ExpiresAt.After(expires) {
		expires = current.ExpiresAt
	}
	next.ExpiresAt = expires
	next.AutoRenewStatus = true
	next.GracePeriodEndsAt = nil
	next.CanceledAt = nil
	next.DeletionScheduledAt = nil
	next.Environment = n.Environment()
	next.RawTransaction = rawTransaction(tx)
	return &Transition{Subscription: next, Reactivated: true}, nil
}

func applyDidRenew(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	if isCancelledOrRevoked(current) {
		return unchanged(current), nil
	}
	next := clone(current)
	tx := n.Transaction
	if tx.ProductID != "" && tx.ProductID != current.ProductID {
		tier, ok := m.catalog.ResolveTier(tx.ProductID)
		if !ok {
			return nil, reject(CodeUnknownProduct, "product %q is not mapped to a tier", tx.ProductID)
		}
		next.ProductID = tx.ProductID
		next.Tier = tier
	}
	next.Status = models.SubscriptionStatusActive
	next.IsTrialPeriod = false
	if e := tx.ExpiresTime(); e.After(next.ExpiresAt) {
		next.ExpiresAt = e
	}
	next.GracePeriodEndsAt = nil
	next.RawTransaction = rawTransaction(tx)

	reactivated := current.Status == models.SubscriptionStatusExpired
	if reactivated {
		next.DeletionScheduledAt = nil
	}
	return &Transition{Subscription: next, Reactivated: reactivated}, nil
}

func applyDidFailToRenew(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	if current.IsTerminal() || current.Status == models.SubscriptionStatusGrace {
		return unchanged(current), nil
	}
	graceEnd := current.ExpiresAt.Add(m.policy.GracePeriod)
	if !graceEnd.After(now) {
		// Delivered after the grace window already closed.
		return m.graceExpired(current, now), nil
	}
	next := clone(current)
	next.Status = models.SubscriptionStatusGrace
	next.GracePeriodEndsAt = &graceEnd
	return &Transition{Subscription: next}, nil
}

func applyExpired(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	if isCancelledOrRevoked(current) {
		return unchanged(current), nil
	}
	next := clone(current)
	next.Status = models.SubscriptionStatusExpired
	next.GracePeriodEndsAt = nil
	return &Transition{Subscription: next}, nil
}

func applyGracePeriodExpired(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	if isCancelledOrRevoked(current) {
		return unchanged(current), nil
	}
	return m.graceExpired(current, now), nil
}

func applyRenewalStatusChange(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	next := clone(current)
	switch {
	case n.Subtype == SubtypeAutoRenewEnabled:
		next.AutoRenewStatus = true
	case n.Subtype == SubtypeAutoRenewDisabled:
		next.AutoRenewStatus = false
	case n.Renewal != nil:
		next.AutoRenewStatus = n.Renewal.AutoRenewStatus == autoRenewOn
	}
	return &Transition{Subscription: next}, nil
}

func applyRefund(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	next := clone(current)
	if !isCancelledOrRevoked(current) {
		next.Status = models.SubscriptionStatusCancelled
		canceledAt := now
		next.CanceledAt = &canceledAt
		next.GracePeriodEndsAt = nil
	}
	return &Transition{
		Subscription: next,
		Deletion:     &DeletionRequest{Type: models.DeletionTypeRefund, When: now.Add(m.policy.DeletionHorizon)},
	}, nil
}

func applyRevoke(m *StateMachine, current *models.Subscription, n *Notification, now time.Time) (*Transition, error) {
	next := clone(current)
	if !isCancelledOrRevoked(current) {
		next.Status = models.SubscriptionStatusCancelled
		next.GracePeriodEndsAt = nil
	}
	return &Transition{
		Subscription: next,
		Deletion:     &DeletionRequest{Type: models.DeletionTypeRevoke, When: now},
	}, nil
}

func (m *StateMachine) graceExpired(current *models.Subscription, now time.Time) *Transition {
	next := clone(current)
	next.Status = models.SubscriptionStatusCancelled
	next.GracePeriodEndsAt = nil
	return &Transition{
		Subscription: next,
		Deletion:     &DeletionRequest{Type: models.DeletionTypeGraceExpire, When: now.Add(m.policy.DeletionHorizon)},
	}
}

func isCancelledOrRevoked(s *models.Subscription) bool {
	return s.Status == models.SubscriptionStatusCancelled || s.Status == models.SubscriptionStatusRevoked
}

func clone(s *models.Subscription) *models.Subscription {
	c := *s
	return &c
}

func unchanged(s *models.Subscription) *Transition {
	return &Transition{Subscription: clone(s)}
}

func rawTransaction(tx *TransactionInfo) datatypes.JSON {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// sameState compares the fields a transition may change.
func sameState(a, b *models.Subscription) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ProductID == b.ProductID &&
		a.Tier == b.Tier &&
		a.Status == b.Status &&
		a.IsTrialPeriod == b.IsTrialPeriod &&
		a.AutoRenewStatus == b.AutoRenewStatus &&
		a.Environment == b.Environment &&
		a.StartedAt.Equal(b.StartedAt) &&
		a.ExpiresAt.Equal(b.ExpiresAt) &&
		timePtrEqual(a.GracePeriodEndsAt, b.GracePeriodEndsAt) &&
		timePtrEqual(a.DeletionScheduledAt, b.DeletionScheduledAt) &&
		timePtrEqual(a.CanceledAt, b.CanceledAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
