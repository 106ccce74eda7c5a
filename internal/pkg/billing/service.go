package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/metrics"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/replay"
)

// Archiver stores raw notifications outside the database.
type Archiver interface {
	ArchiveNotification(ctx context.Context, record *models.NotificationRecord) error
}

// Dependencies wires a Service. Repo, Verifier and Catalog are required.
type Dependencies struct {
	Repo        Repository
	Verifier    *Verifier
	Catalog     Catalog
	Policy      Policy
	Guard       *replay.Guard
	Recorder    metrics.Recorder
	Archiver    Archiver
	Now         func() time.Time
	CASAttempts int
}

// Service reconciles provider notifications into subscription and entitlement state.
type Service struct {
	repo        Repository
	verifier    *Verifier
	decoder     *Decoder
	machine     *StateMachine
	guard       *replay.Guard
	audit       *AuditLog
	recorder    metrics.Recorder
	archiver    Archiver
	now         func() time.Time
	casAttempts int
}

// NewService creates a billing service from injected dependencies.
func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	attempts := deps.CASAttempts
	if attempts < 1 {
		attempts = DefaultCASAttempts
	}
	return &Service{
		repo:        deps.Repo,
		verifier:    deps.Verifier,
		decoder:     NewDecoder(deps.Verifier),
		machine:     NewStateMachine(deps.Catalog, deps.Policy),
		guard:       deps.Guard,
		audit:       NewAuditLog(deps.Repo, now),
		recorder:    recorder,
		archiver:    deps.Archiver,
		now:         now,
		casAttempts: attempts,
	}
}

// NewServiceFromConfig creates a billing service from a GORM DB handle and config.
func NewServiceFromConfig(db *gorm.DB, cfg *Config, guard *replay.Guard, recorder metrics.Recorder, archiver Archiver) (*Service, error) {
	verifier, err := NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	return NewService(Dependencies{
		Repo:        NewRepository(db),
		Verifier:    verifier,
		Catalog:     NewStaticCatalog(cfg.ProductTiers),
		Policy:      Policy{GracePeriod: cfg.GracePeriod, DeletionHorizon: cfg.DeletionHorizon},
		Guard:       guard,
		Recorder:    recorder,
		Archiver:    archiver,
		CASAttempts: cfg.CASAttempts,
	}), nil
}

// Health reports notification processing health over the last 24 hours.
func (s *Service) Health(ctx context.Context) HealthReport {
	return s.audit.Health(ctx)
}

// HandleNotification runs one signed envelope through verification, replay
// protection, decoding and the state machine.
//
// A nil error means the envelope was durably handled and must be acknowledged,
// including duplicates, ignored types and business rejections (see
// ProcessingResult.Outcome). Errors are *VerificationError, *DecodeError or an
// internal failure.
func (s *Service) HandleNotification(ctx context.Context, signedPayload string) (*ProcessingResult, error) {
	receivedAt := s.now()
	signedPayload = strings.TrimSpace(signedPayload)

	if vr := s.verifier.Verify(signedPayload); !vr.Valid {
		// A token that cannot even be parsed is a bad payload, not a bad signature.
		if vr.Reason == ReasonMalformedToken {
			return nil, s.invalidPayload(ctx, nil, signedPayload, receivedAt, &DecodeError{Reason: "envelope is not a compact JWS"})
		}
		log.Warnf("[Billing] Rejected notification envelope: %s", vr.Reason)
		s.recorder.NotificationProcessed("", OutcomeInvalidSignature)
		return nil, &VerificationError{Reason: vr.Reason}
	}

	n, err := s.decoder.Decode(signedPayload)
	if err != nil {
		return nil, s.invalidPayload(ctx, n, signedPayload, receivedAt, err)
	}

	result := &ProcessingResult{
		NotificationUUID:      n.NotificationUUID,
		NotificationType:      n.NotificationType,
		OriginalTransactionID: n.OriginalTransactionID(),
	}

	seen, err := s.guard.CheckAndRecord(ctx, n.NotificationUUID)
	if err != nil {
		// The guard is an optimization; fall through to the durable check.
		log.Warnf("[Billing] Replay guard unavailable: %v", err)
	}
	if seen {
		result.Outcome = OutcomeDuplicate
		s.recorder.NotificationProcessed(n.NotificationType, OutcomeDuplicate)
		return result, nil
	}

	prior, err := s.repo.FindNotificationRecord(ctx, n.NotificationUUID)
	switch {
	case err == nil && prior.ProcessingStatus == models.ProcessingStatusSuccess:
		result.Outcome = OutcomeDuplicate
		s.recorder.NotificationProcessed(n.NotificationType, OutcomeDuplicate)
		return result, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, s.fail(ctx, n, receivedAt, fmt.Errorf("lookup notification record: %w", err))
	}

	outcome, procErr := s.dispatch(ctx, n)
	if procErr != nil {
		rejection, ok := AsRejection(procErr)
		if !ok {
			return nil, s.fail(ctx, n, receivedAt, procErr)
		}
		if _, err := s.audit.Record(ctx, s.entry(n, receivedAt), rejection); err != nil {
			return nil, s.fail(ctx, n, receivedAt, fmt.Errorf("audit rejected notification: %w", err))
		}
		log.Warnf("[Billing] Notification %s (%s) rejected: %v", n.NotificationUUID, n.NotificationType, rejection)
		result.Outcome = OutcomeRejected
		result.RejectionCode = rejection.Code
		result.Message = rejection.Message
		s.recorder.NotificationProcessed(n.NotificationType, OutcomeRejected)
		return result, nil
	}

	record, err := s.audit.Record(ctx, s.entry(n, receivedAt), nil)
	if err != nil {
		return nil, s.fail(ctx, n, receivedAt, fmt.Errorf("audit notification: %w", err))
	}
	s.archive(ctx, record)

	result.Outcome = outcome
	s.recorder.NotificationProcessed(n.NotificationType, outcome)
	log.Infof("[Billing] Notification %s (%s) for %s: %s", n.NotificationUUID, n.NotificationType, result.OriginalTransactionID, outcome)
	return result, nil
}

// dispatch applies n inside one DB transaction, retrying lost compare-and-set
// races a bounded number of times.
func (s *Service) dispatch(ctx context.Context, n *Notification) (string, error) {
	if !s.machine.Handles(n.NotificationType) {
		log.Warnf("[Billing] Ignoring unhandled notification type %q (%s)", n.NotificationType, n.NotificationUUID)
		return OutcomeIgnored, nil
	}

	var outcome string
	var err error
	for attempt := 1; attempt <= s.casAttempts; attempt++ {
		err = s.repo.Transaction(ctx, func(tx Repository) error {
			var applyErr error
			outcome, applyErr = s.apply(ctx, tx, n)
			return applyErr
		})
		if !errors.Is(err, ErrConcurrentUpdate) {
			return outcome, err
		}
		log.Warnf("[Billing] Concurrent update on %s, attempt %d/%d", n.OriginalTransactionID(), attempt, s.casAttempts)
	}
	return "", err
}

func (s *Service) apply(ctx context.Context, tx Repository, n *Notification) (string, error) {
	now := s.now()
	originalTransactionID := n.OriginalTransactionID()

	current, err := tx.GetSubscriptionByOriginalTransactionID(ctx, originalTransactionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	t, err := s.machine.Apply(current, n, now)
	if err != nil {
		return "", err
	}

	accountID, err := s.resolveAccount(ctx, tx, current, n)
	if err != nil {
		return "", err
	}
	next := t.Subscription
	next.AccountID = accountID

	revives := n.NotificationType != NotificationSubscribed && current != nil &&
		current.IsTerminal() && !next.IsTerminal()

	var other *models.Subscription
	if next.IsTerminal() || revives {
		if other, err = s.otherLiveSubscription(ctx, tx, accountID, next.OriginalTransactionID); err != nil {
			return "", err
		}
	}

	// Only SUBSCRIBED may replace the account's live subscription. A late
	// renewal of a superseded one leaves it terminal.
	if revives && other != nil {
		log.Infof("[Billing] %s for superseded subscription %s ignored; account %d is on %s",
			n.NotificationType, next.OriginalTransactionID, accountID, other.OriginalTransactionID)
		t = unchanged(current)
		next = t.Subscription
	}

	// A terminal subscription hands the account over to any other live one.
	effective := next
	if next.IsTerminal() && other != nil {
		effective = other
	}

	deletions := NewDeletionScheduler(tx)
	if t.Reactivated {
		cancelled, err := deletions.CancelPending(ctx, accountID, now)
		if err != nil {
			return "", fmt.Errorf("cancel pending deletion: %w", err)
		}
		if cancelled {
			log.Infof("[Billing] Cancelled pending deletion for account %d", accountID)
		}
	}
	if t.Deletion != nil {
		if effective != next {
			log.Infof("[Billing] Account %d still has live subscription %s; no %s deletion scheduled",
				accountID, effective.OriginalTransactionID, t.Deletion.Type)
		} else {
			schedule, created, err := deletions.Schedule(ctx, accountID, t.Deletion.When, t.Deletion.Type)
			if err != nil {
				return "", fmt.Errorf("schedule deletion: %w", err)
			}
			if !created && schedule.DeletionType != t.Deletion.Type {
				log.Warnf("[Billing] Account %d already has a %s deletion for %s; %s request not applied",
					accountID, schedule.DeletionType, schedule.ScheduledFor.Format(time.RFC3339), t.Deletion.Type)
			}
			scheduledFor := schedule.ScheduledFor
			next.DeletionScheduledAt = &scheduledFor
		}
	}

	changed := !sameState(current, next)
	if changed {
		next.UpdatedAt = now
		next.LastNotificationUUID = n.NotificationUUID
		if err := s.persist(ctx, tx, current, next, n.NotificationType); err != nil {
			return "", err
		}
	}
	if n.NotificationType == NotificationSubscribed {
		superseded, err := tx.ExpireOtherSubscriptions(ctx, accountID, originalTransactionID, now)
		if err != nil {
			return "", fmt.Errorf("expire superseded subscriptions: %w", err)
		}
		if superseded > 0 {
			log.Infof("[Billing] Expired %d superseded subscription(s) for account %d", superseded, accountID)
		}
	}

	if _, err := NewEntitlementSynchronizer(tx).Sync(ctx, accountID, effective.Tier, effective.Status, now); err != nil {
		return "", fmt.Errorf("sync entitlement: %w", err)
	}

	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeProcessed, nil
}

// invalidPayload audits an envelope that could not be decoded and returns err.
// n may be nil or partially decoded.
func (s *Service) invalidPayload(ctx context.Context, n *Notification, signedPayload string, receivedAt time.Time, err error) error {
	entry := Entry{RawPayload: signedPayload, ReceivedAt: receivedAt}
	if n != nil {
		entry = s.entry(n, receivedAt)
	}
	if _, auditErr := s.audit.Record(ctx, entry, err); auditErr != nil {
		log.Errorf("[Billing] Failed to audit undecodable notification: %v", auditErr)
	}
	log.Warnf("[Billing] Invalid notification payload: %v", err)
	s.recorder.NotificationProcessed(typeOf(n), OutcomeInvalidPayload)
	return err
}

// otherLiveSubscription returns the best live subscription of the account
// other than originalTransactionID, or nil.
func (s *Service) otherLiveSubscription(ctx context.Context, tx Repository, accountID uint, originalTransactionID string) (*models.Subscription, error) {
	live, err := tx.ListNonTerminalSubscriptions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list live subscriptions: %w", err)
	}
	others := live[:0]
	for _, sub := range live {
		if sub.OriginalTransactionID != originalTransactionID {
			others = append(others, sub)
		}
	}
	return bestSubscription(others), nil
}

func (s *Service) persist(ctx context.Context, tx Repository, current, next *models.Subscription, notificationType string) error {
	if current == nil || notificationType == NotificationSubscribed {
		if err := tx.UpsertSubscription(ctx, next); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
		return nil
	}
	ok, err := tx.CompareAndSwapSubscription(ctx, next, current.Version)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if !ok {
		return ErrConcurrentUpdate
	}
	return nil
}

// resolveAccount finds the account a notification belongs to: the owner of an
// existing subscription, or the account bound to the purchase's app account token.
func (s *Service) resolveAccount(ctx context.Context, tx Repository, current *models.Subscription, n *Notification) (uint, error) {
	if current != nil {
		account, err := tx.GetAccountByTransactionID(ctx, current.OriginalTransactionID)
		if err == nil {
			return account.AccountID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, reject(CodeAccountNotFound, "no account owns original transaction %q", current.OriginalTransactionID)
	}

	token := ""
	if n.Transaction != nil {
		token = strings.TrimSpace(n.Transaction.AppAccountToken)
	}
	parsed, err := uuid.Parse(token)
	if err != nil {
		return 0, reject(CodeAccountNotFound, "purchase carries no usable appAccountToken")
	}
	account, err := tx.GetAccountByAppAccountToken(ctx, parsed.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, reject(CodeAccountNotFound, "no account for appAccountToken %s", parsed)
		}
		return 0, err
	}
	return account.AccountID, nil
}

// fail audits an unexpected failure best-effort and releases the replay entry
// so the provider's redelivery is processed.
func (s *Service) fail(ctx context.Context, n *Notification, receivedAt time.Time, err error) error {
	log.Errorf("[Billing] Failed to process notification %s (%s): %v", n.NotificationUUID, n.NotificationType, err)
	if _, auditErr := s.audit.Record(ctx, s.entry(n, receivedAt), err); auditErr != nil {
		log.Errorf("[Billing] Failed to audit notification %s: %v", n.NotificationUUID, auditErr)
	}
	if forgetErr := s.guard.Forget(ctx, n.NotificationUUID); forgetErr != nil {
		log.Warnf("[Billing] Failed to release replay entry %s: %v", n.NotificationUUID, forgetErr)
	}
	s.recorder.NotificationProcessed(n.NotificationType, OutcomeError)
	return err
}

func (s *Service) archive(ctx context.Context, record *models.NotificationRecord) {
	if s.archiver == nil || record == nil {
		return
	}
	if err := s.archiver.ArchiveNotification(ctx, record); err != nil {
		log.Warnf("[Billing] Failed to archive notification %s: %v", record.NotificationUUID, err)
	}
}

func (s *Service) entry(n *Notification, receivedAt time.Time) Entry {
	return Entry{
		NotificationUUID:      n.NotificationUUID,
		NotificationType:      n.NotificationType,
		Subtype:               n.Subtype,
		OriginalTransactionID: n.OriginalTransactionID(),
		RawPayload:            n.RawPayload,
		ReceivedAt:            receivedAt,
	}
}

func typeOf(n *Notification) string {
	if n == nil {
		return ""
	}
	return n.NotificationType
}
