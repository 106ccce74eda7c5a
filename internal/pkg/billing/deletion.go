package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
)

// DeletionScheduler records when an account's data becomes eligible for
// removal. Executing the deletion is left to an external sweeper.
type DeletionScheduler struct {
	repo Repository
}

func NewDeletionScheduler(repo Repository) *DeletionScheduler {
	return &DeletionScheduler{repo: repo}
}

// Schedule creates a schedule unless one is already active for the account, in
// which case the existing one is returned unchanged and created is false.
// The first schedule wins even when a later request asks for an earlier date.
func (d *DeletionScheduler) Schedule(ctx context.Context, accountID uint, when time.Time, deletionType string) (*models.DeletionSchedule, bool, error) {
	schedule := &models.DeletionSchedule{
		AccountID:    accountID,
		ScheduledFor: when,
		DeletionType: deletionType,
		Status:       models.DeletionStatusScheduled,
	}
	created, err := d.repo.InsertDeletionSchedule(ctx, schedule)
	if err != nil {
		return nil, false, err
	}
	if created {
		return schedule, true, nil
	}
	existing, err := d.repo.GetActiveDeletionSchedule(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CancelPending cancels the account's active schedule, if any.
func (d *DeletionScheduler) CancelPending(ctx context.Context, accountID uint, now time.Time) (bool, error) {
	n, err := d.repo.CancelPendingDeletion(ctx, accountID, now)
	return n > 0, err
}
