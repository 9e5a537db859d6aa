package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"curbspot/internal/db"
)

const (
	// completionGrace is how long after end_time an ongoing booking may sit
	// before the sweep completes it on the driver's behalf.
	completionGrace = 30 * time.Minute
	// pendingRetention is how long an unresolved pending booking is kept
	// before being purged.
	pendingRetention = 24 * time.Hour
)

type HoldSweeper interface {
	ExpireStale() (int64, error)
}

type BookingSweeper interface {
	OngoingIDsPastEnd(grace time.Duration) ([]string, error)
	UpdateStatuses(ids []string, newStatus string) error
	DeletePendingOlderThan(before time.Time) (int64, error)
}

// JobService backs the cron schedule. Every job is idempotent and safe to
// run concurrently with the request path; the underlying writes are all
// status-guarded.
type JobService struct {
	holds     HoldSweeper
	bookings  BookingSweeper
	lifecycle *BookingService
	log       *logrus.Logger
}

func NewJobService(holds HoldSweeper, bookings BookingSweeper, lifecycle *BookingService, log *logrus.Logger) *JobService {
	return &JobService{holds: holds, bookings: bookings, lifecycle: lifecycle, log: log}
}

// ExpireHolds reclaims availability holds past their TTL.
func (j *JobService) ExpireHolds() {
	n, err := j.holds.ExpireStale()
	if err != nil {
		j.log.WithError(err).Error("job: hold expiry failed")
		return
	}
	if n > 0 {
		j.log.WithField("count", n).Info("job: expired stale holds")
	}
}

// ReleaseExpiredApprovals releases authorizations for held bookings whose
// host never answered within the approval window.
func (j *JobService) ReleaseExpiredApprovals() {
	n, err := j.lifecycle.ExpireHeldBookings()
	if err != nil {
		j.log.WithError(err).Error("job: held booking expiry failed")
		return
	}
	if n > 0 {
		j.log.WithField("count", n).Info("job: released expired approval requests")
	}
}

// CompleteFinishedBookings completes ongoing bookings whose window ended
// past the grace period without a departure confirmation.
func (j *JobService) CompleteFinishedBookings() {
	ids, err := j.bookings.OngoingIDsPastEnd(completionGrace)
	if err != nil {
		j.log.WithError(err).Error("job: finished booking query failed")
		return
	}
	if len(ids) == 0 {
		return
	}
	if err := j.bookings.UpdateStatuses(ids, db.StatusCompleted); err != nil {
		j.log.WithError(err).Error("job: booking completion failed")
		return
	}
	j.log.WithField("count", len(ids)).Info("job: auto-completed finished bookings")
}

// PurgeStalePending drops pending bookings whose payment flow was abandoned.
func (j *JobService) PurgeStalePending() {
	n, err := j.bookings.DeletePendingOlderThan(time.Now().UTC().Add(-pendingRetention))
	if err != nil {
		j.log.WithError(err).Error("job: pending purge failed")
		return
	}
	if n > 0 {
		j.log.WithField("count", n).Info("job: purged stale pending bookings")
	}
}
