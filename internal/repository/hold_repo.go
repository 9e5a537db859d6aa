package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"curbspot/internal/db"
	apperr "curbspot/internal/errors"
)

type HoldRepository struct {
	DB *sql.DB
}

func NewHoldRepository(database *sql.DB) *HoldRepository {
	return &HoldRepository{DB: database}
}

// availabilityQuery is the single atomic statement behind checkAvailability.
// A window is available when no non-terminal booking and no live hold from
// another requester overlaps it. The requester's own holds never count
// against them.
const availabilityQuery = `
	SELECT NOT EXISTS (
		SELECT 1 FROM bookings
		WHERE spot_id = $1
		  AND status NOT IN ('completed', 'canceled', 'refunded')
		  AND start_time < $3 AND end_time > $2
	) AND NOT EXISTS (
		SELECT 1 FROM holds
		WHERE spot_id = $1
		  AND expires_at > NOW()
		  AND requester_id <> $4
		  AND start_time < $3 AND end_time > $2
	)`

// CheckAvailability runs the atomic availability check. A datastore error
// is surfaced as DatastoreUnavailable; callers must fail the booking
// attempt rather than assume availability.
func (r *HoldRepository) CheckAvailability(spotID string, start, end time.Time, excludeRequester string) (bool, error) {
	var available bool
	err := r.DB.QueryRow(availabilityQuery, spotID, start, end, excludeRequester).Scan(&available)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error checking availability", err)
	}
	return available, nil
}

func (r *HoldRepository) CreateHold(h *db.Hold) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	query := `
		INSERT INTO holds (id, spot_id, requester_id, start_time, end_time, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.DB.QueryRow(query, h.ID, h.SpotID, h.RequesterID, h.StartTime, h.EndTime, h.ExpiresAt).Scan(&h.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindDatastoreUnavailable, "error creating hold", err)
	}
	return nil
}

func (r *HoldRepository) DeleteHold(id string) error {
	if _, err := r.DB.Exec(`DELETE FROM holds WHERE id = $1`, id); err != nil {
		return apperr.Wrap(apperr.KindDatastoreUnavailable, "error deleting hold", err)
	}
	return nil
}

// ExpireStale deletes holds past their TTL so abandoned attempts don't
// permanently block a window. Invoked opportunistically before each
// availability check and from the cron sweep.
func (r *HoldRepository) ExpireStale() (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM holds WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatastoreUnavailable, "error expiring holds", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatastoreUnavailable, "error counting expired holds", err)
	}
	return n, nil
}
