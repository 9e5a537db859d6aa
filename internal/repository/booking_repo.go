package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"curbspot/internal/db"
	apperr "curbspot/internal/errors"
)

type BookingRepository struct {
	DB *sql.DB
}

func NewBookingRepository(database *sql.DB) *BookingRepository {
	return &BookingRepository{DB: database}
}

const bookingColumns = `
	id, code, spot_id, driver_id, guest_name, guest_email, guest_phone, access_token_hash,
	start_time, end_time, status,
	hourly_rate, hours, subtotal, service_fee, ev_charging_fee, total_amount, host_earnings, ev_requested,
	stripe_customer_id, stripe_payment_intent_id, stripe_session_id, captured,
	refund_amount, cancellation_reason, created_at, updated_at, departed_at`

func scanBooking(row interface{ Scan(...interface{}) error }) (*db.Booking, error) {
	var b db.Booking
	var departedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.Code, &b.SpotID, &b.DriverID, &b.GuestName, &b.GuestEmail, &b.GuestPhone, &b.AccessTokenHash,
		&b.StartTime, &b.EndTime, &b.Status,
		&b.HourlyRate, &b.Hours, &b.Subtotal, &b.ServiceFee, &b.EVChargingFee, &b.TotalAmount, &b.HostEarnings, &b.EVRequested,
		&b.StripeCustomerID, &b.StripePaymentIntentID, &b.StripeSessionID, &b.Captured,
		&b.RefundAmount, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt, &departedAt,
	)
	if err != nil {
		return nil, err
	}
	if departedAt.Valid {
		t := departedAt.Time
		b.DepartedAt = &t
	}
	return &b, nil
}

// InsertIfAvailable persists a booking only when the atomic availability
// check still passes at commit time: the insert and the overlap check are a
// single statement, so of two racing writers exactly one gets a row. A
// false return with nil error means the race was lost; the caller must
// unwind any payment already taken.
func (r *BookingRepository) InsertIfAvailable(b *db.Booking, excludeRequester string) (bool, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	query := `
		INSERT INTO bookings (
			id, code, spot_id, driver_id, guest_name, guest_email, guest_phone, access_token_hash,
			start_time, end_time, status,
			hourly_rate, hours, subtotal, service_fee, ev_charging_fee, total_amount, host_earnings, ev_requested,
			stripe_customer_id, stripe_payment_intent_id, stripe_session_id, captured
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		WHERE NOT EXISTS (
			SELECT 1 FROM bookings
			WHERE spot_id = $3
			  AND status NOT IN ('completed', 'canceled', 'refunded')
			  AND start_time < $10 AND end_time > $9
		) AND NOT EXISTS (
			SELECT 1 FROM holds
			WHERE spot_id = $3
			  AND expires_at > NOW()
			  AND requester_id <> $24
			  AND start_time < $10 AND end_time > $9
		)
		RETURNING created_at, updated_at`
	err := r.DB.QueryRow(query,
		b.ID, b.Code, b.SpotID, b.DriverID, b.GuestName, b.GuestEmail, b.GuestPhone, b.AccessTokenHash,
		b.StartTime, b.EndTime, b.Status,
		b.HourlyRate, b.Hours, b.Subtotal, b.ServiceFee, b.EVChargingFee, b.TotalAmount, b.HostEarnings, b.EVRequested,
		b.StripeCustomerID, b.StripePaymentIntentID, b.StripeSessionID, b.Captured,
		excludeRequester,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		// The bookings_no_overlap exclusion constraint backstops the
		// NOT EXISTS check under serialization anomalies.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23P01" {
			return false, nil
		}
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error inserting booking", err)
	}
	return true, nil
}

func (r *BookingRepository) GetByCode(code string) (*db.Booking, error) {
	return r.getBooking(`SELECT `+bookingColumns+` FROM bookings WHERE code = $1`, code)
}

func (r *BookingRepository) GetByPaymentIntent(paymentIntentID string) (*db.Booking, error) {
	return r.getBooking(`SELECT `+bookingColumns+` FROM bookings WHERE stripe_payment_intent_id = $1`, paymentIntentID)
}

func (r *BookingRepository) GetBySessionID(sessionID string) (*db.Booking, error) {
	return r.getBooking(`SELECT `+bookingColumns+` FROM bookings WHERE stripe_session_id = $1`, sessionID)
}

func (r *BookingRepository) getBooking(query string, arg interface{}) (*db.Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "booking not found")
		}
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error querying booking", err)
	}
	return b, nil
}

func (r *BookingRepository) ListByHost(hostID string) ([]db.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE spot_id IN (SELECT id FROM spots WHERE host_id = $1)
		ORDER BY created_at DESC`
	rows, err := r.DB.Query(query, hostID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error listing host bookings", err)
	}
	defer rows.Close()

	var bookings []db.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error scanning booking", err)
		}
		bookings = append(bookings, *b)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error iterating bookings", err)
	}
	return bookings, nil
}

// TransitionStatus performs a single optimistic-concurrency update guarded
// by the expected prior status. A false return means the booking was no
// longer in fromStatus; callers report the current state instead of
// erroring, since the reconciliation listener may have raced them.
func (r *BookingRepository) TransitionStatus(id, fromStatus, toStatus string) (bool, error) {
	res, err := r.DB.Exec(
		`UPDATE bookings SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus,
	)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error updating booking status", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// TransitionFromAny is TransitionStatus with a set of accepted prior states.
func (r *BookingRepository) TransitionFromAny(id string, fromStatuses []string, toStatus string) (bool, error) {
	res, err := r.DB.Exec(
		`UPDATE bookings SET status = $3, updated_at = NOW() WHERE id = $1 AND status = ANY($2)`,
		id, pq.Array(fromStatuses), toStatus,
	)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error updating booking status", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ActivateAndCredit flips a booking to active and credits the host's ledger
// balance in one transaction. The status guard makes the credit exactly
// once: whichever of the synchronous path and the reconciliation listener
// wins the transition performs it, the loser is a no-op. The balance update
// is an atomic increment, never read-modify-write.
func (r *BookingRepository) ActivateAndCredit(bookingID, hostID, fromStatus string, earnings float64) (bool, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error starting transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE bookings SET status = $3, captured = TRUE, updated_at = NOW() WHERE id = $1 AND status = $2`,
		bookingID, fromStatus, db.StatusActive,
	)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error activating booking", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(`UPDATE users SET balance = balance + $2 WHERE id = $1`, hostID, earnings); err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error crediting host balance", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error committing activation", err)
	}
	return true, nil
}

// MarkCanceled transitions to canceled and records the refund outcome.
func (r *BookingRepository) MarkCanceled(id, fromStatus, reason string, refundAmount float64) (bool, error) {
	res, err := r.DB.Exec(
		`UPDATE bookings
		 SET status = $3, cancellation_reason = $4, refund_amount = $5, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, fromStatus, db.StatusCanceled, reason, refundAmount,
	)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error canceling booking", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkDeparted completes an active booking on driver departure confirmation.
func (r *BookingRepository) MarkDeparted(id string, at time.Time) (bool, error) {
	res, err := r.DB.Exec(
		`UPDATE bookings SET status = $2, departed_at = $3, updated_at = NOW() WHERE id = $1 AND status = $4`,
		id, db.StatusCompleted, at, db.StatusActive,
	)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatastoreUnavailable, "error completing booking", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *BookingRepository) SetPaymentRefs(id, customerID, paymentIntentID, sessionID string) error {
	_, err := r.DB.Exec(
		`UPDATE bookings
		 SET stripe_customer_id = $2, stripe_payment_intent_id = $3, stripe_session_id = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, customerID, paymentIntentID, sessionID,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindDatastoreUnavailable, "error updating payment references", err)
	}
	return nil
}

// HeldOlderThan returns held bookings whose approval window has elapsed.
func (r *BookingRepository) HeldOlderThan(cutoff time.Time) ([]db.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = $1 AND created_at < $2`
	rows, err := r.DB.Query(query, db.StatusHeld, cutoff)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error querying expired held bookings", err)
	}
	defer rows.Close()

	var bookings []db.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error scanning held booking", err)
		}
		bookings = append(bookings, *b)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error iterating held bookings", err)
	}
	return bookings, nil
}

// OngoingIDsPastEnd finds active/paid bookings whose window ended more than
// grace ago and were never explicitly departed.
func (r *BookingRepository) OngoingIDsPastEnd(grace time.Duration) ([]string, error) {
	query := `SELECT id FROM bookings WHERE status = ANY($1) AND end_time < NOW() - make_interval(secs => $2)`
	rows, err := r.DB.Query(query, pq.Array([]string{db.StatusActive, db.StatusPaid}), grace.Seconds())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error querying finished bookings", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error scanning booking id", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error iterating booking ids", err)
	}
	return ids, nil
}

func (r *BookingRepository) UpdateStatuses(ids []string, newStatus string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.DB.Exec(
		`UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = ANY($2)`,
		newStatus, pq.Array(ids),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindDatastoreUnavailable, "error updating booking statuses", err)
	}
	return nil
}

// DeletePendingOlderThan removes pending bookings that never resolved, so
// abandoned payment attempts don't linger.
func (r *BookingRepository) DeletePendingOlderThan(before time.Time) (int64, error) {
	res, err := r.DB.Exec(
		`DELETE FROM bookings WHERE status = $1 AND created_at < $2`,
		db.StatusPending, before,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatastoreUnavailable, "error deleting stale pending bookings", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
