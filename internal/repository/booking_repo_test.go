package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbspot/internal/db"
	apperr "curbspot/internal/errors"
)

func newMockBookingRepo(t *testing.T) (*BookingRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewBookingRepository(conn), mock
}

func sampleBooking() *db.Booking {
	return &db.Booking{
		ID:          "bk-1",
		Code:        "ABCD1234",
		SpotID:      "spot-1",
		DriverID:    "driver-1",
		StartTime:   time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC),
		Status:      db.StatusPending,
		HourlyRate:  12,
		Hours:       2,
		Subtotal:    24,
		ServiceFee:  4,
		TotalAmount: 28,
	}
}

func TestInsertIfAvailable(t *testing.T) {
	t.Run("success returns true and sets timestamps", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		now := time.Now()
		mock.ExpectQuery("INSERT INTO bookings").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		b := sampleBooking()
		inserted, err := repo.InsertIfAvailable(b, "driver-1")

		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, now, b.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row means the race was lost", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectQuery("INSERT INTO bookings").WillReturnError(sql.ErrNoRows)

		inserted, err := repo.InsertIfAvailable(sampleBooking(), "driver-1")

		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("exclusion constraint violation means the race was lost", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectQuery("INSERT INTO bookings").WillReturnError(&pq.Error{Code: "23P01"})

		inserted, err := repo.InsertIfAvailable(sampleBooking(), "driver-1")

		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("other errors surface as datastore unavailable", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectQuery("INSERT INTO bookings").WillReturnError(sql.ErrConnDone)

		_, err := repo.InsertIfAvailable(sampleBooking(), "driver-1")

		assert.True(t, apperr.IsKind(err, apperr.KindDatastoreUnavailable))
	})
}

func TestTransitionStatus(t *testing.T) {
	t.Run("one row updated wins the transition", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs("bk-1", db.StatusPending, db.StatusHeld).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.TransitionStatus("bk-1", db.StatusPending, db.StatusHeld)

		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("zero rows means the prior status changed underneath", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs("bk-1", db.StatusPending, db.StatusHeld).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.TransitionStatus("bk-1", db.StatusPending, db.StatusHeld)

		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestActivateAndCredit(t *testing.T) {
	t.Run("activation and credit commit together", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs("bk-1", db.StatusHeld, db.StatusActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET balance").
			WithArgs("host-1", 20.00).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := repo.ActivateAndCredit("bk-1", "host-1", db.StatusHeld, 20.00)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost guard rolls back without crediting", func(t *testing.T) {
		repo, mock := newMockBookingRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs("bk-1", db.StatusHeld, db.StatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		ok, err := repo.ActivateAndCredit("bk-1", "host-1", db.StatusHeld, 20.00)

		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkDeparted(t *testing.T) {
	repo, mock := newMockBookingRepo(t)
	at := time.Date(2026, 3, 14, 15, 50, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE bookings SET status").
		WithArgs("bk-1", db.StatusCompleted, at, db.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkDeparted("bk-1", at)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetByCodeNotFound(t *testing.T) {
	repo, mock := newMockBookingRepo(t)
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByCode("NOPE0000")

	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
