package service

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbspot/internal/db"
	"curbspot/internal/entities"
	apperr "curbspot/internal/errors"
	"curbspot/internal/token"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeSpots struct{ spots map[string]*db.Spot }

func (f *fakeSpots) GetSpot(id string) (*db.Spot, error) {
	if s, ok := f.spots[id]; ok {
		return s, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "spot not found")
}

type fakeHolds struct {
	available bool
	created   []*db.Hold
	deleted   []string
}

func (f *fakeHolds) CheckAvailability(string, time.Time, time.Time, string) (bool, error) {
	return f.available, nil
}

func (f *fakeHolds) CreateHold(h *db.Hold) error {
	h.ID = "hold-1"
	f.created = append(f.created, h)
	return nil
}

func (f *fakeHolds) DeleteHold(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeHolds) ExpireStale() (int64, error) { return 0, nil }

type fakeBookings struct {
	insertOK bool
	items    map[string]*db.Booking
	credits  []float64
}

func (f *fakeBookings) add(b *db.Booking) { f.items[b.ID] = b }

func (f *fakeBookings) InsertIfAvailable(b *db.Booking, _ string) (bool, error) {
	if !f.insertOK {
		return false, nil
	}
	b.CreatedAt = testNow
	b.UpdatedAt = testNow
	cp := *b
	f.add(&cp)
	return true, nil
}

func (f *fakeBookings) GetByCode(code string) (*db.Booking, error) {
	for _, b := range f.items {
		if b.Code == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "booking not found")
}

func (f *fakeBookings) GetByPaymentIntent(pi string) (*db.Booking, error) {
	for _, b := range f.items {
		if b.StripePaymentIntentID == pi && pi != "" {
			cp := *b
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "booking not found")
}

func (f *fakeBookings) GetBySessionID(sess string) (*db.Booking, error) {
	for _, b := range f.items {
		if b.StripeSessionID == sess && sess != "" {
			cp := *b
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "booking not found")
}

func (f *fakeBookings) ListByHost(string) ([]db.Booking, error) {
	var out []db.Booking
	for _, b := range f.items {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeBookings) TransitionStatus(id, from, to string) (bool, error) {
	b, ok := f.items[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (f *fakeBookings) TransitionFromAny(id string, froms []string, to string) (bool, error) {
	b, ok := f.items[id]
	if !ok {
		return false, nil
	}
	for _, s := range froms {
		if b.Status == s {
			b.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBookings) ActivateAndCredit(id, _, from string, earnings float64) (bool, error) {
	b, ok := f.items[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = db.StatusActive
	b.Captured = true
	f.credits = append(f.credits, earnings)
	return true, nil
}

func (f *fakeBookings) MarkCanceled(id, from, reason string, refund float64) (bool, error) {
	b, ok := f.items[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = db.StatusCanceled
	b.CancellationReason = reason
	b.RefundAmount = refund
	return true, nil
}

func (f *fakeBookings) MarkDeparted(id string, at time.Time) (bool, error) {
	b, ok := f.items[id]
	if !ok || b.Status != db.StatusActive {
		return false, nil
	}
	b.Status = db.StatusCompleted
	b.DepartedAt = &at
	return true, nil
}

func (f *fakeBookings) SetPaymentRefs(id, customerID, pi, sess string) error {
	if b, ok := f.items[id]; ok {
		b.StripeCustomerID = customerID
		b.StripePaymentIntentID = pi
		b.StripeSessionID = sess
	}
	return nil
}

func (f *fakeBookings) HeldOlderThan(cutoff time.Time) ([]db.Booking, error) {
	var out []db.Booking
	for _, b := range f.items {
		if b.Status == db.StatusHeld && b.CreatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeUsers struct{ users map[string]*db.User }

func (f *fakeUsers) GetUser(id string) (*db.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "user not found")
}

type fakePayments struct {
	pmID        string
	chargeErr   error
	holdErr     error
	captureErr  error
	capturedPIs map[string]bool
	captures    []string
	releases    []string
	refunds     []int64
	expired     []string
}

func (f *fakePayments) EnsureCustomer(string, string) (string, error) { return "cus_1", nil }

func (f *fakePayments) DefaultPaymentMethod(string) (string, error) { return f.pmID, nil }

func (f *fakePayments) AuthorizeAndCapture(PaymentParams) (*PaymentResult, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return &PaymentResult{PaymentIntentID: "pi_1", Status: "succeeded", Captured: true}, nil
}

func (f *fakePayments) AuthorizeHold(PaymentParams) (*PaymentResult, error) {
	if f.holdErr != nil {
		return nil, f.holdErr
	}
	return &PaymentResult{PaymentIntentID: "pi_1", Status: "requires_capture", Captured: false}, nil
}

func (f *fakePayments) Capture(pi string) error {
	if f.captureErr != nil {
		return f.captureErr
	}
	f.captures = append(f.captures, pi)
	f.capturedPIs[pi] = true
	return nil
}

func (f *fakePayments) CancelAuthorization(pi string) error {
	f.releases = append(f.releases, pi)
	return nil
}

func (f *fakePayments) Refund(_ string, cents int64) error {
	f.refunds = append(f.refunds, cents)
	return nil
}

func (f *fakePayments) IsCaptured(pi string) (bool, error) { return f.capturedPIs[pi], nil }

func (f *fakePayments) CreateCheckoutSession(PaymentParams, string) (string, string, error) {
	return "https://checkout.test/session", "cs_1", nil
}

func (f *fakePayments) ExpireCheckoutSession(sessionID string) error {
	f.expired = append(f.expired, sessionID)
	return nil
}

type fakeNotifier struct{ events []string }

func (f *fakeNotifier) BookingActive(*db.Booking, *db.Spot) { f.events = append(f.events, "active") }
func (f *fakeNotifier) BookingHeld(*db.Booking, *db.Spot)   { f.events = append(f.events, "held") }
func (f *fakeNotifier) BookingCanceled(_ *db.Booking, _ *db.Spot, reason string, _ bool) {
	f.events = append(f.events, "canceled:"+reason)
}
func (f *fakeNotifier) BookingCompleted(*db.Booking, *db.Spot) {
	f.events = append(f.events, "completed")
}
func (f *fakeNotifier) GuestMessage(_ *db.Booking, _ *db.Spot, body string) {
	f.events = append(f.events, "message:"+body)
}

type testEnv struct {
	spots    *fakeSpots
	holds    *fakeHolds
	bookings *fakeBookings
	users    *fakeUsers
	payments *fakePayments
	notifier *fakeNotifier
	svc      *BookingService
}

func newTestEnv() *testEnv {
	log := logrus.New()
	log.SetOutput(io.Discard)

	env := &testEnv{
		spots: &fakeSpots{spots: map[string]*db.Spot{
			"spot-1": {ID: "spot-1", HostID: "host-1", Name: "Driveway on Elm", HourlyRate: 10, EVPremium: 2.5, InstantBook: true, Status: db.SpotStatusActive},
		}},
		holds:    &fakeHolds{available: true},
		bookings: &fakeBookings{insertOK: true, items: map[string]*db.Booking{}},
		users: &fakeUsers{users: map[string]*db.User{
			"driver-1": {ID: "driver-1", Email: "driver@example.com", Name: "Dana", Phone: "+15550001111", Role: db.RoleDriver},
			"host-1":   {ID: "host-1", Email: "host@example.com", Name: "Hugo", Role: db.RoleHost},
		}},
		payments: &fakePayments{pmID: "pm_1", capturedPIs: map[string]bool{}},
		notifier: &fakeNotifier{},
	}
	env.svc = NewBookingService(env.spots, env.holds, env.bookings, env.users, env.payments, env.notifier, log, "usd", 5*time.Minute, time.Hour)
	env.svc.now = func() time.Time { return testNow }
	return env
}

func createReq() entities.CreateBookingRequest {
	return entities.CreateBookingRequest{
		SpotID:    "spot-1",
		StartTime: testNow.Add(2 * time.Hour),
		EndTime:   testNow.Add(4 * time.Hour),
	}
}

func heldBooking(env *testEnv) *db.Booking {
	b := &db.Booking{
		ID:                    "bk-1",
		Code:                  "ABCD1234",
		SpotID:                "spot-1",
		DriverID:              "driver-1",
		StartTime:             testNow.Add(2 * time.Hour),
		EndTime:               testNow.Add(4 * time.Hour),
		Status:                db.StatusHeld,
		TotalAmount:           28,
		HostEarnings:          20,
		StripeCustomerID:      "cus_1",
		StripePaymentIntentID: "pi_1",
		CreatedAt:             testNow.Add(-10 * time.Minute),
	}
	env.bookings.add(b)
	return b
}

func TestCreateBookingInstantSuccess(t *testing.T) {
	env := newTestEnv()

	resp, err := env.svc.CreateBooking("driver-1", createReq())
	require.NoError(t, err)

	assert.Equal(t, db.StatusActive, resp.Status)
	assert.Equal(t, 28.00, resp.Pricing.Total)
	assert.Equal(t, 20.00, resp.Pricing.HostEarnings)
	assert.Empty(t, resp.AccessToken)
	assert.Empty(t, resp.CheckoutURL)

	// Host credited exactly once, hold cleaned up, driver notified.
	assert.Equal(t, []float64{20.00}, env.bookings.credits)
	assert.Equal(t, []string{"hold-1"}, env.holds.deleted)
	assert.Equal(t, []string{"active"}, env.notifier.events)
}

func TestCreateBookingGuestReceivesToken(t *testing.T) {
	env := newTestEnv()
	req := createReq()
	req.GuestName = "Gabe"
	req.GuestEmail = "gabe@example.com"

	resp, err := env.svc.CreateBooking("", req)
	require.NoError(t, err)

	require.NotEmpty(t, resp.AccessToken)
	stored, err := env.bookings.GetByCode(resp.Code)
	require.NoError(t, err)
	assert.Equal(t, token.Digest(resp.AccessToken), stored.AccessTokenHash)
	assert.Empty(t, stored.DriverID)
}

func TestCreateBookingGuestRequiresContact(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.CreateBooking("", createReq())
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Empty(t, env.bookings.items)
}

func TestCreateBookingNoPaymentMethodFailsFast(t *testing.T) {
	env := newTestEnv()
	env.payments.pmID = ""

	_, err := env.svc.CreateBooking("driver-1", createReq())

	assert.True(t, apperr.IsKind(err, apperr.KindNoPaymentMethod))
	// Nothing was inserted and the hold was released.
	assert.Empty(t, env.bookings.items)
	assert.Equal(t, []string{"hold-1"}, env.holds.deleted)
}

func TestCreateBookingDeclineFallsBackToCheckout(t *testing.T) {
	env := newTestEnv()
	env.payments.chargeErr = apperr.New(apperr.KindCardDeclined, "card declined")

	resp, err := env.svc.CreateBooking("driver-1", createReq())
	require.NoError(t, err)

	assert.Equal(t, db.StatusPending, resp.Status)
	assert.Equal(t, "https://checkout.test/session", resp.CheckoutURL)
	assert.Empty(t, env.bookings.credits)
	assert.Empty(t, env.notifier.events)

	stored, err := env.bookings.GetByCode(resp.Code)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", stored.StripeSessionID)
	assert.Empty(t, stored.StripePaymentIntentID)
}

func TestCreateBookingRaceLostRefundsCharge(t *testing.T) {
	env := newTestEnv()
	env.bookings.insertOK = false

	_, err := env.svc.CreateBooking("driver-1", createReq())

	assert.True(t, apperr.IsKind(err, apperr.KindRaceLost))
	// The charge went through before the commit failed; it must come back.
	assert.Equal(t, []int64{2800}, env.payments.refunds)
	assert.Empty(t, env.bookings.credits)
}

func TestCreateBookingUnavailableWindow(t *testing.T) {
	env := newTestEnv()
	env.holds.available = false

	_, err := env.svc.CreateBooking("driver-1", createReq())

	assert.True(t, apperr.IsKind(err, apperr.KindRaceLost))
	assert.Empty(t, env.holds.created)
}

func TestCreateBookingApprovalHold(t *testing.T) {
	env := newTestEnv()
	env.spots.spots["spot-1"].InstantBook = false

	resp, err := env.svc.CreateBooking("driver-1", createReq())
	require.NoError(t, err)

	assert.Equal(t, db.StatusHeld, resp.Status)
	assert.Empty(t, env.payments.captures)
	assert.Empty(t, env.bookings.credits)
	assert.Equal(t, []string{"held"}, env.notifier.events)
}

func TestCreateBookingRejectsPastStart(t *testing.T) {
	env := newTestEnv()
	req := createReq()
	req.StartTime = testNow.Add(-time.Hour)
	req.EndTime = testNow.Add(time.Hour)

	_, err := env.svc.CreateBooking("driver-1", req)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestApproveBooking(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	resp, err := env.svc.ApproveBooking("host-1", b.Code)
	require.NoError(t, err)

	assert.Equal(t, db.StatusActive, resp.Status)
	assert.Equal(t, []string{"pi_1"}, env.payments.captures)
	assert.Equal(t, []float64{20.00}, env.bookings.credits)

	// A second approve is a no-op reporting the current state.
	resp, err = env.svc.ApproveBooking("host-1", b.Code)
	require.NoError(t, err)
	assert.Equal(t, db.StatusActive, resp.Status)
	assert.Len(t, env.payments.captures, 1)
	assert.Len(t, env.bookings.credits, 1)
}

func TestApproveAfterWindowReleasesAuthorization(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].CreatedAt = testNow.Add(-2 * time.Hour)
	b.CreatedAt = testNow.Add(-2 * time.Hour)

	resp, err := env.svc.ApproveBooking("host-1", b.Code)
	require.NoError(t, err)

	assert.Equal(t, db.StatusCanceled, resp.Status)
	assert.Equal(t, "approval_window_elapsed", resp.CancellationReason)
	assert.Equal(t, []string{"pi_1"}, env.payments.releases)
	assert.Empty(t, env.payments.captures)
	assert.Empty(t, env.bookings.credits)
}

func TestDeclineBooking(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	resp, err := env.svc.DeclineBooking("host-1", b.Code)
	require.NoError(t, err)

	assert.Equal(t, db.StatusCanceled, resp.Status)
	assert.Equal(t, "host_declined", resp.CancellationReason)
	assert.Equal(t, []string{"pi_1"}, env.payments.releases)
	assert.Empty(t, env.bookings.credits)
}

func TestApproveRejectsForeignHost(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	_, err := env.svc.ApproveBooking("host-2", b.Code)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestCancelWithinGraceRefundsInFull(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].Status = db.StatusActive
	env.bookings.items[b.ID].CreatedAt = testNow.Add(-5 * time.Minute)
	env.payments.capturedPIs["pi_1"] = true

	resp, err := env.svc.CancelBooking(b.Code, "driver-1", "")
	require.NoError(t, err)

	assert.Equal(t, db.StatusCanceled, resp.Status)
	assert.Equal(t, 28.00, resp.RefundAmount)
	assert.Equal(t, "grace_refund", resp.RefundReason)
	assert.Equal(t, []int64{2800}, env.payments.refunds)
}

func TestCancelLateRefundsNothing(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusActive
	stored.CreatedAt = testNow.Add(-2 * time.Hour)
	stored.StartTime = testNow.Add(30 * time.Minute)
	env.payments.capturedPIs["pi_1"] = true

	resp, err := env.svc.CancelBooking(b.Code, "driver-1", "")
	require.NoError(t, err)

	assert.Equal(t, db.StatusCanceled, resp.Status)
	assert.Equal(t, 0.00, resp.RefundAmount)
	assert.Equal(t, "late_no_refund", resp.RefundReason)
	assert.Empty(t, env.payments.refunds)
}

func TestCancelHeldReleasesAuthorization(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].CreatedAt = testNow.Add(-30 * time.Minute)

	resp, err := env.svc.CancelBooking(b.Code, "driver-1", "")
	require.NoError(t, err)

	// The policy would owe a refund, but no funds were captured: the
	// authorization is released instead.
	assert.Equal(t, "authorization_released", resp.RefundReason)
	assert.Equal(t, 0.00, resp.RefundAmount)
	assert.Equal(t, []string{"pi_1"}, env.payments.releases)
	assert.Empty(t, env.payments.refunds)
}

func TestCancelPendingFallbackExpiresSession(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusPending
	stored.StripePaymentIntentID = ""
	stored.StripeSessionID = "cs_1"

	resp, err := env.svc.CancelBooking(b.Code, "driver-1", "")
	require.NoError(t, err)

	// No intent to release or refund yet; the open checkout session is
	// expired so it cannot collect payment for the canceled booking.
	assert.Equal(t, db.StatusCanceled, resp.Status)
	assert.Equal(t, []string{"cs_1"}, env.payments.expired)
	assert.Empty(t, env.payments.releases)
	assert.Empty(t, env.payments.refunds)
}

func TestCancelTerminalIsNoOp(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].Status = db.StatusCompleted

	resp, err := env.svc.CancelBooking(b.Code, "driver-1", "")
	require.NoError(t, err)

	assert.Equal(t, db.StatusCompleted, resp.Status)
	assert.Empty(t, env.payments.releases)
	assert.Empty(t, env.payments.refunds)
}

func TestCancelRejectsStranger(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	_, err := env.svc.CancelBooking(b.Code, "driver-2", "")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestConfirmDeparture(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusActive
	stored.EndTime = testNow.Add(10 * time.Minute)

	resp, err := env.svc.ConfirmDeparture(b.Code, "driver-1", "")
	require.NoError(t, err)

	assert.Equal(t, db.StatusCompleted, resp.Status)
	require.NotNil(t, resp.DepartedAt)
	assert.Equal(t, testNow, *resp.DepartedAt)
	assert.Contains(t, env.notifier.events, "completed")
}

func TestConfirmDepartureTooEarly(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].Status = db.StatusActive

	// End is 4h away; the window opens 15 minutes before it.
	_, err := env.svc.ConfirmDeparture(b.Code, "driver-1", "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestGuestAccessByToken(t *testing.T) {
	env := newTestEnv()
	plain, digest, err := token.New()
	require.NoError(t, err)
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.DriverID = ""
	stored.GuestEmail = "gabe@example.com"
	stored.AccessTokenHash = digest
	stored.Status = db.StatusActive

	resp, err := env.svc.GetBooking(b.Code, "", plain)
	require.NoError(t, err)
	assert.Equal(t, b.Code, resp.Code)

	_, err = env.svc.GetBooking(b.Code, "", "not-the-token")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestHostCanViewBooking(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	resp, err := env.svc.GetBooking(b.Code, "host-1", "")
	require.NoError(t, err)
	assert.Equal(t, b.Code, resp.Code)
}

func TestExpireHeldBookings(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].CreatedAt = testNow.Add(-2 * time.Hour)

	fresh := *env.bookings.items[b.ID]
	fresh.ID = "bk-2"
	fresh.Code = "FRESH001"
	fresh.CreatedAt = testNow.Add(-5 * time.Minute)
	env.bookings.add(&fresh)

	n, err := env.svc.ExpireHeldBookings()
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, db.StatusCanceled, env.bookings.items[b.ID].Status)
	assert.Equal(t, "approval_window_elapsed", env.bookings.items[b.ID].CancellationReason)
	assert.Equal(t, db.StatusHeld, env.bookings.items["bk-2"].Status)
}

func TestReconcilePaymentSucceededIsIdempotent(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].Status = db.StatusPending

	require.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_1"))
	assert.Equal(t, db.StatusActive, env.bookings.items[b.ID].Status)
	assert.Equal(t, []float64{20.00}, env.bookings.credits)

	// Redelivery of the same event credits nothing further.
	require.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_1"))
	assert.Len(t, env.bookings.credits, 1)
}

func TestReconcilePaymentSucceededUnknownIntent(t *testing.T) {
	env := newTestEnv()
	assert.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_unknown"))
}

func TestReconcilePaymentSucceededPastEndMarksPaid(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusActive
	stored.EndTime = testNow.Add(-time.Hour)

	require.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_1"))
	assert.Equal(t, db.StatusPaid, stored.Status)
}

func TestReconcilePaymentFailed(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	require.NoError(t, env.svc.ReconcilePaymentFailed("pi_1"))

	assert.Equal(t, db.StatusCanceled, env.bookings.items[b.ID].Status)
	assert.Equal(t, "payment_failed", env.bookings.items[b.ID].CancellationReason)
}

func TestReconcileCheckoutCompleted(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusPending
	stored.StripePaymentIntentID = ""
	stored.StripeSessionID = "cs_1"

	require.NoError(t, env.svc.ReconcileCheckoutCompleted("cs_1", "pi_9"))

	assert.Equal(t, db.StatusActive, stored.Status)
	assert.Equal(t, "pi_9", stored.StripePaymentIntentID)
	assert.Equal(t, []float64{20.00}, env.bookings.credits)
}

func TestReconcileCheckoutCompletedAfterCancelRefunds(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusPending
	stored.StripePaymentIntentID = ""
	stored.StripeSessionID = "cs_1"

	_, err := env.svc.CancelBooking(b.Code, "driver-1", "")
	require.NoError(t, err)

	// The guest finished the hosted checkout anyway; the capture lands
	// after the cancel and must be returned, not kept.
	require.NoError(t, env.svc.ReconcileCheckoutCompleted("cs_1", "pi_9"))

	assert.Equal(t, db.StatusRefunded, stored.Status)
	assert.Equal(t, "pi_9", stored.StripePaymentIntentID)
	assert.Equal(t, []int64{2800}, env.payments.refunds)
	assert.Empty(t, env.bookings.credits)

	// The trailing payment_intent.succeeded for the same capture is a
	// no-op once the booking is refunded.
	require.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_9"))
	assert.Len(t, env.payments.refunds, 1)
	assert.Equal(t, db.StatusRefunded, stored.Status)
}

func TestReconcilePaymentSucceededAfterCancelRefunds(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusCanceled
	stored.Captured = false

	require.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_1"))

	assert.Equal(t, db.StatusRefunded, stored.Status)
	assert.Equal(t, []int64{2800}, env.payments.refunds)
	assert.Empty(t, env.bookings.credits)
}

func TestReconcilePaymentSucceededKeepsDecidedCancellation(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	stored := env.bookings.items[b.ID]
	stored.Status = db.StatusCanceled
	stored.Captured = true
	stored.CancellationReason = "late_no_refund"

	// The cancel flow already saw this capture and the policy kept the
	// funds; a redelivered capture event must not second-guess it.
	require.NoError(t, env.svc.ReconcilePaymentSucceeded("pi_1"))

	assert.Equal(t, db.StatusCanceled, stored.Status)
	assert.Empty(t, env.payments.refunds)
}

func TestReconcileChargeRefunded(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)
	env.bookings.items[b.ID].Status = db.StatusPaid

	require.NoError(t, env.svc.ReconcileChargeRefunded("pi_1"))
	assert.Equal(t, db.StatusRefunded, env.bookings.items[b.ID].Status)
}

func TestMessageHost(t *testing.T) {
	env := newTestEnv()
	b := heldBooking(env)

	require.NoError(t, env.svc.MessageHost(b.Code, "driver-1", "", "which side of the driveway?"))
	assert.Equal(t, []string{"message:which side of the driveway?"}, env.notifier.events)

	err := env.svc.MessageHost(b.Code, "driver-1", "", "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestQuoteMatchesBookingPricing(t *testing.T) {
	env := newTestEnv()

	quote, err := env.svc.Quote(entities.QuoteRequest{
		SpotID:    "spot-1",
		StartTime: testNow.Add(2 * time.Hour),
		EndTime:   testNow.Add(4 * time.Hour),
	})
	require.NoError(t, err)

	booking, err := env.svc.CreateBooking("driver-1", createReq())
	require.NoError(t, err)

	assert.Equal(t, quote.Pricing, booking.Pricing)
}
