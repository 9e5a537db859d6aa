package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"curbspot/internal/db"
	"curbspot/internal/entities"
	apperr "curbspot/internal/errors"
	"curbspot/internal/policy"
	"curbspot/internal/pricing"
	"curbspot/internal/token"
)

// departureWindow bounds how early a driver can self-report completion.
const departureWindow = 15 * time.Minute

type SpotStore interface {
	GetSpot(id string) (*db.Spot, error)
}

type HoldStore interface {
	CheckAvailability(spotID string, start, end time.Time, excludeRequester string) (bool, error)
	CreateHold(h *db.Hold) error
	DeleteHold(id string) error
	ExpireStale() (int64, error)
}

type BookingStore interface {
	InsertIfAvailable(b *db.Booking, excludeRequester string) (bool, error)
	GetByCode(code string) (*db.Booking, error)
	GetByPaymentIntent(paymentIntentID string) (*db.Booking, error)
	GetBySessionID(sessionID string) (*db.Booking, error)
	ListByHost(hostID string) ([]db.Booking, error)
	TransitionStatus(id, fromStatus, toStatus string) (bool, error)
	TransitionFromAny(id string, fromStatuses []string, toStatus string) (bool, error)
	ActivateAndCredit(bookingID, hostID, fromStatus string, earnings float64) (bool, error)
	MarkCanceled(id, fromStatus, reason string, refundAmount float64) (bool, error)
	MarkDeparted(id string, at time.Time) (bool, error)
	SetPaymentRefs(id, customerID, paymentIntentID, sessionID string) error
	HeldOlderThan(cutoff time.Time) ([]db.Booking, error)
}

type Notifier interface {
	BookingActive(b *db.Booking, s *db.Spot)
	BookingHeld(b *db.Booking, s *db.Spot)
	BookingCanceled(b *db.Booking, s *db.Spot, reason string, charged bool)
	BookingCompleted(b *db.Booking, s *db.Spot)
	GuestMessage(b *db.Booking, s *db.Spot, body string)
}

// BookingService owns booking status transitions. All exclusion is pushed
// into the datastore: the atomic availability check at insert time and the
// expected-prior-status guards on every update. No in-memory locking.
type BookingService struct {
	spots    SpotStore
	holds    HoldStore
	bookings BookingStore
	users    UserStore
	payments PaymentProvider
	notifier Notifier
	log      *logrus.Logger

	currency       string
	holdTTL        time.Duration
	approvalWindow time.Duration

	now func() time.Time
}

func NewBookingService(
	spots SpotStore,
	holds HoldStore,
	bookings BookingStore,
	users UserStore,
	payments PaymentProvider,
	notifier Notifier,
	log *logrus.Logger,
	currency string,
	holdTTL, approvalWindow time.Duration,
) *BookingService {
	return &BookingService{
		spots:          spots,
		holds:          holds,
		bookings:       bookings,
		users:          users,
		payments:       payments,
		notifier:       notifier,
		log:            log,
		currency:       currency,
		holdTTL:        holdTTL,
		approvalWindow: approvalWindow,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Quote prices a window without touching payment or availability. Search
// and booking share this path so the two always agree.
func (s *BookingService) Quote(req entities.QuoteRequest) (*entities.QuoteResponse, error) {
	if err := validateWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	spot, err := s.spots.GetSpot(req.SpotID)
	if err != nil {
		return nil, err
	}
	q := pricing.Compute(spot.HourlyRate, pricing.Hours(req.StartTime, req.EndTime), spot.EVPremium, req.EVCharging)
	return &entities.QuoteResponse{SpotID: spot.ID, Pricing: q}, nil
}

// CheckAvailability runs the atomic check without creating anything.
func (s *BookingService) CheckAvailability(req entities.AvailabilityRequest, requesterID string) (*entities.AvailabilityResponse, error) {
	if err := validateWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if _, err := s.holds.ExpireStale(); err != nil {
		s.log.WithError(err).Warn("hold expiry sweep failed")
	}
	available, err := s.holds.CheckAvailability(req.SpotID, req.StartTime, req.EndTime, requesterID)
	if err != nil {
		return nil, err
	}
	resp := &entities.AvailabilityResponse{Available: available}
	if !available {
		resp.Message = "the spot is not available for the requested window"
	}
	return resp, nil
}

// CreateBooking runs the full reservation pipeline: hold, pricing, payment,
// then the atomic booking commit. Payment happens before the commit; a
// commit-time race loss automatically unwinds whatever the payment
// authority already did.
func (s *BookingService) CreateBooking(driverID string, req entities.CreateBookingRequest) (*entities.BookingResponse, error) {
	now := s.now()
	if err := validateWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if req.StartTime.Before(now.Add(-2 * time.Minute)) {
		return nil, apperr.New(apperr.KindValidation, "start_time must not be in the past")
	}

	spot, err := s.spots.GetSpot(req.SpotID)
	if err != nil {
		return nil, err
	}
	if spot.Status != db.SpotStatusActive {
		return nil, apperr.New(apperr.KindValidation, "spot is not accepting bookings")
	}

	contactEmail, contactName, contactPhone, err := s.resolveContact(driverID, req)
	if err != nil {
		return nil, err
	}

	requesterID := driverID
	if requesterID == "" {
		requesterID = uuid.NewString()
	}

	if _, err := s.holds.ExpireStale(); err != nil {
		s.log.WithError(err).Warn("hold expiry sweep failed")
	}
	available, err := s.holds.CheckAvailability(spot.ID, req.StartTime, req.EndTime, requesterID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, apperr.New(apperr.KindRaceLost, "the spot is no longer available for the requested window")
	}

	hold := &db.Hold{
		SpotID:      spot.ID,
		RequesterID: requesterID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		ExpiresAt:   now.Add(s.holdTTL),
	}
	if err := s.holds.CreateHold(hold); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.holds.DeleteHold(hold.ID); err != nil {
			s.log.WithError(err).WithField("hold_id", hold.ID).Warn("hold cleanup failed, expiry sweep will reclaim it")
		}
	}()

	quote := pricing.Compute(spot.HourlyRate, pricing.Hours(req.StartTime, req.EndTime), spot.EVPremium, req.EVCharging)

	b := &db.Booking{
		ID:            uuid.NewString(),
		Code:          newBookingCode(),
		SpotID:        spot.ID,
		DriverID:      driverID,
		GuestName:     contactName,
		GuestEmail:    contactEmail,
		GuestPhone:    contactPhone,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Status:        db.StatusPending,
		HourlyRate:    quote.DriverHourlyRate,
		Hours:         quote.Hours,
		Subtotal:      quote.Subtotal,
		ServiceFee:    quote.ServiceFee,
		EVChargingFee: quote.EVChargingFee,
		TotalAmount:   quote.Total,
		HostEarnings:  quote.HostEarnings,
		EVRequested:   req.EVCharging,
	}

	var plainToken string
	if b.IsGuest() {
		plain, digest, err := token.New()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "error generating access token", err)
		}
		plainToken = plain
		b.AccessTokenHash = digest
	}

	customerID, err := s.payments.EnsureCustomer(contactEmail, contactName)
	if err != nil {
		return nil, err
	}
	b.StripeCustomerID = customerID

	params := PaymentParams{
		CustomerID:     customerID,
		AmountCents:    pricing.Cents(quote.Total),
		Currency:       s.currency,
		Description:    "CurbSpot booking " + b.Code,
		IdempotencyKey: "book-" + b.Code,
	}

	var checkoutURL string
	if spot.InstantBook {
		checkoutURL, err = s.payInstant(b, &params, contactEmail)
	} else {
		err = s.payWithHold(b, &params)
	}
	if err != nil {
		return nil, err
	}

	inserted, err := s.bookings.InsertIfAvailable(b, requesterID)
	if err != nil {
		s.unwindPayment(b)
		return nil, err
	}
	if !inserted {
		s.unwindPayment(b)
		return nil, apperr.New(apperr.KindRaceLost, "the spot was booked by someone else while payment was processing")
	}

	switch {
	case b.StripePaymentIntentID != "" && b.Captured:
		if ok, err := s.bookings.ActivateAndCredit(b.ID, spot.HostID, db.StatusPending, b.HostEarnings); err != nil {
			// Payment succeeded; the reconciliation listener re-derives
			// the active status from the authority's event stream.
			s.log.WithError(err).WithField("booking_code", b.Code).Error("activation write failed after capture")
		} else if ok {
			b.Status = db.StatusActive
			s.notifier.BookingActive(b, spot)
		}
	case b.StripePaymentIntentID != "":
		if ok, err := s.bookings.TransitionStatus(b.ID, db.StatusPending, db.StatusHeld); err != nil {
			s.log.WithError(err).WithField("booking_code", b.Code).Error("hold transition write failed after authorization")
		} else if ok {
			b.Status = db.StatusHeld
			s.notifier.BookingHeld(b, spot)
		}
	}

	resp := toBookingResponse(b)
	resp.AccessToken = plainToken
	resp.CheckoutURL = checkoutURL
	return resp, nil
}

// payInstant charges immediately. A decline or an authentication demand
// falls back to a hosted checkout session and leaves the booking pending
// rather than failing the attempt outright.
func (s *BookingService) payInstant(b *db.Booking, params *PaymentParams, contactEmail string) (string, error) {
	pmID, err := s.payments.DefaultPaymentMethod(params.CustomerID)
	if err != nil {
		return "", err
	}
	if pmID == "" {
		return "", apperr.New(apperr.KindNoPaymentMethod, "no saved payment method; add a card before booking")
	}
	params.PaymentMethodID = pmID

	res, err := s.payments.AuthorizeAndCapture(*params)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind != apperr.KindCardDeclined && kind != apperr.KindRequiresAction {
			return "", err
		}
		url, sessionID, cErr := s.payments.CreateCheckoutSession(*params, contactEmail)
		if cErr != nil {
			return "", err
		}
		b.StripeSessionID = sessionID
		return url, nil
	}
	b.StripePaymentIntentID = res.PaymentIntentID
	b.Captured = res.Captured
	return "", nil
}

func (s *BookingService) payWithHold(b *db.Booking, params *PaymentParams) error {
	pmID, err := s.payments.DefaultPaymentMethod(params.CustomerID)
	if err != nil {
		return err
	}
	if pmID == "" {
		return apperr.New(apperr.KindNoPaymentMethod, "no saved payment method; add a card before booking")
	}
	params.PaymentMethodID = pmID

	res, err := s.payments.AuthorizeHold(*params)
	if err != nil {
		return err
	}
	b.StripePaymentIntentID = res.PaymentIntentID
	b.Captured = false
	return nil
}

// unwindPayment compensates a payment taken for a booking that could not be
// committed: refund if captured, release the authorization otherwise.
// Failures are logged; the reconciliation listener converges eventually.
func (s *BookingService) unwindPayment(b *db.Booking) {
	if b.StripePaymentIntentID == "" {
		return
	}
	var err error
	if b.Captured {
		err = s.payments.Refund(b.StripePaymentIntentID, pricing.Cents(b.TotalAmount))
	} else {
		err = s.payments.CancelAuthorization(b.StripePaymentIntentID)
	}
	if err != nil {
		s.log.WithError(err).WithField("payment_intent", b.StripePaymentIntentID).Error("payment unwind failed")
	}
}

// GetBooking returns a booking to its driver, its guest (by access token)
// or the spot's host.
func (s *BookingService) GetBooking(code, callerID, guestToken string) (*entities.BookingResponse, error) {
	b, err := s.bookings.GetByCode(code)
	if err != nil {
		return nil, err
	}
	spot, err := s.spots.GetSpot(b.SpotID)
	if err != nil {
		return nil, err
	}
	if callerID != spot.HostID {
		if err := s.authorizeDriver(b, callerID, guestToken); err != nil {
			return nil, err
		}
	}
	return toBookingResponse(b), nil
}

// ApproveBooking captures the held authorization. Attempted against a
// booking no longer held, it reports the current state instead of erroring.
func (s *BookingService) ApproveBooking(hostID, code string) (*entities.BookingResponse, error) {
	b, spot, err := s.hostBooking(hostID, code)
	if err != nil {
		return nil, err
	}
	if b.Status != db.StatusHeld {
		return toBookingResponse(b), nil
	}
	if s.now().After(b.CreatedAt.Add(s.approvalWindow)) {
		// Too late: the approval window elapsed, release instead.
		return s.expireHeld(b, spot)
	}

	if err := s.payments.Capture(b.StripePaymentIntentID); err != nil {
		return nil, err
	}
	ok, err := s.bookings.ActivateAndCredit(b.ID, spot.HostID, db.StatusHeld, b.HostEarnings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.currentState(code)
	}
	b.Status = db.StatusActive
	b.Captured = true
	s.notifier.BookingActive(b, spot)
	return toBookingResponse(b), nil
}

// DeclineBooking releases the authorization in full; no funds ever moved.
func (s *BookingService) DeclineBooking(hostID, code string) (*entities.BookingResponse, error) {
	b, spot, err := s.hostBooking(hostID, code)
	if err != nil {
		return nil, err
	}
	if b.Status != db.StatusHeld {
		return toBookingResponse(b), nil
	}

	if err := s.payments.CancelAuthorization(b.StripePaymentIntentID); err != nil {
		return nil, err
	}
	ok, err := s.bookings.MarkCanceled(b.ID, db.StatusHeld, "host_declined", 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.currentState(code)
	}
	b.Status = db.StatusCanceled
	b.CancellationReason = "host_declined"
	s.notifier.BookingCanceled(b, spot, "host declined the request", false)
	return toBookingResponse(b), nil
}

// CancelBooking applies the refund policy. The policy computes an amount;
// whether that becomes a refund or an authorization release depends on the
// payment's actual captured state, which is asked of the authority.
func (s *BookingService) CancelBooking(code, callerID, guestToken string) (*entities.CancelBookingResponse, error) {
	b, err := s.bookings.GetByCode(code)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDriver(b, callerID, guestToken); err != nil {
		return nil, err
	}
	if db.IsTerminal(b.Status) {
		return &entities.CancelBookingResponse{Code: b.Code, Status: b.Status, RefundAmount: b.RefundAmount, RefundReason: b.CancellationReason}, nil
	}
	spot, err := s.spots.GetSpot(b.SpotID)
	if err != nil {
		return nil, err
	}

	outcome := policy.Evaluate(s.now(), b.CreatedAt, b.StartTime, b.TotalAmount)
	refundAmount := 0.0
	reason := outcome.Reason
	charged := false

	if b.StripePaymentIntentID != "" {
		captured, err := s.payments.IsCaptured(b.StripePaymentIntentID)
		if err != nil {
			return nil, err
		}
		charged = captured
		if !captured {
			if err := s.payments.CancelAuthorization(b.StripePaymentIntentID); err != nil {
				return nil, err
			}
			reason = policy.ReasonAuthorizationReleased
		} else if outcome.Amount > 0 {
			if err := s.payments.Refund(b.StripePaymentIntentID, pricing.Cents(outcome.Amount)); err != nil {
				return nil, err
			}
			refundAmount = outcome.Amount
		}
	} else if b.StripeSessionID != "" {
		// Fallback checkout never completed; expire the session so it
		// cannot collect payment after the cancel. A session that raced
		// to completion is unwound by the reconciliation listener.
		if err := s.payments.ExpireCheckoutSession(b.StripeSessionID); err != nil {
			s.log.WithError(err).WithField("booking_code", b.Code).Warn("failed to expire checkout session")
		}
	}

	ok, err := s.bookings.MarkCanceled(b.ID, b.Status, string(reason), refundAmount)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.bookings.GetByCode(code)
		if err != nil {
			return nil, err
		}
		return &entities.CancelBookingResponse{Code: current.Code, Status: current.Status, RefundAmount: current.RefundAmount, RefundReason: current.CancellationReason}, nil
	}
	b.Status = db.StatusCanceled
	b.RefundAmount = refundAmount
	b.CancellationReason = string(reason)
	s.notifier.BookingCanceled(b, spot, string(reason), charged)
	return &entities.CancelBookingResponse{Code: b.Code, Status: db.StatusCanceled, RefundAmount: refundAmount, RefundReason: string(reason)}, nil
}

// ConfirmDeparture completes an active booking. Confirmation earlier than
// 15 minutes before the end time is a validation error; overstay detection
// starts monitoring after the end.
func (s *BookingService) ConfirmDeparture(code, callerID, guestToken string) (*entities.BookingResponse, error) {
	b, err := s.bookings.GetByCode(code)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDriver(b, callerID, guestToken); err != nil {
		return nil, err
	}
	if b.Status != db.StatusActive {
		return toBookingResponse(b), nil
	}
	now := s.now()
	if now.Before(b.EndTime.Add(-departureWindow)) {
		return nil, apperr.New(apperr.KindValidation, "departure can be confirmed no earlier than 15 minutes before the booking end time")
	}

	ok, err := s.bookings.MarkDeparted(b.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.currentState(code)
	}
	b.Status = db.StatusCompleted
	b.DepartedAt = &now
	if spot, err := s.spots.GetSpot(b.SpotID); err == nil {
		s.notifier.BookingCompleted(b, spot)
	}
	return toBookingResponse(b), nil
}

// MessageHost relays a driver/guest message through the notification
// pipeline.
func (s *BookingService) MessageHost(code, callerID, guestToken, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return apperr.New(apperr.KindValidation, "message body must not be empty")
	}
	if len(body) > 2000 {
		return apperr.New(apperr.KindValidation, "message body too long")
	}
	b, err := s.bookings.GetByCode(code)
	if err != nil {
		return err
	}
	if err := s.authorizeDriver(b, callerID, guestToken); err != nil {
		return err
	}
	spot, err := s.spots.GetSpot(b.SpotID)
	if err != nil {
		return err
	}
	s.notifier.GuestMessage(b, spot, body)
	return nil
}

func (s *BookingService) ListHostBookings(hostID string) ([]*entities.BookingResponse, error) {
	bookings, err := s.bookings.ListByHost(hostID)
	if err != nil {
		return nil, err
	}
	resp := make([]*entities.BookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, toBookingResponse(&bookings[i]))
	}
	return resp, nil
}

// ExpireHeldBookings closes out held bookings whose approval window has
// elapsed. Safe to call redundantly or late; each booking is guarded by its
// expected prior status.
func (s *BookingService) ExpireHeldBookings() (int, error) {
	cutoff := s.now().Add(-s.approvalWindow)
	expired, err := s.bookings.HeldOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range expired {
		b := &expired[i]
		spot, err := s.spots.GetSpot(b.SpotID)
		if err != nil {
			s.log.WithError(err).WithField("booking_code", b.Code).Warn("expiry: spot lookup failed")
			continue
		}
		if _, err := s.expireHeld(b, spot); err != nil {
			s.log.WithError(err).WithField("booking_code", b.Code).Warn("expiry: release failed")
			continue
		}
		count++
	}
	return count, nil
}

func (s *BookingService) expireHeld(b *db.Booking, spot *db.Spot) (*entities.BookingResponse, error) {
	if err := s.payments.CancelAuthorization(b.StripePaymentIntentID); err != nil {
		return nil, err
	}
	ok, err := s.bookings.MarkCanceled(b.ID, db.StatusHeld, "approval_window_elapsed", 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.currentState(b.Code)
	}
	b.Status = db.StatusCanceled
	b.CancellationReason = "approval_window_elapsed"
	s.notifier.BookingCanceled(b, spot, "the host did not respond in time", false)
	return toBookingResponse(b), nil
}

func (s *BookingService) hostBooking(hostID, code string) (*db.Booking, *db.Spot, error) {
	b, err := s.bookings.GetByCode(code)
	if err != nil {
		return nil, nil, err
	}
	spot, err := s.spots.GetSpot(b.SpotID)
	if err != nil {
		return nil, nil, err
	}
	if spot.HostID != hostID {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "booking belongs to another host's spot")
	}
	return b, spot, nil
}

func (s *BookingService) authorizeDriver(b *db.Booking, callerID, guestToken string) error {
	if callerID != "" && callerID == b.DriverID {
		return nil
	}
	if b.IsGuest() && guestToken != "" &&
		token.Matches(guestToken, b.AccessTokenHash) &&
		token.ValidAt(s.now(), b.EndTime, db.IsOngoing(b.Status)) {
		return nil
	}
	return apperr.New(apperr.KindUnauthorized, "not allowed to access this booking")
}

func (s *BookingService) currentState(code string) (*entities.BookingResponse, error) {
	b, err := s.bookings.GetByCode(code)
	if err != nil {
		return nil, err
	}
	return toBookingResponse(b), nil
}

func (s *BookingService) resolveContact(driverID string, req entities.CreateBookingRequest) (email, name, phone string, err error) {
	if driverID == "" {
		if req.GuestEmail == "" || req.GuestName == "" {
			return "", "", "", apperr.New(apperr.KindValidation, "guest bookings require guest_name and guest_email")
		}
		return req.GuestEmail, req.GuestName, req.GuestPhone, nil
	}
	u, err := s.users.GetUser(driverID)
	if err != nil {
		return "", "", "", err
	}
	return u.Email, u.Name, u.Phone, nil
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.New(apperr.KindValidation, "start_time and end_time are required")
	}
	if !end.After(start) {
		return apperr.New(apperr.KindValidation, "end_time must be after start_time")
	}
	if end.Sub(start) < 15*time.Minute {
		return apperr.New(apperr.KindValidation, "bookings must be at least 15 minutes long")
	}
	return nil
}

func toBookingResponse(b *db.Booking) *entities.BookingResponse {
	return &entities.BookingResponse{
		Code:       b.Code,
		SpotID:     b.SpotID,
		Status:     b.Status,
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
		EVCharging: b.EVRequested,
		Pricing: pricing.Quote{
			DriverHourlyRate: b.HourlyRate,
			Hours:            b.Hours,
			HostEarnings:     b.HostEarnings,
			Subtotal:         b.Subtotal,
			ServiceFee:       b.ServiceFee,
			EVChargingFee:    b.EVChargingFee,
			Total:            b.TotalAmount,
		},
		RefundAmount:       b.RefundAmount,
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		DepartedAt:         b.DepartedAt,
	}
}

func newBookingCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
