package service

import (
	"github.com/sirupsen/logrus"

	"curbspot/internal/db"
	apperr "curbspot/internal/errors"
	"curbspot/internal/pricing"
)

// Reconciliation applies payment authority events to booking state. Every
// handler is idempotent: redundant and late events resolve to no-ops via
// the expected-prior-status guards, so the authority can redeliver freely.

// ReconcilePaymentSucceeded handles a confirmed capture. For a pending or
// held booking this is the (possibly only) path to active; for an active
// booking whose window already ended it records the settled charge.
func (s *BookingService) ReconcilePaymentSucceeded(paymentIntentID string) error {
	b, err := s.bookings.GetByPaymentIntent(paymentIntentID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			s.log.WithField("payment_intent", paymentIntentID).Info("reconcile: payment event for unknown booking, ignoring")
			return nil
		}
		return err
	}

	switch b.Status {
	case db.StatusPending, db.StatusHeld:
		spot, err := s.spots.GetSpot(b.SpotID)
		if err != nil {
			return err
		}
		ok, err := s.bookings.ActivateAndCredit(b.ID, spot.HostID, b.Status, b.HostEarnings)
		if err != nil {
			return err
		}
		if ok {
			b.Status = db.StatusActive
			b.Captured = true
			s.notifier.BookingActive(b, spot)
		}
	case db.StatusActive:
		if s.now().After(b.EndTime) {
			if _, err := s.bookings.TransitionStatus(b.ID, db.StatusActive, db.StatusPaid); err != nil {
				return err
			}
		}
	case db.StatusCanceled:
		return s.refundOrphanedCapture(b)
	}
	return nil
}

// ReconcilePaymentFailed cancels a booking whose payment definitively
// failed. Terminal bookings are left alone.
func (s *BookingService) ReconcilePaymentFailed(paymentIntentID string) error {
	b, err := s.bookings.GetByPaymentIntent(paymentIntentID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if db.IsTerminal(b.Status) {
		return nil
	}

	ok, err := s.bookings.MarkCanceled(b.ID, b.Status, "payment_failed", 0)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	b.Status = db.StatusCanceled
	b.CancellationReason = "payment_failed"
	if spot, err := s.spots.GetSpot(b.SpotID); err == nil {
		s.notifier.BookingCanceled(b, spot, "payment failed", false)
	}
	return nil
}

// ReconcileCheckoutCompleted activates a booking that went through the
// hosted checkout fallback, attaching the payment intent the session
// produced.
func (s *BookingService) ReconcileCheckoutCompleted(sessionID, paymentIntentID string) error {
	b, err := s.bookings.GetBySessionID(sessionID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			s.log.WithField("session_id", sessionID).Info("reconcile: checkout event for unknown booking, ignoring")
			return nil
		}
		return err
	}

	if paymentIntentID != "" && b.StripePaymentIntentID == "" {
		if err := s.bookings.SetPaymentRefs(b.ID, b.StripeCustomerID, paymentIntentID, sessionID); err != nil {
			return err
		}
		b.StripePaymentIntentID = paymentIntentID
	}

	if b.Status == db.StatusCanceled {
		return s.refundOrphanedCapture(b)
	}
	if b.Status != db.StatusPending {
		return nil
	}
	spot, err := s.spots.GetSpot(b.SpotID)
	if err != nil {
		return err
	}
	ok, err := s.bookings.ActivateAndCredit(b.ID, spot.HostID, db.StatusPending, b.HostEarnings)
	if err != nil {
		return err
	}
	if ok {
		b.Status = db.StatusActive
		b.Captured = true
		s.notifier.BookingActive(b, spot)
	}
	return nil
}

// refundOrphanedCapture returns money captured for a booking that was
// closed out before the capture arrived, e.g. a fallback checkout session
// the guest completed after canceling the booking. Captured=false on a
// canceled booking means the cancel flow never saw these funds; a canceled
// booking that was captured through the normal flow already had its refund
// decided by policy and is left alone.
func (s *BookingService) refundOrphanedCapture(b *db.Booking) error {
	if b.Captured || b.StripePaymentIntentID == "" {
		return nil
	}
	if err := s.payments.Refund(b.StripePaymentIntentID, pricing.Cents(b.TotalAmount)); err != nil {
		return err
	}
	ok, err := s.bookings.TransitionStatus(b.ID, db.StatusCanceled, db.StatusRefunded)
	if err != nil {
		return err
	}
	if ok {
		s.log.WithFields(logrus.Fields{
			"booking_code":   b.Code,
			"payment_intent": b.StripePaymentIntentID,
		}).Warn("reconcile: refunded capture for a canceled booking")
	}
	return nil
}

// ReconcileChargeRefunded records an externally issued refund, e.g. one
// made from the payment dashboard rather than through the API.
func (s *BookingService) ReconcileChargeRefunded(paymentIntentID string) error {
	b, err := s.bookings.GetByPaymentIntent(paymentIntentID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	ok, err := s.bookings.TransitionFromAny(b.ID, []string{db.StatusCanceled, db.StatusActive, db.StatusPaid}, db.StatusRefunded)
	if err != nil {
		return err
	}
	if ok {
		s.log.WithFields(logrus.Fields{
			"booking_code":   b.Code,
			"payment_intent": paymentIntentID,
		}).Info("reconcile: booking marked refunded")
	}
	return nil
}
