package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"curbspot/internal/service"
)

// StripeWebhookHandler is the reconciliation listener. Stripe redelivers
// events until it sees a 2xx, so handlers return 5xx on transient failure
// and rely on the idempotent reconcile methods to absorb duplicates.
type StripeWebhookHandler struct {
	webhookSecret string
	bookings      *service.BookingService
	log           *logrus.Logger
}

func NewStripeWebhookHandler(webhookSecret string, bookings *service.BookingService, log *logrus.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{webhookSecret: webhookSecret, bookings: bookings, log: log}
}

func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.WithError(err).Warn("webhook: error reading body")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.log.WithError(err).Warn("webhook: signature verification failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.log.WithError(err).Warn("webhook: error parsing payment_intent")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		err = h.bookings.ReconcilePaymentSucceeded(pi.ID)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.log.WithError(err).Warn("webhook: error parsing payment_intent")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		err = h.bookings.ReconcilePaymentFailed(pi.ID)

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil || sess.ID == "" {
			h.log.WithError(err).Warn("webhook: error parsing checkout.session")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		paymentIntentID := ""
		if sess.PaymentIntent != nil {
			paymentIntentID = sess.PaymentIntent.ID
		}
		err = h.bookings.ReconcileCheckoutCompleted(sess.ID, paymentIntentID)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			h.log.WithError(err).Warn("webhook: error parsing charge")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			err = h.bookings.ReconcileChargeRefunded(charge.PaymentIntent.ID)
		}

	default:
		h.log.WithField("type", event.Type).Debug("webhook: ignoring event")
	}

	if err != nil {
		h.log.WithError(err).WithField("type", event.Type).Error("webhook: reconcile failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
