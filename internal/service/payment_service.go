package service

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/refund"

	apperr "curbspot/internal/errors"
)

// PaymentParams describes a single charge or authorization attempt. The
// idempotency key is derived from the booking attempt so a retried request
// after a network timeout cannot double-charge.
type PaymentParams struct {
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Currency        string
	Description     string
	IdempotencyKey  string
}

type PaymentResult struct {
	PaymentIntentID string
	Status          string
	Captured        bool
}

// PaymentProvider is the booking engine's view of the external payment
// authority. The state machine consumes this interface; the Stripe
// implementation is injected at startup.
type PaymentProvider interface {
	EnsureCustomer(email, name string) (string, error)
	// DefaultPaymentMethod returns the customer's first saved card, or ""
	// when none is saved.
	DefaultPaymentMethod(customerID string) (string, error)
	AuthorizeAndCapture(p PaymentParams) (*PaymentResult, error)
	// AuthorizeHold reserves funds with manual capture; nothing moves
	// until Capture or the authorization is canceled.
	AuthorizeHold(p PaymentParams) (*PaymentResult, error)
	Capture(paymentIntentID string) error
	CancelAuthorization(paymentIntentID string) error
	Refund(paymentIntentID string, amountCents int64) error
	IsCaptured(paymentIntentID string) (bool, error)
	// CreateCheckoutSession starts the interactive fallback flow used when
	// an immediate charge is declined or needs additional authentication.
	CreateCheckoutSession(p PaymentParams, customerEmail string) (url, sessionID string, err error)
	// ExpireCheckoutSession invalidates a still-open hosted checkout so it
	// can no longer collect payment for a canceled booking.
	ExpireCheckoutSession(sessionID string) error
}

type StripeProvider struct {
	successURL string
	cancelURL  string
}

func NewStripeProvider(apiKey, successURL, cancelURL string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{successURL: successURL, cancelURL: cancelURL}
}

func (s *StripeProvider) EnsureCustomer(email, name string) (string, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Limit = stripe.Int64(1)
	it := customer.List(listParams)
	for it.Next() {
		c := it.Customer()
		if c != nil && !c.Deleted {
			return c.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", mapStripeError(err, "listing customers")
	}

	c, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	})
	if err != nil {
		return "", mapStripeError(err, "creating customer")
	}
	return c.ID, nil
}

func (s *StripeProvider) DefaultPaymentMethod(customerID string) (string, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	params.Limit = stripe.Int64(1)
	it := paymentmethod.List(params)
	for it.Next() {
		return it.PaymentMethod().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", mapStripeError(err, "listing payment methods")
	}
	return "", nil
}

func (s *StripeProvider) AuthorizeAndCapture(p PaymentParams) (*PaymentResult, error) {
	return s.createIntent(p, false)
}

func (s *StripeProvider) AuthorizeHold(p PaymentParams) (*PaymentResult, error) {
	return s.createIntent(p, true)
}

func (s *StripeProvider) createIntent(p PaymentParams, manualCapture bool) (*PaymentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String(p.Currency),
		Customer:      stripe.String(p.CustomerID),
		PaymentMethod: stripe.String(p.PaymentMethodID),
		Description:   stripe.String(p.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		// Surface 3DS as an error instead of a dangling intent; the
		// caller falls back to the hosted checkout flow.
		ErrorOnRequiresAction: stripe.Bool(true),
	}
	if manualCapture {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	params.SetIdempotencyKey(p.IdempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, mapStripeError(err, "creating payment intent")
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &PaymentResult{PaymentIntentID: pi.ID, Status: string(pi.Status), Captured: true}, nil
	case stripe.PaymentIntentStatusRequiresCapture:
		return &PaymentResult{PaymentIntentID: pi.ID, Status: string(pi.Status), Captured: false}, nil
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return nil, apperr.Newf(apperr.KindRequiresAction, "payment requires additional authentication (intent %s)", pi.ID)
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return nil, apperr.Newf(apperr.KindCardDeclined, "payment method was declined (intent %s)", pi.ID)
	default:
		return nil, apperr.Newf(apperr.KindAuthorityUnavailable, "unexpected payment intent status %s", pi.Status)
	}
}

func (s *StripeProvider) Capture(paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, &stripe.PaymentIntentCaptureParams{})
	if err != nil {
		return mapStripeError(err, "capturing payment intent")
	}
	return nil
}

func (s *StripeProvider) CancelAuthorization(paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	if err != nil {
		return mapStripeError(err, "canceling authorization")
	}
	return nil
}

func (s *StripeProvider) Refund(paymentIntentID string, amountCents int64) error {
	_, err := refund.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountCents),
	})
	if err != nil {
		return mapStripeError(err, "creating refund")
	}
	return nil
}

// IsCaptured asks the authority whether funds actually moved; the refund
// policy amount alone never decides refund-vs-release.
func (s *StripeProvider) IsCaptured(paymentIntentID string) (bool, error) {
	pi, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		return false, mapStripeError(err, "retrieving payment intent")
	}
	return pi.Status == stripe.PaymentIntentStatusSucceeded || pi.AmountReceived > 0, nil
}

func (s *StripeProvider) CreateCheckoutSession(p PaymentParams, customerEmail string) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Description),
					},
					UnitAmount: stripe.Int64(p.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(s.successURL),
		CancelURL:     stripe.String(s.cancelURL),
		CustomerEmail: stripe.String(customerEmail),
	}
	params.SetIdempotencyKey(p.IdempotencyKey + "-checkout")

	sess, err := session.New(params)
	if err != nil {
		return "", "", mapStripeError(err, "creating checkout session")
	}
	return sess.URL, sess.ID, nil
}

func (s *StripeProvider) ExpireCheckoutSession(sessionID string) error {
	_, err := session.Expire(sessionID, &stripe.CheckoutSessionExpireParams{})
	if err != nil {
		return mapStripeError(err, "expiring checkout session")
	}
	return nil
}

// mapStripeError translates authority failures into the error taxonomy so
// callers can distinguish user-recoverable declines from transient outages.
func mapStripeError(err error, context string) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		switch {
		case sErr.Code == "authentication_required":
			return apperr.Wrap(apperr.KindRequiresAction, fmt.Sprintf("%s: additional authentication required", context), err)
		case sErr.Type == stripe.ErrorTypeCard:
			return apperr.Wrap(apperr.KindCardDeclined, fmt.Sprintf("%s: card declined", context), err)
		case sErr.Type == stripe.ErrorTypeInvalidRequest:
			return apperr.Wrap(apperr.KindInternal, fmt.Sprintf("%s: invalid payment request", context), err)
		default:
			return apperr.Wrap(apperr.KindAuthorityUnavailable, fmt.Sprintf("%s: payment authority error", context), err)
		}
	}
	return apperr.Wrap(apperr.KindAuthorityUnavailable, fmt.Sprintf("%s: payment authority unreachable", context), err)
}
