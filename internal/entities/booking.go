package entities

import (
	"time"

	"curbspot/internal/pricing"
)

type QuoteRequest struct {
	SpotID     string    `json:"spot_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	EVCharging bool      `json:"ev_charging"`
}

type QuoteResponse struct {
	SpotID  string        `json:"spot_id"`
	Pricing pricing.Quote `json:"pricing"`
}

type AvailabilityRequest struct {
	SpotID    string    `json:"spot_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type AvailabilityResponse struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

type CreateBookingRequest struct {
	SpotID     string    `json:"spot_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	EVCharging bool      `json:"ev_charging"`

	// Guest contact details; required when the request carries no bearer
	// token. Email and phone are also the notification targets for
	// account bookings when provided.
	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
}

type BookingResponse struct {
	Code       string        `json:"code"`
	SpotID     string        `json:"spot_id"`
	Status     string        `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	EVCharging bool          `json:"ev_charging"`
	Pricing    pricing.Quote `json:"pricing"`

	RefundAmount       float64    `json:"refund_amount,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	DepartedAt         *time.Time `json:"departed_at,omitempty"`

	// AccessToken is returned exactly once, on guest booking creation.
	AccessToken string `json:"access_token,omitempty"`
	// CheckoutURL is set when payment needs an interactive step; the
	// client continues there instead of treating the attempt as failed.
	CheckoutURL string `json:"checkout_url,omitempty"`
}

type CancelBookingResponse struct {
	Code         string  `json:"code"`
	Status       string  `json:"status"`
	RefundAmount float64 `json:"refund_amount"`
	RefundReason string  `json:"refund_reason"`
}

type MessageRequest struct {
	Body string `json:"body"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}
