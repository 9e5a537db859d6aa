package db

import "time"

// Booking status values. Terminal states are never left once entered.
const (
	StatusPending   = "pending"
	StatusHeld      = "held"
	StatusActive    = "active"
	StatusPaid      = "paid"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusRefunded  = "refunded"
)

// TerminalStatuses lists the soft-terminal booking states.
var TerminalStatuses = []string{StatusCompleted, StatusCanceled, StatusRefunded}

func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsOngoing reports whether a booking status keeps a guest access token
// valid regardless of the booking's end time.
func IsOngoing(status string) bool {
	return status == StatusActive || status == StatusPaid
}

const (
	RoleDriver = "driver"
	RoleHost   = "host"
)

type User struct {
	ID           string
	Email        string
	Phone        string
	Name         string
	PasswordHash string
	Role         string
	Balance      float64
	CreatedAt    time.Time
}

type Spot struct {
	ID          string
	HostID      string
	Name        string
	Address     string
	Lat         float64
	Lng         float64
	HourlyRate  float64
	EVPremium   float64
	InstantBook bool
	Status      string
}

const SpotStatusActive = "active"

// Hold is a short-lived reservation placeholder. Holds do not provide
// mutual exclusion themselves; the atomic availability check at booking
// commit does.
type Hold struct {
	ID          string
	SpotID      string
	RequesterID string
	StartTime   time.Time
	EndTime     time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Booking carries a pricing snapshot frozen at creation time; amounts are
// never recomputed from live spot rates.
type Booking struct {
	ID     string
	Code   string
	SpotID string

	DriverID        string // empty for guest bookings
	GuestName       string
	GuestEmail      string
	GuestPhone      string
	AccessTokenHash string // SHA-256 of the guest access token, empty for account bookings

	StartTime time.Time
	EndTime   time.Time
	Status    string

	HourlyRate    float64 // driver hourly rate at creation
	Hours         float64
	Subtotal      float64
	ServiceFee    float64
	EVChargingFee float64
	TotalAmount   float64
	HostEarnings  float64
	EVRequested   bool

	StripeCustomerID      string
	StripePaymentIntentID string
	StripeSessionID       string
	Captured              bool

	RefundAmount       float64
	CancellationReason string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	DepartedAt *time.Time
}

// IsGuest reports whether the booking was created without an account.
func (b *Booking) IsGuest() bool { return b.DriverID == "" }
