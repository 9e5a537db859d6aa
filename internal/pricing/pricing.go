// Package pricing computes the booking price breakdown. The function is
// pure and deterministic: search-time quoting and booking-time charging call
// the same code and must agree to the cent.
package pricing

import (
	"math"
	"time"
)

const (
	commissionRate = 0.20
	minUpcharge    = 1.00
	minServiceFee  = 1.00
)

// Quote is the full pricing snapshot frozen onto a booking at creation.
type Quote struct {
	DriverHourlyRate float64 `json:"driver_hourly_rate"`
	Hours            float64 `json:"hours"`
	HostEarnings     float64 `json:"host_earnings"`
	Subtotal         float64 `json:"subtotal"`
	ServiceFee       float64 `json:"service_fee"`
	EVChargingFee    float64 `json:"ev_charging_fee"`
	Total            float64 `json:"total_amount"`
}

// Round2 rounds half-up to 2 decimal places. Rounding is applied at every
// intermediate step so search quotes and booking charges cannot drift.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Hours returns the billable duration in fractional hours, rounded to 2
// decimals.
func Hours(start, end time.Time) float64 {
	return Round2(end.Sub(start).Hours())
}

// Compute derives driver price, host earnings and fees from base inputs.
// The driver pays the host rate plus a 20% upcharge (minimum $1/hr); the
// platform fee is 20% of host earnings (minimum $1).
func Compute(hostHourlyRate, hours, evPremium float64, evRequested bool) Quote {
	q := Quote{Hours: hours}
	q.DriverHourlyRate = Round2(hostHourlyRate + math.Max(hostHourlyRate*commissionRate, minUpcharge))
	q.HostEarnings = Round2(hostHourlyRate * hours)
	q.Subtotal = Round2(q.DriverHourlyRate * hours)
	q.ServiceFee = Round2(math.Max(q.HostEarnings*commissionRate, minServiceFee))
	if evRequested {
		q.EVChargingFee = Round2(evPremium * hours)
	}
	q.Total = Round2(q.Subtotal + q.ServiceFee + q.EVChargingFee)
	return q
}

// Cents converts a 2-decimal amount to the payment authority's smallest
// currency unit.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
