package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	t.Run("standard rate", func(t *testing.T) {
		q := Compute(10.00, 2, 0, false)

		assert.Equal(t, 12.00, q.DriverHourlyRate)
		assert.Equal(t, 20.00, q.HostEarnings)
		assert.Equal(t, 24.00, q.Subtotal)
		assert.Equal(t, 4.00, q.ServiceFee)
		assert.Equal(t, 0.00, q.EVChargingFee)
		assert.Equal(t, 28.00, q.Total)
	})

	t.Run("low rate hits minimum upcharge and fee", func(t *testing.T) {
		q := Compute(3.00, 1, 0, false)

		// 20% of $3 is $0.60, below both minimums.
		assert.Equal(t, 4.00, q.DriverHourlyRate)
		assert.Equal(t, 3.00, q.HostEarnings)
		assert.Equal(t, 4.00, q.Subtotal)
		assert.Equal(t, 1.00, q.ServiceFee)
		assert.Equal(t, 5.00, q.Total)
	})

	t.Run("ev charging premium", func(t *testing.T) {
		q := Compute(10.00, 2, 2.50, true)

		assert.Equal(t, 5.00, q.EVChargingFee)
		assert.Equal(t, 33.00, q.Total)
	})

	t.Run("ev premium ignored when not requested", func(t *testing.T) {
		q := Compute(10.00, 2, 2.50, false)

		assert.Equal(t, 0.00, q.EVChargingFee)
		assert.Equal(t, 28.00, q.Total)
	})

	t.Run("fractional hours", func(t *testing.T) {
		q := Compute(8.00, 1.5, 0, false)

		assert.Equal(t, 9.60, q.DriverHourlyRate)
		assert.Equal(t, 12.00, q.HostEarnings)
		assert.Equal(t, 14.40, q.Subtotal)
		assert.Equal(t, 2.40, q.ServiceFee)
		assert.Equal(t, 16.80, q.Total)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Compute(7.77, 3.25, 1.33, true)
		b := Compute(7.77, 3.25, 1.33, true)
		assert.Equal(t, a, b)
	})

	t.Run("total is sum of parts", func(t *testing.T) {
		for _, rate := range []float64{1, 3.33, 9.99, 15, 42.01} {
			q := Compute(rate, 2.5, 1.25, true)
			assert.Equal(t, Round2(q.Subtotal+q.ServiceFee+q.EVChargingFee), q.Total, "rate %v", rate)
		}
	})
}

func TestHours(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 2.00, Hours(start, start.Add(2*time.Hour)))
	assert.Equal(t, 1.50, Hours(start, start.Add(90*time.Minute)))
	assert.Equal(t, 0.25, Hours(start, start.Add(15*time.Minute)))
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(2800), Cents(28.00))
	assert.Equal(t, int64(1999), Cents(19.99))
	assert.Equal(t, int64(5), Cents(0.05))
	// Float drift from repeated arithmetic must not shave a cent.
	assert.Equal(t, int64(3330), Cents(33.3))
}
