// Package queue defines the notification events exchanged over the message
// broker and their publisher/consumer.
package queue

import "time"

const notificationQueueName = "booking.notifications"

// NotificationEvent is published whenever the booking engine needs to reach
// a host or driver. Dispatch is fire-and-forget: publish or send failures
// are logged, never raised into the request path.
type NotificationEvent struct {
	RecipientID string    `json:"recipient_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	BookingCode string    `json:"booking_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
