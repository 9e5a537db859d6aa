package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"curbspot/internal/db"
	"curbspot/internal/queue"
)

// UserStore is the notifier's view of host/driver contact records.
type UserStore interface {
	GetUser(id string) (*db.User, error)
}

// NotifyService renders the per-status message templates and hands them to
// the queue. Every call is fire-and-forget: failures are logged and the
// booking transition proceeds regardless.
type NotifyService struct {
	publisher *queue.Publisher
	users     UserStore
	log       *logrus.Logger
}

func NewNotifyService(publisher *queue.Publisher, users UserStore, log *logrus.Logger) *NotifyService {
	return &NotifyService{publisher: publisher, users: users, log: log}
}

func (n *NotifyService) BookingActive(b *db.Booking, s *db.Spot) {
	n.toDriver(b, "booking_active",
		"Your parking is confirmed",
		fmt.Sprintf("Booking %s at %s is confirmed from %s to %s. Total charged: $%.2f.",
			b.Code, s.Name, formatTime(b.StartTime), formatTime(b.EndTime), b.TotalAmount))
	n.toHost(b, s, "booking_active",
		"New confirmed booking",
		fmt.Sprintf("Booking %s for %s is confirmed (%s to %s). You earned $%.2f.",
			b.Code, s.Name, formatTime(b.StartTime), formatTime(b.EndTime), b.HostEarnings))
}

func (n *NotifyService) BookingHeld(b *db.Booking, s *db.Spot) {
	n.toDriver(b, "booking_held",
		"Your booking request was sent",
		fmt.Sprintf("Booking %s at %s is awaiting host approval. Your card has been authorized for $%.2f but not charged.",
			b.Code, s.Name, b.TotalAmount))
	n.toHost(b, s, "booking_held",
		"Booking request pending your approval",
		fmt.Sprintf("Booking %s for %s (%s to %s) needs your decision within the hour.",
			b.Code, s.Name, formatTime(b.StartTime), formatTime(b.EndTime)))
}

// BookingCanceled notifies both parties. When charged is false the messages
// explain that no money moved, which matters for declined or expired
// approval requests.
func (n *NotifyService) BookingCanceled(b *db.Booking, s *db.Spot, reason string, charged bool) {
	driverMsg := fmt.Sprintf("Booking %s at %s was canceled (%s).", b.Code, s.Name, reason)
	if !charged {
		driverMsg += " The payment authorization was released and you were not charged."
	} else if b.RefundAmount > 0 {
		driverMsg += fmt.Sprintf(" A refund of $%.2f is on its way.", b.RefundAmount)
	}
	n.toDriver(b, "booking_canceled", "Your booking was canceled", driverMsg)
	n.toHost(b, s, "booking_canceled",
		"A booking was canceled",
		fmt.Sprintf("Booking %s for %s was canceled (%s). No charge was made to the driver.", b.Code, s.Name, reason))
}

func (n *NotifyService) BookingCompleted(b *db.Booking, s *db.Spot) {
	n.toDriver(b, "booking_completed",
		"Thanks for parking with us",
		fmt.Sprintf("Booking %s at %s is complete. See you next time.", b.Code, s.Name))
}

func (n *NotifyService) GuestMessage(b *db.Booking, s *db.Spot, body string) {
	n.toHost(b, s, "guest_message",
		fmt.Sprintf("Message about booking %s", b.Code),
		body)
}

func (n *NotifyService) toDriver(b *db.Booking, eventType, title, message string) {
	ev := queue.NotificationEvent{
		Type:        eventType,
		Title:       title,
		Message:     message,
		BookingCode: b.Code,
		CreatedAt:   time.Now().UTC(),
	}
	if b.IsGuest() {
		ev.Email = b.GuestEmail
		ev.Phone = b.GuestPhone
	} else {
		u, err := n.users.GetUser(b.DriverID)
		if err != nil {
			n.log.WithError(err).WithField("booking_code", b.Code).Warn("notify driver: lookup failed")
			return
		}
		ev.RecipientID = u.ID
		ev.Email = u.Email
		ev.Phone = u.Phone
	}
	n.publish(ev)
}

func (n *NotifyService) toHost(b *db.Booking, s *db.Spot, eventType, title, message string) {
	u, err := n.users.GetUser(s.HostID)
	if err != nil {
		n.log.WithError(err).WithField("booking_code", b.Code).Warn("notify host: lookup failed")
		return
	}
	n.publish(queue.NotificationEvent{
		RecipientID: u.ID,
		Email:       u.Email,
		Phone:       u.Phone,
		Type:        eventType,
		Title:       title,
		Message:     message,
		BookingCode: b.Code,
		CreatedAt:   time.Now().UTC(),
	})
}

func (n *NotifyService) publish(ev queue.NotificationEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.publisher.Publish(ctx, ev); err != nil {
			n.log.WithError(err).WithField("type", ev.Type).Warn("notification publish failed")
		}
	}()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 15:04 MST")
}
