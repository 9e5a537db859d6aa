package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Dispatcher delivers a notification to its recipient over whatever
// channels the recipient has.
type Dispatcher interface {
	SendEmail(to, name, subject, body string) error
	SendSMS(to, body string) error
}

// StartNotificationConsumer consumes the notification queue and dispatches
// each event. It runs a reconnect loop with backoff and only logs handler
// failures; a bad message is rejected without requeue to avoid tight loops.
func StartNotificationConsumer(url string, d Dispatcher, log *logrus.Logger) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).Warnf("notification consumer: dial failed, retrying in %s", backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn, d, log); err != nil {
			log.WithError(err).Warn("notification consumer: consume loop ended, reconnecting")
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection, d Dispatcher, log *logrus.Logger) error {
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(notificationQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(notificationQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for delivery := range msgs {
		if err := dispatch(delivery.Body, d); err != nil {
			log.WithError(err).Warn("notification dispatch failed")
			_ = delivery.Nack(false, false)
			continue
		}
		_ = delivery.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func dispatch(body []byte, d Dispatcher) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	var firstErr error
	if ev.Email != "" {
		if err := d.SendEmail(ev.Email, "", ev.Title, ev.Message); err != nil {
			firstErr = err
		}
	}
	if ev.Phone != "" {
		if err := d.SendSMS(ev.Phone, ev.Title+"\n"+ev.Message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
