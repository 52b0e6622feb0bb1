package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/model"
)

// Publisher emits domain events to RabbitMQ.  It implements
// booking.EventPublisher.  Each publish dials its own short-lived
// connection: purchase volume is human-scale here and a stateless
// publisher never holds a broken channel across broker restarts.
type Publisher struct {
	url string
	log zerolog.Logger
}

// NewPublisher returns a publisher for the given AMQP URL.
func NewPublisher(url string, log zerolog.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// TicketConfirmed publishes a TicketConfirmedEvent.
func (p *Publisher) TicketConfirmed(ctx context.Context, t *model.Ticket) error {
	return p.publish(ctx, TicketConfirmedQueue, TicketConfirmedEvent{
		TicketID:      t.ID,
		UserID:        t.UserID,
		ShowtimeID:    t.ShowtimeID,
		Seats:         t.Seats,
		TotalCents:    t.TotalCents,
		PaymentMethod: t.PaymentMethod,
		ConfirmedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// OrderCreated publishes an OrderCreatedEvent.
func (p *Publisher) OrderCreated(ctx context.Context, o *model.Order) error {
	return p.publish(ctx, OrderCreatedQueue, OrderCreatedEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		RedeemCode:    o.RedeemCode,
		TotalCents:    o.TotalCents,
		PaymentStatus: string(o.PaymentStatus),
		ItemCount:     len(o.Items),
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// publish declares the durable queue and sends one persistent JSON
// message.  Errors are logged and returned; callers treat publishing
// as best effort.
func (p *Publisher) publish(ctx context.Context, queueName string, event any) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		p.log.Error().Err(err).Str("queue", queueName).Msg("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		p.log.Error().Err(err).Str("queue", queueName).Msg("rabbitmq: publish failed")
	}
	return err
}
